// Copyright 2026, Flowforge Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package flow

import "context"

// SerializedSnapshot is the wire record flowing out of the snapshot output:
// a tuple (step_id, state_key, epoch, bytes?). A nil Payload is a
// tombstone: the key was discarded and must not be recreated on resume.
type SerializedSnapshot struct {
	Step    StepID
	Key     StateKey
	Epoch   Epoch
	Payload []byte // nil means tombstone
}

// IsTombstone reports whether this snapshot records a discarded key.
func (s SerializedSnapshot) IsTombstone() bool { return s.Payload == nil }

// PersistedSnapshot is one row of a step's durable resume log, as read back
// by LocalStateStore.GetSnaps: the bytes a Logic was last snapshotted with,
// or nil for a tombstone (do not rebuild the Logic for this key).
type PersistedSnapshot struct {
	Key     StateKey
	Payload []byte
}

// LocalStateStore is the external contract this repo consumes but does not
// define the durability semantics of: a durable log of snapshots, and
// resume-epoch discovery. Two implementations ship here: MemStateStore
// (tests, single-process runs) and BucketStateStore (durable, backed by a
// gocloud.dev/blob bucket).
type LocalStateStore interface {
	// ResumeFromEpoch returns the epoch the dataflow must start at.
	ResumeFromEpoch(ctx context.Context) (Epoch, error)
	// GetSnaps replays the persisted snapshots for step, most-recent per
	// key. A nil Payload in the result means a tombstone: do not rebuild
	// that key's Logic.
	GetSnaps(ctx context.Context, step StepID) ([]PersistedSnapshot, error)
	// WriteSnapshots durably records snaps. Must be atomic per call: a
	// partial write that crashes mid-way must not be observable by a
	// subsequent GetSnaps/ResumeFromEpoch.
	WriteSnapshots(ctx context.Context, snaps []SerializedSnapshot) error
}
