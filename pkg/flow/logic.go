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

import "time"

// IsComplete tells StatefulBatchState whether the Logic that just ran an
// on_batch/on_notify/on_eof call should be discarded.
type IsComplete int

const (
	// Retain keeps the Logic alive for future activations.
	Retain IsComplete = iota
	// Discard destroys the Logic: its Close method is invoked and it will
	// be rebuilt from scratch the next time its key is seen.
	Discard
)

// Logic is the narrow capability set user code is driven through. It is
// never embedded or subclassed by core types — the operator only ever
// holds a Logic behind this interface, so a foreign-runtime binding can
// implement it as a thin dispatch wrapper over a handle into that runtime
// without the core depending on anything beyond this interface.
type Logic interface {
	// OnBatch processes a batch of values that arrived for this key in one
	// epoch. A returned Discard destroys this Logic after the call.
	OnBatch(values []OpaqueValue) ([]OpaqueValue, IsComplete, error)
	// OnNotify fires for a previously requested wake time that has come
	// due. Takes no input.
	OnNotify() ([]OpaqueValue, IsComplete, error)
	// OnEOF is the final flush, called once when the input frontier
	// closes permanently for this key.
	OnEOF() ([]OpaqueValue, IsComplete, error)
	// NotifyAt returns the next wake time this Logic wants, or ok=false
	// for none.
	NotifyAt() (at time.Time, ok bool)
	// Snapshot returns an arbitrary serializable value capturing this
	// Logic's current state. flowcore never inspects the result beyond
	// handing it to a serializer.
	Snapshot() (any, error)
	// Close releases any resources held by this Logic. Called when the
	// Logic is discarded, including by a Discard returned from OnEOF. A
	// Logic that returns Retain from OnEOF is not closed by the operator,
	// and no other shutdown path calls Close.
	Close() error
}

// Builder constructs a Logic for a key, either lazily on first sight (with
// stateBytes == nil) or eagerly from a resumed snapshot (with stateBytes
// holding the persisted payload). A nil stateBytes and a non-nil empty
// stateBytes are distinct: the latter means "resume from an explicit empty
// snapshot", the former means "brand new key".
type Builder func(stateBytes []byte) (Logic, error)
