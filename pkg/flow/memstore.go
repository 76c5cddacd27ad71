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

import (
	"context"
	"sync"
)

// MemStateStore is an in-memory LocalStateStore, used by tests and by
// single-process runs that don't need durability across restarts. It keeps
// the most recent snapshot per (step, key) and the highest epoch any
// snapshot has recorded, mirroring what a durable store would derive its
// resume epoch from.
type MemStateStore struct {
	mu        sync.Mutex
	snaps     map[StepID]map[StateKey][]byte // nil entry == tombstone
	maxEpoch  Epoch
	haveEpoch bool
}

// NewMemStateStore returns an empty store that resumes from epoch 0.
func NewMemStateStore() *MemStateStore {
	return &MemStateStore{snaps: make(map[StepID]map[StateKey][]byte)}
}

func (s *MemStateStore) ResumeFromEpoch(_ context.Context) (Epoch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveEpoch {
		return 0, nil
	}
	return s.maxEpoch + 1, nil
}

func (s *MemStateStore) GetSnaps(_ context.Context, step StepID) ([]PersistedSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, ok := s.snaps[step]
	if !ok {
		return nil, nil
	}
	out := make([]PersistedSnapshot, 0, len(keys))
	for k, payload := range keys {
		out = append(out, PersistedSnapshot{Key: k, Payload: payload})
	}
	return out, nil
}

func (s *MemStateStore) WriteSnapshots(_ context.Context, snaps []SerializedSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snaps {
		keys, ok := s.snaps[snap.Step]
		if !ok {
			keys = make(map[StateKey][]byte)
			s.snaps[snap.Step] = keys
		}
		keys[snap.Key] = snap.Payload
		if !s.haveEpoch || snap.Epoch > s.maxEpoch {
			s.maxEpoch = snap.Epoch
			s.haveEpoch = true
		}
	}
	return nil
}

var _ LocalStateStore = (*MemStateStore)(nil)
