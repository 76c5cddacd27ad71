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
	"bytes"
	"context"
	"encoding/gob"
	"sort"
	"time"

	"github.com/flowforge/flowcore/internal/contract"
	"github.com/flowforge/flowcore/internal/log"
)

// SnapshotMode selects when a key's snapshot is drained out of awoken:
// Immediate drains on every activation that touched the key; Batch only
// drains once the key's epoch has closed.
type SnapshotMode int

const (
	// Immediate drains awoken keys every activation, regardless of epoch
	// closure.
	Immediate SnapshotMode = iota
	// Batch drains awoken keys only once their epoch is closed.
	Batch
)

// StatefulBatchState owns everything a StatefulBatchOperator needs to
// mediate calls into user Logic for a single step: the live-logic cache,
// the durable recovery store, the lazy-construction Builder, the derived
// (never-snapshotted) wake schedule, and the set of keys mutated since the
// last snapshot drain.
type StatefulBatchState struct {
	step    StepID
	cache   *StateStoreCache
	store   LocalStateStore // nil: no durability, snapshots are not persisted
	builder Builder
	mode    SnapshotMode

	// schedCache is a derived cache of each logic's last NotifyAt result.
	// It is never snapshotted: a logic that wants its wake time to survive
	// a restart is expected to persist it inside its own snapshotted state.
	schedCache map[StateKey]time.Time
	// awoken holds keys mutated in the current processing window; it is
	// cleared only by Snapshots, never directly by a phase.
	awoken map[StateKey]struct{}
}

// NewStatefulBatchState constructs the state container for step, wiring it
// to cache (shared with the owning operator) and store (may be nil).
func NewStatefulBatchState(step StepID, cache *StateStoreCache, store LocalStateStore, builder Builder, mode SnapshotMode) *StatefulBatchState {
	cache.AddStep(step)
	return &StatefulBatchState{
		step:       step,
		cache:      cache,
		store:      store,
		builder:    builder,
		mode:       mode,
		schedCache: make(map[StateKey]time.Time),
		awoken:     make(map[StateKey]struct{}),
	}
}

// Init replays resume snapshots from the recovery store by calling builder
// once per persisted, non-tombstoned key. Safe to call with a nil store
// (no-op).
func (s *StatefulBatchState) Init(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	snaps, err := s.store.GetSnaps(ctx, s.step)
	if err != nil {
		return &SystemError{Op: "replay resume snapshots for step " + string(s.step), Cause: err}
	}
	for _, snap := range snaps {
		if snap.Payload == nil {
			// Tombstone: do not recreate this key's logic.
			continue
		}
		logic, err := s.builder(snap.Payload)
		if err != nil {
			return &UserError{Step: s.step, Key: snap.Key, Method: "constructor", Cause: err}
		}
		if err := s.cache.Insert(s.step, snap.Key, logic); err != nil {
			return &SystemError{Op: "insert resumed logic for key " + string(snap.Key), Cause: err}
		}
	}
	return nil
}

func (s *StatefulBatchState) logicFor(key StateKey) (Logic, error) {
	if logic, ok := s.cache.Get(s.step, key); ok {
		return logic, nil
	}
	logic, err := s.builder(nil)
	if err != nil {
		return nil, &UserError{Step: s.step, Key: key, Method: "constructor", Cause: err}
	}
	if err := s.cache.Insert(s.step, key, logic); err != nil {
		return nil, &SystemError{Op: "insert new logic for key " + string(key), Cause: err}
	}
	return logic, nil
}

// OnBatch invokes key's logic's OnBatch, building the logic lazily if this
// is the first time key has been seen. Adds key to awoken.
func (s *StatefulBatchState) OnBatch(key StateKey, values []OpaqueValue) ([]OpaqueValue, error) {
	logic, err := s.logicFor(key)
	if err != nil {
		return nil, err
	}
	s.awoken[key] = struct{}{}

	out, complete, err := logic.OnBatch(values)
	if err != nil {
		return nil, &UserError{Step: s.step, Key: key, Method: "on_batch", Cause: err}
	}
	if complete == Discard {
		if err := s.Remove(key); err != nil {
			return out, err
		}
	}
	return out, nil
}

// OnNotify invokes key's logic's OnNotify for a due timer.
func (s *StatefulBatchState) OnNotify(key StateKey) ([]OpaqueValue, error) {
	logic, ok := s.cache.Get(s.step, key)
	if !ok {
		return nil, contract.Failf("on_notify fired for key %s with no live logic", key)
	}
	s.awoken[key] = struct{}{}

	out, complete, err := logic.OnNotify()
	if err != nil {
		return nil, &UserError{Step: s.step, Key: key, Method: "on_notify", Cause: err}
	}
	if complete == Discard {
		if err := s.Remove(key); err != nil {
			return out, err
		}
	}
	return out, nil
}

// OnEOF invokes key's logic's OnEOF, the final flush. Returns whether the
// logic asked to be discarded; the caller (the operator) applies the
// remove after finishing its walk over all keys, so iteration over
// s.cache.Keys isn't invalidated mid-walk.
func (s *StatefulBatchState) OnEOF(key StateKey) ([]OpaqueValue, IsComplete, error) {
	logic, ok := s.cache.Get(s.step, key)
	if !ok {
		return nil, Retain, contract.Failf("on_eof fired for key %s with no live logic", key)
	}
	s.awoken[key] = struct{}{}

	out, complete, err := logic.OnEOF()
	if err != nil {
		return nil, Retain, &UserError{Step: s.step, Key: key, Method: "on_eof", Cause: err}
	}
	return out, complete, nil
}

// NotifyAt returns the next wake timestamp key's logic wants. Per the
// spec's resolved open question, a key with no live logic (already
// discarded) returns ok=false rather than erroring. The operator's
// reschedule phase reaches this case routinely: Remove leaves a discarded
// key in awoken (so its tombstone is snapshotted), and Reschedule visits
// every key in awoken.
func (s *StatefulBatchState) NotifyAt(key StateKey) (time.Time, bool) {
	logic, ok := s.cache.Get(s.step, key)
	if !ok {
		return time.Time{}, false
	}
	at, ok := logic.NotifyAt()
	if !ok {
		return time.Time{}, false
	}
	return at, true
}

// Schedule records ts as the last value returned by key's logic's
// NotifyAt.
func (s *StatefulBatchState) Schedule(key StateKey, ts time.Time) {
	s.schedCache[key] = ts
}

// NotifyKeys returns every key whose scheduled time is at or before now,
// sorted for determinism.
func (s *StatefulBatchState) NotifyKeys(now time.Time) []StateKey {
	var due []StateKey
	for k, ts := range s.schedCache {
		if !ts.After(now) {
			due = append(due, k)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })
	return due
}

// ActivateAfter returns the minimum non-negative delta from now to any
// scheduled time (0 for a time already due), and ok=false if nothing is
// scheduled at all.
func (s *StatefulBatchState) ActivateAfter(now time.Time) (delta time.Duration, ok bool) {
	for _, ts := range s.schedCache {
		d := ts.Sub(now)
		if d < 0 {
			d = 0
		}
		if !ok || d < delta {
			delta, ok = d, true
		}
	}
	return delta, ok
}

// Reschedule implements the operator's reschedule phase: for every key
// currently in awoken, call NotifyAt and, if it returns a timestamp, update
// schedCache; if it returns none, drop the key's schedCache entry so a
// fired wake does not fire again. Does not touch awoken itself — only
// Snapshots drains it.
func (s *StatefulBatchState) Reschedule(now time.Time) {
	keys := make([]StateKey, 0, len(s.awoken))
	for k := range s.awoken {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		if at, ok := s.NotifyAt(k); ok {
			s.Schedule(k, at)
		} else {
			delete(s.schedCache, k)
		}
	}
}

// Remove destroys key's logic: invokes Close, drops it from the cache, and
// drops its schedCache entry. It leaves key in awoken, so the next drain by
// Snapshots records a tombstone for it (Snap of a key with no live logic).
func (s *StatefulBatchState) Remove(key StateKey) error {
	logic, ok := s.cache.Get(s.step, key)
	if ok {
		if err := logic.Close(); err != nil {
			log.Warningf("flow: close failed for step %s key %s: %v", s.step, key, err)
		}
	}
	s.cache.Remove(s.step, key)
	delete(s.schedCache, key)
	return nil
}

// Snap serializes key's logic's Snapshot via gob into bytes for epoch e. A
// key with no live logic produces a tombstone (nil payload).
func (s *StatefulBatchState) Snap(key StateKey, epoch Epoch) (SerializedSnapshot, error) {
	logic, ok := s.cache.Get(s.step, key)
	if !ok {
		return SerializedSnapshot{Step: s.step, Key: key, Epoch: epoch, Payload: nil}, nil
	}
	value, err := logic.Snapshot()
	if err != nil {
		return SerializedSnapshot{}, &UserError{Step: s.step, Key: key, Method: "snapshot", Cause: err}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&value); err != nil {
		return SerializedSnapshot{}, &SystemError{Op: "serialize snapshot for key " + string(key), Cause: err}
	}
	return SerializedSnapshot{Step: s.step, Key: key, Epoch: epoch, Payload: buf.Bytes()}, nil
}

// Snapshots drains awoken into SerializedSnapshots and writes them to the
// recovery store, when mode is Immediate or when isEpochClosed is true.
// Keys not drained this call remain in awoken for a later call to pick up
// (Batch mode, mid-epoch).
func (s *StatefulBatchState) Snapshots(ctx context.Context, epoch Epoch, isEpochClosed bool) ([]SerializedSnapshot, error) {
	if s.mode != Immediate && !isEpochClosed {
		return nil, nil
	}
	if len(s.awoken) == 0 {
		return nil, nil
	}

	keys := make([]StateKey, 0, len(s.awoken))
	for k := range s.awoken {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	snaps := make([]SerializedSnapshot, 0, len(keys))
	for _, k := range keys {
		snap, err := s.Snap(k, epoch)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
		delete(s.awoken, k)
	}

	if s.store != nil {
		if err := s.store.WriteSnapshots(ctx, snaps); err != nil {
			return nil, &SystemError{Op: "write snapshots for step " + string(s.step), Cause: err}
		}
	}
	return snaps, nil
}

// Keys returns every key currently holding a live logic, unsorted; callers
// that need determinism sort the result.
func (s *StatefulBatchState) Keys() []StateKey {
	return s.cache.Keys(s.step)
}
