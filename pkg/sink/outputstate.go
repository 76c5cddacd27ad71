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

package sink

import (
	"bytes"
	"context"
	"encoding/gob"
	"sort"

	"github.com/flowforge/flowcore/internal/contract"
	"github.com/flowforge/flowcore/internal/log"
	"github.com/flowforge/flowcore/pkg/flow"
	"github.com/flowforge/flowcore/pkg/substrate"
)

// SnapshotMode mirrors flow.SnapshotMode: Immediate drains a partition's
// snapshot on every activation that wrote to it; Batch only drains once the
// partition's epoch has closed.
type SnapshotMode = flow.SnapshotMode

const (
	Immediate = flow.Immediate
	Batch     = flow.Batch
)

// OutputState owns everything a PartitionedOutputOperator needs to
// mediate calls into user Partition
// writers for a single step: the live-partition cache, the recovery
// store, the build function, and the set of partitions written to since
// the last snapshot drain. It is the output-side analog of
// flow.StatefulBatchState.
type OutputState struct {
	step      flow.StepID
	store     flow.LocalStateStore // nil: no durability, snapshots are not persisted
	buildPart BuildPartFunc
	mode      SnapshotMode

	parts  map[flow.StateKey]Partition
	awoken map[flow.StateKey]struct{}
}

// NewOutputState constructs the state container for step.
func NewOutputState(step flow.StepID, store flow.LocalStateStore, buildPart BuildPartFunc, mode SnapshotMode) *OutputState {
	return &OutputState{
		step:      step,
		store:     store,
		buildPart: buildPart,
		mode:      mode,
		parts:     make(map[flow.StateKey]Partition),
		awoken:    make(map[flow.StateKey]struct{}),
	}
}

// Init replays resume snapshots from the recovery store, building one
// Partition per persisted, non-tombstoned key. Safe to call with a nil
// store (no-op). currentParts is used to validate that every resumed key
// still names a partition the sink currently knows about.
func (s *OutputState) Init(ctx context.Context, currentParts []flow.StateKey) error {
	if s.store == nil {
		return nil
	}
	snaps, err := s.store.GetSnaps(ctx, s.step)
	if err != nil {
		return &flow.SystemError{Op: "replay resume snapshots for step " + string(s.step), Cause: err}
	}

	resumedKeys := make([]flow.StateKey, 0, len(snaps))
	for _, snap := range snaps {
		resumedKeys = append(resumedKeys, snap.Key)
	}
	if err := ValidateResumedPartitions(s.step, resumedKeys, currentParts); err != nil {
		return err
	}

	for _, snap := range snaps {
		if snap.Payload == nil {
			continue // tombstone: do not recreate this partition
		}
		part, err := s.buildPart(s.step, snap.Key, snap.Payload)
		if err != nil {
			return &flow.UserError{Step: s.step, Key: snap.Key, Method: "build_part", Cause: err}
		}
		s.parts[snap.Key] = part
	}
	return nil
}

func (s *OutputState) partitionFor(partKey flow.StateKey) (Partition, error) {
	if part, ok := s.parts[partKey]; ok {
		return part, nil
	}
	part, err := s.buildPart(s.step, partKey, nil)
	if err != nil {
		return nil, &flow.UserError{Step: s.step, Key: partKey, Method: "build_part", Cause: err}
	}
	s.parts[partKey] = part
	return part, nil
}

// WriteBatch routes values to partKey's Partition, building it lazily if
// this is the first time partKey has been written to. Marks partKey
// awoken.
func (s *OutputState) WriteBatch(partKey flow.StateKey, values []flow.OpaqueValue) error {
	part, err := s.partitionFor(partKey)
	if err != nil {
		return err
	}
	if err := part.WriteBatch(values); err != nil {
		return &flow.UserError{Step: s.step, Key: partKey, Method: "write_batch", Cause: err}
	}
	s.awoken[partKey] = struct{}{}
	return nil
}

// Snap serializes partKey's Partition's Snapshot via gob for epoch e.
func (s *OutputState) Snap(partKey flow.StateKey, epoch flow.Epoch) (flow.SerializedSnapshot, error) {
	part, ok := s.parts[partKey]
	if !ok {
		return flow.SerializedSnapshot{}, contract.Failf("snapshot requested for partition %s with no live writer", partKey)
	}
	value, err := part.Snapshot()
	if err != nil {
		return flow.SerializedSnapshot{}, &flow.UserError{Step: s.step, Key: partKey, Method: "snapshot", Cause: err}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&value); err != nil {
		return flow.SerializedSnapshot{}, &flow.SystemError{Op: "serialize snapshot for partition " + string(partKey), Cause: err}
	}
	return flow.SerializedSnapshot{Step: s.step, Key: partKey, Epoch: epoch, Payload: buf.Bytes()}, nil
}

// Snapshots drains awoken into SerializedSnapshots and writes them to the
// recovery store, when mode is Immediate or when isEpochClosed is true.
func (s *OutputState) Snapshots(ctx context.Context, epoch flow.Epoch, isEpochClosed bool) ([]flow.SerializedSnapshot, error) {
	if s.mode != Immediate && !isEpochClosed {
		return nil, nil
	}
	if len(s.awoken) == 0 {
		return nil, nil
	}

	keys := make([]flow.StateKey, 0, len(s.awoken))
	for k := range s.awoken {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	snaps := make([]flow.SerializedSnapshot, 0, len(keys))
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
			return nil, &flow.SystemError{Op: "write snapshots for step " + string(s.step), Cause: err}
		}
	}
	return snaps, nil
}

// Close releases every live partition concurrently, via a WorkerPool, and
// logs (rather than fails on) any individual close error — mirrors the
// guaranteed-release behavior DynamicOutputOperator requires on every exit
// path, but fanned out since a partitioned sink may hold many writers.
func (s *OutputState) Close() {
	pool := substrate.NewWorkerPool(0, nil)
	for k, part := range s.parts {
		k, part := k, part
		pool.AddWorker(func() error {
			if err := part.Close(); err != nil {
				log.Warningf("sink: close failed for step %s partition %s: %v", s.step, k, err)
			}
			return nil
		})
	}
	_ = pool.Wait(false)
}
