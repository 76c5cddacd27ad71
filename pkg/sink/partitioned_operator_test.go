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
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowcore/pkg/flow"
)

// fakePartition records every batch it's handed, in order.
type fakePartition struct {
	mu      sync.Mutex
	batches [][]flow.OpaqueValue
	closed  bool
}

func (p *fakePartition) WriteBatch(values []flow.OpaqueValue) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, values)
	return nil
}

func (p *fakePartition) Snapshot() (any, error) { return len(p.batches), nil }

func (p *fakePartition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// TestAssignPrimariesElectsExactlyOnePerPartition exercises the
// two-partition, two-worker election: every partition gets exactly one
// primary, that primary is a valid worker index, and the table is the same
// when computed again.
func TestAssignPrimariesElectsExactlyOnePerPartition(t *testing.T) {
	t.Parallel()

	parts := []flow.StateKey{"p0", "p1"}
	primaries := AssignPrimaries(parts, 2)

	require.Len(t, primaries, 2, "expected a primary for every partition")
	seen := map[flow.WorkerIndex]int{}
	for _, p := range parts {
		owner, ok := primaries[p]
		require.True(t, ok, "partition %s has no assigned primary", p)
		seen[owner]++
	}
	// With 2 partitions and 2 workers, a hash-based election need not
	// split them 1/1, but every assigned owner must be a valid worker
	// index and the mapping must be a pure function of (key, count).
	for owner := range seen {
		assert.Less(t, owner, flow.WorkerIndex(2), "primary out of range for 2 workers")
	}
	again := AssignPrimaries(parts, 2)
	for _, p := range parts {
		assert.Equal(t, primaries[p], again[p], "AssignPrimaries is not deterministic for partition %s", p)
	}
}

// TestPartitionedOutputOperatorRoutesToOwnedPartitionOnly runs the operator
// as the worker that owns every partition in a single-worker fleet and
// checks that items route to the right partition, that each closed epoch
// (the resume epoch 0 and the data epoch 1) emits one clock tick, and that
// closing epoch 1 drains a batch-mode snapshot per written partition.
func TestPartitionedOutputOperatorRoutesToOwnedPartitionOnly(t *testing.T) {
	t.Parallel()

	parts := []flow.StateKey{"p0", "p1"}
	partFn := func(key flow.StateKey) int {
		if key == "a" {
			return 0
		}
		return 1
	}

	written := map[flow.StateKey]*fakePartition{}
	var mu sync.Mutex
	buildPart := func(step flow.StepID, partKey flow.StateKey, resumeState []byte) (Partition, error) {
		mu.Lock()
		defer mu.Unlock()
		p := &fakePartition{}
		written[partKey] = p
		return p, nil
	}

	state := NewOutputState("out-step", nil, buildPart, Batch)
	clockOut := make(chan struct{}, 16)
	immediateOut := make(chan flow.SerializedSnapshot, 16)
	batchOut := make(chan flow.SerializedSnapshot, 16)

	op := NewPartitionedOutputOperator("out-step", state, parts, partFn, 1, 0, 0, clockOut, immediateOut, batchOut)

	in := make(chan InputEvent)
	errCh := make(chan error, 1)
	go func() { errCh <- op.Run(context.Background(), in) }()

	var snaps []flow.SerializedSnapshot
	var ticks int
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for range immediateOut {
		}
	}()
	go func() {
		defer wg.Done()
		for s := range batchOut {
			snaps = append(snaps, s)
		}
	}()
	go func() {
		defer wg.Done()
		for range clockOut {
			ticks++
		}
	}()

	in <- InputEvent{
		Epoch: 1,
		Items: []flow.KeyedValue{
			{Key: "a", Value: flow.NewOpaqueValue(1)},
			{Key: "b", Value: flow.NewOpaqueValue(2)},
		},
		Frontier: flow.NewFrontier(1),
	}
	close(in)

	require.NoError(t, <-errCh)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, written["p0"].batches, 1, "expected key a to route to p0")
	require.Len(t, written["p0"].batches[0], 1)
	require.Len(t, written["p1"].batches, 1, "expected key b to route to p1")
	require.Len(t, written["p1"].batches[0], 1)
	assert.Equal(t, 2, ticks, "expected one clock tick per closed epoch (0 and 1)")
	assert.Len(t, snaps, 2, "expected a batch-mode snapshot for each written partition")
	assert.True(t, written["p0"].closed && written["p1"].closed, "expected every partition to be closed when Run exits")
}

// TestValidateResumedPartitionsRejectsUnknownPartition exercises the
// misconfiguration scenario: a resumed snapshot names a partition key that
// the current ListPartsFunc no longer reports.
func TestValidateResumedPartitionsRejectsUnknownPartition(t *testing.T) {
	t.Parallel()

	err := ValidateResumedPartitions("out-step", []flow.StateKey{"p0", "p2"}, []flow.StateKey{"p0", "p1"})
	require.Error(t, err, "expected an error for a resumed partition absent from the current list")

	var mismatch *PartitionListMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, flow.StateKey("p2"), mismatch.MissingKey)

	msg := mismatch.Error()
	assert.Contains(t, msg, "p0")
	assert.Contains(t, msg, "p1")
}
