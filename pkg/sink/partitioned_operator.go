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
	"sort"

	"github.com/flowforge/flowcore/internal/log"
	"github.com/flowforge/flowcore/pkg/flow"
	"github.com/flowforge/flowcore/pkg/substrate"
)

// InputEvent is what the substrate hands a PartitionedOutputOperator on
// each activation: downstream items (if any) tagged with Epoch, and the
// resulting input frontier after those items.
type InputEvent struct {
	Epoch    flow.Epoch
	Items    []flow.KeyedValue
	Frontier flow.Frontier
}

// PartitionedOutputOperator groups items by partition key, writes each group
// to its partition if this worker is that partition's primary (an item for
// a partition owned by another worker is a RoutingError; routing itself
// happens upstream), and emits a clock tick
// per closed epoch plus a snapshot stream for every written partition. It
// is the write-side counterpart to flow.StatefulBatchOperator: no per-key
// notify timers, no on_eof flush — just write_batch, with snapshot/close
// handled the same way a Logic would be.
type PartitionedOutputOperator struct {
	step  flow.StepID
	state *OutputState

	parts     []flow.StateKey
	partFn    PartFunc
	primaries map[flow.StateKey]flow.WorkerIndex
	self      flow.WorkerIndex

	buffer      *flow.InBuffer
	resumeEpoch flow.Epoch
	frontier    flow.Frontier

	clockCap     *substrate.Capability
	immediateCap *substrate.Capability
	batchCap     *substrate.Capability

	clockOut     chan<- struct{}
	immediateOut chan<- flow.SerializedSnapshot
	batchOut     chan<- flow.SerializedSnapshot
}

// NewPartitionedOutputOperator constructs an operator for step. parts is
// the authoritative, execution-stable partition list; count/self identify
// this worker within the fleet so AssignPrimaries can be computed once.
func NewPartitionedOutputOperator(
	step flow.StepID,
	state *OutputState,
	parts []flow.StateKey,
	partFn PartFunc,
	count flow.WorkerCount,
	self flow.WorkerIndex,
	resumeEpoch flow.Epoch,
	clockOut chan<- struct{},
	immediateOut chan<- flow.SerializedSnapshot,
	batchOut chan<- flow.SerializedSnapshot,
) *PartitionedOutputOperator {
	return &PartitionedOutputOperator{
		step:         step,
		state:        state,
		parts:        parts,
		partFn:       partFn,
		primaries:    AssignPrimaries(parts, count),
		self:         self,
		buffer:       flow.NewInBuffer(),
		resumeEpoch:  resumeEpoch,
		frontier:     flow.NewFrontier(resumeEpoch),
		clockCap:     substrate.NewCapability(resumeEpoch),
		immediateCap: substrate.NewCapability(resumeEpoch),
		batchCap:     substrate.NewCapability(resumeEpoch),
		clockOut:     clockOut,
		immediateOut: immediateOut,
		batchOut:     batchOut,
	}
}

// partitionKey resolves which of op.parts a record key belongs to, via
// partFn modulo the current partition count.
func (op *PartitionedOutputOperator) partitionKey(key flow.StateKey) flow.StateKey {
	idx := op.partFn(key) % len(op.parts)
	if idx < 0 {
		idx += len(op.parts)
	}
	return op.parts[idx]
}

// Run drives the operator's activation loop until the input frontier
// reaches EOF and every output capability is dropped, or ctx is canceled.
// in is closed by the caller once nothing further will arrive; closing in
// without a final EOFFrontier event is treated as EOF. state.Close() is
// always invoked before Run returns, guaranteeing every partition writer
// is released on every exit path.
func (op *PartitionedOutputOperator) Run(ctx context.Context, in <-chan InputEvent) error {
	defer op.state.Close()
	defer close(op.clockOut)
	defer close(op.immediateOut)
	defer close(op.batchOut)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-in:
			if !ok {
				op.frontier = flow.EOFFrontier()
			} else {
				if len(ev.Items) > 0 {
					op.buffer.Extend(ev.Epoch, ev.Items)
				}
				op.frontier = ev.Frontier
			}
			if err := op.activate(ctx); err != nil {
				return err
			}
			if op.clockCap.Dropped() {
				return nil
			}
		}
	}
}

func (op *PartitionedOutputOperator) activate(ctx context.Context) error {
	if op.clockCap.Dropped() {
		return nil
	}

	epochSet := map[flow.Epoch]struct{}{op.clockCap.Epoch(): {}}
	for _, e := range op.buffer.Epochs() {
		epochSet[e] = struct{}{}
	}
	for e := range epochSet {
		if !op.frontier.EpochClosed(e) {
			delete(epochSet, e)
		}
	}
	if !op.frontier.IsEOF() && op.frontier.Epoch() >= op.resumeEpoch {
		epochSet[op.frontier.Epoch()] = struct{}{}
	}
	epochs := make([]flow.Epoch, 0, len(epochSet))
	for e := range epochSet {
		epochs = append(epochs, e)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })

	for _, epoch := range epochs {
		if err := op.clockCap.Downgrade(epoch); err != nil {
			return err
		}
		if err := op.immediateCap.Downgrade(epoch); err != nil {
			return err
		}
		if err := op.batchCap.Downgrade(epoch); err != nil {
			return err
		}

		if err := op.eagerPhase(ctx, epoch); err != nil {
			return err
		}
		if op.frontier.EpochClosed(epoch) {
			if err := op.closingPhase(ctx, epoch); err != nil {
				return err
			}
		}
	}

	if op.frontier.IsEOF() {
		op.clockCap.Drop()
		op.immediateCap.Drop()
		op.batchCap.Drop()
	}
	return nil
}

// eagerPhase groups epoch's buffered items by partition key, writes each
// group, and, in Immediate mode, drains snapshots for partitions touched
// this pass.
func (op *PartitionedOutputOperator) eagerPhase(ctx context.Context, epoch flow.Epoch) error {
	items, ok := op.buffer.Remove(epoch)
	if !ok {
		return nil
	}
	grouped := make(map[flow.StateKey][]flow.OpaqueValue)
	var partKeys []flow.StateKey
	for _, item := range items {
		partKey := op.partitionKey(item.Key)
		if primary, known := op.primaries[partKey]; !known || primary != op.self {
			return &flow.RoutingError{Step: op.step, Key: partKey, Self: op.self}
		}
		if _, seen := grouped[partKey]; !seen {
			partKeys = append(partKeys, partKey)
		}
		grouped[partKey] = append(grouped[partKey], item.Value)
	}
	sort.Slice(partKeys, func(i, j int) bool { return partKeys[i] < partKeys[j] })

	for _, partKey := range partKeys {
		if err := op.state.WriteBatch(partKey, grouped[partKey]); err != nil {
			return err
		}
		log.V(7).Infof("sink: write_batch step=%s partition=%s epoch=%v -> %d item(s)", op.step, partKey, epoch, len(grouped[partKey]))
	}

	if op.state.mode == Immediate {
		snaps, err := op.state.Snapshots(ctx, epoch, true)
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			op.immediateOut <- snap
		}
	}
	return nil
}

// closingPhase emits one clock tick for epoch and, in Batch mode, drains
// snapshots for every partition touched during it.
func (op *PartitionedOutputOperator) closingPhase(ctx context.Context, epoch flow.Epoch) error {
	op.clockOut <- struct{}{}

	if op.state.mode == Batch {
		snaps, err := op.state.Snapshots(ctx, epoch, true)
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			op.batchOut <- snap
		}
	}
	return nil
}
