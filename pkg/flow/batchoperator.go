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
	"sort"
	"time"

	"github.com/flowforge/flowcore/internal/log"
	"github.com/flowforge/flowcore/pkg/substrate"
)

// DownstreamItem is one (key, value) record emitted downstream at a given
// epoch, re-wrapping the key alongside the value the way output operators
// expect to receive it.
type DownstreamItem struct {
	Epoch Epoch
	Key   StateKey
	Value OpaqueValue
}

// InputEvent is what the substrate hands the operator on each activation:
// items (if any) that arrived tagged with Epoch, and the resulting input
// frontier after those items. A frontier-only advance (no new data) sets
// Items to nil.
type InputEvent struct {
	Epoch    Epoch
	Items    []KeyedValue
	Frontier Frontier
}

// StatefulBatchOperator is the keyed, notification-driven, epoch-ordered
// operator at the core of this runtime. One input, two outputs (downstream
// items and snapshots). Every record arriving on its input must already
// belong to this worker (routing happens upstream, at the substrate
// Exchange); Run's caller is responsible for that invariant — a record
// that reaches the wrong worker is a routing bug, not a recoverable
// condition (see RoutingError).
type StatefulBatchOperator struct {
	step  StepID
	state *StatefulBatchState
	buffer *InBuffer

	resumeEpoch Epoch
	frontier    Frontier

	downstreamCap *substrate.Capability
	snapshotCap   *substrate.Capability

	// Now lets tests substitute a deterministic clock; defaults to
	// time.Now. Exactly one sample is taken per activation, not per key,
	// so every key processed in the same pass sees the same "now".
	Now func() time.Time

	out     chan<- DownstreamItem
	snapOut chan<- SerializedSnapshot
}

// NewStatefulBatchOperator constructs an operator for step, starting both
// output capabilities at resumeEpoch, emitting downstream items on out and
// snapshots on snapOut.
func NewStatefulBatchOperator(
	step StepID,
	state *StatefulBatchState,
	resumeEpoch Epoch,
	out chan<- DownstreamItem,
	snapOut chan<- SerializedSnapshot,
) *StatefulBatchOperator {
	return &StatefulBatchOperator{
		step:          step,
		state:         state,
		buffer:        NewInBuffer(),
		resumeEpoch:   resumeEpoch,
		frontier:      NewFrontier(resumeEpoch),
		downstreamCap: substrate.NewCapability(resumeEpoch),
		snapshotCap:   substrate.NewCapability(resumeEpoch),
		Now:           time.Now,
		out:           out,
		snapOut:       snapOut,
	}
}

// Run drives the operator's activation loop until the input frontier
// reaches EOF and both output capabilities are dropped, or ctx is
// canceled. in is closed by the caller once nothing further will arrive;
// closing in without a final EOFFrontier event is treated as EOF.
func (op *StatefulBatchOperator) Run(ctx context.Context, in <-chan InputEvent) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	defer close(op.out)
	defer close(op.snapOut)

	armTimer := func(now time.Time) {
		delta, ok := op.state.ActivateAfter(now)
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		if ok {
			timer = time.NewTimer(delta)
		}
	}

	var timerC <-chan time.Time
	for {
		if timer != nil {
			timerC = timer.C
		} else {
			timerC = nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-in:
			if !ok {
				op.frontier = EOFFrontier()
			} else {
				if len(ev.Items) > 0 {
					op.buffer.Extend(ev.Epoch, ev.Items)
				}
				op.frontier = ev.Frontier
			}
			if err := op.activate(ctx); err != nil {
				return err
			}
			if op.downstreamCap.Dropped() {
				return nil
			}
			armTimer(op.Now())

		case now := <-timerC:
			if err := op.activate(ctx); err != nil {
				return err
			}
			if op.downstreamCap.Dropped() {
				return nil
			}
			armTimer(now)
		}
	}
}

// activate runs one pass of the activation algorithm: pick the epochs
// ready to process, run each through the batch/notify/EOF phases in order,
// reschedule wake timers, drain snapshots, and drop capabilities at EOF.
func (op *StatefulBatchOperator) activate(ctx context.Context) error {
	// 1. Output-capability guard.
	if op.downstreamCap.Dropped() {
		return nil
	}

	// 3. Select epochs to process.
	epochSet := map[Epoch]struct{}{op.downstreamCap.Epoch(): {}}
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
	epochs := make([]Epoch, 0, len(epochSet))
	for e := range epochSet {
		epochs = append(epochs, e)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })

	now := op.Now()

	for _, epoch := range epochs {
		if err := op.downstreamCap.Downgrade(epoch); err != nil {
			return err
		}
		if err := op.snapshotCap.Downgrade(epoch); err != nil {
			return err
		}

		if err := op.batchPhase(epoch); err != nil {
			return err
		}
		if err := op.notifyPhase(epoch, now); err != nil {
			return err
		}
		if op.frontier.IsEOF() {
			if err := op.eofPhase(epoch); err != nil {
				return err
			}
		}

		op.state.Reschedule(now)

		snaps, err := op.state.Snapshots(ctx, epoch, op.frontier.EpochClosed(epoch))
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			op.snapOut <- snap
		}
	}

	// 6. EOF termination.
	if op.frontier.IsEOF() {
		op.downstreamCap.Drop()
		op.snapshotCap.Drop()
	}
	return nil
}

func (op *StatefulBatchOperator) batchPhase(epoch Epoch) error {
	items, ok := op.buffer.Remove(epoch)
	if !ok {
		return nil
	}
	grouped := make(map[StateKey][]OpaqueValue)
	var keys []StateKey
	for _, item := range items {
		if _, seen := grouped[item.Key]; !seen {
			keys = append(keys, item.Key)
		}
		grouped[item.Key] = append(grouped[item.Key], item.Value)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, key := range keys {
		out, err := op.state.OnBatch(key, grouped[key])
		if err != nil {
			return err
		}
		log.V(7).Infof("flow: on_batch step=%s key=%s epoch=%v -> %d item(s)", op.step, key, epoch, len(out))
		for _, v := range out {
			op.out <- DownstreamItem{Epoch: epoch, Key: key, Value: v}
		}
	}
	return nil
}

func (op *StatefulBatchOperator) notifyPhase(epoch Epoch, now time.Time) error {
	due := op.state.NotifyKeys(now)
	for _, key := range due {
		out, err := op.state.OnNotify(key)
		if err != nil {
			return err
		}
		log.V(7).Infof("flow: on_notify step=%s key=%s epoch=%v -> %d item(s)", op.step, key, epoch, len(out))
		for _, v := range out {
			op.out <- DownstreamItem{Epoch: epoch, Key: key, Value: v}
		}
	}
	return nil
}

func (op *StatefulBatchOperator) eofPhase(epoch Epoch) error {
	keys := op.state.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var discards []StateKey
	for _, key := range keys {
		out, complete, err := op.state.OnEOF(key)
		if err != nil {
			return err
		}
		log.V(7).Infof("flow: on_eof step=%s key=%s epoch=%v -> %d item(s)", op.step, key, epoch, len(out))
		for _, v := range out {
			op.out <- DownstreamItem{Epoch: epoch, Key: key, Value: v}
		}
		if complete == Discard {
			discards = append(discards, key)
		}
	}
	for _, key := range discards {
		if err := op.state.Remove(key); err != nil {
			return err
		}
	}
	return nil
}
