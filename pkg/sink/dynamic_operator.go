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

	"github.com/flowforge/flowcore/internal/log"
	"github.com/flowforge/flowcore/pkg/flow"
)

// DynamicOutputOperator is a stateless sink with exactly one Partition per
// worker, built once at startup. Unlike PartitionedOutputOperator there is
// no partition routing, no primary election, and no snapshotting: each
// worker just writes every batch it sees to its own partition in line, and
// the partition is guaranteed to be closed on every exit path — normal
// completion, context cancellation, or a write error.
type DynamicOutputOperator struct {
	step flow.StepID
	part Partition
}

// NewDynamicOutputOperator constructs an operator for step, writing every
// batch to part. There is exactly one partition per worker, built once by
// the caller, so there is no lazy construction or routing to do here.
func NewDynamicOutputOperator(step flow.StepID, part Partition) *DynamicOutputOperator {
	return &DynamicOutputOperator{step: step, part: part}
}

// Run writes every batch that arrives on in to the operator's partition,
// in line, until in is closed or ctx is canceled. The partition is always
// closed before Run returns.
func (op *DynamicOutputOperator) Run(ctx context.Context, in <-chan InputEvent) (err error) {
	defer func() {
		if cerr := op.part.Close(); cerr != nil {
			log.Warningf("sink: close failed for dynamic step %s: %v", op.step, cerr)
			if err == nil {
				err = &flow.UserError{Step: op.step, Method: "close", Cause: cerr}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-in:
			if !ok {
				return nil
			}
			if len(ev.Items) == 0 {
				continue
			}
			values := make([]flow.OpaqueValue, len(ev.Items))
			for i, item := range ev.Items {
				values[i] = item.Value
			}
			if err := op.part.WriteBatch(values); err != nil {
				return &flow.UserError{Step: op.step, Method: "write_batch", Cause: err}
			}
			log.V(7).Infof("sink: write_batch step=%s (dynamic) epoch=%v -> %d item(s)", op.step, ev.Epoch, len(values))
		}
	}
}
