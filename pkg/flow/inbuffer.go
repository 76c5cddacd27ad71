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

import "sort"

// InBuffer is a per-epoch buffer of out-of-order input items, drained in
// epoch order by the operator that owns it. It is never mutated
// concurrently — the operator driving it runs on a single goroutine, the
// worker's cooperative-scheduling invariant — so no locking is used here.
type InBuffer struct {
	byEpoch map[Epoch][]KeyedValue
}

// NewInBuffer returns an empty InBuffer.
func NewInBuffer() *InBuffer {
	return &InBuffer{byEpoch: make(map[Epoch][]KeyedValue)}
}

// Extend appends items to epoch e's buffer, preserving arrival order
// within the epoch.
func (b *InBuffer) Extend(e Epoch, items []KeyedValue) {
	if len(items) == 0 {
		return
	}
	b.byEpoch[e] = append(b.byEpoch[e], items...)
}

// Remove takes and clears epoch e's buffered items. Returns ok=false if
// nothing was buffered for e.
func (b *InBuffer) Remove(e Epoch) (items []KeyedValue, ok bool) {
	items, ok = b.byEpoch[e]
	if ok {
		delete(b.byEpoch, e)
	}
	return items, ok
}

// Epochs returns the epochs currently holding buffered items, sorted
// ascending so callers can walk them in epoch order.
func (b *InBuffer) Epochs() []Epoch {
	epochs := make([]Epoch, 0, len(b.byEpoch))
	for e := range b.byEpoch {
		epochs = append(epochs, e)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })
	return epochs
}

// Len reports how many epochs currently hold buffered items.
func (b *InBuffer) Len() int { return len(b.byEpoch) }
