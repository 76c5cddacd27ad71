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

package substrate

import "github.com/flowforge/flowcore/pkg/flow"

// Exchange fans keyed items out to per-worker channels using the
// deterministic ownership function flow.OwnerOf, the in-process analog of
// the exchange channel that key extraction and partitioning route their
// output through on the way to a worker's operators.
type Exchange struct {
	count flow.WorkerCount
	outs  []chan flow.KeyedValue
}

// NewExchange returns an Exchange with one buffered channel per worker.
func NewExchange(count flow.WorkerCount, bufferSize int) *Exchange {
	outs := make([]chan flow.KeyedValue, count)
	for i := range outs {
		outs[i] = make(chan flow.KeyedValue, bufferSize)
	}
	return &Exchange{count: count, outs: outs}
}

// Send routes item to the channel of the worker that owns its key.
func (e *Exchange) Send(item flow.KeyedValue) {
	owner := flow.OwnerOf(item.Key, e.count)
	e.outs[owner] <- item
}

// For returns the receive-only channel feeding worker idx.
func (e *Exchange) For(idx flow.WorkerIndex) <-chan flow.KeyedValue {
	return e.outs[idx]
}

// Close closes every worker's input channel. Call once no more items will
// be sent, mirroring the upstream input reaching EOF.
func (e *Exchange) Close() {
	for _, ch := range e.outs {
		close(ch)
	}
}
