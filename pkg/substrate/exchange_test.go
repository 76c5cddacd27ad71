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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowcore/pkg/flow"
)

func TestExchangeRoutesEachKeyToItsOwner(t *testing.T) {
	t.Parallel()

	const count = flow.WorkerCount(4)
	ex := NewExchange(count, 8)

	keys := []flow.StateKey{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, k := range keys {
		ex.Send(flow.KeyedValue{Key: k, Value: flow.NewOpaqueValue(string(k))})
	}
	ex.Close()

	for idx := flow.WorkerIndex(0); uint32(idx) < uint32(count); idx++ {
		for item := range ex.For(idx) {
			assert.True(t, flow.Owns(item.Key, idx, count), "item for key %q delivered to worker %d, which does not own it", item.Key, idx)
		}
	}
}

func TestExchangeDeliversExactlyOnceAcrossAllWorkers(t *testing.T) {
	t.Parallel()

	const count = flow.WorkerCount(3)
	ex := NewExchange(count, 16)

	keys := []flow.StateKey{"alpha", "beta", "gamma", "delta", "epsilon"}
	for _, k := range keys {
		ex.Send(flow.KeyedValue{Key: k, Value: flow.NewOpaqueValue(1)})
	}
	ex.Close()

	seen := make(map[flow.StateKey]int)
	for idx := flow.WorkerIndex(0); uint32(idx) < uint32(count); idx++ {
		for item := range ex.For(idx) {
			seen[item.Key]++
		}
	}
	require.Len(t, seen, len(keys), "distinct keys delivered")
	for k, n := range seen {
		assert.Equal(t, 1, n, "key %q delivery count", k)
	}
}
