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
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestOwnerOfIsDeterministicAndInRange checks the routing invariant every
// worker relies on without coordination: OwnerOf is a pure function of
// (key, count), and always names a worker that actually exists.
func TestOwnerOfIsDeterministicAndInRange(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		key := StateKey(rapid.StringMatching(`[a-zA-Z0-9_-]{1,16}`).Draw(t, "key"))
		count := WorkerCount(rapid.IntRange(1, 64).Draw(t, "count"))

		first := OwnerOf(key, count)
		second := OwnerOf(key, count)
		require.Equalf(t, first, second, "OwnerOf(%q, %d) is not deterministic", key, count)
		assert.Lessf(t, uint32(first), uint32(count), "OwnerOf(%q, %d) = %d, out of range", key, count, first)

		// Exactly-one-primary: of all workers in [0, count), exactly one
		// reports itself as owning this key.
		owners := 0
		for idx := WorkerIndex(0); uint32(idx) < uint32(count); idx++ {
			if Owns(key, idx, count) {
				owners++
			}
		}
		assert.Equalf(t, 1, owners, "key %q has %d owners among %d workers, want exactly 1", key, owners, count)
	})
}

// TestInBufferEpochsAreAlwaysSortedRegardlessOfInsertionOrder checks the
// epoch-monotonicity invariant at the buffering layer: however epochs
// arrive, Epochs() always reports them ascending.
func TestInBufferEpochsAreAlwaysSortedRegardlessOfInsertionOrder(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		epochs := rapid.SliceOfN(rapid.Uint64Range(0, 1000), 0, 20).Draw(t, "epochs")

		buf := NewInBuffer()
		for _, e := range epochs {
			buf.Extend(Epoch(e), []KeyedValue{{Key: "k", Value: NewOpaqueValue(int(e))}})
		}

		got := buf.Epochs()
		require.Truef(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }),
			"Epochs() returned unsorted result: %v", got)

		want := map[Epoch]struct{}{}
		for _, e := range epochs {
			want[Epoch(e)] = struct{}{}
		}
		assert.Lenf(t, got, len(want), "Epochs() distinct epoch count")
	})
}
