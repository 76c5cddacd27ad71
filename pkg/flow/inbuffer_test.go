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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInBufferExtendPreservesOrder(t *testing.T) {
	t.Parallel()

	b := NewInBuffer()
	b.Extend(1, []KeyedValue{{Key: "a", Value: NewOpaqueValue(1)}})
	b.Extend(1, []KeyedValue{{Key: "b", Value: NewOpaqueValue(2)}})

	items, ok := b.Remove(1)
	require.True(t, ok, "expected epoch 1 to be present")
	require.Len(t, items, 2)
	require.Equal(t, StateKey("a"), items[0].Key)
	require.Equal(t, StateKey("b"), items[1].Key)
}

func TestInBufferRemoveClears(t *testing.T) {
	t.Parallel()

	b := NewInBuffer()
	b.Extend(1, []KeyedValue{{Key: "a", Value: NewOpaqueValue(1)}})
	_, ok := b.Remove(1)
	require.True(t, ok, "expected first remove to find the epoch")
	_, ok = b.Remove(1)
	require.False(t, ok, "expected second remove to find nothing, buffer should be cleared")
}

func TestInBufferEpochsSorted(t *testing.T) {
	t.Parallel()

	b := NewInBuffer()
	b.Extend(5, []KeyedValue{{Key: "a", Value: NewOpaqueValue(1)}})
	b.Extend(1, []KeyedValue{{Key: "b", Value: NewOpaqueValue(2)}})
	b.Extend(3, []KeyedValue{{Key: "c", Value: NewOpaqueValue(3)}})

	require.Equal(t, []Epoch{1, 3, 5}, b.Epochs())
}

func TestInBufferEmptyExtendIsNoop(t *testing.T) {
	t.Parallel()

	b := NewInBuffer()
	b.Extend(1, nil)
	require.Equal(t, 0, b.Len(), "expected no epochs registered for an empty extend")
}
