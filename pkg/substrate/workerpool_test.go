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
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolAllSucceed(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	pool := NewWorkerPool(4, cancel)

	const n = 50
	for i := 0; i < n; i++ {
		pool.AddWorker(func() error { return nil })
	}

	require.NoError(t, pool.Wait(true))
	assert.NoError(t, ctx.Err(), "expected context not canceled")
}

func TestWorkerPoolAggregatesEveryError(t *testing.T) {
	t.Parallel()

	_, cancel := context.WithCancel(context.Background())
	pool := NewWorkerPool(4, cancel)

	const n = 20
	want := make([]error, n)
	for i := range want {
		want[i] = fmt.Errorf("task %d failed", i)
		err := want[i]
		pool.AddWorker(func() error { return err })
	}

	got := pool.Wait(true)
	require.Error(t, got, "expected an aggregated error")
	for _, w := range want {
		assert.ErrorIs(t, got, w)
	}
}

func TestWorkerPoolCancelsOnFirstError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	pool := NewWorkerPool(4, cancel)

	boom := errors.New("boom")
	for i := 0; i < 10; i++ {
		i := i
		pool.AddWorker(func() error {
			if i == 3 {
				return boom
			}
			return nil
		})
	}

	err := pool.Wait(true)
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, ctx.Err(), context.Canceled, "expected shared context to be canceled")
}

func TestWorkerPoolDefaultsWorkerCountToGOMAXPROCS(t *testing.T) {
	t.Parallel()

	pool := NewWorkerPool(0, nil)
	assert.Positive(t, cap(pool.sem), "expected a positive default worker count")
}
