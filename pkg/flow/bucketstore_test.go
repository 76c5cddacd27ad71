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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBucketStateStoreWriteSnapshotsAdvancesResumeEpochWithEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := OpenBucketStateStore(ctx, "mem://")
	require.NoError(t, err)
	defer store.Close()

	resume, err := store.ResumeFromEpoch(ctx)
	require.NoError(t, err)
	require.Equal(t, Epoch(0), resume, "no manifests written yet")

	require.NoError(t, store.WriteSnapshots(ctx, []SerializedSnapshot{
		{Step: "sum-step", Key: "a", Epoch: 1, Payload: []byte("one")},
	}))

	// The manifest entry and the resume epoch are written together in one
	// call: a reader must never see the new entry without also seeing the
	// epoch advance, or vice versa.
	snaps, err := store.GetSnaps(ctx, "sum-step")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, []byte("one"), snaps[0].Payload)

	resume, err = store.ResumeFromEpoch(ctx)
	require.NoError(t, err)
	require.Equal(t, Epoch(2), resume, "resume epoch should advance past the written epoch")
}

func TestBucketStateStoreResumeFromEpochIsMinAcrossSteps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := OpenBucketStateStore(ctx, "mem://")
	require.NoError(t, err)
	defer store.Close()

	// step "fast" commits through epoch 5, step "slow" only through epoch 1.
	require.NoError(t, store.WriteSnapshots(ctx, []SerializedSnapshot{
		{Step: "fast", Key: "a", Epoch: 5, Payload: []byte("v5")},
	}))
	require.NoError(t, store.WriteSnapshots(ctx, []SerializedSnapshot{
		{Step: "slow", Key: "a", Epoch: 1, Payload: []byte("v1")},
	}))

	// Resuming must use "slow"'s commit point, not "fast"'s: replaying
	// starting after "fast"'s epoch would silently skip epochs "slow"
	// never durably applied.
	resume, err := store.ResumeFromEpoch(ctx)
	require.NoError(t, err)
	require.Equal(t, Epoch(2), resume)
}

func TestBucketStateStoreTombstoneSuppressesReplay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := OpenBucketStateStore(ctx, "mem://")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.WriteSnapshots(ctx, []SerializedSnapshot{
		{Step: "sum-step", Key: "a", Epoch: 1, Payload: []byte("one")},
	}))
	require.NoError(t, store.WriteSnapshots(ctx, []SerializedSnapshot{
		{Step: "sum-step", Key: "a", Epoch: 2, Payload: nil},
	}))

	snaps, err := store.GetSnaps(ctx, "sum-step")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Nil(t, snaps[0].Payload, "expected key a to be tombstoned")
}
