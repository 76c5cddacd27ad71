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

// Package sink implements the partitioned and dynamic output operators:
// the write side of the dataflow, where downstream items are grouped by
// partition key and handed to user-supplied Partition writers.
package sink

import (
	"fmt"
	"sort"

	"github.com/flowforge/flowcore/pkg/flow"
)

// Partition is one writable shard of a sink, built once per (step, partition
// key) pair and reused across every epoch that worker is primary for. The
// three methods mirror Logic's on_batch/snapshot/close but without the
// per-key batch/notify/eof distinction: a partition has no notion of "due
// timers", only "more items arrived".
type Partition interface {
	WriteBatch(values []flow.OpaqueValue) error
	Snapshot() (any, error)
	Close() error
}

// PartFunc deterministically maps a record's key to one of the partitions
// returned by a ListPartsFunc. The core takes the result modulo the current
// partition count; user code is not required to range-check it itself.
type PartFunc func(key flow.StateKey) int

// ListPartsFunc returns the authoritative, execution-stable list of
// partition keys for a sink. Called once per run, at the epoch the run
// resumes from, and broadcast to every worker.
type ListPartsFunc func() []flow.StateKey

// BuildPartFunc constructs (or restores, given non-nil resumeState) the
// Partition for (step, partKey). Called by OutputState.Init for each
// resumed, non-tombstoned partition, and otherwise lazily, the first time a
// worker that is primary for partKey sees a batch destined for it.
type BuildPartFunc func(step flow.StepID, partKey flow.StateKey, resumeState []byte) (Partition, error)

// PartitionListMismatchError reports that a resumed snapshot named a
// partition key absent from the sink's current ListPartsFunc. Partition
// lists are required to be stable across executions; seeing one change is
// treated as a fatal misconfiguration rather than something to paper over.
type PartitionListMismatchError struct {
	Step         flow.StepID
	MissingKey   flow.StateKey
	KnownPartsAt []flow.StateKey
}

func (e *PartitionListMismatchError) Error() string {
	known := make([]string, len(e.KnownPartsAt))
	for i, k := range e.KnownPartsAt {
		known[i] = string(k)
	}
	sort.Strings(known)
	return fmt.Sprintf("step %s: resumed snapshot references partition %q, which is not in the current partition list %v",
		e.Step, e.MissingKey, known)
}

// AssignPrimaries deterministically elects exactly one worker, out of
// count, as primary for each partition key in parts. The mapping depends
// only on the key and the fleet size, so every worker computes the same
// table independently — the same hash-based election flow.OwnerOf uses for
// plain keyed state, applied here to partition identities instead.
func AssignPrimaries(parts []flow.StateKey, count flow.WorkerCount) map[flow.StateKey]flow.WorkerIndex {
	primaries := make(map[flow.StateKey]flow.WorkerIndex, len(parts))
	for _, p := range parts {
		primaries[p] = flow.OwnerOf(p, count)
	}
	return primaries
}

// ValidateResumedPartitions checks that every partition key named in a
// resumed snapshot set is still present in the current ListPartsFunc
// output, returning a PartitionListMismatchError naming the first
// violation found.
func ValidateResumedPartitions(step flow.StepID, resumedKeys []flow.StateKey, currentParts []flow.StateKey) error {
	known := make(map[flow.StateKey]struct{}, len(currentParts))
	for _, p := range currentParts {
		known[p] = struct{}{}
	}
	for _, k := range resumedKeys {
		if _, ok := known[k]; !ok {
			return &PartitionListMismatchError{Step: step, MissingKey: k, KnownPartsAt: currentParts}
		}
	}
	return nil
}
