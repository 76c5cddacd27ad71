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

import "hash/fnv"

// StateKey is a short, opaque string used both for routing — which worker
// owns a given key — and as the primary key into keyed state. Equality and
// hashing are byte-identical; flowcore never interprets a key's contents.
type StateKey string

// StepID names an operator instance within the dataflow, used to namespace
// keyed state and snapshots so two steps never collide on the same key.
type StepID string

// WorkerIndex is this worker's ordinal within the fleet, in [0, WorkerCount).
type WorkerIndex uint32

// WorkerCount is the total number of workers in the fleet.
type WorkerCount uint32

// OwnerOf returns the worker index that owns key k out of count workers
// total. Ownership is a pure function of the key and the fleet size so
// every worker can answer "is this mine?" independently, without
// coordination — the same property a partition function needs when paired
// with a deterministic primary election over partition keys.
func OwnerOf(k StateKey, count WorkerCount) WorkerIndex {
	if count == 0 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(k))
	return WorkerIndex(h.Sum32() % uint32(count))
}

// Owns reports whether the worker at index idx is the primary for key k.
func Owns(k StateKey, idx WorkerIndex, count WorkerCount) bool {
	if count == 0 {
		return false
	}
	return OwnerOf(k, count) == idx
}
