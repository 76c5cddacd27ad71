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

import "github.com/flowforge/flowcore/internal/contract"

// StateStoreCache is the two-level step-id -> state-key -> live-logic-handle
// mapping shared by reference between a StatefulBatchOperator and its
// StatefulBatchState. Access is single-threaded by the worker's cooperative
// scheduling invariant, so this is a plain map guarded by nothing: the
// shared mutability here is a lifetime/aliasing device, not a concurrency
// one, and adding a lock would mask that invariant rather than express it.
type StateStoreCache struct {
	steps map[StepID]map[StateKey]Logic
}

// NewStateStoreCache returns an empty cache.
func NewStateStoreCache() *StateStoreCache {
	return &StateStoreCache{steps: make(map[StepID]map[StateKey]Logic)}
}

// AddStep registers a step. Must precede any Insert for that step.
func (c *StateStoreCache) AddStep(step StepID) {
	if _, ok := c.steps[step]; !ok {
		c.steps[step] = make(map[StateKey]Logic)
	}
}

// Insert replaces any prior entry for (step, key) with logic.
func (c *StateStoreCache) Insert(step StepID, key StateKey, logic Logic) error {
	keys, ok := c.steps[step]
	if !ok {
		return contract.Requiref(false, "insert into unregistered step %s", step)
	}
	keys[key] = logic
	return nil
}

// Get returns the logic for (step, key), if any.
func (c *StateStoreCache) Get(step StepID, key StateKey) (Logic, bool) {
	keys, ok := c.steps[step]
	if !ok {
		return nil, false
	}
	logic, ok := keys[key]
	return logic, ok
}

// ContainsKey reports whether (step, key) has a live logic.
func (c *StateStoreCache) ContainsKey(step StepID, key StateKey) bool {
	_, ok := c.Get(step, key)
	return ok
}

// Remove drops the entry for (step, key), if any, and reports whether one
// was present.
func (c *StateStoreCache) Remove(step StepID, key StateKey) bool {
	keys, ok := c.steps[step]
	if !ok {
		return false
	}
	if _, ok := keys[key]; !ok {
		return false
	}
	delete(keys, key)
	return true
}

// Keys returns every key with a live logic under step, in no particular
// order; callers that need determinism (the operator's phase loops) sort
// the result themselves.
func (c *StateStoreCache) Keys(step StepID) []StateKey {
	keys, ok := c.steps[step]
	if !ok {
		return nil
	}
	out := make([]StateKey, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	return out
}
