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

import "fmt"

// TypeError indicates a Logic (or Sink) implementation violated its
// contract: a wrong-shaped return value from on_batch/on_notify/on_eof, a
// non-string key, a non-datetime from notify_at. It is always fatal — the
// dataflow cannot safely continue once a user object's shape cannot be
// trusted.
type TypeError struct {
	Step StepID
	Key  StateKey
	Msg  string
}

func (e *TypeError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("type error in step %s: %s", e.Step, e.Msg)
	}
	return fmt.Sprintf("type error in step %s for key %s: %s", e.Step, e.Key, e.Msg)
}

// UserError wraps a panic or error value a user callback raised, tagged
// with the method, step, and key that were active when it happened.
type UserError struct {
	Step   StepID
	Key    StateKey
	Method string
	Cause  error
}

func (e *UserError) Error() string {
	return fmt.Sprintf("error calling %s in step %s for key %s: %v", e.Method, e.Step, e.Key, e.Cause)
}

func (e *UserError) Unwrap() error { return e.Cause }

// SystemError indicates a state-store I/O failure or a serialization
// failure — anything below the user-logic boundary going wrong.
type SystemError struct {
	Op    string
	Cause error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("system error during %s: %v", e.Op, e.Cause)
}

func (e *SystemError) Unwrap() error { return e.Cause }

// RoutingError indicates a record arrived at a worker that is not its
// key's (or partition's) primary. This is an assertion failure, not a
// recoverable condition: it means the partition table or key-exchange
// routing disagrees with the operator's own ownership computation.
type RoutingError struct {
	Step StepID
	Key  StateKey
	Self WorkerIndex
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing assertion failed in step %s: key %s routed to worker %d, which is not its primary",
		e.Step, e.Key, e.Self)
}
