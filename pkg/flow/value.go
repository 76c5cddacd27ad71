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

// OpaqueValue is a handle to a user-supplied value. flowcore never inspects
// its contents except to hand it to a Logic callback or to serialize it via
// a Logic's own Snapshot method; the value itself is treated as an opaque
// `any`, one level up from an opaque byte blob on the wire (the host
// binding layer that would convert a wire value to/from this handle is out
// of scope here).
type OpaqueValue struct {
	v any
}

// NewOpaqueValue wraps v as an OpaqueValue.
func NewOpaqueValue(v any) OpaqueValue { return OpaqueValue{v: v} }

// Unwrap returns the underlying value. Callers that need type assertions
// should do so here rather than propagating `any` through the operator.
func (o OpaqueValue) Unwrap() any { return o.v }

// KeyedValue pairs a routed value with the key it belongs to, the shape
// items take on the wire between key extraction, partitioning, and the
// operators that consume them.
type KeyedValue struct {
	Key   StateKey
	Value OpaqueValue
}
