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

// Epoch is the monotonically non-decreasing logical timestamp attached to
// every item and every operator capability. Epochs are totally ordered and
// compared numerically.
type Epoch uint64

// String implements fmt.Stringer for readable test failures and logs.
func (e Epoch) String() string {
	return fmt.Sprintf("epoch(%d)", uint64(e))
}

// Less reports whether e sorts strictly before other.
func (e Epoch) Less(other Epoch) bool { return e < other }

// Frontier is the lower bound of epochs that may still arrive at an input.
// An empty frontier (IsEOF() == true) means no more input will ever arrive:
// the input has reached EOF.
type Frontier struct {
	epoch  Epoch
	closed bool
}

// NewFrontier returns an open frontier sitting at epoch e: input at epoch
// e or later may still arrive, input strictly before e may not.
func NewFrontier(e Epoch) Frontier {
	return Frontier{epoch: e}
}

// EOFFrontier returns the empty frontier signaling no further input.
func EOFFrontier() Frontier {
	return Frontier{closed: true}
}

// Epoch returns the frontier's current epoch. Meaningless if IsEOF is true.
func (f Frontier) Epoch() Epoch { return f.epoch }

// IsEOF reports whether this frontier is empty (input exhausted).
func (f Frontier) IsEOF() bool { return f.closed }

// EpochClosed reports whether epoch e can no longer receive input under
// this frontier: true once the frontier has advanced strictly past e, or
// once the input has reached EOF (every epoch is closed at EOF).
func (f Frontier) EpochClosed(e Epoch) bool {
	if f.closed {
		return true
	}
	return f.epoch > e
}
