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

// Package substrate is a minimal stand-in for the dataflow substrate the
// spec treats as an external collaborator (frontier/capability tracking,
// exchange channels, scheduling). It exists so pkg/flow and pkg/sink's
// operators are runnable and testable in-process; a real Timely-style
// engine would satisfy the same small surface.
package substrate

import (
	"errors"
	"fmt"

	"github.com/flowforge/flowcore/pkg/flow"
)

// ErrCapabilityDropped is returned by Downgrade once a Capability has been
// dropped.
var ErrCapabilityDropped = errors.New("substrate: capability already dropped")

// Capability is the substrate's token permitting emission at a given
// epoch. Downgrading is the observable commitment "no further output at an
// earlier epoch" and is irreversible: a Capability can never move
// backward, and once dropped it can never be downgraded again.
type Capability struct {
	epoch   flow.Epoch
	dropped bool
}

// NewCapability returns a capability initially held at epoch e.
func NewCapability(e flow.Epoch) *Capability {
	return &Capability{epoch: e}
}

// Epoch returns the epoch this capability currently holds.
func (c *Capability) Epoch() flow.Epoch { return c.epoch }

// Dropped reports whether this capability has been released.
func (c *Capability) Dropped() bool { return c.dropped }

// Downgrade moves the capability forward to epoch e. Downgrading to an
// epoch earlier than the one currently held is a programming error, not a
// recoverable condition.
func (c *Capability) Downgrade(e flow.Epoch) error {
	if c.dropped {
		return ErrCapabilityDropped
	}
	if e < c.epoch {
		return fmt.Errorf("substrate: cannot downgrade capability backward: have %v, want %v", c.epoch, e)
	}
	c.epoch = e
	return nil
}

// Drop releases the capability. Dropping all of an operator's output
// capabilities closes any downstream operator waiting on them.
func (c *Capability) Drop() { c.dropped = true }
