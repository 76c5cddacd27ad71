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

// Package log provides flowcore's leveled logging wrapper. It mirrors the
// V(level).Infof call shape so call sites read the same as the rest of the
// codebase regardless of which operator or store is logging.
package log

import "github.com/golang/glog"

// Level is a verbosity threshold; higher means more detail. Operational
// events (epoch closed, snapshot written) log at V(1); per-key tracing
// (on_batch invoked for key K) logs at V(7), matching the verbosity the
// dataflow journal itself uses for per-step tracing.
type Level glog.Level

// V returns a leveled logger. Logging is filtered by the process's
// -v / -vmodule flags, same as glog itself.
func V(level Level) Verbose {
	return Verbose{v: glog.V(glog.Level(level))}
}

// Verbose is the handle returned by V; it is a value type so `if
// log.V(7).Enabled() { ... }` style guards around expensive formatting
// remain cheap when the level is disabled.
type Verbose struct {
	v glog.Verbose
}

func (v Verbose) Enabled() bool { return bool(v.v) }

func (v Verbose) Infof(format string, args ...any) {
	if v.v {
		glog.Infof(format, args...)
	}
}

// Errorf always logs regardless of verbosity level, matching glog.Errorf.
func Errorf(format string, args ...any) {
	glog.Errorf(format, args...)
}

// Warningf always logs regardless of verbosity level.
func Warningf(format string, args ...any) {
	glog.Warningf(format, args...)
}

// Flush flushes any buffered log entries; call before process exit.
func Flush() {
	glog.Flush()
}
