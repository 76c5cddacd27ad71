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

// Command flowcore attaches a single worker to a flowcore recovery store:
// its run subcommand opens the store, resolves the epoch the worker resumes
// from, and logs it. It does not build or drive any operators; the
// dataflow graph is supplied by an embedding program.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/flowforge/flowcore/internal/log"
)

func main() {
	// glog registers its -v/-logtostderr/-vmodule flags on the standard
	// flag package at init time; fold them into pflag so a single -v works
	// for both cobra's own flags and glog's verbosity gate.
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	root := newRootCmd()
	err := root.Execute()
	log.Flush()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "flowcore",
		Short:         "flowcore runs epoch-based, stateful dataflow workers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	return root
}
