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

package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/flowforge/flowcore/internal/log"
	"github.com/flowforge/flowcore/pkg/flow"
)

// RunConfig holds everything one worker process needs to attach to a
// dataflow's recovery store and determine where it resumes from. The
// dataflow graph itself — which Logics and Partitions run, how keys are
// exchanged between workers — is supplied by an embedding program; this
// binary's job stops at resolving the store and the resume point, the
// boundary spec's error-handling design assigns to "a higher layer".
type RunConfig struct {
	WorkerIndex  flow.WorkerIndex
	WorkerCount  flow.WorkerCount
	RecoveryURL  string
	SnapshotMode string
	ResumeEpoch  int64 // -1 means: ask the store
}

func newRunCmd() *cobra.Command {
	cfg := &RunConfig{ResumeEpoch: -1}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "attach to a recovery store and report this worker's resume point",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.Uint32Var((*uint32)(&cfg.WorkerIndex), "worker-index", 0, "this worker's ordinal within the fleet")
	flags.Uint32Var((*uint32)(&cfg.WorkerCount), "worker-count", 1, "total number of workers in the fleet")
	flags.StringVar(&cfg.RecoveryURL, "recovery-url", "mem://", "gocloud.dev/blob URL for the recovery store (file:// or mem://)")
	flags.StringVar(&cfg.SnapshotMode, "snapshot-mode", "batch", "snapshot drain mode: immediate or batch")
	flags.Int64Var(&cfg.ResumeEpoch, "resume-epoch", -1, "override the resume epoch instead of asking the recovery store (-1: ask the store)")

	return cmd
}

func runWorker(ctx context.Context, cfg *RunConfig) error {
	runID := uuid.New()
	log.V(1).Infof("flowcore: run %s starting, worker %d/%d, recovery=%s",
		runID, cfg.WorkerIndex, cfg.WorkerCount, cfg.RecoveryURL)

	mode, err := parseSnapshotMode(cfg.SnapshotMode)
	if err != nil {
		return err
	}

	store, err := flow.OpenBucketStateStore(ctx, cfg.RecoveryURL)
	if err != nil {
		return fmt.Errorf("flowcore: opening recovery store %q: %w", cfg.RecoveryURL, err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			log.Warningf("flowcore: closing recovery store: %v", cerr)
		}
	}()

	var resumeEpoch flow.Epoch
	if cfg.ResumeEpoch < 0 {
		resumeEpoch, err = store.ResumeFromEpoch(ctx)
		if err != nil {
			return fmt.Errorf("flowcore: resolving resume epoch: %w", err)
		}
	} else {
		resumeEpoch = flow.Epoch(cfg.ResumeEpoch)
	}

	log.V(1).Infof("flowcore: run %s resolved resume epoch %v, snapshot mode %v", runID, resumeEpoch, mode)
	return nil
}

func parseSnapshotMode(s string) (flow.SnapshotMode, error) {
	switch s {
	case "immediate":
		return flow.Immediate, nil
	case "batch":
		return flow.Batch, nil
	default:
		return 0, fmt.Errorf("flowcore: unknown snapshot mode %q (want immediate or batch)", s)
	}
}
