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

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // registers the file:// scheme
	_ "gocloud.dev/blob/memblob"  // registers the mem:// scheme
	"gocloud.dev/gcerrors"

	"github.com/flowforge/flowcore/internal/log"
)

// BucketStateStore is a durable LocalStateStore backed by a gocloud.dev/blob
// bucket, so the same code resumes from a local directory (file://...), an
// in-memory bucket for tests (mem://), or a cloud object store reachable
// through another gocloud driver registered by the process's main package
// (s3blob, gcsblob, azureblob) — the recovery store is only ever addressed
// by URL, never by a backend-specific client type.
type BucketStateStore struct {
	bucket *blob.Bucket

	mu           sync.Mutex
	manifest     map[StepID]stepManifest // in-memory mirror, source of truth is the bucket
	stepResumeAt map[StepID]Epoch        // this step's resume epoch: one past its highest written snapshot epoch
	loaded       map[StepID]bool
}

type manifestEntry struct {
	Epoch   Epoch  `json:"epoch"`
	Payload []byte `json:"payload,omitempty"` // nil (omitted) => tombstone
}

type stepManifest map[StateKey]manifestEntry

// stepManifestDoc is the single blob written per step per WriteSnapshots
// call: the key entries and the epoch this step resumes from (one past the
// highest epoch it has durably committed), encoded together so one WriteAll either commits both or
// neither. There is deliberately no separate resume-epoch document — a
// second, independently-timed write is exactly what would let a crash
// land between "manifest updated" and "resume epoch advanced", leaving a
// restart replaying an epoch whose effects a step's manifest already
// reflects.
type stepManifestDoc struct {
	ResumeEpoch Epoch        `json:"resume_epoch"`
	Entries     stepManifest `json:"entries"`
}

// OpenBucketStateStore opens (and if necessary creates) the bucket named by
// urlstr — e.g. "file:///var/lib/flowcore/recovery" or "mem://" — and
// returns a BucketStateStore backed by it.
func OpenBucketStateStore(ctx context.Context, urlstr string) (*BucketStateStore, error) {
	bucket, err := blob.OpenBucket(ctx, urlstr)
	if err != nil {
		return nil, &SystemError{Op: "open recovery bucket " + urlstr, Cause: err}
	}
	return &BucketStateStore{
		bucket:       bucket,
		manifest:     make(map[StepID]stepManifest),
		stepResumeAt: make(map[StepID]Epoch),
		loaded:       make(map[StepID]bool),
	}, nil
}

// Close releases the underlying bucket handle.
func (s *BucketStateStore) Close() error {
	return s.bucket.Close()
}

func (s *BucketStateStore) manifestKey(step StepID) string {
	return fmt.Sprintf("steps/%s/manifest.json", step)
}

// loadManifestLocked returns step's entries and the epoch it resumes from,
// decoding both from the single stepManifestDoc blob.
func (s *BucketStateStore) loadManifestLocked(ctx context.Context, step StepID) (stepManifest, Epoch, error) {
	if m, ok := s.manifest[step]; ok && s.loaded[step] {
		return m, s.stepResumeAt[step], nil
	}
	data, err := s.bucket.ReadAll(ctx, s.manifestKey(step))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			m := stepManifest{}
			s.manifest[step] = m
			s.stepResumeAt[step] = 0
			s.loaded[step] = true
			return m, 0, nil
		}
		return nil, 0, &SystemError{Op: "read manifest for step " + string(step), Cause: err}
	}
	var doc stepManifestDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, 0, &SystemError{Op: "decode manifest for step " + string(step), Cause: err}
	}
	if doc.Entries == nil {
		doc.Entries = stepManifest{}
	}
	s.manifest[step] = doc.Entries
	s.stepResumeAt[step] = doc.ResumeEpoch
	s.loaded[step] = true
	return doc.Entries, doc.ResumeEpoch, nil
}

// writeManifestLocked durably commits step's entries and resumeEpoch
// together in a single WriteAll call, so a crash mid-call can never leave
// one durably updated without the other.
func (s *BucketStateStore) writeManifestLocked(ctx context.Context, step StepID, m stepManifest, resumeEpoch Epoch) error {
	data, err := json.Marshal(stepManifestDoc{ResumeEpoch: resumeEpoch, Entries: m})
	if err != nil {
		return &SystemError{Op: "encode manifest for step " + string(step), Cause: err}
	}
	if err := s.bucket.WriteAll(ctx, s.manifestKey(step), data, nil); err != nil {
		return &SystemError{Op: "write manifest for step " + string(step), Cause: err}
	}
	s.manifest[step] = m
	s.stepResumeAt[step] = resumeEpoch
	return nil
}

// ResumeFromEpoch returns the lowest epoch any known step has not yet
// durably committed through: the safe floor to resume the whole worker's
// input from. Each step's own commit point lives inside its own manifest
// blob (see stepManifestDoc), so this never depends on a second write
// racing the first.
func (s *BucketStateStore) ResumeFromEpoch(ctx context.Context) (Epoch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iter := s.bucket.List(&blob.ListOptions{Prefix: "steps/"})
	haveAny := false
	var minEpoch Epoch
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, &SystemError{Op: "list recovery manifests", Cause: err}
		}
		if !strings.HasSuffix(obj.Key, "/manifest.json") {
			continue
		}
		step := StepID(strings.TrimSuffix(strings.TrimPrefix(obj.Key, "steps/"), "/manifest.json"))
		_, resumeEpoch, err := s.loadManifestLocked(ctx, step)
		if err != nil {
			return 0, err
		}
		if !haveAny || resumeEpoch < minEpoch {
			minEpoch = resumeEpoch
			haveAny = true
		}
	}
	if !haveAny {
		return 0, nil
	}
	return minEpoch, nil
}

func (s *BucketStateStore) GetSnaps(ctx context.Context, step StepID) ([]PersistedSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, _, err := s.loadManifestLocked(ctx, step)
	if err != nil {
		return nil, err
	}
	out := make([]PersistedSnapshot, 0, len(m))
	for k, e := range m {
		out = append(out, PersistedSnapshot{Key: k, Payload: e.Payload})
	}
	return out, nil
}

func (s *BucketStateStore) WriteSnapshots(ctx context.Context, snaps []SerializedSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byStep := make(map[StepID][]SerializedSnapshot)
	for _, snap := range snaps {
		byStep[snap.Step] = append(byStep[snap.Step], snap)
	}

	for step, stepSnaps := range byStep {
		m, resumeEpoch, err := s.loadManifestLocked(ctx, step)
		if err != nil {
			return err
		}
		var maxEpoch Epoch
		for _, snap := range stepSnaps {
			m[snap.Key] = manifestEntry{Epoch: snap.Epoch, Payload: snap.Payload}
			if snap.Epoch > maxEpoch {
				maxEpoch = snap.Epoch
			}
		}
		if maxEpoch+1 > resumeEpoch {
			resumeEpoch = maxEpoch + 1
		}
		if err := s.writeManifestLocked(ctx, step, m, resumeEpoch); err != nil {
			return err
		}
		log.V(1).Infof("flow: wrote %d snapshot(s) for step %s, resume epoch now %v", len(stepSnaps), step, resumeEpoch)
	}
	return nil
}

var _ LocalStateStore = (*BucketStateStore)(nil)
