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

package substrate

import (
	"context"
	"runtime"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// WorkerPool runs a stream of tasks with bounded concurrency and aggregates
// their errors, canceling a shared context on the first failure. In this
// repository its caller is sink.OutputState.Close, which closes all of a
// step's partition writers concurrently rather than one at a time.
type WorkerPool struct {
	sem    chan struct{}
	cancel context.CancelFunc

	wg sync.WaitGroup

	mu   sync.Mutex
	errs *multierror.Error
}

// NewWorkerPool returns a pool that runs up to numWorkers tasks at once.
// numWorkers <= 0 uses runtime.GOMAXPROCS(0). cancel, if non-nil, is
// invoked as soon as any task returns an error, so sibling tasks sharing
// that context can stop early.
func NewWorkerPool(numWorkers int, cancel context.CancelFunc) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	return &WorkerPool{
		sem:    make(chan struct{}, numWorkers),
		cancel: cancel,
	}
}

// AddWorker enqueues fn to run on the pool and returns at once; fn's own
// goroutine waits for a free concurrency slot before running it.
func (p *WorkerPool) AddWorker(fn func() error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()

		if err := fn(); err != nil {
			p.mu.Lock()
			p.errs = multierror.Append(p.errs, err)
			p.mu.Unlock()
			if p.cancel != nil {
				p.cancel()
			}
		}
	}()
}

// Wait blocks until every enqueued task has returned, then returns the
// aggregated error, or nil if every task succeeded. cancelOnError is
// reserved for callers that want to distinguish "stop reporting after the
// first error" call sites from "collect everything" ones; the pool itself
// always cancels eagerly in AddWorker so in-flight sibling tasks see
// ctx.Done() as soon as possible.
func (p *WorkerPool) Wait(cancelOnError bool) error {
	_ = cancelOnError
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errs.ErrorOrNil()
}
