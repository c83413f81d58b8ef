// Copyright 2023 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

package historian

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ifak-eu/mediator/internal/stopper"
)

// Worker serializes every operation against one historian database
// through a single goroutine, matching spec.md §4.3's requirement that
// a database never sees concurrent writers from this process. Callers
// submit WorkItems via Post and await completion through the returned
// Future; the worker itself applies PrioritizeAndCompress to whatever
// is queued before executing the next item.
type Worker struct {
	log          *logrus.Entry
	name         string
	dsn          string
	dialect      Dialect
	readPriority bool

	mu      sync.Mutex
	queue   []queuedItem
	wake    chan struct{}
	store   *channelStore
	started bool
}

// NewWorker constructs a Worker for one historian database. The
// connection is not opened until Run starts. name labels this worker's
// metrics and log lines, typically the configured database name.
func NewWorker(log *logrus.Entry, name string, dialect Dialect, dsn string, readPriority bool) *Worker {
	return &Worker{
		log:          log,
		name:         name,
		dsn:          dsn,
		dialect:      dialect,
		readPriority: readPriority,
		wake:         make(chan struct{}, 1),
	}
}

// Post enqueues item and returns a Future that resolves once it has
// been executed. Post never blocks on execution; it only takes the
// queue lock long enough to append.
func (w *Worker) Post(item WorkItem) *Future {
	wi, future := attachFuture(item)
	w.mu.Lock()
	w.queue = append(w.queue, queuedItem{item: wi, future: future})
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
	return future
}

// attachFuture copies item with a fresh result channel installed,
// since WorkItem values built by callers never populate one directly.
func attachFuture(item WorkItem) (WorkItem, *Future) {
	ch := make(chan result, 1)
	item.result = ch
	return item, &Future{ch: ch}
}

// Run drives the worker's execution loop until ctx is stopping. It is
// meant to be launched via stopper.Context.Go by whoever owns this
// Worker's lifetime (the historian manager).
func (w *Worker) Run(ctx *stopper.Context) error {
	store, err := openChannelStore(w.dialect, w.dsn)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.store = store
	w.started = true
	w.mu.Unlock()
	defer store.close()

	for {
		w.drainQueue(ctx)

		select {
		case <-w.wake:
		case <-ctx.Stopping():
			w.drainQueue(context.Background())
			return nil
		}
	}
}

// drainQueue executes every item currently queued, applying
// PrioritizeAndCompress before each execution so reads jump ahead of a
// backlog of writes and consecutive Appends commit together.
func (w *Worker) drainQueue(ctx context.Context) {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		head, rest, futures := PrioritizeAndCompress(w.queue, w.readPriority)
		if merged := len(futures) - 1; merged > 0 {
			appendCoalesced.WithLabelValues(w.name).Add(float64(merged))
		}
		w.queue = rest
		store := w.store
		queueDepth.WithLabelValues(w.name).Set(float64(len(rest)))
		w.mu.Unlock()

		w.execute(ctx, store, head.item, futures)
	}
}

func (w *Worker) execute(ctx context.Context, store *channelStore, item WorkItem, futures []*Future) {
	start := time.Now()
	var r result
	switch item.Kind {
	case KindAppend:
		errs, err := store.append(ctx, item.Append)
		r = result{errs: errs, err: err}
	case KindReadRaw:
		rows, err := store.readRaw(ctx, item.ReadRaw)
		r = result{rows: rows, err: err}
	case KindCount:
		n, err := store.count(ctx, item.Count)
		r = result{count: n, err: err}
	case KindDeleteInterval:
		err := store.deleteInterval(ctx, item.DeleteInterval)
		r = result{err: err}
	case KindGetLatest:
		ts, err := store.getLatest(ctx, item.GetLatest)
		r = result{ts: ts, err: err}
	case KindModify:
		err := store.modify(ctx, item.Modify)
		r = result{err: err}
	case KindDelete:
		err := store.deleteVariables(ctx, item.Delete)
		r = result{err: err}
	default:
		r = result{}
	}

	workItemDurations.WithLabelValues(w.name, item.Kind.String()).Observe(time.Since(start).Seconds())
	if err := r.err; err != nil {
		workItemErrors.WithLabelValues(w.name, item.Kind.String()).Inc()
		w.log.WithError(err).WithField("kind", item.Kind).Warn("historian work item failed")
	}

	// A coalesced Append batch resolves every merged Future with the
	// same outcome; the per-sample errors recorded in r.errs already
	// indicate which individual samples failed.
	for _, f := range futures {
		if f == nil {
			continue
		}
		select {
		case f.ch <- r:
		default:
		}
	}
}

// Terminate posts a KindTerminate item and waits until the worker has
// executed it. The worker keeps accepting new work and keeps its
// database open afterward; the handle is closed only when Run returns,
// so the caller still has to Stop the owning stopper.Context.
func (w *Worker) Terminate(ctx context.Context) {
	f := w.Post(WorkItem{Kind: KindTerminate})
	_, _ = f.Wait(ctx)
}

// Depth reports the number of items currently queued, for diagnostics
// and the manager's backlog warning.
func (w *Worker) Depth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}
