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

// Package stopper provides the single scheduling primitive used by all
// three concurrency domains in spec.md §5: the supervisor's logical
// execution context, each module's single-thread runner, and each
// historian worker's dedicated thread. A *Context owns a generation of
// goroutines started with Go, can be asked to wind down gracefully
// with Stopping, and reports completion of that wind-down through
// Stopped.
package stopper

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Context wraps a context.Context with cooperative shutdown: Stopping
// is closed first so that goroutines can finish in-flight work, and
// the embedded context.Context is canceled only once every registered
// goroutine has returned (or the caller's deadline runs out).
type Context struct {
	context.Context

	cancel func()

	mu struct {
		sync.Mutex
		stopping chan struct{}
		stopOnce sync.Once
		err      error
	}
	wg sync.WaitGroup
}

// WithContext returns a new *Context whose cancellation is derived from
// parent.
func WithContext(parent context.Context) *Context {
	ctx, cancel := context.WithCancel(parent)
	ret := &Context{Context: ctx, cancel: cancel}
	ret.mu.stopping = make(chan struct{})
	return ret
}

// Go starts fn in a new goroutine tracked by the Context. The Context
// will not be considered Stopped until every goroutine started this way
// has returned. If fn returns a non-nil error, it is recorded and
// available from Wait; the first error wins.
func (c *Context) Go(fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(); err != nil {
			c.mu.Lock()
			if c.mu.err == nil {
				c.mu.err = err
			}
			c.mu.Unlock()
		}
	}()
}

// Stopping returns a channel that is closed once Stop has been called.
// Long-running goroutines should select on this alongside their normal
// work so they can exit promptly when asked.
func (c *Context) Stopping() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.stopping
}

// Stop requests a graceful shutdown: Stopping is closed immediately,
// and Stop blocks until every goroutine started with Go has returned.
// If that has not happened once timeout elapses, the underlying
// context.Context is canceled to unblock anything still listening on
// Done; Stop then keeps waiting for the goroutines to return and
// reports a deadline-exceeded error.
func (c *Context) Stop(timeout time.Duration) error {
	c.mu.Lock()
	c.mu.stopOnce.Do(func() { close(c.mu.stopping) })
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	var timer *time.Timer
	var timerC <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		timerC = timer.C
		defer timer.Stop()
	}

	select {
	case <-done:
		c.cancel()
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.mu.err
	case <-timerC:
		c.cancel()
		<-done
		return errors.Errorf("stopper: shutdown did not complete within %s", timeout)
	}
}

// Wait blocks until every goroutine started with Go has returned,
// without requesting shutdown, and returns the first error reported by
// any of them.
func (c *Context) Wait() error {
	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.err
}
