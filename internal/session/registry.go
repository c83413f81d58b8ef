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

package session

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ifak-eu/mediator/internal/stopper"
)

// sweepInterval is the abandonment sweep cadence from spec.md §4.6
// ("the supervisor loop runs at ≈1 Hz").
const sweepInterval = time.Second

// DefaultIdleWindow is used when a Registry is constructed without an
// explicit idle window. internal/transport's WebSocket event loop also
// uses it, not the Registry's configured window, as its idle limit.
const DefaultIdleWindow = 30 * time.Second

// Registry owns every live Session, keyed by ID.
type Registry struct {
	log        *logrus.Entry
	idleWindow time.Duration

	mu       sync.RWMutex
	sessions map[ID]*Session
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *logrus.Entry, idleWindow time.Duration) *Registry {
	if idleWindow <= 0 {
		idleWindow = DefaultIdleWindow
	}
	return &Registry{log: log, idleWindow: idleWindow, sessions: make(map[ID]*Session)}
}

// Add registers a new Session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Get returns the Session for id, if still registered.
func (r *Registry) Get(id ID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove unregisters a Session by id.
func (r *Registry) Remove(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// All returns a snapshot of every currently registered Session, for
// fan-out broadcasts.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Run drives the ~1Hz abandonment sweep until ctx is stopping.
func (r *Registry) Run(ctx *stopper.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-ctx.Stopping():
			return nil
		}
	}
}

func (r *Registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.IsAbandoned(r.idleWindow) {
			delete(r.sessions, id)
			r.log.WithField("session", id).Info("session abandoned, removed")
		}
	}
}

// Count reports the number of currently registered sessions, for
// diagnostics.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
