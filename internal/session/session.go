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

// Package session implements spec.md §4.6's per-client session: login
// identity, event subscriptions, and the outbound event queue that
// feeds one WebSocket per session.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ifak-eu/mediator/internal/clock"
	"github.com/ifak-eu/mediator/internal/ident"
)

// ID uniquely identifies a Session for its lifetime.
type ID string

// NewID generates a fresh session ID.
func NewID() ID {
	return ID(uuid.NewString())
}

// EventKind tags the variant of an outbound Event.
type EventKind int

const (
	// EventVariableValueChanged corresponds to OnVariableValueChanged.
	EventVariableValueChanged EventKind = iota
	// EventVariableHistoryChanged corresponds to OnVariableHistoryChanged.
	EventVariableHistoryChanged
	// EventConfigChanged corresponds to OnConfigChanged.
	EventConfigChanged
	// EventAlarmOrEvent corresponds to OnAlarmOrEvent.
	EventAlarmOrEvent
)

// Event is one outbound wire frame, queued for delivery over a
// session's WebSocket.
type Event struct {
	Kind      EventKind
	Variable  ident.VariableRef
	Value     clock.VTQ
	Object    ident.ObjectRef
	Severity  int
	Message   string
	Timestamp clock.Timestamp
}

// VariableSubscription configures how value-changed events are
// delivered for a set of variables or object-tree roots.
type VariableSubscription struct {
	Variables []ident.VariableRef
	Roots     []ident.ObjectRef
	Coalesce  bool
}

// Session tracks one authenticated client connection: its identity,
// active subscriptions, and outbound queue. All mutation happens under
// mu; Session values are safe for concurrent use from the request
// handler and the WebSocket writer goroutine.
type Session struct {
	ID       ID
	User     string
	Roles    []string
	ModuleID ident.ModuleID // set instead of User for module-to-module sessions

	mu sync.Mutex

	varSub        *VariableSubscription
	historySub    bool
	configObjects map[ident.ObjectRef]bool
	minSeverity   int
	alarmsEnabled bool

	// outbound holds queued Events not yet handed to the writer;
	// coalesced entries are keyed so a newer value replaces an older
	// unsent one for the same variable.
	outbound    []Event
	coalesceKey map[ident.VariableRef]int // index into outbound, for coalescing

	lastActivity time.Time
	abandoned    bool
}

// New creates a Session bound to an authenticated user.
func New(user string, roles []string) *Session {
	return &Session{
		ID:            NewID(),
		User:          user,
		Roles:         roles,
		configObjects: make(map[ident.ObjectRef]bool),
		coalesceKey:   make(map[ident.VariableRef]int),
		lastActivity:  time.Now(),
	}
}

// Touch records activity, resetting the idle-abandonment clock.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// IsAbandoned reports whether the session has exceeded idleWindow
// since its last acknowledged activity, or was explicitly marked
// abandoned (e.g. a write error on its socket).
func (s *Session) IsAbandoned(idleWindow time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abandoned {
		return true
	}
	return time.Since(s.lastActivity) > idleWindow
}

// MarkAbandoned flags the session for removal by the sweep,
// regardless of its idle time (used on socket write failure).
func (s *Session) MarkAbandoned() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandoned = true
}

// EnableVariableValueChanged installs or replaces the session's
// value-changed subscription.
func (s *Session) EnableVariableValueChanged(sub VariableSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.varSub = &sub
}

// EnableHistoryChanged turns on OnVariableHistoryChanged delivery.
func (s *Session) EnableHistoryChanged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historySub = true
}

// EnableConfigChanged subscribes to config-changed events for the
// given objects, adding to any already subscribed. An empty list adds
// nothing; a session with no subscribed objects receives no
// config-changed events.
func (s *Session) EnableConfigChanged(objects []ident.ObjectRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range objects {
		s.configObjects[o] = true
	}
}

// EnableAlarmsAndEvents turns on alarm/event delivery at or above
// minSeverity.
func (s *Session) EnableAlarmsAndEvents(minSeverity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarmsEnabled = true
	s.minSeverity = minSeverity
}

// DisableChangeEvents clears every subscription.
func (s *Session) DisableChangeEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.varSub = nil
	s.historySub = false
	s.configObjects = make(map[ident.ObjectRef]bool)
}

// DisableAlarmsAndEvents turns off alarm/event delivery.
func (s *Session) DisableAlarmsAndEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarmsEnabled = false
}

// WantsVariable reports whether ref matches the session's current
// value-changed subscription, either directly or via an ancestor in
// roots (parents is supplied by the caller, since Session has no
// object-tree knowledge of its own).
func (s *Session) WantsVariable(ref ident.VariableRef, ancestors []ident.ObjectRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.varSub == nil {
		return false
	}
	for _, v := range s.varSub.Variables {
		if v == ref {
			return true
		}
	}
	for _, root := range s.varSub.Roots {
		if root == ref.Object {
			return true
		}
		for _, a := range ancestors {
			if root == a {
				return true
			}
		}
	}
	return false
}

// WantsHistoryChange reports whether the session subscribes to
// history-changed events at all (the spec does not scope this per
// variable).
func (s *Session) WantsHistoryChange() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historySub
}

// WantsConfigChange reports whether the session subscribes to
// config-changed events for obj.
func (s *Session) WantsConfigChange(obj ident.ObjectRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.configObjects) == 0 {
		return false
	}
	return s.configObjects[obj]
}

// WantsAlarm reports whether the session wants an alarm/event at
// severity.
func (s *Session) WantsAlarm(severity int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alarmsEnabled && severity >= s.minSeverity
}

// coalesces reports whether the active subscription wants
// coalescing for value-changed events.
func (s *Session) coalesces() bool {
	return s.varSub != nil && s.varSub.Coalesce
}

// Enqueue appends ev to the outbound queue, replacing an unsent
// value-changed event for the same variable when coalescing is
// enabled, per spec.md §4.6's fan-out step 2.
func (s *Session) Enqueue(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Kind == EventVariableValueChanged && s.coalesces() {
		if idx, ok := s.coalesceKey[ev.Variable]; ok {
			s.outbound[idx] = ev
			return
		}
		s.coalesceKey[ev.Variable] = len(s.outbound)
	}
	s.outbound = append(s.outbound, ev)
}

// Dequeue removes and returns the oldest queued Event, if any.
func (s *Session) Dequeue() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outbound) == 0 {
		return Event{}, false
	}
	ev := s.outbound[0]
	s.outbound = s.outbound[1:]
	// Coalescing indices into outbound shift by one for every
	// remaining entry; rebuild rather than patch in place since
	// sessions dequeue far less often than they enqueue.
	s.coalesceKey = make(map[ident.VariableRef]int)
	for i, e := range s.outbound {
		if e.Kind == EventVariableValueChanged && s.coalesces() {
			s.coalesceKey[e.Variable] = i
		}
	}
	return ev, true
}

// Pending reports the current outbound queue depth.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbound)
}
