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

package rpc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/ifak-eu/mediator/internal/auth"
	"github.com/ifak-eu/mediator/internal/historian"
	"github.com/ifak-eu/mediator/internal/ident"
	"github.com/ifak-eu/mediator/internal/module"
	"github.com/ifak-eu/mediator/internal/session"
	"github.com/ifak-eu/mediator/internal/varstore"
)

// StoreProvider resolves a module's variable store, so the dispatcher
// never needs to know how modules and stores are wired together.
type StoreProvider interface {
	StoreFor(module ident.ModuleID) (*varstore.Store, bool)
}

// Catalog answers the discovery methods of spec.md §6
// (GetModules/GetLocations/GetAllObjects/...) that depend on the
// static object model a config loader builds. It is intentionally
// decoupled from Dispatcher's other dependencies: a Dispatcher can
// serve every other RPC method with Catalog left nil, returning
// Internal for the methods that need it.
type Catalog interface {
	Modules() []ModuleSummary
}

// Dispatcher resolves and executes every RPC method in the static
// table against the live subsystems: sessions, the variable stores,
// the historian manager, and the module supervisor.
type Dispatcher struct {
	log        *logrus.Entry
	sessions   *session.Registry
	users      *auth.Directory
	historian  *historian.Manager
	supervisor *module.Supervisor
	stores     StoreProvider
	catalog    Catalog

	starting atomic.Bool

	mu      sync.Mutex
	pending map[session.ID]pendingLogin
}

// pendingLogin holds the state of a session between Login and
// Authenticate: the issued challenge and the credentials it must be
// proven against.
type pendingLogin struct {
	user      string
	moduleID  ident.ModuleID
	roles     []string
	password  string
	challenge string
}

// NewDispatcher constructs a Dispatcher. It starts in the "starting"
// state; call SetStarted once every module reaches InitComplete.
func NewDispatcher(
	log *logrus.Entry,
	sessions *session.Registry,
	users *auth.Directory,
	hist *historian.Manager,
	supervisor *module.Supervisor,
	stores StoreProvider,
	catalog Catalog,
) *Dispatcher {
	d := &Dispatcher{
		log:        log,
		sessions:   sessions,
		users:      users,
		historian:  hist,
		supervisor: supervisor,
		stores:     stores,
		catalog:    catalog,
		pending:    make(map[session.ID]pendingLogin),
	}
	d.starting.Store(true)
	return d
}

// SetStarted flips the dispatcher out of the startup whitelist once
// every module has reached InitComplete, per spec.md §4.6.
func (d *Dispatcher) SetStarted() {
	d.starting.Store(false)
}

// SessionByID looks up a registered Session, for the transport layer's
// WebSocket binding step.
func (d *Dispatcher) SessionByID(id string) (*session.Session, bool) {
	return d.sessions.Get(session.ID(id))
}

// Dispatch resolves method against the static table, enforces the
// startup whitelist and session requirement, and executes the
// handler. sessionID is the caller-supplied session id, looked up only
// if the method requires one.
func (d *Dispatcher) Dispatch(ctx context.Context, method string, sessionID string, req any) Outcome {
	d.log.WithField("method", method).Debug("dispatching RPC")

	def, ok := Lookup(method)
	if !ok {
		return Fail(ErrUnknownMethod)
	}

	if d.starting.Load() && !def.AllowedWhileStarting {
		return Fail(ErrServiceUnavailable)
	}

	var sess *session.Session
	if def.RequiresSession {
		s, ok := d.sessions.Get(session.ID(sessionID))
		if !ok {
			return Fail(ErrInvalidSession)
		}
		s.Touch()
		sess = s
	}

	return def.Handle(d, ctx, sess, req)
}
