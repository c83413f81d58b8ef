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

// Package diag is a registry of named self-check callbacks, queried by
// the /healthz endpoint. Subsystems (module runners, historian
// workers, the session sweep) each register a check here instead of
// exposing bespoke health plumbing.
package diag

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Check is a named self-test. It should return quickly and must be
// safe to call concurrently with the rest of the subsystem's normal
// operation.
type Check func(ctx context.Context) error

// Diagnostics is a registry of named Checks.
type Diagnostics struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// New creates an empty registry.
func New() *Diagnostics {
	return &Diagnostics{checks: make(map[string]Check)}
}

// Register adds a named check. It is an error to reuse a name.
func (d *Diagnostics) Register(name string, check Check) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, found := d.checks[name]; found {
		return errors.Errorf("diagnostic %q already registered", name)
	}
	d.checks[name] = check
	return nil
}

// Unregister removes a named check, if present.
func (d *Diagnostics) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.checks, name)
}

// Report is the outcome of running every registered Check.
type Report struct {
	OK     bool
	Errors map[string]string
}

// RunAll executes every registered check and collects failures.
func (d *Diagnostics) RunAll(ctx context.Context) Report {
	d.mu.RLock()
	checks := make(map[string]Check, len(d.checks))
	for name, check := range d.checks {
		checks[name] = check
	}
	d.mu.RUnlock()

	ret := Report{OK: true, Errors: make(map[string]string)}
	for name, check := range checks {
		if err := check(ctx); err != nil {
			ret.OK = false
			ret.Errors[name] = err.Error()
		}
	}
	return ret
}
