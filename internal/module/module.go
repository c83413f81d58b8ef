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

package module

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ifak-eu/mediator/internal/clock"
	"github.com/ifak-eu/mediator/internal/ident"
)

// Config is one module's static configuration, as loaded from the
// process configuration file (spec.md §6's Modules[] entries).
type Config struct {
	ID             ident.ModuleID
	Name           string
	ImplClass      string
	Enabled        bool
	ConcurrentInit bool
	Settings       map[string]string
	VariablesFile  string
}

// Host is the one-way interface a Module uses to report changes back
// to the supervisor, replacing the cyclic module<->supervisor
// reference the spec's originating system used. A Module never calls
// back into the supervisor for anything but these three
// notifications; every other interaction is the supervisor calling
// into the Module.
type Host interface {
	// NotifyVariableValuesChanged reports a batch of new VTQs for
	// variables owned by the calling module.
	NotifyVariableValuesChanged(module ident.ModuleID, changes []VariableChange)
	// NotifyConfigChanged reports that one or more objects' static
	// configuration changed.
	NotifyConfigChanged(module ident.ModuleID, objects []ident.ObjectRef)
	// NotifyAlarmOrEvent reports a discrete alarm or event at the
	// given severity.
	NotifyAlarmOrEvent(module ident.ModuleID, severity int, message string)
}

// VariableChange is one (ref, new value) pair reported through
// NotifyVariableValuesChanged.
type VariableChange struct {
	Ref   ident.VariableRef
	Value clock.VTQ
}

// ShutdownPredicate is passed to Run; a Module's run loop must check
// it periodically and return once it reports true, per spec.md §4.5's
// cooperative Run(fShutdown) contract.
type ShutdownPredicate func() bool

// Module is the interface every pluggable driver, calculation engine,
// or dashboard backend implements. The supervisor owns a Module's
// entire lifecycle; a Module only ever calls back into its Host.
type Module interface {
	// Init prepares the module (opening connections, reading
	// configuration) but must not block for long-running work; that
	// belongs in Run.
	Init(ctx context.Context, cfg Config, host Host) error
	// Run executes the module's main loop, if it has one, until
	// shouldStop reports true. A module with no ongoing work may
	// return immediately after shouldStop first reports true, or even
	// immediately if it has nothing to do.
	Run(ctx context.Context, shouldStop ShutdownPredicate) error
	// InitAbort releases whatever Init acquired, used both when Init
	// itself fails partway and during normal shutdown.
	InitAbort(ctx context.Context)
}

// Factory constructs a new, uninitialized Module instance.
type Factory func() Module

var registry = struct {
	factories map[string]Factory
}{factories: make(map[string]Factory)}

// Register associates implClass with factory, so that a Config naming
// that class can be instantiated by the supervisor. It is meant to be
// called from each module implementation's package init.
func Register(implClass string, factory Factory) {
	registry.factories[implClass] = factory
}

// newInstance looks up and invokes the Factory registered for
// implClass.
func newInstance(implClass string) (Module, error) {
	factory, ok := registry.factories[implClass]
	if !ok {
		return nil, errors.Errorf("module: no factory registered for impl class %q", implClass)
	}
	return factory(), nil
}
