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

	"github.com/ifak-eu/mediator/internal/session"
)

// Definition is one entry in the static request-dispatch table from
// spec.md §4.6: a method name, what it decodes into, whether it needs
// an authenticated session, and whether it is reachable while the
// process is still starting.
type Definition struct {
	Name string

	// RequiresSession is false only for Login and Authenticate, which
	// create and authenticate the session the rest of the surface
	// depends on.
	RequiresSession bool

	// AllowedWhileStarting marks the startup whitelist (login/logout)
	// from spec.md §4.6; every other method returns ServiceUnavailable
	// while the process has not finished initializing.
	AllowedWhileStarting bool

	// NewRequest allocates a zero value of this method's request type,
	// for the codec to decode into.
	NewRequest func() any

	// Handle executes the method against a decoded request, returning
	// the Outcome to encode back to the client.
	Handle func(d *Dispatcher, ctx context.Context, sess *session.Session, req any) Outcome
}

// table is the full static dispatch table, keyed by method name. It is
// built once at package init and never mutated afterward, so concurrent
// dispatch never needs to lock it.
var table map[string]*Definition

func def(d Definition) {
	if table == nil {
		table = make(map[string]*Definition)
	}
	cp := d
	table[d.Name] = &cp
}

func init() {
	def(Definition{
		Name:                 "Login",
		AllowedWhileStarting: true,
		NewRequest:           func() any { return &LoginRequest{} },
		Handle:               (*Dispatcher).handleLogin,
	})
	def(Definition{
		Name:                 "Authenticate",
		AllowedWhileStarting: true,
		NewRequest:           func() any { return &AuthenticateRequest{} },
		Handle:               (*Dispatcher).handleAuthenticate,
	})
	def(Definition{
		Name:                 "Logout",
		AllowedWhileStarting: true,
		RequiresSession:      true,
		NewRequest:           func() any { return &LogoutRequest{} },
		Handle:               (*Dispatcher).handleLogout,
	})
	def(Definition{
		Name:            "GetLoginUser",
		RequiresSession: true,
		NewRequest:      func() any { return &empty{} },
		Handle:          (*Dispatcher).handleGetLoginUser,
	})
	def(Definition{
		Name:            "GetModules",
		RequiresSession: true,
		NewRequest:      func() any { return &empty{} },
		Handle:          (*Dispatcher).handleGetModules,
	})
	def(Definition{
		Name:            "ReadVariables",
		RequiresSession: true,
		NewRequest:      func() any { return &ReadVariablesRequest{} },
		Handle:          (*Dispatcher).handleReadVariables,
	})
	def(Definition{
		Name:            "ReadVariablesIgnoreMissing",
		RequiresSession: true,
		NewRequest:      func() any { return &ReadVariablesRequest{} },
		Handle:          (*Dispatcher).handleReadVariablesIgnoreMissing,
	})
	def(Definition{
		Name:            "WriteVariables",
		RequiresSession: true,
		NewRequest:      func() any { return &WriteVariablesRequest{} },
		Handle:          (*Dispatcher).handleWriteVariables,
	})
	def(Definition{
		Name:            "WriteVariablesIgnoreMissing",
		RequiresSession: true,
		NewRequest:      func() any { return &WriteVariablesRequest{} },
		Handle:          (*Dispatcher).handleWriteVariables,
	})
	def(Definition{
		Name:            "ReadVariablesSync",
		RequiresSession: true,
		NewRequest:      func() any { return &ReadVariablesSyncRequest{} },
		Handle:          (*Dispatcher).handleReadVariablesSync,
	})
	def(Definition{
		Name:            "ReadVariablesSyncIgnoreMissing",
		RequiresSession: true,
		NewRequest:      func() any { return &ReadVariablesSyncRequest{} },
		Handle:          (*Dispatcher).handleReadVariablesSyncIgnoreMissing,
	})
	def(Definition{
		Name:            "WriteVariablesSync",
		RequiresSession: true,
		NewRequest:      func() any { return &WriteVariablesSyncRequest{} },
		Handle:          (*Dispatcher).handleWriteVariablesSync,
	})
	def(Definition{
		Name:            "WriteVariablesSyncIgnoreMissing",
		RequiresSession: true,
		NewRequest:      func() any { return &WriteVariablesSyncRequest{} },
		Handle:          (*Dispatcher).handleWriteVariablesSync,
	})
	def(Definition{
		Name:            "UpdateConfig",
		RequiresSession: true,
		NewRequest:      func() any { return &UpdateConfigRequest{} },
		Handle:          (*Dispatcher).handleUpdateConfig,
	})
	def(Definition{
		Name:            "HistorianReadRaw",
		RequiresSession: true,
		NewRequest:      func() any { return &HistorianReadRawRequest{} },
		Handle:          (*Dispatcher).handleHistorianReadRaw,
	})
	def(Definition{
		Name:            "HistorianCount",
		RequiresSession: true,
		NewRequest:      func() any { return &HistorianCountRequest{} },
		Handle:          (*Dispatcher).handleHistorianCount,
	})
	def(Definition{
		Name:            "HistorianDeleteInterval",
		RequiresSession: true,
		NewRequest:      func() any { return &HistorianDeleteIntervalRequest{} },
		Handle:          (*Dispatcher).handleHistorianDeleteInterval,
	})
	def(Definition{
		Name:            "HistorianModify",
		RequiresSession: true,
		NewRequest:      func() any { return &HistorianModifyRequest{} },
		Handle:          (*Dispatcher).handleHistorianModify,
	})
	def(Definition{
		Name:            "HistorianDeleteVariables",
		RequiresSession: true,
		NewRequest:      func() any { return &HistorianDeleteVariablesRequest{} },
		Handle:          (*Dispatcher).handleHistorianDeleteVariables,
	})
	def(Definition{
		Name:            "HistorianDeleteAllVariablesOfObjectTree",
		RequiresSession: true,
		NewRequest:      func() any { return &HistorianDeleteVariablesRequest{} },
		Handle:          (*Dispatcher).handleHistorianDeleteVariables,
	})
	def(Definition{
		Name:            "HistorianGetLatestTimestampDB",
		RequiresSession: true,
		NewRequest:      func() any { return &HistorianGetLatestTimestampDBRequest{} },
		Handle:          (*Dispatcher).handleHistorianGetLatestTimestampDB,
	})
	def(Definition{
		Name:            "EnableVariableValueChangedEvents",
		RequiresSession: true,
		NewRequest:      func() any { return &EnableVariableValueChangedEventsRequest{} },
		Handle:          (*Dispatcher).handleEnableVariableValueChangedEvents,
	})
	def(Definition{
		Name:            "EnableVariableHistoryChangedEvents",
		RequiresSession: true,
		NewRequest:      func() any { return &empty{} },
		Handle:          (*Dispatcher).handleEnableVariableHistoryChangedEvents,
	})
	def(Definition{
		Name:            "EnableConfigChangedEvents",
		RequiresSession: true,
		NewRequest:      func() any { return &EnableConfigChangedEventsRequest{} },
		Handle:          (*Dispatcher).handleEnableConfigChangedEvents,
	})
	def(Definition{
		Name:            "EnableAlarmsAndEvents",
		RequiresSession: true,
		NewRequest:      func() any { return &EnableAlarmsAndEventsRequest{} },
		Handle:          (*Dispatcher).handleEnableAlarmsAndEvents,
	})
	def(Definition{
		Name:            "DisableChangeEvents",
		RequiresSession: true,
		NewRequest:      func() any { return &empty{} },
		Handle:          (*Dispatcher).handleDisableChangeEvents,
	})
	def(Definition{
		Name:            "DisableAlarmsAndEvents",
		RequiresSession: true,
		NewRequest:      func() any { return &empty{} },
		Handle:          (*Dispatcher).handleDisableAlarmsAndEvents,
	})
	def(Definition{
		Name:            "CallMethod",
		RequiresSession: true,
		NewRequest:      func() any { return &CallMethodRequest{} },
		Handle:          (*Dispatcher).handleCallMethod,
	})
}

// Lookup returns the Definition for method, if recognized.
func Lookup(method string) (*Definition, bool) {
	d, ok := table[method]
	return d, ok
}
