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
	"github.com/ifak-eu/mediator/internal/clock"
	"github.com/ifak-eu/mediator/internal/historian"
	"github.com/ifak-eu/mediator/internal/ident"
)

// LoginRequest starts a session for a user or a module-to-module
// account, per spec.md §4.6.
type LoginRequest struct {
	User     string   `json:"user,omitempty"`
	ModuleID string   `json:"moduleId,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// LoginResponse carries the session id and challenge the client must
// fold into its Authenticate digest.
type LoginResponse struct {
	SessionID string `json:"sessionId"`
	Challenge string `json:"challenge"`
}

// AuthenticateRequest resubmits the client's proof of password
// knowledge for the session named by SessionID.
type AuthenticateRequest struct {
	SessionID string `json:"sessionId"`
	Digest    string `json:"digest"`
}

// AuthenticateResponse confirms a session is now usable.
type AuthenticateResponse struct {
	User  string   `json:"user"`
	Roles []string `json:"roles"`
}

// LogoutRequest ends a session.
type LogoutRequest struct {
	SessionID string `json:"sessionId"`
}

// GetLoginUserResponse reports the identity bound to the calling
// session.
type GetLoginUserResponse struct {
	User  string   `json:"user"`
	Roles []string `json:"roles"`
}

// ModuleSummary is the discovery-facing projection of a configured
// module.
type ModuleSummary struct {
	ID      ident.ModuleID `json:"id"`
	Name    string         `json:"name"`
	Enabled bool           `json:"enabled"`
}

// GetModulesResponse lists every configured module.
type GetModulesResponse struct {
	Modules []ModuleSummary `json:"modules"`
}

// ReadVariablesRequest names the variables to read.
type ReadVariablesRequest struct {
	Variables []ident.VariableRef `json:"variables"`
}

// VariableValue pairs a variable with its VTQ, used in both read and
// write responses.
type VariableValue struct {
	Ref ident.VariableRef `json:"ref"`
	VTQ clock.VTQ         `json:"vtq"`
}

// ReadVariablesResponse carries the current value of each requested
// variable; IgnoreMissing variants simply omit entries that failed
// instead of failing the whole call.
type ReadVariablesResponse struct {
	Values []VariableValue `json:"values"`
}

// WriteVariablesRequest proposes new values for a batch of variables.
type WriteVariablesRequest struct {
	Values      []VariableValue `json:"values"`
	RejectStale bool            `json:"rejectStale,omitempty"`
}

// WriteVariablesResponse reports whether each write in the batch was
// applied, in request order.
type WriteVariablesResponse struct {
	Applied []bool `json:"applied"`
}

// ReadVariablesSyncRequest is ReadVariablesRequest plus the caller's
// explicit deadline for the synchronous variants: per spec.md §5, a
// TimeoutMillis win surfaces as a Timeout error without cancelling the
// read underneath it. Zero means "use the request's own context
// deadline, if any".
type ReadVariablesSyncRequest struct {
	Variables     []ident.VariableRef `json:"variables"`
	TimeoutMillis int                 `json:"timeoutMillis,omitempty"`
}

// WriteVariablesSyncRequest is WriteVariablesRequest plus the caller's
// explicit deadline, with the same timeout semantics as
// ReadVariablesSyncRequest.
type WriteVariablesSyncRequest struct {
	Values        []VariableValue `json:"values"`
	RejectStale   bool            `json:"rejectStale,omitempty"`
	TimeoutMillis int             `json:"timeoutMillis,omitempty"`
}

// UpdateConfigRequest names the objects and members of spec.md §6's
// UpdateConfig. The handler does not change any object model: it
// collects the objects named in the three lists (a member counts as
// its owning object) and sends one OnConfigChanged event per object to
// every session subscribed to it. Modules raise the same event through
// module.Host.NotifyConfigChanged.
type UpdateConfigRequest struct {
	UpdateOrDeleteObjects []ident.ObjectRef   `json:"updateOrDeleteObjects,omitempty"`
	UpdateOrDeleteMembers []ident.VariableRef `json:"updateOrDeleteMembers,omitempty"`
	AddArrayElements      []ident.ObjectRef   `json:"addArrayElements,omitempty"`
}

// HistorianReadRawRequest is the wire shape of a bounded range read.
type HistorianReadRawRequest struct {
	Ref       ident.VariableRef      `json:"ref"`
	Start     clock.Timestamp        `json:"start"`
	End       clock.Timestamp        `json:"end"`
	MaxValues int                    `json:"maxValues"`
	Bounding  historian.BoundingMethod `json:"bounding"`
	Filter    clock.QualityFilter    `json:"filter"`
}

// HistorianReadRawResponse carries the matched samples.
type HistorianReadRawResponse struct {
	Samples []clock.VTTQ `json:"samples"`
}

// HistorianCountRequest is the wire shape of a range count.
type HistorianCountRequest struct {
	Ref    ident.VariableRef   `json:"ref"`
	Start  clock.Timestamp     `json:"start"`
	End    clock.Timestamp     `json:"end"`
	Filter clock.QualityFilter `json:"filter"`
}

// HistorianCountResponse carries the match count.
type HistorianCountResponse struct {
	Count int64 `json:"count"`
}

// HistorianDeleteIntervalRequest is the wire shape of a range delete.
type HistorianDeleteIntervalRequest struct {
	Ref   ident.VariableRef `json:"ref"`
	Start clock.Timestamp   `json:"start"`
	End   clock.Timestamp   `json:"end"`
}

// HistorianModifyRequest is the wire shape of an Insert/Update/Upsert/
// ReplaceAll/Delete edit.
type HistorianModifyRequest struct {
	Ref  ident.VariableRef    `json:"ref"`
	Mode historian.ModifyMode `json:"mode"`
	Data []clock.VTQ          `json:"data"`
}

// HistorianModifyResponse reports any per-sample errors the edit hit.
type HistorianModifyResponse struct {
	ItemErrors []string `json:"itemErrors,omitempty"`
}

// HistorianDeleteVariablesRequest removes every sample for the listed
// variables (object-tree deletion).
type HistorianDeleteVariablesRequest struct {
	Variables []ident.VariableRef `json:"variables"`
}

// HistorianGetLatestTimestampDBRequest asks for the most recent
// insertion timestamp observed for a representative variable in its
// owning database.
type HistorianGetLatestTimestampDBRequest struct {
	Ref ident.VariableRef `json:"ref"`
}

// HistorianGetLatestTimestampDBResponse carries the timestamp.
type HistorianGetLatestTimestampDBResponse struct {
	Timestamp clock.Timestamp `json:"timestamp"`
}

// EnableVariableValueChangedEventsRequest configures a session's
// value-changed subscription.
type EnableVariableValueChangedEventsRequest struct {
	Variables []ident.VariableRef `json:"variables,omitempty"`
	Roots     []ident.ObjectRef   `json:"roots,omitempty"`
	Coalesce  bool                `json:"coalesce"`
}

// EnableConfigChangedEventsRequest configures a session's
// config-changed subscription.
type EnableConfigChangedEventsRequest struct {
	Objects []ident.ObjectRef `json:"objects"`
}

// EnableAlarmsAndEventsRequest configures a session's alarm/event
// stream.
type EnableAlarmsAndEventsRequest struct {
	MinSeverity int `json:"minSeverity"`
}

// CallMethodRequest invokes a module-specific method by name.
type CallMethodRequest struct {
	ModuleID   ident.ModuleID `json:"moduleId"`
	MethodName string         `json:"methodName"`
	Parameters any            `json:"parameters"`
}

// CallMethodResponse carries the module's opaque return value.
type CallMethodResponse struct {
	Result any `json:"result"`
}

// empty is used for requests and responses that carry no fields.
type empty struct{}
