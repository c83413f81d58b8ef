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
	"net/http"

	"github.com/ifak-eu/mediator/internal/merr"
)

// Outcome is the result of dispatching one request: either Body holds
// the response value, or Err is non-nil and carries a merr.Kind that
// maps to an HTTP status via StatusFor.
type Outcome struct {
	Body any
	Err  error
}

// OK wraps a successful response body.
func OK(body any) Outcome { return Outcome{Body: body} }

// Fail wraps a tagged error as a failed Outcome.
func Fail(err error) Outcome { return Outcome{Err: err} }

// StatusFor maps a merr.Kind to the HTTP status spec.md §7 assigns it.
func StatusFor(err error) int {
	switch merr.KindOf(err) {
	case merr.Request:
		return http.StatusBadRequest
	case merr.Auth:
		return http.StatusUnauthorized
	case merr.Timeout:
		return http.StatusRequestTimeout
	case merr.Conflict:
		return http.StatusConflict
	case merr.Connectivity:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the wire shape of a failed response, per spec.md §6:
// `{ "error": "<message>" }`.
type errorBody struct {
	Error string `json:"error"`
}

// ErrBody builds the wire error body for err.
func ErrBody(err error) any {
	return errorBody{Error: err.Error()}
}

// ErrServiceUnavailable is returned for any method outside the
// startup whitelist while the process is still starting.
var ErrServiceUnavailable = merr.New(merr.Connectivity, "service starting, try again")

// ErrUnknownMethod is returned when a request path matches no entry
// in the dispatch table.
var ErrUnknownMethod = merr.New(merr.Request, "unknown method")

// ErrInvalidSession is returned when a request names a session id that
// is not currently registered.
var ErrInvalidSession = merr.New(merr.Auth, "invalid or expired session")
