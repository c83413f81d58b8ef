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

// Package merr implements the error taxonomy from spec.md §7:
// Connectivity, Request, Auth, Timeout, Conflict and Internal. Every
// boundary in the system (the request handler, the historian worker's
// promise results) reports one of these kinds so the transport layer
// can map it to an HTTP status without inspecting error strings.
package merr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one entry in the spec.md §7 taxonomy.
type Kind int

const (
	// Internal is an unexpected condition; logged with a stack trace
	// and reported opaquely.
	Internal Kind = iota
	// Connectivity means transport is broken, a remote is unreachable,
	// or a socket closed unexpectedly.
	Connectivity
	// Request means the call was well-formed but semantically invalid.
	Request
	// Auth means a login or authentication check failed.
	Auth
	// Timeout means a synchronous read/write did not complete in time.
	Timeout
	// Conflict means a historian Modify precondition was violated.
	Conflict
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Connectivity:
		return "Connectivity"
	case Request:
		return "Request"
	case Auth:
		return "Auth"
	case Timeout:
		return "Timeout"
	case Conflict:
		return "Conflict"
	default:
		return "Internal"
	}
}

// taxonomyError attaches a Kind to a wrapped cause.
type taxonomyError struct {
	kind  Kind
	cause error
}

func (e *taxonomyError) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.cause)
}

func (e *taxonomyError) Unwrap() error { return e.cause }

// New builds a taxonomy error of the given kind from a message.
func New(kind Kind, format string, args ...any) error {
	return &taxonomyError{kind: kind, cause: errors.Errorf(format, args...)}
}

// Wrap attaches a Kind to an existing error, preserving its stack via
// pkg/errors if it doesn't already carry one.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &taxonomyError{kind: kind, cause: errors.Wrap(err, message)}
}

// KindOf extracts the Kind from err, defaulting to Internal if err was
// never tagged.
func KindOf(err error) Kind {
	var t *taxonomyError
	if errors.As(err, &t) {
		return t.kind
	}
	return Internal
}

// Is reports whether err is tagged with the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
