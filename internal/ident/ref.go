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

// Package ident contains the identifier types that name every
// addressable thing in the mediator: modules, objects, variables and
// the historian channels derived from them.
package ident

import "fmt"

// ModuleID names a configured module, stable for the lifetime of the
// process's configuration.
type ModuleID string

// ObjectID names a module-local object; it is only unique within its
// owning module.
type ObjectID string

// ObjectRef globally identifies a configured object: the pair
// (moduleID, localObjectID).
type ObjectRef struct {
	Module ModuleID
	Object ObjectID
}

// String renders the ref in "module:object" form.
func (r ObjectRef) String() string {
	return fmt.Sprintf("%s:%s", r.Module, r.Object)
}

// VariableRef globally identifies a variable: an ObjectRef plus the
// variable's name on that object.
type VariableRef struct {
	Object ObjectRef
	Name   string
}

// String renders the ref in "module:object.name" form.
func (r VariableRef) String() string {
	return fmt.Sprintf("%s.%s", r.Object, r.Name)
}

// Less provides a total order over VariableRef, used to keep batch
// processing and test output deterministic.
func (r VariableRef) Less(o VariableRef) bool {
	if r.Object.Module != o.Object.Module {
		return r.Object.Module < o.Object.Module
	}
	if r.Object.Object != o.Object.Object {
		return r.Object.Object < o.Object.Object
	}
	return r.Name < o.Name
}

// ChannelID identifies a historian channel: the per-variable table
// that stores its VTTQ history. It is derived deterministically from a
// VariableRef so that channel lookups never require a catalog round
// trip once the channel is known locally.
type ChannelID struct {
	Object ObjectID
	Name   string
}

// Channel derives the ChannelID for a VariableRef.
func Channel(ref VariableRef) ChannelID {
	return ChannelID{Object: ref.Object.Object, Name: ref.Name}
}

// TableName produces a SQL-safe table name for the channel, unique
// within a single historian database. The module id is intentionally
// excluded: a historian database always belongs to a single module
// group in this design, matching spec.md's "one DB per logical group"
// definition of Historian in the glossary.
func (c ChannelID) TableName() string {
	return fmt.Sprintf("chan_%s_%s", sanitize(string(c.Object)), sanitize(c.Name))
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
