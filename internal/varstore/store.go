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

// Package varstore holds the per-module mapping from VariableRef to its
// current VTQ (spec.md §4.2). Reads and updates are serialized through
// a mutex rather than the module's own single-thread domain, since the
// store is also read from the request handler and the historian
// manager concurrently with the owning module's updates.
package varstore

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/ifak-eu/mediator/internal/clock"
	"github.com/ifak-eu/mediator/internal/ident"
	"github.com/ifak-eu/mediator/internal/merr"
)

// ErrNotFound is returned by Get for an unknown VariableRef.
var ErrNotFound = errors.New("variable not found")

// entry is the value store slot for one variable.
type entry struct {
	vtq      clock.VTQ
	history  bool
	dataType string
}

// Store is a per-module variable store.
type Store struct {
	mu      sync.RWMutex
	entries map[ident.VariableRef]entry
}

// New creates an empty Store.
func New() *Store {
	return &Store{entries: make(map[ident.VariableRef]entry)}
}

// Get returns the current VTQ for ref, or ErrNotFound.
func (s *Store) Get(ref ident.VariableRef) (clock.VTQ, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[ref]
	if !ok {
		return clock.VTQ{}, merr.Wrap(merr.Request, ErrNotFound, ref.String())
	}
	return e.vtq, nil
}

// HasHistory reports whether ref was registered with history enabled.
func (s *Store) HasHistory(ref ident.VariableRef) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[ref].history
}

// DataType returns the declared data type for ref, as supplied by the
// most recent Sync. Empty if ref is unknown.
func (s *Store) DataType(ref ident.VariableRef) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[ref].dataType
}

// VariableValue is one entry of an Update batch: the ref to update and
// its proposed new value.
type VariableValue struct {
	Ref   ident.VariableRef
	Value clock.VTQ
}

// Change is one entry of the batch returned by Update: the ref's value
// immediately before and after the call. Previous.Quality == Bad with a
// zero Time indicates there was no prior value.
type Change struct {
	Ref      ident.VariableRef
	Previous clock.VTQ
	Current  clock.VTQ
	Applied  bool
}

// RejectStale, if true, causes Update to refuse any value whose
// timestamp is strictly older than the value already stored for that
// ref. spec.md §4.2 leaves this configurable.
type Options struct {
	RejectStale bool
}

// Update applies a batch of VariableValue writes atomically within this
// module: the output order matches the input order, and no other
// caller observes a partial application of the batch.
func (s *Store) Update(batch []VariableValue, opts Options) []Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Change, len(batch))
	for i, vv := range batch {
		prior, existed := s.entries[vv.Ref]

		if opts.RejectStale && existed && vv.Value.Time.Before(prior.vtq.Time) {
			out[i] = Change{
				Ref:      vv.Ref,
				Previous: prior.vtq,
				Current:  prior.vtq,
				Applied:  false,
			}
			continue
		}

		next := entry{vtq: vv.Value, history: prior.history, dataType: prior.dataType}
		s.entries[vv.Ref] = next

		out[i] = Change{
			Ref:      vv.Ref,
			Previous: prior.vtq,
			Current:  vv.Value,
			Applied:  true,
		}
	}
	return out
}

// ObjectInfo describes one object's declared variable set, as supplied
// by a module after (re-)initialization. It is the unit Sync
// reconciles the store against.
type ObjectInfo struct {
	Object    ident.ObjectRef
	Variables []VariableDescriptor
}

// VariableDescriptor is the subset of spec.md §3's Variable descriptor
// that Sync receives. Sync reads Name, DataType, Default and
// HistoryKept; Dimension is carried but not compared.
type VariableDescriptor struct {
	Name         string
	DataType     string
	Dimension    int
	Default      clock.VTQ
	HistoryKept  bool
}

// Sync reconciles the store's contents with a module's current
// object/variable declarations: values of variables no longer declared
// are discarded, newly declared variables start at their declared
// default, and every variable still declared keeps its current value
// even if its data type or dimension changed.
func (s *Store) Sync(objects []ObjectInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[ident.VariableRef]VariableDescriptor)
	for _, obj := range objects {
		for _, v := range obj.Variables {
			ref := ident.VariableRef{Object: obj.Object, Name: v.Name}
			wanted[ref] = v
		}
	}

	// Drop anything no longer declared.
	for ref := range s.entries {
		if _, ok := wanted[ref]; !ok {
			delete(s.entries, ref)
		}
	}

	// Seed anything new with its declared default; for anything
	// already present, refresh the history flag and data type and keep
	// the stored value.
	for ref, desc := range wanted {
		cur, existed := s.entries[ref]
		if !existed {
			s.entries[ref] = entry{vtq: desc.Default, history: desc.HistoryKept, dataType: desc.DataType}
			continue
		}
		cur.history = desc.HistoryKept
		cur.dataType = desc.DataType
		s.entries[ref] = cur
	}
}

// Snapshot returns every (ref, VTQ) pair currently held, for Flush or
// for seeding a fresh module instance after a restart.
func (s *Store) Snapshot() map[ident.VariableRef]clock.VTQ {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[ident.VariableRef]clock.VTQ, len(s.entries))
	for ref, e := range s.entries {
		out[ref] = e.vtq
	}
	return out
}

// Load replaces the store's contents wholesale, used when restoring
// from a variables file at module startup.
func (s *Store) Load(values map[ident.VariableRef]clock.VTQ) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[ident.VariableRef]entry, len(values))
	for ref, vtq := range values {
		s.entries[ref] = entry{vtq: vtq}
	}
}
