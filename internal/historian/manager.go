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

package historian

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ifak-eu/mediator/internal/clock"
	"github.com/ifak-eu/mediator/internal/ident"
	"github.com/ifak-eu/mediator/internal/notify"
	"github.com/ifak-eu/mediator/internal/stopper"
)

// DatabaseConfig names one historian database a Manager owns.
type DatabaseConfig struct {
	Name         string
	Driver       string // "sqlite" or "pgx"
	DSN          string
	ReadPriority bool
}

// TimestampCheckWarning is the minimum skew between a sample's own
// time and wall-clock time that triggers a logged warning when
// appending, per spec.md §4.3's clock-skew note.
const TimestampCheckWarning = 5 * time.Minute

// Manager routes historian operations to the Worker owning the target
// variable's database and fans out change notifications to
// subscribers. Each module is statically assigned to exactly one
// configured database.
type Manager struct {
	log *logrus.Entry

	mu        sync.RWMutex
	workers   map[string]*Worker
	moduleDB  map[ident.ModuleID]string
	varChange map[ident.VariableRef]*notify.Var[clock.VTTQ]
	onChange  []func(ident.VariableRef, clock.VTTQ)
}

// NewManager constructs a Manager with no databases configured yet;
// call AddDatabase for each DatabaseConfig before routing requests.
func NewManager(log *logrus.Entry) *Manager {
	return &Manager{
		log:       log,
		workers:   make(map[string]*Worker),
		moduleDB:  make(map[ident.ModuleID]string),
		varChange: make(map[ident.VariableRef]*notify.Var[clock.VTTQ]),
	}
}

// AddDatabase registers a Worker for cfg and launches it under ctx.
func (m *Manager) AddDatabase(ctx *stopper.Context, cfg DatabaseConfig) error {
	dialect, err := NewDialect(cfg.Driver)
	if err != nil {
		return err
	}
	w := NewWorker(m.log.WithField("historian_db", cfg.Name), cfg.Name, dialect, cfg.DSN, cfg.ReadPriority)

	m.mu.Lock()
	m.workers[cfg.Name] = w
	m.mu.Unlock()

	ctx.Go(func() error {
		return w.Run(ctx)
	})
	return nil
}

// AssignModule statically binds a module to the database it writes
// its history into.
func (m *Manager) AssignModule(module ident.ModuleID, database string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moduleDB[module] = database
}

func (m *Manager) workerFor(ref ident.VariableRef) (*Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	db, ok := m.moduleDB[ref.Object.Module]
	if !ok {
		return nil, errors.Errorf("historian: module %s has no assigned database", ref.Object.Module)
	}
	w, ok := m.workers[db]
	if !ok {
		return nil, errors.Errorf("historian: database %q not configured", db)
	}
	return w, nil
}

// Append submits a batch of samples, routed per-sample by the
// variable's owning module, grouping same-database samples into a
// single WorkItem each. It logs (but does not reject) any sample whose
// own timestamp differs from wall-clock time by more than
// TimestampCheckWarning.
func (m *Manager) Append(samples []AppendSample) ([]*Future, error) {
	byWorker := make(map[*Worker][]AppendSample)
	now := clock.Now()
	warn := clock.DurationFromStd(TimestampCheckWarning)
	for _, s := range samples {
		if skew := now.Sub(s.VTQ.Time); skew > warn || skew < -warn {
			m.log.WithField("variable", s.Ref.String()).Warn("historian append with large clock skew")
		}
		w, err := m.workerFor(s.Ref)
		if err != nil {
			return nil, err
		}
		byWorker[w] = append(byWorker[w], s)
	}

	futures := make([]*Future, 0, len(byWorker))
	for w, batch := range byWorker {
		f := w.Post(WorkItem{Kind: KindAppend, Append: &AppendItem{Samples: batch}})
		futures = append(futures, f)
		m.publishChanges(batch)
	}
	return futures, nil
}

// publishChanges updates the per-variable notify.Var so subscribers to
// VarHistoryChange wake as soon as the batch is posted, before its
// Future resolves; it is optimistic (fires at submission, not commit)
// matching the teacher's
// fire-on-enqueue pattern for low-latency dashboards that tolerate an
// occasional notification for a write that later fails.
func (m *Manager) publishChanges(batch []AppendSample) {
	m.mu.Lock()
	subs := m.onChange
	type fired struct {
		ref  ident.VariableRef
		vttq clock.VTTQ
	}
	events := make([]fired, 0, len(batch))
	for _, s := range batch {
		v, ok := m.varChange[s.Ref]
		if !ok {
			v = notify.NewVar(clock.VTTQ{})
			m.varChange[s.Ref] = v
		}
		vttq := clock.VTTQ{VTQ: s.VTQ, DBTime: clock.Now()}
		v.Set(vttq)
		events = append(events, fired{ref: s.Ref, vttq: vttq})
	}
	m.mu.Unlock()

	for _, e := range events {
		for _, fn := range subs {
			fn(e.ref, e.vttq)
		}
	}
}

// VarHistoryChange returns the notify.Var that fires whenever ref
// receives a new historian sample, creating it if this is the first
// subscription for ref.
func (m *Manager) VarHistoryChange(ref ident.VariableRef) *notify.Var[clock.VTTQ] {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.varChange[ref]
	if !ok {
		v = notify.NewVar(clock.VTTQ{})
		m.varChange[ref] = v
	}
	return v
}

// OnHistoryChange registers fn to run synchronously, inline with
// publishChanges, after every sample appended for any variable. This is
// the fan-out point spec.md §4.4 describes the request handler using
// to notify EventVariableHistoryChanged subscribers; it runs under the
// same call as the optimistic VarHistoryChange notification above.
func (m *Manager) OnHistoryChange(fn func(ident.VariableRef, clock.VTTQ)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// ReadRaw submits a bounded, quality-filtered range read.
func (m *Manager) ReadRaw(item ReadRawItem) (*Future, error) {
	w, err := m.workerFor(item.Ref)
	if err != nil {
		return nil, err
	}
	return w.Post(WorkItem{Kind: KindReadRaw, ReadRaw: &item}), nil
}

// Count submits a range count.
func (m *Manager) Count(item CountItem) (*Future, error) {
	w, err := m.workerFor(item.Ref)
	if err != nil {
		return nil, err
	}
	return w.Post(WorkItem{Kind: KindCount, Count: &item}), nil
}

// DeleteInterval submits a range delete.
func (m *Manager) DeleteInterval(item DeleteIntervalItem) (*Future, error) {
	w, err := m.workerFor(item.Ref)
	if err != nil {
		return nil, err
	}
	return w.Post(WorkItem{Kind: KindDeleteInterval, DeleteInterval: &item}), nil
}

// GetLatest submits a latest-insertion-timestamp lookup.
func (m *Manager) GetLatest(item GetLatestItem) (*Future, error) {
	w, err := m.workerFor(item.Ref)
	if err != nil {
		return nil, err
	}
	return w.Post(WorkItem{Kind: KindGetLatest, GetLatest: &item}), nil
}

// Modify submits an Insert/Update/Upsert/ReplaceAll/Delete edit.
func (m *Manager) Modify(item ModifyItem) (*Future, error) {
	w, err := m.workerFor(item.Ref)
	if err != nil {
		return nil, err
	}
	return w.Post(WorkItem{Kind: KindModify, Modify: &item}), nil
}

// DeleteObjectTree submits removal of every listed variable's entire
// history, used when an object is deleted from its owning module.
func (m *Manager) DeleteObjectTree(refs []ident.VariableRef) ([]*Future, error) {
	byWorker := make(map[*Worker][]ident.VariableRef)
	for _, ref := range refs {
		w, err := m.workerFor(ref)
		if err != nil {
			return nil, err
		}
		byWorker[w] = append(byWorker[w], ref)
	}
	futures := make([]*Future, 0, len(byWorker))
	for w, batch := range byWorker {
		futures = append(futures, w.Post(WorkItem{Kind: KindDelete, Delete: &DeleteItem{Refs: batch}}))
	}
	return futures, nil
}

// Backlog reports the queue depth of the database backing module, for
// diagnostics registration.
func (m *Manager) Backlog(module ident.ModuleID) (int, error) {
	m.mu.RLock()
	db, ok := m.moduleDB[module]
	m.mu.RUnlock()
	if !ok {
		return 0, errors.Errorf("historian: module %s has no assigned database", module)
	}
	m.mu.RLock()
	w, ok := m.workers[db]
	m.mu.RUnlock()
	if !ok {
		return 0, errors.Errorf("historian: database %q not configured", db)
	}
	return w.Depth(), nil
}
