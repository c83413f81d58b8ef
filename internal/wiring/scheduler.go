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

package wiring

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ifak-eu/mediator/internal/clock"
	"github.com/ifak-eu/mediator/internal/config"
	"github.com/ifak-eu/mediator/internal/historian"
	"github.com/ifak-eu/mediator/internal/ident"
)

// moduleSchedule is one module's periodic-maintenance bindings: where
// its variable store flushes to, and how long its history is kept.
type moduleSchedule struct {
	variablesFile string
	retentionDays int
}

// scheduler runs the periodic variable-store flush (spec.md §4.2's
// "periodic persistence") and the historian retention sweep, both on
// the teacher's cron.Cron convention rather than a hand-rolled ticker.
type scheduler struct {
	log     *logrus.Entry
	cron    *cron.Cron
	stores  *moduleStores
	hist    *historian.Manager
	modules map[ident.ModuleID]moduleSchedule
}

func newScheduler(log *logrus.Entry, stores *moduleStores, hist *historian.Manager, doc *config.Document) *scheduler {
	retention := make(map[string]int, len(doc.Databases))
	for _, db := range doc.Databases {
		retention[db.Name] = db.RetentionDays
	}

	modules := make(map[ident.ModuleID]moduleSchedule, len(doc.Modules))
	for _, m := range doc.Modules {
		modules[ident.ModuleID(m.ID)] = moduleSchedule{
			variablesFile: m.VariablesFileName,
			retentionDays: retention[m.Database],
		}
	}

	return &scheduler{
		log:     log,
		cron:    cron.New(),
		stores:  stores,
		hist:    hist,
		modules: modules,
	}
}

// Start registers the flush and retention jobs and starts the cron
// scheduler's own goroutine. A module with no VariablesFileName or a
// database with RetentionDays <= 0 is simply skipped by its job.
func (s *scheduler) Start(flushInterval time.Duration) error {
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}
	if _, err := s.cron.AddFunc("@every "+flushInterval.String(), s.flushAll); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@daily", s.sweepRetention); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop drains any in-flight job before returning.
func (s *scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *scheduler) flushAll() {
	for mod, sched := range s.modules {
		if sched.variablesFile == "" {
			continue
		}
		st, ok := s.stores.byModule[mod]
		if !ok {
			continue
		}
		if err := st.Flush(sched.variablesFile); err != nil {
			s.log.WithError(err).WithField("module", mod).Warn("variable store flush failed")
		}
	}
}

// sweepRetention deletes historian samples older than each database's
// configured retention window, for every variable a module's store
// currently knows about.
func (s *scheduler) sweepRetention() {
	now := clock.Now()
	for mod, sched := range s.modules {
		if sched.retentionDays <= 0 {
			continue
		}
		st, ok := s.stores.byModule[mod]
		if !ok {
			continue
		}
		cutoff := now.Add(-clock.DurationFromStd(time.Duration(sched.retentionDays) * 24 * time.Hour))
		for ref := range st.Snapshot() {
			if _, err := s.hist.DeleteInterval(historian.DeleteIntervalItem{Ref: ref, Start: 0, End: cutoff}); err != nil {
				s.log.WithError(err).WithField("variable", ref.String()).Warn("historian retention sweep failed")
			}
		}
	}
}
