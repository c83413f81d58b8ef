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
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ifak-eu/mediator/internal/clock"
	"github.com/ifak-eu/mediator/internal/config"
	"github.com/ifak-eu/mediator/internal/historian"
	"github.com/ifak-eu/mediator/internal/ident"
	"github.com/ifak-eu/mediator/internal/stopper"
	"github.com/ifak-eu/mediator/internal/varstore"
)

func testVarRef(name string) ident.VariableRef {
	return ident.VariableRef{Object: ident.ObjectRef{Module: "m1", Object: "o1"}, Name: name}
}

func TestSchedulerFlushAllWritesVariablesFile(t *testing.T) {
	log := logrus.NewEntry(logrus.New())
	st := varstore.New()
	st.Update([]varstore.VariableValue{
		{Ref: testVarRef("x"), Value: clock.VTQ{Value: float64(1), Time: clock.Now(), Quality: clock.Good}},
	}, varstore.Options{})

	stores := &moduleStores{byModule: map[ident.ModuleID]*varstore.Store{"m1": st}}
	path := filepath.Join(t.TempDir(), "m1.vars")
	doc := &config.Document{
		Modules: []config.ModuleEntry{{ID: "m1", VariablesFileName: path}},
	}

	sched := newScheduler(log, stores, historian.NewManager(log), doc)
	sched.flushAll()

	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestSchedulerSweepRetentionDeletesOldSamples(t *testing.T) {
	log := logrus.NewEntry(logrus.New())

	hist := historian.NewManager(log)
	ctx := stopper.WithContext(context.Background())
	t.Cleanup(func() { _ = ctx.Stop(5 * time.Second) })
	require.NoError(t, hist.AddDatabase(ctx, historian.DatabaseConfig{
		Name: "db1", Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "db1.db"),
	}))
	hist.AssignModule("m1", "db1")

	old := clock.Now() - clock.Timestamp(48*time.Hour/time.Millisecond)
	futures, err := hist.Append([]historian.AppendSample{
		{Ref: testVarRef("x"), VTQ: clock.VTQ{Value: float64(1), Time: old, Quality: clock.Good}, Type: "float"},
	})
	require.NoError(t, err)
	_, err = futures[0].Wait(context.Background())
	require.NoError(t, err)

	st := varstore.New()
	st.Update([]varstore.VariableValue{
		{Ref: testVarRef("x"), Value: clock.VTQ{Value: float64(1), Time: old, Quality: clock.Good}},
	}, varstore.Options{})
	stores := &moduleStores{byModule: map[ident.ModuleID]*varstore.Store{"m1": st}}

	doc := &config.Document{
		Modules:   []config.ModuleEntry{{ID: "m1", Database: "db1"}},
		Databases: []config.Database{{Name: "db1", RetentionDays: 1}},
	}

	sched := newScheduler(log, stores, hist, doc)
	sched.sweepRetention()

	f, err := hist.ReadRaw(historian.ReadRawItem{
		Ref: testVarRef("x"), Start: clock.Empty, End: clock.Max, MaxValues: -1, Filter: clock.ExcludeNone,
	})
	require.NoError(t, err)
	res, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.Empty(t, res.Rows)
}
