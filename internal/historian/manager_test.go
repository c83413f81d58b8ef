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

package historian_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ifak-eu/mediator/internal/clock"
	"github.com/ifak-eu/mediator/internal/historian"
	"github.com/ifak-eu/mediator/internal/ident"
	"github.com/ifak-eu/mediator/internal/stopper"
)

func newTestManager(t *testing.T) (*historian.Manager, *stopper.Context) {
	t.Helper()
	log := logrus.NewEntry(logrus.New())
	m := historian.NewManager(log)

	ctx := stopper.WithContext(context.Background())
	t.Cleanup(func() { _ = ctx.Stop(5 * time.Second) })

	require.NoError(t, m.AddDatabase(ctx, historian.DatabaseConfig{
		Name: "db1", Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "db1.db"),
	}))
	m.AssignModule("m1", "db1")
	return m, ctx
}

func TestManagerRoutesByAssignedModule(t *testing.T) {
	m, _ := newTestManager(t)

	futures, err := m.Append([]historian.AppendSample{
		{Ref: testRef("x"), VTQ: clock.VTQ{Value: float64(7), Time: 1, Quality: clock.Good}, Type: "float"},
	})
	require.NoError(t, err)
	require.Len(t, futures, 1)
	_, err = futures[0].Wait(context.Background())
	require.NoError(t, err)

	f, err := m.ReadRaw(historian.ReadRawItem{Ref: testRef("x"), Start: clock.Empty, End: clock.Max, MaxValues: -1, Filter: clock.ExcludeNone})
	require.NoError(t, err)
	res, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
}

func TestManagerRejectsUnassignedModule(t *testing.T) {
	m, _ := newTestManager(t)
	unassigned := ident.VariableRef{Object: ident.ObjectRef{Module: "unknown", Object: "o"}, Name: "v"}
	_, err := m.ReadRaw(historian.ReadRawItem{Ref: unassigned})
	require.Error(t, err)
}

func TestManagerVarHistoryChangeFiresOnAppend(t *testing.T) {
	m, _ := newTestManager(t)

	v := m.VarHistoryChange(testRef("y"))
	_, changed := v.Get()

	_, err := m.Append([]historian.AppendSample{
		{Ref: testRef("y"), VTQ: clock.VTQ{Value: float64(1), Time: 1, Quality: clock.Good}, Type: "float"},
	})
	require.NoError(t, err)

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("expected VarHistoryChange to fire")
	}
}

func TestManagerBacklogReportsQueueDepth(t *testing.T) {
	m, _ := newTestManager(t)
	n, err := m.Backlog("m1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 0)
}

func TestManagerOnHistoryChangeFiresForEverySample(t *testing.T) {
	m, _ := newTestManager(t)

	type seen struct {
		ref ident.VariableRef
		val clock.VTTQ
	}
	fired := make(chan seen, 1)
	m.OnHistoryChange(func(ref ident.VariableRef, v clock.VTTQ) {
		fired <- seen{ref: ref, val: v}
	})

	_, err := m.Append([]historian.AppendSample{
		{Ref: testRef("z"), VTQ: clock.VTQ{Value: float64(9), Time: 1, Quality: clock.Good}, Type: "float"},
	})
	require.NoError(t, err)

	select {
	case s := <-fired:
		require.Equal(t, testRef("z"), s.ref)
		require.Equal(t, float64(9), s.val.Value)
	case <-time.After(time.Second):
		t.Fatal("expected OnHistoryChange to fire")
	}
}
