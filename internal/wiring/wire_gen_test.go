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
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ifak-eu/mediator/internal/clock"
	"github.com/ifak-eu/mediator/internal/historian"
	"github.com/ifak-eu/mediator/internal/ident"
	"github.com/ifak-eu/mediator/internal/module"
	"github.com/ifak-eu/mediator/internal/session"
	"github.com/ifak-eu/mediator/internal/stopper"
	"github.com/ifak-eu/mediator/internal/varstore"
)

func TestSupervisorHostForwardsHistoryKeptChangesToHistorian(t *testing.T) {
	log := logrus.NewEntry(logrus.New())

	st := varstore.New()
	st.Sync([]varstore.ObjectInfo{{
		Object: ident.ObjectRef{Module: "m1", Object: "o1"},
		Variables: []varstore.VariableDescriptor{
			{Name: "kept", DataType: "float", HistoryKept: true},
			{Name: "notkept", DataType: "float", HistoryKept: false},
		},
	}})
	stores := &moduleStores{byModule: map[ident.ModuleID]*varstore.Store{"m1": st}}

	hist := historian.NewManager(log)
	ctx := stopper.WithContext(context.Background())
	t.Cleanup(func() { _ = ctx.Stop(5 * time.Second) })
	require.NoError(t, hist.AddDatabase(ctx, historian.DatabaseConfig{
		Name: "db1", Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "db1.db"),
	}))
	hist.AssignModule("m1", "db1")

	host := &supervisorHost{
		log:      log,
		sessions: session.NewRegistry(log, time.Minute),
		stores:   stores,
		hist:     hist,
	}

	keptRef := ident.VariableRef{Object: ident.ObjectRef{Module: "m1", Object: "o1"}, Name: "kept"}
	notKeptRef := ident.VariableRef{Object: ident.ObjectRef{Module: "m1", Object: "o1"}, Name: "notkept"}

	host.NotifyVariableValuesChanged("m1", []module.VariableChange{
		{Ref: keptRef, Value: clock.VTQ{Value: float64(42), Time: clock.Now(), Quality: clock.Good}},
		{Ref: notKeptRef, Value: clock.VTQ{Value: float64(1), Time: clock.Now(), Quality: clock.Good}},
	})

	f, err := hist.ReadRaw(historian.ReadRawItem{
		Ref: keptRef, Start: clock.Empty, End: clock.Max, MaxValues: -1, Filter: clock.ExcludeNone,
	})
	require.NoError(t, err)
	res, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, float64(42), res.Rows[0].Value)

	f, err = hist.ReadRaw(historian.ReadRawItem{
		Ref: notKeptRef, Start: clock.Empty, End: clock.Max, MaxValues: -1, Filter: clock.ExcludeNone,
	})
	require.NoError(t, err)
	res, err = f.Wait(context.Background())
	require.NoError(t, err)
	require.Empty(t, res.Rows)
}
