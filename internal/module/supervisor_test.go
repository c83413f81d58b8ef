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

package module_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ifak-eu/mediator/internal/diag"
	"github.com/ifak-eu/mediator/internal/ident"
	"github.com/ifak-eu/mediator/internal/module"
	"github.com/ifak-eu/mediator/internal/stopper"
)

type fakeHost struct{}

func (fakeHost) NotifyVariableValuesChanged(ident.ModuleID, []module.VariableChange) {}
func (fakeHost) NotifyConfigChanged(ident.ModuleID, []ident.ObjectRef)               {}
func (fakeHost) NotifyAlarmOrEvent(ident.ModuleID, int, string)                      {}

type fakeModule struct {
	initErr   error
	runErr    error
	initCount int32
	runCount  int32
	abortCount int32
	blockRun  bool
}

func (m *fakeModule) Init(context.Context, module.Config, module.Host) error {
	atomic.AddInt32(&m.initCount, 1)
	return m.initErr
}

func (m *fakeModule) Run(ctx context.Context, shouldStop module.ShutdownPredicate) error {
	atomic.AddInt32(&m.runCount, 1)
	if !m.blockRun {
		return m.runErr
	}
	for !shouldStop() {
		time.Sleep(time.Millisecond)
	}
	return m.runErr
}

func (m *fakeModule) InitAbort(context.Context) {
	atomic.AddInt32(&m.abortCount, 1)
}

func registerFake(t *testing.T, implClass string, mod *fakeModule) {
	t.Helper()
	module.Register(implClass, func() module.Module { return mod })
}

func TestSupervisorSequentialInitOrder(t *testing.T) {
	a, b := &fakeModule{}, &fakeModule{}
	registerFake(t, "seq-a", a)
	registerFake(t, "seq-b", b)

	cfgs := []module.Config{
		{ID: "a", ImplClass: "seq-a", Enabled: true, ConcurrentInit: false},
		{ID: "b", ImplClass: "seq-b", Enabled: true, ConcurrentInit: false},
	}
	sup := module.NewSupervisor(logrus.NewEntry(logrus.New()), fakeHost{}, diag.New(), cfgs)

	ctx := stopper.WithContext(context.Background())
	require.NoError(t, sup.Start(ctx))
	t.Cleanup(func() { _ = ctx.Stop(2 * time.Second) })

	require.Equal(t, int32(1), atomic.LoadInt32(&a.initCount))
	require.Equal(t, int32(1), atomic.LoadInt32(&b.initCount))

	state, err := sup.StateOf("a")
	require.NoError(t, err)
	require.Equal(t, module.Running, state)
}

func TestSupervisorAbortsOnInitFailure(t *testing.T) {
	good := &fakeModule{}
	badMod := &fakeModule{}
	badMod.initErr = context.Canceled // any non-nil error

	registerFake(t, "abort-good", good)
	registerFake(t, "abort-bad", badMod)

	cfgs := []module.Config{
		{ID: "good", ImplClass: "abort-good", Enabled: true},
		{ID: "bad", ImplClass: "abort-bad", Enabled: true},
	}
	sup := module.NewSupervisor(logrus.NewEntry(logrus.New()), fakeHost{}, diag.New(), cfgs)

	ctx := stopper.WithContext(context.Background())
	err := sup.Start(ctx)
	require.Error(t, err)
	t.Cleanup(func() { _ = ctx.Stop(2 * time.Second) })

	require.Equal(t, int32(1), atomic.LoadInt32(&good.abortCount))
}

func TestSupervisorRestartsFailedRunLoop(t *testing.T) {
	mod := &fakeModule{}
	registerFake(t, "restart-me", mod)

	cfgs := []module.Config{{ID: "r", ImplClass: "restart-me", Enabled: true}}
	sup := module.NewSupervisor(logrus.NewEntry(logrus.New()), fakeHost{}, diag.New(), cfgs)

	ctx := stopper.WithContext(context.Background())
	require.NoError(t, sup.Start(ctx))
	t.Cleanup(func() { _ = ctx.Stop(2 * time.Second) })

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&mod.runCount) >= 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSupervisorShutdownInvokesInitAbort(t *testing.T) {
	mod := &fakeModule{blockRun: true}
	registerFake(t, "shutdown-me", mod)

	cfgs := []module.Config{{ID: "s", ImplClass: "shutdown-me", Enabled: true}}
	sup := module.NewSupervisor(logrus.NewEntry(logrus.New()), fakeHost{}, diag.New(), cfgs)

	ctx := stopper.WithContext(context.Background())
	require.NoError(t, sup.Start(ctx))

	sup.Shutdown(context.Background())
	require.GreaterOrEqual(t, atomic.LoadInt32(&mod.abortCount), int32(1))

	_ = ctx.Stop(2 * time.Second)
}
