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

package rpc_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifak-eu/mediator/internal/auth"
	"github.com/ifak-eu/mediator/internal/clock"
	"github.com/ifak-eu/mediator/internal/historian"
	"github.com/ifak-eu/mediator/internal/ident"
	"github.com/ifak-eu/mediator/internal/merr"
	"github.com/ifak-eu/mediator/internal/module"
	"github.com/ifak-eu/mediator/internal/rpc"
	"github.com/ifak-eu/mediator/internal/session"
	"github.com/ifak-eu/mediator/internal/stopper"
	"github.com/ifak-eu/mediator/internal/varstore"
)

// fakeStores is a StoreProvider backed by a single module's Store, the
// shape a real multi-module wiring would use an actual map for.
type fakeStores struct {
	module ident.ModuleID
	store  *varstore.Store
}

func (f *fakeStores) StoreFor(module ident.ModuleID) (*varstore.Store, bool) {
	if module != f.module {
		return nil, false
	}
	return f.store, true
}

func newTestDispatcher(t *testing.T) (*rpc.Dispatcher, *varstore.Store) {
	t.Helper()
	log := logrus.NewEntry(logrus.New())

	sessions := session.NewRegistry(log, time.Minute)
	users := auth.NewDirectory(map[string]auth.Credentials{
		"alice": {Password: "hunter2", Roles: []string{"operator"}},
	})

	hist := historian.NewManager(log)
	ctx := stopper.WithContext(context.Background())
	t.Cleanup(func() { _ = ctx.Stop(5 * time.Second) })
	require.NoError(t, hist.AddDatabase(ctx, historian.DatabaseConfig{
		Name: "db1", Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "db1.db"),
	}))
	hist.AssignModule("m1", "db1")

	sup := module.NewSupervisor(log, noopHost{}, nil, nil)

	st := varstore.New()
	st.Sync([]varstore.ObjectInfo{{
		Object: ident.ObjectRef{Module: "m1", Object: "o1"},
		Variables: []varstore.VariableDescriptor{
			{Name: "temp", DataType: "float", Default: clock.VTQ{Value: float64(0), Quality: clock.Good}},
		},
	}})

	d := rpc.NewDispatcher(log, sessions, users, hist, sup, &fakeStores{module: "m1", store: st}, nil)
	d.SetStarted()
	return d, st
}

type noopHost struct{}

func (noopHost) NotifyVariableValuesChanged(ident.ModuleID, []module.VariableChange) {}
func (noopHost) NotifyConfigChanged(ident.ModuleID, []ident.ObjectRef)               {}
func (noopHost) NotifyAlarmOrEvent(ident.ModuleID, int, string)                      {}

func ref(name string) ident.VariableRef {
	return ident.VariableRef{Object: ident.ObjectRef{Module: "m1", Object: "o1"}, Name: name}
}

func loginAndAuthenticate(t *testing.T, d *rpc.Dispatcher) string {
	t.Helper()
	login := d.Dispatch(context.Background(), "Login", "", &rpc.LoginRequest{User: "alice"})
	require.NoError(t, login.Err)
	loginResp := login.Body.(rpc.LoginResponse)

	digest := auth.Digest("hunter2", loginResp.Challenge, session.ID(loginResp.SessionID))
	authOut := d.Dispatch(context.Background(), "Authenticate", "", &rpc.AuthenticateRequest{
		SessionID: loginResp.SessionID, Digest: digest,
	})
	require.NoError(t, authOut.Err)
	return loginResp.SessionID
}

func TestLoginAuthenticateLogoutRoundTrip(t *testing.T) {
	d, _ := newTestDispatcher(t)
	id := loginAndAuthenticate(t, d)

	who := d.Dispatch(context.Background(), "GetLoginUser", id, &struct{}{})
	require.NoError(t, who.Err)
	assert.Equal(t, "alice", who.Body.(rpc.GetLoginUserResponse).User)

	out := d.Dispatch(context.Background(), "Logout", id, &rpc.LogoutRequest{SessionID: id})
	require.NoError(t, out.Err)

	who2 := d.Dispatch(context.Background(), "GetLoginUser", id, &struct{}{})
	require.Error(t, who2.Err)
}

func TestAuthenticateRejectsWrongDigest(t *testing.T) {
	d, _ := newTestDispatcher(t)
	login := d.Dispatch(context.Background(), "Login", "", &rpc.LoginRequest{User: "alice"})
	require.NoError(t, login.Err)
	loginResp := login.Body.(rpc.LoginResponse)

	out := d.Dispatch(context.Background(), "Authenticate", "", &rpc.AuthenticateRequest{
		SessionID: loginResp.SessionID, Digest: "wrong",
	})
	require.Error(t, out.Err)
}

func TestUnknownMethodFails(t *testing.T) {
	d, _ := newTestDispatcher(t)
	out := d.Dispatch(context.Background(), "DoesNotExist", "", &struct{}{})
	require.Error(t, out.Err)
}

func TestStartupWhitelistBlocksNonLoginMethods(t *testing.T) {
	log := logrus.NewEntry(logrus.New())
	sessions := session.NewRegistry(log, time.Minute)
	users := auth.NewDirectory(nil)
	hist := historian.NewManager(log)
	sup := module.NewSupervisor(log, noopHost{}, nil, nil)
	d := rpc.NewDispatcher(log, sessions, users, hist, sup, &fakeStores{}, nil)
	// d.SetStarted() never called: dispatcher is still starting.

	out := d.Dispatch(context.Background(), "GetLoginUser", "", &struct{}{})
	require.Error(t, out.Err)

	loginOut := d.Dispatch(context.Background(), "Login", "", &rpc.LoginRequest{User: "nobody"})
	require.Error(t, loginOut.Err) // unknown user, but the method itself was allowed through
}

func TestReadWriteVariablesRoundTrip(t *testing.T) {
	d, _ := newTestDispatcher(t)
	id := loginAndAuthenticate(t, d)

	writeOut := d.Dispatch(context.Background(), "WriteVariables", id, &rpc.WriteVariablesRequest{
		Values: []rpc.VariableValue{{Ref: ref("temp"), VTQ: clock.VTQ{Value: float64(21.5), Time: clock.Now(), Quality: clock.Good}}},
	})
	require.NoError(t, writeOut.Err)
	assert.Equal(t, []bool{true}, writeOut.Body.(rpc.WriteVariablesResponse).Applied)

	readOut := d.Dispatch(context.Background(), "ReadVariables", id, &rpc.ReadVariablesRequest{
		Variables: []ident.VariableRef{ref("temp")},
	})
	require.NoError(t, readOut.Err)
	values := readOut.Body.(rpc.ReadVariablesResponse).Values
	require.Len(t, values, 1)
	assert.Equal(t, float64(21.5), values[0].VTQ.Value)
}

func TestHistorianReadRawRoundTrip(t *testing.T) {
	d, _ := newTestDispatcher(t)
	id := loginAndAuthenticate(t, d)

	modifyOut := d.Dispatch(context.Background(), "HistorianModify", id, &rpc.HistorianModifyRequest{
		Ref:  ref("temp"),
		Mode: historian.ModifyInsert,
		Data: []clock.VTQ{{Value: float64(1), Time: 1000, Quality: clock.Good}},
	})
	require.NoError(t, modifyOut.Err)

	readOut := d.Dispatch(context.Background(), "HistorianReadRaw", id, &rpc.HistorianReadRawRequest{
		Ref: ref("temp"), Start: clock.Empty, End: clock.Max, MaxValues: -1, Filter: clock.ExcludeNone,
	})
	require.NoError(t, readOut.Err)
	assert.Len(t, readOut.Body.(rpc.HistorianReadRawResponse).Samples, 1)
}

func TestReadWriteVariablesSyncRoundTrip(t *testing.T) {
	d, _ := newTestDispatcher(t)
	id := loginAndAuthenticate(t, d)

	writeOut := d.Dispatch(context.Background(), "WriteVariablesSync", id, &rpc.WriteVariablesSyncRequest{
		Values: []rpc.VariableValue{{Ref: ref("temp"), VTQ: clock.VTQ{Value: float64(12.5), Time: clock.Now(), Quality: clock.Good}}},
	})
	require.NoError(t, writeOut.Err)
	assert.Equal(t, []bool{true}, writeOut.Body.(rpc.WriteVariablesResponse).Applied)

	readOut := d.Dispatch(context.Background(), "ReadVariablesSync", id, &rpc.ReadVariablesSyncRequest{
		Variables: []ident.VariableRef{ref("temp")},
	})
	require.NoError(t, readOut.Err)
	values := readOut.Body.(rpc.ReadVariablesResponse).Values
	require.Len(t, values, 1)
	assert.Equal(t, float64(12.5), values[0].VTQ.Value)
}

func TestReadVariablesSyncTimesOutWithoutCancellingTheRead(t *testing.T) {
	d, _ := newTestDispatcher(t)
	id := loginAndAuthenticate(t, d)

	out := d.Dispatch(context.Background(), "ReadVariablesSync", id, &rpc.ReadVariablesSyncRequest{
		Variables:     []ident.VariableRef{ref("temp")},
		TimeoutMillis: 1,
	})
	// A 1ms budget may or may not be enough on a fast machine; either a
	// Timeout error or a clean read is an acceptable outcome here, the
	// point under test is that dispatch never blocks past the timeout.
	if out.Err != nil {
		require.True(t, merr.Is(out.Err, merr.Timeout), "unexpected error: %v", out.Err)
	}
}

func TestUpdateConfigNotifiesSubscribedSessions(t *testing.T) {
	d, _ := newTestDispatcher(t)
	id := loginAndAuthenticate(t, d)

	obj := ident.ObjectRef{Module: "m1", Object: "o1"}
	out := d.Dispatch(context.Background(), "EnableConfigChangedEvents", id, &rpc.EnableConfigChangedEventsRequest{
		Objects: []ident.ObjectRef{obj},
	})
	require.NoError(t, out.Err)

	updateOut := d.Dispatch(context.Background(), "UpdateConfig", id, &rpc.UpdateConfigRequest{
		UpdateOrDeleteObjects: []ident.ObjectRef{obj},
	})
	require.NoError(t, updateOut.Err)

	sess, ok := d.SessionByID(id)
	require.True(t, ok)
	assert.Equal(t, 1, sess.Pending())
}

func TestEnableVariableValueChangedEventsAffectsSessionSubscription(t *testing.T) {
	d, _ := newTestDispatcher(t)
	id := loginAndAuthenticate(t, d)

	out := d.Dispatch(context.Background(), "EnableVariableValueChangedEvents", id, &rpc.EnableVariableValueChangedEventsRequest{
		Variables: []ident.VariableRef{ref("temp")},
	})
	require.NoError(t, out.Err)

	sess, ok := d.SessionByID(id)
	require.True(t, ok)
	assert.True(t, sess.WantsVariable(ref("temp"), nil))

	disableOut := d.Dispatch(context.Background(), "DisableChangeEvents", id, &struct{}{})
	require.NoError(t, disableOut.Err)
	assert.False(t, sess.WantsVariable(ref("temp"), nil))
}
