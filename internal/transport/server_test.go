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

package transport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ifak-eu/mediator/internal/auth"
	"github.com/ifak-eu/mediator/internal/diag"
	"github.com/ifak-eu/mediator/internal/historian"
	"github.com/ifak-eu/mediator/internal/ident"
	"github.com/ifak-eu/mediator/internal/module"
	"github.com/ifak-eu/mediator/internal/rpc"
	"github.com/ifak-eu/mediator/internal/session"
	"github.com/ifak-eu/mediator/internal/stopper"
	"github.com/ifak-eu/mediator/internal/transport"
	"github.com/ifak-eu/mediator/internal/varstore"
)

type noopHost struct{}

func (noopHost) NotifyVariableValuesChanged(ident.ModuleID, []module.VariableChange) {}
func (noopHost) NotifyConfigChanged(ident.ModuleID, []ident.ObjectRef)               {}
func (noopHost) NotifyAlarmOrEvent(ident.ModuleID, int, string)                      {}

type fakeStores struct {
	module ident.ModuleID
	store  *varstore.Store
}

func (f *fakeStores) StoreFor(m ident.ModuleID) (*varstore.Store, bool) {
	if m != f.module {
		return nil, false
	}
	return f.store, true
}

func newTestServer(t *testing.T) (*transport.Server, *httpLifecycle) {
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
		Object:    ident.ObjectRef{Module: "m1", Object: "o1"},
		Variables: []varstore.VariableDescriptor{{Name: "temp", DataType: "float"}},
	}})

	dispatcher := rpc.NewDispatcher(log, sessions, users, hist, sup, &fakeStores{module: "m1", store: st}, nil)
	dispatcher.SetStarted()

	diags := diag.New()
	srv := transport.New(log, "127.0.0.1:0", dispatcher, diags)

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()
	// Give the listener a moment to bind before tests dial it.
	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "127.0.0.1:0" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	return srv, &httpLifecycle{dispatcher: dispatcher, done: done}
}

type httpLifecycle struct {
	dispatcher *rpc.Dispatcher
	done       chan error
}

func TestHealthzReportsOK(t *testing.T) {
	srv, _ := newTestServer(t)
	defer func() { _ = srv.Shutdown(context.Background()) }()

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report diag.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	require.True(t, report.OK)
}

func TestRPCEndpointLoginRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	defer func() { _ = srv.Shutdown(context.Background()) }()

	body, err := json.Marshal(rpc.LoginRequest{User: "alice"})
	require.NoError(t, err)

	resp, err := http.Post("http://"+srv.Addr()+"/rpc/Login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var loginResp rpc.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&loginResp))
	require.NotEmpty(t, loginResp.SessionID)
	require.NotEmpty(t, loginResp.Challenge)
}

func TestRPCEndpointUnknownMethod(t *testing.T) {
	srv, _ := newTestServer(t)
	defer func() { _ = srv.Shutdown(context.Background()) }()

	resp, err := http.Post("http://"+srv.Addr()+"/rpc/DoesNotExist", "application/json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketBindRejectsUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	defer func() { _ = srv.Shutdown(context.Background()) }()

	url := "ws://" + srv.Addr() + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"sessionId": "does-not-exist"}))
	_, msg, err := conn.ReadMessage()
	if err == nil {
		require.Contains(t, string(msg), "invalid session")
	}
}
