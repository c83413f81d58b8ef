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

// Package transport implements spec.md §4.7: a single HTTP listener
// serving the RPC dispatch table over POST, one WebSocket upgrade path
// for session event delivery, and the /healthz and /metrics
// diagnostics endpoints.
package transport

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ifak-eu/mediator/internal/diag"
	"github.com/ifak-eu/mediator/internal/rpc"
)

// maxHandshakeBytes bounds the first frame of a WebSocket session
// binding, per spec.md §6's 1024-byte handshake limit.
const maxHandshakeBytes = 1024

// Server owns the process's single HTTP listener.
type Server struct {
	log        *logrus.Entry
	dispatcher *rpc.Dispatcher
	diag       *diag.Diagnostics
	sessions   *sessionSockets

	httpServer *http.Server
	listener   net.Listener
}

// New constructs a Server bound to addr, ready to Serve.
func New(log *logrus.Entry, addr string, dispatcher *rpc.Dispatcher, diags *diag.Diagnostics) *Server {
	s := &Server{
		log:        log,
		dispatcher: dispatcher,
		diag:       diags,
		sessions:   newSessionSockets(log),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/rpc/", s.handleRPC)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Serve blocks accepting connections until the listener is closed by
// Shutdown.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", s.httpServer.Addr)
	}
	s.listener = ln
	s.log.WithField("addr", ln.Addr().String()).Info("transport listening")

	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr reports the address actually bound, useful when Addr was ":0"
// in tests.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully drains in-flight requests and closes every
// session socket.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sessions.closeAll()
	return s.httpServer.Shutdown(ctx)
}

// handleHealthz runs every registered diagnostic check and reports
// 200 if all pass, 503 otherwise.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report := s.diag.RunAll(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if !report.OK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}

// handleRPC decodes a request per spec.md §4.7's Content-Type
// negotiation, dispatches it, and encodes the Outcome back in the same
// codec, mirroring the request's Accept header when present.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	method := r.URL.Path[len("/rpc/"):]
	if method == "" {
		http.Error(w, "missing method name", http.StatusBadRequest)
		return
	}

	def, ok := rpc.Lookup(method)
	if !ok {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	reqCodec := rpc.CodecFor(r.Header.Get("Content-Type"))
	respCodec := rpc.CodecFor(r.Header.Get("Accept"))

	body := def.NewRequest()
	if err := reqCodec.Decode(r.Body, body); err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	out := s.dispatcher.Dispatch(r.Context(), method, r.Header.Get("X-Session-Id"), body)

	w.Header().Set("Content-Type", respCodec.ContentType())
	if out.Err != nil {
		w.WriteHeader(rpc.StatusFor(out.Err))
		_ = respCodec.Encode(w, rpc.ErrBody(out.Err))
		return
	}
	_ = respCodec.Encode(w, out.Body)
}
