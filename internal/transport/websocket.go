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

package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ifak-eu/mediator/internal/session"
)

// pollInterval is how often an idle socket checks its session's
// outbound queue for newly enqueued events.
const pollInterval = 100 * time.Millisecond

// ackText is the literal acknowledgement a client sends after
// processing an event frame, per spec.md §4.6's event/ack protocol.
const ackText = "OK"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// bindRequest is the single handshake frame a client sends immediately
// after the WebSocket upgrade, binding the socket to an already
// authenticated session.
type bindRequest struct {
	SessionID string `json:"sessionId"`
}

// eventFrame is the wire shape of one delivered Event.
type eventFrame struct {
	Kind      session.EventKind `json:"kind"`
	Variable  any               `json:"variable,omitempty"`
	Value     any               `json:"value,omitempty"`
	Object    any               `json:"object,omitempty"`
	Severity  int               `json:"severity,omitempty"`
	Message   string            `json:"message,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// sessionSockets tracks the live WebSocket for every bound session, so
// Shutdown can close them all.
type sessionSockets struct {
	log *logrus.Entry

	mu    sync.Mutex
	conns map[session.ID]*websocket.Conn
}

func newSessionSockets(log *logrus.Entry) *sessionSockets {
	return &sessionSockets{log: log, conns: make(map[session.ID]*websocket.Conn)}
}

func (s *sessionSockets) bind(id session.ID, c *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.conns[id]; ok {
		_ = old.Close()
	}
	s.conns[id] = c
}

func (s *sessionSockets) unbind(id session.ID, c *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[id] == c {
		delete(s.conns, id)
	}
}

func (s *sessionSockets) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.conns {
		_ = c.Close()
		delete(s.conns, id)
	}
}

// handleWebSocket upgrades the connection, reads the handshake binding
// it to an already authenticated Session, then runs the event-delivery
// loop until the socket closes or the session is abandoned.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxHandshakeBytes)
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return
	}

	var bind bindRequest
	if err := json.Unmarshal(raw, &bind); err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"malformed handshake"}`))
		return
	}

	sess, ok := s.dispatcher.SessionByID(bind.SessionID)
	if !ok {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid session"}`))
		return
	}

	s.sessions.bind(sess.ID, conn)
	defer s.sessions.unbind(sess.ID, conn)

	// Once bound, event frames carry no handshake-sized upper bound;
	// the read side below only ever expects a short ack.
	conn.SetReadLimit(0)

	s.runEventLoop(conn, sess)
}

// runEventLoop drains sess's outbound queue, writing one event frame at
// a time and waiting for the client's "OK" ack before sending the next,
// per spec.md §4.6. Each ack counts as session activity. It exits when
// the socket errors, the client sends anything other than an ack, or
// the session is abandoned; the idle check uses session.DefaultIdleWindow,
// not the Registry's configured idle window.
func (s *Server) runEventLoop(conn *websocket.Conn, sess *session.Session) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for range ticker.C {
		if sess.IsAbandoned(session.DefaultIdleWindow) {
			return
		}

		ev, ok := sess.Dequeue()
		if !ok {
			continue
		}

		frame := toFrame(ev)
		if err := conn.WriteJSON(frame); err != nil {
			sess.MarkAbandoned()
			return
		}

		if _, msg, err := conn.ReadMessage(); err != nil || string(msg) != ackText {
			sess.MarkAbandoned()
			return
		}
		sess.Touch()
	}
}

func toFrame(ev session.Event) eventFrame {
	return eventFrame{
		Kind:      ev.Kind,
		Variable:  ev.Variable,
		Value:     ev.Value,
		Object:    ev.Object,
		Severity:  ev.Severity,
		Message:   ev.Message,
		Timestamp: int64(ev.Timestamp),
	}
}
