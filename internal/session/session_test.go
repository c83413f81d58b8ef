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

package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifak-eu/mediator/internal/clock"
	"github.com/ifak-eu/mediator/internal/ident"
	"github.com/ifak-eu/mediator/internal/session"
)

func ref(name string) ident.VariableRef {
	return ident.VariableRef{Object: ident.ObjectRef{Module: "m", Object: "o"}, Name: name}
}

func TestEnqueueCoalescesSameVariable(t *testing.T) {
	s := session.New("alice", nil)
	s.EnableVariableValueChanged(session.VariableSubscription{Variables: []ident.VariableRef{ref("a")}, Coalesce: true})

	s.Enqueue(session.Event{Kind: session.EventVariableValueChanged, Variable: ref("a"), Value: clock.VTQ{Value: 1}})
	s.Enqueue(session.Event{Kind: session.EventVariableValueChanged, Variable: ref("a"), Value: clock.VTQ{Value: 2}})

	require.Equal(t, 1, s.Pending())
	ev, ok := s.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 2, ev.Value.Value)
}

func TestEnqueueWithoutCoalescingKeepsBoth(t *testing.T) {
	s := session.New("alice", nil)
	s.EnableVariableValueChanged(session.VariableSubscription{Variables: []ident.VariableRef{ref("a")}, Coalesce: false})

	s.Enqueue(session.Event{Kind: session.EventVariableValueChanged, Variable: ref("a"), Value: clock.VTQ{Value: 1}})
	s.Enqueue(session.Event{Kind: session.EventVariableValueChanged, Variable: ref("a"), Value: clock.VTQ{Value: 2}})

	require.Equal(t, 2, s.Pending())
}

func TestWantsVariableMatchesDirectAndRoot(t *testing.T) {
	s := session.New("alice", nil)
	s.EnableVariableValueChanged(session.VariableSubscription{Roots: []ident.ObjectRef{{Module: "m", Object: "parent"}}})

	assert.True(t, s.WantsVariable(ref("a"), []ident.ObjectRef{{Module: "m", Object: "parent"}}))
	assert.False(t, s.WantsVariable(ref("a"), nil))
}

func TestIsAbandonedAfterIdleWindow(t *testing.T) {
	s := session.New("alice", nil)
	assert.False(t, s.IsAbandoned(time.Hour))
	assert.True(t, s.IsAbandoned(0))
}

func TestMarkAbandonedForcesRemoval(t *testing.T) {
	s := session.New("alice", nil)
	s.MarkAbandoned()
	assert.True(t, s.IsAbandoned(time.Hour))
}

func TestDisableChangeEventsClearsSubscriptions(t *testing.T) {
	s := session.New("alice", nil)
	s.EnableVariableValueChanged(session.VariableSubscription{Variables: []ident.VariableRef{ref("a")}})
	s.EnableHistoryChanged()
	s.DisableChangeEvents()

	assert.False(t, s.WantsVariable(ref("a"), nil))
	assert.False(t, s.WantsHistoryChange())
}

// Abandonment is only acted on by the sweep that Run drives; without
// it, a session past its idle window stays registered.
func TestRegistryKeepsIdleSessionUntilSweepRuns(t *testing.T) {
	reg := session.NewRegistry(nil, time.Millisecond)
	s := session.New("bob", nil)
	reg.Add(s)
	require.Equal(t, 1, reg.Count())

	time.Sleep(5 * time.Millisecond)
	_, ok := reg.Get(s.ID)
	require.True(t, ok)
}
