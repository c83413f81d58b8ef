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

package varstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifak-eu/mediator/internal/clock"
	"github.com/ifak-eu/mediator/internal/ident"
	"github.com/ifak-eu/mediator/internal/varstore"
)

func ref(name string) ident.VariableRef {
	return ident.VariableRef{
		Object: ident.ObjectRef{Module: "m1", Object: "o1"},
		Name:   name,
	}
}

func TestGetNotFound(t *testing.T) {
	s := varstore.New()
	_, err := s.Get(ref("x"))
	require.Error(t, err)
}

func TestUpdatePreservesOrderAndAtomicity(t *testing.T) {
	s := varstore.New()
	batch := []varstore.VariableValue{
		{Ref: ref("a"), Value: clock.VTQ{Value: 1, Time: 100, Quality: clock.Good}},
		{Ref: ref("b"), Value: clock.VTQ{Value: 2, Time: 100, Quality: clock.Good}},
		{Ref: ref("a"), Value: clock.VTQ{Value: 3, Time: 200, Quality: clock.Good}},
	}
	changes := s.Update(batch, varstore.Options{})
	require.Len(t, changes, 3)
	assert.Equal(t, ref("a"), changes[0].Ref)
	assert.Equal(t, ref("b"), changes[1].Ref)
	assert.Equal(t, ref("a"), changes[2].Ref)
	assert.True(t, changes[2].Applied)

	got, err := s.Get(ref("a"))
	require.NoError(t, err)
	assert.Equal(t, 3, got.Value)
}

func TestUpdateRejectsStaleWhenConfigured(t *testing.T) {
	s := varstore.New()
	s.Update([]varstore.VariableValue{
		{Ref: ref("a"), Value: clock.VTQ{Value: 1, Time: 200, Quality: clock.Good}},
	}, varstore.Options{})

	changes := s.Update([]varstore.VariableValue{
		{Ref: ref("a"), Value: clock.VTQ{Value: 2, Time: 100, Quality: clock.Good}},
	}, varstore.Options{RejectStale: true})

	require.Len(t, changes, 1)
	assert.False(t, changes[0].Applied)

	got, err := s.Get(ref("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, got.Value)
}

func TestSyncDropsRemovedVariables(t *testing.T) {
	s := varstore.New()
	s.Update([]varstore.VariableValue{
		{Ref: ref("a"), Value: clock.VTQ{Value: 1, Time: 1, Quality: clock.Good}},
		{Ref: ref("b"), Value: clock.VTQ{Value: 2, Time: 1, Quality: clock.Good}},
	}, varstore.Options{})

	s.Sync([]varstore.ObjectInfo{
		{
			Object:    ident.ObjectRef{Module: "m1", Object: "o1"},
			Variables: []varstore.VariableDescriptor{{Name: "a", DataType: "int"}},
		},
	})

	_, err := s.Get(ref("a"))
	require.NoError(t, err)
	_, err = s.Get(ref("b"))
	require.Error(t, err)
}

func TestFlushAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vars.json")

	s := varstore.New()
	s.Update([]varstore.VariableValue{
		{Ref: ref("a"), Value: clock.VTQ{Value: float64(42), Time: 123, Quality: clock.Good}},
	}, varstore.Options{})

	require.NoError(t, s.Flush(path))

	restored := varstore.New()
	require.NoError(t, restored.LoadFile(path))

	got, err := restored.Get(ref("a"))
	require.NoError(t, err)
	assert.Equal(t, float64(42), got.Value)
	assert.Equal(t, clock.Timestamp(123), got.Time)
}

func TestLoadFileMissingIsNotError(t *testing.T) {
	s := varstore.New()
	require.NoError(t, s.LoadFile(filepath.Join(t.TempDir(), "missing.json")))
}
