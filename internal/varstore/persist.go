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

package varstore

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/ifak-eu/mediator/internal/clock"
	"github.com/ifak-eu/mediator/internal/ident"
)

// record is the on-disk shape of one (VariableRef, VTQ) pair. The file
// format is append-tolerant: a truncated final line is ignored rather
// than failing the whole load, since a flush is always a whole-file
// rewrite and a truncated write can only happen mid-crash.
type record struct {
	Module  string `json:"module"`
	Object  string `json:"object"`
	Name    string `json:"name"`
	Value   any    `json:"value"`
	Time    int64  `json:"time"`
	Quality int    `json:"quality"`
}

// Flush writes the store's current contents to path as a whole-file
// rewrite: it writes to a temporary file in the same directory,
// fsyncs it, and renames it over path, so a crash mid-write never
// corrupts the previous snapshot.
func (s *Store) Flush(path string) error {
	snapshot := s.Snapshot()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "creating temp variables file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for ref, vtq := range snapshot {
		rec := record{
			Module:  string(ref.Object.Module),
			Object:  string(ref.Object.Object),
			Name:    ref.Name,
			Value:   vtq.Value,
			Time:    vtq.Time.Millis(),
			Quality: int(vtq.Quality),
		}
		if err := enc.Encode(rec); err != nil {
			tmp.Close()
			return errors.Wrap(err, "encoding variables file")
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "flushing variables file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "fsyncing variables file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing variables file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "renaming variables file into place")
	}
	return nil
}

// LoadFile reads the variables file written by Flush and installs its
// contents into the store via Load. A missing file is not an error: it
// means the module has never flushed before.
func (s *Store) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "opening variables file")
	}
	defer f.Close()

	values := make(map[ident.VariableRef]clock.VTQ)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	badLine := false
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if badLine {
			return errors.New("corrupt variables file: unparsable line before the last line")
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			// A truncated final line from a crash mid-write is
			// tolerated; anything else is a real corruption.
			badLine = true
			continue
		}
		ref := ident.VariableRef{
			Object: ident.ObjectRef{
				Module: ident.ModuleID(rec.Module),
				Object: ident.ObjectID(rec.Object),
			},
			Name: rec.Name,
		}
		values[ref] = clock.VTQ{
			Value:   rec.Value,
			Time:    clock.Timestamp(rec.Time),
			Quality: clock.Quality(rec.Quality),
		}
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(err, "reading variables file")
	}
	s.Load(values)
	return nil
}
