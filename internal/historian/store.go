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

package historian

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/ifak-eu/mediator/internal/clock"
	"github.com/ifak-eu/mediator/internal/ident"
)

// channelStore owns one open database handle and the set of channels
// (per-variable data tables) that have been materialized within it. It
// implements the SQL side of every WorkItem kind; Worker owns the
// single goroutine that serializes calls into it.
type channelStore struct {
	dialect Dialect
	db      *sql.DB

	// channels caches table names for variables already materialized
	// this session, avoiding a channel_defs round-trip on every
	// Append.
	channels map[ident.VariableRef]string
}

func openChannelStore(dialect Dialect, dsn string) (*channelStore, error) {
	db, err := dialect.Open(dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(context.Background(), dialect.CreateChannelIndexTable()); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating channel index table")
	}
	return &channelStore{dialect: dialect, db: db, channels: make(map[ident.VariableRef]string)}, nil
}

func (s *channelStore) close() error {
	return s.db.Close()
}

// channelTable returns the data table name for ref, materializing a
// new channel (index row + data table) on first use. dataType is only
// consulted the first time a channel is created.
func (s *channelStore) channelTable(ctx context.Context, ref ident.VariableRef, dataType string) (string, error) {
	if name, ok := s.channels[ref]; ok {
		return name, nil
	}

	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT table_name FROM channel_defs WHERE obj = %s AND var = %s",
			s.dialect.Placeholder(1), s.dialect.Placeholder(2)),
		ref.Object.String(), ref.Name)
	var table string
	switch err := row.Scan(&table); {
	case err == nil:
		s.channels[ref] = table
		return table, nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to create it
	default:
		return "", errors.Wrap(err, "looking up channel")
	}

	table = ident.Channel(ref).TableName()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.Wrap(err, "beginning channel creation transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.dialect.CreateChannelDataTable(table)); err != nil {
		return "", errors.Wrap(err, "creating channel data table")
	}
	insertDef := fmt.Sprintf("INSERT INTO channel_defs (obj, var, type, table_name) VALUES (%s, %s, %s, %s)",
		s.dialect.Placeholder(1), s.dialect.Placeholder(2), s.dialect.Placeholder(3), s.dialect.Placeholder(4))
	if _, err := tx.ExecContext(ctx, insertDef, ref.Object.String(), ref.Name, dataType, table); err != nil {
		return "", errors.Wrap(err, "registering channel")
	}
	if err := tx.Commit(); err != nil {
		return "", errors.Wrap(err, "committing channel creation")
	}

	s.channels[ref] = table
	return table, nil
}

// append commits every sample in item inside a single transaction,
// materializing channels as needed. Samples for variables that fail to
// materialize are reported individually rather than aborting the whole
// batch, matching spec.md §4.3's per-item error reporting for Append.
func (s *channelStore) append(ctx context.Context, item *AppendItem) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "beginning append transaction")
	}
	defer tx.Rollback()

	itemErrs := make([]string, len(item.Samples))
	now := clock.Now()
	for i, sample := range item.Samples {
		table, err := s.channelTableTx(ctx, tx, sample.Ref, sample.Type)
		if err != nil {
			itemErrs[i] = err.Error()
			continue
		}
		data, err := json.Marshal(sample.VTQ.Value)
		if err != nil {
			itemErrs[i] = errors.Wrap(err, "encoding sample value").Error()
			continue
		}
		stmt := s.dialect.UpsertChannelData(table)
		if _, err := tx.ExecContext(ctx, stmt, sample.VTQ.Time.Millis(), now.Millis(), int(sample.VTQ.Quality), string(data)); err != nil {
			itemErrs[i] = errors.Wrap(err, "inserting sample").Error()
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing append")
	}
	return itemErrs, nil
}

// channelTableTx is channelTable's transaction-scoped counterpart,
// used within append so channel materialization and the row insert
// share one commit.
func (s *channelStore) channelTableTx(ctx context.Context, tx *sql.Tx, ref ident.VariableRef, dataType string) (string, error) {
	if name, ok := s.channels[ref]; ok {
		return name, nil
	}

	row := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT table_name FROM channel_defs WHERE obj = %s AND var = %s",
			s.dialect.Placeholder(1), s.dialect.Placeholder(2)),
		ref.Object.String(), ref.Name)
	var table string
	switch err := row.Scan(&table); {
	case err == nil:
		s.channels[ref] = table
		return table, nil
	case errors.Is(err, sql.ErrNoRows):
	default:
		return "", errors.Wrap(err, "looking up channel")
	}

	table = ident.Channel(ref).TableName()
	if _, err := tx.ExecContext(ctx, s.dialect.CreateChannelDataTable(table)); err != nil {
		return "", errors.Wrap(err, "creating channel data table")
	}
	insertDef := fmt.Sprintf("INSERT INTO channel_defs (obj, var, type, table_name) VALUES (%s, %s, %s, %s)",
		s.dialect.Placeholder(1), s.dialect.Placeholder(2), s.dialect.Placeholder(3), s.dialect.Placeholder(4))
	if _, err := tx.ExecContext(ctx, insertDef, ref.Object.String(), ref.Name, dataType, table); err != nil {
		return "", errors.Wrap(err, "registering channel")
	}

	s.channels[ref] = table
	return table, nil
}

// readRaw returns the samples for item's variable within [Start, End),
// quality-filtered, then bounded to MaxValues by the requested method.
func (s *channelStore) readRaw(ctx context.Context, item *ReadRawItem) ([]clock.VTTQ, error) {
	table, ok := s.channels[item.Ref]
	if !ok {
		var err error
		table, err = s.lookupTable(ctx, item.Ref)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		} else if err != nil {
			return nil, err
		}
	}

	q := fmt.Sprintf("SELECT time, diffDB, quality, data FROM %q WHERE time >= %s AND time < %s ORDER BY time ASC",
		table, s.dialect.Placeholder(1), s.dialect.Placeholder(2))
	rows, err := s.db.QueryContext(ctx, q, int64(item.Start), int64(item.End))
	if err != nil {
		return nil, errors.Wrap(err, "reading channel")
	}
	defer rows.Close()

	var out []clock.VTTQ
	for rows.Next() {
		v, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		if item.Filter.Accepts(v.Quality) {
			out = append(out, v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating channel rows")
	}
	return boundSamples(out, item.MaxValues, item.Bounding), nil
}

func scanRow(rows *sql.Rows) (clock.VTTQ, error) {
	var (
		t, dbTime int64
		quality   int
		data      string
	)
	if err := rows.Scan(&t, &dbTime, &quality, &data); err != nil {
		return clock.VTTQ{}, errors.Wrap(err, "scanning channel row")
	}
	var value any
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		return clock.VTTQ{}, errors.Wrap(err, "decoding sample value")
	}
	return clock.VTTQ{
		VTQ: clock.VTQ{
			Value:   value,
			Time:    clock.Timestamp(t),
			Quality: clock.Quality(quality),
		},
		DBTime: clock.Timestamp(dbTime),
	}, nil
}

// boundSamples reduces rows (already time-ordered ascending) to at
// most maxValues entries per the requested BoundingMethod. maxValues
// == 0 returns no rows at all, per spec.md §8's boundary behaviour;
// a negative maxValues means unbounded.
func boundSamples(rows []clock.VTTQ, maxValues int, method BoundingMethod) []clock.VTTQ {
	if maxValues == 0 {
		return nil
	}
	if maxValues < 0 || len(rows) <= maxValues {
		return rows
	}
	switch method {
	case TakeFirstN:
		return rows[:maxValues]
	case TakeLastN:
		return rows[len(rows)-maxValues:]
	case CompressToN:
		out := make([]clock.VTTQ, 0, maxValues)
		stride := float64(len(rows)) / float64(maxValues)
		for i := 0; i < maxValues; i++ {
			out = append(out, rows[int(float64(i)*stride)])
		}
		return out
	default:
		return rows[:maxValues]
	}
}

func (s *channelStore) count(ctx context.Context, item *CountItem) (int64, error) {
	table, err := s.lookupTable(ctx, item.Ref)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}

	if item.Filter == clock.ExcludeNone {
		q := fmt.Sprintf("SELECT COUNT(*) FROM %q WHERE time >= %s AND time < %s",
			table, s.dialect.Placeholder(1), s.dialect.Placeholder(2))
		var n int64
		err := s.db.QueryRowContext(ctx, q, int64(item.Start), int64(item.End)).Scan(&n)
		return n, errors.Wrap(err, "counting channel rows")
	}

	// Quality filtering beyond ExcludeNone needs a per-row decision
	// mirroring Accepts, so fetch qualities and count in Go rather
	// than expressing the bit test in SQL per-dialect.
	q := fmt.Sprintf("SELECT quality FROM %q WHERE time >= %s AND time < %s",
		table, s.dialect.Placeholder(1), s.dialect.Placeholder(2))
	rows, err := s.db.QueryContext(ctx, q, int64(item.Start), int64(item.End))
	if err != nil {
		return 0, errors.Wrap(err, "counting channel rows")
	}
	defer rows.Close()
	var n int64
	for rows.Next() {
		var quality int
		if err := rows.Scan(&quality); err != nil {
			return 0, errors.Wrap(err, "scanning quality")
		}
		if item.Filter.Accepts(clock.Quality(quality)) {
			n++
		}
	}
	return n, errors.Wrap(rows.Err(), "iterating channel rows")
}

func (s *channelStore) deleteInterval(ctx context.Context, item *DeleteIntervalItem) error {
	table, err := s.lookupTable(ctx, item.Ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	} else if err != nil {
		return err
	}
	q := fmt.Sprintf("DELETE FROM %q WHERE time >= %s AND time < %s",
		table, s.dialect.Placeholder(1), s.dialect.Placeholder(2))
	_, err = s.db.ExecContext(ctx, q, int64(item.Start), int64(item.End))
	return errors.Wrap(err, "deleting channel interval")
}

func (s *channelStore) getLatest(ctx context.Context, item *GetLatestItem) (clock.Timestamp, error) {
	table, err := s.lookupTable(ctx, item.Ref)
	if errors.Is(err, sql.ErrNoRows) {
		return clock.Empty, nil
	} else if err != nil {
		return clock.Empty, err
	}
	q := fmt.Sprintf("SELECT MAX(diffDB) FROM %q", table)
	var ts sql.NullInt64
	if err := s.db.QueryRowContext(ctx, q).Scan(&ts); err != nil {
		return clock.Empty, errors.Wrap(err, "reading latest insertion timestamp")
	}
	if !ts.Valid {
		return clock.Empty, nil
	}
	return clock.Timestamp(ts.Int64), nil
}

// modify applies item's edit against the channel's table, enforcing
// the mode-specific preconditions from spec.md §4.3: Insert refuses to
// run if any timestamp in the batch already exists, Update refuses to
// run if any is missing, Upsert and ReplaceAll never fail on that
// account, and Delete removes by timestamp only.
func (s *channelStore) modify(ctx context.Context, item *ModifyItem) error {
	table, err := s.channelTable(ctx, item.Ref, "")
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning modify transaction")
	}
	defer tx.Rollback()

	switch item.Mode {
	case ModifyDelete:
		for _, v := range item.Data {
			q := fmt.Sprintf("DELETE FROM %q WHERE time = %s", table, s.dialect.Placeholder(1))
			if _, err := tx.ExecContext(ctx, q, int64(v.Time)); err != nil {
				return errors.Wrap(err, "deleting sample")
			}
		}
	case ModifyReplaceAll:
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %q", table)); err != nil {
			return errors.Wrap(err, "clearing channel for replace-all")
		}
		if err := s.insertAll(ctx, tx, table, item.Data); err != nil {
			return err
		}
	case ModifyInsert:
		for _, v := range item.Data {
			if exists, err := s.rowExists(ctx, tx, table, v.Time); err != nil {
				return err
			} else if exists {
				return errors.Errorf("modify insert: timestamp %s already exists", v.Time)
			}
		}
		if err := s.insertAll(ctx, tx, table, item.Data); err != nil {
			return err
		}
	case ModifyUpdate:
		for _, v := range item.Data {
			if exists, err := s.rowExists(ctx, tx, table, v.Time); err != nil {
				return err
			} else if !exists {
				return errors.Errorf("modify update: timestamp %s does not exist", v.Time)
			}
		}
		if err := s.insertAll(ctx, tx, table, item.Data); err != nil {
			return err
		}
	case ModifyUpsert:
		if err := s.insertAll(ctx, tx, table, item.Data); err != nil {
			return err
		}
	default:
		return errors.Errorf("modify: unknown mode %d", item.Mode)
	}

	return errors.Wrap(tx.Commit(), "committing modify")
}

func (s *channelStore) rowExists(ctx context.Context, tx *sql.Tx, table string, t clock.Timestamp) (bool, error) {
	q := fmt.Sprintf("SELECT 1 FROM %q WHERE time = %s", table, s.dialect.Placeholder(1))
	var dummy int
	err := tx.QueryRowContext(ctx, q, int64(t)).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, errors.Wrap(err, "checking row existence")
}

func (s *channelStore) insertAll(ctx context.Context, tx *sql.Tx, table string, data []clock.VTQ) error {
	stmt := s.dialect.UpsertChannelData(table)
	now := clock.Now()
	for _, v := range data {
		enc, err := json.Marshal(v.Value)
		if err != nil {
			return errors.Wrap(err, "encoding sample value")
		}
		if _, err := tx.ExecContext(ctx, stmt, int64(v.Time), now.Millis(), int(v.Quality), string(enc)); err != nil {
			return errors.Wrap(err, "writing sample")
		}
	}
	return nil
}

// deleteVariables drops the data tables for every ref in item and
// removes their channel_defs rows, used for object-tree deletion.
func (s *channelStore) deleteVariables(ctx context.Context, item *DeleteItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning delete transaction")
	}
	defer tx.Rollback()

	for _, ref := range item.Refs {
		table, err := s.lookupTableTx(ctx, tx, ref)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		} else if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %q", table)); err != nil {
			return errors.Wrap(err, "dropping channel table")
		}
		q := fmt.Sprintf("DELETE FROM channel_defs WHERE obj = %s AND var = %s",
			s.dialect.Placeholder(1), s.dialect.Placeholder(2))
		if _, err := tx.ExecContext(ctx, q, ref.Object.String(), ref.Name); err != nil {
			return errors.Wrap(err, "removing channel definition")
		}
		delete(s.channels, ref)
	}
	return errors.Wrap(tx.Commit(), "committing delete")
}

func (s *channelStore) lookupTable(ctx context.Context, ref ident.VariableRef) (string, error) {
	if name, ok := s.channels[ref]; ok {
		return name, nil
	}
	q := fmt.Sprintf("SELECT table_name FROM channel_defs WHERE obj = %s AND var = %s",
		s.dialect.Placeholder(1), s.dialect.Placeholder(2))
	var table string
	err := s.db.QueryRowContext(ctx, q, ref.Object.String(), ref.Name).Scan(&table)
	if err == nil {
		s.channels[ref] = table
	}
	return table, err
}

func (s *channelStore) lookupTableTx(ctx context.Context, tx *sql.Tx, ref ident.VariableRef) (string, error) {
	if name, ok := s.channels[ref]; ok {
		return name, nil
	}
	q := fmt.Sprintf("SELECT table_name FROM channel_defs WHERE obj = %s AND var = %s",
		s.dialect.Placeholder(1), s.dialect.Placeholder(2))
	var table string
	err := tx.QueryRowContext(ctx, q, ref.Object.String(), ref.Name).Scan(&table)
	return table, err
}
