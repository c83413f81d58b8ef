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
	"fmt"

	"github.com/pkg/errors"

	// modernc.org/sqlite registers the "sqlite" driver; jackc/pgx/v5/stdlib
	// registers "pgx" against database/sql so both dialects share the
	// same Querier surface below.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Querier is the subset of *sql.DB / *sql.Tx that dialect SQL needs,
// mirroring how the teacher's TargetQuerier/StagingQuerier interfaces
// let the same call sites run against either a pooled connection or an
// open transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect hides the SQL-text differences between the historian's two
// supported backends behind one set of statement builders. Every
// method returns ready-to-execute SQL plus its placeholder style; the
// store layer supplies the arguments.
type Dialect interface {
	// Open returns a *sql.DB for dsn using this dialect's driver.
	Open(dsn string) (*sql.DB, error)

	// CreateChannelIndexTable returns the DDL for the
	// channel_defs(obj, var, type, table_name) index table.
	CreateChannelIndexTable() string

	// CreateChannelDataTable returns the DDL for one channel's data
	// table: (time INTEGER PRIMARY KEY, diffDB INTEGER, quality
	// INTEGER, data TEXT).
	CreateChannelDataTable(tableName string) string

	// Placeholder returns the positional placeholder for the i'th
	// (1-based) bind argument, since pgx uses $1, $2, ... and SQLite
	// accepts ?.
	Placeholder(i int) string

	// UpsertChannelData returns SQL to insert-or-replace one row keyed
	// by time.
	UpsertChannelData(tableName string) string
}

// NewDialect resolves the Dialect for driverName ("sqlite" or "pgx").
func NewDialect(driverName string) (Dialect, error) {
	switch driverName {
	case "sqlite":
		return sqliteDialect{}, nil
	case "pgx", "postgres":
		return postgresDialect{}, nil
	default:
		return nil, errors.Errorf("historian: unknown dialect %q", driverName)
	}
}

type sqliteDialect struct{}

func (sqliteDialect) Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite historian database")
	}
	// The worker goroutine is the only caller of this handle, so a
	// single connection avoids SQLite's writer-lock contention under
	// concurrent pooled connections.
	db.SetMaxOpenConns(1)
	return db, nil
}

func (sqliteDialect) CreateChannelIndexTable() string {
	return `CREATE TABLE IF NOT EXISTS channel_defs (
		obj TEXT NOT NULL,
		var TEXT NOT NULL,
		type TEXT NOT NULL,
		table_name TEXT NOT NULL,
		PRIMARY KEY (obj, var)
	)`
}

func (sqliteDialect) CreateChannelDataTable(tableName string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		time INTEGER PRIMARY KEY,
		diffDB INTEGER NOT NULL,
		quality INTEGER NOT NULL,
		data TEXT NOT NULL
	)`, tableName)
}

func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) UpsertChannelData(tableName string) string {
	return fmt.Sprintf(`INSERT INTO %q (time, diffDB, quality, data) VALUES (?, ?, ?, ?)
		ON CONFLICT(time) DO UPDATE SET diffDB = excluded.diffDB, quality = excluded.quality, data = excluded.data`, tableName)
}

type postgresDialect struct{}

func (postgresDialect) Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening postgres historian database")
	}
	return db, nil
}

func (postgresDialect) CreateChannelIndexTable() string {
	return `CREATE TABLE IF NOT EXISTS channel_defs (
		obj TEXT NOT NULL,
		var TEXT NOT NULL,
		type TEXT NOT NULL,
		table_name TEXT NOT NULL,
		PRIMARY KEY (obj, var)
	)`
}

func (postgresDialect) CreateChannelDataTable(tableName string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		time BIGINT PRIMARY KEY,
		diffDB BIGINT NOT NULL,
		quality INTEGER NOT NULL,
		data TEXT NOT NULL
	)`, tableName)
}

func (postgresDialect) Placeholder(i int) string { return fmt.Sprintf("$%d", i) }

func (postgresDialect) UpsertChannelData(tableName string) string {
	return fmt.Sprintf(`INSERT INTO %q (time, diffDB, quality, data) VALUES ($1, $2, $3, $4)
		ON CONFLICT(time) DO UPDATE SET diffDB = excluded.diffDB, quality = excluded.quality, data = excluded.data`, tableName)
}
