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

//go:build historian_integration

package historian_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ifak-eu/mediator/internal/clock"
	"github.com/ifak-eu/mediator/internal/historian"
	"github.com/ifak-eu/mediator/internal/stopper"
)

// TestPostgresDialectRoundTrip exercises the postgres Dialect against a
// disposable container. It is excluded from the default test run since
// it requires a working Docker daemon; run with
// `go test -tags historian_integration ./internal/historian/...`.
func TestPostgresDialectRoundTrip(t *testing.T) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "mediator",
			"POSTGRES_DB":       "historian",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://postgres:mediator@%s:%s/historian?sslmode=disable", host, port.Port())

	dialect, err := historian.NewDialect("pgx")
	require.NoError(t, err)
	w := historian.NewWorker(logrus.NewEntry(logrus.New()), "pg-test", dialect, dsn, true)

	sctx := stopper.WithContext(ctx)
	sctx.Go(func() error { return w.Run(sctx) })
	t.Cleanup(func() { _ = sctx.Stop(5 * time.Second) })

	ref := testRef("pg")
	f := w.Post(historian.WorkItem{Kind: historian.KindAppend, Append: &historian.AppendItem{
		Samples: []historian.AppendSample{
			{Ref: ref, VTQ: clock.VTQ{Value: float64(42), Time: 1000, Quality: clock.Good}, Type: "float"},
		},
	}})
	_, err = f.Wait(ctx)
	require.NoError(t, err)

	f = w.Post(historian.WorkItem{Kind: historian.KindReadRaw, ReadRaw: &historian.ReadRawItem{
		Ref: ref, Start: clock.Empty, End: clock.Max, MaxValues: -1, Filter: clock.ExcludeNone,
	}})
	res, err := f.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, float64(42), res.Rows[0].Value)
}
