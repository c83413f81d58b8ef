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

package main

import (
	"context"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ifak-eu/mediator/internal/config"
	"github.com/ifak-eu/mediator/internal/stopper"
	"github.com/ifak-eu/mediator/internal/wiring"
)

// shutdownGrace bounds how long Shutdown waits for in-flight RPCs and
// module Run loops to return before the process exits anyway.
const shutdownGrace = 15 * time.Second

func newServeCmd() *cobra.Command {
	flags := &config.ProcessFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the configuration document and run the process until signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags)
		},
	}
	bindProcessFlags(cmd.Flags(), flags)
	return cmd
}

func bindProcessFlags(fs *pflag.FlagSet, flags *config.ProcessFlags) {
	flags.Bind(fs)
}

func runServe(flags *config.ProcessFlags) error {
	if err := flags.Preflight(); err != nil {
		return err
	}

	doc, err := config.Load(flags.ConfigFile)
	if err != nil {
		return err
	}
	if flags.ListenAddr != "" {
		// Split "host:port" back into the two document fields so the
		// rest of the wiring code only ever reads ClientListenHost/Port.
		host, port := splitHostPort(flags.ListenAddr)
		doc.ClientListenHost = host
		doc.ClientListenPort = port
	}

	entry := log.WithField("component", "mediator")
	app, err := wiring.NewApp(entry, doc)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sctx := stopper.WithContext(ctx)
	if err := app.Start(sctx, doc); err != nil {
		return err
	}
	entry.WithField("addr", doc.Addr()).Info("mediator serving")

	<-sctx.Done()
	entry.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	app.Shutdown(shutdownCtx)

	return sctx.Stop(shutdownGrace)
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}
