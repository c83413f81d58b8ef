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

package module

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ifak-eu/mediator/internal/diag"
	"github.com/ifak-eu/mediator/internal/ident"
	"github.com/ifak-eu/mediator/internal/stopper"
)

// shutdownWatchdog bounds how long a single module's Run is awaited
// during shutdown or restart before the supervisor proceeds anyway,
// per spec.md §4.5.
const shutdownWatchdog = 10 * time.Second

// restartDelay is the fixed pause after a Running module's Run loop
// exits before the supervisor schedules RestartModule.
const restartDelay = time.Second

// instance tracks one configured module's current runtime state.
type instance struct {
	cfg Config

	mu           sync.Mutex
	state        State
	module       Module
	isRestarting bool
	restartCount int
	runDone      chan struct{}
}

// Supervisor owns the full set of configured modules: it sequences
// their initialization, starts each Run loop in its own goroutine
// under the supervisor's stopper.Context, and restarts any module
// whose Run loop exits while it is
// still supposed to be Running.
type Supervisor struct {
	log  *logrus.Entry
	host Host
	diag *diag.Diagnostics

	mu        sync.Mutex
	instances []*instance
	byID      map[ident.ModuleID]*instance
}

// NewSupervisor constructs a Supervisor for the given module
// configurations (in configuration order — sequential init order is
// derived from this slice) and Host.
func NewSupervisor(log *logrus.Entry, host Host, diags *diag.Diagnostics, configs []Config) *Supervisor {
	s := &Supervisor{
		log:  log,
		host: host,
		diag: diags,
		byID: make(map[ident.ModuleID]*instance),
	}
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		inst := &instance{cfg: cfg, state: Created}
		s.instances = append(s.instances, inst)
		s.byID[cfg.ID] = inst
	}
	return s
}

// Start runs the sequential-then-parallel init ordering from spec.md
// §4.5: modules with ConcurrentInit=false init one at a time in
// configuration order, then the remainder init concurrently. Any
// failure aborts startup and shuts down every module already
// initialized.
func (s *Supervisor) Start(ctx *stopper.Context) error {
	var sequential, concurrent []*instance
	for _, inst := range s.instances {
		if inst.cfg.ConcurrentInit {
			concurrent = append(concurrent, inst)
		} else {
			sequential = append(sequential, inst)
		}
	}

	initialized := make([]*instance, 0, len(s.instances))
	for _, inst := range sequential {
		if err := s.initOne(ctx, inst); err != nil {
			s.abortStartup(ctx, initialized)
			return err
		}
		initialized = append(initialized, inst)
	}

	var g errgroup.Group
	var mu sync.Mutex
	for _, inst := range concurrent {
		inst := inst
		g.Go(func() error {
			if err := s.initOne(ctx, inst); err != nil {
				return err
			}
			mu.Lock()
			initialized = append(initialized, inst)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.abortStartup(ctx, initialized)
		return err
	}

	for _, inst := range s.instances {
		s.launchRun(ctx, inst)
	}
	return nil
}

func (s *Supervisor) initOne(ctx context.Context, inst *instance) error {
	mod, err := newInstance(inst.cfg.ImplClass)
	if err != nil {
		s.setState(inst, InitError)
		return errors.Wrapf(err, "module %s", inst.cfg.ID)
	}

	if err := mod.Init(ctx, inst.cfg, s.host); err != nil {
		s.setState(inst, InitError)
		s.log.WithError(err).WithField("module", inst.cfg.ID).Error("InitFailed")
		return errors.Wrapf(err, "module %s: init failed", inst.cfg.ID)
	}

	inst.mu.Lock()
	inst.module = mod
	inst.mu.Unlock()
	s.setState(inst, InitComplete)
	return nil
}

// abortStartup shuts down every successfully initialized module, used
// when a later module's init fails.
func (s *Supervisor) abortStartup(ctx context.Context, initialized []*instance) {
	for _, inst := range initialized {
		inst.mu.Lock()
		mod := inst.module
		inst.mu.Unlock()
		if mod != nil {
			mod.InitAbort(ctx)
		}
	}
}

// launchRun posts inst's Run loop onto ctx and arranges for a restart
// if it ever exits while the supervisor still expects it to be
// Running.
func (s *Supervisor) launchRun(ctx *stopper.Context, inst *instance) {
	inst.mu.Lock()
	inst.runDone = make(chan struct{})
	inst.mu.Unlock()
	s.setState(inst, Running)

	ctx.Go(func() error {
		defer close(inst.runDone)
		inst.mu.Lock()
		mod := inst.module
		inst.mu.Unlock()

		shouldStop := func() bool {
			select {
			case <-ctx.Stopping():
				return true
			default:
			}
			inst.mu.Lock()
			defer inst.mu.Unlock()
			return inst.state != Running
		}

		err := mod.Run(ctx, shouldStop)

		inst.mu.Lock()
		stillRunning := inst.state == Running
		inst.mu.Unlock()

		if err != nil {
			s.log.WithError(err).WithField("module", inst.cfg.ID).Warn("module run loop exited with error")
		}

		select {
		case <-ctx.Stopping():
			return nil
		default:
		}

		if stillRunning {
			s.scheduleRestart(ctx, inst)
		}
		return nil
	})
}

// scheduleRestart implements spec.md §4.5's restart discipline: a
// single in-flight restart per module (coalesced via isRestarting),
// shutdown under a 10s watchdog, module recreation, re-init, and
// indefinite exponential-style backoff retry on failure.
func (s *Supervisor) scheduleRestart(ctx *stopper.Context, inst *instance) {
	inst.mu.Lock()
	if inst.isRestarting {
		inst.mu.Unlock()
		return
	}
	inst.isRestarting = true
	inst.mu.Unlock()

	ctx.Go(func() error {
		defer func() {
			inst.mu.Lock()
			inst.isRestarting = false
			inst.mu.Unlock()
		}()

		time.Sleep(restartDelay)

		s.shutdownOne(ctx, inst)

		for {
			select {
			case <-ctx.Stopping():
				return nil
			default:
			}

			if err := s.initOne(ctx, inst); err != nil {
				inst.mu.Lock()
				inst.restartCount++
				retry := inst.restartCount
				inst.mu.Unlock()

				delay := backoffDelay(retry)
				s.log.WithError(err).WithField("module", inst.cfg.ID).
					WithField("retry_in", delay).Warn("module restart failed, retrying")

				select {
				case <-time.After(delay):
					continue
				case <-ctx.Stopping():
					return nil
				}
			}

			inst.mu.Lock()
			inst.restartCount = 0
			inst.mu.Unlock()
			s.launchRun(ctx, inst)
			return nil
		}
	})
}

// backoffDelay implements min(10s, (retry+1)*1s), the exact restart
// schedule spec.md §4.5 pins — deliberately not
// backoff.ExponentialBackOff's jittered curve, which cenkalti/backoff
// is reserved for elsewhere (connecting to a configured historian
// database at startup tolerates jitter; a pinned module-restart
// cadence does not).
func backoffDelay(retry int) time.Duration {
	d := time.Duration(retry+1) * time.Second
	if d > 10*time.Second {
		return 10 * time.Second
	}
	return d
}

func (s *Supervisor) shutdownOne(ctx context.Context, inst *instance) {
	s.setState(inst, ShutdownStarted)

	inst.mu.Lock()
	done := inst.runDone
	mod := inst.module
	inst.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(shutdownWatchdog):
			s.log.WithField("module", inst.cfg.ID).Warn("shutdown watchdog expired, proceeding anyway")
		}
	}

	if mod != nil {
		mod.InitAbort(ctx)
	}

	s.setState(inst, ShutdownCompleted)
}

// Shutdown fans out shutdown to every module in parallel and awaits
// completion, per spec.md §4.5's process-wide shutdown.
func (s *Supervisor) Shutdown(ctx context.Context) {
	var wg sync.WaitGroup
	for _, inst := range s.instances {
		inst := inst
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.shutdownOne(ctx, inst)
		}()
	}
	wg.Wait()
}

func (s *Supervisor) setState(inst *instance, state State) {
	inst.mu.Lock()
	inst.state = state
	inst.mu.Unlock()
}

// ModuleFor returns the running Module instance for id, for callers
// that need to invoke module-specific behavior (e.g. CallMethod)
// outside the supervisor's own lifecycle management.
func (s *Supervisor) ModuleFor(id ident.ModuleID) (Module, error) {
	s.mu.Lock()
	inst, ok := s.byID[id]
	s.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("module: unknown module %s", id)
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.module == nil {
		return nil, errors.Errorf("module: %s not initialized", id)
	}
	return inst.module, nil
}

// StateOf reports the current lifecycle state of the named module.
func (s *Supervisor) StateOf(id ident.ModuleID) (State, error) {
	s.mu.Lock()
	inst, ok := s.byID[id]
	s.mu.Unlock()
	if !ok {
		return 0, errors.Errorf("module: unknown module %s", id)
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.state, nil
}
