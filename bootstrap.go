// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bootvisor

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// BootState is a step of the bootstrap sequence.
type BootState int

const (
	BootPending BootState = iota
	BootFetching
	BootConfigBuilt
	BootSupervisorStarted
	BootReconciling
	BootDone
	BootFailed
)

func (s BootState) String() string {
	switch s {
	case BootPending:
		return "Pending"
	case BootFetching:
		return "Fetching"
	case BootConfigBuilt:
		return "ConfigBuilt"
	case BootSupervisorStarted:
		return "SupervisorStarted"
	case BootReconciling:
		return "Reconciling"
	case BootDone:
		return "Done"
	case BootFailed:
		return "Failed"
	}
	return fmt.Sprintf("BootState(%d)", int(s))
}

// Report summarizes a bootstrap run.
type Report struct {
	State    BootState       // Done, or Failed
	Failed   BootState       // step that failed, when State is Failed
	Services []ServiceResult // empty unless reconciliation ran
	Elapsed  time.Duration
}

// Bootstrap runs the fetch, configure, launch and reconcile sequence once.
// Each step gates the next; a failure in any step before reconciliation
// ends the run.  Reconciliation failures are per service and only show up
// in the Report.
type Bootstrap struct {
	artifacts  []Artifact
	services   []ServiceDefinition
	configPath string
	fetcher    *Fetcher
	ctl        *Controller
	logger     *log.Logger

	state BootState
	ran   bool
	mx    sync.Mutex
}

// NewBootstrap validates the declared artifacts and services and returns
// a Bootstrap ready to Run.  Every service must run one of the artifacts.
func NewBootstrap(arts []Artifact, defs []ServiceDefinition, configPath string,
	f *Fetcher, ctl *Controller) (*Bootstrap, error) {

	if len(arts) == 0 {
		return nil, ErrNoArtifacts
	}
	paths := make(map[string]bool, len(arts))
	for _, a := range arts {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("artifact %q: %w", a.Name, err)
		}
		paths[a.Path] = true
	}
	if err := validateServices(defs); err != nil {
		return nil, err
	}
	for _, d := range defs {
		if !paths[d.Script] {
			return nil, fmt.Errorf("%w: %q runs %s, which is not a declared artifact",
				ErrBadService, d.Name, d.Script)
		}
	}
	return &Bootstrap{
		artifacts:  arts,
		services:   defs,
		configPath: configPath,
		fetcher:    f,
		ctl:        ctl,
		logger:     log.New(os.Stderr, "", log.LstdFlags),
	}, nil
}

// SetLogger overrides the default logger.
func (b *Bootstrap) SetLogger(l *log.Logger) {
	b.logger = l
}

// State returns the current step.  It is safe to call while Run is in
// progress.
func (b *Bootstrap) State() BootState {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.state
}

func (b *Bootstrap) enter(s BootState) {
	b.mx.Lock()
	b.state = s
	b.mx.Unlock()
	b.logger.Printf("*** Bootstrap: %v ***", s)
}

// fail records that step failed.
func (b *Bootstrap) fail(rep *Report, step BootState, start time.Time, err error) (*Report, error) {
	rep.Failed = step
	rep.State = BootFailed
	rep.Elapsed = time.Since(start)
	b.enter(BootFailed)
	b.logger.Printf("Bootstrap failed at %v: %v", rep.Failed, err)
	return rep, err
}

// Run executes the sequence.  It returns an error only for the fatal
// steps; the caller decides what to do about it.  Run may be called once.
func (b *Bootstrap) Run(ctx context.Context) (*Report, error) {
	b.mx.Lock()
	if b.ran {
		b.mx.Unlock()
		return nil, ErrAlreadyRun
	}
	b.ran = true
	b.mx.Unlock()

	start := time.Now()
	rep := &Report{}

	b.enter(BootFetching)
	if err := b.fetcher.EnsureAll(ctx, b.artifacts); err != nil {
		return b.fail(rep, BootFetching, start, err)
	}

	// The config is written before it is considered built.
	if err := WriteConfig(b.configPath, b.services); err != nil {
		return b.fail(rep, BootConfigBuilt, start, err)
	}
	b.enter(BootConfigBuilt)

	if err := b.ctl.ApplyConfig(ctx, b.configPath); err != nil {
		return b.fail(rep, BootSupervisorStarted, start, err)
	}
	b.enter(BootSupervisorStarted)

	b.enter(BootReconciling)
	names := make([]string, 0, len(b.services))
	for _, d := range b.services {
		names = append(names, d.Name)
	}
	rep.Services = b.ctl.Reconcile(ctx, names)

	b.enter(BootDone)
	rep.State = BootDone
	rep.Elapsed = time.Since(start)
	failed := 0
	for _, r := range rep.Services {
		if r.Err != nil {
			failed++
		}
	}
	b.logger.Printf("Bootstrap done in %v: %d services, %d failed",
		rep.Elapsed.Round(time.Millisecond), len(rep.Services), failed)
	return rep, nil
}
