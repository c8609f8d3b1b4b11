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
	"log"
	"os"

	"golang.org/x/sync/errgroup"
)

// ServiceState is the state of a service as reported by the supervisor.
type ServiceState int

const (
	StateUnknown ServiceState = iota
	StateStopped
	StateRunning
)

func (s ServiceState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	}
	return "unknown"
}

// ServiceStatus is a point in time observation of one service.  It is
// never cached; every check asks the supervisor again.
type ServiceStatus struct {
	Name  string
	State ServiceState
}

// SupervisorClient is what a supervisor adapter must implement.  The
// supervisor owns the managed processes; clients only ask it to do things.
type SupervisorClient interface {
	// ApplyConfig starts the supervisor with the config at path.
	// Loading the same config twice is left to the supervisor, and
	// any error it reports is returned, not retried.
	ApplyConfig(ctx context.Context, path string) error

	// QueryStatus reports the current state of the named service.
	// A service the supervisor does not know is StateUnknown.
	QueryStatus(ctx context.Context, name string) (ServiceStatus, error)

	// StartService asks the supervisor to start the named service.
	StartService(ctx context.Context, name string) error
}

// ServiceResult is the outcome of reconciling one service.
type ServiceResult struct {
	Name    string
	Started bool  // a start command was issued and succeeded
	Err     error // nil, or a *ServiceError
}

// Controller reconciles desired service state against the supervisor.
type Controller struct {
	client SupervisorClient
	logger *log.Logger
}

// NewController returns a Controller driving client.
func NewController(client SupervisorClient) *Controller {
	return &Controller{
		client: client,
		logger: log.New(os.Stderr, "", log.LstdFlags),
	}
}

// SetLogger overrides the default logger.
func (c *Controller) SetLogger(l *log.Logger) {
	c.logger = l
}

// ApplyConfig starts the supervisor from the config at path.
func (c *Controller) ApplyConfig(ctx context.Context, path string) error {
	if err := c.client.ApplyConfig(ctx, path); err != nil {
		return &SupervisorLaunchError{Config: path, Err: err}
	}
	c.logger.Printf("Supervisor started with %s", path)
	return nil
}

// StartIfNotRunning starts the named service unless the supervisor
// already reports it running.  At most one start command is issued.
func (c *Controller) StartIfNotRunning(ctx context.Context, name string) (bool, error) {
	st, err := c.client.QueryStatus(ctx, name)
	if err != nil {
		return false, &ServiceError{Service: name, Op: OpQuery, Err: err}
	}
	if st.State == StateRunning {
		c.logger.Printf("%s already running", name)
		return false, nil
	}
	if err := c.client.StartService(ctx, name); err != nil {
		return false, &ServiceError{Service: name, Op: OpStart, Err: err}
	}
	c.logger.Printf("%s started (was %v)", name, st.State)
	return true, nil
}

// Reconcile runs StartIfNotRunning for every service concurrently.  A
// failure for one service is logged and recorded in its result; it does
// not affect the others.  Results are in the order of names.
func (c *Controller) Reconcile(ctx context.Context, names []string) []ServiceResult {
	results := make([]ServiceResult, len(names))
	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			started, err := c.StartIfNotRunning(ctx, name)
			if err != nil {
				c.logger.Printf("Reconcile failed: %v", err)
			}
			results[i] = ServiceResult{Name: name, Started: started, Err: err}
			return nil
		})
	}
	g.Wait()
	return results
}
