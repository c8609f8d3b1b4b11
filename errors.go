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
	"errors"
	"fmt"
)

var (
	ErrNoArtifacts      = errors.New("No artifacts declared")
	ErrBadArtifact      = errors.New("Bad artifact definition")
	ErrBadService       = errors.New("Bad service definition")
	ErrDuplicateService = errors.New("Duplicate service name")
	ErrBadDigest        = errors.New("Bad digest specification")
	ErrDigestMismatch   = errors.New("Digest mismatch")
	ErrBadStatus        = errors.New("Unexpected HTTP status")
	ErrBadFormat        = errors.New("Unknown config format")
	ErrAlreadyRun       = errors.New("Bootstrap already run")
)

// FetchError reports a failure to materialize an artifact.  It is fatal
// to the bootstrap.
type FetchError struct {
	Artifact string
	URL      string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s from %s: %v", e.Artifact, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ConfigWriteError reports a failure to encode or persist the
// supervision config.  It is fatal to the bootstrap.
type ConfigWriteError struct {
	Path string
	Err  error
}

func (e *ConfigWriteError) Error() string {
	return fmt.Sprintf("write config %s: %v", e.Path, e.Err)
}

func (e *ConfigWriteError) Unwrap() error {
	return e.Err
}

// SupervisorLaunchError reports that the supervisor could not be started
// from the config.  It is fatal to the bootstrap.
type SupervisorLaunchError struct {
	Config string
	Err    error
}

func (e *SupervisorLaunchError) Error() string {
	return fmt.Sprintf("start supervisor with %s: %v", e.Config, e.Err)
}

func (e *SupervisorLaunchError) Unwrap() error {
	return e.Err
}

// Operations recorded in a ServiceError.
const (
	OpQuery = "query"
	OpStart = "start"
)

// ServiceError reports a failure to query or start a single service.
// These are isolated to the service concerned.
type ServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s service %s: %v", e.Op, e.Service, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
