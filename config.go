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
	"path/filepath"
	"strings"
	"time"
)

// Config holds everything the bootstrap needs.  It is built once, by the
// daemon, and handed to the components; nothing else reads the
// environment.
type Config struct {
	Dir            string        // base directory for artifacts and config
	Port           int           // liveness listen port
	Server         string        // agent endpoint, host:port
	Secret         string        // agent shared secret
	Source         string        // base URL for the default artifacts
	ConfigFile     string        // supervision config, relative to Dir
	Supervisor     []string      // supervisor command prefix
	FetchTimeout   time.Duration // per artifact
	CommandTimeout time.Duration // per supervisor invocation
	ExitOnFailure  bool          // exit the daemon when bootstrap fails

	// Artifacts and Services replace the built in sets when non-empty.
	Artifacts []Artifact
	Services  []ServiceDefinition
}

// DefaultConfig returns the built in defaults.
func DefaultConfig() Config {
	return Config{
		Dir:            "/tmp",
		Port:           3000,
		Server:         "127.0.0.1:5555",
		Secret:         "changeme",
		ConfigFile:     "ecosystem.config.js",
		Supervisor:     []string{"pm2"},
		FetchTimeout:   DefaultFetchTimeout,
		CommandTimeout: DefaultCommandTimeout,
	}
}

// TLS reports whether the agent endpoint uses the conventional TLS port.
func (c Config) TLS() bool {
	return strings.HasSuffix(c.Server, "443")
}

// ConfigPath is the absolute location of the supervision config.
func (c Config) ConfigPath() string {
	if filepath.IsAbs(c.ConfigFile) {
		return c.ConfigFile
	}
	return filepath.Join(c.Dir, c.ConfigFile)
}

// StaticPage is where the liveness page is stored.
func (c Config) StaticPage() string {
	return filepath.Join(c.Dir, "index.html")
}

func (c Config) source(remote string) string {
	return strings.TrimRight(c.Source, "/") + "/" + remote
}

// ArtifactList returns the artifacts to fetch.  Configured artifacts
// with no path are placed in Dir under their name.
func (c Config) ArtifactList() []Artifact {
	if len(c.Artifacts) != 0 {
		arts := make([]Artifact, 0, len(c.Artifacts))
		for _, a := range c.Artifacts {
			if a.Path == "" {
				a.Path = filepath.Join(c.Dir, a.Name)
			}
			arts = append(arts, a)
		}
		return arts
	}
	page := NewArtifact(c.Dir, "index.html", c.source("index.html"))
	page.Executable = false
	return []Artifact{
		page,
		NewArtifact(c.Dir, "app", c.source("web")),
		NewArtifact(c.Dir, "cc", c.source("cc")),
		NewArtifact(c.Dir, "agent", c.source("agent")),
	}
}

// ServiceList returns the services to supervise, in order.
func (c Config) ServiceList() []ServiceDefinition {
	if len(c.Services) != 0 {
		return append([]ServiceDefinition(nil), c.Services...)
	}
	agentArgs := []string{"-s", c.Server, "-p", c.Secret}
	if c.TLS() {
		agentArgs = append(agentArgs, "--tls")
	}
	return []ServiceDefinition{
		{
			Name:   "cc",
			Script: filepath.Join(c.Dir, "cc"),
			Args: []string{
				"tunnel",
				"--url", "http://localhost:30070",
				"--no-autoupdate",
				"--edge-ip-version", "auto",
				"--protocol", "http2",
			},
			AutoRestart:  true,
			RestartDelay: 5000,
			ErrorFile:    "argo-err.log",
			OutFile:      "argo.log",
		},
		{
			Name:         "app",
			Script:       filepath.Join(c.Dir, "app"),
			AutoRestart:  true,
			RestartDelay: 5000,
			ErrorFile:    NullSink,
			OutFile:      NullSink,
		},
		{
			Name:         "agent",
			Script:       filepath.Join(c.Dir, "agent"),
			Args:         agentArgs,
			AutoRestart:  true,
			RestartDelay: 5000,
			ErrorFile:    NullSink,
			OutFile:      NullSink,
		},
	}
}

// ServiceNames returns the names of the services, in order.
func (c Config) ServiceNames() []string {
	defs := c.ServiceList()
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	return names
}
