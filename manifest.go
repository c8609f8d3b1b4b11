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
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// NullSink discards a service's output when used as OutFile or ErrorFile.
const NullSink = "NULL"

// ServiceDefinition describes how the supervisor runs one artifact.  The
// field names follow the pm2 ecosystem file format.
type ServiceDefinition struct {
	Name         string   `json:"name" yaml:"name" mapstructure:"name"`
	Script       string   `json:"script" yaml:"script" mapstructure:"script"`
	Args         []string `json:"args,omitempty" yaml:"args,omitempty" mapstructure:"args"`
	AutoRestart  bool     `json:"autorestart" yaml:"autorestart" mapstructure:"autorestart"`
	RestartDelay int      `json:"restart_delay" yaml:"restart_delay" mapstructure:"restart_delay"`
	ErrorFile    string   `json:"error_file,omitempty" yaml:"error_file,omitempty" mapstructure:"error_file"`
	OutFile      string   `json:"out_file,omitempty" yaml:"out_file,omitempty" mapstructure:"out_file"`
}

// SupervisionConfig is the document handed to the supervisor.  Apps
// keep the order they were declared in.
type SupervisionConfig struct {
	Apps []ServiceDefinition `json:"apps" yaml:"apps"`
}

// Format selects the encoding of a SupervisionConfig.
type Format string

const (
	FormatJSON Format = "json" // ecosystem.json
	FormatJS   Format = "js"   // ecosystem.config.js, a CommonJS module
	FormatYAML Format = "yaml" // ecosystem.yaml
)

// FormatForPath picks the format from the file extension of path.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".js", ".cjs":
		return FormatJS, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %s", ErrBadFormat, path)
}

func validateServices(defs []ServiceDefinition) error {
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if d.Name == "" || d.Script == "" || d.RestartDelay < 0 {
			return fmt.Errorf("%w: %q", ErrBadService, d.Name)
		}
		// pm2 would take these for options.
		if strings.HasPrefix(d.Name, "-") {
			return fmt.Errorf("%w: %q looks like an option", ErrBadService, d.Name)
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateService, d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}

// BuildConfig serializes the definitions in the given format.  The
// output depends only on the input, so equal inputs give identical bytes.
func BuildConfig(format Format, defs []ServiceDefinition) ([]byte, error) {
	if err := validateServices(defs); err != nil {
		return nil, err
	}
	cfg := SupervisionConfig{Apps: defs}
	if cfg.Apps == nil {
		cfg.Apps = []ServiceDefinition{}
	}

	switch format {
	case FormatJSON, FormatJS:
		b, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		if format == FormatJS {
			return []byte("module.exports = " + string(b) + ";\n"), nil
		}
		return append(b, '\n'), nil
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrBadFormat, format)
}

// WriteConfig builds the config in the format implied by path and writes
// it there, replacing whatever was there before.  The file is replaced
// atomically.
func WriteConfig(path string, defs []ServiceDefinition) error {
	format, err := FormatForPath(path)
	if err != nil {
		return &ConfigWriteError{Path: path, Err: err}
	}
	b, err := BuildConfig(format, defs)
	if err != nil {
		return &ConfigWriteError{Path: path, Err: err}
	}
	if err := writeFileAtomic(path, b, 0644); err != nil {
		return &ConfigWriteError{Path: path, Err: err}
	}
	return nil
}

func writeFileAtomic(path string, b []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, mode); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
