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

package main

import (
	"fmt"
	"strings"

	"github.com/gdamore/bootvisor"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Environment variables, by config key.
var envKeys = map[string]string{
	"dir":        "BOOTVISOR_DIR",
	"port":       "PORT",
	"server":     "AGENT_SERVER",
	"secret":     "AGENT_SECRET",
	"source":     "ARTIFACT_SOURCE",
	"supervisor": "SUPERVISOR_CMD",
}

func addFlags(fs *pflag.FlagSet) {
	d := bootvisor.DefaultConfig()
	fs.String("config", "", "config file (YAML, TOML or JSON)")
	fs.String("env-file", "", "dotenv file loaded into the environment")
	fs.String("dir", d.Dir, "directory for artifacts and the supervision config")
	fs.Int("port", d.Port, "liveness listen port")
	fs.String("server", d.Server, "agent endpoint, host:port")
	fs.String("secret", d.Secret, "agent shared secret")
	fs.String("source", d.Source, "base URL the default artifacts are fetched from")
	fs.String("ecosystem", d.ConfigFile, "supervision config file, relative to --dir")
	fs.String("supervisor", strings.Join(d.Supervisor, " "), "supervisor command")
	fs.Duration("fetch-timeout", d.FetchTimeout, "timeout for each artifact download")
	fs.Duration("command-timeout", d.CommandTimeout, "timeout for each supervisor command")
	fs.Bool("exit-on-failure", d.ExitOnFailure, "exit when the bootstrap fails")
}

// newViper binds the flags and environment.  Precedence, highest first:
// flags that were set, environment, config file, flag defaults.
func newViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	return v, nil
}

// loadConfig assembles the Config.  This is the only place the
// environment is consulted.
func loadConfig(fs *pflag.FlagSet) (bootvisor.Config, error) {
	var c bootvisor.Config

	if envFile, _ := fs.GetString("env-file"); envFile != "" {
		// Variables already set in the environment win.
		if err := godotenv.Load(envFile); err != nil {
			return c, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	v, err := newViper(fs)
	if err != nil {
		return c, err
	}
	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return c, fmt.Errorf("reading %s: %w", cfgFile, err)
		}
	}

	c = bootvisor.Config{
		Dir:            v.GetString("dir"),
		Port:           v.GetInt("port"),
		Server:         v.GetString("server"),
		Secret:         v.GetString("secret"),
		Source:         v.GetString("source"),
		ConfigFile:     v.GetString("ecosystem"),
		Supervisor:     strings.Fields(v.GetString("supervisor")),
		FetchTimeout:   v.GetDuration("fetch-timeout"),
		CommandTimeout: v.GetDuration("command-timeout"),
		ExitOnFailure:  v.GetBool("exit-on-failure"),
	}
	if err := v.UnmarshalKey("artifacts", &c.Artifacts); err != nil {
		return c, fmt.Errorf("artifacts: %w", err)
	}
	if err := v.UnmarshalKey("services", &c.Services); err != nil {
		return c, fmt.Errorf("services: %w", err)
	}

	switch {
	case c.Dir == "":
		return c, fmt.Errorf("dir must be set")
	case c.Port <= 0 || c.Port > 65535:
		return c, fmt.Errorf("port %d out of range", c.Port)
	case len(c.Supervisor) == 0:
		return c, fmt.Errorf("supervisor command must be set")
	case len(c.Artifacts) == 0 && c.Source == "":
		return c, fmt.Errorf("no artifacts configured and no source to fetch the defaults from")
	}
	return c, nil
}
