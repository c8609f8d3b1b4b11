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

// Command bootvisord fetches the service artifacts, writes the pm2
// ecosystem file, starts pm2 with it, and makes sure every service is
// running.  It serves a static liveness page on / while it does so, and
// afterwards until it is signalled.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/gdamore/bootvisor"
	"github.com/gdamore/bootvisor/rest"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bootvisord",
	Short: "Fetch, configure and supervise a fixed set of services",
	Long: `bootvisord runs the bootstrap sequence once at startup:
1. Fetch - download every artifact that is not already on disk
2. Configure - write the supervision config
3. Launch - start the supervisor with that config
4. Reconcile - start each service the supervisor does not report running

The liveness page is served throughout, whatever the bootstrap outcome.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Flags())
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg, log.New(os.Stderr, "", log.LstdFlags))
	},
}

func init() {
	addFlags(rootCmd.Flags())
}

func newBootstrap(cfg bootvisor.Config, logger *log.Logger) (*bootvisor.Bootstrap, error) {
	f := bootvisor.NewFetcher(nil, cfg.FetchTimeout)
	f.SetLogger(logger)

	pm2 := bootvisor.NewPM2(cfg.Supervisor, cfg.CommandTimeout)
	pm2.SetLogger(logger)
	ctl := bootvisor.NewController(pm2)
	ctl.SetLogger(logger)

	b, err := bootvisor.NewBootstrap(cfg.ArtifactList(), cfg.ServiceList(),
		cfg.ConfigPath(), f, ctl)
	if err != nil {
		return nil, err
	}
	b.SetLogger(logger)
	return b, nil
}

func run(ctx context.Context, cfg bootvisor.Config, logger *log.Logger) error {
	b, err := newBootstrap(cfg, logger)
	if err != nil {
		return err
	}

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return err
	}
	logger.Printf("Server running on port %d", cfg.Port)
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- rest.Serve(ctx, l, rest.NewHandler(cfg.StaticPage(), logger))
	}()

	bootErr := make(chan error, 1)
	go func() {
		_, err := b.Run(ctx)
		bootErr <- err
	}()

	for {
		select {
		case err := <-bootErr:
			if err != nil && cfg.ExitOnFailure {
				return err
			}
			bootErr = nil
		case err := <-srvErr:
			return err
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
