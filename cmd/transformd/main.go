// Copyright 2025 Tom Barlow
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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/transformd/internal/config"
	"github.com/tombee/transformd/internal/daemon"
	"github.com/tombee/transformd/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "transformd",
		Short:         "Transformation order service for Earth observation products",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("transformd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}
}

func newServeCmd() *cobra.Command {
	var (
		listenAddr  string
		pluginsDir  string
		workingDir  string
		outputDir   string
		maxParallel int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transformation service daemon",
		Long: `Run the transformation order daemon: the HTTP/OData API, the order
queue, and the worker pool executing transformations.

Flags override the corresponding environment variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(log.FromEnv())
			slog.SetDefault(logger)

			settings := config.FromEnv()
			if listenAddr != "" {
				settings.ListenAddr = listenAddr
			}
			if pluginsDir != "" {
				settings.PluginsDir = pluginsDir
			}
			if workingDir != "" {
				settings.WorkingDir = workingDir
			}
			if outputDir != "" {
				settings.OutputDir = outputDir
			}
			if maxParallel > 0 {
				settings.MaxParallel = maxParallel
			}

			d, err := daemon.New(settings, daemon.Options{
				Version:   version,
				Commit:    commit,
				BuildDate: buildDate,
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := d.Start(ctx); err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			logger.Info("signal received, shutting down", "signal", sig.String())

			cancel()
			return d.Shutdown(context.Background())
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "TCP address to listen on (LISTEN_ADDR)")
	cmd.Flags().StringVar(&pluginsDir, "plugins-dir", "", "Directory scanned for workflow descriptors (PLUGINS_DIR)")
	cmd.Flags().StringVar(&workingDir, "working-dir", "", "Root of per-order processing directories (WORKING_DIR)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Root of the published output tree (OUTPUT_DIR)")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "Maximum concurrently executing transformations (MAX_PARALLEL)")

	return cmd
}
