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

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/workflowc/compiler/internal/cli/shared"
	"github.com/workflowc/compiler/internal/config"
	"github.com/workflowc/compiler/internal/controller"
	"github.com/workflowc/compiler/internal/controller/backend"
	"github.com/workflowc/compiler/internal/controller/backend/memory"
	"github.com/workflowc/compiler/internal/controller/backend/postgres"
	"github.com/workflowc/compiler/internal/controller/backend/sqlite"
	"github.com/workflowc/compiler/internal/daemon/lookuploop"
	"github.com/workflowc/compiler/internal/lifecycle"
	internallog "github.com/workflowc/compiler/internal/log"
	"github.com/workflowc/compiler/internal/servicemetadata"
	"github.com/workflowc/compiler/internal/signalbus"
	"github.com/workflowc/compiler/internal/tracing"
	"github.com/workflowc/compiler/pkg/compiler"
	"github.com/workflowc/compiler/pkg/secrets"
)

// NewServeCommand creates the 'serve' subcommand, which starts the
// controller and lookup loop against the configured backend and blocks
// until interrupted.
func NewServeCommand() *cobra.Command {
	var webhookURL string
	var pidFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the controller against the configured backend",
		Long: `serve starts the submission controller, which claims ACCEPTED
submissions, drives them through the compiler's Generate loop, and recovers
orphaned RUNNING submissions left behind by a crashed process.

It runs until interrupted with SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), shared.GetConfigPath(), webhookURL, pidFile)
		},
	}

	cmd.Flags().StringVar(&webhookURL, "webhook-url", "", "URL to POST signal-bus wake-ups to (default: no-op)")
	cmd.Flags().StringVar(&pidFile, "pidfile", "", "path to write a PID file guarding against a second serve against the same backend (default: none)")

	return cmd
}

func runServe(ctx context.Context, configPath, webhookURL, pidFile string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return shared.NewInvalidWorkflowError("loading configuration", err)
	}

	logger := internallog.New(&internallog.Config{
		Level:     cfg.Log.Level,
		Format:    internallog.Format(cfg.Log.Format),
		AddSource: cfg.Log.AddSource,
	})
	slog.SetDefault(logger)

	be, closeFn, err := openBackend(cfg.Backend)
	if err != nil {
		return shared.NewBackendError("opening backend", maskBackendErr(cfg.Backend, err))
	}
	defer closeFn()

	if pidFile != "" {
		pm := lifecycle.NewPIDFileManager(pidFile)
		if err := pm.Create(os.Getpid()); err != nil {
			return shared.NewBackendError("creating PID file", err)
		}
		defer pm.Remove()
	}

	var bus backend.SignalBus
	if webhookURL != "" {
		bus = signalbus.New(signalbus.Config{URL: webhookURL}, logger)
	} else {
		bus = signalbus.NoopBus{}
	}

	var metricsCollector *tracing.MetricsCollector
	if cfg.Observability.Enabled {
		provider, err := tracing.NewOTelProviderWithConfig(tracing.Config{
			Enabled:        true,
			ServiceName:    "workflowc",
			ServiceVersion: "dev",
			Sampling: tracing.SamplingConfig{
				Enabled:            cfg.Observability.SamplingRate < 1.0,
				Rate:               cfg.Observability.SamplingRate,
				AlwaysSampleErrors: true,
			},
		})
		if err != nil {
			return shared.NewBackendError("starting tracing provider", err)
		}
		defer provider.Shutdown(context.Background())
		metricsCollector = provider.MetricsCollector()

		if cfg.Observability.MetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", provider.MetricsHandler())
			server := &http.Server{Addr: cfg.Observability.MetricsAddr, Handler: mux}
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server failed", "error", err)
				}
			}()
			defer server.Close()
		}
	}

	ctl := controller.New(controller.Options{
		TmpPath:        cfg.Options.TmpPath,
		OutPath:        cfg.Options.OutPath,
		LookupInterval: cfg.Options.LookupInterval(),
		LeaseTimeout:   cfg.Options.LeaseTimeout,
		Metrics:        metricsCollector,
	}, be, bus, compiler.UUIDGenerator{}, compiler.NoAdapterOracle{}, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctl.Start(runCtx)

	loop := lookuploop.New(lookuploop.Config{
		LookupInterval:       cfg.Options.LookupInterval(),
		OrphanLookupInterval: cfg.Options.OrphanLookupInterval(),
	}, ctl, logger)
	loop.Start(runCtx)
	defer loop.Stop()

	if cfg.Services.Dir != "" {
		smCfg := servicemetadata.Config{
			Dir:             cfg.Services.Dir,
			Glob:            cfg.Services.Glob,
			WatchForChanges: cfg.Services.WatchForChanges,
		}
		if cfg.Services.WatchForChanges {
			watcher, err := servicemetadata.NewWatcher(runCtx, smCfg, be, logger)
			if err != nil {
				return shared.NewBackendError("starting service metadata watcher", err)
			}
			go watcher.Run(runCtx)
		} else if err := servicemetadata.Sync(runCtx, smCfg, be); err != nil {
			return shared.NewBackendError("loading service metadata", err)
		}
	}

	logger.Info("workflowc serve started", "backend", cfg.Backend.Type)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	fmt.Fprintf(os.Stderr, "received signal %v, shutting down...\n", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := ctl.Shutdown(shutdownCtx); err != nil {
		logger.Error("controller shutdown did not complete cleanly", "error", err)
	}
	return nil
}

// maskBackendErr scrubs the postgres connection string out of a backend-open
// error before it reaches logs or terminal output; some drivers echo the DSN
// verbatim in a parse-failure message.
func maskBackendErr(cfg config.BackendConfig, err error) error {
	if err == nil || cfg.Postgres.ConnectionString == "" {
		return err
	}
	masker := secrets.NewMasker()
	masker.AddSecret(cfg.Postgres.ConnectionString)
	return errors.New(masker.Mask(err.Error()))
}

func openBackend(cfg config.BackendConfig) (backend.Backend, func(), error) {
	switch cfg.Type {
	case "", "memory":
		be := memory.New(nil, nil)
		return be, func() {}, nil
	case "sqlite":
		be, err := sqlite.New(sqlite.Config{Path: cfg.SQLite.Path, WAL: cfg.SQLite.WAL})
		if err != nil {
			return nil, nil, err
		}
		return be, func() { be.Close() }, nil
	case "postgres":
		be, err := postgres.New(postgres.Config{
			ConnectionString: cfg.Postgres.ConnectionString,
			MaxOpenConns:     cfg.Postgres.MaxOpenConns,
			MaxIdleConns:     cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime:  time.Duration(cfg.Postgres.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return be, func() { be.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend type %q", cfg.Type)
	}
}
