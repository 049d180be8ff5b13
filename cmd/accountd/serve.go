// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/accountd/internal/account"
	"github.com/holomush/accountd/internal/logging"
	"github.com/holomush/accountd/internal/observability"
	"github.com/holomush/accountd/internal/store"
	"github.com/holomush/accountd/pkg/errutil"
)

// shutdownTimeout bounds the graceful stop of the observability server.
const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the account core",
		Long: `Open the store, start the background statistics writer and the
metrics/health endpoints, then run until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runServe(ctx, cmd, opts)
		},
	}
}

func runServe(ctx context.Context, cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := opts.load(cmd)
	if err != nil {
		return err
	}
	logger := logging.Setup(serviceName, version, cfg.Log.Format, cfg.Log.Level, cmd.ErrOrStderr())
	logger.Info("starting accountd",
		"store_driver", cfg.Store.Driver,
		"authenticator", cfg.Accounts.Authenticator,
		"metrics_addr", cfg.Metrics.Addr,
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The readiness probe reads st once the store is open.
	var st store.Store
	var srv ObservabilityServer
	var metrics *observability.AccountMetrics
	if cfg.Metrics.Addr != "" {
		srv = opts.deps.ObservabilityServerFactory(cfg.Metrics.Addr, func(ctx context.Context) error {
			if st == nil {
				return oops.Code("STORE_NOT_READY").Errorf("store not open")
			}
			return st.Ping(ctx)
		}, logger)
		metrics = srv.Metrics()
	}

	st, err = openStore(ctx, cfg, opts.deps, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			errutil.LogError(logger, "failed to close store", closeErr)
		}
	}()

	statsCfg := account.StatsConfig{
		Workers:     cfg.Stats.Workers,
		QueueSize:   cfg.Stats.QueueSize,
		MaxAttempts: cfg.Stats.MaxAttempts,
		Logger:      logger,
	}
	if metrics != nil {
		statsCfg.Metrics = metrics
	}
	recorder := account.NewStatsRecorder(st, statsCfg)
	// Queued updates are still written after a shutdown signal.
	recorder.Start(context.WithoutCancel(ctx))
	defer recorder.Close()

	a, err := newApp(cfg, logger, st, metrics, recorder)
	if err != nil {
		return err
	}

	var serverErrs <-chan error
	if srv != nil {
		serverErrs, err = srv.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if stopErr := srv.Stop(stopCtx); stopErr != nil {
				errutil.LogError(logger, "failed to stop observability server", stopErr)
			}
		}()
	}

	logger.Info("accountd ready", "user_id_prefix", a.cfg.Accounts.UserIDPrefix)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err, ok := <-serverErrs:
		if !ok || err == nil {
			return nil
		}
		return oops.Code("OBSERVABILITY_FAILED").Wrap(err)
	}
}
