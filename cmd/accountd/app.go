// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/accountd/internal/account"
	"github.com/holomush/accountd/internal/config"
	"github.com/holomush/accountd/internal/credential"
	"github.com/holomush/accountd/internal/idgen"
	"github.com/holomush/accountd/internal/logging"
	"github.com/holomush/accountd/internal/observability"
	"github.com/holomush/accountd/internal/store"
	"github.com/holomush/accountd/internal/ticket"
)

const serviceName = "accountd"

// app is the set of collaborators built from one configuration.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   store.Store
	manager *account.Manager
	auth    account.Authenticator
}

// openStore opens the configured backend, reports its calls to metrics when given and
// makes sure the id counter document exists.
func openStore(ctx context.Context, cfg *config.Config, deps *Deps, metrics *observability.AccountMetrics) (store.Store, error) {
	st, err := deps.StoreFactory(ctx, store.Options{
		Driver:          cfg.Store.Driver,
		URL:             cfg.Store.URL,
		KeyPrefix:       cfg.Store.KeyPrefix,
		ConnectAttempts: uint64(cfg.Store.ConnectAttempts), //nolint:gosec // validated positive
		ConnectBackoff:  cfg.Store.ConnectBackoff,
	})
	if err != nil {
		return nil, oops.Code("STORE_OPEN_FAILED").With("driver", cfg.Store.Driver).Wrap(err)
	}
	if metrics != nil {
		st = store.Instrument(st, metrics)
	}
	if err := st.EnsureCounter(ctx, idgen.DefaultCounterDoc); err != nil {
		_ = st.Close() //nolint:errcheck // setup error takes precedence
		return nil, oops.Code("STORE_SETUP_FAILED").With("operation", "ensure id counter").Wrap(err)
	}
	return st, nil
}

// newApp wires the account flows on top of st.
func newApp(cfg *config.Config, logger *slog.Logger, st store.Store, metrics *observability.AccountMetrics, stats account.StatsSink) (*app, error) {
	rules := make([]account.ClientRule, 0, len(cfg.Accounts.LessTrustedClients))
	for _, r := range cfg.Accounts.LessTrustedClients {
		rules = append(rules, account.ClientRule{Pattern: r.Pattern, Versions: r.Versions})
	}
	policy, err := account.NewTrustPolicy(rules...)
	if err != nil {
		return nil, err
	}

	idOpts := []idgen.Option{idgen.WithUserPrefix(cfg.Accounts.UserIDPrefix), idgen.WithLogger(logger)}
	ticketOpts := []ticket.Option{ticket.WithLogger(logger)}
	managerOpts := []account.ManagerOption{
		account.WithSettings(account.Settings{
			UserIDPrefix:         cfg.Accounts.UserIDPrefix,
			SuperuserID:          cfg.Accounts.SuperuserID,
			SuperuserEmail:       cfg.Accounts.SuperuserEmail,
			SuperuserPwdHash:     cfg.Accounts.SuperuserPwdHash,
			RestrictRegistration: cfg.Accounts.RestrictRegistration,
			DefaultClient:        cfg.Accounts.DefaultClient,
		}),
		account.WithTrustPolicy(policy),
		account.WithLogger(logger),
	}
	if metrics != nil {
		idOpts = append(idOpts, idgen.WithMetrics(metrics))
		ticketOpts = append(ticketOpts, ticket.WithMetrics(metrics))
		managerOpts = append(managerOpts, account.WithMetrics(metrics))
	}
	if stats != nil {
		managerOpts = append(managerOpts, account.WithStats(stats))
	}

	ids := idgen.New(st, idOpts...)
	tickets := ticket.New(st, ids, ticketOpts...)
	m := account.NewManager(st, ids, tickets, credential.NewPBKDF2Hasher(cfg.Accounts.HashIterations), managerOpts...)
	auth, err := account.NewAuthenticator(cfg.Accounts.Authenticator, m)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, store: st, manager: m, auth: auth}, nil
}

// withApp runs fn against a freshly opened store and closes it afterwards. It backs
// the one-shot admin commands.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := o.load(cmd)
	if err != nil {
		return err
	}
	logger := logging.Setup(serviceName, version, cfg.Log.Format, cfg.Log.Level, cmd.ErrOrStderr())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := openStore(ctx, cfg, o.deps, nil)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Warn("failed to close store", "error", closeErr)
		}
	}()

	a, err := newApp(cfg, logger, st, nil, nil)
	if err != nil {
		return err
	}
	return fn(ctx, a)
}
