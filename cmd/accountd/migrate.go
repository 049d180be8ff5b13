// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/accountd/internal/config"
	"github.com/holomush/accountd/internal/logging"
	"github.com/holomush/accountd/internal/store"
)

// newMigrateCmd creates the migrate command with its subcommands.
func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
		Long:  `Apply, roll back or inspect the embedded PostgreSQL migrations.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withMigrator(cmd, func(m Migrator) error {
				if err := m.Up(); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "up").Wrap(err)
				}
				cmd.Println("Migrations completed successfully")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withMigrator(cmd, func(m Migrator) error {
				if err := m.Down(); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "down").Wrap(err)
				}
				cmd.Println("Migrations rolled back")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withMigrator(cmd, func(m Migrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "version").Wrap(err)
				}
				if dirty {
					cmd.Printf("Schema version: %d (dirty)\n", v)
					return nil
				}
				cmd.Printf("Schema version: %d\n", v)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations not yet applied",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withMigrator(cmd, func(m Migrator) error {
				pending, err := m.Pending()
				if err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "status").Wrap(err)
				}
				if len(pending) == 0 {
					cmd.Println("Schema is up to date")
					return nil
				}
				cmd.Printf("Pending migrations: %v\n", pending)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Set the schema version without running migrations",
		Long:  `Mark the schema as being at <version> and clear the dirty flag after a failed migration was repaired by hand.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_VERSION").With("version", args[0]).Wrap(err)
			}
			return opts.withMigrator(cmd, func(m Migrator) error {
				if err := m.Force(v); err != nil {
					return err
				}
				cmd.Printf("Schema version forced to %d\n", v)
				return nil
			})
		},
	})

	return cmd
}

// withMigrator loads the configuration and runs fn against a migrator for the
// configured PostgreSQL database.
func (o *rootOptions) withMigrator(cmd *cobra.Command, fn func(Migrator) error) error {
	cfg, err := o.load(cmd)
	if err != nil {
		return err
	}
	logger := logging.Setup(serviceName, version, cfg.Log.Format, cfg.Log.Level, cmd.ErrOrStderr())
	return runMigrator(cfg, o.deps, logger, fn)
}

func runMigrator(cfg *config.Config, deps *Deps, logger *slog.Logger, fn func(Migrator) error) error {
	if cfg.Store.Driver != store.DriverPostgres {
		return oops.Code(config.CodeInvalid).
			With("key", "store.driver").
			With("value", cfg.Store.Driver).
			Errorf("migrations apply to the %s driver only", store.DriverPostgres)
	}

	m, err := deps.MigratorFactory(cfg.Store.URL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()
	return fn(m)
}

// newSetupCmd creates the setup command, which prepares a store for first use.
func newSetupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Prepare the store for first use",
		Long: `Apply the PostgreSQL migrations when the postgres driver is configured,
then create the id counter document if it is missing.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			logger := logging.Setup(serviceName, version, cfg.Log.Format, cfg.Log.Level, cmd.ErrOrStderr())

			if cfg.Store.Driver == store.DriverPostgres {
				err := runMigrator(cfg, opts.deps, logger, func(m Migrator) error {
					if err := m.Up(); err != nil {
						return oops.Code("MIGRATION_FAILED").With("operation", "up").Wrap(err)
					}
					return nil
				})
				if err != nil {
					return err
				}
				cmd.Println("Migrations applied")
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			st, err := openStore(ctx, cfg, opts.deps, nil)
			if err != nil {
				return err
			}
			if err := st.Close(); err != nil {
				logger.Warn("failed to close store", "error", err)
			}
			cmd.Printf("Store ready (driver %s)\n", cfg.Store.Driver)
			return nil
		},
	}
}
