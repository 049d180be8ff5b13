// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/accountd/internal/config"
	"github.com/holomush/accountd/internal/xdg"
)

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	configFile string
	deps       *Deps
}

// NewRootCmd creates the root command for the accountd CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(deps *Deps) *cobra.Command {
	opts := &rootOptions{deps: deps.withDefaults()}

	cmd := &cobra.Command{
		Use:   "accountd",
		Short: "accountd - account credentials and session tokens",
		Long: `accountd manages user accounts: registration and password reset tickets,
password and session-token authentication, per-client session keys and
access to account data.`,
		SilenceUsage: true,
	}

	// Flag names match the keys understood by config.Load.
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/accountd/config.yaml)")
	pf.String("log-format", "json", "log format (json or text)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")
	pf.String("store-driver", "memory", "storage backend (memory, postgres or redis)")
	pf.String("store-url", "", "storage connection URL")
	pf.String("user-id-prefix", "uid", "prefix of generated user ids")
	pf.Bool("restrict-signups", false, "only allow-listed emails may register")
	pf.String("authenticator", config.AuthenticatorStore, "authenticator (store or instant)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newSetupCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newCreateAdminCmd(opts))
	cmd.AddCommand(newCreateUserCmd(opts))
	cmd.AddCommand(newAllowlistCmd(opts))
	cmd.AddCommand(newDeleteUserCmd(opts))
	cmd.AddCommand(newCheckKeyCmd(opts))

	return cmd
}

// load reads the configuration for cmd, including the flags it inherited. Without
// --config the file in the XDG config directory is used when present.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	file := o.configFile
	if file == "" {
		file = xdg.ConfigFile()
	}
	return config.Load(config.LoadOptions{File: file, Flags: cmd.Flags()})
}
