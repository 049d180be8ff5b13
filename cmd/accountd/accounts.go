// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/holomush/accountd/internal/account"
	"github.com/holomush/accountd/internal/credential"
)

// localUserFlags are the flags of the account creation commands.
type localUserFlags struct {
	email    string
	password string
	language string
}

func (f *localUserFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&f.password, "password", "", "clear-text password (required)")
	cmd.Flags().StringVar(&f.language, "language", account.DefaultLanguage, "preferred language")
	_ = cmd.MarkFlagRequired("email")    //nolint:errcheck // flag exists
	_ = cmd.MarkFlagRequired("password") //nolint:errcheck // flag exists
}

// localUser hashes the password the way a client would before sending it.
func (f *localUserFlags) localUser(roles []string) (account.LocalUser, error) {
	if len(f.password) < account.MinPasswordLength {
		return account.LocalUser{}, oops.Code(account.ErrCodePasswordPolicy).
			With("min_length", account.MinPasswordLength).
			Wrap(account.ErrPasswordPolicy)
	}
	return account.LocalUser{
		Email:    f.email,
		Password: credential.ClientHash(f.password),
		Language: f.language,
		Roles:    roles,
	}, nil
}

// superuserSnippet is the configuration block printed by create-admin.
type superuserSnippet struct {
	Accounts struct {
		SuperuserID      string `yaml:"superuser_id"`
		SuperuserEmail   string `yaml:"superuser_email"`
		SuperuserPwdHash string `yaml:"superuser_pwd_hash"`
	} `yaml:"accounts"`
}

func newCreateAdminCmd(opts *rootOptions) *cobra.Command {
	flags := &localUserFlags{}
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create the administrator account",
		Long: `Create an account holding every administrative role, bypassing the
registration allow-list, and print the configuration block that makes it the
superuser.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := flags.localUser(account.AdminRoles)
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				uid, err := a.manager.CreateLocalUser(ctx, u)
				if err != nil {
					return err
				}

				var snippet superuserSnippet
				snippet.Accounts.SuperuserID = uid
				snippet.Accounts.SuperuserEmail = account.Clean(u.Email)
				snippet.Accounts.SuperuserPwdHash = u.Password
				out, err := yaml.Marshal(&snippet)
				if err != nil {
					return oops.With("operation", "render superuser config").Wrap(err)
				}
				cmd.Printf("Administrator %s created. Add to the configuration:\n\n", uid)
				cmd.Print(string(out))
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newCreateUserCmd(opts *rootOptions) *cobra.Command {
	flags := &localUserFlags{}
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a user account without the registration protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := flags.localUser(nil)
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				uid, err := a.manager.CreateLocalUser(ctx, u)
				if err != nil {
					return err
				}
				cmd.Println(uid)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newAllowlistCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allowlist",
		Short: "Manage the registration allow-list",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <email>",
		Short: "Allow an email to register",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.manager.Allow(ctx, args[0]); err != nil {
					return err
				}
				cmd.Printf("%s added to the allow-list\n", account.Clean(args[0]))
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "check <email>",
		Short: "Report whether an email is allow-listed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				ok, err := a.manager.IsAllowlisted(ctx, args[0])
				if err != nil {
					return err
				}
				cmd.Printf("%s allowed: %t\n", account.Clean(args[0]), ok)
				return nil
			})
		},
	})
	return cmd
}

func newDeleteUserCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-user <userid>",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.manager.DeleteUser(ctx, args[0]); err != nil {
					return err
				}
				cmd.Printf("%s deleted\n", account.Clean(args[0]))
				return nil
			})
		},
	}
}

func newCheckKeyCmd(opts *rootOptions) *cobra.Command {
	var key, client string
	cmd := &cobra.Command{
		Use:   "check-key",
		Short: "Authenticate a <user>;<hash> key",
		Long: `Parse a key of the form <user>;<secret>, where the secret is a client-side
password hash or a session token, run one authentication with the configured
authenticator and print the classification.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				k, err := account.ParseKey(key, a.cfg.Accounts.UserIDPrefix)
				if err != nil {
					return err
				}
				tok := account.NewToken(ctx, a.auth, account.AuthRequest{
					UserID:     k.UserID,
					IDType:     k.IDType,
					Credential: k.Credential,
					Client:     client,
				})
				cmd.Printf("token: %s\n", tok.ID())
				cmd.Printf("classification: %d (%s)\n", tok.Code(), tok.Code())
				cmd.Printf("access_level: %d\n", tok.AccessLevel())
				if tok.Err() != nil {
					return tok.Err()
				}
				info := tok.BasicInfo()
				cmd.Printf("userid: %s\n", tok.UserID())
				cmd.Printf("client: %s\n", tok.Client())
				cmd.Printf("roles: %v\n", info.Roles)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "credential key <user>;<secret> (required)")
	cmd.Flags().StringVar(&client, "client", "", "client name (default: accounts.default_client)")
	_ = cmd.MarkFlagRequired("key") //nolint:errcheck // flag exists
	return cmd
}
