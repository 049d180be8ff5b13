// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads accountd configuration.
//
// Sources are layered in this order, later ones winning: built-in defaults, an optional
// YAML file, ACCOUNTD_* environment variables, command-line flags that were set
// explicitly.
package config

import (
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gobwas/glob"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "ACCOUNTD_"

// CodeInvalid marks configuration errors.
const CodeInvalid = "CONFIG_INVALID"

// Authenticator names.
const (
	AuthenticatorStore   = "store"
	AuthenticatorInstant = "instant"
)

// Config is the complete service configuration.
type Config struct {
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Store    StoreConfig    `koanf:"store"`
	Accounts AccountsConfig `koanf:"accounts"`
	Stats    StatsConfig    `koanf:"stats"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// MetricsConfig configures the observability server. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// StoreConfig selects the storage backend.
type StoreConfig struct {
	Driver          string        `koanf:"driver"`
	URL             string        `koanf:"url"`
	KeyPrefix       string        `koanf:"key_prefix"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	ConnectBackoff  time.Duration `koanf:"connect_backoff"`
}

// AccountsConfig configures the account flows.
type AccountsConfig struct {
	UserIDPrefix         string       `koanf:"user_id_prefix"`
	SuperuserID          string       `koanf:"superuser_id"`
	SuperuserEmail       string       `koanf:"superuser_email"`
	SuperuserPwdHash     string       `koanf:"superuser_pwd_hash"`
	RestrictRegistration bool         `koanf:"restrict_registration"`
	DefaultClient        string       `koanf:"default_client"`
	Authenticator        string       `koanf:"authenticator"`
	HashIterations       int          `koanf:"hash_iterations"`
	LessTrustedClients   []ClientRule `koanf:"less_trusted_clients"`
}

// ClientRule matches client names by glob pattern and, optionally, client versions by
// a semver constraint.
type ClientRule struct {
	Pattern  string `koanf:"pattern"`
	Versions string `koanf:"versions"`
}

// StatsConfig sizes the background statistics writer.
type StatsConfig struct {
	Workers     int `koanf:"workers"`
	QueueSize   int `koanf:"queue_size"`
	MaxAttempts int `koanf:"max_attempts"`
}

// defaults are the built-in values, keyed like the YAML file.
func defaults() map[string]any {
	return map[string]any{
		"log.format":                     "json",
		"log.level":                      "info",
		"metrics.addr":                   "127.0.0.1:9100",
		"store.driver":                   "memory",
		"store.url":                      "",
		"store.key_prefix":               "accountd",
		"store.connect_attempts":         5,
		"store.connect_backoff":          500 * time.Millisecond,
		"accounts.user_id_prefix":        "uid",
		"accounts.superuser_id":          "",
		"accounts.superuser_email":       "",
		"accounts.superuser_pwd_hash":    "",
		"accounts.restrict_registration": false,
		"accounts.default_client":        "web_app_v1.0",
		"accounts.authenticator":         AuthenticatorStore,
		"accounts.hash_iterations":       20000,
		"accounts.less_trusted_clients": []any{
			map[string]any{"pattern": "web_app*", "versions": ""},
			map[string]any{"pattern": "*browser*", "versions": ""},
		},
		"stats.workers":      2,
		"stats.queue_size":   256,
		"stats.max_attempts": 3,
	}
}

// flagKeys maps command-line flag names onto configuration keys. Flags not listed here
// are ignored by Load.
var flagKeys = map[string]string{
	"log-format":       "log.format",
	"log-level":        "log.level",
	"metrics-addr":     "metrics.addr",
	"store-driver":     "store.driver",
	"store-url":        "store.url",
	"user-id-prefix":   "accounts.user_id_prefix",
	"restrict-signups": "accounts.restrict_registration",
	"authenticator":    "accounts.authenticator",
}

// LoadOptions selects the sources read by Load.
type LoadOptions struct {
	// File is an optional YAML file. Empty means no file.
	File string
	// Flags are consulted for the flag names in flagKeys.
	Flags *pflag.FlagSet
}

// Load reads and validates the configuration.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, oops.Code(CodeInvalid).With("source", "defaults").Wrap(err)
	}

	if opts.File != "" {
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return nil, oops.Code(CodeInvalid).With("source", "file").With("path", opts.File).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code(CodeInvalid).With("source", "env").Wrap(err)
	}

	if opts.Flags != nil {
		fs := opts.Flags
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code(CodeInvalid).With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(CodeInvalid).With("operation", "unmarshal").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := Load(LoadOptions{})
	if err != nil {
		// The built-in values are validated by tests.
		panic(err)
	}
	return cfg
}

// envKey turns ACCOUNTD_STORE_CONNECT_ATTEMPTS into store.connect_attempts. Only the
// first underscore separates the section; section names contain none.
func envKey(s string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
}

var prefixPattern = regexp.MustCompile(`^[a-z]+$`)

// Validate reports the first invalid value.
func (c *Config) Validate() error {
	invalid := func(key string, value any, msg string) error {
		return oops.Code(CodeInvalid).With("key", key).With("value", value).Errorf("%s: %s", key, msg)
	}

	if !slices.Contains([]string{"json", "text"}, c.Log.Format) {
		return invalid("log.format", c.Log.Format, "must be json or text")
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		return invalid("log.level", c.Log.Level, "must be debug, info, warn or error")
	}

	switch c.Store.Driver {
	case "memory":
	case "postgres", "redis":
		if c.Store.URL == "" {
			return invalid("store.url", c.Store.URL, "required for driver "+c.Store.Driver)
		}
	default:
		return invalid("store.driver", c.Store.Driver, "must be memory, postgres or redis")
	}
	if c.Store.ConnectAttempts < 1 {
		return invalid("store.connect_attempts", c.Store.ConnectAttempts, "must be at least 1")
	}

	if !prefixPattern.MatchString(c.Accounts.UserIDPrefix) {
		return invalid("accounts.user_id_prefix", c.Accounts.UserIDPrefix, "must be lowercase letters")
	}
	if c.Accounts.UserIDPrefix == "t" {
		return invalid("accounts.user_id_prefix", c.Accounts.UserIDPrefix, "reserved for ticket ids")
	}
	if c.Accounts.SuperuserID != "" && !strings.HasPrefix(c.Accounts.SuperuserID, c.Accounts.UserIDPrefix) {
		return invalid("accounts.superuser_id", c.Accounts.SuperuserID, "must carry the user id prefix")
	}
	if c.Accounts.Authenticator != AuthenticatorStore && c.Accounts.Authenticator != AuthenticatorInstant {
		return invalid("accounts.authenticator", c.Accounts.Authenticator, "must be store or instant")
	}
	if c.Accounts.HashIterations < 1000 {
		return invalid("accounts.hash_iterations", c.Accounts.HashIterations, "must be at least 1000")
	}
	for i, rule := range c.Accounts.LessTrustedClients {
		if _, err := glob.Compile(rule.Pattern); err != nil || rule.Pattern == "" {
			return invalid("accounts.less_trusted_clients", i, "invalid pattern "+rule.Pattern)
		}
		if rule.Versions != "" {
			if _, err := semver.NewConstraint(rule.Versions); err != nil {
				return invalid("accounts.less_trusted_clients", i, "invalid version constraint "+rule.Versions)
			}
		}
	}

	if c.Stats.Workers < 1 {
		return invalid("stats.workers", c.Stats.Workers, "must be at least 1")
	}
	if c.Stats.QueueSize < 1 {
		return invalid("stats.queue_size", c.Stats.QueueSize, "must be at least 1")
	}
	if c.Stats.MaxAttempts < 1 || c.Stats.MaxAttempts > 3 {
		return invalid("stats.max_attempts", c.Stats.MaxAttempts, "must be between 1 and 3")
	}
	return nil
}
