// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Supported backend drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Driver          string
	URL             string
	KeyPrefix       string
	ConnectAttempts uint64
	ConnectBackoff  time.Duration
}

// Open creates the backend named by opts.Driver and waits until it answers Ping.
// Connection attempts back off exponentially; the last failure is returned once the
// attempts are used up.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		s   Store
		err error
	)
	switch opts.Driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverPostgres:
		s, err = NewPostgresStore(ctx, opts.URL)
	case DriverRedis:
		var ropts []RedisOption
		if opts.KeyPrefix != "" {
			ropts = append(ropts, WithKeyPrefix(opts.KeyPrefix))
		}
		s, err = NewRedisStore(opts.URL, ropts...)
	default:
		return nil, oops.Code("STORE_UNKNOWN_DRIVER").With("driver", opts.Driver).Errorf("unknown store driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	backoff := opts.ConnectBackoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	attempts := opts.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}

	attempt := 0
	err = retry.Do(ctx, retry.WithMaxRetries(attempts-1, retry.NewExponential(backoff)), func(ctx context.Context) error {
		attempt++
		if pingErr := s.Ping(ctx); pingErr != nil {
			slog.Warn("store not reachable yet", "driver", opts.Driver, "attempt", attempt, "error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		_ = s.Close() //nolint:errcheck // connect error takes precedence
		return nil, oops.With("driver", opts.Driver).With("attempts", attempt).Wrap(err)
	}
	return s, nil
}
