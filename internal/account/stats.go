// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/accountd/internal/store"
	"github.com/holomush/accountd/pkg/errutil"
)

// Statistics paths updated on every successful login.
const (
	PathTotalCalls = "statistics.totalCalls"
	PathLastLogin  = "statistics.lastLogin"
)

// StatsMetrics receives the outcome of each statistics write.
type StatsMetrics interface {
	StatsWrite(ok bool)
}

// StatsConfig configures a StatsRecorder. Zero values select defaults.
type StatsConfig struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration
	Metrics     StatsMetrics
	Logger      *slog.Logger
	Now         func() time.Time
}

// StatsRecorder updates login statistics in the background. Recording never blocks the
// caller: when the queue is full the update is dropped. Failed writes are retried a
// bounded number of times and then logged.
type StatsRecorder struct {
	store store.Writer
	cfg   StatsConfig

	mu     sync.RWMutex
	queue  chan string
	closed bool
	wg     sync.WaitGroup
}

var _ StatsSink = (*StatsRecorder)(nil)

// NewStatsRecorder creates a recorder. Call Start to run its workers.
func NewStatsRecorder(w store.Writer, cfg StatsConfig) *StatsRecorder {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 50 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &StatsRecorder{store: w, cfg: cfg, queue: make(chan string, cfg.QueueSize)}
}

// Start runs the workers. Writes use ctx; Close drains the queue and waits for them.
func (r *StatsRecorder) Start(ctx context.Context) {
	for range r.cfg.Workers {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for userID := range r.queue {
				r.write(ctx, userID)
			}
		}()
	}
}

// RecordLogin queues a statistics update for userID.
func (r *StatsRecorder) RecordLogin(userID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed || userID == "" {
		return
	}
	select {
	case r.queue <- userID:
	default:
		r.cfg.Logger.Warn("statistics queue full, update dropped", "userid", userID)
	}
}

// Close stops accepting updates, finishes the queued ones and waits for the workers.
func (r *StatsRecorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *StatsRecorder) write(ctx context.Context, userID string) {
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(r.cfg.MaxAttempts-1), retry.NewExponential(r.cfg.Backoff)) //nolint:gosec // MaxAttempts is positive
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := r.store.WriteFields(ctx, Table, KeyName, userID, map[string]any{
			PathTotalCalls: store.Increment(1),
			PathLastLogin:  r.cfg.Now().UnixMilli(),
		}, store.IfEqual(KeyName, userID))
		if err != nil && !errors.Is(err, store.ErrConditionFailed) {
			return retry.RetryableError(err)
		}
		return err
	})
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.StatsWrite(err == nil)
	}
	if err != nil {
		errutil.LogErrorContext(ctx, r.cfg.Logger, "statistics update failed",
			oops.With("userid", userID).With("attempts", attempt).Wrap(err))
	}
}
