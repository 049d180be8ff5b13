// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/holomush/accountd/internal/observability"
	"github.com/holomush/accountd/internal/store"
)

// sharedStore hands the same memory store to every command of a test and counts the
// Close calls instead of closing it.
type sharedStore struct {
	*store.MemoryStore

	mu     sync.Mutex
	closes int
}

func (s *sharedStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *sharedStore) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeMigrator struct {
	calls   []string
	version uint
	dirty   bool
	pending []uint
	forced  int
	err     error
	closed  bool
}

func (m *fakeMigrator) Up() error {
	m.calls = append(m.calls, "up")
	return m.err
}

func (m *fakeMigrator) Down() error {
	m.calls = append(m.calls, "down")
	return m.err
}

func (m *fakeMigrator) Version() (uint, bool, error) {
	m.calls = append(m.calls, "version")
	return m.version, m.dirty, m.err
}

func (m *fakeMigrator) Force(version int) error {
	m.calls = append(m.calls, "force")
	m.forced = version
	return m.err
}

func (m *fakeMigrator) Pending() ([]uint, error) {
	m.calls = append(m.calls, "status")
	return m.pending, m.err
}

func (m *fakeMigrator) Close() error {
	m.closed = true
	return nil
}

type fakeObservabilityServer struct {
	addr    string
	ready   observability.ReadinessChecker
	metrics *observability.AccountMetrics
	started bool
	stopped bool
}

func (s *fakeObservabilityServer) Start() (<-chan error, error) {
	s.started = true
	return make(chan error), nil
}

func (s *fakeObservabilityServer) Stop(context.Context) error {
	s.stopped = true
	return nil
}

func (s *fakeObservabilityServer) Addr() string { return s.addr }

func (s *fakeObservabilityServer) Metrics() *observability.AccountMetrics { return s.metrics }

type testEnv struct {
	store    *sharedStore
	migrator *fakeMigrator
	server   *fakeObservabilityServer
	deps     *Deps
	opened   []store.Options
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	env := &testEnv{
		store:    &sharedStore{MemoryStore: store.NewMemoryStore()},
		migrator: &fakeMigrator{},
	}
	env.deps = &Deps{
		StoreFactory: func(_ context.Context, opts store.Options) (store.Store, error) {
			env.opened = append(env.opened, opts)
			return env.store, nil
		},
		MigratorFactory: func(string) (Migrator, error) {
			return env.migrator, nil
		},
		ObservabilityServerFactory: func(addr string, ready observability.ReadinessChecker, _ *slog.Logger) ObservabilityServer {
			env.server = &fakeObservabilityServer{
				addr:    addr,
				ready:   ready,
				metrics: observability.NewAccountMetrics(prometheus.NewRegistry()),
			}
			return env.server
		},
	}
	return env
}

// run executes the CLI with args and returns what it printed.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.runContext(t, context.Background(), args...)
}

func (e *testEnv) runContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(e.deps)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.ExecuteContext(ctx)
	return buf.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accountd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
