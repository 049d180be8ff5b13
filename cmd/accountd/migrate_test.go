// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/accountd/internal/idgen"
	"github.com/holomush/accountd/internal/store"
	"github.com/holomush/accountd/pkg/errutil"
)

var postgresFlags = []string{"--store-driver", "postgres", "--store-url", "postgres://accountd@localhost:5432/accountd"}

func TestMigrate_Subcommands(t *testing.T) {
	tests := []struct {
		name      string
		sub       string
		version   uint
		dirty     bool
		pending   []uint
		wantCalls []string
		wantOut   string
	}{
		{name: "up", sub: "up", wantCalls: []string{"up"}, wantOut: "Migrations completed successfully"},
		{name: "down", sub: "down", wantCalls: []string{"down"}, wantOut: "Migrations rolled back"},
		{name: "version", sub: "version", version: 3, wantCalls: []string{"version"}, wantOut: "Schema version: 3\n"},
		{name: "dirty version", sub: "version", version: 2, dirty: true, wantCalls: []string{"version"}, wantOut: "Schema version: 2 (dirty)"},
		{name: "status up to date", sub: "status", wantCalls: []string{"status"}, wantOut: "Schema is up to date"},
		{name: "status pending", sub: "status", pending: []uint{2}, wantCalls: []string{"status"}, wantOut: "Pending migrations: [2]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.migrator.version = tt.version
			env.migrator.dirty = tt.dirty
			env.migrator.pending = tt.pending

			out, err := env.run(t, append(postgresFlags, "migrate", tt.sub)...)
			require.NoError(t, err)
			assert.Contains(t, out, tt.wantOut)
			assert.Equal(t, tt.wantCalls, env.migrator.calls)
			assert.True(t, env.migrator.closed)
		})
	}
}

func TestMigrate_Force(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, append(postgresFlags, "migrate", "force", "1")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Schema version forced to 1")
	assert.Equal(t, 1, env.migrator.forced)

	_, err = env.run(t, append(postgresFlags, "migrate", "force", "one")...)
	errutil.AssertErrorCode(t, err, "INVALID_VERSION")
	assert.Equal(t, []string{"force"}, env.migrator.calls)
}

func TestMigrate_RequiresPostgres(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "migrate", "up")
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	errutil.AssertErrorContext(t, err, "key", "store.driver")
	assert.Empty(t, env.migrator.calls)
}

func TestMigrate_Failure(t *testing.T) {
	env := newTestEnv(t)
	env.migrator.err = errors.New("dirty database")

	_, err := env.run(t, append(postgresFlags, "migrate", "up")...)
	errutil.AssertErrorCode(t, err, "MIGRATION_FAILED")
	assert.True(t, env.migrator.closed)
}

func TestMigrate_InitFailure(t *testing.T) {
	env := newTestEnv(t)
	env.deps.MigratorFactory = func(string) (Migrator, error) {
		return nil, errors.New("no database")
	}

	_, err := env.run(t, append(postgresFlags, "migrate", "version")...)
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}

func TestSetup(t *testing.T) {
	t.Run("memory driver skips migrations", func(t *testing.T) {
		env := newTestEnv(t)

		out, err := env.run(t, "setup")
		require.NoError(t, err)
		assert.Contains(t, out, "Store ready (driver memory)")
		assert.NotContains(t, out, "Migrations applied")
		assert.Empty(t, env.migrator.calls)

		v, err := env.store.AtomicVersionBump(context.Background(), idgen.DefaultCounterDoc, map[string]any{"last": 1})
		require.NoError(t, err, "the counter document exists after setup")
		assert.Equal(t, int64(1), v)
	})

	t.Run("postgres driver migrates first", func(t *testing.T) {
		env := newTestEnv(t)

		out, err := env.run(t, append(postgresFlags, "setup")...)
		require.NoError(t, err)
		assert.Contains(t, out, "Migrations applied")
		assert.Contains(t, out, "Store ready (driver postgres)")
		assert.Equal(t, []string{"up"}, env.migrator.calls)
		assert.Equal(t, 1, env.store.Closes())
	})

	t.Run("store failure", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.store.MemoryStore.Close())

		_, err := env.run(t, "setup")
		errutil.AssertErrorCode(t, err, store.CodeUnavailable)
	})
}
