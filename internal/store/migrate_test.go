// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/accountd/pkg/errutil"
)

type mockMigrate struct {
	upErr          error
	downErr        error
	versionVal     uint
	versionErr     error
	dirty          bool
	forceErr       error
	closeSourceErr error
	closeDbErr     error
}

func (m *mockMigrate) Up() error                    { return m.upErr }
func (m *mockMigrate) Down() error                  { return m.downErr }
func (m *mockMigrate) Version() (uint, bool, error) { return m.versionVal, m.dirty, m.versionErr }
func (m *mockMigrate) Force(_ int) error            { return m.forceErr }
func (m *mockMigrate) Close() (error, error)        { return m.closeSourceErr, m.closeDbErr }

func TestNewMigrator_InvalidURL(t *testing.T) {
	_, err := NewMigrator("badscheme://localhost:5432/accounts")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@db:5432/accounts", "pgx5://u:p@db:5432/accounts"},
		{"postgresql://u:p@db:5432/accounts", "pgx5://u:p@db:5432/accounts"},
		{"pgx5://db/accounts", "pgx5://db/accounts"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, migrateURL(tt.in))
		})
	}
}

func TestMigrator_UpDown(t *testing.T) {
	tests := []struct {
		name     string
		mock     *mockMigrate
		down     bool
		wantCode string
	}{
		{name: "up applies", mock: &mockMigrate{}},
		{name: "up without changes", mock: &mockMigrate{upErr: migrate.ErrNoChange}},
		{name: "up fails", mock: &mockMigrate{upErr: errors.New("database locked")}, wantCode: "MIGRATION_UP_FAILED"},
		{name: "down applies", mock: &mockMigrate{}, down: true},
		{name: "down without changes", mock: &mockMigrate{downErr: migrate.ErrNoChange}, down: true},
		{name: "down fails", mock: &mockMigrate{downErr: errors.New("constraint violation")}, down: true, wantCode: "MIGRATION_DOWN_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Migrator{m: tt.mock}
			var err error
			if tt.down {
				err = m.Down()
			} else {
				err = m.Up()
			}
			if tt.wantCode == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestMigrator_Version(t *testing.T) {
	t.Run("reports applied version", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionVal: 2, dirty: true}}
		version, dirty, err := m.Version()
		require.NoError(t, err)
		assert.Equal(t, uint(2), version)
		assert.True(t, dirty)
	})

	t.Run("nil version means nothing applied", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionErr: migrate.ErrNilVersion}}
		version, dirty, err := m.Version()
		require.NoError(t, err)
		assert.Equal(t, uint(0), version)
		assert.False(t, dirty)
	})

	t.Run("driver error", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionErr: errors.New("connection lost")}}
		_, _, err := m.Version()
		errutil.AssertErrorCode(t, err, "MIGRATION_VERSION_FAILED")
	})
}

func TestMigrator_Force(t *testing.T) {
	m := &Migrator{m: &mockMigrate{}}
	require.NoError(t, m.Force(1))

	errutil.AssertErrorCode(t, m.Force(-1), "INVALID_VERSION")

	m = &Migrator{m: &mockMigrate{forceErr: errors.New("invalid version")}}
	errutil.AssertErrorCode(t, m.Force(1), "MIGRATION_FORCE_FAILED")
}

func TestMigrator_Pending(t *testing.T) {
	all, err := migrationVersions()
	require.NoError(t, err)
	require.Equal(t, []uint{1, 2}, all)

	m := &Migrator{m: &mockMigrate{versionVal: 1}}
	pending, err := m.Pending()
	require.NoError(t, err)
	assert.Equal(t, []uint{2}, pending)

	m = &Migrator{m: &mockMigrate{versionVal: 2}}
	pending, err = m.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMigrator_Close(t *testing.T) {
	tests := []struct {
		name      string
		mock      *mockMigrate
		wantErr   bool
		component string
	}{
		{name: "clean close", mock: &mockMigrate{}},
		{name: "source error", mock: &mockMigrate{closeSourceErr: errors.New("src")}, wantErr: true, component: "source"},
		{name: "database error", mock: &mockMigrate{closeDbErr: errors.New("db")}, wantErr: true, component: "database"},
		{name: "both fail", mock: &mockMigrate{closeSourceErr: errors.New("src"), closeDbErr: errors.New("db")}, wantErr: true, component: "both"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Migrator{m: tt.mock}).Close()
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
			errutil.AssertErrorContext(t, err, "component", tt.component)
		})
	}
}
