// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

// poolIface is the subset of pgxpool.Pool used by PostgresStore. pgxmock pools satisfy it.
type poolIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store with JSONB documents in PostgreSQL.
// Schema lives in migrations/ and is applied by Migrator.
type PostgresStore struct {
	pool poolIface
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects a pool to dsn.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code(CodeUnavailable).With("operation", "create pool").Wrap(err)
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreWithPool wraps an existing pool.
func NewPostgresStoreWithPool(pool poolIface) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// GetItem reads the item by primary key.
func (s *PostgresStore) GetItem(ctx context.Context, table, keyName, keyValue string, fields ...string) (Item, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM items WHERE tbl = $1 AND pk = $2`,
		table, keyValue,
	).Scan(&raw)
	if err != nil {
		return nil, oops.With("operation", "get item").
			With("table", table).
			With(keyName, keyValue).
			Wrap(classifyPgError(err))
	}

	doc, err := decodeItem(raw)
	if err != nil {
		return nil, oops.With("table", table).With(keyName, keyValue).Wrap(err)
	}
	return doc.Project(fields...), nil
}

// QueryBySecondaryKey reads the first item whose top-level field matches.
func (s *PostgresStore) QueryBySecondaryKey(ctx context.Context, table, keyName, keyValue string, fields ...string) (Item, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM items WHERE tbl = $1 AND doc->>$2 = $3 ORDER BY pk LIMIT 1`,
		table, keyName, keyValue,
	).Scan(&raw)
	if err != nil {
		return nil, oops.With("operation", "query by secondary key").
			With("table", table).
			With(keyName, keyValue).
			Wrap(classifyPgError(err))
	}

	doc, err := decodeItem(raw)
	if err != nil {
		return nil, oops.With("table", table).With(keyName, keyValue).Wrap(err)
	}
	return doc.Project(fields...), nil
}

// WriteFields merges fields into the item inside a transaction holding a row lock.
func (s *PostgresStore) WriteFields(ctx context.Context, table, keyName, keyValue string, fields map[string]any, opts ...WriteOption) error {
	errb := oops.With("operation", "write fields").With("table", table).With(keyName, keyValue)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errb.Wrap(classifyPgError(err))
	}

	var current Item
	var raw []byte
	err = tx.QueryRow(ctx,
		`SELECT doc FROM items WHERE tbl = $1 AND pk = $2 FOR UPDATE`,
		table, keyValue,
	).Scan(&raw)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		rollback(ctx, tx)
		return errb.Wrap(classifyPgError(err))
	default:
		if current, err = decodeItem(raw); err != nil {
			rollback(ctx, tx)
			return errb.Wrap(err)
		}
	}

	if !collectOptions(opts).check(current) {
		rollback(ctx, tx)
		return oops.Code(CodeConditionFailed).
			With("table", table).
			With(keyName, keyValue).
			Wrap(ErrConditionFailed)
	}

	if current == nil {
		current = Item{}
	}
	current[keyName] = keyValue
	if err := applyFields(current, fields); err != nil {
		rollback(ctx, tx)
		return errb.Wrap(err)
	}
	encoded, err := encodeItem(current)
	if err != nil {
		rollback(ctx, tx)
		return errb.Wrap(err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO items (tbl, pk, doc) VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (tbl, pk) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		table, keyValue, string(encoded),
	)
	if err != nil {
		rollback(ctx, tx)
		return errb.Wrap(classifyPgError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return errb.Wrap(classifyPgError(err))
	}
	return nil
}

// DeleteItem removes the item.
func (s *PostgresStore) DeleteItem(ctx context.Context, table, keyName, keyValue string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM items WHERE tbl = $1 AND pk = $2`, table, keyValue)
	if err != nil {
		return oops.With("operation", "delete item").
			With("table", table).
			With(keyName, keyValue).
			Wrap(classifyPgError(err))
	}
	return nil
}

// AtomicVersionBump increments the counter row. The UPDATE always writes, so the version
// moves even when the payload is identical.
func (s *PostgresStore) AtomicVersionBump(ctx context.Context, docPath string, payload map[string]any) (int64, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, oops.Code(CodeFailed).With("doc", docPath).Wrap(err)
	}

	var version int64
	err = s.pool.QueryRow(ctx,
		`UPDATE counters SET version = version + 1, payload = $2::jsonb WHERE name = $1 RETURNING version`,
		docPath, string(encoded),
	).Scan(&version)
	if err != nil {
		return 0, oops.With("operation", "bump version").With("doc", docPath).Wrap(classifyPgError(err))
	}
	return version, nil
}

// EnsureCounter inserts the counter row if missing.
func (s *PostgresStore) EnsureCounter(ctx context.Context, docPath string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO counters (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
		docPath,
	)
	if err != nil {
		return oops.With("operation", "ensure counter").With("doc", docPath).Wrap(classifyPgError(err))
	}
	return nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return oops.Code(CodeUnavailable).With("operation", "ping").Wrap(err)
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func rollback(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(ctx) //nolint:errcheck // the original error is what the caller needs
}

// classifyPgError attaches a store code to a pgx error. Server-reported errors are
// failures unless they signal that the server cannot serve requests. Client-side
// errors are unavailability only when the connection itself failed or timed out;
// argument and scan errors are failures.
func classifyPgError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return oops.Code(CodeNotFound).Wrap(ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgerrcode.IsConnectionException(pgErr.Code) ||
			pgerrcode.IsInsufficientResources(pgErr.Code) ||
			pgerrcode.IsOperatorIntervention(pgErr.Code) {
			return oops.Code(CodeUnavailable).With("sqlstate", pgErr.Code).Wrap(err)
		}
		return oops.Code(CodeFailed).With("sqlstate", pgErr.Code).Wrap(err)
	}

	if isConnectionError(err) {
		return oops.Code(CodeUnavailable).Wrap(err)
	}
	return oops.Code(CodeFailed).Wrap(err)
}

func isConnectionError(err error) bool {
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
