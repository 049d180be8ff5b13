// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package ticket stores the one-time tokens of pending registration and password reset
// requests.
//
// A ticket record is keyed by a ticket id and holds at most one registration token and
// one reset token, each with its issue time in milliseconds. Consuming a token sets its
// time to 0; records are never deleted.
package ticket

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/store"
)

// Storage layout.
const (
	Table   = "tickets"
	KeyName = "ticket_id"
)

// Error codes.
const (
	CodeNotFound = "TICKET_NOT_FOUND"
	CodeConsumed = "TICKET_CONSUMED"
	CodeInvalid  = "TICKET_INVALID"
)

// ErrNotFound is the cause of TICKET_NOT_FOUND errors.
var ErrNotFound = errors.New("ticket not found")

// ErrConsumed is the cause of TICKET_CONSUMED errors.
var ErrConsumed = errors.New("ticket already consumed")

// Kind selects which token of a ticket record is addressed.
type Kind int

// Ticket kinds.
const (
	Registration Kind = iota
	Reset
)

func (k Kind) String() string {
	switch k {
	case Registration:
		return "registration"
	case Reset:
		return "reset"
	default:
		return "unknown"
	}
}

// Fields returns the token and timestamp field names of the kind.
func (k Kind) Fields() (token, issuedAt string) {
	switch k {
	case Reset:
		return "tokens_supp", "tokens_supp_ts"
	default:
		return "tokens_reg", "tokens_reg_ts"
	}
}

func (k Kind) valid() bool {
	return k == Registration || k == Reset
}

// Record is one stored token. Token is the stored hash, never the token handed to the
// user. IssuedAt is in milliseconds since the epoch; 0 means consumed.
type Record struct {
	Token    string
	IssuedAt int64
}

// Consumed reports whether the record was invalidated.
func (r Record) Consumed() bool {
	return r.IssuedAt == 0
}

// Backend is the storage the adapter needs.
type Backend interface {
	store.Reader
	store.Writer
}

// IDSource allocates ticket ids.
type IDSource interface {
	NextTicketID(ctx context.Context) (string, error)
}

// Metrics receives a count per opened ticket.
type Metrics interface {
	TicketOpened(kind string)
}

// Store reads and writes ticket records.
type Store struct {
	backend Backend
	ids     IDSource
	metrics Metrics
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates a ticket store.
func New(backend Backend, ids IDSource, opts ...Option) *Store {
	s := &Store{backend: backend, ids: ids, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open allocates a new ticket id and stores the record issue builds for it. The record
// may depend on the id, as the stored token hash usually does.
func (s *Store) Open(ctx context.Context, kind Kind, issue func(id string) Record) (string, error) {
	id, err := s.ids.NextTicketID(ctx)
	if err != nil {
		return "", err
	}
	if err := s.Put(ctx, id, kind, issue(id)); err != nil {
		return "", err
	}
	if s.metrics != nil {
		s.metrics.TicketOpened(kind.String())
	}
	s.logger.Debug("ticket opened", "ticket_id", id, "kind", kind.String())
	return id, nil
}

// Put writes the token of one kind. The other kind on the same record is untouched.
func (s *Store) Put(ctx context.Context, id string, kind Kind, rec Record) error {
	if err := validate(id, kind); err != nil {
		return err
	}
	tokenField, tsField := kind.Fields()
	err := s.backend.WriteFields(ctx, Table, KeyName, id, map[string]any{
		tokenField: rec.Token,
		tsField:    rec.IssuedAt,
	})
	if err != nil {
		return oops.With("operation", "put ticket").With(KeyName, id).With("kind", kind.String()).Wrap(err)
	}
	return nil
}

// Get reads the token of one kind.
func (s *Store) Get(ctx context.Context, id string, kind Kind) (Record, error) {
	if err := validate(id, kind); err != nil {
		return Record{}, err
	}
	tokenField, tsField := kind.Fields()

	item, err := s.backend.GetItem(ctx, Table, KeyName, id, tokenField, tsField)
	if errors.Is(err, store.ErrNotFound) {
		return Record{}, oops.Code(CodeNotFound).With(KeyName, id).With("kind", kind.String()).Wrap(ErrNotFound)
	}
	if err != nil {
		return Record{}, oops.With("operation", "get ticket").With(KeyName, id).Wrap(err)
	}

	token := item.String(tokenField)
	ts, ok := item.Int64(tsField)
	if token == "" || !ok {
		return Record{}, oops.Code(CodeNotFound).With(KeyName, id).With("kind", kind.String()).Wrap(ErrNotFound)
	}
	return Record{Token: token, IssuedAt: ts}, nil
}

// Consume invalidates the token of one kind, but only while its stored issue time still
// equals issuedAt. Of several concurrent callers at most one succeeds; the others get
// TICKET_CONSUMED.
func (s *Store) Consume(ctx context.Context, id string, kind Kind, issuedAt int64) error {
	if err := validate(id, kind); err != nil {
		return err
	}
	if issuedAt == 0 {
		return oops.Code(CodeConsumed).With(KeyName, id).Wrap(ErrConsumed)
	}
	_, tsField := kind.Fields()

	err := s.backend.WriteFields(ctx, Table, KeyName, id,
		map[string]any{tsField: int64(0)},
		store.IfEqual(tsField, issuedAt))
	if errors.Is(err, store.ErrConditionFailed) {
		return oops.Code(CodeConsumed).With(KeyName, id).With("kind", kind.String()).Wrap(ErrConsumed)
	}
	if err != nil {
		return oops.With("operation", "consume ticket").With(KeyName, id).Wrap(err)
	}
	return nil
}

func validate(id string, kind Kind) error {
	if id == "" {
		return oops.Code(CodeInvalid).Errorf("ticket id cannot be empty")
	}
	if !kind.valid() {
		return oops.Code(CodeInvalid).With("kind", int(kind)).Errorf("unknown ticket kind")
	}
	return nil
}
