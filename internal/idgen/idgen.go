// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package idgen issues collision-free global ids for users and tickets.
//
// Every id is the version returned by an unconditional bump of one shared counter
// document. The store's version counter is the only authority; no process-local state
// takes part in assigning ids, so any number of stateless instances can issue ids
// concurrently.
package idgen

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/store"
	"github.com/holomush/accountd/pkg/errutil"
)

// Rendering constants. Offset guarantees a minimum number of digits.
const (
	Offset            = 997
	TicketPrefix      = "t"
	DefaultUserPrefix = "uid"
	DefaultCounterDoc = "guid"
)

// Kinds reported to metrics.
const (
	KindUser   = "user"
	KindTicket = "ticket"
)

// CodeFailed marks a failed generation that is not a storage outage.
const CodeFailed = "IDGEN_FAILED"

// Metrics receives a count per issued id.
type Metrics interface {
	IDIssued(kind string)
}

// Generator issues ids.
type Generator struct {
	store      store.Versioner
	userPrefix string
	doc        string
	last       atomic.Int64
	metrics    Metrics
	logger     *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithUserPrefix sets the prefix of user ids.
func WithUserPrefix(prefix string) Option {
	return func(g *Generator) {
		g.userPrefix = prefix
	}
}

// WithCounterDoc sets the counter document path.
func WithCounterDoc(doc string) Option {
	return func(g *Generator) {
		g.doc = doc
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(g *Generator) {
		g.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		g.logger = l
	}
}

// New creates a Generator backed by v.
func New(v store.Versioner, opts ...Option) *Generator {
	g := &Generator{
		store:      v,
		userPrefix: DefaultUserPrefix,
		doc:        DefaultCounterDoc,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// UserPrefix returns the prefix of user ids.
func (g *Generator) UserPrefix() string {
	return g.userPrefix
}

// NextUserID issues a new user id.
func (g *Generator) NextUserID(ctx context.Context) (string, error) {
	v, err := g.next(ctx, KindUser)
	if err != nil {
		return "", err
	}
	return g.userPrefix + strconv.FormatInt(Offset+v, 10), nil
}

// NextTicketID issues a new ticket id.
func (g *Generator) NextTicketID(ctx context.Context) (string, error) {
	v, err := g.next(ctx, KindTicket)
	if err != nil {
		return "", err
	}
	return TicketPrefix + strconv.FormatInt(Offset+v, 10), nil
}

// LastIssued is the last counter version this process observed. Diagnostic only:
// other instances issue ids this process never sees.
func (g *Generator) LastIssued() int64 {
	return g.last.Load()
}

func (g *Generator) next(ctx context.Context, kind string) (int64, error) {
	payload := map[string]any{"last": g.last.Load() + 1}

	v, err := g.store.AtomicVersionBump(ctx, g.doc, payload)
	if err != nil {
		errutil.LogError(g.logger, "id generation failed", err)
		if isUnavailable(err) {
			return 0, oops.With("doc", g.doc).With("kind", kind).Wrap(err)
		}
		// Reported under our own code: a missing counter is a setup fault, not a
		// missing account.
		return 0, oops.Code(CodeFailed).
			With("doc", g.doc).
			With("kind", kind).
			With("cause", err.Error()).
			Errorf("id generation failed")
	}
	if v <= 0 {
		return 0, oops.Code(CodeFailed).With("doc", g.doc).With("version", v).Errorf("store returned non-positive version")
	}

	// Keep the hint monotonic when calls complete out of order.
	for {
		cur := g.last.Load()
		if v <= cur || g.last.CompareAndSwap(cur, v) {
			break
		}
	}
	if g.metrics != nil {
		g.metrics.IDIssued(kind)
	}
	return v, nil
}

func isUnavailable(err error) bool {
	return errutil.Code(err) == store.CodeUnavailable
}
