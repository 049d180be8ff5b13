// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"sync"

	"github.com/samber/oops"
)

type counter struct {
	version int64
	payload map[string]any
}

// MemoryStore is an in-process Store. It backs tests and single-node development runs.
type MemoryStore struct {
	mu       sync.Mutex
	tables   map[string]map[string]Item
	counters map[string]*counter
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables:   make(map[string]map[string]Item),
		counters: make(map[string]*counter),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) checkOpen() error {
	if s.closed {
		return oops.Code(CodeUnavailable).Errorf("memory store is closed")
	}
	return nil
}

// GetItem returns the projection of the item onto fields.
func (s *MemoryStore) GetItem(_ context.Context, table, keyName, keyValue string, fields ...string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	doc, ok := s.tables[table][keyValue]
	if !ok {
		return nil, oops.Code(CodeNotFound).
			With("table", table).
			With(keyName, keyValue).
			Wrap(ErrNotFound)
	}
	return doc.Project(fields...), nil
}

// QueryBySecondaryKey scans the table for the first item with a matching top-level field.
func (s *MemoryStore) QueryBySecondaryKey(_ context.Context, table, keyName, keyValue string, fields ...string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	for _, doc := range s.tables[table] {
		if v, ok := doc[keyName].(string); ok && v == keyValue {
			return doc.Project(fields...), nil
		}
	}
	return nil, oops.Code(CodeNotFound).
		With("table", table).
		With(keyName, keyValue).
		Wrap(ErrNotFound)
}

// WriteFields upserts the item.
func (s *MemoryStore) WriteFields(_ context.Context, table, keyName, keyValue string, fields map[string]any, opts ...WriteOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	rows, ok := s.tables[table]
	if !ok {
		rows = make(map[string]Item)
		s.tables[table] = rows
	}

	current := rows[keyValue]
	if !collectOptions(opts).check(current) {
		return oops.Code(CodeConditionFailed).
			With("table", table).
			With(keyName, keyValue).
			Wrap(ErrConditionFailed)
	}

	// Work on a copy so a rejected path leaves the item untouched.
	next := current.Clone()
	if next == nil {
		next = Item{}
	}
	next[keyName] = keyValue
	if err := applyFields(next, fields); err != nil {
		return oops.With("table", table).With(keyName, keyValue).Wrap(err)
	}
	rows[keyValue] = next
	return nil
}

// DeleteItem removes the item.
func (s *MemoryStore) DeleteItem(_ context.Context, table, _, keyValue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	delete(s.tables[table], keyValue)
	return nil
}

// AtomicVersionBump increments the counter version.
func (s *MemoryStore) AtomicVersionBump(_ context.Context, docPath string, payload map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	c, ok := s.counters[docPath]
	if !ok {
		return 0, oops.Code(CodeNotFound).With("doc", docPath).Wrap(ErrNotFound)
	}
	c.version++
	c.payload = cloneValue(payload).(map[string]any)
	return c.version, nil
}

// EnsureCounter creates the counter at version 0 if missing.
func (s *MemoryStore) EnsureCounter(_ context.Context, docPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.counters[docPath]; !ok {
		s.counters[docPath] = &counter{payload: map[string]any{}}
	}
	return nil
}

// Ping fails once the store is closed.
func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkOpen()
}

// Close marks the store unavailable. Later calls fail with STORE_UNAVAILABLE.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
