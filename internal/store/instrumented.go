// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"time"
)

// Observer receives the latency and outcome of every storage call.
type Observer interface {
	ObserveStoreOperation(op string, d time.Duration, err error)
}

// Instrumented wraps a Store and reports each call to an Observer.
type Instrumented struct {
	next Store
	obs  Observer
	now  func() time.Time
}

var _ Store = (*Instrumented)(nil)

// Instrument returns s reporting to obs. A nil observer returns s unchanged.
func Instrument(s Store, obs Observer) Store {
	if obs == nil {
		return s
	}
	return &Instrumented{next: s, obs: obs, now: time.Now}
}

func (i *Instrumented) observe(op string, start time.Time, err error) {
	i.obs.ObserveStoreOperation(op, i.now().Sub(start), err)
}

// GetItem implements Reader.
func (i *Instrumented) GetItem(ctx context.Context, table, keyName, keyValue string, fields ...string) (Item, error) {
	start := i.now()
	item, err := i.next.GetItem(ctx, table, keyName, keyValue, fields...)
	i.observe("get_item", start, err)
	return item, err
}

// QueryBySecondaryKey implements Reader.
func (i *Instrumented) QueryBySecondaryKey(ctx context.Context, table, keyName, keyValue string, fields ...string) (Item, error) {
	start := i.now()
	item, err := i.next.QueryBySecondaryKey(ctx, table, keyName, keyValue, fields...)
	i.observe("query_secondary", start, err)
	return item, err
}

// WriteFields implements Writer.
func (i *Instrumented) WriteFields(ctx context.Context, table, keyName, keyValue string, fields map[string]any, opts ...WriteOption) error {
	start := i.now()
	err := i.next.WriteFields(ctx, table, keyName, keyValue, fields, opts...)
	i.observe("write_fields", start, err)
	return err
}

// DeleteItem implements Writer.
func (i *Instrumented) DeleteItem(ctx context.Context, table, keyName, keyValue string) error {
	start := i.now()
	err := i.next.DeleteItem(ctx, table, keyName, keyValue)
	i.observe("delete_item", start, err)
	return err
}

// AtomicVersionBump implements Versioner.
func (i *Instrumented) AtomicVersionBump(ctx context.Context, docPath string, payload map[string]any) (int64, error) {
	start := i.now()
	v, err := i.next.AtomicVersionBump(ctx, docPath, payload)
	i.observe("version_bump", start, err)
	return v, err
}

// EnsureCounter implements Versioner.
func (i *Instrumented) EnsureCounter(ctx context.Context, docPath string) error {
	return i.next.EnsureCounter(ctx, docPath)
}

// Ping implements Store.
func (i *Instrumented) Ping(ctx context.Context) error {
	return i.next.Ping(ctx)
}

// Close implements Store.
func (i *Instrumented) Close() error {
	return i.next.Close()
}
