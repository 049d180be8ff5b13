// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store provides the key-value storage collaborator used by the account core.
//
// Items are JSON-like documents addressed by (table, primary key). Field names passed to
// reads and writes are dotted paths into the document ("tokens.web_app_ts"). Writes are
// upserts that create intermediate maps as needed.
package store

import (
	"context"
	"errors"
)

// Error codes attached to store errors. Callers classify failures by these codes,
// which survive any further wrapping with oops.
const (
	CodeUnavailable     = "STORE_UNAVAILABLE"
	CodeNotFound        = "STORE_NOT_FOUND"
	CodeConditionFailed = "STORE_CONDITION_FAILED"
	CodeFailed          = "STORE_FAILED"
	CodeInvalidPath     = "STORE_INVALID_PATH"
)

// ErrNotFound is the cause of every STORE_NOT_FOUND error.
var ErrNotFound = errors.New("item not found")

// ErrConditionFailed is the cause of every STORE_CONDITION_FAILED error.
var ErrConditionFailed = errors.New("write condition not met")

// Reader fetches items by primary or secondary key.
type Reader interface {
	// GetItem returns the projection of the item onto fields, or the whole item when
	// no fields are given. Returns an error wrapping ErrNotFound when the item does
	// not exist.
	GetItem(ctx context.Context, table, keyName, keyValue string, fields ...string) (Item, error)

	// QueryBySecondaryKey returns the first item whose top-level keyName field equals
	// keyValue.
	QueryBySecondaryKey(ctx context.Context, table, keyName, keyValue string, fields ...string) (Item, error)
}

// Writer mutates items.
type Writer interface {
	// WriteFields sets every dotted path in fields on the item, creating the item when
	// it does not exist. The primary key is stored on the item under keyName.
	WriteFields(ctx context.Context, table, keyName, keyValue string, fields map[string]any, opts ...WriteOption) error

	// DeleteItem removes the item. Deleting a missing item is not an error.
	DeleteItem(ctx context.Context, table, keyName, keyValue string) error
}

// Versioner bumps the version of a counter document.
type Versioner interface {
	// AtomicVersionBump replaces the payload of the counter document and increments its
	// version unconditionally, even when the payload is unchanged. The new version is
	// returned. Fails with STORE_NOT_FOUND when the document does not exist.
	AtomicVersionBump(ctx context.Context, docPath string, payload map[string]any) (int64, error)

	// EnsureCounter creates the counter document at version 0 if it is missing.
	EnsureCounter(ctx context.Context, docPath string) error
}

// Store is the full storage collaborator.
type Store interface {
	Reader
	Writer
	Versioner

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Increment is a field value that adds to the existing number instead of replacing it.
// A missing field is treated as zero.
type Increment int64

// WriteOption customizes a WriteFields call.
type WriteOption func(*writeOptions)

type writeOptions struct {
	conditions []condition
}

type condition struct {
	path  string
	value any
}

// IfEqual makes the write conditional on the current value at path being equal to
// value. A missing item or field never satisfies the condition. Failed conditions
// return an error wrapping ErrConditionFailed and leave the item untouched.
func IfEqual(path string, value any) WriteOption {
	return func(o *writeOptions) {
		o.conditions = append(o.conditions, condition{path: path, value: value})
	}
}

func collectOptions(opts []WriteOption) writeOptions {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// check evaluates the write conditions against the current document, nil when the item
// is missing.
func (o writeOptions) check(doc Item) bool {
	for _, c := range o.conditions {
		if doc == nil {
			return false
		}
		current, ok := doc.Lookup(c.path)
		if !ok || !sameValue(current, c.value) {
			return false
		}
	}
	return true
}
