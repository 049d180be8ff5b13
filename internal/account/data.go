// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/store"
)

// Account is the caller's in-memory view of an account. Field access merges what it
// reads into the view.
type Account struct {
	UserID      string
	AccessLevel int
	data        map[string]any
}

// NewAccount creates an empty view.
func NewAccount(userID string, accessLevel int) *Account {
	return &Account{UserID: userID, AccessLevel: accessLevel, data: map[string]any{}}
}

// Value returns the value at a dotted path of the view.
func (a *Account) Value(path string) (any, bool) {
	return store.Item(a.data).Lookup(path)
}

// Data returns a copy of the view.
func (a *Account) Data() map[string]any {
	return cloneMap(a.data)
}

func (a *Account) set(path string, value any) {
	if a.data == nil {
		a.data = map[string]any{}
	}
	segs := strings.Split(path, ".")
	cur := a.data
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	if m, ok := value.(map[string]any); ok {
		value = cloneMap(m)
	}
	cur[segs[len(segs)-1]] = value
}

// DataAccess reads and writes account fields on behalf of callers, enforcing the
// attribute capability table.
type DataAccess struct {
	store  Backend
	logger *slog.Logger
}

// NewDataAccess creates a DataAccess. A nil logger selects slog.Default.
func NewDataAccess(backend Backend, logger *slog.Logger) *DataAccess {
	if logger == nil {
		logger = slog.Default()
	}
	return &DataAccess{store: backend, logger: logger}
}

// GetFields reads keys into acc. Keys that are unknown or not readable are dropped
// without error; when none remain nothing is read.
func (d *DataAccess) GetFields(ctx context.Context, acc *Account, keys ...string) error {
	if err := checkAccess(acc); err != nil {
		return err
	}

	paths := make([]string, 0, len(keys))
	for _, key := range keys {
		p, err := ParsePath(key)
		if err != nil || !p.Attr.Readable() {
			d.logger.DebugContext(ctx, "field read dropped", "userid", acc.UserID, "path", key)
			continue
		}
		paths = append(paths, p.String())
	}
	if len(paths) == 0 {
		return nil
	}

	item, err := d.store.GetItem(ctx, Table, KeyName, acc.UserID, paths...)
	if errors.Is(err, store.ErrNotFound) {
		return reclassify(ErrCodeNotFound, nil).With("userid", acc.UserID).Wrap(ErrNotFound)
	}
	if err != nil {
		return oops.With("operation", "get fields").With("userid", acc.UserID).Wrap(err)
	}
	for _, p := range paths {
		if v, ok := item.Lookup(p); ok {
			acc.set(p, v)
		}
	}
	return nil
}

// SetFields writes the allowed entries of fields in one batch. Entries whose attribute
// is not writable are dropped; if nothing is left the call fails with InvalidInput.
func (d *DataAccess) SetFields(ctx context.Context, acc *Account, fields map[string]any) error {
	if len(fields) == 0 {
		return oops.Code(ErrCodeInvalidInput).Wrapf(ErrInvalidInput, "no fields to write")
	}
	if err := checkAccess(acc); err != nil {
		return err
	}

	allowed := make(map[string]any, len(fields))
	for key, value := range fields {
		p, err := ParsePath(key)
		if err != nil || !p.Attr.Writable() {
			d.logger.WarnContext(ctx, "field write blocked", "userid", acc.UserID, "path", key)
			continue
		}
		allowed[p.String()] = value
	}
	if len(allowed) == 0 {
		return oops.Code(ErrCodeInvalidInput).With("userid", acc.UserID).Wrapf(ErrInvalidInput, "no writable fields")
	}

	err := d.store.WriteFields(ctx, Table, KeyName, acc.UserID, allowed, store.IfEqual(KeyName, acc.UserID))
	if errors.Is(err, store.ErrConditionFailed) {
		return reclassify(ErrCodeNotFound, err).With("userid", acc.UserID).Wrap(ErrNotFound)
	}
	if err != nil {
		return oops.With("operation", "set fields").With("userid", acc.UserID).Wrap(err)
	}
	for _, path := range store.WriteOrder(allowed) {
		acc.set(path, allowed[path])
	}
	return nil
}

// GetField reads one key and returns its value, nil when the account has none or the
// key is not readable.
func (d *DataAccess) GetField(ctx context.Context, acc *Account, key string) (any, error) {
	if err := d.GetFields(ctx, acc, key); err != nil {
		return nil, err
	}
	p, err := ParsePath(key)
	if err != nil || !p.Attr.Readable() {
		return nil, nil
	}
	v, _ := acc.Value(p.String())
	return v, nil
}

// SetField writes one key.
func (d *DataAccess) SetField(ctx context.Context, acc *Account, key string, value any) error {
	return d.SetFields(ctx, acc, map[string]any{key: value})
}

func checkAccess(acc *Account) error {
	if acc == nil {
		return oops.Code(ErrCodeInvalidInput).Wrapf(ErrInvalidInput, "account cannot be empty")
	}
	if acc.AccessLevel < 0 {
		return oops.Code(ErrCodeDenied).With("userid", acc.UserID).Wrap(ErrDenied)
	}
	if acc.UserID == "" {
		return oops.Code(ErrCodeInvalidInput).Wrapf(ErrInvalidInput, "account cannot be empty")
	}
	return nil
}
