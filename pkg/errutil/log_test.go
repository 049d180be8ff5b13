// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/accountd/pkg/errutil"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain error", err: errors.New("boom"), want: ""},
		{name: "oops without code", err: oops.Errorf("boom"), want: ""},
		{name: "oops with code", err: oops.Code("STORE_FAILED").Errorf("boom"), want: "STORE_FAILED"},
		{
			name: "deepest code wins",
			err:  oops.Code("OUTER").Wrap(oops.Code("INNER").Errorf("boom")),
			want: "INNER",
		},
		{
			name: "wrapped by fmt",
			err:  fmt.Errorf("ctx: %w", oops.Code("TICKET_CONSUMED").Errorf("boom")),
			want: "TICKET_CONSUMED",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errutil.Code(tt.err))
		})
	}
}

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("STORE_UNAVAILABLE").
		With("table", "accounts").
		Errorf("connection refused")

	errutil.LogError(logger, "lookup failed", err)

	entry := decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "lookup failed", entry["msg"])
	assert.Equal(t, "STORE_UNAVAILABLE", entry["code"])
	assert.Equal(t, map[string]any{"table": "accounts"}, entry["context"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(logger, "lookup failed", errors.New("standard error"))

	entry := decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Contains(t, entry["error"], "standard error")
	assert.NotContains(t, entry, "code")
}

type ctxKey struct{}

type ctxHandler struct {
	slog.Handler
	seen *any
}

func (h ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	*h.seen = ctx.Value(ctxKey{})
	return h.Handler.Handle(ctx, r)
}

func TestLogErrorContext_PassesContext(t *testing.T) {
	var buf bytes.Buffer
	var seen any
	logger := slog.New(ctxHandler{Handler: slog.NewJSONHandler(&buf, nil), seen: &seen})
	ctx := context.WithValue(context.Background(), ctxKey{}, "request-1")

	errutil.LogErrorContext(ctx, logger, "write failed", oops.Code("STORE_FAILED").Errorf("boom"))

	assert.Equal(t, "request-1", seen)
	assert.Equal(t, "STORE_FAILED", decode(t, &buf)["code"])
}

func TestLogErrorContext_NilLoggerUsesDefault(t *testing.T) {
	var buf bytes.Buffer
	original := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(original)

	errutil.LogErrorContext(context.Background(), nil, "write failed", errors.New("boom"))

	assert.Equal(t, "write failed", decode(t, &buf)["msg"])
}
