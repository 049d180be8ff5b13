// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenTTL bounds how long a Token may be used after it was created, whatever the
// lifetime of the credential that produced it.
const TokenTTL = 5 * time.Minute

// Token is the in-memory result of one authentication. It is meant to live for the
// duration of one request.
type Token struct {
	id            ulid.ULID
	auth          Authenticator
	userID        string
	client        string
	accessLevel   int
	rawBasicInfo  map[string]any
	created       time.Time
	authenticated bool
	err           error
	now           func() time.Time
}

// TokenOption configures a Token.
type TokenOption func(*Token)

// WithTokenClock replaces the wall clock.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(t *Token) {
		t.now = now
	}
}

func newToken(auth Authenticator, opts []TokenOption) *Token {
	t := &Token{id: ulid.Make(), auth: auth, accessLevel: -1, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewToken runs one authentication. The result, including a failure, is captured in
// the returned token.
func NewToken(ctx context.Context, auth Authenticator, req AuthRequest, opts ...TokenOption) *Token {
	t := newToken(auth, opts)
	t.client = req.Client

	identity, err := auth.Authenticate(ctx, req)
	if err != nil {
		t.err = err
		return t
	}
	t.created = t.now()
	t.authenticated = true
	t.userID = identity.UserID
	t.client = identity.Client
	t.accessLevel = identity.AccessLevel
	t.rawBasicInfo = identity.RawBasicInfo
	return t
}

// NewTrustedToken builds an authenticated token for a caller that has already
// established the identity by other means.
func NewTrustedToken(auth Authenticator, userID, client string, opts ...TokenOption) *Token {
	t := newToken(auth, opts)
	t.created = t.now()
	t.authenticated = true
	t.userID = userID
	t.client = client
	t.accessLevel = 0
	t.rawBasicInfo = map[string]any{}
	return t
}

// ID is a correlation id for logs.
func (t *Token) ID() ulid.ULID { return t.id }

// UserID returns the authenticated user id.
func (t *Token) UserID() string { return t.userID }

// Client returns the client the token was created for.
func (t *Token) Client() string { return t.client }

// AccessLevel is the level set at authentication; -1 when authentication failed.
func (t *Token) AccessLevel() int { return t.accessLevel }

// Err returns the error of the last operation, nil on success.
func (t *Token) Err() error { return t.err }

// Code classifies Err.
func (t *Token) Code() Code { return CodeOf(t.err) }

// RawBasicInfo returns the attribute snapshot read at authentication.
func (t *Token) RawBasicInfo() map[string]any {
	return cloneMap(t.rawBasicInfo)
}

// Valid reports whether the token is younger than TokenTTL.
func (t *Token) Valid() bool {
	return !t.created.IsZero() && t.now().Sub(t.created) < TokenTTL
}

// Authenticated reports whether authentication succeeded and the token is still valid.
func (t *Token) Authenticated() bool {
	return t.authenticated && t.Valid()
}

// KeyToken issues a session key for client.
func (t *Token) KeyToken(ctx context.Context, client string) (string, error) {
	if !t.Authenticated() {
		t.err = oops.Code(ErrCodeDenied).With("token_id", t.id.String()).Wrap(ErrDenied)
		return "", t.err
	}
	key, err := t.auth.IssueSessionKey(ctx, t.userID, client)
	t.err = err
	return key, err
}

// Logout revokes the session key of client.
func (t *Token) Logout(ctx context.Context, client string) error {
	if !t.Authenticated() {
		t.err = oops.Code(ErrCodeDenied).With("token_id", t.id.String()).Wrap(ErrDenied)
		return t.err
	}
	t.err = t.auth.Logout(ctx, t.userID, client)
	return t.err
}

// BasicInfo upgrades the raw snapshot.
func (t *Token) BasicInfo() BasicInfo {
	if t.auth == nil {
		return upgradeBasicInfo(t.userID, t.rawBasicInfo)
	}
	return t.auth.UpgradeBasicInfo(t.userID, t.rawBasicInfo)
}

// Account returns the account view used for field access. A failed or expired token
// yields a view with access level -1, which field access refuses.
func (t *Token) Account() *Account {
	level := t.accessLevel
	if !t.Valid() {
		level = -1
	}
	a := NewAccount(t.userID, level)
	a.data = cloneMap(t.rawBasicInfo)
	return a
}

type tokenJSON struct {
	UserID       string         `json:"userId"`
	Client       string         `json:"client"`
	TimeCreated  int64          `json:"timeCreated"`
	AccessLevel  int            `json:"accessLevel"`
	RawBasicInfo map[string]any `json:"rawBasicInfo"`
}

// MarshalJSON exports the token data. No credential is part of it.
func (t *Token) MarshalJSON() ([]byte, error) {
	var created int64
	if !t.created.IsZero() {
		created = t.created.UnixMilli()
	}
	raw := t.rawBasicInfo
	if raw == nil {
		raw = map[string]any{}
	}
	return json.Marshal(tokenJSON{
		UserID:       t.userID,
		Client:       t.client,
		TimeCreated:  created,
		AccessLevel:  t.accessLevel,
		RawBasicInfo: raw,
	})
}

// UnmarshalJSON imports token data. An imported token is never authenticated; it only
// carries the data for field access.
func (t *Token) UnmarshalJSON(b []byte) error {
	v := tokenJSON{AccessLevel: -1}
	if err := json.Unmarshal(b, &v); err != nil {
		return oops.Code(ErrCodeInvalidInput).With("operation", "import token").Wrap(err)
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.id.IsZero() {
		t.id = ulid.Make()
	}
	t.userID = v.UserID
	t.client = v.Client
	t.accessLevel = v.AccessLevel
	t.rawBasicInfo = v.RawBasicInfo
	t.created = time.Time{}
	if v.TimeCreated > 0 {
		t.created = time.UnixMilli(v.TimeCreated)
	}
	t.authenticated = false
	return nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
