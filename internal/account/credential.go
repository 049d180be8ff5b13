// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"log/slog"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/credential"
)

// CredentialKind distinguishes what a caller presents as its secret.
type CredentialKind int

// Credential kinds.
const (
	CredentialNone CredentialKind = iota
	CredentialPasswordHash
	CredentialSessionToken
)

func (k CredentialKind) String() string {
	switch k {
	case CredentialPasswordHash:
		return "password"
	case CredentialSessionToken:
		return "session_token"
	default:
		return "none"
	}
}

// Credential is a password hash or a session token.
type Credential struct {
	kind  CredentialKind
	value string
}

// PasswordHash wraps a client-side password hash.
func PasswordHash(hash string) Credential {
	return Credential{kind: CredentialPasswordHash, value: hash}
}

// SessionToken wraps a session token.
func SessionToken(token string) Credential {
	return Credential{kind: CredentialSessionToken, value: token}
}

// ParseCredential classifies an untagged secret by length, the convention of clients
// that send both kinds in one field: a value of exactly credential.TokenLength
// characters is a session token, anything else a password hash.
func ParseCredential(secret string) Credential {
	if len(secret) == credential.TokenLength {
		return SessionToken(secret)
	}
	return PasswordHash(secret)
}

// Kind returns the credential kind.
func (c Credential) Kind() CredentialKind { return c.kind }

// Value returns the secret.
func (c Credential) Value() string { return c.value }

// LogValue keeps the secret out of logs.
func (c Credential) LogValue() slog.Value {
	return slog.StringValue(c.kind.String())
}

// Key is a parsed "<user>;<secret>" credential string.
type Key struct {
	UserID     string
	IDType     IDType
	Credential Credential
}

// ParseKey parses "<user>;<secret>". The identifier type is detected only when the
// secret has the length of a password hash or a session token; otherwise it stays
// empty and authentication resolves it.
func ParseKey(key, userPrefix string) (Key, error) {
	user, secret, ok := strings.Cut(key, ";")
	if !ok || user == "" || secret == "" {
		return Key{}, oops.Code(ErrCodeInvalidInput).Wrapf(ErrInvalidInput, "key must be <user>;<secret>")
	}
	k := Key{UserID: Clean(user), Credential: ParseCredential(secret)}
	if len(secret) == credential.TokenLength || len(secret) == credential.TokenLength-1 {
		k.IDType, _ = DetectType(k.UserID, userPrefix)
	}
	return k, nil
}

// KeyFromPassword builds the key a client sends for user and a clear-text password.
func KeyFromPassword(user, password string) string {
	return user + ";" + credential.ClientHash(password)
}
