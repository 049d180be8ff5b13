// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package credential derives stored password hashes and generates the opaque tokens used
// by the account flows.
//
// Passwords never arrive here in clear text. Callers hash the user-typed password once
// with ClientHash before sending it; the Hasher derives the stored value from that wire
// hash, a per-record salt and a per-record iteration count.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/samber/oops"
	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters for new credentials.
const (
	DefaultIterations = 20000
	SaltBytes         = 32
	KeyBytes          = 32
)

// Application constants mixed into every derivation input. Not secrets.
const (
	inputPrefix = "galli"
	inputSuffix = "who1"
)

// Error codes.
const (
	CodeEmptyInput    = "CREDENTIAL_EMPTY_INPUT"
	CodeInvalidParams = "CREDENTIAL_INVALID_PARAMS"
	CodeEntropyFailed = "CREDENTIAL_ENTROPY_FAILED"
)

// Derived is a freshly derived credential ready to be stored on an account record.
type Derived struct {
	Hash       string
	Salt       string // hex
	Iterations int
}

// Hasher derives stored password hashes.
type Hasher interface {
	// Derive computes the stored hash for password with the given salt and iterations.
	Derive(password string, salt []byte, iterations int) (string, error)

	// New derives a credential with a fresh random salt and the configured iterations.
	New(password string) (Derived, error)

	// Verify re-derives password with a stored hex salt and iteration count and compares
	// the result with hash in constant time.
	Verify(password, hash, saltHex string, iterations int) (bool, error)
}

// PBKDF2Hasher implements Hasher with PBKDF2-HMAC-SHA256.
type PBKDF2Hasher struct {
	iterations int
}

var _ Hasher = (*PBKDF2Hasher)(nil)

// NewPBKDF2Hasher creates a hasher that uses iterations for new credentials. A
// non-positive value selects DefaultIterations.
func NewPBKDF2Hasher(iterations int) *PBKDF2Hasher {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &PBKDF2Hasher{iterations: iterations}
}

// Iterations returns the iteration count used for new credentials.
func (h *PBKDF2Hasher) Iterations() int {
	return h.iterations
}

// Derive computes the hex-encoded derived key.
func (h *PBKDF2Hasher) Derive(password string, salt []byte, iterations int) (string, error) {
	if password == "" {
		return "", oops.Code(CodeEmptyInput).Errorf("password cannot be empty")
	}
	if len(salt) == 0 {
		return "", oops.Code(CodeInvalidParams).Errorf("salt cannot be empty")
	}
	if iterations <= 0 {
		return "", oops.Code(CodeInvalidParams).With("iterations", iterations).Errorf("iterations must be positive")
	}

	key := pbkdf2.Key([]byte(inputPrefix+password+inputSuffix), salt, iterations, KeyBytes, sha256.New)
	return hex.EncodeToString(key), nil
}

// New derives password with a fresh salt.
func (h *PBKDF2Hasher) New(password string) (Derived, error) {
	salt := make([]byte, SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return Derived{}, oops.Code(CodeEntropyFailed).
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SaltBytes).
			Wrap(err)
	}

	hash, err := h.Derive(password, salt, h.iterations)
	if err != nil {
		return Derived{}, err
	}
	return Derived{Hash: hash, Salt: hex.EncodeToString(salt), Iterations: h.iterations}, nil
}

// Verify reports whether password derives to hash. Malformed stored parameters are an
// error, not a mismatch.
func (h *PBKDF2Hasher) Verify(password, hash, saltHex string, iterations int) (bool, error) {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false, oops.Code(CodeInvalidParams).With("field", "salt").Wrap(err)
	}
	computed, err := h.Derive(password, salt, iterations)
	if err != nil {
		return false, err
	}
	return Equal(computed, hash), nil
}

// Equal compares two secrets in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
