// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// TokenLength is the length of every token returned by RandomToken. Session keys are
// recognized by it.
const TokenLength = 65

const tokenPepper = "5cd19a84ec46"

// ClientHash is the fast hash clients apply to the user-typed password before sending
// it. The account flows also use it to bind ticket tokens to their inputs.
func ClientHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// RandomToken returns a fresh opaque token of TokenLength characters.
func RandomToken() (string, error) {
	return randomTokenAt(time.Now())
}

func randomTokenAt(now time.Time) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", oops.Code(CodeEntropyFailed).With("operation", "uuid.NewRandom").Wrap(err)
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code(CodeEntropyFailed).
			With("operation", "crypto/rand.Read").
			With("requested_bytes", len(salt)).
			Wrap(err)
	}

	base := strings.ReplaceAll(id.String(), "-", "")[16:]
	// The trailing "a" makes session keys one character longer than a SHA-256 hex hash.
	return ClientHash(base+tokenPepper+strconv.FormatInt(now.UnixMilli(), 10)+hex.EncodeToString(salt)) + "a", nil
}
