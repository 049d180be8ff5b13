// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"errors"

	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/credential"
	"github.com/holomush/accountd/internal/idgen"
	"github.com/holomush/accountd/internal/store"
	"github.com/holomush/accountd/internal/ticket"
	"github.com/holomush/accountd/pkg/errutil"
)

// Code is the numeric error classification reported to callers. Callers branch on it,
// never on error text.
type Code int

// Classifications.
const (
	OK               Code = 0
	Unreachable      Code = 1
	Denied           Code = 2
	NotFound         Code = 3
	InvalidInput     Code = 4
	TokenRejected    Code = 5
	PasswordPolicy   Code = 6
	DerivationFailed Code = 7
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case Unreachable:
		return "unreachable"
	case Denied:
		return "denied"
	case NotFound:
		return "not_found"
	case InvalidInput:
		return "invalid_input"
	case TokenRejected:
		return "token_rejected"
	case PasswordPolicy:
		return "password_policy"
	case DerivationFailed:
		return "derivation_failed"
	default:
		return "unknown"
	}
}

// Error codes of errors raised by this package.
const (
	ErrCodeUnreachable      = "ACCOUNT_UNREACHABLE"
	ErrCodeDenied           = "ACCOUNT_DENIED"
	ErrCodeNotFound         = "ACCOUNT_NOT_FOUND"
	ErrCodeInvalidInput     = "ACCOUNT_INVALID_INPUT"
	ErrCodeTokenRejected    = "ACCOUNT_TOKEN_REJECTED"
	ErrCodePasswordPolicy   = "ACCOUNT_PASSWORD_POLICY"
	ErrCodeDerivationFailed = "ACCOUNT_DERIVATION_FAILED"
)

// Sentinel causes. Messages stay generic so a rejection never says which check failed.
var (
	ErrDenied         = errors.New("access denied")
	ErrNotFound       = errors.New("account not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrTokenRejected  = errors.New("invalid or expired token")
	ErrPasswordPolicy = errors.New("password does not meet the policy")
	ErrDerivation     = errors.New("credential derivation failed")
)

var codesByName = map[string]Code{
	ErrCodeUnreachable:      Unreachable,
	ErrCodeDenied:           Denied,
	ErrCodeNotFound:         NotFound,
	ErrCodeInvalidInput:     InvalidInput,
	ErrCodeTokenRejected:    TokenRejected,
	ErrCodePasswordPolicy:   PasswordPolicy,
	ErrCodeDerivationFailed: DerivationFailed,

	store.CodeUnavailable:     Unreachable,
	store.CodeNotFound:        NotFound,
	store.CodeConditionFailed: TokenRejected,
	store.CodeFailed:          InvalidInput,
	store.CodeInvalidPath:     InvalidInput,

	ticket.CodeNotFound: TokenRejected,
	ticket.CodeConsumed: TokenRejected,
	ticket.CodeInvalid:  InvalidInput,

	credential.CodeEmptyInput:    DerivationFailed,
	credential.CodeInvalidParams: DerivationFailed,
	credential.CodeEntropyFailed: DerivationFailed,

	idgen.CodeFailed: DerivationFailed,
}

// CodeOf classifies err. Errors without a known code are InvalidInput.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	if code, known := codesByName[errutil.Code(err)]; known {
		return code
	}
	return InvalidInput
}

// reclassify starts a fresh error of class code. The classification of an error comes
// from the deepest code in its chain, so a collaborator error is never wrapped here; its
// message is kept as context instead.
func reclassify(code string, cause error) oops.OopsErrorBuilder {
	b := oops.Code(code)
	if cause != nil {
		b = b.With("cause", cause.Error())
	}
	return b
}
