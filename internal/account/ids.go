// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"regexp"
	"strings"

	"github.com/samber/oops"
)

// IDType names the kind of identifier a caller presents.
type IDType string

// Identifier types. The email and phone values double as the attribute names used for
// secondary key lookups.
const (
	IDTypeUID   IDType = "uid"
	IDTypeEmail IDType = "email"
	IDTypePhone IDType = "phone"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{5,}$`)

// Clean normalizes an identifier: surrounding space removed, lower case.
func Clean(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// DetectType infers the type of a cleaned identifier.
func DetectType(id, userPrefix string) (IDType, bool) {
	switch {
	case strings.Contains(id, "@"):
		return IDTypeEmail, true
	case userPrefix != "" && strings.HasPrefix(id, userPrefix) && isDigits(id[len(userPrefix):]):
		return IDTypeUID, true
	case phonePattern.MatchString(id):
		return IDTypePhone, true
	default:
		return "", false
	}
}

// ParseIDType validates an explicit identifier type.
func ParseIDType(s string) (IDType, error) {
	switch t := IDType(strings.ToLower(s)); t {
	case IDTypeUID, IDTypeEmail, IDTypePhone:
		return t, nil
	default:
		return "", oops.Code(ErrCodeInvalidInput).With("id_type", s).Wrapf(ErrInvalidInput, "unsupported identifier type")
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
