// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"regexp"
	"strings"

	"github.com/samber/oops"
)

// Attribute is a top-level attribute of an account record.
type Attribute int

// Account attributes.
const (
	AttrUnknown Attribute = iota
	AttrGuuid
	AttrEmail
	AttrPhone
	AttrPwd
	AttrPwdSalt
	AttrPwdIteration
	AttrTokens
	AttrName
	AttrRoles
	AttrLanguage
	AttrStatistics
	AttrAddresses
	AttrInfos
)

var attributeNames = map[Attribute]string{
	AttrGuuid:        "Guuid",
	AttrEmail:        "email",
	AttrPhone:        "phone",
	AttrPwd:          "pwd",
	AttrPwdSalt:      "pwd_salt",
	AttrPwdIteration: "pwd_iteration",
	AttrTokens:       "tokens",
	AttrName:         "name",
	AttrRoles:        "roles",
	AttrLanguage:     "language",
	AttrStatistics:   "statistics",
	AttrAddresses:    "addresses",
	AttrInfos:        "infos",
}

var attributesByName = func() map[string]Attribute {
	m := make(map[string]Attribute, len(attributeNames))
	for a, name := range attributeNames {
		m[name] = a
	}
	return m
}()

func (a Attribute) String() string {
	if name, ok := attributeNames[a]; ok {
		return name
	}
	return "unknown"
}

// Capability is a set of generic-path permissions.
type Capability uint8

// Capabilities.
const (
	CanRead Capability = 1 << iota
	CanWrite
)

// capabilities is the access table of the generic field path. Attributes missing here,
// including AttrUnknown, can be neither read nor written. Passwords, salts, iteration
// counts and session tokens are never readable; only profile attributes are writable.
var capabilities = map[Attribute]Capability{
	AttrGuuid:        CanRead,
	AttrEmail:        CanRead,
	AttrPhone:        CanRead,
	AttrPwd:          0,
	AttrPwdSalt:      0,
	AttrPwdIteration: 0,
	AttrTokens:       0,
	AttrRoles:        CanRead,
	AttrStatistics:   CanRead,
	AttrName:         CanRead | CanWrite,
	AttrLanguage:     CanRead | CanWrite,
	AttrInfos:        CanRead | CanWrite,
	AttrAddresses:    CanRead | CanWrite,
}

// Readable reports whether the attribute may be read through the generic field path.
func (a Attribute) Readable() bool {
	return capabilities[a]&CanRead != 0
}

// Writable reports whether the attribute may be written through the generic field path.
func (a Attribute) Writable() bool {
	return capabilities[a]&CanWrite != 0
}

// Well-known field paths.
const (
	PathFirstName = "name.first"
	PathLastName  = "name.last"
	PathNickName  = "name.nick"
	PathBirth     = "infos.birth"
	PathGender    = "infos.gender"
)

// Path is a parsed dotted field path.
type Path struct {
	Attr Attribute
	Sub  []string
}

func (p Path) String() string {
	if len(p.Sub) == 0 {
		return p.Attr.String()
	}
	return p.Attr.String() + "." + strings.Join(p.Sub, ".")
}

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ParsePath resolves the first segment of a dotted path against the attribute set and
// validates the remaining segments. An unknown first segment is an error, so the caller
// can never reach an attribute by a name that merely starts like an allowed one.
func ParsePath(s string) (Path, error) {
	segs := strings.Split(s, ".")
	attr, ok := attributesByName[segs[0]]
	if !ok {
		return Path{}, oops.Code(ErrCodeInvalidInput).With("path", s).Wrapf(ErrInvalidInput, "unknown attribute")
	}
	for _, seg := range segs[1:] {
		if !segmentPattern.MatchString(seg) {
			return Path{}, oops.Code(ErrCodeInvalidInput).With("path", s).Wrapf(ErrInvalidInput, "malformed path segment")
		}
	}
	return Path{Attr: attr, Sub: segs[1:]}, nil
}

// DefaultRoles are the roles of a newly created account.
var DefaultRoles = []string{"user"}

// AdminRoles are the roles of the administrator account.
var AdminRoles = []string{"superuser", "chiefdev", "seniordev", "developer", "tester", "translator", "user"}

// DefaultLanguage is written when a new account names no language.
const DefaultLanguage = "en"

// LoggedOut is the session token value written on logout. It never matches a token.
const LoggedOut = "-"

// noPhone fills the phone attribute of accounts created without one.
const noPhone = "-"

// basicFields are read along with the credentials at authentication.
var basicFields = []string{
	AttrRoles.String(),
	AttrEmail.String(),
	AttrPhone.String(),
	AttrName.String(),
	AttrLanguage.String(),
	PathBirth,
}

// newRecord returns the fields written when an account is created.
func newRecord(email, language string, roles []string, pwd, salt string, iterations int) map[string]any {
	if language == "" {
		language = DefaultLanguage
	}
	all := make([]any, len(roles))
	for i, r := range roles {
		all[i] = r
	}
	return map[string]any{
		AttrEmail.String():        email,
		AttrPhone.String():        noPhone,
		AttrPwd.String():          pwd,
		AttrPwdSalt.String():      salt,
		AttrPwdIteration.String(): iterations,
		AttrLanguage.String():     language,
		AttrTokens.String():       map[string]any{},
		AttrStatistics.String():   map[string]any{},
		AttrName.String():         map[string]any{},
		AttrRoles.String():        map[string]any{"all": all},
		AttrInfos.String():        map[string]any{},
		AttrAddresses.String():    map[string]any{},
	}
}
