// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Session token validity windows.
const (
	TrustedSessionWindow     = 365 * 24 * time.Hour
	LessTrustedSessionWindow = 24 * time.Hour
)

var (
	clientVersion = regexp.MustCompile(`_v(\d.*)$`)
	nonWord       = regexp.MustCompile(`\W`)
)

// ParseClient splits a client string such as "web_app_v1.2.0" into its name and
// version. The version is nil when the client carries none or it does not parse.
func ParseClient(client string) (string, *semver.Version) {
	m := clientVersion.FindStringSubmatchIndex(client)
	if m == nil {
		return client, nil
	}
	name := client[:m[0]]
	v, err := semver.NewVersion(client[m[2]:m[3]])
	if err != nil {
		return name, nil
	}
	return name, v
}

// ClientPath returns the account path that holds the session token of client. The
// version suffix is dropped so all versions of one client share a token.
func ClientPath(client string) string {
	name, _ := ParseClient(client)
	return AttrTokens.String() + "." + nonWord.ReplaceAllString(name, "")
}

// ClientRule marks clients as less trusted: a client matches when its name matches
// Pattern and, if Versions is set, its version satisfies that constraint.
type ClientRule struct {
	Pattern  string
	Versions string
}

type trustRule struct {
	pattern  glob.Glob
	versions *semver.Constraints
}

// TrustPolicy decides which session window applies to a client.
type TrustPolicy struct {
	rules []trustRule
}

// NewTrustPolicy compiles rules.
func NewTrustPolicy(rules ...ClientRule) (*TrustPolicy, error) {
	p := &TrustPolicy{}
	for _, r := range rules {
		g, err := glob.Compile(r.Pattern)
		if err != nil {
			return nil, oops.Code(ErrCodeInvalidInput).With("pattern", r.Pattern).Wrap(err)
		}
		rule := trustRule{pattern: g}
		if r.Versions != "" {
			c, err := semver.NewConstraint(r.Versions)
			if err != nil {
				return nil, oops.Code(ErrCodeInvalidInput).With("versions", r.Versions).Wrap(err)
			}
			rule.versions = c
		}
		p.rules = append(p.rules, rule)
	}
	return p, nil
}

// LessTrusted reports whether client matches any rule. A rule with a version
// constraint never matches a client without a parsable version.
func (p *TrustPolicy) LessTrusted(client string) bool {
	if p == nil {
		return false
	}
	name, version := ParseClient(client)
	for _, r := range p.rules {
		if !r.pattern.Match(name) {
			continue
		}
		if r.versions == nil || (version != nil && r.versions.Check(version)) {
			return true
		}
	}
	return false
}

// SessionWindow is how long a session token of client stays valid.
func (p *TrustPolicy) SessionWindow(client string) time.Duration {
	if p.LessTrusted(client) {
		return LessTrustedSessionWindow
	}
	return TrustedSessionWindow
}

func normalizeClient(client, fallback string) string {
	client = strings.TrimSpace(client)
	if client == "" {
		return fallback
	}
	return client
}
