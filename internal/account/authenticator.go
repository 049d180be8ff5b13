// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"context"
	"slices"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/credential"
)

// Authenticator kinds selectable by configuration.
const (
	AuthenticatorStore   = "store"
	AuthenticatorInstant = "instant"
)

// Authenticator authenticates requests and manages session keys.
type Authenticator interface {
	Authenticate(ctx context.Context, req AuthRequest) (*Identity, error)
	IssueSessionKey(ctx context.Context, userID, client string) (string, error)
	Logout(ctx context.Context, userID, client string) error
	UpgradeBasicInfo(userID string, raw map[string]any) BasicInfo
}

// NewAuthenticator returns the authenticator named by kind. The store authenticator is
// m itself.
func NewAuthenticator(kind string, m *Manager) (Authenticator, error) {
	switch kind {
	case AuthenticatorStore, "":
		return m, nil
	case AuthenticatorInstant:
		return NewInstantAuthenticator(m.settings), nil
	default:
		return nil, oops.Code(ErrCodeInvalidInput).With("authenticator", kind).Wrapf(ErrInvalidInput, "unknown authenticator")
	}
}

// BasicInfo is the account summary available right after authentication.
type BasicInfo struct {
	UserID   string            `json:"Guuid"`
	Email    string            `json:"email"`
	Phone    string            `json:"phone"`
	Roles    []string          `json:"roles"`
	Name     map[string]string `json:"name,omitempty"`
	Language string            `json:"language"`
	Birth    string            `json:"birth"`
}

// HasRole reports whether the account holds role.
func (b BasicInfo) HasRole(role string) bool {
	return slices.Contains(b.Roles, role)
}

// upgradeBasicInfo reads the raw attribute snapshot. Roles come from roles.all, the name
// is kept only when it has entries and missing values become empty strings.
func upgradeBasicInfo(userID string, raw map[string]any) BasicInfo {
	info := BasicInfo{UserID: userID}
	lookup := func(path string) (any, bool) {
		var cur any = raw
		for _, seg := range strings.Split(path, ".") {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			if cur, ok = m[seg]; !ok {
				return nil, false
			}
		}
		return cur, true
	}
	str := func(path string) string {
		v, _ := lookup(path)
		s, _ := v.(string)
		return s
	}

	info.Email = str(AttrEmail.String())
	if phone := str(AttrPhone.String()); phone != noPhone {
		info.Phone = phone
	}
	info.Language = str(AttrLanguage.String())
	info.Birth = str(PathBirth)

	switch roles, _ := lookup(AttrRoles.String() + ".all"); r := roles.(type) {
	case []string:
		info.Roles = append([]string(nil), r...)
	case []any:
		for _, v := range r {
			if s, ok := v.(string); ok {
				info.Roles = append(info.Roles, s)
			}
		}
	}

	if name, ok := lookup(AttrName.String()); ok {
		if m, ok := name.(map[string]any); ok && len(m) > 0 {
			info.Name = make(map[string]string, len(m))
			for k, v := range m {
				if s, ok := v.(string); ok {
					info.Name[k] = s
				}
			}
		}
	}
	return info
}

// InstantAuthenticator accepts every user without a store round trip, except the
// configured superuser, whose secret must match the configured password hash. It
// serves demos and load tests; session keys it issues are not stored.
type InstantAuthenticator struct {
	settings Settings
}

var _ Authenticator = (*InstantAuthenticator)(nil)

// NewInstantAuthenticator creates an InstantAuthenticator.
func NewInstantAuthenticator(s Settings) *InstantAuthenticator {
	return &InstantAuthenticator{settings: s}
}

// Authenticate implements Authenticator.
func (a *InstantAuthenticator) Authenticate(_ context.Context, req AuthRequest) (*Identity, error) {
	userID := Clean(req.UserID)
	if userID == "" {
		return nil, oops.Code(ErrCodeDenied).Wrap(ErrDenied)
	}
	roles := DefaultRoles
	if a.settings.SuperuserID != "" && userID == Clean(a.settings.SuperuserID) {
		if !a.superuserSecret(req.Credential.Value()) {
			return nil, oops.Code(ErrCodeDenied).Wrap(ErrDenied)
		}
		roles = AdminRoles
	}

	all := make([]any, len(roles))
	for i, r := range roles {
		all[i] = r
	}
	return &Identity{
		UserID:       userID,
		Client:       normalizeClient(req.Client, a.settings.DefaultClient),
		AccessLevel:  0,
		RawBasicInfo: map[string]any{AttrRoles.String(): map[string]any{"all": all}},
	}, nil
}

// superuserSecret accepts the configured hash itself or a clear-text password that
// hashes to it.
func (a *InstantAuthenticator) superuserSecret(secret string) bool {
	want := a.settings.SuperuserPwdHash
	if want == "" || secret == "" {
		return false
	}
	return credential.Equal(secret, want) || credential.Equal(credential.ClientHash(secret), want)
}

// IssueSessionKey returns a fresh token without storing it.
func (a *InstantAuthenticator) IssueSessionKey(_ context.Context, userID, _ string) (string, error) {
	if userID == "" {
		return "", oops.Code(ErrCodeInvalidInput).Wrapf(ErrInvalidInput, "userid cannot be empty")
	}
	token, err := credential.RandomToken()
	if err != nil {
		return "", reclassify(ErrCodeDerivationFailed, err).Wrap(ErrDerivation)
	}
	return token, nil
}

// Logout is a no-op.
func (a *InstantAuthenticator) Logout(context.Context, string, string) error {
	return nil
}

// UpgradeBasicInfo implements Authenticator.
func (a *InstantAuthenticator) UpgradeBasicInfo(userID string, raw map[string]any) BasicInfo {
	return upgradeBasicInfo(userID, raw)
}
