// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/accountd/internal/account"
)

func TestParseClient(t *testing.T) {
	tests := []struct {
		in      string
		name    string
		version string
	}{
		{in: "web_app_v1.2.0", name: "web_app", version: "1.2.0"},
		{in: "web_app_v1.0", name: "web_app", version: "1.0.0"},
		{in: "android", name: "android"},
		{in: "android_vx", name: "android_vx"},
		{in: "android_v2.beta", name: "android"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, v := account.ParseClient(tt.in)
			assert.Equal(t, tt.name, name)
			if tt.version == "" {
				assert.Nil(t, v)
				return
			}
			require.NotNil(t, v)
			assert.Equal(t, tt.version, v.String())
		})
	}
}

func TestClientPath(t *testing.T) {
	assert.Equal(t, "tokens.web_app", account.ClientPath("web_app"))
	assert.Equal(t, "tokens.web_app", account.ClientPath("web_app_v1.4.2"))
	assert.Equal(t, "tokens.myclient", account.ClientPath("my-client"))
	assert.Equal(t, "tokens.ab", account.ClientPath("a.b"))
}

func TestTrustPolicy(t *testing.T) {
	policy, err := account.NewTrustPolicy(
		account.ClientRule{Pattern: "*browser*"},
		account.ClientRule{Pattern: "android", Versions: "< 2.0.0"},
	)
	require.NoError(t, err)

	tests := []struct {
		client      string
		lessTrusted bool
	}{
		{client: "chrome_browser_v5", lessTrusted: true},
		{client: "android_v1.9.3", lessTrusted: true},
		{client: "android_v2.0.0", lessTrusted: false},
		{client: "android", lessTrusted: false},
		{client: "web_app", lessTrusted: false},
	}
	for _, tt := range tests {
		t.Run(tt.client, func(t *testing.T) {
			assert.Equal(t, tt.lessTrusted, policy.LessTrusted(tt.client))
			want := account.TrustedSessionWindow
			if tt.lessTrusted {
				want = account.LessTrustedSessionWindow
			}
			assert.Equal(t, want, policy.SessionWindow(tt.client))
		})
	}

	var none *account.TrustPolicy
	assert.False(t, none.LessTrusted("chrome_browser"))
	assert.Equal(t, account.TrustedSessionWindow, none.SessionWindow("chrome_browser"))
}

func TestNewTrustPolicy_Invalid(t *testing.T) {
	_, err := account.NewTrustPolicy(account.ClientRule{Pattern: "[abc"})
	assert.Equal(t, account.InvalidInput, account.CodeOf(err))

	_, err = account.NewTrustPolicy(account.ClientRule{Pattern: "abc", Versions: "not a version"})
	assert.Equal(t, account.InvalidInput, account.CodeOf(err))
}
