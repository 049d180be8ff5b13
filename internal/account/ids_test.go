// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/accountd/internal/account"
)

func TestClean(t *testing.T) {
	assert.Equal(t, "a@example.com", account.Clean("  A@Example.COM\t"))
	assert.Equal(t, "uid1001", account.Clean("UID1001"))
	assert.Empty(t, account.Clean("   "))
}

func TestDetectType(t *testing.T) {
	tests := []struct {
		id   string
		want account.IDType
		ok   bool
	}{
		{id: "a@example.com", want: account.IDTypeEmail, ok: true},
		{id: "uid1001", want: account.IDTypeUID, ok: true},
		{id: "+4917612345", want: account.IDTypePhone, ok: true},
		{id: "017612345", want: account.IDTypePhone, ok: true},
		{id: "uid", ok: false},
		{id: "uidx1", ok: false},
		{id: "1234", ok: false},
		{id: "-", ok: false},
		{id: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, ok := account.DetectType(tt.id, "uid")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseIDType(t *testing.T) {
	got, err := account.ParseIDType("EMAIL")
	require.NoError(t, err)
	assert.Equal(t, account.IDTypeEmail, got)

	_, err = account.ParseIDType("fax")
	assert.Equal(t, account.InvalidInput, account.CodeOf(err))
}
