// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"fmt"
	"testing"

	"github.com/samber/oops"

	"github.com/holomush/accountd/pkg/errutil"
)

func TestAssertErrorCode(t *testing.T) {
	errutil.AssertErrorCode(t, oops.Code("TICKET_EXPIRED").Errorf("expired"), "TICKET_EXPIRED")
	errutil.AssertErrorCode(t, fmt.Errorf("wrapped: %w", oops.Code("TICKET_EXPIRED").Errorf("expired")), "TICKET_EXPIRED")
}

func TestAssertErrorContext(t *testing.T) {
	err := oops.Code("STORE_FAILED").With("table", "tickets").Wrap(oops.With("key", "t998").Errorf("boom"))
	errutil.AssertErrorContext(t, err, "table", "tickets")
	errutil.AssertErrorContext(t, err, "key", "t998")
}
