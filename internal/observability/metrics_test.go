// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/holomush/accountd/internal/observability"
)

func TestAccountMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewAccountMetrics(reg)

	m.AuthAttempt("session_token", true)
	m.AuthAttempt("session_token", true)
	m.TicketOpened("registration")
	m.IDIssued("ticket")
	m.StatsWrite(false)
	m.ObserveStoreOperation("get_item", 3*time.Millisecond, nil)
	m.ObserveStoreOperation("get_item", time.Millisecond, errors.New("boom"))

	assert.InDelta(t, 2, testutil.ToFloat64(m.AuthAttempts.WithLabelValues("session_token", observability.ResultSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.TicketsOpened.WithLabelValues("registration")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.IDsIssued.WithLabelValues("ticket")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.StatsWrites.WithLabelValues(observability.ResultFailure)), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(m.StoreOperation))
}

func TestAccountMetrics_NilIsNoop(t *testing.T) {
	var m *observability.AccountMetrics
	assert.NotPanics(t, func() {
		m.AuthAttempt("password", false)
		m.TicketOpened("reset")
		m.IDIssued("user")
		m.StatsWrite(true)
		m.ObserveStoreOperation("write_fields", time.Millisecond, nil)
	})
}
