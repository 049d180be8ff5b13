// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label values shared by the account components.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// AccountMetrics holds the Prometheus collectors for the account core. A nil
// *AccountMetrics is valid and records nothing, so components can run without a registry.
type AccountMetrics struct {
	AuthAttempts   *prometheus.CounterVec
	TicketsOpened  *prometheus.CounterVec
	IDsIssued      *prometheus.CounterVec
	StatsWrites    *prometheus.CounterVec
	StoreOperation *prometheus.HistogramVec
}

// NewAccountMetrics creates the account collectors and registers them with reg.
func NewAccountMetrics(reg prometheus.Registerer) *AccountMetrics {
	m := &AccountMetrics{
		AuthAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accountd_auth_attempts_total",
				Help: "Authentication attempts by credential method and result",
			},
			[]string{"method", "result"},
		),
		TicketsOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accountd_tickets_opened_total",
				Help: "Registration and reset tickets opened by kind",
			},
			[]string{"kind"},
		),
		IDsIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accountd_ids_issued_total",
				Help: "Global ids issued by kind",
			},
			[]string{"kind"},
		),
		StatsWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accountd_stats_writes_total",
				Help: "Background usage statistics writes by result",
			},
			[]string{"result"},
		),
		StoreOperation: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accountd_store_operation_seconds",
				Help:    "Latency of storage operations",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"op", "result"},
		),
	}

	reg.MustRegister(m.AuthAttempts, m.TicketsOpened, m.IDsIssued, m.StatsWrites, m.StoreOperation)
	return m
}

// AuthAttempt counts one authentication.
func (m *AccountMetrics) AuthAttempt(method string, ok bool) {
	if m == nil {
		return
	}
	m.AuthAttempts.WithLabelValues(method, result(ok)).Inc()
}

// TicketOpened counts one ticket.
func (m *AccountMetrics) TicketOpened(kind string) {
	if m == nil {
		return
	}
	m.TicketsOpened.WithLabelValues(kind).Inc()
}

// IDIssued counts one generated id.
func (m *AccountMetrics) IDIssued(kind string) {
	if m == nil {
		return
	}
	m.IDsIssued.WithLabelValues(kind).Inc()
}

// StatsWrite counts one background statistics write.
func (m *AccountMetrics) StatsWrite(ok bool) {
	if m == nil {
		return
	}
	m.StatsWrites.WithLabelValues(result(ok)).Inc()
}

// ObserveStoreOperation records the latency of one storage call.
func (m *AccountMetrics) ObserveStoreOperation(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.StoreOperation.WithLabelValues(op, result(err == nil)).Observe(d.Seconds())
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}
