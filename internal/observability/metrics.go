// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fusionai/accountd/internal/auth"
)

// Metrics counts account lifecycle activity.
type Metrics struct {
	OperationsTotal    *prometheus.CounterVec
	CodesIssuedTotal   *prometheus.CounterVec
	EmailFailuresTotal *prometheus.CounterVec
}

// NewMetrics creates the account metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accountd_operations_total",
				Help: "Lifecycle operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		CodesIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accountd_codes_issued_total",
				Help: "One-time codes issued by purpose",
			},
			[]string{"purpose"},
		),
		EmailFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accountd_email_failures_total",
				Help: "Code emails that could not be delivered, by purpose",
			},
			[]string{"purpose"},
		),
	}

	reg.MustRegister(m.OperationsTotal, m.CodesIssuedTotal, m.EmailFailuresTotal)
	return m
}

// RecordOperation counts one lifecycle call.
func (m *Metrics) RecordOperation(operation, outcome string) {
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordCodeIssued counts one issued code.
func (m *Metrics) RecordCodeIssued(purpose auth.Purpose) {
	m.CodesIssuedTotal.WithLabelValues(purpose.String()).Inc()
}

// RecordEmailFailure counts one failed code email.
func (m *Metrics) RecordEmailFailure(purpose auth.Purpose) {
	m.EmailFailuresTotal.WithLabelValues(purpose.String()).Inc()
}

var _ auth.Recorder = (*Metrics)(nil)
