// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides Prometheus metrics and OpenTelemetry spans for the
// authorization server.
package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/ory/fosite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the authorization server collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	tokensIssued       *prometheus.CounterVec
	tokenErrors        *prometheus.CounterVec
	clientAuthFailures *prometheus.CounterVec
	tokenDuration      *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a private registry together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tokensIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thv_idp_tokens_issued_total",
				Help: "Total number of token responses issued",
			},
			[]string{"grant_type"},
		),
		tokenErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thv_idp_token_errors_total",
				Help: "Total number of failed token requests",
			},
			[]string{"grant_type", "error"},
		),
		clientAuthFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thv_idp_client_auth_failures_total",
				Help: "Total number of failed client authentications",
			},
			[]string{"method"},
		),
		tokenDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "thv_idp_token_request_duration_seconds",
				Help:    "Token request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"grant_type"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.tokensIssued,
		m.tokenErrors,
		m.clientAuthFailures,
		m.tokenDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveTokenRequest records the outcome of a token request.
func (m *Metrics) ObserveTokenRequest(grantType string, started time.Time, err error) {
	if m == nil {
		return
	}
	if grantType == "" {
		grantType = "unknown"
	}
	m.tokenDuration.WithLabelValues(grantType).Observe(time.Since(started).Seconds())
	if err != nil {
		m.tokenErrors.WithLabelValues(grantType, errorCode(err)).Inc()
		return
	}
	m.tokensIssued.WithLabelValues(grantType).Inc()
}

// ClientAuthFailed records a failed client authentication.
func (m *Metrics) ClientAuthFailed(method string) {
	if m == nil {
		return
	}
	m.clientAuthFailures.WithLabelValues(method).Inc()
}

func errorCode(err error) string {
	var rfcErr *fosite.RFC6749Error
	if errors.As(err, &rfcErr) {
		return rfcErr.ErrorField
	}
	return "server_error"
}
