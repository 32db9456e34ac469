// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authorize

import (
	"net/http"
	"time"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server/clients"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/consent"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// Validator parses authorization requests and decides how to answer them.
type Validator struct {
	issuer            string
	clients           *clients.Registry
	consent           *consent.Tracker
	pending           storage.PendingAuthorizationStorage
	httpClient        *http.Client
	allowRegistration bool
	pendingTTL        time.Duration
	now               func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithSelfRegistration accepts prompt=create.
func WithSelfRegistration() Option {
	return func(v *Validator) { v.allowRegistration = true }
}

// WithHTTPClient sets the client used to fetch request_uri values.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Validator) { v.httpClient = c }
}

// WithPendingTTL overrides storage.DefaultPendingAuthorizationTTL.
func WithPendingTTL(ttl time.Duration) Option {
	return func(v *Validator) { v.pendingTTL = ttl }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// NewValidator creates a Validator for the issuer identifier iss.
func NewValidator(
	iss string, registry *clients.Registry, tracker *consent.Tracker,
	pending storage.PendingAuthorizationStorage, opts ...Option,
) *Validator {
	v := &Validator{
		issuer:     iss,
		clients:    registry,
		consent:    tracker,
		pending:    pending,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		pendingTTL: storage.DefaultPendingAuthorizationTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}
