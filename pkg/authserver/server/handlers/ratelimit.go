// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"sync"

	"github.com/ory/fosite"
	"golang.org/x/time/rate"
)

// errRateLimited is returned when a client exceeds its token request budget.
var errRateLimited = &fosite.RFC6749Error{
	ErrorField:       "slow_down",
	DescriptionField: "The client is sending token requests too quickly.",
	CodeField:        http.StatusTooManyRequests,
}

// clientLimiter keeps one token bucket per client id.
type clientLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// newClientLimiter returns nil when limit is zero, which allows everything.
func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	if limit <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether clientID may make another request now.
func (l *clientLimiter) Allow(clientID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.limiters[clientID]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[clientID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}
