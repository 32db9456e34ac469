// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-core/httperr"
)

func TestSentinelErrorCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		code int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrAlreadyExists, http.StatusConflict},
		{ErrAlreadyConsumed, http.StatusBadRequest},
		{ErrTokenRevoked, http.StatusBadRequest},
		{ErrReplay, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.err.Error(), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.code, httperr.Code(tc.err))
		})
	}
}

func TestClient_EffectiveAudience(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		audience []string
		want     []string
	}{
		{name: "empty", audience: nil, want: []string{"web"}},
		{name: "self only", audience: []string{"web"}, want: []string{"web"}},
		{name: "self moved first", audience: []string{"api", "web"}, want: []string{"web", "api"}},
		{name: "duplicates removed", audience: []string{"api", "api", "billing"}, want: []string{"web", "api", "billing"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := &Client{ID: "web", Audience: tc.audience}
			assert.Equal(t, tc.want, c.EffectiveAudience())
		})
	}
}

func TestClient_Predicates(t *testing.T) {
	t.Parallel()

	c := sampleClient("web")
	assert.False(t, c.IsPublic())
	assert.True(t, c.HasGrantType("refresh_token"))
	assert.False(t, c.HasGrantType("password"))
	assert.True(t, c.HasRedirectURI("https://app.example.com/callback"))
	assert.False(t, c.HasRedirectURI("https://app.example.com/callback/"), "comparison is exact")

	c.TokenEndpointAuthMethod = AuthMethodNone
	assert.True(t, c.IsPublic())
}

func TestClient_CloneIsDeep(t *testing.T) {
	t.Parallel()

	c := sampleClient("web")
	cp := c.Clone()
	cp.Scopes[0] = "changed"
	cp.Audience = append(cp.Audience, "extra")

	assert.Equal(t, "openid", c.Scopes[0])
	assert.Equal(t, []string{"web"}, c.Audience)

	var nilClient *Client
	assert.Nil(t, nilClient.Clone())
}

func TestToken_Lifecycle(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tok := &Token{
		AccessSignature:  "a",
		RefreshSignature: "r",
		AccessExpiresAt:  now.Add(time.Hour),
		RefreshExpiresAt: now.Add(24 * time.Hour),
	}

	assert.True(t, tok.AccessActive(now))
	assert.True(t, tok.RefreshActive(now))
	assert.False(t, tok.AccessActive(now.Add(2*time.Hour)))
	assert.True(t, tok.RefreshActive(now.Add(2*time.Hour)))
	assert.Equal(t, tok.RefreshExpiresAt, tok.ExpiresAt())

	revoked := now
	tok.RevokedAt = &revoked
	assert.False(t, tok.AccessActive(now))
	assert.False(t, tok.RefreshActive(now))

	accessOnly := &Token{AccessSignature: "a", AccessExpiresAt: now.Add(time.Minute)}
	assert.False(t, accessOnly.HasRefresh())
	assert.False(t, accessOnly.RefreshActive(now))
	assert.Equal(t, accessOnly.AccessExpiresAt, accessOnly.ExpiresAt())
}

func TestToken_CloneCopiesRevocation(t *testing.T) {
	t.Parallel()

	revoked := time.Now()
	tok := &Token{ID: "t", Scopes: []string{"openid"}, RevokedAt: &revoked}
	cp := tok.Clone()
	require.NotNil(t, cp.RevokedAt)

	*cp.RevokedAt = revoked.Add(time.Hour)
	assert.Equal(t, revoked, *tok.RevokedAt)
}

func TestAuthorizationCode_Expired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	code := &AuthorizationCode{ExpiresAt: now}
	assert.True(t, code.Expired(now), "a code is unusable at its expiry instant")
	assert.False(t, code.Expired(now.Add(-time.Second)))
}
