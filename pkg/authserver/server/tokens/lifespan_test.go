// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tokens

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLifespanPolicy(t *testing.T) {
	t.Parallel()

	p := DefaultLifespanPolicy()
	require.NoError(t, p.Validate())

	tests := []struct {
		grant   string
		access  time.Duration
		refresh time.Duration
	}{
		{GrantAuthorizationCode, time.Hour, 7 * 24 * time.Hour},
		{GrantImplicit, 15 * time.Minute, 0},
		{GrantPassword, 30 * time.Minute, 24 * time.Hour},
		{GrantClientCredentials, 2 * time.Hour, 0},
		{GrantRefreshToken, time.Hour, 7 * 24 * time.Hour},
		{GrantJWTBearer, 20 * time.Minute, 0},
	}
	for _, tc := range tests {
		t.Run(tc.grant, func(t *testing.T) {
			t.Parallel()
			ls := p.For(tc.grant)
			assert.Equal(t, tc.access, ls.Access)
			assert.Equal(t, tc.refresh, ls.Refresh)
		})
	}

	assert.Equal(t, Lifespan{Access: time.Hour}, p.For("urn:example:custom"), "unknown grants never get refresh")
}

func TestLifespanPolicy_Merge(t *testing.T) {
	t.Parallel()

	base := DefaultLifespanPolicy()
	merged := base.Merge(LifespanPolicy{
		Grants: map[string]Lifespan{
			GrantPassword: {Access: 5 * time.Minute},
			"custom":      {Access: time.Minute},
		},
		IDToken: 10 * time.Minute,
	})

	assert.Equal(t, Lifespan{Access: 5 * time.Minute, Refresh: 24 * time.Hour}, merged.For(GrantPassword))
	assert.Equal(t, Lifespan{Access: time.Minute}, merged.For("custom"))
	assert.Equal(t, 10*time.Minute, merged.IDToken)
	assert.Equal(t, base.AuthorizationCode, merged.AuthorizationCode)
	assert.Equal(t, 30*time.Minute, base.For(GrantPassword).Access, "base is not modified")
}

func TestLifespanPolicy_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*LifespanPolicy)
		wantErr string
	}{
		{
			name:    "zero access",
			mutate:  func(p *LifespanPolicy) { p.Grants[GrantPassword] = Lifespan{} },
			wantErr: "access token lifespan for password",
		},
		{
			name:    "negative refresh",
			mutate:  func(p *LifespanPolicy) { p.Grants[GrantPassword] = Lifespan{Access: time.Minute, Refresh: -1} },
			wantErr: "cannot be negative",
		},
		{
			name:    "zero code",
			mutate:  func(p *LifespanPolicy) { p.AuthorizationCode = 0 },
			wantErr: "authorization code lifespan",
		},
		{
			name:    "zero id token",
			mutate:  func(p *LifespanPolicy) { p.IDToken = 0 },
			wantErr: "ID token lifespan",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := DefaultLifespanPolicy()
			tc.mutate(&p)
			require.ErrorContains(t, p.Validate(), tc.wantErr)
		})
	}
}
