// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tokens

import (
	"fmt"
	"maps"
	"time"
)

// Grant type identifiers.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantImplicit          = "implicit"
	GrantPassword          = "password"
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
	GrantJWTBearer         = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// Lifespan is the access and refresh token lifetime of one grant type. A zero
// Refresh means the grant never yields a refresh token.
type Lifespan struct {
	Access  time.Duration
	Refresh time.Duration
}

// LifespanPolicy holds per-grant token lifetimes.
type LifespanPolicy struct {
	Grants            map[string]Lifespan
	AuthorizationCode time.Duration
	IDToken           time.Duration
}

// DefaultLifespanPolicy returns the built-in lifetimes. They differ per grant.
func DefaultLifespanPolicy() LifespanPolicy {
	return LifespanPolicy{
		Grants: map[string]Lifespan{
			GrantAuthorizationCode: {Access: time.Hour, Refresh: 7 * 24 * time.Hour},
			GrantImplicit:          {Access: 15 * time.Minute},
			GrantPassword:          {Access: 30 * time.Minute, Refresh: 24 * time.Hour},
			GrantClientCredentials: {Access: 2 * time.Hour},
			GrantRefreshToken:      {Access: time.Hour, Refresh: 7 * 24 * time.Hour},
			GrantJWTBearer:         {Access: 20 * time.Minute},
		},
		AuthorizationCode: 10 * time.Minute,
		IDToken:           time.Hour,
	}
}

// Merge returns p with every non-zero value of override applied.
func (p LifespanPolicy) Merge(override LifespanPolicy) LifespanPolicy {
	out := LifespanPolicy{
		Grants:            maps.Clone(p.Grants),
		AuthorizationCode: p.AuthorizationCode,
		IDToken:           p.IDToken,
	}
	if out.Grants == nil {
		out.Grants = map[string]Lifespan{}
	}
	for grant, ls := range override.Grants {
		cur := out.Grants[grant]
		if ls.Access > 0 {
			cur.Access = ls.Access
		}
		if ls.Refresh > 0 {
			cur.Refresh = ls.Refresh
		}
		out.Grants[grant] = cur
	}
	if override.AuthorizationCode > 0 {
		out.AuthorizationCode = override.AuthorizationCode
	}
	if override.IDToken > 0 {
		out.IDToken = override.IDToken
	}
	return out
}

// For returns the lifespan of grant. Unknown grants get the
// authorization_code lifespan without refresh.
func (p LifespanPolicy) For(grant string) Lifespan {
	if ls, ok := p.Grants[grant]; ok {
		return ls
	}
	return Lifespan{Access: p.Grants[GrantAuthorizationCode].Access}
}

// Validate checks that every lifetime is positive.
func (p LifespanPolicy) Validate() error {
	for grant, ls := range p.Grants {
		if ls.Access <= 0 {
			return fmt.Errorf("access token lifespan for %s must be positive", grant)
		}
		if ls.Refresh < 0 {
			return fmt.Errorf("refresh token lifespan for %s cannot be negative", grant)
		}
	}
	if p.AuthorizationCode <= 0 {
		return fmt.Errorf("authorization code lifespan must be positive")
	}
	if p.IDToken <= 0 {
		return fmt.Errorf("ID token lifespan must be positive")
	}
	return nil
}
