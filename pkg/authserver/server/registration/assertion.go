// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package registration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/clients"
)

// Scope values carried by registration bearer assertions.
const (
	// ScopeRegistration allows creating clients.
	ScopeRegistration = "client:register"
	// ScopeManagement allows reading, updating and deleting the client named
	// by the assertion subject.
	ScopeManagement = "client:manage"
)

// Default assertion lifetimes.
const (
	DefaultRegistrationTTL = time.Hour
	DefaultManagementTTL   = 30 * 24 * time.Hour
)

// AssertionClaims are the claims of a registration or management assertion.
// Both iss and aud are the issuer identifier.
type AssertionClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// MintAssertion signs a bearer assertion for scope. subject is the client ID
// for management assertions and, optionally, the requested client ID for
// registration assertions.
func (s *Service) MintAssertion(ctx context.Context, scope, subject string, ttl time.Duration) (string, error) {
	if scope != ScopeRegistration && scope != ScopeManagement {
		return "", fmt.Errorf("unknown assertion scope %q", scope)
	}
	if scope == ScopeManagement && subject == "" {
		return "", errors.New("management assertions require a subject")
	}
	now := s.now()
	claims := AssertionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Scope: scope,
	}
	token, _, err := s.keys.Sign(ctx, "", claims, "JWT")
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %w", err)
	}
	return token, nil
}

// verifyAssertion checks signature, issuer, audience, expiry and scope of a
// bearer assertion signed by this server.
func (s *Service) verifyAssertion(ctx context.Context, bearer, scope string) (*AssertionClaims, error) {
	if bearer == "" {
		return nil, server.ErrInvalidToken.WithHint("A registration bearer token is required.")
	}

	var claims AssertionClaims
	_, err := jwt.ParseWithClaims(bearer, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return s.keys.VerificationKey(ctx, kid)
	},
		jwt.WithValidMethods(clients.AsymmetricMethods),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clients.DefaultLeeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, server.ErrInvalidToken.WithHint("The registration bearer token is invalid.").WithWrap(err)
	}
	if !slices.Contains(server.ParseScope(claims.Scope), scope) {
		return nil, server.ErrInsufficientScope.WithHintf("The bearer token lacks the %s scope.", scope)
	}
	return &claims, nil
}
