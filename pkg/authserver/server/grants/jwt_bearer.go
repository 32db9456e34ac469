// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"context"
	"slices"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/tokens"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// JWTBearerGrant exchanges an assertion signed by the client for a token
// acting on behalf of the assertion's subject (RFC 7523 Section 2.1).
type JWTBearerGrant struct {
	deps *Dependencies
}

// Type implements Grant.
func (*JWTBearerGrant) Type() string { return tokens.GrantJWTBearer }

// Validate verifies the assertion against the client's keys. The assertion
// must be issued by the authenticated client, name this server in its
// audience, carry exp and jti, and not have been used before.
func (g *JWTBearerGrant) Validate(ctx context.Context, ex *Exchange) error {
	assertion := ex.Form.Get("assertion")
	if assertion == "" {
		return fosite.ErrInvalidRequest.WithHint("The assertion parameter is required.")
	}
	if !g.deps.Clients.SignedAuthenticationEnabled() {
		return fosite.ErrInvalidGrant.WithHint("Signed assertions are not accepted by this server.")
	}

	var claims jwt.RegisteredClaims
	_, err := g.deps.Clients.VerifyClientJWT(ctx, ex.Client, assertion, &claims,
		jwt.WithIssuer(ex.Client.ID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fosite.ErrInvalidGrant.WithHint("The assertion could not be verified.").WithWrap(err)
	}

	audiences := g.deps.Clients.AssertionAudiences()
	if !slices.ContainsFunc(claims.Audience, func(a string) bool { return slices.Contains(audiences, a) }) {
		return fosite.ErrInvalidGrant.WithHint("The assertion audience does not name this server.")
	}
	if claims.Subject == "" {
		return fosite.ErrInvalidGrant.WithHint("The assertion has no subject.")
	}
	if err := g.deps.Clients.MarkAssertionUsed(ctx, "jwt_bearer", ex.Client.ID, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fosite.ErrInvalidGrant.WithHint("The assertion was rejected.").WithWrap(err)
	}

	scopes, err := clientScopes(ex.Client, ex.Form, ex.Client.DefaultScopes)
	if err != nil {
		return err
	}
	ex.Scopes = scopes
	ex.AssertionSubject = claims.Subject
	return nil
}

// ResolveSubject requires the client to be trusted or to hold the subject's
// consent. A consent limits the scope to what the subject agreed to.
func (g *JWTBearerGrant) ResolveSubject(ctx context.Context, ex *Exchange) (*storage.Subject, error) {
	subject, err := lookupSubject(ctx, g.deps.Subjects, ex.AssertionSubject)
	if err != nil {
		return nil, err
	}

	allowed, err := g.deps.Consent.AllowsAssertion(ctx, subject.ID, ex.Client)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fosite.ErrInvalidGrant.WithHint("The subject has not authorized this client.")
	}

	if !ex.Client.Trusted {
		record, err := g.deps.Consent.Query(ctx, subject.ID, ex.Client.ID)
		if err != nil {
			return nil, err
		}
		ex.Scopes = server.IntersectScopes(ex.Scopes, record.Scopes)
	}
	return subject, nil
}

// Issue implements Grant.
func (g *JWTBearerGrant) Issue(ctx context.Context, ex *Exchange) (*tokens.Response, error) {
	resp, record, err := g.deps.Issuer.Mint(ctx, tokens.Request{
		Client:    ex.Client,
		Subject:   ex.Subject,
		GrantType: tokens.GrantJWTBearer,
		Scopes:    ex.Scopes,
		Audience:  ex.Audience,
	})
	if err != nil {
		return nil, err
	}
	if err := store(ctx, g.deps.Tokens, record); err != nil {
		return nil, err
	}
	return resp, nil
}
