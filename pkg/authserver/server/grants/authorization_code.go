// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/events"
	servercrypto "github.com/stacklok/toolhive-idp/pkg/authserver/server/crypto"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/telemetry"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/tokens"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// AuthorizationCodeGrant redeems authorization codes (RFC 6749 Section 4.1.3).
type AuthorizationCodeGrant struct {
	deps *Dependencies
}

// Type implements Grant.
func (*AuthorizationCodeGrant) Type() string { return tokens.GrantAuthorizationCode }

// Validate consumes the code before checking it, so a code is exhausted by
// its first presentation whatever the outcome. Presenting a consumed code
// again revokes every token minted from it.
func (g *AuthorizationCodeGrant) Validate(ctx context.Context, ex *Exchange) error {
	raw := ex.Form.Get("code")
	if raw == "" {
		return fosite.ErrInvalidRequest.WithHint("The code parameter is required.")
	}

	code, err := g.consume(ctx, raw)
	if err != nil {
		return err
	}

	now := g.deps.now()
	redirectURI := ex.Form.Get("redirect_uri")
	switch {
	case code.ClientID != ex.Client.ID:
		return fosite.ErrInvalidGrant.WithHint("The authorization code was issued to another client.")
	case code.Expired(now):
		return fosite.ErrInvalidGrant.WithHint("The authorization code has expired.")
	case code.RedirectURIProvided && redirectURI == "":
		return fosite.ErrInvalidGrant.WithHint("The redirect_uri parameter is required because the authorization request included it.")
	case redirectURI != "" && redirectURI != code.RedirectURI:
		return fosite.ErrInvalidGrant.WithHint("The redirect_uri does not match the authorization request.")
	}
	if err := g.deps.Issuer.ValidateAuthorizationCode(ctx, raw, code); err != nil {
		return fosite.ErrInvalidGrant.WithHint("The authorization code is invalid.").WithWrap(err)
	}

	verifier := ex.Form.Get("code_verifier")
	if code.CodeChallenge != "" {
		if err := servercrypto.VerifyPKCE(code.CodeChallengeMethod, code.CodeChallenge, verifier); err != nil {
			return fosite.ErrInvalidGrant.WithHint("The code_verifier does not match the code_challenge.").WithWrap(err)
		}
	} else if verifier != "" {
		return fosite.ErrInvalidGrant.WithHint("The authorization request did not use PKCE.")
	}

	ex.Code = code
	ex.Scopes = code.Scopes
	return nil
}

func (g *AuthorizationCodeGrant) consume(ctx context.Context, raw string) (code *storage.AuthorizationCode, err error) {
	ctx, span := telemetry.StartSpan(ctx, "storage.consume_authorization_code")
	defer func() { telemetry.EndSpan(span, err) }()

	sig := g.deps.Issuer.CodeSignature(ctx, raw)
	if sig == "" {
		return nil, fosite.ErrInvalidGrant.WithHint("The authorization code is malformed.")
	}
	code, err = g.deps.Codes.ConsumeAuthorizationCode(ctx, sig, g.deps.now())
	switch {
	case err == nil:
		return code, nil
	case errors.Is(err, storage.ErrNotFound):
		return nil, fosite.ErrInvalidGrant.WithHint("The authorization code is unknown.")
	case errors.Is(err, storage.ErrAlreadyConsumed):
		g.revokeReused(ctx, code)
		return nil, fosite.ErrInvalidGrant.WithHint("The authorization code has already been used.")
	default:
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
}

func (g *AuthorizationCodeGrant) revokeReused(ctx context.Context, code *storage.AuthorizationCode) {
	if code == nil {
		return
	}
	n, err := g.deps.Tokens.RevokeTokensByAuthorizationCode(ctx, code.ID, g.deps.now())
	if err != nil {
		slog.Error("failed to revoke tokens of reused authorization code", "client_id", code.ClientID, "error", err)
		return
	}
	slog.Warn("authorization code reused, revoked its tokens", "client_id", code.ClientID, "revoked", n)
	if n > 0 {
		events.Emit(ctx, g.deps.Publisher, events.New(events.TypeTokenRevoked, code.ClientID, code.Subject,
			map[string]any{"reason": "authorization_code_reuse", "count": n}))
	}
}

// ResolveSubject implements Grant.
func (g *AuthorizationCodeGrant) ResolveSubject(ctx context.Context, ex *Exchange) (*storage.Subject, error) {
	return lookupSubject(ctx, g.deps.Subjects, ex.Code.Subject)
}

// Issue implements Grant.
func (g *AuthorizationCodeGrant) Issue(ctx context.Context, ex *Exchange) (*tokens.Response, error) {
	resp, record, err := g.deps.Issuer.Mint(ctx, tokens.Request{
		Client:              ex.Client,
		Subject:             ex.Subject,
		GrantType:           tokens.GrantAuthorizationCode,
		Scopes:              ex.Scopes,
		Audience:            ex.Audience,
		AuthTime:            ex.Code.AuthTime,
		AMR:                 ex.Code.AMR,
		Nonce:               ex.Code.Nonce,
		AuthorizationCodeID: ex.Code.ID,
	})
	if err != nil {
		return nil, err
	}
	if err := store(ctx, g.deps.Tokens, record); err != nil {
		return nil, err
	}
	return resp, nil
}
