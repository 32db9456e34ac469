// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"context"
	"errors"
	"fmt"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/telemetry"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/tokens"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// RefreshTokenGrant rotates refresh tokens (RFC 6749 Section 6). The old token
// is revoked and the new one stored in one atomic step.
type RefreshTokenGrant struct {
	deps *Dependencies
}

// Type implements Grant.
func (*RefreshTokenGrant) Type() string { return tokens.GrantRefreshToken }

// Validate implements Grant.
func (g *RefreshTokenGrant) Validate(ctx context.Context, ex *Exchange) error {
	raw := ex.Form.Get("refresh_token")
	if raw == "" {
		return fosite.ErrInvalidRequest.WithHint("The refresh_token parameter is required.")
	}

	parent, err := g.lookup(ctx, raw)
	if err != nil {
		return err
	}

	switch {
	case parent == nil:
		return fosite.ErrInvalidGrant.WithHint("The refresh token is unknown.")
	case parent.ClientID != ex.Client.ID:
		return fosite.ErrInvalidGrant.WithHint("The refresh token was issued to another client.")
	case parent.Revoked():
		return fosite.ErrInvalidGrant.WithHint("The refresh token has been revoked.")
	case !parent.RefreshActive(g.deps.now()):
		return fosite.ErrInvalidGrant.WithHint("The refresh token has expired.")
	}
	if err := g.deps.Issuer.ValidateRefreshToken(ctx, raw, parent); err != nil {
		return fosite.ErrInvalidGrant.WithHint("The refresh token is invalid.").WithWrap(err)
	}

	ex.Scopes = parent.Scopes
	if requested := server.ParseScope(ex.Form.Get("scope")); len(requested) > 0 {
		if !server.ScopesCover(parent.Scopes, requested) {
			return fosite.ErrInvalidScope.WithHint("The requested scope exceeds the scope originally granted.")
		}
		ex.Scopes = requested
	}
	ex.Audience = parent.Audience
	ex.Parent = parent
	return nil
}

func (g *RefreshTokenGrant) lookup(ctx context.Context, raw string) (*storage.Token, error) {
	sig := g.deps.Issuer.RefreshSignature(ctx, raw)
	if sig == "" {
		return nil, nil
	}
	tok, err := g.deps.Tokens.GetTokenByRefreshSignature(ctx, sig)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}
	return tok, nil
}

// ResolveSubject implements Grant.
func (g *RefreshTokenGrant) ResolveSubject(ctx context.Context, ex *Exchange) (*storage.Subject, error) {
	if ex.Parent.Subject == "" {
		return nil, nil
	}
	return lookupSubject(ctx, g.deps.Subjects, ex.Parent.Subject)
}

// Issue implements Grant.
func (g *RefreshTokenGrant) Issue(ctx context.Context, ex *Exchange) (_ *tokens.Response, err error) {
	resp, record, err := g.deps.Issuer.Mint(ctx, tokens.Request{
		Client:              ex.Client,
		Subject:             ex.Subject,
		GrantType:           tokens.GrantRefreshToken,
		Scopes:              ex.Scopes,
		Audience:            ex.Parent.Audience,
		AuthTime:            ex.Parent.AuthTime,
		AMR:                 ex.Parent.AMR,
		ParentID:            ex.Parent.ID,
		AuthorizationCodeID: ex.Parent.AuthorizationCodeID,
	})
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "storage.rotate_token", telemetry.AttrClientID.String(ex.Client.ID))
	defer func() { telemetry.EndSpan(span, err) }()

	err = g.deps.Tokens.RotateToken(ctx, ex.Parent.ID, record, g.deps.now())
	if errors.Is(err, storage.ErrTokenRevoked) {
		return nil, fosite.ErrInvalidGrant.WithHint("The refresh token has already been used.")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to rotate token: %w", err)
	}
	return resp, nil
}
