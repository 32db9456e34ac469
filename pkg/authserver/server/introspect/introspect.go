// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package introspect answers token introspection (RFC 7662), revocation
// (RFC 7009) and userinfo requests for opaque tokens.
//
// None of the operations reveal whether a token exists to a caller that is not
// entitled to it: introspection reports such tokens inactive and revocation
// succeeds without effect.
package introspect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/provider"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/tokens"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// Token type hints (RFC 7009 Section 2.1).
const (
	HintAccessToken  = "access_token"
	HintRefreshToken = "refresh_token"
)

// Service looks up opaque tokens on behalf of authenticated clients. Lookup,
// signature and expiry checks and revocation run through the fosite provider.
type Service struct {
	issuer   string
	provider fosite.OAuth2Provider
	subjects storage.SubjectStorage
}

// NewService creates a Service.
func NewService(iss string, oauth2Provider fosite.OAuth2Provider, subjects storage.SubjectStorage) *Service {
	return &Service{
		issuer:   iss,
		provider: oauth2Provider,
		subjects: subjects,
	}
}

func tokenUse(hint string) fosite.TokenUse {
	if hint == HintRefreshToken {
		return fosite.RefreshToken
	}
	return fosite.AccessToken
}

// lookup resolves raw to its stored record. The hint orders the lookups only.
// Unknown, forged, expired and revoked values all yield a nil record.
func (s *Service) lookup(ctx context.Context, raw string, use fosite.TokenUse) (fosite.TokenUse, fosite.AccessRequester, *storage.Token) {
	if raw == "" {
		return "", nil, nil
	}
	found, ar, err := s.provider.IntrospectToken(ctx, raw, use, &provider.Session{DefaultSession: &fosite.DefaultSession{}})
	if err != nil {
		slog.Debug("token is not active", "error", err)
		return "", nil, nil
	}
	sess, ok := ar.GetSession().(*provider.Session)
	if !ok || sess.Token == nil {
		return "", nil, nil
	}
	return found, ar, sess.Token
}

// activeSubject returns the token's subject, or nil with ok=false when the
// subject no longer exists or is locked. Tokens without a subject are fine.
func (s *Service) activeSubject(ctx context.Context, tok *storage.Token) (*storage.Subject, bool, error) {
	if tok.Subject == "" {
		return nil, true, nil
	}
	subject, err := s.subjects.GetSubject(ctx, tok.Subject)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load subject: %w", err)
	}
	if subject.Locked {
		return subject, false, nil
	}
	return subject, true, nil
}

// Introspect reports the state of raw to caller. Tokens outside the caller's
// audience, expired or revoked tokens, and tokens of locked subjects are all
// reported as {"active": false}.
func (s *Service) Introspect(ctx context.Context, caller *storage.Client, raw, hint string) (*fosite.IntrospectionResponse, error) {
	inactive := &fosite.IntrospectionResponse{}
	use, ar, tok := s.lookup(ctx, raw, tokenUse(hint))
	if tok == nil {
		return inactive, nil
	}
	if !server.InAudience(caller.ID, tok.Audience) {
		slog.Debug("introspection by client outside token audience", "client_id", caller.ID)
		return inactive, nil
	}
	subject, ok, err := s.activeSubject(ctx, tok)
	if err != nil {
		return nil, err
	}
	if !ok {
		return inactive, nil
	}

	sess := &fosite.DefaultSession{
		Subject:   tok.Subject,
		ExpiresAt: map[fosite.TokenType]time.Time{fosite.AccessToken: tok.AccessExpiresAt},
		Extra: map[string]any{
			"iss":        s.issuer,
			"token_type": tokens.TokenTypeBearer,
		},
	}
	if use == fosite.RefreshToken {
		// The writer reports the access token expiry as exp.
		sess.ExpiresAt[fosite.AccessToken] = tok.RefreshExpiresAt
		sess.Extra["token_type"] = HintRefreshToken
	}
	if subject != nil {
		sess.Username = subject.Username
	}
	if !tok.AuthTime.IsZero() {
		sess.Extra["auth_time"] = tok.AuthTime.Unix()
	}
	if len(tok.AMR) > 0 {
		sess.Extra["amr"] = tok.AMR
	}
	ar.SetSession(sess)
	return &fosite.IntrospectionResponse{Active: true, AccessRequester: ar, TokenUse: use}, nil
}

// WriteIntrospection writes resp as an RFC 7662 response.
func (s *Service) WriteIntrospection(ctx context.Context, w http.ResponseWriter, resp *fosite.IntrospectionResponse) {
	s.provider.WriteIntrospectionResponse(ctx, w, resp)
}

// Revoke handles an RFC 7009 revocation request, authenticating the client
// and revoking the token if it was issued to that client. Unknown tokens,
// already revoked tokens and tokens of other clients all succeed silently.
// Revoking either half of a token pair revokes both.
func (s *Service) Revoke(ctx context.Context, r *http.Request) error {
	err := s.provider.NewRevocationRequest(ctx, r)
	if errors.Is(err, fosite.ErrUnauthorizedClient) {
		slog.Debug("revocation by client that does not own the token")
		return nil
	}
	return err
}

// WriteRevocation writes the outcome of Revoke.
func (s *Service) WriteRevocation(ctx context.Context, w http.ResponseWriter, err error) {
	s.provider.WriteRevocationResponse(ctx, w, err)
}

// UserInfo returns the OpenID Connect claims of the access token's subject,
// limited to the scope granted to the token.
func (s *Service) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	use, _, tok := s.lookup(ctx, accessToken, fosite.AccessToken)
	if tok == nil || use != fosite.AccessToken {
		return nil, server.ErrInvalidToken.WithHint("The access token is unknown, expired or revoked.")
	}
	if tok.Subject == "" {
		return nil, server.ErrInvalidToken.WithHint("The access token was not issued to an end user.")
	}
	if !slices.Contains(tok.Scopes, server.ScopeOpenID) {
		return nil, server.ErrInsufficientScope.WithHint("The openid scope is required.")
	}

	subject, ok, err := s.activeSubject(ctx, tok)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, server.ErrInvalidToken.WithHint("The end user is no longer active.")
	}
	return Claims(subject, tok.Scopes), nil
}

// Claims returns the userinfo claims of subject released by scopes.
func Claims(subject *storage.Subject, scopes []string) map[string]any {
	claims := map[string]any{"sub": subject.ID}
	for _, scope := range scopes {
		switch scope {
		case server.ScopeProfile:
			claims["preferred_username"] = subject.Username
			if subject.DisplayName != "" {
				claims["name"] = subject.DisplayName
			}
		case server.ScopeEmail:
			if subject.Email != "" {
				claims["email"] = subject.Email
				claims["email_verified"] = subject.EmailVerified
			}
		}
	}
	return claims
}
