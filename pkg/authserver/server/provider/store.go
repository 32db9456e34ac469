// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ory/fosite"
	"github.com/ory/fosite/handler/oauth2"

	"github.com/stacklok/toolhive-idp/pkg/authserver/events"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/clients"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// errGrantEngineWrites is returned by the fosite write hooks. Codes and
// tokens are written by the grant engine, never by fosite handlers.
var errGrantEngineWrites = errors.New("tokens are written by the grant engine")

var (
	_ fosite.Storage                = (*Store)(nil)
	_ oauth2.CoreStorage            = (*Store)(nil)
	_ oauth2.TokenRevocationStorage = (*Store)(nil)
)

// Store exposes token records to fosite. A token pair is one record, so the
// fosite request id of both halves is the record id.
type Store struct {
	clients   storage.ClientStorage
	tokens    storage.TokenStorage
	ledger    clients.AssertionLedger
	publisher events.Publisher
	now       func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreClock overrides time.Now.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store. Revocations are published to publisher.
func NewStore(
	clientStore storage.ClientStorage, tokenStore storage.TokenStorage,
	ledger clients.AssertionLedger, publisher events.Publisher, opts ...StoreOption,
) *Store {
	s := &Store{
		clients:   clientStore,
		tokens:    tokenStore,
		ledger:    ledger,
		publisher: publisher,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetClient implements fosite.ClientManager.
func (s *Store) GetClient(ctx context.Context, id string) (fosite.Client, error) {
	client, err := s.clients.GetClient(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return clients.AsFositeClient(client), nil
}

// ClientAssertionJWTValid implements fosite.ClientManager.
func (s *Store) ClientAssertionJWTValid(ctx context.Context, jti string) error {
	return s.ledger.ClientAssertionJWTValid(ctx, jti)
}

// SetClientAssertionJWT implements fosite.ClientManager.
func (s *Store) SetClientAssertionJWT(ctx context.Context, jti string, exp time.Time) error {
	return s.ledger.SetClientAssertionJWT(ctx, jti, exp)
}

// GetAccessTokenSession implements oauth2.AccessTokenStorage. A revoked
// token is returned together with fosite.ErrInactiveToken.
func (s *Store) GetAccessTokenSession(ctx context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	if signature == "" {
		return nil, fosite.ErrNotFound
	}
	tok, err := s.tokens.GetTokenByAccessSignature(ctx, signature)
	if err != nil {
		return nil, notFound(err)
	}
	return requesterOf(tok), inactive(tok)
}

// GetRefreshTokenSession implements oauth2.RefreshTokenStorage. A revoked
// token is returned together with fosite.ErrInactiveToken.
func (s *Store) GetRefreshTokenSession(ctx context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	if signature == "" {
		return nil, fosite.ErrNotFound
	}
	tok, err := s.tokens.GetTokenByRefreshSignature(ctx, signature)
	if err != nil {
		return nil, notFound(err)
	}
	return requesterOf(tok), inactive(tok)
}

// RevokeAccessToken implements oauth2.TokenRevocationStorage.
func (s *Store) RevokeAccessToken(ctx context.Context, requestID string) error {
	return s.revoke(ctx, requestID)
}

// RevokeRefreshToken implements oauth2.TokenRevocationStorage. The pair
// shares one record, so the access token is revoked with it.
func (s *Store) RevokeRefreshToken(ctx context.Context, requestID string) error {
	return s.revoke(ctx, requestID)
}

func (s *Store) revoke(ctx context.Context, id string) error {
	changed, err := s.tokens.RevokeToken(ctx, id, s.now())
	if err != nil {
		return notFound(err)
	}
	if !changed {
		return nil
	}
	tok, err := s.tokens.GetToken(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load revoked token: %w", err)
	}
	events.Emit(ctx, s.publisher, events.New(events.TypeTokenRevoked, tok.ClientID, tok.Subject,
		map[string]any{"reason": "revocation_endpoint", "token_id": tok.ID}))
	return nil
}

// GetAuthorizeCodeSession implements oauth2.AuthorizeCodeStorage. Codes are
// consumed by the grant engine and never introspected.
func (*Store) GetAuthorizeCodeSession(context.Context, string, fosite.Session) (fosite.Requester, error) {
	return nil, fosite.ErrNotFound
}

// CreateAuthorizeCodeSession implements oauth2.AuthorizeCodeStorage.
func (*Store) CreateAuthorizeCodeSession(context.Context, string, fosite.Requester) error {
	return errGrantEngineWrites
}

// InvalidateAuthorizeCodeSession implements oauth2.AuthorizeCodeStorage.
func (*Store) InvalidateAuthorizeCodeSession(context.Context, string) error {
	return errGrantEngineWrites
}

// CreateAccessTokenSession implements oauth2.AccessTokenStorage.
func (*Store) CreateAccessTokenSession(context.Context, string, fosite.Requester) error {
	return errGrantEngineWrites
}

// DeleteAccessTokenSession implements oauth2.AccessTokenStorage.
func (*Store) DeleteAccessTokenSession(context.Context, string) error {
	return errGrantEngineWrites
}

// CreateRefreshTokenSession implements oauth2.RefreshTokenStorage.
func (*Store) CreateRefreshTokenSession(context.Context, string, string, fosite.Requester) error {
	return errGrantEngineWrites
}

// DeleteRefreshTokenSession implements oauth2.RefreshTokenStorage.
func (*Store) DeleteRefreshTokenSession(context.Context, string) error {
	return errGrantEngineWrites
}

// RotateRefreshToken implements oauth2.RefreshTokenStorage.
func (*Store) RotateRefreshToken(context.Context, string, string) error {
	return errGrantEngineWrites
}

// Session is the fosite session of a stored token. It carries the stored
// expiries so the HMAC strategy checks the per-grant lifetimes.
type Session struct {
	*fosite.DefaultSession
	// Token is the record the session was built from.
	Token *storage.Token `json:"-"`
}

// Clone implements fosite.Session.
func (s *Session) Clone() fosite.Session {
	if s == nil {
		return nil
	}
	out := &Session{}
	if s.DefaultSession != nil {
		out.DefaultSession, _ = s.DefaultSession.Clone().(*fosite.DefaultSession)
	}
	if s.Token != nil {
		tok := *s.Token
		out.Token = &tok
	}
	return out
}

func requesterOf(tok *storage.Token) *fosite.Request {
	sess := &Session{
		DefaultSession: &fosite.DefaultSession{
			Subject: tok.Subject,
			ExpiresAt: map[fosite.TokenType]time.Time{
				fosite.AccessToken: tok.AccessExpiresAt,
			},
			Extra: map[string]any{},
		},
		Token: tok,
	}
	if tok.HasRefresh() {
		sess.SetExpiresAt(fosite.RefreshToken, tok.RefreshExpiresAt)
	}
	return &fosite.Request{
		ID:                tok.ID,
		RequestedAt:       tok.IssuedAt,
		Client:            clients.AsFositeClient(&storage.Client{ID: tok.ClientID}),
		RequestedScope:    fosite.Arguments(tok.Scopes),
		GrantedScope:      fosite.Arguments(tok.Scopes),
		RequestedAudience: fosite.Arguments(tok.Audience),
		GrantedAudience:   fosite.Arguments(tok.Audience),
		Form:              url.Values{},
		Session:           sess,
	}
}

func inactive(tok *storage.Token) error {
	if tok.Revoked() {
		return fosite.ErrInactiveToken
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fosite.ErrNotFound.WithWrap(err)
	}
	return err
}
