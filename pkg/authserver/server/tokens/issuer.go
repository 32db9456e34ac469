// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tokens issues authorization codes, opaque access and refresh tokens,
// and ID tokens.
package tokens

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/ory/fosite"
	"github.com/ory/fosite/handler/oauth2"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/keys"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// TokenTypeBearer is the token_type of every access token.
const TokenTypeBearer = "Bearer"

// ClientKeys resolves a client's public key set for ID token encryption.
type ClientKeys interface {
	KeySet(ctx context.Context, client *storage.Client) (jwk.Set, error)
}

// Request describes the tokens to issue.
type Request struct {
	Client *storage.Client
	// Subject is nil for client_credentials.
	Subject   *storage.Subject
	GrantType string
	Scopes    []string
	// Audience defaults to the client's effective audience.
	Audience []string
	AuthTime time.Time
	AMR      []string
	Nonce    string
	// AuthorizationCodeID links the token to the code it was redeemed from.
	AuthorizationCodeID string
	// ParentID is the token being rotated.
	ParentID string
	// SkipRefresh suppresses the refresh token even if the grant supports one.
	SkipRefresh bool
	// SkipIDToken suppresses the ID token even when openid was granted.
	SkipIDToken bool
}

// Response is the token endpoint success body (RFC 6749 Section 5.1).
type Response struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// CodeRequest describes an authorization code to issue.
type CodeRequest struct {
	Client      *storage.Client
	Subject     *storage.Subject
	RedirectURI string
	// RedirectURIProvided is set when the authorization request carried
	// redirect_uri explicitly.
	RedirectURIProvided bool
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	AuthTime            time.Time
	AMR                 []string
}

// Issuer mints tokens. It does not persist them; callers store the returned
// record with CreateToken or RotateToken. Opaque values come from the fosite
// HMAC strategy and only their signatures are stored.
type Issuer struct {
	issuer     string
	strategy   oauth2.CoreStrategy
	keys       *keys.Manager
	clientKeys ClientKeys
	policy     LifespanPolicy
	now        func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClientKeys enables ID token encryption for clients that request it.
func WithClientKeys(ck ClientKeys) Option {
	return func(i *Issuer) { i.clientKeys = ck }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer creates an Issuer for the issuer identifier iss.
func NewIssuer(iss string, strategy oauth2.CoreStrategy, km *keys.Manager, policy LifespanPolicy, opts ...Option) *Issuer {
	i := &Issuer{
		issuer:   iss,
		strategy: strategy,
		keys:     km,
		policy:   policy,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Policy returns the lifespan policy.
func (i *Issuer) Policy() LifespanPolicy {
	return i.policy
}

// Issuer returns the issuer identifier.
func (i *Issuer) Issuer() string {
	return i.issuer
}

// AccessSignature returns the storage key of an access token.
func (i *Issuer) AccessSignature(ctx context.Context, raw string) string {
	return i.strategy.AccessTokenSignature(ctx, raw)
}

// RefreshSignature returns the storage key of a refresh token.
func (i *Issuer) RefreshSignature(ctx context.Context, raw string) string {
	return i.strategy.RefreshTokenSignature(ctx, raw)
}

// CodeSignature returns the storage key of an authorization code.
func (i *Issuer) CodeSignature(ctx context.Context, raw string) string {
	return i.strategy.AuthorizeCodeSignature(ctx, raw)
}

// ValidateRefreshToken verifies the HMAC of raw and the expiry of its record.
func (i *Issuer) ValidateRefreshToken(ctx context.Context, raw string, tok *storage.Token) error {
	return i.strategy.ValidateRefreshToken(ctx, artifactRequest(tok.IssuedAt, fosite.RefreshToken, tok.RefreshExpiresAt), raw)
}

// ValidateAuthorizationCode verifies the HMAC of raw and the expiry of its record.
func (i *Issuer) ValidateAuthorizationCode(ctx context.Context, raw string, code *storage.AuthorizationCode) error {
	return i.strategy.ValidateAuthorizeCode(ctx, artifactRequest(code.IssuedAt, fosite.AuthorizeCode, code.ExpiresAt), raw)
}

func artifactRequest(issuedAt time.Time, tokenType fosite.TokenType, expiresAt time.Time) *fosite.Request {
	sess := &fosite.DefaultSession{}
	sess.SetExpiresAt(tokenType, expiresAt)
	req := fosite.NewRequest()
	req.RequestedAt = issuedAt
	req.Session = sess
	return req
}

// Mint creates an access token, a refresh token when the grant supports one
// and the client may use it, and an ID token when openid was granted.
func (i *Issuer) Mint(ctx context.Context, req Request) (*Response, *storage.Token, error) {
	now := i.now()
	ls := i.policy.For(req.GrantType)

	audience := req.Audience
	if len(audience) == 0 {
		audience = req.Client.EffectiveAudience()
	}
	if !slices.Contains(audience, req.Client.ID) {
		audience = append([]string{req.Client.ID}, audience...)
	}

	id := uuid.NewString()
	mintReq := artifactRequest(now, fosite.AccessToken, now.Add(ls.Access))
	mintReq.ID = id
	accessToken, accessSig, err := i.strategy.GenerateAccessToken(ctx, mintReq)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	record := &storage.Token{
		ID:                  id,
		AccessSignature:     accessSig,
		ClientID:            req.Client.ID,
		GrantType:           req.GrantType,
		Scopes:              slices.Clone(req.Scopes),
		Audience:            audience,
		AuthTime:            req.AuthTime,
		AMR:                 slices.Clone(req.AMR),
		IssuedAt:            now,
		AccessExpiresAt:     now.Add(ls.Access),
		ParentID:            req.ParentID,
		AuthorizationCodeID: req.AuthorizationCodeID,
	}
	if req.Subject != nil {
		record.Subject = req.Subject.ID
	}

	resp := &Response{
		AccessToken: accessToken,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(ls.Access.Seconds()),
		Scope:       server.FormatScope(req.Scopes),
	}

	if ls.Refresh > 0 && !req.SkipRefresh && req.Client.HasGrantType(GrantRefreshToken) {
		refreshToken, refreshSig, err := i.strategy.GenerateRefreshToken(ctx, mintReq)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate refresh token: %w", err)
		}
		record.RefreshSignature = refreshSig
		record.RefreshExpiresAt = now.Add(ls.Refresh)
		resp.RefreshToken = refreshToken
	}

	if req.Subject != nil && !req.SkipIDToken && slices.Contains(req.Scopes, server.ScopeOpenID) {
		idToken, err := i.IDToken(ctx, IDTokenRequest{
			Request:     req,
			AccessToken: accessToken,
		})
		if err != nil {
			return nil, nil, err
		}
		resp.IDToken = idToken
	}

	return resp, record, nil
}

// NewAuthorizationCode creates a code bound to the request. The raw code is
// returned to the caller; only its signature is stored.
func (i *Issuer) NewAuthorizationCode(ctx context.Context, req CodeRequest) (string, *storage.AuthorizationCode, error) {
	now := i.now()
	expiresAt := now.Add(i.policy.AuthorizationCode)
	code, sig, err := i.strategy.GenerateAuthorizeCode(ctx, artifactRequest(now, fosite.AuthorizeCode, expiresAt))
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate authorization code: %w", err)
	}
	return code, &storage.AuthorizationCode{
		ID:                  uuid.NewString(),
		Signature:           sig,
		ClientID:            req.Client.ID,
		Subject:             req.Subject.ID,
		RedirectURI:         req.RedirectURI,
		RedirectURIProvided: req.RedirectURIProvided,
		Scopes:              slices.Clone(req.Scopes),
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
		AuthTime:            req.AuthTime,
		AMR:                 slices.Clone(req.AMR),
		IssuedAt:            now,
		ExpiresAt:           expiresAt,
	}, nil
}

// ExpiresIn returns the access token lifetime for grant in seconds.
func (i *Issuer) ExpiresIn(grant string) int64 {
	return int64(i.policy.For(grant).Access.Seconds())
}
