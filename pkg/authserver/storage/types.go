// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the persistence port of the authorization server and
// its memory, Redis and SQLite implementations.
//
// Every component receives the narrow sub-interface it needs at construction
// time; there is no package-level backend.
package storage

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/stacklok/toolhive-core/httperr"
)

//go:generate mockgen -destination=mocks/mock_storage.go -package=mocks -source=types.go Storage,ConsentStorage

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = httperr.WithCode(errors.New("record not found"), http.StatusNotFound)

	// ErrAlreadyExists is returned when a record with the same identity exists.
	ErrAlreadyExists = httperr.WithCode(errors.New("record already exists"), http.StatusConflict)

	// ErrAlreadyConsumed is returned by ConsumeAuthorizationCode when the code was
	// redeemed before. The stored record is returned alongside the error.
	ErrAlreadyConsumed = httperr.WithCode(errors.New("authorization code already consumed"), http.StatusBadRequest)

	// ErrTokenRevoked is returned by RotateToken when the token being rotated is
	// already revoked.
	ErrTokenRevoked = httperr.WithCode(errors.New("token revoked"), http.StatusBadRequest)

	// ErrReplay is returned by MarkUsed when the key was used within its window.
	ErrReplay = httperr.WithCode(errors.New("value already used"), http.StatusBadRequest)
)

// TokenEndpointAuthMethod is a client authentication method at the token endpoint.
type TokenEndpointAuthMethod string

// Supported client authentication methods.
const (
	AuthMethodClientSecretBasic TokenEndpointAuthMethod = "client_secret_basic"
	AuthMethodClientSecretPost  TokenEndpointAuthMethod = "client_secret_post"
	AuthMethodPrivateKeyJWT     TokenEndpointAuthMethod = "private_key_jwt"
	AuthMethodNone              TokenEndpointAuthMethod = "none"
)

// Client is a registered relying party.
type Client struct {
	ID string `json:"client_id"`
	// SecretHash is the bcrypt hash of the client secret. Empty for public clients
	// and clients using private_key_jwt.
	SecretHash string `json:"secret_hash,omitempty"`
	Name       string `json:"client_name,omitempty"`

	GrantTypes             []string `json:"grant_types"`
	ResponseTypes          []string `json:"response_types"`
	RedirectURIs           []string `json:"redirect_uris"`
	PostLogoutRedirectURIs []string `json:"post_logout_redirect_uris,omitempty"`

	// Scopes is the maximum scope the client may be granted.
	Scopes []string `json:"scopes"`
	// DefaultScopes is granted when a request carries no scope parameter.
	DefaultScopes []string `json:"default_scopes,omitempty"`

	TokenEndpointAuthMethod TokenEndpointAuthMethod `json:"token_endpoint_auth_method"`

	// Trusted clients skip the interactive consent step.
	Trusted bool `json:"trusted,omitempty"`
	// Preconsented clients were approved out of band for every subject.
	Preconsented bool `json:"preconsented,omitempty"`

	// Audience lists the clients whose tokens this client may validate.
	// It always contains the client itself.
	Audience []string `json:"audience"`

	IDTokenSignedResponseAlg    string `json:"id_token_signed_response_alg,omitempty"`
	IDTokenEncryptedResponseAlg string `json:"id_token_encrypted_response_alg,omitempty"`
	IDTokenEncryptedResponseEnc string `json:"id_token_encrypted_response_enc,omitempty"`
	RequestObjectSigningAlg     string `json:"request_object_signing_alg,omitempty"`
	TokenEndpointAuthSigningAlg string `json:"token_endpoint_auth_signing_alg,omitempty"`

	// JWKS is an inline JSON Web Key Set used to verify client assertions and
	// request objects, and to encrypt ID tokens.
	JWKS    string `json:"jwks,omitempty"`
	JWKSURI string `json:"jwks_uri,omitempty"`

	// RegisteredDynamically marks clients created through the registration endpoint.
	RegisteredDynamically bool `json:"registered_dynamically,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsPublic reports whether the client cannot hold credentials.
func (c *Client) IsPublic() bool {
	return c.TokenEndpointAuthMethod == AuthMethodNone
}

// HasGrantType reports whether the client may use grantType.
func (c *Client) HasGrantType(grantType string) bool {
	return slices.Contains(c.GrantTypes, grantType)
}

// HasRedirectURI reports whether uri is one of the registered redirect URIs.
// Comparison is exact.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// EffectiveAudience returns the audience list with the client itself first.
func (c *Client) EffectiveAudience() []string {
	aud := []string{c.ID}
	for _, a := range c.Audience {
		if a != c.ID && !slices.Contains(aud, a) {
			aud = append(aud, a)
		}
	}
	return aud
}

// Clone returns a deep copy of the client.
func (c *Client) Clone() *Client {
	if c == nil {
		return nil
	}
	out := *c
	out.GrantTypes = slices.Clone(c.GrantTypes)
	out.ResponseTypes = slices.Clone(c.ResponseTypes)
	out.RedirectURIs = slices.Clone(c.RedirectURIs)
	out.PostLogoutRedirectURIs = slices.Clone(c.PostLogoutRedirectURIs)
	out.Scopes = slices.Clone(c.Scopes)
	out.DefaultScopes = slices.Clone(c.DefaultScopes)
	out.Audience = slices.Clone(c.Audience)
	return &out
}

// AuthorizationCode is a single-use artifact issued at the authorization endpoint.
type AuthorizationCode struct {
	ID string `json:"id"`
	// Signature is the HMAC of the code value. The raw code is never stored.
	Signature   string `json:"signature"`
	ClientID    string `json:"client_id"`
	Subject     string `json:"subject"`
	RedirectURI string `json:"redirect_uri"`
	// RedirectURIProvided records that redirect_uri was sent on the
	// authorization request, so the token request must repeat it.
	RedirectURIProvided bool       `json:"redirect_uri_provided,omitempty"`
	Scopes              []string   `json:"scopes"`
	CodeChallenge       string     `json:"code_challenge,omitempty"`
	CodeChallengeMethod string     `json:"code_challenge_method,omitempty"`
	Nonce               string     `json:"nonce,omitempty"`
	AuthTime            time.Time  `json:"auth_time"`
	AMR                 []string   `json:"amr,omitempty"`
	IssuedAt            time.Time  `json:"issued_at"`
	ExpiresAt           time.Time  `json:"expires_at"`
	ConsumedAt          *time.Time `json:"consumed_at,omitempty"`
}

// Expired reports whether the code is past its lifetime at now.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Clone returns a deep copy of the code.
func (c *AuthorizationCode) Clone() *AuthorizationCode {
	if c == nil {
		return nil
	}
	out := *c
	out.Scopes = slices.Clone(c.Scopes)
	out.AMR = slices.Clone(c.AMR)
	if c.ConsumedAt != nil {
		t := *c.ConsumedAt
		out.ConsumedAt = &t
	}
	return &out
}

// Token is an access token with an optional refresh token.
type Token struct {
	ID               string     `json:"id"`
	AccessSignature  string     `json:"access_signature"`
	RefreshSignature string     `json:"refresh_signature,omitempty"`
	ClientID         string     `json:"client_id"`
	Subject          string     `json:"subject,omitempty"`
	GrantType        string     `json:"grant_type"`
	Scopes           []string   `json:"scopes"`
	Audience         []string   `json:"audience"`
	AuthTime         time.Time  `json:"auth_time,omitzero"`
	AMR              []string   `json:"amr,omitempty"`
	IssuedAt         time.Time  `json:"issued_at"`
	AccessExpiresAt  time.Time  `json:"access_expires_at"`
	RefreshExpiresAt time.Time  `json:"refresh_expires_at,omitzero"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	// ParentID is the token this one was rotated from.
	ParentID string `json:"parent_id,omitempty"`
	// AuthorizationCodeID links tokens to the code they were redeemed from.
	AuthorizationCodeID string `json:"authorization_code_id,omitempty"`
}

// Revoked reports whether the token has been revoked.
func (t *Token) Revoked() bool {
	return t.RevokedAt != nil
}

// HasRefresh reports whether a refresh token was issued with this token.
func (t *Token) HasRefresh() bool {
	return t.RefreshSignature != ""
}

// AccessActive reports whether the access token is usable at now.
func (t *Token) AccessActive(now time.Time) bool {
	return !t.Revoked() && now.Before(t.AccessExpiresAt)
}

// RefreshActive reports whether the refresh token is usable at now.
func (t *Token) RefreshActive(now time.Time) bool {
	return t.HasRefresh() && !t.Revoked() && now.Before(t.RefreshExpiresAt)
}

// ExpiresAt returns the time after which no part of the token is usable.
func (t *Token) ExpiresAt() time.Time {
	if t.RefreshExpiresAt.After(t.AccessExpiresAt) {
		return t.RefreshExpiresAt
	}
	return t.AccessExpiresAt
}

// Clone returns a deep copy of the token.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	out := *t
	out.Scopes = slices.Clone(t.Scopes)
	out.Audience = slices.Clone(t.Audience)
	out.AMR = slices.Clone(t.AMR)
	if t.RevokedAt != nil {
		r := *t.RevokedAt
		out.RevokedAt = &r
	}
	return &out
}

// Consent records that a subject agreed to let a client access a scope.
type Consent struct {
	ID        string     `json:"id"`
	Subject   string     `json:"subject"`
	ClientID  string     `json:"client_id"`
	Scopes    []string   `json:"scopes"`
	IssuedAt  time.Time  `json:"issued_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Revoked reports whether the consent has been revoked.
func (c *Consent) Revoked() bool {
	return c.RevokedAt != nil
}

// Clone returns a deep copy of the consent.
func (c *Consent) Clone() *Consent {
	if c == nil {
		return nil
	}
	out := *c
	out.Scopes = slices.Clone(c.Scopes)
	if c.RevokedAt != nil {
		r := *c.RevokedAt
		out.RevokedAt = &r
	}
	return &out
}

// Subject is a resource owner account.
type Subject struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	DisplayName   string    `json:"display_name,omitempty"`
	Email         string    `json:"email,omitempty"`
	EmailVerified bool      `json:"email_verified,omitempty"`
	PasswordHash  string    `json:"password_hash,omitempty"`
	Locked        bool      `json:"locked,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Clone returns a copy of the subject.
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

// PendingAuthorization is an authorization request parked while the end user
// logs in, registers or decides on consent.
type PendingAuthorization struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
	// Request holds the validated authorization request as encoded by the
	// authorize package.
	Request   []byte    `json:"request"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Session is an authenticated end-user browser session.
type Session struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	AuthTime  time.Time `json:"auth_time"`
	Factors   []string  `json:"factors,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Factors = slices.Clone(s.Factors)
	return &out
}

// ClientStorage persists clients.
type ClientStorage interface {
	// GetClient returns ErrNotFound for unknown clients.
	GetClient(ctx context.Context, id string) (*Client, error)
	// CreateClient returns ErrAlreadyExists when the id is taken.
	CreateClient(ctx context.Context, client *Client) error
	// UpdateClient replaces the stored client. Returns ErrNotFound when missing.
	UpdateClient(ctx context.Context, client *Client) error
	// DeleteClient removes the client and its codes, tokens and consents.
	DeleteClient(ctx context.Context, id string) error
	// ListClients returns every client ordered by id.
	ListClients(ctx context.Context) ([]*Client, error)
}

// AuthorizationCodeStorage persists authorization codes.
type AuthorizationCodeStorage interface {
	CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error
	// ConsumeAuthorizationCode atomically marks the code consumed at now and returns
	// it. A second call returns the stored code together with ErrAlreadyConsumed.
	// Unknown codes return ErrNotFound. Expiry is checked by the caller so that an
	// expired code is still exhausted.
	ConsumeAuthorizationCode(ctx context.Context, signature string, now time.Time) (*AuthorizationCode, error)
}

// TokenStorage persists access/refresh token pairs.
type TokenStorage interface {
	CreateToken(ctx context.Context, token *Token) error
	GetToken(ctx context.Context, id string) (*Token, error)
	GetTokenByAccessSignature(ctx context.Context, signature string) (*Token, error)
	GetTokenByRefreshSignature(ctx context.Context, signature string) (*Token, error)
	// RotateToken atomically revokes oldID and stores next. It returns
	// ErrTokenRevoked without storing next when oldID was already revoked.
	RotateToken(ctx context.Context, oldID string, next *Token, now time.Time) error
	// RevokeToken marks the token revoked. It reports whether the token changed.
	RevokeToken(ctx context.Context, id string, now time.Time) (bool, error)
	// RevokeTokensByAuthorizationCode revokes every token redeemed from codeID.
	RevokeTokensByAuthorizationCode(ctx context.Context, codeID string, now time.Time) (int, error)
	// RevokeTokensBySubjectAndClient revokes every live token of subject at client.
	RevokeTokensBySubjectAndClient(ctx context.Context, subject, clientID string, now time.Time) (int, error)
}

// ConsentStorage persists consent records. At most one record exists per
// (subject, client) pair.
type ConsentStorage interface {
	// GetConsent returns ErrNotFound when no record exists.
	GetConsent(ctx context.Context, subject, clientID string) (*Consent, error)
	// SaveConsent inserts or replaces the record for (Subject, ClientID).
	SaveConsent(ctx context.Context, consent *Consent) error
	// ListConsents returns every record for subject.
	ListConsents(ctx context.Context, subject string) ([]*Consent, error)
}

// SubjectStorage persists resource owner accounts.
type SubjectStorage interface {
	GetSubject(ctx context.Context, id string) (*Subject, error)
	GetSubjectByUsername(ctx context.Context, username string) (*Subject, error)
	// CreateSubject returns ErrAlreadyExists when the id or username is taken.
	CreateSubject(ctx context.Context, subject *Subject) error
	UpdateSubject(ctx context.Context, subject *Subject) error
}

// PendingAuthorizationStorage persists parked authorization requests.
type PendingAuthorizationStorage interface {
	StorePendingAuthorization(ctx context.Context, pending *PendingAuthorization) error
	// LoadPendingAuthorization returns ErrNotFound for unknown or expired ids.
	LoadPendingAuthorization(ctx context.Context, id string) (*PendingAuthorization, error)
	DeletePendingAuthorization(ctx context.Context, id string) error
}

// SessionStorage persists end-user sessions.
type SessionStorage interface {
	CreateSession(ctx context.Context, session *Session) error
	// GetSession returns ErrNotFound for unknown or expired sessions.
	GetSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// ReplayStorage remembers single-use values such as assertion jti claims.
type ReplayStorage interface {
	// MarkUsed records key until expiresAt. It returns ErrReplay if key is
	// already recorded and not yet expired.
	MarkUsed(ctx context.Context, key string, expiresAt time.Time) error
	// IsUsed reports whether key is recorded and not yet expired.
	IsUsed(ctx context.Context, key string) (bool, error)
}

// Storage is the full persistence port implemented by every backend.
type Storage interface {
	ClientStorage
	AuthorizationCodeStorage
	TokenStorage
	ConsentStorage
	SubjectStorage
	PendingAuthorizationStorage
	SessionStorage
	ReplayStorage

	// Health reports whether the backend is reachable.
	Health(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// Stats reports record counts, used by tests and diagnostics.
type Stats struct {
	Clients               int
	AuthorizationCodes    int
	Tokens                int
	Consents              int
	Subjects              int
	PendingAuthorizations int
	Sessions              int
	ReplayEntries         int
}
