// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package registration

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/toolhive-idp/pkg/authserver/events"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/clients"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/keys"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// Service implements client registration (RFC 7591) and management
// (RFC 7592). Every call is authenticated by a bearer assertion signed with
// the server's own keys, except registration when open registration is on.
type Service struct {
	issuer        string
	endpoint      string
	store         storage.ClientStorage
	registry      *clients.Registry
	keys          *keys.Manager
	publisher     events.Publisher
	allowedScopes []string
	open          bool
	managementTTL time.Duration
	now           func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithOpenRegistration accepts registration requests without a bearer assertion.
func WithOpenRegistration() Option {
	return func(s *Service) { s.open = true }
}

// WithAllowedScopes bounds the scope a client may register. Defaults to DefaultScopes.
func WithAllowedScopes(scopes ...string) Option {
	return func(s *Service) { s.allowedScopes = scopes }
}

// WithManagementTTL sets the lifetime of issued management assertions.
func WithManagementTTL(ttl time.Duration) Option {
	return func(s *Service) { s.managementTTL = ttl }
}

// WithEndpoint overrides the registration endpoint URL used to build
// registration_client_uri. Defaults to the issuer followed by /oauth/register.
func WithEndpoint(endpoint string) Option {
	return func(s *Service) { s.endpoint = endpoint }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a registration Service.
func NewService(
	iss string, store storage.ClientStorage, registry *clients.Registry, km *keys.Manager,
	publisher events.Publisher, opts ...Option,
) *Service {
	s := &Service{
		issuer:        iss,
		endpoint:      iss + "/oauth/register",
		store:         store,
		registry:      registry,
		keys:          km,
		publisher:     publisher,
		allowedScopes: DefaultScopes,
		managementTTL: DefaultManagementTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenRegistration reports whether registration works without a bearer assertion.
func (s *Service) OpenRegistration() bool {
	return s.open
}

// Register creates a client. A registration assertion whose subject is set
// requests that client ID; an ID that is already taken is rejected.
func (s *Service) Register(ctx context.Context, bearer string, req *DCRRequest) (*DCRResponse, error) {
	clientID := uuid.NewString()
	if bearer != "" || !s.open {
		claims, err := s.verifyAssertion(ctx, bearer, ScopeRegistration)
		if err != nil {
			return nil, err
		}
		if claims.Subject != "" {
			clientID = claims.Subject
		}
	}
	if req.ClientID != "" {
		return nil, server.ErrInvalidClientMetadata.WithHint("client_id cannot be chosen in the registration request.")
	}

	validated, dcrErr := ValidateDCRRequest(req, s.allowedScopes)
	if dcrErr != nil {
		return nil, dcrErr.Err()
	}

	cfg, err := clientConfig(clientID, validated)
	if err != nil {
		return nil, err
	}
	var secret string
	if needsSecret(validated.TokenEndpointAuthMethod) {
		secret = rand.Text()
		cfg.Secret = secret
	}
	client, err := New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build client: %w", err)
	}

	if err := s.store.CreateClient(ctx, client); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, server.ErrInvalidClientMetadata.WithHint("The requested client_id is already registered.")
		}
		return nil, fmt.Errorf("failed to register client: %w", err)
	}
	slog.Debug("registered new DCR client", "client_id", client.ID, "client_name", client.Name)
	events.Emit(ctx, s.publisher, events.New(events.TypeClientCreated, client.ID, "",
		map[string]any{"client_name": client.Name, "dynamic": true}))

	return s.respond(ctx, client, secret, true)
}

// Read returns the current metadata of clientID.
func (s *Service) Read(ctx context.Context, bearer, clientID string) (*DCRResponse, error) {
	client, err := s.authorizeManagement(ctx, bearer, clientID)
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, client, "", false)
}

// Update replaces the metadata of clientID. A new secret is issued when the
// client switches to a secret-based authentication method, and a fresh
// management assertion is returned.
func (s *Service) Update(ctx context.Context, bearer, clientID string, req *DCRRequest) (*DCRResponse, error) {
	existing, err := s.authorizeManagement(ctx, bearer, clientID)
	if err != nil {
		return nil, err
	}
	if req.ClientID != "" && req.ClientID != clientID {
		return nil, server.ErrInvalidClientMetadata.WithHint("client_id does not match the client being updated.")
	}

	validated, dcrErr := ValidateDCRRequest(req, s.allowedScopes)
	if dcrErr != nil {
		return nil, dcrErr.Err()
	}
	cfg, err := clientConfig(clientID, validated)
	if err != nil {
		return nil, err
	}

	var secret string
	if needsSecret(validated.TokenEndpointAuthMethod) {
		if existing.SecretHash != "" {
			cfg.SecretHash = existing.SecretHash
		} else {
			secret = rand.Text()
			cfg.Secret = secret
		}
	}
	client, err := New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build client: %w", err)
	}
	client.CreatedAt = existing.CreatedAt
	client.Trusted = existing.Trusted
	client.Preconsented = existing.Preconsented
	client.Audience = existing.Audience
	client.DefaultScopes = existing.DefaultScopes

	if err := s.store.UpdateClient(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to update client: %w", err)
	}
	s.registry.Invalidate(ctx, clientID)
	events.Emit(ctx, s.publisher, events.New(events.TypeClientUpdated, clientID, "", nil))

	return s.respond(ctx, client, secret, true)
}

// Delete removes clientID together with its codes, tokens and consents.
func (s *Service) Delete(ctx context.Context, bearer, clientID string) error {
	if _, err := s.authorizeManagement(ctx, bearer, clientID); err != nil {
		return err
	}
	if err := s.store.DeleteClient(ctx, clientID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	s.registry.Invalidate(ctx, clientID)
	events.Emit(ctx, s.publisher, events.New(events.TypeClientDeleted, clientID, "", nil))
	return nil
}

// authorizeManagement verifies a management assertion for clientID and loads
// the client. A valid assertion for a deleted client is rejected like an
// invalid one (RFC 7592 Section 2.1).
func (s *Service) authorizeManagement(ctx context.Context, bearer, clientID string) (*storage.Client, error) {
	claims, err := s.verifyAssertion(ctx, bearer, ScopeManagement)
	if err != nil {
		return nil, err
	}
	if claims.Subject != clientID {
		return nil, server.ErrInvalidToken.WithHint("The bearer token was not issued for this client.")
	}
	client, err := s.store.GetClient(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, server.ErrInvalidToken.WithHint("The client no longer exists.")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	return client, nil
}

func (s *Service) respond(ctx context.Context, client *storage.Client, secret string, withToken bool) (*DCRResponse, error) {
	resp := &DCRResponse{
		ClientID:                    client.ID,
		ClientIDIssuedAt:            client.CreatedAt.Unix(),
		RegistrationClientURI:       s.endpoint + "/" + url.PathEscape(client.ID),
		RedirectURIs:                client.RedirectURIs,
		PostLogoutRedirectURIs:      client.PostLogoutRedirectURIs,
		ClientName:                  client.Name,
		TokenEndpointAuthMethod:     string(client.TokenEndpointAuthMethod),
		GrantTypes:                  client.GrantTypes,
		ResponseTypes:               client.ResponseTypes,
		Scope:                       server.FormatScope(client.Scopes),
		JWKSURI:                     client.JWKSURI,
		IDTokenSignedResponseAlg:    client.IDTokenSignedResponseAlg,
		IDTokenEncryptedResponseAlg: client.IDTokenEncryptedResponseAlg,
		IDTokenEncryptedResponseEnc: client.IDTokenEncryptedResponseEnc,
		RequestObjectSigningAlg:     client.RequestObjectSigningAlg,
		TokenEndpointAuthSigningAlg: client.TokenEndpointAuthSigningAlg,
	}
	if client.JWKS != "" {
		if err := json.Unmarshal([]byte(client.JWKS), &resp.JWKS); err != nil {
			return nil, fmt.Errorf("failed to decode stored jwks: %w", err)
		}
	}
	if secret != "" {
		resp.ClientSecret = secret
		var never int64
		resp.ClientSecretExpiresAt = &never
	}
	if withToken {
		token, err := s.MintAssertion(ctx, ScopeManagement, client.ID, s.managementTTL)
		if err != nil {
			return nil, err
		}
		resp.RegistrationAccessToken = token
	}
	return resp, nil
}

func clientConfig(clientID string, req *DCRRequest) (Config, error) {
	cfg := Config{
		ID:                          clientID,
		Name:                        req.ClientName,
		AuthMethod:                  storage.TokenEndpointAuthMethod(req.TokenEndpointAuthMethod),
		Public:                      req.TokenEndpointAuthMethod == string(storage.AuthMethodNone),
		RedirectURIs:                req.RedirectURIs,
		PostLogoutRedirectURIs:      req.PostLogoutRedirectURIs,
		GrantTypes:                  req.GrantTypes,
		ResponseTypes:               req.ResponseTypes,
		Scopes:                      server.ParseScope(req.Scope),
		JWKSURI:                     req.JWKSURI,
		IDTokenSignedResponseAlg:    req.IDTokenSignedResponseAlg,
		IDTokenEncryptedResponseAlg: req.IDTokenEncryptedResponseAlg,
		IDTokenEncryptedResponseEnc: req.IDTokenEncryptedResponseEnc,
		RequestObjectSigningAlg:     req.RequestObjectSigningAlg,
		TokenEndpointAuthSigningAlg: req.TokenEndpointAuthSigningAlg,
		RegisteredDynamically:       true,
	}
	if req.JWKS != nil {
		raw, err := marshalJWKS(req.JWKS)
		if err != nil {
			return Config{}, server.ErrInvalidClientMetadata.WithHint("jwks is not a valid JWK set.")
		}
		cfg.JWKS = string(raw)
	}
	return cfg, nil
}

func needsSecret(method string) bool {
	return method == string(storage.AuthMethodClientSecretBasic) || method == string(storage.AuthMethodClientSecretPost)
}
