// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package clients resolves registered clients and authenticates them on
// token, introspection and revocation requests.
package clients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ory/fosite"
	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server/telemetry"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

const (
	// DefaultReplayWindow bounds the lifetime of a client assertion and
	// therefore how long its jti is remembered.
	DefaultReplayWindow = time.Hour

	// DefaultCacheTTL is how long a resolved client is served from memory.
	DefaultCacheTTL = 30 * time.Second

	// DefaultLeeway is the clock skew tolerated on client-signed JWTs.
	DefaultLeeway = 30 * time.Second
)

// dummySecretHash keeps the bcrypt cost on the unknown-client path so the
// response time does not reveal whether a client exists.
var dummySecretHash = sync.OnceValue(func() []byte {
	hash, _ := bcrypt.GenerateFromPassword([]byte("unknown-client"), bcrypt.DefaultCost)
	return hash
})

// AssertionLedger remembers the jti of client-signed JWTs until they expire.
// It has the shape of fosite's ClientManager replay hooks.
type AssertionLedger interface {
	// ClientAssertionJWTValid returns fosite.ErrJTIKnown for a remembered jti.
	ClientAssertionJWTValid(ctx context.Context, jti string) error
	// SetClientAssertionJWT records jti until exp. It returns
	// fosite.ErrJTIKnown when jti was recorded concurrently.
	SetClientAssertionJWT(ctx context.Context, jti string, exp time.Time) error
}

type cachedClient struct {
	client   *storage.Client
	loadedAt time.Time
}

// Registry resolves clients through a short-lived cache and authenticates them.
type Registry struct {
	store        storage.ClientStorage
	ledger       AssertionLedger
	keys         *KeyResolver
	metrics      *telemetry.Metrics
	audiences    []string
	replayWindow time.Duration
	cacheTTL     time.Duration
	signedAuth   bool
	now          func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedClient
}

// Option configures a Registry.
type Option func(*Registry)

// WithKeyResolver sets the resolver used for jwks_uri clients.
func WithKeyResolver(keys *KeyResolver) Option {
	return func(r *Registry) { r.keys = keys }
}

// WithMetrics records authentication failures on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithAssertionAudiences sets the values accepted in the aud claim of client
// assertions, typically the issuer and the token endpoint URL.
func WithAssertionAudiences(aud ...string) Option {
	return func(r *Registry) { r.audiences = aud }
}

// WithReplayWindow overrides DefaultReplayWindow.
func WithReplayWindow(d time.Duration) Option {
	return func(r *Registry) { r.replayWindow = d }
}

// WithCacheTTL overrides DefaultCacheTTL. Zero disables caching.
func WithCacheTTL(d time.Duration) Option {
	return func(r *Registry) { r.cacheTTL = d }
}

// WithoutSignedAuthentication disables private_key_jwt.
func WithoutSignedAuthentication() Option {
	return func(r *Registry) { r.signedAuth = false }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a Registry over store. ledger remembers assertion jti values.
func NewRegistry(store storage.ClientStorage, ledger AssertionLedger, opts ...Option) *Registry {
	r := &Registry{
		store:        store,
		ledger:       ledger,
		replayWindow: DefaultReplayWindow,
		cacheTTL:     DefaultCacheTTL,
		signedAuth:   true,
		now:          time.Now,
		cache:        map[string]cachedClient{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if !r.signedAuth {
		slog.Warn("signed client authentication is disabled")
	}
	return r
}

// Get returns a copy of the client. Unknown clients return storage.ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*storage.Client, error) {
	now := r.now()
	r.mu.RLock()
	entry, ok := r.cache[id]
	r.mu.RUnlock()
	if ok && now.Sub(entry.loadedAt) < r.cacheTTL {
		return entry.client.Clone(), nil
	}

	client, err := r.store.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.cacheTTL > 0 {
		r.mu.Lock()
		r.cache[id] = cachedClient{client: client.Clone(), loadedAt: now}
		r.mu.Unlock()
	}
	return client, nil
}

// Invalidate drops id from the cache and forgets its remote key set.
func (r *Registry) Invalidate(ctx context.Context, id string) {
	r.mu.Lock()
	entry, ok := r.cache[id]
	delete(r.cache, id)
	r.mu.Unlock()
	if ok {
		r.keys.Forget(ctx, entry.client.JWKSURI)
	}
}

// AssertionAudiences returns the audience values accepted in client assertions.
func (r *Registry) AssertionAudiences() []string {
	return slices.Clone(r.audiences)
}

// SignedAuthenticationEnabled reports whether private_key_jwt is available.
func (r *Registry) SignedAuthenticationEnabled() bool {
	return r.signedAuth
}

// Authenticate resolves the client named by creds and verifies the
// credential. Every failure yields the same invalid_client error.
func (r *Registry) Authenticate(ctx context.Context, creds Credentials) (*storage.Client, error) {
	client, err := r.Get(ctx, creds.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if creds.Secret != "" {
				_ = bcrypt.CompareHashAndPassword(dummySecretHash(), []byte(creds.Secret))
			}
			return nil, r.fail(creds, err)
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	switch creds.Method {
	case storage.AuthMethodClientSecretBasic, storage.AuthMethodClientSecretPost:
		if client.IsPublic() || client.SecretHash == "" {
			return nil, r.fail(creds, errors.New("client has no secret"))
		}
		if client.TokenEndpointAuthMethod != creds.Method {
			return nil, r.fail(creds, fmt.Errorf("client is registered for %s", client.TokenEndpointAuthMethod))
		}
		if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(creds.Secret)); err != nil {
			return nil, r.fail(creds, err)
		}
	case storage.AuthMethodPrivateKeyJWT:
		if !r.signedAuth {
			return nil, r.fail(creds, errors.New("signed client authentication is disabled"))
		}
		if client.TokenEndpointAuthMethod != storage.AuthMethodPrivateKeyJWT {
			return nil, r.fail(creds, errors.New("client is not registered for private_key_jwt"))
		}
		if err := r.verifyAssertion(ctx, client, creds.Assertion); err != nil {
			return nil, r.fail(creds, err)
		}
	case storage.AuthMethodNone:
		if !client.IsPublic() {
			return nil, r.fail(creds, errors.New("confidential client presented no credential"))
		}
	default:
		return nil, r.fail(creds, fmt.Errorf("unsupported method %q", creds.Method))
	}
	return client, nil
}

func (r *Registry) fail(creds Credentials, cause error) error {
	r.metrics.ClientAuthFailed(string(creds.Method))
	slog.Debug("client authentication failed",
		"client_id", creds.ClientID,
		"method", creds.Method,
		"error", cause,
	)
	return fosite.ErrInvalidClient.WithHint("Client authentication failed.").WithWrap(cause)
}

func (r *Registry) verifyAssertion(ctx context.Context, client *storage.Client, assertion string) error {
	var claims jwt.RegisteredClaims
	_, err := r.VerifyClientJWT(ctx, client, assertion, &claims,
		jwt.WithIssuer(client.ID),
		jwt.WithSubject(client.ID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(claims.Audience, func(a string) bool { return slices.Contains(r.audiences, a) }) {
		return errors.New("assertion audience does not name this server")
	}
	return r.MarkAssertionUsed(ctx, "client_assertion", client.ID, claims.ID, claims.ExpiresAt.Time)
}

// VerifyClientJWT parses token and verifies its signature against the
// client's registered keys. Only asymmetric algorithms are accepted.
func (r *Registry) VerifyClientJWT(
	ctx context.Context, client *storage.Client, token string, claims jwt.Claims, opts ...jwt.ParserOption,
) (*jwt.Token, error) {
	parserOpts := append([]jwt.ParserOption{
		jwt.WithValidMethods(AsymmetricMethods),
		jwt.WithLeeway(DefaultLeeway),
		jwt.WithTimeFunc(r.now),
	}, opts...)

	parsed, err := jwt.ParseWithClaims(token, claims, r.keys.Keyfunc(ctx, client), parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to verify client JWT: %w", err)
	}
	return parsed, nil
}

// MarkAssertionUsed records the jti of an assertion until it expires. The
// assertion must carry a jti and expire within the replay window.
func (r *Registry) MarkAssertionUsed(ctx context.Context, kind, issuer, jti string, exp time.Time) error {
	if jti == "" {
		return errors.New("assertion has no jti")
	}
	if exp.Sub(r.now()) > r.replayWindow {
		return fmt.Errorf("assertion lifetime exceeds %s", r.replayWindow)
	}
	key := kind + ":" + issuer + ":" + jti
	if err := r.ledger.ClientAssertionJWTValid(ctx, key); err != nil {
		if errors.Is(err, fosite.ErrJTIKnown) {
			return errors.New("assertion was already used")
		}
		return err
	}
	if err := r.ledger.SetClientAssertionJWT(ctx, key, exp); err != nil {
		if errors.Is(err, fosite.ErrJTIKnown) {
			return errors.New("assertion was already used")
		}
		return err
	}
	return nil
}
