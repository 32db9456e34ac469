// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/stacklok/toolhive-idp/pkg/authserver/events"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/authorize"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/clients"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/consent"
	servercrypto "github.com/stacklok/toolhive-idp/pkg/authserver/server/crypto"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/grants"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/handlers"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/introspect"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/keys"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/provider"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/registration"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/session"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/telemetry"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/tokens"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

const (
	testRedirect = "https://app.example.com/cb"
	testSecret   = "web-secret"
	testPassword = "correct horse"
)

type fixture struct {
	server       *httptest.Server
	issuer       string
	store        *storage.MemoryStorage
	registration *registration.Service
	metrics      *telemetry.Metrics
}

type fixtureOptions struct {
	handlerConfig handlers.Config
	resolver      session.Resolver
	health        func(context.Context) error
}

type fixtureOption func(*fixtureOptions)

func withRateLimit(limit rate.Limit, burst int) fixtureOption {
	return func(o *fixtureOptions) {
		o.handlerConfig.TokenRateLimit = limit
		o.handlerConfig.TokenRateBurst = burst
	}
}

func withResolver(r session.Resolver) fixtureOption {
	return func(o *fixtureOptions) { o.resolver = r }
}

func withHealth(fn func(context.Context) error) fixtureOption {
	return func(o *fixtureOptions) { o.health = fn }
}

// newFixture serves the full handler stack over an in-memory store.
func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	ctx := context.Background()

	var o fixtureOptions
	for _, opt := range opts {
		opt(&o)
	}

	var routes http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		routes.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	issuer := srv.URL

	store := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = store.Close() })
	seed(t, store)

	metrics := telemetry.NewMetrics()
	registry := clients.NewRegistry(store, clients.NewReplayLedger(store),
		clients.WithAssertionAudiences(issuer, issuer+handlers.TokenPath),
		clients.WithMetrics(metrics),
	)
	tracker := consent.NewTracker(store, store, events.NoopPublisher{})
	km, err := keys.NewManager(ctx, keys.NewGeneratingProvider("ES256"))
	require.NoError(t, err)
	providerCfg, err := provider.NewConfig(&provider.Params{
		Issuer:               issuer,
		TokenURL:             issuer + handlers.TokenPath,
		HMACSecrets:          servercrypto.NewHMACSecrets([]byte(strings.Repeat("h", servercrypto.MinSecretLength))),
		ClientAuthentication: registry.AuthenticateRequest,
	})
	require.NoError(t, err)
	strategy := provider.NewStrategy(providerCfg)
	oauth2Provider := provider.New(providerCfg,
		provider.NewStore(store, store, clients.NewReplayLedger(store), events.NoopPublisher{}), strategy)
	issuerSvc := tokens.NewIssuer(issuer, strategy, km, tokens.DefaultLifespanPolicy())

	deps := &grants.Dependencies{
		Clients:   registry,
		Issuer:    issuerSvc,
		Consent:   tracker,
		Codes:     store,
		Tokens:    store,
		Subjects:  store,
		Publisher: events.NoopPublisher{},
	}
	grantRegistry, err := grants.NewRegistry(grants.DefaultGrants(deps)...)
	require.NoError(t, err)
	reg := registration.NewService(issuer, store, registry, km, events.NoopPublisher{},
		registration.WithEndpoint(issuer+handlers.RegistrationPath),
		registration.WithAllowedScopes("openid", "profile", "email"),
	)

	cfg := o.handlerConfig
	cfg.Issuer = issuer
	cfg.ScopesSupported = []string{"openid", "profile", "email", "offline_access"}
	h := handlers.NewHandler(cfg, handlers.Dependencies{
		Validator:    authorize.NewValidator(issuer, registry, tracker, store),
		Engine:       grants.NewEngine(grantRegistry, deps, metrics),
		Clients:      registry,
		Consent:      tracker,
		Sessions:     session.NewManager(store, store, session.WithInsecureCookies()),
		Introspect:   introspect.NewService(issuer, oauth2Provider, store),
		Registration: reg,
		Keys:         km,
		Metrics:      metrics,
		Resolver:     o.resolver,
		Health:       o.health,
	})
	routes = h.Routes()

	return &fixture{server: srv, issuer: issuer, store: store, registration: reg, metrics: metrics}
}

func seed(t *testing.T, store *storage.MemoryStorage) {
	t.Helper()
	ctx := context.Background()
	secretHash, err := bcrypt.GenerateFromPassword([]byte(testSecret), bcrypt.MinCost)
	require.NoError(t, err)
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	for _, c := range []*storage.Client{
		{
			ID:                      "web",
			Name:                    "Web App",
			SecretHash:              string(secretHash),
			TokenEndpointAuthMethod: storage.AuthMethodClientSecretBasic,
			GrantTypes:              []string{tokens.GrantAuthorizationCode, tokens.GrantRefreshToken},
			ResponseTypes:           []string{"code"},
			RedirectURIs:            []string{testRedirect},
			Scopes:                  []string{"openid", "profile", "email", "offline_access"},
		},
		{
			ID:                      "trusted",
			SecretHash:              string(secretHash),
			TokenEndpointAuthMethod: storage.AuthMethodClientSecretBasic,
			GrantTypes:              []string{tokens.GrantAuthorizationCode, tokens.GrantImplicit},
			ResponseTypes:           authorize.SupportedResponseTypes,
			RedirectURIs:            []string{testRedirect},
			Scopes:                  []string{"openid", "profile"},
			Trusted:                 true,
		},
		{
			ID:                      "machine",
			SecretHash:              string(secretHash),
			TokenEndpointAuthMethod: storage.AuthMethodClientSecretBasic,
			GrantTypes:              []string{tokens.GrantClientCredentials},
			Scopes:                  []string{"api:read"},
			DefaultScopes:           []string{"api:read"},
		},
	} {
		require.NoError(t, store.CreateClient(ctx, c))
	}
	require.NoError(t, store.CreateSubject(ctx, &storage.Subject{
		ID: "u-alice", Username: "alice", DisplayName: "Alice Liddell",
		Email: "alice@example.com", EmailVerified: true, PasswordHash: string(passwordHash),
	}))
}

// browser returns a client that keeps cookies and does not follow redirects.
func (f *fixture) browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (f *fixture) url(path string, params url.Values) string {
	if params == nil {
		return f.issuer + path
	}
	return f.issuer + path + "?" + params.Encode()
}

func get(t *testing.T, c *http.Client, target string) *http.Response {
	t.Helper()
	resp, err := c.Get(target)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func postForm(t *testing.T, c *http.Client, target string, form url.Values, basicUser string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basicUser != "" {
		req.SetBasicAuth(basicUser, testSecret)
	}
	resp, err := c.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// location parses the Location header of a redirect.
func location(t *testing.T, resp *http.Response) *url.URL {
	t.Helper()
	require.Contains(t, []int{http.StatusFound, http.StatusSeeOther}, resp.StatusCode)
	u, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return u
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}
