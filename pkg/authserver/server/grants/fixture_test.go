// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package grants_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/ory/fosite"
	"github.com/ory/fosite/compose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/toolhive-idp/pkg/authserver/events"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/authorize"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/clients"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/consent"
	servercrypto "github.com/stacklok/toolhive-idp/pkg/authserver/server/crypto"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/grants"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/keys"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/session"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/telemetry"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/tokens"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

const (
	testIssuer   = "https://idp.example.com"
	testRedirect = "https://app.example.com/cb"
	testSecret   = "s3cret"
	testPassword = "correct horse"
	signerKeyID  = "signer-key"
)

type fixture struct {
	engine  *grants.Engine
	store   *storage.MemoryStorage
	issuer  *tokens.Issuer
	tracker *consent.Tracker
	metrics *telemetry.Metrics
	signer  *ecdsa.PrivateKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = store.Close() })

	secretHash, err := bcrypt.GenerateFromPassword([]byte(testSecret), bcrypt.MinCost)
	require.NoError(t, err)
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pub, err := jwk.Import(&signer.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, signerKeyID))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))
	rawSet, err := json.Marshal(set)
	require.NoError(t, err)

	allGrants := []string{
		tokens.GrantAuthorizationCode, tokens.GrantRefreshToken, tokens.GrantPassword,
		tokens.GrantClientCredentials, tokens.GrantImplicit,
	}
	for _, c := range []*storage.Client{
		{
			ID:                      "web",
			SecretHash:              string(secretHash),
			TokenEndpointAuthMethod: storage.AuthMethodClientSecretBasic,
			GrantTypes:              allGrants,
			ResponseTypes:           authorize.SupportedResponseTypes,
			RedirectURIs:            []string{testRedirect},
			Scopes:                  []string{"openid", "profile", "email", "api:read"},
			DefaultScopes:           []string{"openid"},
			Audience:                []string{"api"},
		},
		{
			ID:                      "other",
			SecretHash:              string(secretHash),
			TokenEndpointAuthMethod: storage.AuthMethodClientSecretPost,
			GrantTypes:              []string{tokens.GrantAuthorizationCode, tokens.GrantRefreshToken},
			RedirectURIs:            []string{testRedirect},
			Scopes:                  []string{"openid"},
		},
		{
			ID:                      "spa",
			TokenEndpointAuthMethod: storage.AuthMethodNone,
			GrantTypes:              []string{tokens.GrantAuthorizationCode},
			ResponseTypes:           []string{"code"},
			RedirectURIs:            []string{testRedirect},
			Scopes:                  []string{"openid", "profile"},
		},
		{
			ID:                      "signer",
			TokenEndpointAuthMethod: storage.AuthMethodPrivateKeyJWT,
			GrantTypes:              []string{tokens.GrantJWTBearer},
			Scopes:                  []string{"openid", "profile", "api:read"},
			DefaultScopes:           []string{"openid", "profile", "api:read"},
			JWKS:                    string(rawSet),
		},
	} {
		require.NoError(t, store.CreateClient(ctx, c))
	}
	require.NoError(t, store.CreateSubject(ctx, &storage.Subject{
		ID: "u-alice", Username: "alice", DisplayName: "Alice", PasswordHash: string(passwordHash),
	}))
	require.NoError(t, store.CreateSubject(ctx, &storage.Subject{
		ID: "u-mallory", Username: "mallory", PasswordHash: string(passwordHash), Locked: true,
	}))

	metrics := telemetry.NewMetrics()
	registry := clients.NewRegistry(store, clients.NewReplayLedger(store),
		clients.WithAssertionAudiences(testIssuer, testIssuer+"/oauth/token"),
		clients.WithMetrics(metrics),
	)
	tracker := consent.NewTracker(store, store, events.NoopPublisher{})
	km, err := keys.NewManager(ctx, keys.NewGeneratingProvider())
	require.NoError(t, err)
	strategy := compose.NewOAuth2HMACStrategy(&fosite.Config{GlobalSecret: []byte(strings.Repeat("h", servercrypto.MinSecretLength))})
	issuer := tokens.NewIssuer(testIssuer, strategy, km, tokens.DefaultLifespanPolicy())

	deps := &grants.Dependencies{
		Clients:   registry,
		Issuer:    issuer,
		Consent:   tracker,
		Codes:     store,
		Tokens:    store,
		Subjects:  store,
		Publisher: events.NoopPublisher{},
	}
	reg, err := grants.NewRegistry(grants.DefaultGrants(deps)...)
	require.NoError(t, err)

	return &fixture{
		engine:  grants.NewEngine(reg, deps, metrics),
		store:   store,
		issuer:  issuer,
		tracker: tracker,
		metrics: metrics,
		signer:  signer,
	}
}

func tokenRequest(form url.Values, clientID, secret string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if clientID != "" {
		r.SetBasicAuth(clientID, secret)
	}
	return r
}

func (f *fixture) principal(t *testing.T, subjectID string) *session.Principal {
	t.Helper()
	subject, err := f.store.GetSubject(context.Background(), subjectID)
	require.NoError(t, err)
	return &session.Principal{Subject: subject, AuthTime: time.Now(), Factors: []string{tokens.FactorPassword}}
}

// authorizeCode runs an accepted code request for alice and returns the code.
func (f *fixture) authorizeCode(t *testing.T, clientID string, req *authorize.Request) string {
	t.Helper()
	client, err := f.store.GetClient(context.Background(), clientID)
	require.NoError(t, err)
	if req == nil {
		req = &authorize.Request{Scopes: []string{"openid", "profile"}, Nonce: "n-1"}
	}
	req.ClientID = clientID
	req.ResponseTypes = []string{"code"}
	req.RedirectURI = testRedirect

	params, err := f.engine.Authorize(context.Background(), req, client, f.principal(t, "u-alice"))
	require.NoError(t, err)
	require.NotEmpty(t, params.Get("code"))
	return params.Get("code")
}

func (f *fixture) accessRecord(t *testing.T, accessToken string) *storage.Token {
	t.Helper()
	tok, err := f.store.GetTokenByAccessSignature(context.Background(), f.issuer.AccessSignature(context.Background(), accessToken))
	require.NoError(t, err)
	return tok
}

func (f *fixture) signAssertion(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = signerKeyID
	s, err := tok.SignedString(f.signer)
	require.NoError(t, err)
	return s
}

func requireProtocolError(t *testing.T, err error, code string) {
	t.Helper()
	var rfcErr *fosite.RFC6749Error
	require.ErrorAs(t, err, &rfcErr)
	assert.Equal(t, code, rfcErr.ErrorField, "hint: %s", rfcErr.HintField)
}
