// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	servercrypto "github.com/stacklok/toolhive-idp/pkg/authserver/server/crypto"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/keys"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/registration"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/tokens"
)

func TestValidateIssuer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		issuer  string
		wantErr string
	}{
		{name: "https", issuer: "https://idp.example.com"},
		{name: "https with path", issuer: "https://example.com/idp"},
		{name: "http localhost", issuer: "http://localhost:8080"},
		{name: "http loopback v4", issuer: "http://127.0.0.1:8080"},
		{name: "http loopback v6", issuer: "http://[::1]:8080"},
		{name: "empty", issuer: "", wantErr: "issuer is required"},
		{name: "http remote", issuer: "http://idp.example.com", wantErr: "must use https"},
		{name: "query", issuer: "https://idp.example.com?x=1", wantErr: "query or fragment"},
		{name: "fragment", issuer: "https://idp.example.com#f", wantErr: "query or fragment"},
		{name: "other scheme", issuer: "ftp://idp.example.com", wantErr: "not supported"},
		{name: "no host", issuer: "https://", wantErr: "must have a host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := validateIssuer(tt.issuer)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func validConfig() Config {
	return Config{
		Issuer:      "https://idp.example.com",
		KeyProvider: keys.NewGeneratingProvider(keys.DefaultAlgorithm),
		HMACSecrets: &servercrypto.HMACSecrets{Current: bytes.Repeat([]byte("k"), servercrypto.MinSecretLength)},
		Lifespans:   tokens.DefaultLifespanPolicy(),
		Clients: []registration.Config{
			{ID: "web", Secret: "web-secret", RedirectURIs: []string{"https://app.example.com/cb"}},
			{ID: "spa", Public: true, RedirectURIs: []string{"http://localhost:3000/cb"}},
		},
		Subjects: []SubjectConfig{{ID: "u1", Username: "alice"}},
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "short HMAC secret",
			mutate:  func(c *Config) { c.HMACSecrets = &servercrypto.HMACSecrets{Current: []byte("short")} },
			wantErr: "HMAC secret must be at least",
		},
		{
			name: "short rotated HMAC secret",
			mutate: func(c *Config) {
				c.HMACSecrets = servercrypto.NewHMACSecrets(bytes.Repeat([]byte("k"), servercrypto.MinSecretLength), []byte("old"))
			},
			wantErr: "rotated HMAC secret [0] must be at least",
		},
		{
			name:    "invalid lifespans",
			mutate:  func(c *Config) { c.Lifespans = tokens.LifespanPolicy{} },
			wantErr: "token lifespans",
		},
		{
			name:    "client without id",
			mutate:  func(c *Config) { c.Clients = append(c.Clients, registration.Config{Public: true}) },
			wantErr: "id is required",
		},
		{
			name: "duplicate client",
			mutate: func(c *Config) {
				c.Clients = append(c.Clients, registration.Config{ID: "web", Public: true})
			},
			wantErr: "defined more than once",
		},
		{
			name: "confidential without credentials",
			mutate: func(c *Config) {
				c.Clients = append(c.Clients, registration.Config{ID: "svc"})
			},
			wantErr: "need a secret or keys",
		},
		{
			name: "confidential with jwks uri",
			mutate: func(c *Config) {
				c.Clients = append(c.Clients, registration.Config{ID: "svc", JWKSURI: "https://svc.example.com/jwks"})
			},
		},
		{
			name:    "subject without username",
			mutate:  func(c *Config) { c.Subjects = append(c.Subjects, SubjectConfig{ID: "u2"}) },
			wantErr: "id and username are required",
		},
		{
			name:    "duplicate username",
			mutate:  func(c *Config) { c.Subjects = append(c.Subjects, SubjectConfig{ID: "u2", Username: "alice"}) },
			wantErr: `username "alice"`,
		},
		{
			name:    "negative rate",
			mutate:  func(c *Config) { c.TokenRateLimit = -1 },
			wantErr: "must not be negative",
		},
		{
			name:    "relative login URL",
			mutate:  func(c *Config) { c.Interaction.LoginURL = "/login" },
			wantErr: "must be absolute",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfigApplyDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Issuer:       "https://idp.example.com/",
		Lifespans:    tokens.LifespanPolicy{AuthorizationCode: time.Minute},
		Registration: &RegistrationConfig{},
	}
	cfg.applyDefaults()

	assert.Equal(t, "https://idp.example.com", cfg.Issuer)
	assert.IsType(t, &keys.GeneratingProvider{}, cfg.KeyProvider)
	assert.Equal(t, time.Minute, cfg.Lifespans.AuthorizationCode)
	assert.Positive(t, cfg.Lifespans.IDToken)
	assert.Equal(t, DefaultScopesSupported, cfg.ScopesSupported)
	assert.Equal(t, DefaultScopesSupported, cfg.Registration.AllowedScopes)
	assert.NotNil(t, cfg.Publisher)
	require.NoError(t, cfg.Validate())
}

func TestRunConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     RunConfig
		wantErr string
	}{
		{name: "minimal", cfg: RunConfig{Issuer: "https://idp.example.com"}},
		{name: "no issuer", cfg: RunConfig{}, wantErr: "issuer is required"},
		{
			name:    "client without id",
			cfg:     RunConfig{Issuer: "https://idp.example.com", Clients: []ClientRunConfig{{Name: "x"}}},
			wantErr: "id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
