// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-idp/pkg/authserver"
	"github.com/stacklok/toolhive-idp/pkg/authserver/events"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/keys"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/tokens"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

const testIssuer = "https://idp.example.com"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func writeECKey(t *testing.T, dir, name string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	writeFile(t, dir, name, string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})))
}

func TestCreateKeyProvider(t *testing.T) {
	t.Parallel()

	t.Run("nil config generates keys", func(t *testing.T) {
		t.Parallel()

		provider, err := createKeyProvider(nil)
		require.NoError(t, err)
		_, ok := provider.(*keys.GeneratingProvider)
		assert.True(t, ok, "expected GeneratingProvider")
	})

	t.Run("disabled returns none provider", func(t *testing.T) {
		t.Parallel()

		provider, err := createKeyProvider(&authserver.SigningKeyRunConfig{Disabled: true})
		require.NoError(t, err)
		assert.IsType(t, keys.NoneProvider{}, provider)
	})

	t.Run("key directory loads files", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeECKey(t, dir, "signing.pem")
		writeECKey(t, dir, "old.pem")

		provider, err := createKeyProvider(&authserver.SigningKeyRunConfig{
			KeyDir:           dir,
			SigningKeyFiles:  []string{"signing.pem"},
			FallbackKeyFiles: []string{"old.pem"},
		})
		require.NoError(t, err)

		signing, err := provider.SigningKeys(context.Background())
		require.NoError(t, err)
		require.Len(t, signing, 1)
		assert.Equal(t, "ES256", signing[0].Algorithm)

		public, err := provider.PublicKeys(context.Background())
		require.NoError(t, err)
		assert.Len(t, public, 2)
	})

	t.Run("missing key file", func(t *testing.T) {
		t.Parallel()

		_, err := createKeyProvider(&authserver.SigningKeyRunConfig{
			KeyDir:          t.TempDir(),
			SigningKeyFiles: []string{"missing.pem"},
		})
		require.Error(t, err)
	})
}

func TestParseTokenLifespans(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *authserver.TokenLifespanRunConfig
		want    tokens.LifespanPolicy
		wantErr string
	}{
		{
			name: "nil keeps defaults",
		},
		{
			name: "all values",
			cfg: &authserver.TokenLifespanRunConfig{
				AuthCodeLifespan: "5m",
				IDTokenLifespan:  "30m",
				Grants: map[string]authserver.GrantLifespanRunConfig{
					tokens.GrantAuthorizationCode: {AccessTokenLifespan: "15m", RefreshTokenLifespan: "720h"},
				},
			},
			want: tokens.LifespanPolicy{
				AuthorizationCode: 5 * time.Minute,
				IDToken:           30 * time.Minute,
				Grants: map[string]tokens.Lifespan{
					tokens.GrantAuthorizationCode: {Access: 15 * time.Minute, Refresh: 720 * time.Hour},
				},
			},
		},
		{
			name:    "invalid duration",
			cfg:     &authserver.TokenLifespanRunConfig{AuthCodeLifespan: "soon"},
			wantErr: "auth code lifespan",
		},
		{
			name:    "negative duration",
			cfg:     &authserver.TokenLifespanRunConfig{IDTokenLifespan: "-1m"},
			wantErr: "must not be negative",
		},
		{
			name: "invalid grant duration",
			cfg: &authserver.TokenLifespanRunConfig{
				Grants: map[string]authserver.GrantLifespanRunConfig{
					tokens.GrantClientCredentials: {AccessTokenLifespan: "1 hour"},
				},
			},
			wantErr: "client_credentials access token lifespan",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseTokenLifespans(tt.cfg)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveSecret_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "secret", "s3cret-value\n")

	got, err := resolveSecret(path, "UNUSED_ENV_VAR")
	require.NoError(t, err)
	assert.Equal(t, "s3cret-value", got)

	_, err = resolveSecret(filepath.Join(dir, "missing"), "")
	require.ErrorContains(t, err, "failed to read secret file")

	got, err = resolveSecret("", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

//nolint:paralleltest // uses t.Setenv
func TestResolveSecret_EnvVar(t *testing.T) {
	t.Setenv("TEST_IDP_CLIENT_SECRET", "from-env")

	got, err := resolveSecret("", "TEST_IDP_CLIENT_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)

	_, err = resolveSecret("", "TEST_IDP_CLIENT_SECRET_UNSET")
	require.ErrorContains(t, err, "is not set")
}

func TestBuildConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	hmacPath := writeFile(t, dir, "hmac", strings.Repeat("h", 32)+"\n")
	rotatedPath := writeFile(t, dir, "hmac-old", strings.Repeat("o", 40))
	secretPath := writeFile(t, dir, "web-secret", "web-secret-value")

	cfg := &authserver.RunConfig{
		Issuer:          testIssuer,
		HMACSecretFiles: []string{hmacPath, rotatedPath},
		TokenLifespans:  &authserver.TokenLifespanRunConfig{AuthCodeLifespan: "2m"},
		Clients: []authserver.ClientRunConfig{
			{
				ID:                      "web",
				SecretFile:              secretPath,
				TokenEndpointAuthMethod: "client_secret_post",
				RedirectURIs:            []string{"https://app.example.com/cb"},
				Trusted:                 true,
			},
			{ID: "spa", Public: true, RedirectURIs: []string{"http://localhost:3000/cb"}},
		},
		Subjects: []authserver.SubjectRunConfig{
			{ID: "u1", Username: "alice", Email: "alice@example.com", EmailVerified: true, PasswordHash: "$2a$10$x"},
		},
		ScopesSupported: []string{"openid", "profile"},
		Registration:    &authserver.RegistrationRunConfig{ManagementTokenTTL: "10m", AllowedScopes: []string{"openid"}},
		Interaction: &authserver.InteractionRunConfig{
			LoginURL:        "https://login.example.com/login",
			SessionTTL:      "8h",
			InsecureCookies: true,
		},
		RateLimit: &authserver.RateLimitRunConfig{TokenRequestsPerSecond: 2.5, TokenBurst: 5},
	}

	got, err := BuildConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, testIssuer, got.Issuer)
	_, ok := got.KeyProvider.(*keys.GeneratingProvider)
	assert.True(t, ok)

	require.NotNil(t, got.HMACSecrets)
	assert.Equal(t, []byte(strings.Repeat("h", 32)), got.HMACSecrets.Current)
	require.Len(t, got.HMACSecrets.Rotated, 1)

	assert.Equal(t, 2*time.Minute, got.Lifespans.AuthorizationCode)

	require.Len(t, got.Clients, 2)
	assert.Equal(t, "web-secret-value", got.Clients[0].Secret)
	assert.Equal(t, storage.TokenEndpointAuthMethod("client_secret_post"), got.Clients[0].AuthMethod)
	assert.True(t, got.Clients[0].Trusted)
	assert.True(t, got.Clients[1].Public)
	assert.Empty(t, got.Clients[1].Secret)

	require.Len(t, got.Subjects, 1)
	assert.Equal(t, "alice", got.Subjects[0].Username)
	assert.Equal(t, "$2a$10$x", got.Subjects[0].PasswordHash)

	require.NotNil(t, got.Registration)
	assert.Equal(t, 10*time.Minute, got.Registration.ManagementTokenTTL)
	assert.Equal(t, []string{"openid"}, got.Registration.AllowedScopes)

	assert.Equal(t, "https://login.example.com/login", got.Interaction.LoginURL)
	assert.Equal(t, 8*time.Hour, got.Interaction.SessionTTL)
	assert.True(t, got.Interaction.InsecureCookies)

	assert.InDelta(t, 2.5, float64(got.TokenRateLimit), 0.001)
	assert.Equal(t, 5, got.TokenRateBurst)
}

func TestBuildConfig_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	shortHMAC := writeFile(t, dir, "short", "too-short")

	tests := []struct {
		name    string
		cfg     *authserver.RunConfig
		wantErr string
	}{
		{name: "nil config", wantErr: "config is required"},
		{name: "missing issuer", cfg: &authserver.RunConfig{}, wantErr: "issuer is required"},
		{
			name:    "short HMAC secret",
			cfg:     &authserver.RunConfig{Issuer: testIssuer, HMACSecretFiles: []string{shortHMAC}},
			wantErr: "failed to load HMAC secrets",
		},
		{
			name: "missing client secret file",
			cfg: &authserver.RunConfig{Issuer: testIssuer, Clients: []authserver.ClientRunConfig{
				{ID: "web", SecretFile: filepath.Join(dir, "nope")},
			}},
			wantErr: `client "web"`,
		},
		{
			name: "public client with secret",
			cfg: &authserver.RunConfig{Issuer: testIssuer, Clients: []authserver.ClientRunConfig{
				{ID: "spa", Public: true, SecretEnvVar: "SPA_SECRET"},
			}},
			wantErr: "public clients cannot have a secret",
		},
		{
			name: "bad session TTL",
			cfg: &authserver.RunConfig{Issuer: testIssuer, Interaction: &authserver.InteractionRunConfig{
				SessionTTL: "forever",
			}},
			wantErr: "invalid session TTL",
		},
		{
			name: "bad management TTL",
			cfg: &authserver.RunConfig{Issuer: testIssuer, Registration: &authserver.RegistrationRunConfig{
				ManagementTokenTTL: "-5m",
			}},
			wantErr: "invalid management token TTL",
		},
		{
			name: "unsupported storage",
			cfg: &authserver.RunConfig{Issuer: testIssuer, Storage: &storage.RunConfig{
				Type: "etcd",
			}},
			wantErr: "unsupported type",
		},
		{
			name: "redis channel without redis",
			cfg: &authserver.RunConfig{Issuer: testIssuer, Events: &authserver.EventsRunConfig{
				RedisChannel: "idp-events",
			}},
			wantErr: "requires redis storage",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := BuildConfig(tt.cfg)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestCreateStorage(t *testing.T) {
	t.Parallel()

	t.Run("nil config uses memory", func(t *testing.T) {
		t.Parallel()

		stor, err := createStorage(context.Background(), nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = stor.Close() })
		assert.IsType(t, &storage.MemoryStorage{}, stor)
	})

	t.Run("memory", func(t *testing.T) {
		t.Parallel()

		stor, err := createStorage(context.Background(), &storage.RunConfig{Type: string(storage.TypeMemory)})
		require.NoError(t, err)
		t.Cleanup(func() { _ = stor.Close() })
		assert.IsType(t, &storage.MemoryStorage{}, stor)
	})

	t.Run("sqlite", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "idp.db")
		stor, err := createStorage(context.Background(), &storage.RunConfig{
			Type:         string(storage.TypeSQLite),
			SQLiteConfig: &storage.SQLiteRunConfig{Path: path},
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = stor.Close() })
		assert.IsType(t, &storage.SQLiteStorage{}, stor)
		require.NoError(t, stor.Health(context.Background()))
	})

	t.Run("sqlite without path", func(t *testing.T) {
		t.Parallel()

		_, err := createStorage(context.Background(), &storage.RunConfig{Type: string(storage.TypeSQLite)})
		require.ErrorContains(t, err, "sqlite path is required")
	})

	t.Run("redis", func(t *testing.T) {
		t.Parallel()

		mr := miniredis.RunT(t)
		stor, err := createStorage(context.Background(), &storage.RunConfig{
			Type: string(storage.TypeRedis),
			RedisConfig: &storage.RedisRunConfig{
				Addr:      mr.Addr(),
				KeyPrefix: "thv:idp:test:",
			},
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = stor.Close() })
		assert.IsType(t, &storage.RedisStorage{}, stor)
	})

	t.Run("unsupported type", func(t *testing.T) {
		t.Parallel()

		_, err := createStorage(context.Background(), &storage.RunConfig{Type: "etcd"})
		require.ErrorContains(t, err, "unsupported storage type")
	})
}

//nolint:paralleltest // uses t.Setenv
func TestConvertRedisRunConfig(t *testing.T) {
	t.Setenv(RedisUsernameEnvVar, "idp")
	t.Setenv(RedisPasswordEnvVar, "pw")
	t.Setenv("CUSTOM_REDIS_USER", "custom")

	sentinel := &storage.SentinelRunConfig{MasterName: "mymaster", SentinelAddrs: []string{"s1:26379"}}

	tests := []struct {
		name    string
		rc      *storage.RedisRunConfig
		check   func(t *testing.T, cfg *storage.RedisConfig)
		wantErr string
	}{
		{name: "nil", wantErr: "redis config is required"},
		{
			name:    "neither addr nor sentinel",
			rc:      &storage.RedisRunConfig{KeyPrefix: "p:"},
			wantErr: "either addr or sentinel",
		},
		{
			name:    "addr and sentinel",
			rc:      &storage.RedisRunConfig{Addr: "r:6379", SentinelConfig: sentinel, KeyPrefix: "p:"},
			wantErr: "mutually exclusive",
		},
		{
			name:    "sentinel without ACL",
			rc:      &storage.RedisRunConfig{SentinelConfig: sentinel, KeyPrefix: "p:"},
			wantErr: "ACL user config is required",
		},
		{
			name: "sentinel with default env vars",
			rc: &storage.RedisRunConfig{
				SentinelConfig: sentinel,
				ACLUserConfig:  &storage.ACLUserRunConfig{},
				KeyPrefix:      "p:",
				DialTimeout:    "2s",
			},
			check: func(t *testing.T, cfg *storage.RedisConfig) {
				t.Helper()
				require.NotNil(t, cfg.SentinelConfig)
				assert.Equal(t, "mymaster", cfg.SentinelConfig.MasterName)
				require.NotNil(t, cfg.ACLUserConfig)
				assert.Equal(t, "idp", cfg.ACLUserConfig.Username)
				assert.Equal(t, "pw", cfg.ACLUserConfig.Password)
				assert.Equal(t, 2*time.Second, cfg.DialTimeout)
			},
		},
		{
			name: "addr with named env var",
			rc: &storage.RedisRunConfig{
				Addr:          "r:6379",
				ACLUserConfig: &storage.ACLUserRunConfig{UsernameEnvVar: "CUSTOM_REDIS_USER"},
				KeyPrefix:     "p:",
			},
			check: func(t *testing.T, cfg *storage.RedisConfig) {
				t.Helper()
				assert.Equal(t, "r:6379", cfg.Addr)
				assert.Equal(t, "custom", cfg.ACLUserConfig.Username)
				assert.Equal(t, "pw", cfg.ACLUserConfig.Password)
			},
		},
		{
			name: "unset env var",
			rc: &storage.RedisRunConfig{
				Addr:          "r:6379",
				ACLUserConfig: &storage.ACLUserRunConfig{PasswordEnvVar: "UNSET_REDIS_PASSWORD_VAR"},
				KeyPrefix:     "p:",
			},
			wantErr: "failed to resolve Redis password",
		},
		{
			name:    "bad timeout",
			rc:      &storage.RedisRunConfig{Addr: "r:6379", KeyPrefix: "p:", ReadTimeout: "fast"},
			wantErr: "invalid read timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := convertRedisRunConfig(tt.rc)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestCreatePublisher(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = mem.Close() })

	mr := miniredis.RunT(t)
	rs, err := storage.NewRedisStorage(context.Background(), storage.RedisConfig{Addr: mr.Addr(), KeyPrefix: "p:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })

	t.Run("default logs", func(t *testing.T) {
		t.Parallel()
		assert.IsType(t, &events.LogPublisher{}, createPublisher(nil, mem))
	})

	t.Run("disabled log", func(t *testing.T) {
		t.Parallel()
		assert.IsType(t, events.NoopPublisher{}, createPublisher(&authserver.EventsRunConfig{DisableLog: true}, mem))
	})

	t.Run("redis only", func(t *testing.T) {
		t.Parallel()
		pub := createPublisher(&authserver.EventsRunConfig{DisableLog: true, RedisChannel: "events"}, rs)
		assert.IsType(t, &events.RedisPublisher{}, pub)
	})

	t.Run("log and redis", func(t *testing.T) {
		t.Parallel()
		pub := createPublisher(&authserver.EventsRunConfig{RedisChannel: "events"}, rs)
		multi, ok := pub.(events.Multi)
		require.True(t, ok)
		assert.Len(t, multi, 2)
	})
}

func TestNewEmbeddedAuthServer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	secretPath := writeFile(t, dir, "secret", "machine-secret")

	srv, err := NewEmbeddedAuthServer(context.Background(), &authserver.RunConfig{
		Issuer: testIssuer,
		Clients: []authserver.ClientRunConfig{
			{ID: "machine", SecretFile: secretPath, GrantTypes: []string{"client_credentials"}},
		},
		Events: &authserver.EventsRunConfig{DisableLog: true},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	require.NotNil(t, srv.Server())
	client, err := srv.Server().Storage().GetClient(context.Background(), "machine")
	require.NoError(t, err)
	assert.Equal(t, "machine", client.ID)
	assert.NotEmpty(t, client.SecretHash)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, testIssuer, doc["issuer"])

	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())
}

func TestNewEmbeddedAuthServer_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := NewEmbeddedAuthServer(context.Background(), &authserver.RunConfig{Issuer: "http://idp.example.com"})
	require.ErrorContains(t, err, "https")
}
