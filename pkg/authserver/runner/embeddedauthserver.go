// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package runner resolves a serializable authserver.RunConfig into a running
// authorization server.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/stacklok/toolhive-idp/pkg/authserver"
	"github.com/stacklok/toolhive-idp/pkg/authserver/events"
	servercrypto "github.com/stacklok/toolhive-idp/pkg/authserver/server/crypto"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/keys"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/registration"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/tokens"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
	"github.com/stacklok/toolhive-idp/pkg/logger"
)

// Redis ACL credential environment variable names used when the Redis
// configuration does not name its own.
const (
	// RedisUsernameEnvVar is the default environment variable for the Redis ACL username.
	// #nosec G101 -- This is an environment variable name, not a hardcoded credential
	RedisUsernameEnvVar = "TOOLHIVE_IDP_REDIS_USERNAME"

	// RedisPasswordEnvVar is the default environment variable for the Redis ACL password.
	// #nosec G101 -- This is an environment variable name, not a hardcoded credential
	RedisPasswordEnvVar = "TOOLHIVE_IDP_REDIS_PASSWORD"
)

// EmbeddedAuthServer wraps the authorization server built from a RunConfig.
// It handles configuration transformation from authserver.RunConfig to
// authserver.Config and manages resource lifecycle.
type EmbeddedAuthServer struct {
	server authserver.Server
}

// NewEmbeddedAuthServer creates an EmbeddedAuthServer from authserver.RunConfig.
// It loads signing keys and HMAC secrets from files, resolves client secrets
// from files or environment variables, connects the storage backend and
// initializes all auth server components.
func NewEmbeddedAuthServer(ctx context.Context, cfg *authserver.RunConfig) (*EmbeddedAuthServer, error) {
	resolved, err := BuildConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Create storage backend based on configuration
	stor, err := createStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	resolved.Publisher = createPublisher(cfg.Events, stor)

	server, err := authserver.New(ctx, *resolved, stor)
	if err != nil {
		_ = stor.Close()
		return nil, fmt.Errorf("failed to create auth server: %w", err)
	}

	return &EmbeddedAuthServer{server: server}, nil
}

// BuildConfig resolves every file and environment variable reference of cfg
// into an authserver.Config. It does not touch the storage backend.
func BuildConfig(cfg *authserver.RunConfig) (*authserver.Config, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}

	// 1. Create key provider from RunConfig.SigningKeyConfig
	keyProvider, err := createKeyProvider(cfg.SigningKeyConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create key provider: %w", err)
	}

	// 2. Load HMAC secrets from files
	hmacSecrets, err := servercrypto.LoadHMACSecrets(cfg.HMACSecretFiles)
	if err != nil {
		return nil, fmt.Errorf("failed to load HMAC secrets: %w", err)
	}

	// 3. Parse token lifespans
	lifespans, err := parseTokenLifespans(cfg.TokenLifespans)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token lifespans: %w", err)
	}

	// 4. Resolve clients and subjects
	clients, err := buildClientConfigs(cfg.Clients)
	if err != nil {
		return nil, err
	}
	subjects := make([]authserver.SubjectConfig, 0, len(cfg.Subjects))
	for _, s := range cfg.Subjects {
		subjects = append(subjects, authserver.SubjectConfig{
			ID:            s.ID,
			Username:      s.Username,
			DisplayName:   s.DisplayName,
			Email:         s.Email,
			EmailVerified: s.EmailVerified,
			PasswordHash:  s.PasswordHash,
		})
	}

	// 5. Build the resolved Config
	resolved := &authserver.Config{
		Issuer:          cfg.Issuer,
		KeyProvider:     keyProvider,
		HMACSecrets:     hmacSecrets,
		Lifespans:       lifespans,
		Clients:         clients,
		Subjects:        subjects,
		ScopesSupported: cfg.ScopesSupported,
	}

	if rc := cfg.Registration; rc != nil {
		ttl, err := parseDuration("management token TTL", rc.ManagementTokenTTL)
		if err != nil {
			return nil, err
		}
		resolved.Registration = &authserver.RegistrationConfig{
			Open:               rc.Open,
			AllowedScopes:      rc.AllowedScopes,
			ManagementTokenTTL: ttl,
		}
	}

	if ic := cfg.Interaction; ic != nil {
		ttl, err := parseDuration("session TTL", ic.SessionTTL)
		if err != nil {
			return nil, err
		}
		resolved.Interaction = authserver.InteractionConfig{
			LoginURL:        ic.LoginURL,
			ConsentURL:      ic.ConsentURL,
			RegistrationURL: ic.RegistrationURL,
			SessionTTL:      ttl,
			InsecureCookies: ic.InsecureCookies,
		}
	}

	if rl := cfg.RateLimit; rl != nil {
		resolved.TokenRateLimit = rate.Limit(rl.TokenRequestsPerSecond)
		resolved.TokenRateBurst = rl.TokenBurst
	}

	return resolved, nil
}

// Handler returns the HTTP handler for all authorization server endpoints.
func (e *EmbeddedAuthServer) Handler() http.Handler {
	return e.server.Handler()
}

// Server returns the underlying authorization server.
func (e *EmbeddedAuthServer) Server() authserver.Server {
	return e.server
}

// Close releases resources held by the EmbeddedAuthServer.
// This method is idempotent.
func (e *EmbeddedAuthServer) Close() error {
	return e.server.Close()
}

// createKeyProvider creates a KeyProvider from SigningKeyRunConfig.
// Returns a GeneratingProvider if config is nil or names no key directory (development mode).
func createKeyProvider(cfg *authserver.SigningKeyRunConfig) (keys.KeyProvider, error) {
	if cfg == nil {
		// Development mode: use ephemeral key
		return keys.NewGeneratingProvider(keys.DefaultAlgorithm), nil
	}

	return keys.NewProviderFromConfig(keys.Config{
		KeyDir:             cfg.KeyDir,
		SigningKeyFiles:    cfg.SigningKeyFiles,
		FallbackKeyFiles:   cfg.FallbackKeyFiles,
		GenerateAlgorithms: cfg.GenerateAlgorithms,
		Disabled:           cfg.Disabled,
	})
}

// parseTokenLifespans parses duration strings from TokenLifespanRunConfig.
// Unset durations stay zero and keep their defaults.
func parseTokenLifespans(cfg *authserver.TokenLifespanRunConfig) (tokens.LifespanPolicy, error) {
	var policy tokens.LifespanPolicy
	if cfg == nil {
		return policy, nil
	}

	var err error
	if policy.AuthorizationCode, err = parseDuration("auth code lifespan", cfg.AuthCodeLifespan); err != nil {
		return policy, err
	}
	if policy.IDToken, err = parseDuration("ID token lifespan", cfg.IDTokenLifespan); err != nil {
		return policy, err
	}

	if len(cfg.Grants) > 0 {
		policy.Grants = make(map[string]tokens.Lifespan, len(cfg.Grants))
	}
	for grant, gc := range cfg.Grants {
		access, err := parseDuration(grant+" access token lifespan", gc.AccessTokenLifespan)
		if err != nil {
			return policy, err
		}
		refresh, err := parseDuration(grant+" refresh token lifespan", gc.RefreshTokenLifespan)
		if err != nil {
			return policy, err
		}
		policy.Grants[grant] = tokens.Lifespan{Access: access, Refresh: refresh}
	}
	return policy, nil
}

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", name)
	}
	return d, nil
}

// buildClientConfigs resolves client secrets and converts the client definitions.
func buildClientConfigs(runConfigs []authserver.ClientRunConfig) ([]registration.Config, error) {
	configs := make([]registration.Config, 0, len(runConfigs))
	for _, rc := range runConfigs {
		secret, err := resolveSecret(rc.SecretFile, rc.SecretEnvVar)
		if err != nil {
			return nil, fmt.Errorf("client %q: %w", rc.ID, err)
		}
		configs = append(configs, registration.Config{
			ID:                       rc.ID,
			Name:                     rc.Name,
			Secret:                   secret,
			AuthMethod:               storage.TokenEndpointAuthMethod(rc.TokenEndpointAuthMethod),
			Public:                   rc.Public,
			RedirectURIs:             rc.RedirectURIs,
			GrantTypes:               rc.GrantTypes,
			ResponseTypes:            rc.ResponseTypes,
			Scopes:                   rc.Scopes,
			DefaultScopes:            rc.DefaultScopes,
			Audience:                 rc.Audience,
			Trusted:                  rc.Trusted,
			Preconsented:             rc.Preconsented,
			JWKSURI:                  rc.JWKSURI,
			IDTokenSignedResponseAlg: rc.IDTokenSignedResponseAlg,
		})
	}
	return configs, nil
}

// resolveSecret reads a secret from file or environment variable.
// File takes precedence over env var. Returns an error if file is specified but
// unreadable, or if envVar is specified but not set. Returns empty string with
// no error if neither file nor envVar is specified.
func resolveSecret(file, envVar string) (string, error) {
	if file != "" {
		// #nosec G304 - file path is from configuration, not user input
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read secret file %q: %w", file, err)
		}
		return string(bytes.TrimSpace(data)), nil
	}
	if envVar != "" {
		value := os.Getenv(envVar)
		if value == "" {
			return "", fmt.Errorf("environment variable %q is not set", envVar)
		}
		return value, nil
	}
	slog.Debug("no client secret configured (neither file nor env var specified)")
	return "", nil
}

// createStorage creates the appropriate storage backend based on configuration.
func createStorage(ctx context.Context, cfg *storage.RunConfig) (storage.Storage, error) {
	if cfg == nil {
		return storage.NewMemoryStorage(), nil
	}
	switch storage.Type(cfg.Type) {
	case "", storage.TypeMemory:
		return storage.NewMemoryStorage(), nil
	case storage.TypeRedis:
		redisCfg, err := convertRedisRunConfig(cfg.RedisConfig)
		if err != nil {
			return nil, fmt.Errorf("invalid Redis config: %w", err)
		}
		return storage.NewRedisStorage(ctx, *redisCfg)
	case storage.TypeSQLite:
		if cfg.SQLiteConfig == nil || cfg.SQLiteConfig.Path == "" {
			return nil, errors.New("sqlite path is required when storage type is sqlite")
		}
		return storage.NewSQLiteStorage(ctx, cfg.SQLiteConfig.Path)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// convertRedisRunConfig converts a serializable RedisRunConfig to the runtime RedisConfig.
// It resolves credentials from environment variables and parses duration strings.
func convertRedisRunConfig(rc *storage.RedisRunConfig) (*storage.RedisConfig, error) {
	if rc == nil {
		return nil, errors.New("redis config is required when storage type is redis")
	}

	cfg := &storage.RedisConfig{
		Addr:      rc.Addr,
		KeyPrefix: rc.KeyPrefix,
	}

	switch {
	case rc.Addr != "" && rc.SentinelConfig != nil:
		return nil, errors.New("addr and sentinel config are mutually exclusive")
	case rc.SentinelConfig != nil:
		cfg.SentinelConfig = &storage.SentinelConfig{
			MasterName:    rc.SentinelConfig.MasterName,
			SentinelAddrs: rc.SentinelConfig.SentinelAddrs,
			DB:            rc.SentinelConfig.DB,
		}
		if rc.ACLUserConfig == nil {
			return nil, errors.New("ACL user config is required with sentinel")
		}
	case rc.Addr == "":
		return nil, errors.New("either addr or sentinel config is required")
	}

	// Resolve ACL credentials from environment variables
	if rc.ACLUserConfig != nil {
		usernameVar := orDefault(rc.ACLUserConfig.UsernameEnvVar, RedisUsernameEnvVar)
		passwordVar := orDefault(rc.ACLUserConfig.PasswordEnvVar, RedisPasswordEnvVar)
		username, err := resolveEnvVar(usernameVar)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve Redis username: %w", err)
		}
		password, err := resolveEnvVar(passwordVar)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve Redis password: %w", err)
		}
		cfg.ACLUserConfig = &storage.ACLUserConfig{
			Username: username,
			Password: password,
		}
	}

	// Parse optional timeouts
	var err error
	if cfg.DialTimeout, err = parseDuration("dial timeout", rc.DialTimeout); err != nil {
		return nil, err
	}
	if cfg.ReadTimeout, err = parseDuration("read timeout", rc.ReadTimeout); err != nil {
		return nil, err
	}
	if cfg.WriteTimeout, err = parseDuration("write timeout", rc.WriteTimeout); err != nil {
		return nil, err
	}

	return cfg, nil
}

// createPublisher builds the event publisher: a log publisher unless disabled,
// plus a Redis pub/sub publisher when a channel is configured.
func createPublisher(cfg *authserver.EventsRunConfig, stor storage.Storage) events.Publisher {
	var publishers events.Multi
	if cfg == nil || !cfg.DisableLog {
		publishers = append(publishers, events.NewLogPublisher(logger.Get()))
	}
	if cfg != nil && cfg.RedisChannel != "" {
		if rs, ok := stor.(*storage.RedisStorage); ok {
			publishers = append(publishers, events.NewRedisPublisher(rs.Client(), cfg.RedisChannel))
		}
	}
	switch len(publishers) {
	case 0:
		return events.NoopPublisher{}
	case 1:
		return publishers[0]
	default:
		return publishers
	}
}

// resolveEnvVar reads a value from the named environment variable.
func resolveEnvVar(envVar string) (string, error) {
	if envVar == "" {
		return "", errors.New("environment variable name is empty")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %q is not set", envVar)
	}
	return value, nil
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
