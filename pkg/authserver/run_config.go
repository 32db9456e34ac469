// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"errors"
	"fmt"

	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// RunConfig is the serializable configuration of the authorization server.
// Secrets are referenced by file path or environment variable name and are
// resolved at startup by the runner package.
type RunConfig struct {
	// Issuer is the issuer identifier.
	Issuer string `json:"issuer" yaml:"issuer"`

	// SigningKeyConfig selects the asymmetric keys. Ephemeral keys are
	// generated when it is nil.
	SigningKeyConfig *SigningKeyRunConfig `json:"signingKeys,omitempty" yaml:"signingKeys,omitempty"`

	// HMACSecretFiles lists files holding HMAC secrets. The first is current,
	// the others are rotated secrets still accepted for lookups.
	HMACSecretFiles []string `json:"hmacSecretFiles,omitempty" yaml:"hmacSecretFiles,omitempty"`

	// TokenLifespans overrides the default token lifetimes.
	TokenLifespans *TokenLifespanRunConfig `json:"tokenLifespans,omitempty" yaml:"tokenLifespans,omitempty"`

	// Storage selects the persistence backend. Defaults to memory.
	Storage *storage.RunConfig `json:"storage,omitempty" yaml:"storage,omitempty"`

	// Clients are registered at startup.
	Clients []ClientRunConfig `json:"clients,omitempty" yaml:"clients,omitempty"`

	// Subjects are created at startup.
	Subjects []SubjectRunConfig `json:"subjects,omitempty" yaml:"subjects,omitempty"`

	// ScopesSupported is advertised in discovery.
	ScopesSupported []string `json:"scopesSupported,omitempty" yaml:"scopesSupported,omitempty"`

	// Registration enables dynamic client registration when set.
	Registration *RegistrationRunConfig `json:"registration,omitempty" yaml:"registration,omitempty"`

	// Interaction configures the login and consent steps.
	Interaction *InteractionRunConfig `json:"interaction,omitempty" yaml:"interaction,omitempty"`

	// RateLimit bounds token endpoint traffic per client.
	RateLimit *RateLimitRunConfig `json:"rateLimit,omitempty" yaml:"rateLimit,omitempty"`

	// Events configures where domain events are published.
	Events *EventsRunConfig `json:"events,omitempty" yaml:"events,omitempty"`
}

// SigningKeyRunConfig configures signing keys loaded from PEM files.
type SigningKeyRunConfig struct {
	// KeyDir is the directory holding the key files.
	KeyDir string `json:"keyDir,omitempty" yaml:"keyDir,omitempty"`
	// SigningKeyFiles are used for signing, the first being the default.
	SigningKeyFiles []string `json:"signingKeyFiles,omitempty" yaml:"signingKeyFiles,omitempty"`
	// FallbackKeyFiles are published for verification only.
	FallbackKeyFiles []string `json:"fallbackKeyFiles,omitempty" yaml:"fallbackKeyFiles,omitempty"`
	// GenerateAlgorithms selects the ephemeral keys generated when KeyDir is empty.
	GenerateAlgorithms []string `json:"generateAlgorithms,omitempty" yaml:"generateAlgorithms,omitempty"`
	// Disabled runs without asymmetric keys; ID tokens are then unsecured.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// TokenLifespanRunConfig holds duration strings such as "1h" or "15m".
type TokenLifespanRunConfig struct {
	AuthCodeLifespan string `json:"authCodeLifespan,omitempty" yaml:"authCodeLifespan,omitempty"`
	IDTokenLifespan  string `json:"idTokenLifespan,omitempty" yaml:"idTokenLifespan,omitempty"`
	// Grants maps a grant type to its access and refresh token lifetimes.
	Grants map[string]GrantLifespanRunConfig `json:"grants,omitempty" yaml:"grants,omitempty"`
}

// GrantLifespanRunConfig holds the token lifetimes of one grant type.
type GrantLifespanRunConfig struct {
	AccessTokenLifespan  string `json:"accessTokenLifespan,omitempty" yaml:"accessTokenLifespan,omitempty"`
	RefreshTokenLifespan string `json:"refreshTokenLifespan,omitempty" yaml:"refreshTokenLifespan,omitempty"`
}

// ClientRunConfig defines a pre-registered client.
type ClientRunConfig struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// SecretFile takes precedence over SecretEnvVar.
	SecretFile   string `json:"secretFile,omitempty" yaml:"secretFile,omitempty"`
	SecretEnvVar string `json:"secretEnvVar,omitempty" yaml:"secretEnvVar,omitempty"`

	Public                  bool     `json:"public,omitempty" yaml:"public,omitempty"`
	TokenEndpointAuthMethod string   `json:"tokenEndpointAuthMethod,omitempty" yaml:"tokenEndpointAuthMethod,omitempty"`
	RedirectURIs            []string `json:"redirectUris,omitempty" yaml:"redirectUris,omitempty"`
	GrantTypes              []string `json:"grantTypes,omitempty" yaml:"grantTypes,omitempty"`
	ResponseTypes           []string `json:"responseTypes,omitempty" yaml:"responseTypes,omitempty"`
	Scopes                  []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	DefaultScopes           []string `json:"defaultScopes,omitempty" yaml:"defaultScopes,omitempty"`
	Audience                []string `json:"audience,omitempty" yaml:"audience,omitempty"`
	JWKSURI                 string   `json:"jwksUri,omitempty" yaml:"jwksUri,omitempty"`

	// Trusted clients skip consent and may use the jwt-bearer grant.
	Trusted bool `json:"trusted,omitempty" yaml:"trusted,omitempty"`
	// Preconsented clients skip consent.
	Preconsented bool `json:"preconsented,omitempty" yaml:"preconsented,omitempty"`

	IDTokenSignedResponseAlg string `json:"idTokenSignedResponseAlg,omitempty" yaml:"idTokenSignedResponseAlg,omitempty"`
}

// SubjectRunConfig defines an end user created at startup.
type SubjectRunConfig struct {
	ID            string `json:"id" yaml:"id"`
	Username      string `json:"username" yaml:"username"`
	DisplayName   string `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Email         string `json:"email,omitempty" yaml:"email,omitempty"`
	EmailVerified bool   `json:"emailVerified,omitempty" yaml:"emailVerified,omitempty"`
	// PasswordHash is a bcrypt hash, as printed by "thv-idp hash-password".
	PasswordHash string `json:"passwordHash,omitempty" yaml:"passwordHash,omitempty"`
}

// RegistrationRunConfig configures dynamic client registration.
type RegistrationRunConfig struct {
	Open               bool     `json:"open,omitempty" yaml:"open,omitempty"`
	AllowedScopes      []string `json:"allowedScopes,omitempty" yaml:"allowedScopes,omitempty"`
	ManagementTokenTTL string   `json:"managementTokenTtl,omitempty" yaml:"managementTokenTtl,omitempty"`
}

// InteractionRunConfig configures the interactive steps.
type InteractionRunConfig struct {
	LoginURL        string `json:"loginUrl,omitempty" yaml:"loginUrl,omitempty"`
	ConsentURL      string `json:"consentUrl,omitempty" yaml:"consentUrl,omitempty"`
	RegistrationURL string `json:"registrationUrl,omitempty" yaml:"registrationUrl,omitempty"`
	SessionTTL      string `json:"sessionTtl,omitempty" yaml:"sessionTtl,omitempty"`
	InsecureCookies bool   `json:"insecureCookies,omitempty" yaml:"insecureCookies,omitempty"`
}

// RateLimitRunConfig configures the per-client token endpoint rate limit.
type RateLimitRunConfig struct {
	TokenRequestsPerSecond float64 `json:"tokenRequestsPerSecond,omitempty" yaml:"tokenRequestsPerSecond,omitempty"`
	TokenBurst             int     `json:"tokenBurst,omitempty" yaml:"tokenBurst,omitempty"`
}

// EventsRunConfig configures event publishing.
type EventsRunConfig struct {
	// DisableLog stops logging events.
	DisableLog bool `json:"disableLog,omitempty" yaml:"disableLog,omitempty"`
	// RedisChannel publishes events on this channel when storage is Redis.
	RedisChannel string `json:"redisChannel,omitempty" yaml:"redisChannel,omitempty"`
}

// Validate performs the structural checks that do not need files or
// environment variables. Full validation happens when the config is resolved.
func (c *RunConfig) Validate() error {
	if c.Issuer == "" {
		return errors.New("issuer is required")
	}
	for i, client := range c.Clients {
		if client.ID == "" {
			return fmt.Errorf("client %d: id is required", i)
		}
		if client.Public && (client.SecretFile != "" || client.SecretEnvVar != "") {
			return fmt.Errorf("client %q: public clients cannot have a secret", client.ID)
		}
	}
	if c.Storage != nil {
		switch storage.Type(c.Storage.Type) {
		case "", storage.TypeMemory:
		case storage.TypeRedis:
			if c.Storage.RedisConfig == nil {
				return errors.New("storage: redis config is required when type is redis")
			}
		case storage.TypeSQLite:
			if c.Storage.SQLiteConfig == nil || c.Storage.SQLiteConfig.Path == "" {
				return errors.New("storage: sqlite path is required when type is sqlite")
			}
		default:
			return fmt.Errorf("storage: unsupported type %q", c.Storage.Type)
		}
	}
	if c.Events != nil && c.Events.RedisChannel != "" &&
		(c.Storage == nil || storage.Type(c.Storage.Type) != storage.TypeRedis) {
		return errors.New("events: a redis channel requires redis storage")
	}
	return nil
}
