// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	servercrypto "github.com/stacklok/toolhive-idp/pkg/authserver/server/crypto"
	"github.com/stacklok/toolhive-idp/pkg/authserver/events"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/keys"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/registration"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/tokens"
	"github.com/stacklok/toolhive-idp/pkg/logger"
)

// DefaultScopesSupported is advertised in discovery when Config.ScopesSupported is empty.
var DefaultScopesSupported = []string{"openid", "profile", "email", "offline_access"}

// Config is the pure configuration for the authorization server.
// All values must be fully resolved (no file paths, no env vars).
type Config struct {
	// Issuer is the issuer identifier, an https URL without query or fragment.
	// Plain http is accepted for loopback hosts.
	Issuer string

	// KeyProvider supplies the asymmetric signing and verification keys.
	// If nil, ephemeral keys are generated.
	KeyProvider keys.KeyProvider

	// HMACSecrets sign opaque tokens and codes. Rotated secrets still
	// validate values minted before a rotation. If nil, an ephemeral secret is generated and tokens do not survive a restart.
	HMACSecrets *servercrypto.HMACSecrets

	// Lifespans overrides the default per-grant token lifetimes. Zero values
	// keep the defaults.
	Lifespans tokens.LifespanPolicy

	// Clients are pre-registered at startup. Existing records with the same
	// id are replaced.
	Clients []registration.Config

	// Subjects are created at startup unless a subject with the same id exists.
	Subjects []SubjectConfig

	// ScopesSupported is advertised in discovery.
	ScopesSupported []string

	// Registration configures dynamic client registration. Nil disables it.
	Registration *RegistrationConfig

	// Interaction configures the login, consent and registration steps.
	Interaction InteractionConfig

	// TokenRateLimit is the sustained token requests per second allowed per
	// client. Zero disables rate limiting.
	TokenRateLimit rate.Limit
	// TokenRateBurst is the burst allowed on top of TokenRateLimit.
	TokenRateBurst int

	// Publisher receives domain events. Defaults to logging them.
	Publisher events.Publisher
}

// SubjectConfig defines an end user created at startup.
type SubjectConfig struct {
	ID            string
	Username      string
	DisplayName   string
	Email         string
	EmailVerified bool
	// PasswordHash is a bcrypt hash. Subjects without one cannot log in with a password.
	PasswordHash string
}

// RegistrationConfig configures RFC 7591 dynamic client registration.
type RegistrationConfig struct {
	// Open accepts registrations without a registration assertion.
	Open bool
	// AllowedScopes bounds the scopes a registered client may ask for.
	// Defaults to ScopesSupported.
	AllowedScopes []string
	// ManagementTokenTTL is the lifetime of registration access tokens.
	ManagementTokenTTL time.Duration
}

// InteractionConfig configures where the end user is sent for interactive steps.
type InteractionConfig struct {
	// LoginURL defaults to the built-in login endpoint.
	LoginURL string
	// ConsentURL defaults to the built-in consent endpoint.
	ConsentURL string
	// RegistrationURL enables prompt=create when set.
	RegistrationURL string
	// SessionTTL is the lifetime of end-user sessions.
	SessionTTL time.Duration
	// InsecureCookies drops the Secure attribute from session cookies.
	// Only for local development over plain http.
	InsecureCookies bool
}

// Validate checks that the Config is valid.
func (c *Config) Validate() error {
	logger.Debugw("validating authserver config", "issuer", c.Issuer)

	if err := validateIssuer(c.Issuer); err != nil {
		return err
	}

	if c.HMACSecrets != nil {
		if err := c.HMACSecrets.Validate(); err != nil {
			return err
		}
	}

	if err := c.Lifespans.Validate(); err != nil {
		return fmt.Errorf("token lifespans: %w", err)
	}

	seen := make(map[string]struct{}, len(c.Clients))
	for i, client := range c.Clients {
		if client.ID == "" {
			return fmt.Errorf("client %d: id is required", i)
		}
		if _, dup := seen[client.ID]; dup {
			return fmt.Errorf("client %q is defined more than once", client.ID)
		}
		seen[client.ID] = struct{}{}
		if !client.Public && client.Secret == "" && client.SecretHash == "" && client.JWKS == "" && client.JWKSURI == "" {
			return fmt.Errorf("client %q: confidential clients need a secret or keys", client.ID)
		}
	}

	usernames := make(map[string]struct{}, len(c.Subjects))
	for i, subject := range c.Subjects {
		if subject.ID == "" || subject.Username == "" {
			return fmt.Errorf("subject %d: id and username are required", i)
		}
		if _, dup := usernames[subject.Username]; dup {
			return fmt.Errorf("username %q is defined more than once", subject.Username)
		}
		usernames[subject.Username] = struct{}{}
	}

	if c.TokenRateLimit < 0 || c.TokenRateBurst < 0 {
		return errors.New("token rate limit must not be negative")
	}

	for _, u := range []string{c.Interaction.LoginURL, c.Interaction.ConsentURL, c.Interaction.RegistrationURL} {
		if u == "" {
			continue
		}
		if parsed, err := url.Parse(u); err != nil || !parsed.IsAbs() {
			return fmt.Errorf("interaction URL %q must be absolute", u)
		}
	}

	logger.Debugw("authserver config validation passed",
		"issuer", c.Issuer,
		"clientCount", len(c.Clients),
		"subjectCount", len(c.Subjects),
		"registration", c.Registration != nil,
	)
	return nil
}

func validateIssuer(issuer string) error {
	if issuer == "" {
		return errors.New("issuer is required")
	}
	u, err := url.Parse(issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer: %w", err)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return errors.New("issuer must not have a query or fragment")
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !isLoopback(u.Hostname()) {
			return errors.New("issuer must use https unless it is a loopback address")
		}
	default:
		return fmt.Errorf("issuer scheme %q is not supported", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("issuer must have a host")
	}
	return nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// applyDefaults applies default values to the config where not set.
func (c *Config) applyDefaults() {
	logger.Debug("applying default values to authserver config")

	c.Issuer = strings.TrimSuffix(c.Issuer, "/")
	if c.KeyProvider == nil {
		c.KeyProvider = keys.NewGeneratingProvider(keys.DefaultAlgorithm)
		logger.Warnw("no signing keys configured, generated ephemeral keys - tokens will be invalid after restart")
	}
	c.Lifespans = tokens.DefaultLifespanPolicy().Merge(c.Lifespans)
	if len(c.ScopesSupported) == 0 {
		c.ScopesSupported = DefaultScopesSupported
	}
	if c.Registration != nil && len(c.Registration.AllowedScopes) == 0 {
		c.Registration.AllowedScopes = c.ScopesSupported
	}
	if c.Publisher == nil {
		c.Publisher = events.NewLogPublisher(logger.Get())
	}
}
