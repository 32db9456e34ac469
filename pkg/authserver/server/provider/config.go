// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package provider composes the fosite OAuth2 provider that signs and
// validates opaque tokens and serves introspection and revocation.
package provider

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ory/fosite"
	"github.com/ory/fosite/compose"
	"github.com/ory/fosite/handler/oauth2"

	servercrypto "github.com/stacklok/toolhive-idp/pkg/authserver/server/crypto"
)

// Params configures the fosite provider.
type Params struct {
	// Issuer is the issuer identifier, without a trailing slash.
	Issuer string
	// TokenURL is the token endpoint URL, accepted as client assertion audience.
	TokenURL string

	// Lifespans are fallbacks only. Every stored token carries its own expiry.
	AccessTokenLifespan  time.Duration
	RefreshTokenLifespan time.Duration
	AuthCodeLifespan     time.Duration

	// HMACSecrets sign opaque tokens. Nil generates an ephemeral secret.
	HMACSecrets *servercrypto.HMACSecrets

	// ClientAuthentication authenticates callers of the revocation endpoint.
	ClientAuthentication fosite.ClientAuthenticationStrategy
}

// Config wraps fosite.Config.
type Config struct {
	*fosite.Config
}

// NewConfig validates params and builds the fosite configuration.
func NewConfig(params *Params) (*Config, error) {
	if params == nil {
		return nil, errors.New("config is required")
	}
	if err := validateIssuer(params.Issuer); err != nil {
		return nil, err
	}
	if params.ClientAuthentication == nil {
		return nil, errors.New("client authentication strategy is required")
	}

	secrets := params.HMACSecrets
	if secrets == nil {
		secrets = servercrypto.EphemeralHMACSecrets()
	}
	if err := secrets.Validate(); err != nil {
		return nil, err
	}

	tokenURL := params.TokenURL
	if tokenURL == "" {
		tokenURL = params.Issuer + "/oauth/token"
	}

	return &Config{Config: &fosite.Config{
		AccessTokenIssuer:            params.Issuer,
		IDTokenIssuer:                params.Issuer,
		AccessTokenLifespan:          params.AccessTokenLifespan,
		RefreshTokenLifespan:         params.RefreshTokenLifespan,
		AuthorizeCodeLifespan:        params.AuthCodeLifespan,
		GlobalSecret:                 secrets.Current,
		RotatedGlobalSecrets:         secrets.Rotated,
		TokenURL:                     tokenURL,
		ScopeStrategy:                fosite.ExactScopeStrategy,
		AudienceMatchingStrategy:     fosite.ExactAudienceMatchingStrategy,
		ClientAuthenticationStrategy: params.ClientAuthentication,
	}}, nil
}

func validateIssuer(issuer string) error {
	if issuer == "" {
		return errors.New("issuer is required")
	}
	u, err := url.Parse(issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("issuer must use http or https scheme")
	}
	if u.Host == "" {
		return errors.New("issuer must have a host")
	}
	if strings.HasSuffix(issuer, "/") {
		return errors.New("issuer must not have a trailing slash")
	}
	return nil
}

// NewStrategy returns the HMAC-SHA strategy that mints and validates opaque
// access tokens, refresh tokens and authorization codes.
func NewStrategy(config *Config) *oauth2.HMACSHAStrategy {
	return compose.NewOAuth2HMACStrategy(config.Config)
}

// New composes the provider with the introspection and revocation handlers.
// Tokens are issued by the grant engine; the provider reads and revokes them.
func New(config *Config, store *Store, strategy *oauth2.HMACSHAStrategy) fosite.OAuth2Provider {
	return compose.Compose(config.Config, store, strategy,
		compose.OAuth2TokenIntrospectionFactory,
		compose.OAuth2TokenRevocationFactory,
	)
}
