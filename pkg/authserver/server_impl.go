// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server/authorize"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/clients"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/consent"
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
	"github.com/stacklok/toolhive-idp/pkg/logger"
)

// ErrRegistrationDisabled is returned when minting a registration token on a
// server without dynamic client registration.
var ErrRegistrationDisabled = errors.New("dynamic client registration is not enabled")

// server is the internal implementation of the Server interface.
type server struct {
	handler      http.Handler
	storage      storage.Storage
	registration *registration.Service

	// cancel stops background work such as jwks_uri refreshes.
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// newServer wires the components of the authorization server together.
func newServer(ctx context.Context, cfg Config, stor storage.Storage) (*server, error) {
	logger.Debug("initializing OAuth authorization server")

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if stor == nil {
		return nil, errors.New("storage is required")
	}

	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	srv, err := buildServer(ctx, bgCtx, cfg, stor)
	if err != nil {
		cancel()
		return nil, err
	}
	srv.cancel = cancel
	return srv, nil
}

func buildServer(ctx, bgCtx context.Context, cfg Config, stor storage.Storage) (*server, error) {
	metrics := telemetry.NewMetrics()

	km, err := keys.NewManager(ctx, cfg.KeyProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing keys: %w", err)
	}
	signing := km.HasSigningKeys(ctx)
	if !signing {
		logger.Warnw("no signing keys available, ID tokens will be unsecured and registration is unavailable")
	}

	keyResolver, err := clients.NewKeyResolver(bgCtx, nil)
	if err != nil {
		return nil, err
	}
	ledger := clients.NewReplayLedger(stor)
	registryOpts := []clients.Option{
		clients.WithKeyResolver(keyResolver),
		clients.WithMetrics(metrics),
		clients.WithAssertionAudiences(cfg.Issuer, cfg.Issuer+handlers.TokenPath),
	}
	if !signing {
		registryOpts = append(registryOpts, clients.WithoutSignedAuthentication())
	}
	registry := clients.NewRegistry(stor, ledger, registryOpts...)

	if err := seedClients(ctx, stor, cfg.Clients); err != nil {
		return nil, err
	}
	if err := seedSubjects(ctx, stor, cfg.Subjects); err != nil {
		return nil, err
	}

	tracker := consent.NewTracker(stor, stor, cfg.Publisher)
	codeLifespan := cfg.Lifespans.For(tokens.GrantAuthorizationCode)
	providerCfg, err := provider.NewConfig(&provider.Params{
		Issuer:               cfg.Issuer,
		TokenURL:             cfg.Issuer + handlers.TokenPath,
		AccessTokenLifespan:  codeLifespan.Access,
		RefreshTokenLifespan: codeLifespan.Refresh,
		AuthCodeLifespan:     cfg.Lifespans.AuthorizationCode,
		HMACSecrets:          cfg.HMACSecrets,
		ClientAuthentication: registry.AuthenticateRequest,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure token provider: %w", err)
	}
	strategy := provider.NewStrategy(providerCfg)
	oauth2Provider := provider.New(providerCfg, provider.NewStore(stor, stor, ledger, cfg.Publisher), strategy)
	issuer := tokens.NewIssuer(cfg.Issuer, strategy, km, cfg.Lifespans, tokens.WithClientKeys(keyResolver))

	deps := &grants.Dependencies{
		Clients:   registry,
		Issuer:    issuer,
		Consent:   tracker,
		Codes:     stor,
		Tokens:    stor,
		Subjects:  stor,
		Publisher: cfg.Publisher,
	}
	grantRegistry, err := grants.NewRegistry(grants.DefaultGrants(deps)...)
	if err != nil {
		return nil, fmt.Errorf("failed to register grants: %w", err)
	}

	var validatorOpts []authorize.Option
	if cfg.Interaction.RegistrationURL != "" {
		validatorOpts = append(validatorOpts, authorize.WithSelfRegistration())
	}

	var sessionOpts []session.Option
	if cfg.Interaction.SessionTTL > 0 {
		sessionOpts = append(sessionOpts, session.WithTTL(cfg.Interaction.SessionTTL))
	}
	if cfg.Interaction.InsecureCookies {
		logger.Warnw("session cookies are not marked Secure")
		sessionOpts = append(sessionOpts, session.WithInsecureCookies())
	}

	var reg *registration.Service
	switch {
	case cfg.Registration != nil && !signing:
		logger.Warnw("dynamic client registration disabled: registration tokens need a signing key")
	case cfg.Registration != nil:
		regOpts := []registration.Option{
			registration.WithEndpoint(cfg.Issuer + handlers.RegistrationPath),
			registration.WithAllowedScopes(cfg.Registration.AllowedScopes...),
		}
		if cfg.Registration.ManagementTokenTTL > 0 {
			regOpts = append(regOpts, registration.WithManagementTTL(cfg.Registration.ManagementTokenTTL))
		}
		if cfg.Registration.Open {
			logger.Warnw("open dynamic client registration is enabled")
			regOpts = append(regOpts, registration.WithOpenRegistration())
		}
		reg = registration.NewService(cfg.Issuer, stor, registry, km, cfg.Publisher, regOpts...)
	}

	h := handlers.NewHandler(handlers.Config{
		Issuer:          cfg.Issuer,
		LoginURL:        cfg.Interaction.LoginURL,
		ConsentURL:      cfg.Interaction.ConsentURL,
		RegistrationURL: cfg.Interaction.RegistrationURL,
		ScopesSupported: cfg.ScopesSupported,
		TokenRateLimit:  cfg.TokenRateLimit,
		TokenRateBurst:  cfg.TokenRateBurst,
	}, handlers.Dependencies{
		Validator:    authorize.NewValidator(cfg.Issuer, registry, tracker, stor, validatorOpts...),
		Engine:       grants.NewEngine(grantRegistry, deps, metrics),
		Clients:      registry,
		Consent:      tracker,
		Sessions:     session.NewManager(stor, stor, sessionOpts...),
		Introspect:   introspect.NewService(cfg.Issuer, oauth2Provider, stor),
		Registration: reg,
		Keys:         km,
		Metrics:      metrics,
		Health:       stor.Health,
	})

	logger.Infow("OAuth authorization server initialized",
		"issuer", cfg.Issuer,
		"clients", len(cfg.Clients),
		"registration", reg != nil,
	)

	return &server{
		handler:      h.Routes(),
		storage:      stor,
		registration: reg,
	}, nil
}

// seedClients creates or replaces the configured clients.
func seedClients(ctx context.Context, stor storage.ClientStorage, configs []registration.Config) error {
	for _, cc := range configs {
		client, err := registration.New(cc)
		if err != nil {
			return fmt.Errorf("client %q: %w", cc.ID, err)
		}
		err = stor.CreateClient(ctx, client)
		if errors.Is(err, storage.ErrAlreadyExists) {
			err = stor.UpdateClient(ctx, client)
		}
		if err != nil {
			return fmt.Errorf("failed to register client %q: %w", cc.ID, err)
		}
		logger.Debugw("registered configured client", "client_id", cc.ID)
	}
	return nil
}

// seedSubjects creates the configured subjects that do not exist yet.
func seedSubjects(ctx context.Context, stor storage.SubjectStorage, configs []SubjectConfig) error {
	now := time.Now()
	for _, sc := range configs {
		err := stor.CreateSubject(ctx, &storage.Subject{
			ID:            sc.ID,
			Username:      sc.Username,
			DisplayName:   sc.DisplayName,
			Email:         sc.Email,
			EmailVerified: sc.EmailVerified,
			PasswordHash:  sc.PasswordHash,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		switch {
		case errors.Is(err, storage.ErrAlreadyExists):
			logger.Debugw("configured subject already exists", "subject", sc.ID)
		case err != nil:
			return fmt.Errorf("failed to create subject %q: %w", sc.ID, err)
		}
	}
	return nil
}

// Handler returns the HTTP handler that serves all OAuth/OIDC endpoints.
func (s *server) Handler() http.Handler {
	return s.handler
}

// Storage returns the storage backend.
func (s *server) Storage() storage.Storage {
	return s.storage
}

// MintRegistrationToken signs a registration assertion.
func (s *server) MintRegistrationToken(ctx context.Context, clientID string, ttl time.Duration) (string, error) {
	if s.registration == nil {
		return "", ErrRegistrationDisabled
	}
	return s.registration.MintAssertion(ctx, registration.ScopeRegistration, clientID, ttl)
}

// Close releases resources held by the server. It is safe to call more than once.
func (s *server) Close() error {
	s.closeOnce.Do(func() {
		logger.Debug("closing OAuth authorization server")
		if s.cancel != nil {
			s.cancel()
		}
		s.closeErr = s.storage.Close()
	})
	return s.closeErr
}
