// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server/authorize"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/clients"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/consent"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/grants"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/introspect"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/keys"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/registration"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/session"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/telemetry"
	"github.com/stacklok/toolhive-idp/pkg/logger"
	"github.com/stacklok/toolhive-idp/pkg/versions"
)

// Endpoint paths relative to the issuer.
const (
	AuthorizePath    = "/oauth/authorize"
	ResumePath       = "/oauth/authorize/resume"
	LoginPath        = "/oauth/login"
	ConsentPath      = "/oauth/consent"
	TokenPath        = "/oauth/token"
	RevokePath       = "/oauth/revoke"
	IntrospectPath   = "/oauth/introspect"
	UserInfoPath     = "/oauth/userinfo"
	RegistrationPath = "/oauth/register"
	JWKSPath         = "/.well-known/jwks.json"
)

// Config holds the HTTP-facing settings of the authorization server.
type Config struct {
	// Issuer is the issuer identifier; endpoint URLs are built from it.
	Issuer string

	// LoginURL receives the end user when an authorization request needs a
	// login, with the parked request id in the "request" query parameter.
	// Defaults to the issuer's login endpoint.
	LoginURL string
	// ConsentURL receives the end user when consent is needed. Defaults to
	// the issuer's consent endpoint.
	ConsentURL string
	// RegistrationURL receives the end user for prompt=create.
	RegistrationURL string

	// ScopesSupported is advertised in discovery.
	ScopesSupported []string

	// TokenRateLimit is the sustained token requests per second allowed per
	// client. Zero disables rate limiting.
	TokenRateLimit rate.Limit
	// TokenRateBurst is the burst allowed on top of TokenRateLimit.
	TokenRateBurst int
}

// Dependencies are the components the handlers delegate to.
type Dependencies struct {
	Validator    *authorize.Validator
	Engine       *grants.Engine
	Clients      *clients.Registry
	Consent      *consent.Tracker
	Sessions     *session.Manager
	Introspect   *introspect.Service
	Registration *registration.Service
	Keys         *keys.Manager
	Metrics      *telemetry.Metrics

	// Resolver overrides Sessions for resolving the end user of a request.
	Resolver session.Resolver
	// Health reports backend health for the health endpoint.
	Health func(ctx context.Context) error
}

// Handler provides HTTP handlers for the OAuth authorization server endpoints.
type Handler struct {
	config   Config
	deps     Dependencies
	resolver session.Resolver
	limiter  *clientLimiter
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(cfg Config, deps Dependencies) *Handler {
	cfg.Issuer = strings.TrimSuffix(cfg.Issuer, "/")
	if cfg.LoginURL == "" {
		cfg.LoginURL = cfg.Issuer + LoginPath
	}
	if cfg.ConsentURL == "" {
		cfg.ConsentURL = cfg.Issuer + ConsentPath
	}
	resolver := deps.Resolver
	if resolver == nil && deps.Sessions != nil {
		resolver = deps.Sessions
	}
	return &Handler{
		config:   cfg,
		deps:     deps,
		resolver: resolver,
		limiter:  newClientLimiter(cfg.TokenRateLimit, cfg.TokenRateBurst),
	}
}

// Routes returns a router with all OAuth/OIDC endpoints registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	h.OAuthRoutes(r)
	h.WellKnownRoutes(r)
	h.OperationalRoutes(r)
	return r
}

// OAuthRoutes registers OAuth endpoints (authorize, login, consent, token,
// revoke, introspect, userinfo, register) on the provided router.
func (h *Handler) OAuthRoutes(r chi.Router) {
	r.Get(AuthorizePath, h.AuthorizeHandler)
	r.Get(ResumePath, h.ResumeHandler)
	r.Get(LoginPath, h.LoginPageHandler)
	r.Post(LoginPath, h.LoginHandler)
	r.Get(ConsentPath, h.ConsentPageHandler)
	r.Post(ConsentPath, h.ConsentHandler)
	r.Post(TokenPath, h.TokenHandler)
	r.Post(RevokePath, h.RevokeHandler)
	r.Post(IntrospectPath, h.IntrospectHandler)
	r.Get(UserInfoPath, h.UserInfoHandler)
	r.Post(UserInfoPath, h.UserInfoHandler)
	if h.deps.Registration != nil {
		r.Post(RegistrationPath, h.RegisterClientHandler)
		r.Get(RegistrationPath+"/{client_id}", h.ReadClientHandler)
		r.Put(RegistrationPath+"/{client_id}", h.UpdateClientHandler)
		r.Delete(RegistrationPath+"/{client_id}", h.DeleteClientHandler)
	}
}

// WellKnownRoutes registers well-known endpoints (JWKS, OAuth/OIDC discovery) on the provided router.
// Both discovery endpoints are registered for maximum interoperability:
// - /.well-known/oauth-authorization-server (RFC 8414) for OAuth-only clients
// - /.well-known/openid-configuration (OIDC Discovery 1.0) for OIDC clients
func (h *Handler) WellKnownRoutes(r chi.Router) {
	r.Get(JWKSPath, h.JWKSHandler)
	r.Get("/jwks.json", h.JWKSHandler)
	r.Get("/.well-known/oauth-authorization-server", h.OAuthDiscoveryHandler)
	r.Get("/.well-known/openid-configuration", h.OIDCDiscoveryHandler)
}

// OperationalRoutes registers the health and metrics endpoints.
func (h *Handler) OperationalRoutes(r chi.Router) {
	r.Get("/health", h.HealthHandler)
	r.Method(http.MethodGet, "/metrics", h.deps.Metrics.Handler())
}

// HealthHandler handles GET /health requests.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if h.deps.Health != nil {
		if err := h.deps.Health(r.Context()); err != nil {
			logger.Warnw("health check failed", "error", err)
			status, code = "unavailable", http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, code, map[string]string{"status": status, "version": versions.GetVersionInfo().Version})
}

// writeJSON writes body as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	// Encoding errors are not recoverable (headers already written), log for diagnostics
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Debugw("failed to encode response", "error", err)
	}
}

// writeNoStoreJSON writes a response carrying credentials, which must not be cached.
func writeNoStoreJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, status, body)
}

// bearerToken returns the RFC 6750 bearer token of the Authorization header.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
