// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// Server is the OAuth 2.0 / OpenID Connect authorization server.
// It provides HTTP handlers that serve all OAuth/OIDC endpoints.
type Server interface {
	// Handler returns an http.Handler that serves all endpoints:
	//   - /.well-known/openid-configuration (OIDC Discovery)
	//   - /.well-known/oauth-authorization-server (RFC 8414 OAuth AS Metadata)
	//   - /.well-known/jwks.json (JSON Web Key Set)
	//   - /oauth/authorize, /oauth/login, /oauth/consent (interactive flow)
	//   - /oauth/token, /oauth/revoke, /oauth/introspect, /oauth/userinfo
	//   - /oauth/register (Dynamic Client Registration, RFC 7591/7592)
	//   - /health, /metrics
	//
	// The handler uses internal routing - the consumer doesn't need to know
	// about the endpoint structure.
	Handler() http.Handler

	// Storage returns the backend the server persists its state in.
	Storage() storage.Storage

	// MintRegistrationToken signs a registration assertion accepted by the
	// registration endpoint. A non-empty clientID fixes the id of the client
	// registered with it.
	MintRegistrationToken(ctx context.Context, clientID string, ttl time.Duration) (string, error)

	// Close releases resources held by the server, including the storage.
	Close() error
}

// New creates a new authorization server.
// The storage parameter is required and determines where OAuth state is persisted.
// Use storage.NewMemoryStorage() for single-instance deployments or provide
// a distributed storage backend for production deployments.
func New(ctx context.Context, cfg Config, stor storage.Storage) (Server, error) {
	slog.Debug("creating new OAuth authorization server", "issuer", cfg.Issuer)
	return newServer(ctx, cfg, stor)
}
