// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handlers provides HTTP handlers for the OAuth 2.0 authorization server endpoints.
//
// This package implements the HTTP layer for the authorization server, including:
//   - OAuth endpoints (authorize, token, revoke, introspect)
//   - OIDC endpoints (userinfo, discovery, JWKS)
//   - Interactive login and consent endpoints used by an external UI
//   - Dynamic client registration and management (RFC 7591, RFC 7592)
//
// The Handler struct coordinates all handlers and provides route registration methods
// for integrating with standard Go HTTP servers.
package handlers
