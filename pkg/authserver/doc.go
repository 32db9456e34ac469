// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authserver provides an OAuth 2.0 authorization server and OpenID
// Connect provider built on ory/fosite.
//
// The server supports:
//   - Authorization code (with PKCE), implicit and hybrid flows
//   - Resource owner password, client credentials, refresh token and
//     JWT bearer (RFC 7523) grants
//   - Client authentication with secrets or signed assertions (private_key_jwt)
//   - Consent tracking with revocation
//   - Dynamic Client Registration and Management (RFC 7591, RFC 7592)
//   - Token introspection (RFC 7662) and revocation (RFC 7009)
//   - OIDC discovery, RFC 8414 metadata and JWKS publication
//
// # Usage
//
// The entry point is New, which takes a resolved Config and a storage backend:
//
//	stor := storage.NewMemoryStorage()
//	srv, err := authserver.New(ctx, cfg, stor)
//	if err != nil {
//	    return err
//	}
//	defer srv.Close()
//	http.ListenAndServe(":8080", srv.Handler())
//
// # Configuration
//
// Config holds resolved values only. RunConfig is its serializable form,
// referencing signing keys, HMAC secrets and client secrets by file path or
// environment variable; the runner package resolves it and builds the storage
// backend it names.
//
// Without signing keys the server generates ephemeral ones, and without HMAC
// secrets it generates an ephemeral secret. Tokens issued under ephemeral
// material do not survive a restart.
package authserver
