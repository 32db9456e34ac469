// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"net/http"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/clients"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
	"github.com/stacklok/toolhive-idp/pkg/logger"
)

// TokenHandler handles POST /oauth/token requests.
// Every grant type is answered by the grant engine; this handler only bounds
// the request, applies the per-client rate limit and writes the response.
func (h *Handler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodySize)
	if err := r.ParseForm(); err != nil {
		server.WriteJSONError(w, fosite.ErrInvalidRequest.WithHint("Unable to parse the request body.").WithWrap(err))
		return
	}

	if !h.limiter.Allow(h.rateLimitKey(r)) {
		w.Header().Set("Retry-After", "1")
		server.WriteJSONError(w, errRateLimited)
		return
	}

	response, err := h.deps.Engine.Token(ctx, r)
	if err != nil {
		logger.Debugw("token request rejected", "grant_type", r.PostForm.Get("grant_type"), "error", err)
		server.WriteJSONError(w, err)
		return
	}
	writeNoStoreJSON(w, http.StatusOK, response)
}

// rateLimitKey returns the client the request claims to be. Unknown clients
// share one bucket so they cannot grow the limiter table.
func (h *Handler) rateLimitKey(r *http.Request) string {
	creds, err := clients.CredentialsFromRequest(r)
	if err != nil || creds.ClientID == "" {
		return ""
	}
	if _, err := h.deps.Clients.Get(r.Context(), creds.ClientID); err != nil {
		return ""
	}
	return creds.ClientID
}

// IntrospectHandler handles POST /oauth/introspect requests (RFC 7662).
// The caller must authenticate as a client.
func (h *Handler) IntrospectHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.authenticateCaller(w, r)
	if !ok {
		return
	}
	token := r.PostForm.Get("token")
	if token == "" {
		server.WriteJSONError(w, fosite.ErrInvalidRequest.WithHint("The token parameter is required."))
		return
	}

	resp, err := h.deps.Introspect.Introspect(r.Context(), caller, token, r.PostForm.Get("token_type_hint"))
	if err != nil {
		server.WriteJSONError(w, err)
		return
	}
	h.deps.Introspect.WriteIntrospection(r.Context(), w, resp)
}

// RevokeHandler handles POST /oauth/revoke requests (RFC 7009).
// Unknown tokens and tokens of other clients are answered with success.
func (h *Handler) RevokeHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodySize)
	if err := r.ParseForm(); err != nil {
		h.deps.Introspect.WriteRevocation(ctx, w, fosite.ErrInvalidRequest.WithWrap(err))
		return
	}
	if r.PostForm.Get("token") == "" {
		h.deps.Introspect.WriteRevocation(ctx, w, fosite.ErrInvalidRequest.WithHint("The token parameter is required."))
		return
	}

	err := h.deps.Introspect.Revoke(ctx, r)
	if errors.Is(err, fosite.ErrTemporarilyUnavailable) {
		logger.Warnw("token revocation failed", "error", err)
		server.WriteJSONError(w, err)
		return
	}
	if err != nil {
		logger.Debugw("revocation request rejected", "error", err)
	}
	h.deps.Introspect.WriteRevocation(ctx, w, err)
}

// authenticateCaller parses the form and authenticates the calling client,
// writing the error response itself on failure.
func (h *Handler) authenticateCaller(w http.ResponseWriter, r *http.Request) (*storage.Client, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodySize)
	if err := r.ParseForm(); err != nil {
		server.WriteJSONError(w, fosite.ErrInvalidRequest.WithHint("Unable to parse the request body.").WithWrap(err))
		return nil, false
	}
	creds, err := clients.CredentialsFromRequest(r)
	if err != nil {
		server.WriteJSONError(w, err)
		return nil, false
	}
	client, err := h.deps.Clients.Authenticate(r.Context(), creds)
	if err != nil {
		server.WriteJSONError(w, err)
		return nil, false
	}
	return client, true
}
