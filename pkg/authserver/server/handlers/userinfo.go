// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server"
)

// UserInfoHandler handles GET and POST /oauth/userinfo requests.
// The access token is read from the Authorization header or, for POST, from
// the access_token form parameter (RFC 6750 Section 2).
func (h *Handler) UserInfoHandler(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" && r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, maxFormBodySize)
		if err := r.ParseForm(); err != nil {
			server.WriteJSONError(w, fosite.ErrInvalidRequest.WithHint("Unable to parse the request body.").WithWrap(err))
			return
		}
		token = r.PostForm.Get("access_token")
	}
	if token == "" {
		server.WriteJSONError(w, server.ErrInvalidToken.WithHint("An access token is required."))
		return
	}

	claims, err := h.deps.Introspect.UserInfo(r.Context(), token)
	if err != nil {
		server.WriteJSONError(w, err)
		return
	}
	writeNoStoreJSON(w, http.StatusOK, claims)
}
