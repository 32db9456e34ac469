// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/authorize"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/session"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
	"github.com/stacklok/toolhive-idp/pkg/logger"
)

// maxFormBodySize bounds form-encoded request bodies.
const maxFormBodySize = 64 * 1024

// Consent decisions accepted by the consent endpoint.
const (
	ConsentAllow = "allow"
	ConsentDeny  = "deny"
)

// InteractionResponse describes a parked authorization request to a login
// or consent UI.
type InteractionResponse struct {
	Request         string   `json:"request"`
	ClientID        string   `json:"client_id"`
	ClientName      string   `json:"client_name,omitempty"`
	Scopes          []string `json:"scopes"`
	RequestedScopes []string `json:"requested_scopes,omitempty"`
	Audience        []string `json:"audience,omitempty"`
	LoginHint       string   `json:"login_hint,omitempty"`
	Subject         string   `json:"subject,omitempty"`
}

// LoginPageHandler handles GET /oauth/login requests.
// It describes the parked request a login UI is authenticating for.
func (h *Handler) LoginPageHandler(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get(requestParam)
	req, client, err := h.resume(r, id)
	if err != nil {
		server.WriteJSONError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, describe(id, req, client, nil))
}

// LoginHandler handles POST /oauth/login requests.
// It verifies a username and password, starts a session and, when the login
// belongs to a parked request, continues that request.
func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sessions == nil {
		server.WriteJSONError(w, fosite.ErrRequestNotSupported.WithHint("Password login is not enabled."))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodySize)
	if err := r.ParseForm(); err != nil {
		server.WriteJSONError(w, fosite.ErrInvalidRequest.WithHint("Unable to parse the request body.").WithWrap(err))
		return
	}

	principal, err := h.deps.Sessions.Login(r.Context(), w, r.PostForm.Get("username"), r.PostForm.Get("password"))
	if errors.Is(err, session.ErrInvalidCredentials) {
		server.WriteJSONError(w, fosite.ErrAccessDenied.WithHint("Invalid username or password."))
		return
	}
	if err != nil {
		server.WriteJSONError(w, err)
		return
	}
	logger.Debugw("end user logged in", "subject", principal.Subject.ID)

	if id := r.PostForm.Get(requestParam); id != "" {
		target := server.AppendParams(h.config.Issuer+ResumePath, url.Values{requestParam: {id}}, false)
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConsentPageHandler handles GET /oauth/consent requests.
// It describes the scopes the end user is asked to approve.
func (h *Handler) ConsentPageHandler(w http.ResponseWriter, r *http.Request) {
	principal, err := h.requirePrincipal(r)
	if err != nil {
		server.WriteJSONError(w, err)
		return
	}
	id := r.URL.Query().Get(requestParam)
	req, client, err := h.resume(r, id)
	if err != nil {
		server.WriteJSONError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, describe(id, req, client, principal))
}

// ConsentHandler handles POST /oauth/consent requests.
// The form carries the parked request id, the decision (allow or deny) and
// optionally the subset of scopes the end user approved.
func (h *Handler) ConsentHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodySize)
	if err := r.ParseForm(); err != nil {
		server.WriteJSONError(w, fosite.ErrInvalidRequest.WithHint("Unable to parse the request body.").WithWrap(err))
		return
	}
	principal, err := h.requirePrincipal(r)
	if err != nil {
		server.WriteJSONError(w, err)
		return
	}
	ctx := r.Context()
	id := r.PostForm.Get(requestParam)
	req, client, err := h.resume(r, id)
	if err != nil {
		h.writeAuthorizeError(w, r, req, err)
		return
	}

	switch r.PostForm.Get("decision") {
	case ConsentAllow:
	case ConsentDeny:
		h.discard(r, id)
		logger.Debugw("end user denied consent", "client_id", client.ID, "subject", principal.Subject.ID)
		h.writeAuthorizeError(w, r, req, fosite.ErrAccessDenied.WithHint("The end user denied the request."))
		return
	default:
		server.WriteJSONError(w, fosite.ErrInvalidRequest.WithHint("The decision must be allow or deny."))
		return
	}

	if approved := r.PostForm.Get("scope"); approved != "" {
		req.Scopes = server.IntersectScopes(server.ParseScope(approved), req.Scopes)
		if len(req.Scopes) == 0 {
			h.discard(r, id)
			logger.Debugw("end user approved none of the requested scopes", "client_id", client.ID, "subject", principal.Subject.ID)
			h.writeAuthorizeError(w, r, req, fosite.ErrAccessDenied.WithHint("None of the requested scopes were approved."))
			return
		}
	}
	if _, err := h.deps.Consent.Grant(ctx, principal.Subject.ID, client, req.Scopes); err != nil {
		h.writeAuthorizeError(w, r, req, err)
		return
	}
	h.discard(r, id)
	h.respond(w, r, req, client, principal)
}

func (h *Handler) resume(r *http.Request, id string) (*authorize.Request, *storage.Client, error) {
	if id == "" {
		return nil, nil, fosite.ErrInvalidRequest.WithHint("The request parameter is required.")
	}
	return h.deps.Validator.Resume(r.Context(), id)
}

func (h *Handler) requirePrincipal(r *http.Request) (*session.Principal, error) {
	principal, err := h.principal(r)
	if err != nil {
		return nil, err
	}
	if principal == nil {
		return nil, fosite.ErrLoginRequired.WithHint("The end user is not authenticated.")
	}
	return principal, nil
}

func describe(id string, req *authorize.Request, client *storage.Client, principal *session.Principal) InteractionResponse {
	resp := InteractionResponse{
		Request:         id,
		ClientID:        client.ID,
		ClientName:      client.Name,
		Scopes:          req.Scopes,
		RequestedScopes: req.RequestedScopes,
		Audience:        req.Audience,
		LoginHint:       req.LoginHint,
	}
	if principal != nil {
		resp.Subject = principal.Subject.ID
	}
	return resp
}
