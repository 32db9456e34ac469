// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"net/url"
	"slices"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/authorize"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/session"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
	"github.com/stacklok/toolhive-idp/pkg/logger"
)

// requestParam carries the parked request id between the interactive endpoints.
const requestParam = "request"

// AuthorizeHandler handles GET /oauth/authorize requests.
// It validates the client's authorization request and either answers it or
// sends the end user to the login, consent or registration step.
func (h *Handler) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	req, client, err := h.deps.Validator.Parse(r.Context(), r)
	if err != nil {
		h.writeAuthorizeError(w, r, req, err)
		return
	}
	h.dispatch(w, r, req, client, "")
}

// ResumeHandler handles GET /oauth/authorize/resume requests.
// It continues a parked request after the end user logged in or registered.
func (h *Handler) ResumeHandler(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get(requestParam)
	if id == "" {
		server.WriteJSONError(w, fosite.ErrInvalidRequest.WithHint("The request parameter is required."))
		return
	}
	req, client, err := h.deps.Validator.Resume(r.Context(), id)
	if err != nil {
		h.writeAuthorizeError(w, r, req, err)
		return
	}
	// The account now exists; asking for it again would fail the request.
	req.Prompt = slices.DeleteFunc(req.Prompt, func(p string) bool { return p == authorize.PromptCreate })
	h.dispatch(w, r, req, client, id)
}

// dispatch decides the next step for req. pendingID is set when req was
// already parked.
func (h *Handler) dispatch(
	w http.ResponseWriter, r *http.Request, req *authorize.Request, client *storage.Client, pendingID string,
) {
	ctx := r.Context()
	principal, err := h.principal(r)
	if err != nil {
		h.writeAuthorizeError(w, r, req, err)
		return
	}

	decision, err := h.deps.Validator.Decide(ctx, req, client, principal)
	if err != nil {
		h.discard(r, pendingID)
		h.writeAuthorizeError(w, r, req, err)
		return
	}

	switch decision {
	case authorize.Proceed:
		h.discard(r, pendingID)
		h.respond(w, r, req, client, principal)
	case authorize.NeedLogin:
		h.interact(w, r, req, pendingID, h.config.LoginURL)
	case authorize.NeedConsent:
		h.interact(w, r, req, pendingID, h.config.ConsentURL)
	case authorize.NeedRegistration:
		if h.config.RegistrationURL == "" {
			h.writeAuthorizeError(w, r, req, fosite.ErrInvalidRequest.WithHint("Self-registration is not available."))
			return
		}
		h.interact(w, r, req, pendingID, h.config.RegistrationURL)
	}
}

// interact parks req unless it already is and redirects the end user to target.
func (h *Handler) interact(w http.ResponseWriter, r *http.Request, req *authorize.Request, pendingID, target string) {
	if pendingID == "" {
		id, err := h.deps.Validator.Park(r.Context(), req)
		if err != nil {
			h.writeAuthorizeError(w, r, req, err)
			return
		}
		pendingID = id
	}
	http.Redirect(w, r, server.AppendParams(target, url.Values{requestParam: {pendingID}}, false), http.StatusFound)
}

// respond issues the artifacts of an accepted request and sends them to the
// client's redirect URI.
func (h *Handler) respond(
	w http.ResponseWriter, r *http.Request, req *authorize.Request, client *storage.Client, principal *session.Principal,
) {
	params, err := h.deps.Engine.Authorize(r.Context(), req, client, principal)
	if err != nil {
		h.writeAuthorizeError(w, r, req, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, server.AppendParams(req.RedirectURI, params, req.Fragment()), http.StatusFound)
}

func (h *Handler) principal(r *http.Request) (*session.Principal, error) {
	if h.resolver == nil {
		return nil, nil
	}
	return h.resolver.Resolve(r)
}

func (h *Handler) discard(r *http.Request, pendingID string) {
	if pendingID == "" {
		return
	}
	if err := h.deps.Validator.Discard(r.Context(), pendingID); err != nil {
		logger.Warnw("failed to discard parked authorization request", "error", err)
	}
}

// writeAuthorizeError redirects the error to the client once its redirect URI
// is trusted and answers with a JSON error otherwise.
func (*Handler) writeAuthorizeError(w http.ResponseWriter, r *http.Request, req *authorize.Request, err error) {
	if !req.CanRedirect() {
		server.WriteJSONError(w, err)
		return
	}
	if rfcErr := server.AsProtocolError(err); rfcErr.ErrorField == fosite.ErrServerError.ErrorField {
		logger.Errorw("authorization request failed", "client_id", req.ClientID, "error", err)
	}
	server.RedirectError(w, r, req.RedirectURI, req.State, req.Fragment(), err)
}
