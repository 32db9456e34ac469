// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package server holds the protocol error taxonomy and helpers shared by the
// authorization server components.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/ory/fosite"
)

// ErrInvalidClientMetadata is the RFC 7591 error for rejected client metadata.
var ErrInvalidClientMetadata = &fosite.RFC6749Error{
	ErrorField:       "invalid_client_metadata",
	DescriptionField: "The value of one of the client metadata fields is invalid.",
	CodeField:        http.StatusBadRequest,
}

// ErrInvalidRedirectURI is the RFC 7591 error for rejected redirect URIs.
var ErrInvalidRedirectURI = &fosite.RFC6749Error{
	ErrorField:       "invalid_redirect_uri",
	DescriptionField: "The value of one or more redirection URIs is invalid.",
	CodeField:        http.StatusBadRequest,
}

// ErrInvalidToken is the RFC 6750 error for a missing, expired or revoked bearer token.
var ErrInvalidToken = &fosite.RFC6749Error{
	ErrorField:       "invalid_token",
	DescriptionField: "The access token provided is expired, revoked, malformed, or invalid.",
	CodeField:        http.StatusUnauthorized,
}

// ErrInsufficientScope is the RFC 6750 error for a token lacking the scope a resource requires.
var ErrInsufficientScope = &fosite.RFC6749Error{
	ErrorField:       "insufficient_scope",
	DescriptionField: "The request requires higher privileges than provided by the access token.",
	CodeField:        http.StatusForbidden,
}

// ErrorResponse is the RFC 6749 Section 5.2 error body.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// AsProtocolError converts err into an RFC6749Error. Errors that are not
// protocol errors become server_error without detail.
func AsProtocolError(err error) *fosite.RFC6749Error {
	var rfcErr *fosite.RFC6749Error
	if errors.As(err, &rfcErr) {
		return rfcErr
	}
	return fosite.ErrServerError.WithWrap(err)
}

// Describe returns the error body for err.
func Describe(err error) ErrorResponse {
	rfcErr := AsProtocolError(err)
	resp := ErrorResponse{Error: rfcErr.ErrorField}
	if rfcErr.ErrorField != fosite.ErrServerError.ErrorField {
		resp.ErrorDescription = rfcErr.GetDescription()
	}
	return resp
}

// WriteJSONError writes err as an RFC 6749 JSON error response.
func WriteJSONError(w http.ResponseWriter, err error) {
	rfcErr := AsProtocolError(err)
	if rfcErr.ErrorField == fosite.ErrServerError.ErrorField {
		slog.Error("request failed", "error", err)
	}

	status := rfcErr.StatusCode()
	if status == 0 {
		status = http.StatusBadRequest
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="`+rfcErr.ErrorField+`"`)
	}
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(Describe(err)); encErr != nil {
		slog.Debug("failed to encode error response", "error", encErr)
	}
}

// RedirectError sends err to a redirect URI that was already validated against
// the client. Errors go into the fragment when fragment is set and into the
// query otherwise.
func RedirectError(w http.ResponseWriter, r *http.Request, redirectURI, state string, fragment bool, err error) {
	body := Describe(err)
	params := url.Values{}
	params.Set("error", body.Error)
	if body.ErrorDescription != "" {
		params.Set("error_description", body.ErrorDescription)
	}
	if state != "" {
		params.Set("state", state)
	}
	http.Redirect(w, r, AppendParams(redirectURI, params, fragment), http.StatusFound)
}

// AppendParams adds params to the query or fragment of uri.
func AppendParams(uri string, params url.Values, fragment bool) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	if fragment {
		u.Fragment = params.Encode()
		return u.String()
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
