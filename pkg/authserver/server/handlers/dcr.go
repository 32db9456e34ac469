// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/registration"
	"github.com/stacklok/toolhive-idp/pkg/logger"
)

// maxDCRBodySize is the maximum allowed size for DCR request bodies (64KB).
// This prevents DoS attacks via extremely large payloads while being generous
// enough for legitimate requests with multiple redirect URIs.
const maxDCRBodySize = 64 * 1024

// RegisterClientHandler handles POST /oauth/register requests.
// It implements RFC 7591 Dynamic Client Registration. The bearer token is a
// registration assertion unless open registration is enabled.
func (h *Handler) RegisterClientHandler(w http.ResponseWriter, req *http.Request) {
	dcrReq, ok := decodeDCRRequest(w, req)
	if !ok {
		return
	}
	response, err := h.deps.Registration.Register(req.Context(), bearerToken(req), dcrReq)
	if err != nil {
		server.WriteJSONError(w, err)
		return
	}
	logger.Debugw("registered new DCR client",
		"client_id", response.ClientID,
		"client_name", response.ClientName,
	)
	writeNoStoreJSON(w, http.StatusCreated, response)
}

// ReadClientHandler handles GET /oauth/register/{client_id} requests (RFC 7592 Section 2.1).
func (h *Handler) ReadClientHandler(w http.ResponseWriter, req *http.Request) {
	response, err := h.deps.Registration.Read(req.Context(), bearerToken(req), chi.URLParam(req, "client_id"))
	if err != nil {
		server.WriteJSONError(w, err)
		return
	}
	writeNoStoreJSON(w, http.StatusOK, response)
}

// UpdateClientHandler handles PUT /oauth/register/{client_id} requests (RFC 7592 Section 2.2).
func (h *Handler) UpdateClientHandler(w http.ResponseWriter, req *http.Request) {
	dcrReq, ok := decodeDCRRequest(w, req)
	if !ok {
		return
	}
	response, err := h.deps.Registration.Update(req.Context(), bearerToken(req), chi.URLParam(req, "client_id"), dcrReq)
	if err != nil {
		server.WriteJSONError(w, err)
		return
	}
	writeNoStoreJSON(w, http.StatusOK, response)
}

// DeleteClientHandler handles DELETE /oauth/register/{client_id} requests (RFC 7592 Section 2.3).
func (h *Handler) DeleteClientHandler(w http.ResponseWriter, req *http.Request) {
	if err := h.deps.Registration.Delete(req.Context(), bearerToken(req), chi.URLParam(req, "client_id")); err != nil {
		server.WriteJSONError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeDCRRequest reads a JSON client metadata document, writing the error
// response itself on failure.
func decodeDCRRequest(w http.ResponseWriter, req *http.Request) (*registration.DCRRequest, bool) {
	// Limit request body size to prevent DoS attacks
	req.Body = http.MaxBytesReader(w, req.Body, maxDCRBodySize)

	// Validate Content-Type header (RFC 7591 requires application/json)
	if !strings.HasPrefix(req.Header.Get("Content-Type"), "application/json") {
		server.WriteJSONError(w, server.ErrInvalidClientMetadata.WithHint("Content-Type must be application/json"))
		return nil, false
	}

	var dcrReq registration.DCRRequest
	if err := json.NewDecoder(req.Body).Decode(&dcrReq); err != nil {
		server.WriteJSONError(w, server.ErrInvalidClientMetadata.WithHint("invalid JSON request body"))
		return nil, false
	}
	return &dcrReq, true
}
