// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/ory/fosite"
)

// ErrInvalidTarget is the RFC 8707 error for invalid or unauthorized resource parameters.
// This error is returned when a requested audience is not one the client may
// address.
var ErrInvalidTarget = &fosite.RFC6749Error{
	ErrorField:       "invalid_target",
	DescriptionField: "The requested resource is invalid, unknown, or malformed.",
	CodeField:        http.StatusBadRequest,
}

// ResolveAudience narrows a token audience to the requested entries. With no
// request the full allowed list is returned. The issuing client is always the
// first entry of the result.
//
// Security: every requested entry must be part of allowed; an empty request
// never widens the audience.
func ResolveAudience(clientID string, allowed, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return slices.Clone(allowed), nil
	}

	aud := []string{clientID}
	for _, r := range requested {
		if r == "" {
			continue
		}
		if !slices.Contains(allowed, r) {
			return nil, ErrInvalidTarget.WithHintf("Resource %q is not a registered audience", r)
		}
		if !slices.Contains(aud, r) {
			aud = append(aud, r)
		}
	}
	return aud, nil
}

// InAudience reports whether clientID may validate a token with audience aud.
func InAudience(clientID string, aud []string) bool {
	return clientID != "" && slices.Contains(aud, clientID)
}

// ResourceParams collects the RFC 8707 resource and audience parameters.
// Values may be repeated or space separated.
func ResourceParams(form url.Values) []string {
	var out []string
	for _, key := range []string{"resource", "audience"} {
		for _, v := range form[key] {
			out = append(out, strings.Fields(v)...)
		}
	}
	return out
}
