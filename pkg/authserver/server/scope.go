// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"slices"
	"strings"

	"github.com/ory/fosite"
)

// Well-known scope values.
const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeOfflineAccess = "offline_access"
)

// ParseScope splits a space-delimited scope parameter, dropping empty and
// duplicate entries.
func ParseScope(raw string) []string {
	return dedupe(fosite.RemoveEmpty(strings.Split(raw, " ")))
}

// FormatScope joins scopes into a scope parameter.
func FormatScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

// IntersectScopes returns the requested scopes the client is allowed,
// in request order. The result is never a superset of allowed.
func IntersectScopes(requested, allowed []string) []string {
	out := make([]string, 0, len(requested))
	for _, s := range dedupe(requested) {
		if slices.Contains(allowed, s) {
			out = append(out, s)
		}
	}
	return out
}

// ScopesCover reports whether granted includes every scope in requested.
func ScopesCover(granted, requested []string) bool {
	return fosite.Arguments(granted).Has(requested...)
}

// UnionScopes returns a followed by the entries of b not already in a.
func UnionScopes(a, b []string) []string {
	return dedupe(append(slices.Clone(a), b...))
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
