// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package registration

import (
	"encoding/json"
	"errors"
	"net/netip"
	"net/url"
	"slices"
	"strings"
)

// MaxRedirectURILength is the maximum length of a single redirect URI.
const MaxRedirectURILength = 2048

// forbiddenSchemes can execute content in the user agent.
var forbiddenSchemes = []string{"javascript", "data", "vbscript", "file", "blob", "about"}

// ValidateRedirectURI validates a redirect URI per RFC 8252:
// - HTTPS is allowed for any address (web-based redirects)
// - HTTP is only allowed for loopback addresses (127.0.0.1, [::1], localhost)
// - private-use URI schemes are allowed for native apps (RFC 8252 Section 7.1)
// Fragments are never allowed (RFC 6749 Section 3.1.2).
func ValidateRedirectURI(uri string) *DCRError {
	if err := checkRedirectURI(uri); err != nil {
		return &DCRError{
			Error:            DCRErrorInvalidRedirectURI,
			ErrorDescription: err.Error(),
		}
	}
	return nil
}

func checkRedirectURI(raw string) error {
	if len(raw) > MaxRedirectURILength {
		return errors.New("redirect URI is too long")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("redirect URI is not a valid URI")
	}
	if u.Scheme == "" {
		return errors.New("redirect URI must be absolute")
	}
	if u.Fragment != "" || strings.Contains(raw, "#") {
		return errors.New("redirect URI must not contain a fragment")
	}

	scheme := strings.ToLower(u.Scheme)
	switch {
	case scheme == "https":
		if u.Host == "" {
			return errors.New("https redirect URI must have a host")
		}
	case scheme == "http":
		if !isLoopback(u.Hostname()) {
			return errors.New("http redirect URIs are only allowed for loopback addresses")
		}
	case slices.Contains(forbiddenSchemes, scheme):
		return errors.New("redirect URI scheme " + scheme + " is not allowed")
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	addr, err := netip.ParseAddr(host)
	return err == nil && addr.IsLoopback()
}

func validateHTTPSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return errors.New("not an absolute https URL")
	}
	return nil
}

func marshalJWKS(set map[string]any) ([]byte, error) {
	return json.Marshal(set)
}
