// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package clients

import (
	"net/http"
	"net/url"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// AssertionTypeJWTBearer is the client_assertion_type for private_key_jwt (RFC 7523).
const AssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// Credentials is the client identification presented on a request.
type Credentials struct {
	ClientID  string
	Secret    string
	Assertion string
	Method    storage.TokenEndpointAuthMethod
}

// CredentialsFromRequest extracts client credentials from a parsed form request.
// Exactly one authentication method may be used; a request presenting more
// than one is rejected with invalid_request.
func CredentialsFromRequest(r *http.Request) (Credentials, error) {
	var creds Credentials
	methods := 0

	if id, secret, ok := r.BasicAuth(); ok {
		methods++
		// RFC 6749 Section 2.3.1: credentials are form-urlencoded before base64.
		decodedID, err := url.QueryUnescape(id)
		if err != nil {
			return Credentials{}, fosite.ErrInvalidRequest.WithHint("The client_id in the Authorization header is malformed.")
		}
		decodedSecret, err := url.QueryUnescape(secret)
		if err != nil {
			return Credentials{}, fosite.ErrInvalidRequest.WithHint("The client_secret in the Authorization header is malformed.")
		}
		creds = Credentials{ClientID: decodedID, Secret: decodedSecret, Method: storage.AuthMethodClientSecretBasic}
	}

	formID := r.PostForm.Get("client_id")
	if secret := r.PostForm.Get("client_secret"); secret != "" {
		methods++
		creds = Credentials{ClientID: formID, Secret: secret, Method: storage.AuthMethodClientSecretPost}
	}

	if assertion := r.PostForm.Get("client_assertion"); assertion != "" {
		methods++
		if r.PostForm.Get("client_assertion_type") != AssertionTypeJWTBearer {
			return Credentials{}, fosite.ErrInvalidRequest.WithHint("Unsupported client_assertion_type.")
		}
		id := formID
		if id == "" {
			id = assertionIssuer(assertion)
		}
		creds = Credentials{ClientID: id, Assertion: assertion, Method: storage.AuthMethodPrivateKeyJWT}
	}

	switch {
	case methods > 1:
		return Credentials{}, fosite.ErrInvalidRequest.WithHint("The request used more than one client authentication method.")
	case methods == 0:
		creds = Credentials{ClientID: formID, Method: storage.AuthMethodNone}
	case formID != "" && creds.ClientID != formID:
		return Credentials{}, fosite.ErrInvalidRequest.WithHint("The client_id parameter does not match the authenticated client.")
	}

	if creds.ClientID == "" {
		return Credentials{}, fosite.ErrInvalidClient.WithHint("Client authentication failed.")
	}
	return creds, nil
}

// assertionIssuer reads the unverified iss claim, used only to find the client
// whose keys then verify the assertion.
func assertionIssuer(assertion string) string {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(assertion, &claims); err != nil {
		return ""
	}
	return claims.Issuer
}
