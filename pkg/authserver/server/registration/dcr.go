// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package registration provides OAuth 2.0 Dynamic Client Registration (RFC 7591)
// and Dynamic Client Registration Management (RFC 7592), including request
// validation, secure redirect URI handling and the signed bearer assertions
// that authenticate registration and management calls.
package registration

import (
	"fmt"
	"slices"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/authorize"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/clients"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/tokens"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// DCR error codes per RFC 7591 Section 3.2.2
const (
	// DCRErrorInvalidRedirectURI indicates that the value of one or more
	// redirect_uris is invalid.
	DCRErrorInvalidRedirectURI = "invalid_redirect_uri"

	// DCRErrorInvalidClientMetadata indicates that the value of one of the
	// client metadata fields is invalid and the server has rejected this request.
	DCRErrorInvalidClientMetadata = "invalid_client_metadata"
)

// Validation limits to prevent DoS attacks via excessively large requests.
const (
	// MaxRedirectURICount is the maximum number of redirect URIs allowed per client.
	MaxRedirectURICount = 10

	// MaxClientNameLength is the maximum allowed length for a client name.
	MaxClientNameLength = 256

	// MaxJWKSLength is the maximum size of an inline jwks value.
	MaxJWKSLength = 16 * 1024
)

// DCRRequest represents an OAuth 2.0 Dynamic Client Registration request
// per RFC 7591 Section 2. Management updates (RFC 7592 Section 2.2) use the
// same body and may repeat the client_id.
type DCRRequest struct {
	// ClientID is only accepted on updates and must name the client being updated.
	ClientID string `json:"client_id,omitempty"`

	// RedirectURIs is an array of redirection URIs for the client.
	// Required for clients using a redirect-based grant.
	RedirectURIs []string `json:"redirect_uris,omitempty"`

	// PostLogoutRedirectURIs lists where the client may ask to be sent after logout.
	PostLogoutRedirectURIs []string `json:"post_logout_redirect_uris,omitempty"`

	// ClientName is a human-readable name for the client.
	ClientName string `json:"client_name,omitempty"`

	// TokenEndpointAuthMethod is the requested authentication method for the token endpoint.
	// Defaults to "client_secret_basic".
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty"`

	// GrantTypes is an array of OAuth 2.0 grant types the client may use.
	// Defaults to ["authorization_code", "refresh_token"] if not specified.
	GrantTypes []string `json:"grant_types,omitempty"`

	// ResponseTypes is an array of OAuth 2.0 response types the client may use.
	// Defaults to ["code"] if not specified.
	ResponseTypes []string `json:"response_types,omitempty"`

	// Scope is a space-separated list of scope values the client may request.
	Scope string `json:"scope,omitempty"`

	JWKS    map[string]any `json:"jwks,omitempty"`
	JWKSURI string         `json:"jwks_uri,omitempty"`

	IDTokenSignedResponseAlg    string `json:"id_token_signed_response_alg,omitempty"`
	IDTokenEncryptedResponseAlg string `json:"id_token_encrypted_response_alg,omitempty"`
	IDTokenEncryptedResponseEnc string `json:"id_token_encrypted_response_enc,omitempty"`
	RequestObjectSigningAlg     string `json:"request_object_signing_alg,omitempty"`
	TokenEndpointAuthSigningAlg string `json:"token_endpoint_auth_signing_alg,omitempty"`
}

// DCRResponse represents a successful OAuth 2.0 Dynamic Client Registration
// response per RFC 7591 Section 3.2.1 and RFC 7592 Section 3.
type DCRResponse struct {
	// ClientID is the unique identifier for the client.
	ClientID string `json:"client_id"`

	// ClientSecret is only present in the response that created or rotated it.
	ClientSecret string `json:"client_secret,omitempty"`

	// ClientIDIssuedAt is the time at which the client identifier was issued,
	// as a Unix timestamp.
	ClientIDIssuedAt int64 `json:"client_id_issued_at,omitempty"`

	// ClientSecretExpiresAt is 0 because secrets do not expire. Only set
	// alongside a secret.
	ClientSecretExpiresAt *int64 `json:"client_secret_expires_at,omitempty"`

	// RegistrationAccessToken authenticates later management calls.
	RegistrationAccessToken string `json:"registration_access_token,omitempty"`

	// RegistrationClientURI is the management endpoint for this client.
	RegistrationClientURI string `json:"registration_client_uri,omitempty"`

	// RedirectURIs is an array of redirection URIs for the client.
	RedirectURIs []string `json:"redirect_uris"`

	PostLogoutRedirectURIs []string `json:"post_logout_redirect_uris,omitempty"`

	// ClientName is a human-readable name for the client.
	ClientName string `json:"client_name,omitempty"`

	// TokenEndpointAuthMethod is the authentication method for the token endpoint.
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method"`

	// GrantTypes is an array of OAuth 2.0 grant types the client may use.
	GrantTypes []string `json:"grant_types"`

	// ResponseTypes is an array of OAuth 2.0 response types the client may use.
	ResponseTypes []string `json:"response_types"`

	Scope string `json:"scope,omitempty"`

	JWKS    map[string]any `json:"jwks,omitempty"`
	JWKSURI string         `json:"jwks_uri,omitempty"`

	IDTokenSignedResponseAlg    string `json:"id_token_signed_response_alg,omitempty"`
	IDTokenEncryptedResponseAlg string `json:"id_token_encrypted_response_alg,omitempty"`
	IDTokenEncryptedResponseEnc string `json:"id_token_encrypted_response_enc,omitempty"`
	RequestObjectSigningAlg     string `json:"request_object_signing_alg,omitempty"`
	TokenEndpointAuthSigningAlg string `json:"token_endpoint_auth_signing_alg,omitempty"`
}

// DCRError represents an OAuth 2.0 Dynamic Client Registration error
// response per RFC 7591 Section 3.2.2.
type DCRError struct {
	// Error is a single ASCII error code from the defined set.
	Error string `json:"error"`

	// ErrorDescription is a human-readable text providing additional information.
	ErrorDescription string `json:"error_description,omitempty"`
}

// Err converts the validation failure into a protocol error.
func (e *DCRError) Err() error {
	if e.Error == DCRErrorInvalidRedirectURI {
		return server.ErrInvalidRedirectURI.WithHint(e.ErrorDescription)
	}
	return server.ErrInvalidClientMetadata.WithHint(e.ErrorDescription)
}

// defaultGrantTypes are the default grant types for registered clients.
var defaultGrantTypes = []string{tokens.GrantAuthorizationCode, tokens.GrantRefreshToken}

// allowedGrantTypes defines the grant types a client may register for.
// The password grant is reserved for administratively configured clients.
var allowedGrantTypes = map[string]bool{
	tokens.GrantAuthorizationCode: true,
	tokens.GrantImplicit:          true,
	tokens.GrantRefreshToken:      true,
	tokens.GrantClientCredentials: true,
	tokens.GrantJWTBearer:         true,
}

// confidentialOnlyGrantTypes may not be registered by public clients.
var confidentialOnlyGrantTypes = []string{tokens.GrantClientCredentials, tokens.GrantJWTBearer}

// defaultResponseTypes are the default response types for registered clients.
var defaultResponseTypes = []string{authorize.ResponseTypeCode}

// allowedAuthMethods are the token endpoint authentication methods a client
// may register with.
var allowedAuthMethods = map[storage.TokenEndpointAuthMethod]bool{
	storage.AuthMethodClientSecretBasic: true,
	storage.AuthMethodClientSecretPost:  true,
	storage.AuthMethodPrivateKeyJWT:     true,
	storage.AuthMethodNone:              true,
}

// DefaultScopes are registered when a request carries no scope.
var DefaultScopes = []string{server.ScopeOpenID, server.ScopeProfile, server.ScopeEmail}

// ValidateDCRRequest validates a DCR request according to RFC 7591 and the
// server's policy. allowedScopes bounds the scope a client may register.
// Returns the validated request with defaults applied, or an error.
func ValidateDCRRequest(req *DCRRequest, allowedScopes []string) (*DCRRequest, *DCRError) {
	// 1. Validate/default token_endpoint_auth_method
	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = string(storage.AuthMethodClientSecretBasic)
	}
	if !allowedAuthMethods[storage.TokenEndpointAuthMethod(authMethod)] {
		return nil, metadataError("unsupported token_endpoint_auth_method: " + authMethod)
	}
	public := authMethod == string(storage.AuthMethodNone)

	// 2. Validate/default grant_types
	grantTypes, err := validateGrantTypes(req.GrantTypes, public)
	if err != nil {
		return nil, err
	}

	// 3. Validate/default response_types against the grant types
	responseTypes, err := validateResponseTypes(req.ResponseTypes, grantTypes)
	if err != nil {
		return nil, err
	}

	// 4. Validate redirect_uris, required for redirect-based grants
	redirectBased := slices.Contains(grantTypes, tokens.GrantAuthorizationCode) ||
		slices.Contains(grantTypes, tokens.GrantImplicit)
	if redirectBased && len(req.RedirectURIs) == 0 {
		return nil, &DCRError{
			Error:            DCRErrorInvalidRedirectURI,
			ErrorDescription: "redirect_uris is required",
		}
	}
	if err := validateRedirectURIs(req.RedirectURIs); err != nil {
		return nil, err
	}
	if err := validateRedirectURIs(req.PostLogoutRedirectURIs); err != nil {
		return nil, err
	}

	// 5. Validate client_name length
	if len(req.ClientName) > MaxClientNameLength {
		return nil, metadataError("client_name too long (maximum 256 characters)")
	}

	// 6. Validate/default scope
	scopes, err := ValidateScopes(req.Scope, allowedScopes)
	if err != nil {
		return nil, err
	}

	// 7. Validate key material and algorithms
	if err := validateKeys(req, authMethod); err != nil {
		return nil, err
	}
	if err := validateAlgorithms(req); err != nil {
		return nil, err
	}

	encEnc := req.IDTokenEncryptedResponseEnc
	if req.IDTokenEncryptedResponseAlg != "" && encEnc == "" {
		encEnc = tokens.DefaultIDTokenEncryptionEnc
	}

	// Return validated request with defaults applied
	return &DCRRequest{
		ClientID:                    req.ClientID,
		RedirectURIs:                req.RedirectURIs,
		PostLogoutRedirectURIs:      req.PostLogoutRedirectURIs,
		ClientName:                  req.ClientName,
		TokenEndpointAuthMethod:     authMethod,
		GrantTypes:                  grantTypes,
		ResponseTypes:               responseTypes,
		Scope:                       server.FormatScope(scopes),
		JWKS:                        req.JWKS,
		JWKSURI:                     req.JWKSURI,
		IDTokenSignedResponseAlg:    req.IDTokenSignedResponseAlg,
		IDTokenEncryptedResponseAlg: req.IDTokenEncryptedResponseAlg,
		IDTokenEncryptedResponseEnc: encEnc,
		RequestObjectSigningAlg:     req.RequestObjectSigningAlg,
		TokenEndpointAuthSigningAlg: req.TokenEndpointAuthSigningAlg,
	}, nil
}

func metadataError(description string) *DCRError {
	return &DCRError{Error: DCRErrorInvalidClientMetadata, ErrorDescription: description}
}

func validateRedirectURIs(uris []string) *DCRError {
	if len(uris) > MaxRedirectURICount {
		return &DCRError{
			Error:            DCRErrorInvalidRedirectURI,
			ErrorDescription: fmt.Sprintf("too many redirect URIs (maximum %d)", MaxRedirectURICount),
		}
	}
	for _, uri := range uris {
		if err := ValidateRedirectURI(uri); err != nil {
			return err
		}
	}
	return nil
}

func validateGrantTypes(grantTypes []string, public bool) ([]string, *DCRError) {
	if len(grantTypes) == 0 {
		grantTypes = defaultGrantTypes
	}
	grantTypes = slices.Compact(slices.Clone(grantTypes))
	for _, gt := range grantTypes {
		if !allowedGrantTypes[gt] {
			return nil, metadataError("unsupported grant_type: " + gt)
		}
		if public && slices.Contains(confidentialOnlyGrantTypes, gt) {
			return nil, metadataError("grant_type " + gt + " requires client authentication")
		}
	}
	// A refresh token is only obtainable through another grant.
	if len(grantTypes) == 1 && grantTypes[0] == tokens.GrantRefreshToken {
		return nil, metadataError("grant_types must include a grant that issues refresh tokens")
	}
	return grantTypes, nil
}

func validateResponseTypes(responseTypes, grantTypes []string) ([]string, *DCRError) {
	if len(responseTypes) == 0 {
		if !slices.Contains(grantTypes, tokens.GrantAuthorizationCode) {
			return []string{}, nil
		}
		responseTypes = defaultResponseTypes
	}
	for _, rt := range responseTypes {
		parts := fosite.Arguments(strings.Fields(rt))
		if !slices.ContainsFunc(authorize.SupportedResponseTypes, func(s string) bool {
			return parts.Matches(strings.Fields(s)...)
		}) {
			return nil, metadataError("unsupported response_type: " + rt)
		}
		if parts.Has(authorize.ResponseTypeCode) && !slices.Contains(grantTypes, tokens.GrantAuthorizationCode) {
			return nil, metadataError("response_type " + rt + " requires the authorization_code grant")
		}
		if (parts.Has(authorize.ResponseTypeToken) || parts.Has(authorize.ResponseTypeIDToken)) &&
			!slices.Contains(grantTypes, tokens.GrantImplicit) {
			return nil, metadataError("response_type " + rt + " requires the implicit grant")
		}
	}
	return responseTypes, nil
}

// ValidateScopes parses a space-separated scope value and checks every entry
// against allowedScopes. An empty value yields DefaultScopes, which must
// themselves be allowed.
func ValidateScopes(scope string, allowedScopes []string) ([]string, *DCRError) {
	scopes := server.ParseScope(scope)
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	for _, s := range scopes {
		if !slices.Contains(allowedScopes, s) {
			return nil, metadataError("unsupported scope: " + s)
		}
	}
	return slices.Clone(scopes), nil
}

func validateKeys(req *DCRRequest, authMethod string) *DCRError {
	if req.JWKS != nil && req.JWKSURI != "" {
		return metadataError("jwks and jwks_uri are mutually exclusive")
	}
	if req.JWKS != nil {
		raw, err := marshalJWKS(req.JWKS)
		if err != nil {
			return metadataError("jwks is not a valid JWK set")
		}
		if len(raw) > MaxJWKSLength {
			return metadataError("jwks is too large")
		}
		set, err := jwk.Parse(raw)
		if err != nil || set.Len() == 0 {
			return metadataError("jwks is not a valid JWK set")
		}
	}
	if req.JWKSURI != "" {
		if err := validateHTTPSURL(req.JWKSURI); err != nil {
			return metadataError("jwks_uri must be an absolute https URL")
		}
	}

	hasKeys := req.JWKS != nil || req.JWKSURI != ""
	if authMethod == string(storage.AuthMethodPrivateKeyJWT) && !hasKeys {
		return metadataError("private_key_jwt requires jwks or jwks_uri")
	}
	if req.IDTokenEncryptedResponseAlg != "" && !hasKeys {
		return metadataError("ID token encryption requires jwks or jwks_uri")
	}
	if slices.Contains(req.GrantTypes, tokens.GrantJWTBearer) && !hasKeys {
		return metadataError("the jwt-bearer grant requires jwks or jwks_uri")
	}
	return nil
}

// SupportedEncryptionAlgs are the JWE key management algorithms accepted for ID tokens.
var SupportedEncryptionAlgs = []string{"RSA-OAEP", "RSA-OAEP-256", "ECDH-ES", "ECDH-ES+A128KW", "ECDH-ES+A256KW"}

// SupportedEncryptionEncs are the JWE content encryption algorithms accepted for ID tokens.
var SupportedEncryptionEncs = []string{"A128CBC-HS256", "A256CBC-HS512", "A128GCM", "A256GCM"}

func validateAlgorithms(req *DCRRequest) *DCRError {
	if alg := req.IDTokenSignedResponseAlg; alg != "" && !slices.Contains(clients.AsymmetricMethods, alg) {
		return metadataError("unsupported id_token_signed_response_alg: " + alg)
	}
	for name, alg := range map[string]string{
		"request_object_signing_alg":      req.RequestObjectSigningAlg,
		"token_endpoint_auth_signing_alg": req.TokenEndpointAuthSigningAlg,
	} {
		if alg != "" && !slices.Contains(clients.AsymmetricMethods, alg) {
			return metadataError("unsupported " + name + ": " + alg)
		}
	}
	if alg := req.IDTokenEncryptedResponseAlg; alg != "" && !slices.Contains(SupportedEncryptionAlgs, alg) {
		return metadataError("unsupported id_token_encrypted_response_alg: " + alg)
	}
	if enc := req.IDTokenEncryptedResponseEnc; enc != "" {
		if req.IDTokenEncryptedResponseAlg == "" {
			return metadataError("id_token_encrypted_response_enc requires id_token_encrypted_response_alg")
		}
		if !slices.Contains(SupportedEncryptionEncs, enc) {
			return metadataError("unsupported id_token_encrypted_response_enc: " + enc)
		}
	}
	return nil
}
