// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server/authorize"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/clients"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/crypto"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/registration"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/tokens"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
	"github.com/stacklok/toolhive-idp/pkg/logger"
)

// Cache-Control max-age values for discovery endpoints.
const (
	// DefaultJWKSCacheMaxAge is the Cache-Control max-age for the JWKS endpoint (1 hour).
	// This balances caching efficiency with timely key rotation propagation.
	DefaultJWKSCacheMaxAge = 3600

	// DefaultDiscoveryCacheMaxAge is the Cache-Control max-age for the discovery endpoint (1 hour).
	// Aligned with Google's OIDC discovery cache policy.
	DefaultDiscoveryCacheMaxAge = 3600
)

// AuthorizationServerMetadata is the OAuth 2.0 Authorization Server Metadata (RFC 8414).
type AuthorizationServerMetadata struct {
	Issuer                                     string   `json:"issuer"`
	AuthorizationEndpoint                      string   `json:"authorization_endpoint"`
	TokenEndpoint                              string   `json:"token_endpoint"`
	JWKSURI                                    string   `json:"jwks_uri"`
	RegistrationEndpoint                       string   `json:"registration_endpoint,omitempty"`
	RevocationEndpoint                         string   `json:"revocation_endpoint"`
	IntrospectionEndpoint                      string   `json:"introspection_endpoint"`
	ScopesSupported                            []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported                     []string `json:"response_types_supported"`
	ResponseModesSupported                     []string `json:"response_modes_supported"`
	GrantTypesSupported                        []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported          []string `json:"token_endpoint_auth_methods_supported"`
	TokenEndpointAuthSigningAlgValuesSupported []string `json:"token_endpoint_auth_signing_alg_values_supported,omitempty"`
	CodeChallengeMethodsSupported              []string `json:"code_challenge_methods_supported"`
	PromptValuesSupported                      []string `json:"prompt_values_supported"`
}

// OIDCDiscoveryDocument extends the RFC 8414 metadata with OpenID Connect
// Discovery 1.0 fields.
type OIDCDiscoveryDocument struct {
	AuthorizationServerMetadata

	UserInfoEndpoint                       string   `json:"userinfo_endpoint"`
	SubjectTypesSupported                  []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported       []string `json:"id_token_signing_alg_values_supported"`
	IDTokenEncryptionAlgValuesSupported    []string `json:"id_token_encryption_alg_values_supported"`
	IDTokenEncryptionEncValuesSupported    []string `json:"id_token_encryption_enc_values_supported"`
	RequestObjectSigningAlgValuesSupported []string `json:"request_object_signing_alg_values_supported"`
	RequestParameterSupported              bool     `json:"request_parameter_supported"`
	RequestURIParameterSupported           bool     `json:"request_uri_parameter_supported"`
	ClaimsSupported                        []string `json:"claims_supported"`
}

// getSigningAlgorithms returns the algorithms of the server's signing keys.
// Without signing keys ID tokens are unsecured and "none" is advertised.
func (h *Handler) getSigningAlgorithms(ctx context.Context) []string {
	algs := h.deps.Keys.Algorithms(ctx)
	if len(algs) == 0 {
		return []string{"none"}
	}
	return algs
}

// JWKSHandler handles GET /.well-known/jwks.json requests.
// It returns the public keys used for verifying JWTs.
func (h *Handler) JWKSHandler(w http.ResponseWriter, r *http.Request) {
	publicJWKS, err := h.deps.Keys.JWKS(r.Context())
	if err != nil {
		logger.Errorw("failed to load JWKS", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", DefaultJWKSCacheMaxAge))
	writeJSON(w, http.StatusOK, publicJWKS)
}

// buildOAuthMetadata constructs the base OAuth 2.0 Authorization Server Metadata (RFC 8414).
// This is shared between the OAuth AS metadata endpoint and the OIDC discovery endpoint.
func (h *Handler) buildOAuthMetadata() AuthorizationServerMetadata {
	issuer := h.config.Issuer

	authMethods := []string{
		string(storage.AuthMethodClientSecretBasic),
		string(storage.AuthMethodClientSecretPost),
		string(storage.AuthMethodNone),
	}
	var authSigningAlgs []string
	if h.deps.Clients.SignedAuthenticationEnabled() {
		authMethods = append(authMethods, string(storage.AuthMethodPrivateKeyJWT))
		authSigningAlgs = clients.AsymmetricMethods
	}

	metadata := AuthorizationServerMetadata{
		// REQUIRED
		Issuer: issuer,

		// RECOMMENDED
		AuthorizationEndpoint:  issuer + AuthorizePath,
		TokenEndpoint:          issuer + TokenPath,
		JWKSURI:                issuer + JWKSPath,
		RevocationEndpoint:     issuer + RevokePath,
		IntrospectionEndpoint:  issuer + IntrospectPath,
		ScopesSupported:        h.config.ScopesSupported,
		ResponseTypesSupported: authorize.SupportedResponseTypes,

		// OPTIONAL
		ResponseModesSupported:                     []string{authorize.ResponseModeQuery, authorize.ResponseModeFragment},
		GrantTypesSupported:                        grantTypesSupported(h.deps.Engine.GrantTypes(), authorize.SupportedResponseTypes),
		TokenEndpointAuthMethodsSupported:          authMethods,
		TokenEndpointAuthSigningAlgValuesSupported: authSigningAlgs,
		CodeChallengeMethodsSupported:              []string{crypto.PKCEChallengeMethodS256, crypto.PKCEChallengeMethodPlain},
		PromptValuesSupported: []string{
			authorize.PromptNone, authorize.PromptLogin, authorize.PromptConsent, authorize.PromptSelectAccount,
		},
	}
	if h.deps.Registration != nil {
		metadata.RegistrationEndpoint = issuer + RegistrationPath
	}
	if h.config.RegistrationURL != "" {
		metadata.PromptValuesSupported = append(metadata.PromptValuesSupported, authorize.PromptCreate)
	}
	return metadata
}

// grantTypesSupported lists the token endpoint grants plus "implicit" when a
// response type returns tokens from the authorization endpoint.
func grantTypesSupported(grants, responseTypes []string) []string {
	out := slices.Clone(grants)
	if slices.Contains(out, tokens.GrantImplicit) {
		return out
	}
	for _, rt := range responseTypes {
		for _, part := range strings.Fields(rt) {
			if part == "token" || part == "id_token" {
				return append(out, tokens.GrantImplicit)
			}
		}
	}
	return out
}

// OAuthDiscoveryHandler handles GET /.well-known/oauth-authorization-server requests.
// It returns the OAuth 2.0 Authorization Server Metadata per RFC 8414.
// This endpoint is useful for non-OIDC OAuth clients.
func (h *Handler) OAuthDiscoveryHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", DefaultDiscoveryCacheMaxAge))
	writeJSON(w, http.StatusOK, h.buildOAuthMetadata())
}

// OIDCDiscoveryHandler handles GET /.well-known/openid-configuration requests.
// It returns the OIDC discovery document describing the authorization server capabilities.
// This extends the OAuth 2.0 AS Metadata (RFC 8414) with OIDC-specific fields.
func (h *Handler) OIDCDiscoveryHandler(w http.ResponseWriter, r *http.Request) {
	discovery := OIDCDiscoveryDocument{
		// Include all OAuth 2.0 AS Metadata (RFC 8414)
		AuthorizationServerMetadata: h.buildOAuthMetadata(),

		UserInfoEndpoint:                       h.config.Issuer + UserInfoPath,
		SubjectTypesSupported:                  []string{"public"},
		IDTokenSigningAlgValuesSupported:       h.getSigningAlgorithms(r.Context()),
		IDTokenEncryptionAlgValuesSupported:    registration.SupportedEncryptionAlgs,
		IDTokenEncryptionEncValuesSupported:    registration.SupportedEncryptionEncs,
		RequestObjectSigningAlgValuesSupported: clients.AsymmetricMethods,
		RequestParameterSupported:              true,
		RequestURIParameterSupported:           true,
		ClaimsSupported: []string{
			"sub", "iss", "aud", "exp", "iat", "auth_time", "nonce", "amr", "azp",
			"name", "preferred_username", "email", "email_verified",
		},
	}

	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", DefaultDiscoveryCacheMaxAge))
	writeJSON(w, http.StatusOK, discovery)
}
