// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package registration

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/ory/fosite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJWKS() map[string]any {
	return map[string]any{"keys": []any{map[string]any{
		"kty": "EC", "crv": "P-256", "kid": "k1", "use": "sig",
		"x": "f83OJ3D2xF1Bg8vub9tLe1gHMzV76e8Tus9uPHvRVEU",
		"y": "x_FEzRu9m36HLN_tue659LNpXW6pCyStikYjKIWI5a0",
	}}}
}

func TestValidateDCRRequest(t *testing.T) {
	t.Parallel()

	allowed := []string{"openid", "profile", "email", "api:read"}

	tests := []struct {
		name               string
		request            *DCRRequest
		errorCode          string
		expectedAuthMethod string
		expectedGrants     []string
		expectedResponses  []string
		expectedScope      string
	}{
		// Valid requests
		{
			name:               "valid minimal request",
			request:            &DCRRequest{RedirectURIs: []string{"https://app.example.com/cb"}},
			expectedAuthMethod: "client_secret_basic",
			expectedGrants:     defaultGrantTypes,
			expectedResponses:  defaultResponseTypes,
			expectedScope:      "openid profile email",
		},
		{
			name: "public native client",
			request: &DCRRequest{
				RedirectURIs:            []string{"http://localhost:8080/callback", "myapp://callback"},
				ClientName:              "My Test Client",
				TokenEndpointAuthMethod: "none",
				Scope:                   "openid api:read",
			},
			expectedAuthMethod: "none",
			expectedGrants:     defaultGrantTypes,
			expectedResponses:  defaultResponseTypes,
			expectedScope:      "openid api:read",
		},
		{
			name: "hybrid client",
			request: &DCRRequest{
				RedirectURIs:  []string{"https://app.example.com/cb"},
				GrantTypes:    []string{"authorization_code", "implicit"},
				ResponseTypes: []string{"code id_token", "id_token"},
			},
			expectedAuthMethod: "client_secret_basic",
			expectedGrants:     []string{"authorization_code", "implicit"},
			expectedResponses:  []string{"code id_token", "id_token"},
		},
		{
			name: "machine client without redirect URIs",
			request: &DCRRequest{
				TokenEndpointAuthMethod: "client_secret_post",
				GrantTypes:              []string{"client_credentials"},
				Scope:                   "api:read",
			},
			expectedAuthMethod: "client_secret_post",
			expectedGrants:     []string{"client_credentials"},
			expectedResponses:  []string{},
		},
		{
			name: "private_key_jwt with inline keys",
			request: &DCRRequest{
				RedirectURIs:            []string{"https://app.example.com/cb"},
				TokenEndpointAuthMethod: "private_key_jwt",
				GrantTypes:              []string{"authorization_code", "urn:ietf:params:oauth:grant-type:jwt-bearer"},
				JWKS:                    testJWKS(),
				IDTokenSignedResponseAlg: "ES256",
			},
			expectedAuthMethod: "private_key_jwt",
		},

		// Redirect URIs
		{name: "nil redirect_uris", request: &DCRRequest{}, errorCode: DCRErrorInvalidRedirectURI},
		{
			name:      "too many redirect_uris",
			request:   &DCRRequest{RedirectURIs: slices.Repeat([]string{"https://app.example.com/cb"}, MaxRedirectURICount+1)},
			errorCode: DCRErrorInvalidRedirectURI,
		},
		{
			name:      "non-loopback http",
			request:   &DCRRequest{RedirectURIs: []string{"http://app.example.com/cb"}},
			errorCode: DCRErrorInvalidRedirectURI,
		},
		{
			name: "invalid post logout redirect",
			request: &DCRRequest{
				RedirectURIs:           []string{"https://app.example.com/cb"},
				PostLogoutRedirectURIs: []string{"javascript:alert(1)"},
			},
			errorCode: DCRErrorInvalidRedirectURI,
		},

		// Metadata
		{
			name:      "client_name too long",
			request:   &DCRRequest{RedirectURIs: []string{"https://a.example.com/cb"}, ClientName: strings.Repeat("a", MaxClientNameLength+1)},
			errorCode: DCRErrorInvalidClientMetadata,
		},
		{
			name:      "unsupported auth method",
			request:   &DCRRequest{RedirectURIs: []string{"https://a.example.com/cb"}, TokenEndpointAuthMethod: "client_secret_jwt"},
			errorCode: DCRErrorInvalidClientMetadata,
		},
		{
			name:      "password grant",
			request:   &DCRRequest{RedirectURIs: []string{"https://a.example.com/cb"}, GrantTypes: []string{"authorization_code", "password"}},
			errorCode: DCRErrorInvalidClientMetadata,
		},
		{
			name:      "refresh_token only",
			request:   &DCRRequest{GrantTypes: []string{"refresh_token"}},
			errorCode: DCRErrorInvalidClientMetadata,
		},
		{
			name: "public client credentials",
			request: &DCRRequest{
				TokenEndpointAuthMethod: "none",
				GrantTypes:              []string{"client_credentials"},
			},
			errorCode: DCRErrorInvalidClientMetadata,
		},
		{
			name: "token response without implicit grant",
			request: &DCRRequest{
				RedirectURIs:  []string{"https://a.example.com/cb"},
				ResponseTypes: []string{"code token"},
			},
			errorCode: DCRErrorInvalidClientMetadata,
		},
		{
			name: "unknown response type",
			request: &DCRRequest{
				RedirectURIs:  []string{"https://a.example.com/cb"},
				ResponseTypes: []string{"device_code"},
			},
			errorCode: DCRErrorInvalidClientMetadata,
		},
		{
			name:      "scope outside allowed set",
			request:   &DCRRequest{RedirectURIs: []string{"https://a.example.com/cb"}, Scope: "openid admin"},
			errorCode: DCRErrorInvalidClientMetadata,
		},
		{
			name: "private_key_jwt without keys",
			request: &DCRRequest{
				RedirectURIs:            []string{"https://a.example.com/cb"},
				TokenEndpointAuthMethod: "private_key_jwt",
			},
			errorCode: DCRErrorInvalidClientMetadata,
		},
		{
			name: "jwks and jwks_uri",
			request: &DCRRequest{
				RedirectURIs: []string{"https://a.example.com/cb"},
				JWKS:         testJWKS(),
				JWKSURI:      "https://a.example.com/jwks.json",
			},
			errorCode: DCRErrorInvalidClientMetadata,
		},
		{
			name: "invalid jwks",
			request: &DCRRequest{
				RedirectURIs: []string{"https://a.example.com/cb"},
				JWKS:         map[string]any{"keys": "nope"},
			},
			errorCode: DCRErrorInvalidClientMetadata,
		},
		{
			name: "http jwks_uri",
			request: &DCRRequest{
				RedirectURIs: []string{"https://a.example.com/cb"},
				JWKSURI:      "http://a.example.com/jwks.json",
			},
			errorCode: DCRErrorInvalidClientMetadata,
		},
		{
			name: "symmetric id token algorithm",
			request: &DCRRequest{
				RedirectURIs:             []string{"https://a.example.com/cb"},
				IDTokenSignedResponseAlg: "HS256",
			},
			errorCode: DCRErrorInvalidClientMetadata,
		},
		{
			name: "encryption enc without alg",
			request: &DCRRequest{
				RedirectURIs:                []string{"https://a.example.com/cb"},
				JWKSURI:                     "https://a.example.com/jwks.json",
				IDTokenEncryptedResponseEnc: "A128GCM",
			},
			errorCode: DCRErrorInvalidClientMetadata,
		},
		{
			name: "encryption without keys",
			request: &DCRRequest{
				RedirectURIs:                []string{"https://a.example.com/cb"},
				IDTokenEncryptedResponseAlg: "RSA-OAEP-256",
			},
			errorCode: DCRErrorInvalidClientMetadata,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result, dcrErr := ValidateDCRRequest(tt.request, allowed)

			if tt.errorCode != "" {
				require.NotNil(t, dcrErr, "expected error")
				assert.Equal(t, tt.errorCode, dcrErr.Error)
				assert.Nil(t, result)
				return
			}
			require.Nil(t, dcrErr, "unexpected error: %v", dcrErr)
			require.NotNil(t, result)

			assert.Equal(t, tt.expectedAuthMethod, result.TokenEndpointAuthMethod)
			if tt.expectedGrants != nil {
				assert.ElementsMatch(t, tt.expectedGrants, result.GrantTypes)
			}
			if tt.expectedResponses != nil {
				assert.ElementsMatch(t, tt.expectedResponses, result.ResponseTypes)
			}
			if tt.expectedScope != "" {
				assert.Equal(t, tt.expectedScope, result.Scope)
			}

			// Verify redirect_uris and client_name are preserved
			assert.Equal(t, tt.request.RedirectURIs, result.RedirectURIs)
			assert.Equal(t, tt.request.ClientName, result.ClientName)
		})
	}
}

func TestValidateDCRRequest_EncryptionDefaults(t *testing.T) {
	t.Parallel()

	result, dcrErr := ValidateDCRRequest(&DCRRequest{
		RedirectURIs:                []string{"https://a.example.com/cb"},
		JWKSURI:                     "https://a.example.com/jwks.json",
		IDTokenEncryptedResponseAlg: "RSA-OAEP-256",
	}, DefaultScopes)
	require.Nil(t, dcrErr)
	assert.Equal(t, "A128CBC-HS256", result.IDTokenEncryptedResponseEnc)
}

func TestDCRError_Err(t *testing.T) {
	t.Parallel()

	var rfcErr *fosite.RFC6749Error
	err := (&DCRError{Error: DCRErrorInvalidRedirectURI, ErrorDescription: "bad"}).Err()
	require.True(t, errors.As(err, &rfcErr))
	assert.Equal(t, "invalid_redirect_uri", rfcErr.ErrorField)
	assert.Equal(t, "bad", rfcErr.HintField)

	err = (&DCRError{Error: DCRErrorInvalidClientMetadata, ErrorDescription: "worse"}).Err()
	require.True(t, errors.As(err, &rfcErr))
	assert.Equal(t, "invalid_client_metadata", rfcErr.ErrorField)
}
