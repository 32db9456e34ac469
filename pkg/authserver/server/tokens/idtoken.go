// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tokens

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/go-jose/go-jose/v4"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server"
	servercrypto "github.com/stacklok/toolhive-idp/pkg/authserver/server/crypto"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/keys"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// DefaultIDTokenEncryptionEnc is the content encryption used when a client
// registered an alg without an enc (OpenID Connect Registration Section 2).
const DefaultIDTokenEncryptionEnc = "A128CBC-HS256"

// IDTokenRequest describes an ID token. AccessToken and Code, when set,
// produce the at_hash and c_hash claims.
type IDTokenRequest struct {
	Request
	AccessToken string
	Code        string
}

// IDTokenClaims is the ID token payload.
type IDTokenClaims struct {
	Issuer            string   `json:"iss"`
	Subject           string   `json:"sub"`
	Audience          []string `json:"aud"`
	AuthorizedParty   string   `json:"azp"`
	ExpiresAt         int64    `json:"exp"`
	IssuedAt          int64    `json:"iat"`
	AuthTime          int64    `json:"auth_time,omitempty"`
	Nonce             string   `json:"nonce,omitempty"`
	AMR               []string `json:"amr,omitempty"`
	Name              string   `json:"name,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	Email             string   `json:"email,omitempty"`
	EmailVerified     *bool    `json:"email_verified,omitempty"`
	AccessTokenHash   string   `json:"at_hash,omitempty"`
	CodeHash          string   `json:"c_hash,omitempty"`
}

// IDToken builds, signs and optionally encrypts an ID token. The client's
// id_token_signed_response_alg is preferred; without any signing key the
// token is unsecured (alg "none").
func (i *Issuer) IDToken(ctx context.Context, req IDTokenRequest) (string, error) {
	if req.Subject == nil {
		return "", errors.New("ID token requires a subject")
	}
	now := i.now()

	claims := IDTokenClaims{
		Issuer:          i.issuer,
		Subject:         req.Subject.ID,
		Audience:        req.Client.EffectiveAudience(),
		AuthorizedParty: req.Client.ID,
		ExpiresAt:       now.Add(i.policy.IDToken).Unix(),
		IssuedAt:        now.Unix(),
		Nonce:           req.Nonce,
		AMR:             req.AMR,
	}
	if !req.AuthTime.IsZero() {
		claims.AuthTime = req.AuthTime.Unix()
	}
	if slices.Contains(req.Scopes, server.ScopeProfile) {
		claims.Name = req.Subject.DisplayName
		claims.PreferredUsername = req.Subject.Username
	}
	if slices.Contains(req.Scopes, server.ScopeEmail) && req.Subject.Email != "" {
		verified := req.Subject.EmailVerified
		claims.Email = req.Subject.Email
		claims.EmailVerified = &verified
	}

	key, err := i.keys.SignerFor(ctx, req.Client.IDTokenSignedResponseAlg)
	var token string
	switch {
	case errors.Is(err, keys.ErrNoSigningKey):
		i.setHashes(&claims, "none", req)
		token, err = unsecuredJWT(claims)
	case err != nil:
		return "", err
	default:
		i.setHashes(&claims, key.Algorithm, req)
		token, err = keys.SignWithKey(key, claims, "JWT")
	}
	if err != nil {
		return "", fmt.Errorf("failed to sign ID token: %w", err)
	}

	if req.Client.IDTokenEncryptedResponseAlg == "" {
		return token, nil
	}
	return i.encrypt(ctx, req.Client, token)
}

func (*Issuer) setHashes(claims *IDTokenClaims, alg string, req IDTokenRequest) {
	if req.AccessToken != "" {
		claims.AccessTokenHash = servercrypto.HalfHash(alg, req.AccessToken)
	}
	if req.Code != "" {
		claims.CodeHash = servercrypto.HalfHash(alg, req.Code)
	}
}

// unsecuredJWT serializes claims as an unsecured JWT (RFC 7519 Section 6).
func unsecuredJWT(claims any) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".", nil
}

func (i *Issuer) encrypt(ctx context.Context, client *storage.Client, token string) (string, error) {
	if i.clientKeys == nil {
		return "", errors.New("ID token encryption is not available")
	}
	set, err := i.clientKeys.KeySet(ctx, client)
	if err != nil {
		return "", fmt.Errorf("failed to resolve client encryption key: %w", err)
	}
	raw, err := json.Marshal(set)
	if err != nil {
		return "", fmt.Errorf("failed to encode client keys: %w", err)
	}
	var joseSet jose.JSONWebKeySet
	if err := json.Unmarshal(raw, &joseSet); err != nil {
		return "", fmt.Errorf("failed to decode client keys: %w", err)
	}

	recipient, ok := encryptionKey(joseSet)
	if !ok {
		return "", errors.New("client has no encryption key")
	}

	enc := client.IDTokenEncryptedResponseEnc
	if enc == "" {
		enc = DefaultIDTokenEncryptionEnc
	}
	encrypter, err := jose.NewEncrypter(
		jose.ContentEncryption(enc),
		jose.Recipient{
			Algorithm: jose.KeyAlgorithm(client.IDTokenEncryptedResponseAlg),
			Key:       recipient.Key,
			KeyID:     recipient.KeyID,
		},
		(&jose.EncrypterOptions{}).WithType("JWT").WithContentType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create encrypter: %w", err)
	}
	obj, err := encrypter.Encrypt([]byte(token))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt ID token: %w", err)
	}
	slog.Debug("encrypted ID token", "client_id", client.ID, "alg", client.IDTokenEncryptedResponseAlg)
	return obj.CompactSerialize()
}

// encryptionKey picks the first key marked for encryption, or else the first
// key without a use.
func encryptionKey(set jose.JSONWebKeySet) (jose.JSONWebKey, bool) {
	for _, k := range set.Keys {
		if k.Use == "enc" {
			return k, true
		}
	}
	for _, k := range set.Keys {
		if k.Use == "" {
			return k, true
		}
	}
	return jose.JSONWebKey{}, false
}
