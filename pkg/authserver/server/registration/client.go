// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package registration

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// DefaultGrantTypes are used when Config.GrantTypes is empty.
var DefaultGrantTypes = defaultGrantTypes

// DefaultResponseTypes are used when Config.ResponseTypes is empty.
var DefaultResponseTypes = defaultResponseTypes

// Config describes a client to create, either from configuration or from a
// validated registration request.
type Config struct {
	ID     string
	Name   string
	Secret string
	// SecretHash is used instead of hashing Secret when set.
	SecretHash string
	// AuthMethod defaults to client_secret_basic, or none for public clients.
	AuthMethod             storage.TokenEndpointAuthMethod
	Public                 bool
	RedirectURIs           []string
	PostLogoutRedirectURIs []string
	GrantTypes             []string
	// ResponseTypes defaults when nil; an empty list is kept.
	ResponseTypes []string
	Scopes        []string
	DefaultScopes []string
	Audience      []string
	Trusted       bool
	Preconsented  bool
	JWKS          string
	JWKSURI       string

	IDTokenSignedResponseAlg    string
	IDTokenEncryptedResponseAlg string
	IDTokenEncryptedResponseEnc string
	RequestObjectSigningAlg     string
	TokenEndpointAuthSigningAlg string

	RegisteredDynamically bool
}

// New creates a storage client from cfg, applying defaults and hashing the
// secret with bcrypt. Confidential secret-based clients require a secret.
func New(cfg Config) (*storage.Client, error) {
	if cfg.ID == "" {
		return nil, errors.New("client ID is required")
	}

	method := cfg.AuthMethod
	switch {
	case cfg.Public:
		method = storage.AuthMethodNone
	case method == "":
		method = storage.AuthMethodClientSecretBasic
	}

	var secretHash string
	switch method {
	case storage.AuthMethodClientSecretBasic, storage.AuthMethodClientSecretPost:
		if cfg.SecretHash != "" {
			secretHash = cfg.SecretHash
			break
		}
		if cfg.Secret == "" {
			return nil, errors.New("confidential client requires a secret")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash client secret: %w", err)
		}
		secretHash = string(hash)
	case storage.AuthMethodPrivateKeyJWT:
		if cfg.JWKS == "" && cfg.JWKSURI == "" {
			return nil, errors.New("private_key_jwt client requires jwks or jwks_uri")
		}
	}

	now := time.Now().UTC()
	return &storage.Client{
		ID:                          cfg.ID,
		SecretHash:                  secretHash,
		Name:                        cfg.Name,
		GrantTypes:                  orDefault(cfg.GrantTypes, DefaultGrantTypes),
		ResponseTypes:               responseTypes(cfg.ResponseTypes),
		RedirectURIs:                slices.Clone(cfg.RedirectURIs),
		PostLogoutRedirectURIs:      slices.Clone(cfg.PostLogoutRedirectURIs),
		Scopes:                      orDefault(cfg.Scopes, DefaultScopes),
		DefaultScopes:               slices.Clone(cfg.DefaultScopes),
		TokenEndpointAuthMethod:     method,
		Trusted:                     cfg.Trusted,
		Preconsented:                cfg.Preconsented,
		Audience:                    slices.Clone(cfg.Audience),
		IDTokenSignedResponseAlg:    cfg.IDTokenSignedResponseAlg,
		IDTokenEncryptedResponseAlg: cfg.IDTokenEncryptedResponseAlg,
		IDTokenEncryptedResponseEnc: cfg.IDTokenEncryptedResponseEnc,
		RequestObjectSigningAlg:     cfg.RequestObjectSigningAlg,
		TokenEndpointAuthSigningAlg: cfg.TokenEndpointAuthSigningAlg,
		JWKS:                        cfg.JWKS,
		JWKSURI:                     cfg.JWKSURI,
		RegisteredDynamically:       cfg.RegisteredDynamically,
		CreatedAt:                   now,
		UpdatedAt:                   now,
	}, nil
}

// responseTypes keeps an explicitly empty list for clients without a
// redirect-based grant.
func responseTypes(values []string) []string {
	if values == nil {
		return slices.Clone(DefaultResponseTypes)
	}
	return slices.Clone(values)
}

func orDefault(values, defaults []string) []string {
	if len(values) == 0 {
		return slices.Clone(defaults)
	}
	return slices.Clone(values)
}
