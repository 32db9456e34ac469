// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package keys sources the asymmetric keys of the authorization server.
//
// A KeyProvider yields the signing keys (from PEM files, generated on first
// use, or none at all) and the Manager picks the key for each client and
// serves the public half as a JWK set.
package keys

import (
	"crypto"
	"errors"
	"time"
)

// DefaultAlgorithm is used for generated keys when no algorithm is configured.
const DefaultAlgorithm = "ES256"

var (
	// ErrNoSigningKey is returned when signing is requested from a server without keys.
	ErrNoSigningKey = errors.New("no signing key configured")

	// ErrUnknownKey is returned for a key ID outside the published key set.
	ErrUnknownKey = errors.New("unknown key id")
)

// SigningKeyData is a private key together with the JOSE header values it signs with.
// It must never leave the process.
type SigningKeyData struct {
	KeyID     string
	Algorithm string
	Key       crypto.Signer
	// CreatedAt is the load or generation time.
	CreatedAt time.Time
}

// Public returns the publishable half of k.
func (k *SigningKeyData) Public() *PublicKeyData {
	return &PublicKeyData{
		KeyID:     k.KeyID,
		Algorithm: k.Algorithm,
		PublicKey: k.Key.Public(),
		CreatedAt: k.CreatedAt,
	}
}

// PublicKeyData is the verification half of a key, as listed in the JWKS.
type PublicKeyData struct {
	KeyID     string
	Algorithm string
	PublicKey crypto.PublicKey
	CreatedAt time.Time
}
