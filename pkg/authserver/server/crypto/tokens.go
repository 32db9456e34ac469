// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
)

// NewHMACSecrets creates HMACSecrets from a current secret and optional
// rotated secrets.
func NewHMACSecrets(current []byte, rotated ...[]byte) *HMACSecrets {
	return &HMACSecrets{Current: current, Rotated: rotated}
}

// EphemeralHMACSecrets returns a random secret. Tokens signed with it are
// invalid after a restart.
func EphemeralHMACSecrets() *HMACSecrets {
	slog.Warn("no HMAC secret configured, generated ephemeral secret - tokens will be invalid after restart")
	secret := make([]byte, MinSecretLength)
	_, _ = rand.Read(secret)
	return &HMACSecrets{Current: secret}
}

// Validate checks every secret against MinSecretLength.
func (s *HMACSecrets) Validate() error {
	if s == nil {
		return errors.New("HMAC secrets are required")
	}
	if len(s.Current) < MinSecretLength {
		return fmt.Errorf("current HMAC secret must be at least %d bytes", MinSecretLength)
	}
	for i, r := range s.Rotated {
		if len(r) < MinSecretLength {
			return fmt.Errorf("rotated HMAC secret [%d] must be at least %d bytes", i, MinSecretLength)
		}
	}
	return nil
}

// HalfHash computes the at_hash/c_hash value for an ID token: the left half of
// the hash of value, base64url encoded. The hash follows the signing algorithm.
func HalfHash(alg, value string) string {
	var sum []byte
	switch alg {
	case "RS384", "ES384", "PS384":
		s := sha512.Sum384([]byte(value))
		sum = s[:]
	case "RS512", "ES512", "PS512", "EdDSA":
		s := sha512.Sum512([]byte(value))
		sum = s[:]
	default:
		s := sha256.Sum256([]byte(value))
		sum = s[:]
	}
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}
