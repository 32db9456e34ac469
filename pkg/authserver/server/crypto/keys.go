// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package crypto provides key loading, algorithm derivation, HMAC secret handling,
// opaque token minting and PKCE verification for the authorization server.
package crypto

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/go-jose/go-jose/v4"
)

// MinRSAKeyBits is the smallest RSA modulus accepted for signing keys.
const MinRSAKeyBits = 2048

// MinSecretLength is the minimum length in bytes of an HMAC secret.
const MinSecretLength = 32

// LoadSigningKey loads a private key from a PEM file.
// Supports RSA (PKCS1 and PKCS8), ECDSA (SEC1 and PKCS8) and Ed25519 (PKCS8) keys.
func LoadSigningKey(keyPath string) (crypto.Signer, error) {
	keyPEM, err := os.ReadFile(keyPath) // #nosec G304 - keyPath is provided by configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	return ParseSigningKey(keyPEM)
}

// ParseSigningKey parses a PEM encoded private key.
func ParseSigningKey(keyPEM []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("failed to decode PEM block from signing key")
	}

	var signer crypto.Signer
	if rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		signer = rsaKey
	} else if ecKey, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		signer = ecKey
	} else {
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
		var ok bool
		signer, ok = key.(crypto.Signer)
		if !ok {
			return nil, errors.New("signing key does not implement crypto.Signer")
		}
	}

	if rsaKey, ok := signer.(*rsa.PrivateKey); ok && rsaKey.N.BitLen() < MinRSAKeyBits {
		return nil, fmt.Errorf("RSA key size %d bits is below minimum required %d bits",
			rsaKey.N.BitLen(), MinRSAKeyBits)
	}
	return signer, nil
}

// DeriveKeyID computes a key ID from the public key using the RFC 7638 JWK thumbprint.
func DeriveKeyID(key crypto.Signer) (string, error) {
	jwk := jose.JSONWebKey{Key: key.Public()}
	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute key thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(thumbprint), nil
}

// DeriveAlgorithm determines the JWS algorithm for the given key.
func DeriveAlgorithm(key crypto.Signer) (string, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return "RS256", nil
	case *ecdsa.PrivateKey:
		return deriveECAlgorithm(k.Curve)
	case ed25519.PrivateKey:
		return "EdDSA", nil
	default:
		return "", fmt.Errorf("unsupported key type: %T", key)
	}
}

func deriveECAlgorithm(curve elliptic.Curve) (string, error) {
	switch curve {
	case elliptic.P256():
		return "ES256", nil
	case elliptic.P384():
		return "ES384", nil
	case elliptic.P521():
		return "ES512", nil
	default:
		return "", fmt.Errorf("unsupported EC curve: %s", curve.Params().Name)
	}
}

// ValidateAlgorithmForKey checks that alg can be produced with key.
func ValidateAlgorithmForKey(alg string, key crypto.Signer) error {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		switch alg {
		case "RS256", "RS384", "RS512", "PS256", "PS384", "PS512":
			return nil
		default:
			return fmt.Errorf("algorithm %s is not compatible with RSA key", alg)
		}
	case *ecdsa.PrivateKey:
		expectedAlg, err := deriveECAlgorithm(k.Curve)
		if err != nil {
			return err
		}
		if alg != expectedAlg {
			return fmt.Errorf("algorithm %s is not compatible with EC key using curve %s (expected %s)",
				alg, k.Curve.Params().Name, expectedAlg)
		}
		return nil
	case ed25519.PrivateKey:
		if alg != "EdDSA" {
			return fmt.Errorf("algorithm %s is not compatible with Ed25519 key", alg)
		}
		return nil
	default:
		return fmt.Errorf("unsupported key type: %T", key)
	}
}

// SigningKeyParams contains the derived or configured parameters for a signing key.
type SigningKeyParams struct {
	Key       crypto.Signer
	KeyID     string
	Algorithm string
}

// DeriveSigningKeyParams derives missing key parameters and validates provided ones.
func DeriveSigningKeyParams(key crypto.Signer, keyID, algorithm string) (*SigningKeyParams, error) {
	params := &SigningKeyParams{Key: key, KeyID: keyID, Algorithm: algorithm}

	if params.KeyID == "" {
		derivedID, err := DeriveKeyID(key)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key ID: %w", err)
		}
		params.KeyID = derivedID
	}

	if params.Algorithm == "" {
		derivedAlg, err := DeriveAlgorithm(key)
		if err != nil {
			return nil, fmt.Errorf("failed to derive algorithm: %w", err)
		}
		params.Algorithm = derivedAlg
	} else if err := ValidateAlgorithmForKey(params.Algorithm, key); err != nil {
		return nil, err
	}

	return params, nil
}

// HMACSecrets holds the current secret that signs new opaque tokens and the
// rotated secrets still accepted when validating them.
type HMACSecrets struct {
	Current []byte
	Rotated [][]byte
}

// LoadHMACSecrets reads the current secret from paths[0] and rotated secrets from
// the remaining paths. Empty rotated paths are skipped. An empty slice returns nil.
func LoadHMACSecrets(paths []string) (*HMACSecrets, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	if paths[0] == "" {
		return nil, errors.New("current HMAC secret path cannot be empty")
	}

	current, err := loadHMACSecret(paths[0])
	if err != nil {
		return nil, fmt.Errorf("failed to load current HMAC secret: %w", err)
	}

	secrets := &HMACSecrets{Current: current}
	for i, path := range paths[1:] {
		if path == "" {
			continue
		}
		rotated, err := loadHMACSecret(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load rotated HMAC secret [%d]: %w", i+1, err)
		}
		secrets.Rotated = append(secrets.Rotated, rotated)
	}
	return secrets, nil
}

func loadHMACSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is provided by configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read HMAC secret file: %w", err)
	}
	// Kubernetes Secret mounts often add trailing newlines.
	secret := bytes.TrimSpace(data)
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("HMAC secret must be at least %d bytes, got %d bytes", MinSecretLength, len(secret))
	}
	return secret, nil
}
