// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	servercrypto "github.com/stacklok/toolhive-idp/pkg/authserver/server/crypto"
)

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks -source=provider.go KeyProvider

// KeyProvider is the source of the server's asymmetric keys.
type KeyProvider interface {
	// SigningKeys returns the keys new signatures may use, default first.
	// No keys means the server runs without asymmetric keys.
	SigningKeys(ctx context.Context) ([]*SigningKeyData, error)

	// PublicKeys returns every key a verifier may meet, a superset of
	// SigningKeys while a rotation is in progress.
	PublicKeys(ctx context.Context) ([]*PublicKeyData, error)
}

// FileProvider serves keys read once from PEM files under Config.KeyDir.
type FileProvider struct {
	signingKeys []*SigningKeyData
	allKeys     []*SigningKeyData
}

// NewFileProvider reads the signing and fallback key files named by cfg.
func NewFileProvider(cfg Config) (*FileProvider, error) {
	if len(cfg.SigningKeyFiles) == 0 {
		return nil, errors.New("signing key file is required")
	}

	p := &FileProvider{}
	for _, filename := range cfg.SigningKeyFiles {
		key, err := loadKeyFromFile(filepath.Join(cfg.KeyDir, filename))
		if err != nil {
			return nil, fmt.Errorf("failed to load signing key %s: %w", filename, err)
		}
		p.signingKeys = append(p.signingKeys, key)
		p.allKeys = append(p.allKeys, key)
	}

	for _, filename := range cfg.FallbackKeyFiles {
		key, err := loadKeyFromFile(filepath.Join(cfg.KeyDir, filename))
		if err != nil {
			return nil, fmt.Errorf("failed to load fallback key %s: %w", filename, err)
		}
		p.allKeys = append(p.allKeys, key)
	}

	return p, nil
}

func loadKeyFromFile(keyPath string) (*SigningKeyData, error) {
	signer, err := servercrypto.LoadSigningKey(keyPath)
	if err != nil {
		return nil, err
	}

	params, err := servercrypto.DeriveSigningKeyParams(signer, "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to derive key parameters: %w", err)
	}

	return &SigningKeyData{
		KeyID:     params.KeyID,
		Algorithm: params.Algorithm,
		Key:       params.Key,
		CreatedAt: time.Now(),
	}, nil
}

// SigningKeys implements KeyProvider.
func (p *FileProvider) SigningKeys(_ context.Context) ([]*SigningKeyData, error) {
	return copyKeys(p.signingKeys), nil
}

// PublicKeys implements KeyProvider. Fallback keys are included.
func (p *FileProvider) PublicKeys(_ context.Context) ([]*PublicKeyData, error) {
	return publicKeys(p.allKeys), nil
}

// GeneratingProvider creates one in-memory key per algorithm on first use.
// The keys die with the process, and so do the tokens they signed.
type GeneratingProvider struct {
	algorithms []string
	mu         sync.Mutex
	keys       []*SigningKeyData
}

// NewGeneratingProvider returns a provider for algorithms, or for
// DefaultAlgorithm when none are given.
func NewGeneratingProvider(algorithms ...string) *GeneratingProvider {
	if len(algorithms) == 0 {
		algorithms = []string{DefaultAlgorithm}
	}
	return &GeneratingProvider{algorithms: algorithms}
}

// SigningKeys implements KeyProvider.
func (p *GeneratingProvider) SigningKeys(_ context.Context) ([]*SigningKeyData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.keys == nil {
		keys := make([]*SigningKeyData, 0, len(p.algorithms))
		for _, alg := range p.algorithms {
			key, err := generateKey(alg)
			if err != nil {
				return nil, err
			}
			slog.Warn("generated ephemeral signing key - tokens will be invalid after restart",
				"algorithm", key.Algorithm,
				"key_id", key.KeyID,
			)
			keys = append(keys, key)
		}
		p.keys = keys
	}
	return copyKeys(p.keys), nil
}

// PublicKeys implements KeyProvider.
func (p *GeneratingProvider) PublicKeys(ctx context.Context) ([]*PublicKeyData, error) {
	keys, err := p.SigningKeys(ctx)
	if err != nil {
		return nil, err
	}
	return publicKeys(keys), nil
}

func generateKey(algorithm string) (*SigningKeyData, error) {
	privateKey, err := generatePrivateKey(algorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	keyID, err := servercrypto.DeriveKeyID(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key ID: %w", err)
	}

	return &SigningKeyData{
		KeyID:     keyID,
		Algorithm: algorithm,
		Key:       privateKey,
		CreatedAt: time.Now(),
	}, nil
}

func generatePrivateKey(algorithm string) (crypto.Signer, error) {
	switch algorithm {
	case "ES256":
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case "ES384":
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case "ES512":
		return ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	case "RS256", "RS384", "RS512", "PS256", "PS384", "PS512":
		return rsa.GenerateKey(rand.Reader, servercrypto.MinRSAKeyBits)
	case "EdDSA":
		_, key, err := ed25519.GenerateKey(rand.Reader)
		return key, err
	default:
		return nil, fmt.Errorf("unsupported algorithm for key generation: %s", algorithm)
	}
}

// NoneProvider has no keys. The server degrades to unsecured ID tokens and
// disables signed client authentication and registration assertions.
type NoneProvider struct{}

// SigningKeys returns no keys.
func (NoneProvider) SigningKeys(context.Context) ([]*SigningKeyData, error) {
	return nil, nil
}

// PublicKeys returns no keys.
func (NoneProvider) PublicKeys(context.Context) ([]*PublicKeyData, error) {
	return nil, nil
}

func copyKeys(keys []*SigningKeyData) []*SigningKeyData {
	out := make([]*SigningKeyData, 0, len(keys))
	for _, k := range keys {
		cp := *k
		out = append(out, &cp)
	}
	return out
}

func publicKeys(keys []*SigningKeyData) []*PublicKeyData {
	out := make([]*PublicKeyData, 0, len(keys))
	for _, key := range keys {
		out = append(out, key.Public())
	}
	return out
}

var (
	_ KeyProvider = (*FileProvider)(nil)
	_ KeyProvider = (*GeneratingProvider)(nil)
	_ KeyProvider = NoneProvider{}
)
