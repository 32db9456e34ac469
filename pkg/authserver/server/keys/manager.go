// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"

	servercrypto "github.com/stacklok/toolhive-idp/pkg/authserver/server/crypto"
)

// keySet is a resolved snapshot of the provider's keys.
type keySet struct {
	signing []*SigningKeyData
	public  jose.JSONWebKeySet
}

// Manager owns the server's key set. It caches the provider's keys until
// Invalidate is called, so a rotated key directory or a provider backed by a
// remote store can be reloaded without restarting.
type Manager struct {
	provider KeyProvider

	mu    sync.RWMutex
	cache *keySet
	group singleflight.Group
}

// NewManager creates a Manager and loads the key set once. A provider with no
// signing keys is accepted: dependent features degrade and a warning is logged.
func NewManager(ctx context.Context, provider KeyProvider) (*Manager, error) {
	m := &Manager{provider: provider}
	set, err := m.keys(ctx)
	if err != nil {
		return nil, err
	}
	if len(set.signing) == 0 {
		slog.Warn("no signing keys configured: ID tokens will be unsecured and signed client authentication is disabled")
	}
	return m, nil
}

// Invalidate drops the cached key set. The next call reloads from the provider.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = nil
}

func (m *Manager) keys(ctx context.Context) (*keySet, error) {
	m.mu.RLock()
	cached := m.cache
	m.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := m.group.Do("keys", func() (any, error) {
		signing, err := m.provider.SigningKeys(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load signing keys: %w", err)
		}
		pub, err := m.provider.PublicKeys(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load public keys: %w", err)
		}

		set := &keySet{
			signing: signing,
			public:  jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(pub))},
		}
		for _, k := range pub {
			set.public.Keys = append(set.public.Keys, jose.JSONWebKey{
				Key:       k.PublicKey,
				KeyID:     k.KeyID,
				Algorithm: k.Algorithm,
				Use:       "sig",
			})
		}

		m.mu.Lock()
		m.cache = set
		m.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*keySet), nil
}

// HasSigningKeys reports whether at least one asymmetric signing key exists.
func (m *Manager) HasSigningKeys(ctx context.Context) bool {
	set, err := m.keys(ctx)
	return err == nil && len(set.signing) > 0
}

// SignerFor selects the key for a preferred algorithm. A key registered for
// the algorithm wins; otherwise a key that can produce it (an RSA key for a
// PS* preference); otherwise the first key with its own algorithm.
// Returns ErrNoSigningKey when the key set is empty.
func (m *Manager) SignerFor(ctx context.Context, preferred string) (*SigningKeyData, error) {
	set, err := m.keys(ctx)
	if err != nil {
		return nil, err
	}
	if len(set.signing) == 0 {
		return nil, ErrNoSigningKey
	}

	if preferred != "" {
		for _, k := range set.signing {
			if k.Algorithm == preferred {
				cp := *k
				return &cp, nil
			}
		}
		for _, k := range set.signing {
			if servercrypto.ValidateAlgorithmForKey(preferred, k.Key) == nil {
				cp := *k
				cp.Algorithm = preferred
				return &cp, nil
			}
		}
	}
	cp := *set.signing[0]
	return &cp, nil
}

// Algorithms returns the distinct algorithms of the signing keys, default first.
func (m *Manager) Algorithms(ctx context.Context) []string {
	set, err := m.keys(ctx)
	if err != nil {
		return nil
	}
	var algs []string
	for _, k := range set.signing {
		if !slices.Contains(algs, k.Algorithm) {
			algs = append(algs, k.Algorithm)
		}
	}
	return algs
}

// Sign serializes claims as a compact JWS using the key selected for the
// preferred algorithm. It returns the token and the algorithm used.
func (m *Manager) Sign(ctx context.Context, preferred string, claims any, typ string) (string, string, error) {
	key, err := m.SignerFor(ctx, preferred)
	if err != nil {
		return "", "", err
	}
	token, err := SignWithKey(key, claims, typ)
	if err != nil {
		return "", "", err
	}
	return token, key.Algorithm, nil
}

// SignWithKey serializes claims as a compact JWS signed by key.
func SignWithKey(key *SigningKeyData, claims any, typ string) (string, error) {
	opts := (&jose.SignerOptions{}).WithType(jose.ContentType(typ))
	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.SignatureAlgorithm(key.Algorithm),
		Key:       jose.JSONWebKey{Key: key.Key, KeyID: key.KeyID, Algorithm: key.Algorithm},
	}, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %w", err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	token, err := jws.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize: %w", err)
	}
	return token, nil
}

// JWKS returns the public key set for discovery.
func (m *Manager) JWKS(ctx context.Context) (*jose.JSONWebKeySet, error) {
	set, err := m.keys(ctx)
	if err != nil {
		return nil, err
	}
	return &jose.JSONWebKeySet{Keys: slices.Clone(set.public.Keys)}, nil
}

// VerificationKey returns the public key for kid, including fallback keys.
func (m *Manager) VerificationKey(ctx context.Context, kid string) (crypto.PublicKey, error) {
	set, err := m.keys(ctx)
	if err != nil {
		return nil, err
	}
	keys := set.public.Key(kid)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
	}
	return keys[0].Key, nil
}
