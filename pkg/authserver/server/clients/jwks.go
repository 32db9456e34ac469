// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// AsymmetricMethods are the JWS algorithms accepted on client-signed JWTs.
var AsymmetricMethods = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// ErrNoClientKeys is returned when a client has neither jwks nor jwks_uri.
var ErrNoClientKeys = errors.New("client has no registered keys")

// KeyResolver resolves client public keys from inline JWK sets or from a
// jwks_uri kept fresh by a refreshing cache.
type KeyResolver struct {
	cache *jwk.Cache

	mu         sync.Mutex
	registered map[string]struct{}
}

// NewKeyResolver creates a KeyResolver that fetches remote key sets with httpClient.
func NewKeyResolver(ctx context.Context, httpClient *http.Client) (*KeyResolver, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	cache, err := jwk.NewCache(ctx, httprc.NewClient(httprc.WithHTTPClient(httpClient)))
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}
	return &KeyResolver{cache: cache, registered: map[string]struct{}{}}, nil
}

// KeySet returns the client's key set.
func (r *KeyResolver) KeySet(ctx context.Context, client *storage.Client) (jwk.Set, error) {
	switch {
	case client.JWKS != "":
		set, err := jwk.Parse([]byte(client.JWKS))
		if err != nil {
			return nil, fmt.Errorf("failed to parse client jwks: %w", err)
		}
		return set, nil
	case client.JWKSURI != "" && r != nil:
		if err := r.ensureRegistered(ctx, client.JWKSURI); err != nil {
			return nil, err
		}
		set, err := r.cache.Lookup(ctx, client.JWKSURI)
		if err != nil {
			return nil, fmt.Errorf("failed to lookup JWKS: %w", err)
		}
		return set, nil
	default:
		return nil, ErrNoClientKeys
	}
}

func (r *KeyResolver) ensureRegistered(ctx context.Context, uri string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.registered[uri]; ok {
		return nil
	}

	registrationCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// A failed registration is retried on the next request.
	if err := r.cache.Register(registrationCtx, uri); err != nil {
		return fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	r.registered[uri] = struct{}{}
	return nil
}

// Forget drops a remote key set so the next lookup registers it again.
func (r *KeyResolver) Forget(ctx context.Context, uri string) {
	if r == nil || uri == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.registered[uri]; ok {
		_ = r.cache.Unregister(ctx, uri)
		delete(r.registered, uri)
	}
}

// Keyfunc returns a jwt.Keyfunc that picks the verification key by kid. A
// token without kid is accepted when the set has exactly one key.
func (r *KeyResolver) Keyfunc(ctx context.Context, client *storage.Client) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		set, err := r.KeySet(ctx, client)
		if err != nil {
			return nil, err
		}

		var key jwk.Key
		if kid, ok := token.Header["kid"].(string); ok && kid != "" {
			found, ok := set.LookupKeyID(kid)
			if !ok {
				return nil, fmt.Errorf("key ID %s not found in client JWKS", kid)
			}
			key = found
		} else {
			if set.Len() != 1 {
				return nil, errors.New("token header missing kid")
			}
			found, ok := set.Key(0)
			if !ok {
				return nil, errors.New("client JWKS is empty")
			}
			key = found
		}

		var raw any
		if err := jwk.Export(key, &raw); err != nil {
			return nil, fmt.Errorf("failed to export raw key: %w", err)
		}
		return raw, nil
	}
}
