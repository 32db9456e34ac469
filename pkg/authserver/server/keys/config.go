// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

// Config holds configuration for creating a KeyProvider.
// The caller is responsible for populating this from their own config source
// (environment variables, YAML files, flags, etc.).
type Config struct {
	// KeyDir is the directory containing PEM-encoded private key files.
	// All key filenames are relative to this directory.
	KeyDir string

	// SigningKeyFiles are the filenames of keys used for signing new tokens
	// (relative to KeyDir). The first key is the default; the others let
	// clients that registered a different algorithm get a matching key.
	SigningKeyFiles []string

	// FallbackKeyFiles are filenames of additional keys for verification (relative to KeyDir).
	// These keys are included in the JWKS endpoint for token verification but are NOT
	// used for signing new tokens.
	//
	// Key rotation (multiple replicas): to avoid a window where one replica signs
	// with a key not yet advertised by another replica's JWKS endpoint:
	//  1. Add the new key to FallbackKeyFiles and roll out to all replicas.
	//  2. Promote it to SigningKeyFiles, move the old key to FallbackKeyFiles, roll out.
	//  3. Remove the old key from FallbackKeyFiles after its tokens have expired.
	FallbackKeyFiles []string

	// GenerateAlgorithms lists the algorithms for which ephemeral keys are
	// generated when KeyDir is empty. Defaults to DefaultAlgorithm.
	GenerateAlgorithms []string

	// Disabled runs the server without any asymmetric key. ID tokens are then
	// unsecured and signed client authentication is unavailable.
	Disabled bool
}

// NewProviderFromConfig creates a KeyProvider based on the configuration.
//
// Behavior:
//   - If Disabled is set: return NoneProvider
//   - If KeyDir is set: load keys from directory
//   - Otherwise: return GeneratingProvider (ephemeral keys for development)
func NewProviderFromConfig(cfg Config) (KeyProvider, error) {
	if cfg.Disabled {
		return NoneProvider{}, nil
	}
	if cfg.KeyDir != "" {
		return NewFileProvider(cfg)
	}

	// Generate ephemeral keys (development only)
	return NewGeneratingProvider(cfg.GenerateAlgorithms...), nil
}
