// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACSecrets_Validate(t *testing.T) {
	t.Parallel()

	good := []byte(strings.Repeat("g", MinSecretLength))
	short := []byte("too-short")

	tests := []struct {
		name    string
		secrets *HMACSecrets
		wantErr string
	}{
		{name: "current only", secrets: NewHMACSecrets(good)},
		{name: "with rotated", secrets: NewHMACSecrets(good, good, good)},
		{name: "nil", secrets: nil, wantErr: "HMAC secrets are required"},
		{name: "short current", secrets: NewHMACSecrets(short), wantErr: "current HMAC secret must be at least 32 bytes"},
		{name: "empty current", secrets: &HMACSecrets{}, wantErr: "current HMAC secret must be at least 32 bytes"},
		{name: "short rotated", secrets: NewHMACSecrets(good, good, short), wantErr: "rotated HMAC secret [1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.secrets.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEphemeralHMACSecrets(t *testing.T) {
	t.Parallel()

	a := EphemeralHMACSecrets()
	b := EphemeralHMACSecrets()
	require.NoError(t, a.Validate())
	assert.NotEqual(t, a.Current, b.Current)
	assert.Empty(t, a.Rotated)
}

func TestHalfHash(t *testing.T) {
	t.Parallel()

	// OpenID Connect Core example: at_hash of "jHkWEdUXMU1BwAsC4vtUsZwnNvTIxEl0z9K3vx5KF0Y"
	// with RS256 is "77QmUPtjPfzWtF2AnpK9RQ".
	assert.Equal(t, "77QmUPtjPfzWtF2AnpK9RQ", HalfHash("RS256", "jHkWEdUXMU1BwAsC4vtUsZwnNvTIxEl0z9K3vx5KF0Y"))
	assert.Len(t, HalfHash("ES384", "value"), 32)
	assert.Len(t, HalfHash("ES512", "value"), 43)
}
