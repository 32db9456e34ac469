// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/ory/fosite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	servercrypto "github.com/stacklok/toolhive-idp/pkg/authserver/server/crypto"
)

var (
	currentSecret = bytes.Repeat([]byte("c"), servercrypto.MinSecretLength)
	rotatedSecret = bytes.Repeat([]byte("r"), servercrypto.MinSecretLength)
)

func denyAll(context.Context, *http.Request, url.Values) (fosite.Client, error) {
	return nil, fosite.ErrInvalidClient
}

func TestNewConfig(t *testing.T) {
	t.Parallel()

	params := &Params{
		Issuer:               "https://auth.example.com",
		AccessTokenLifespan:  time.Hour,
		RefreshTokenLifespan: time.Hour * 24,
		AuthCodeLifespan:     time.Minute * 10,
		HMACSecrets:          servercrypto.NewHMACSecrets(currentSecret, rotatedSecret),
		ClientAuthentication: denyAll,
	}

	cfg, err := NewConfig(params)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, params.Issuer, cfg.AccessTokenIssuer)
	assert.Equal(t, params.Issuer, cfg.IDTokenIssuer)
	assert.Equal(t, params.AccessTokenLifespan, cfg.AccessTokenLifespan)
	assert.Equal(t, params.RefreshTokenLifespan, cfg.RefreshTokenLifespan)
	assert.Equal(t, params.AuthCodeLifespan, cfg.AuthorizeCodeLifespan)
	assert.Equal(t, "https://auth.example.com/oauth/token", cfg.TokenURL, "token URL defaults under the issuer")
	assert.Equal(t, currentSecret, cfg.GlobalSecret)
	assert.Equal(t, [][]byte{rotatedSecret}, cfg.RotatedGlobalSecrets)
	assert.NotNil(t, cfg.ClientAuthenticationStrategy)
}

func TestNewConfig_EphemeralSecret(t *testing.T) {
	t.Parallel()

	cfg, err := NewConfig(&Params{Issuer: "http://localhost:8080", ClientAuthentication: denyAll})
	require.NoError(t, err)
	assert.Len(t, cfg.GlobalSecret, servercrypto.MinSecretLength)
	assert.Empty(t, cfg.RotatedGlobalSecrets)

	other, err := NewConfig(&Params{Issuer: "http://localhost:8080", ClientAuthentication: denyAll})
	require.NoError(t, err)
	assert.NotEqual(t, cfg.GlobalSecret, other.GlobalSecret)
}

func TestNewConfig_InvalidConfig(t *testing.T) {
	t.Parallel()

	valid := func() *Params {
		return &Params{
			Issuer:               "https://auth.example.com",
			HMACSecrets:          servercrypto.NewHMACSecrets(currentSecret),
			ClientAuthentication: denyAll,
		}
	}

	tests := []struct {
		name    string
		params  *Params
		mutate  func(*Params)
		wantErr string
	}{
		{name: "nil config", wantErr: "config is required"},
		{name: "missing issuer", mutate: func(p *Params) { p.Issuer = "" }, wantErr: "issuer is required"},
		{name: "non-http issuer", mutate: func(p *Params) { p.Issuer = "ftp://auth.example.com" }, wantErr: "issuer must use http or https scheme"},
		{name: "issuer without host", mutate: func(p *Params) { p.Issuer = "https://" }, wantErr: "issuer must have a host"},
		{name: "trailing slash", mutate: func(p *Params) { p.Issuer = "https://auth.example.com/" }, wantErr: "issuer must not have a trailing slash"},
		{name: "missing client authentication", mutate: func(p *Params) { p.ClientAuthentication = nil }, wantErr: "client authentication strategy is required"},
		{
			name:    "short current secret",
			mutate:  func(p *Params) { p.HMACSecrets = servercrypto.NewHMACSecrets([]byte("short")) },
			wantErr: "current HMAC secret must be at least 32 bytes",
		},
		{
			name:    "short rotated secret",
			mutate:  func(p *Params) { p.HMACSecrets = servercrypto.NewHMACSecrets(currentSecret, []byte("old")) },
			wantErr: "rotated HMAC secret [0] must be at least 32 bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var params *Params
			if tt.mutate != nil {
				params = valid()
				tt.mutate(params)
			}
			cfg, err := NewConfig(params)
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewStrategy_RotatedSecrets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	old, err := NewConfig(&Params{
		Issuer:               "https://auth.example.com",
		HMACSecrets:          servercrypto.NewHMACSecrets(rotatedSecret),
		ClientAuthentication: denyAll,
	})
	require.NoError(t, err)
	token, sig, err := NewStrategy(old).GenerateAccessToken(ctx, fosite.NewRequest())
	require.NoError(t, err)
	assert.Equal(t, sig, NewStrategy(old).AccessTokenSignature(ctx, token))

	rotated, err := NewConfig(&Params{
		Issuer:               "https://auth.example.com",
		HMACSecrets:          servercrypto.NewHMACSecrets(currentSecret, rotatedSecret),
		ClientAuthentication: denyAll,
	})
	require.NoError(t, err)

	req := fosite.NewRequest()
	req.Session = &fosite.DefaultSession{}
	req.Session.SetExpiresAt(fosite.AccessToken, time.Now().Add(time.Hour))
	require.NoError(t, NewStrategy(rotated).ValidateAccessToken(ctx, req, token))

	dropped, err := NewConfig(&Params{
		Issuer:               "https://auth.example.com",
		HMACSecrets:          servercrypto.NewHMACSecrets(currentSecret),
		ClientAuthentication: denyAll,
	})
	require.NoError(t, err)
	require.ErrorIs(t, NewStrategy(dropped).ValidateAccessToken(ctx, req, token), fosite.ErrTokenSignatureMismatch)
}
