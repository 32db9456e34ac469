// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStorage(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStorageWithClient(client, "thv:idp:test:")
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     RedisConfig
		wantErr string
	}{
		{
			name:    "missing address",
			cfg:     RedisConfig{KeyPrefix: "p:"},
			wantErr: "either addr or sentinel configuration is required",
		},
		{
			name: "addr and sentinel",
			cfg: RedisConfig{
				Addr:           "localhost:6379",
				SentinelConfig: &SentinelConfig{MasterName: "m", SentinelAddrs: []string{"s:26379"}},
				KeyPrefix:      "p:",
			},
			wantErr: "mutually exclusive",
		},
		{
			name: "sentinel without master",
			cfg: RedisConfig{
				SentinelConfig: &SentinelConfig{SentinelAddrs: []string{"s:26379"}},
				ACLUserConfig:  &ACLUserConfig{Username: "u", Password: "p"},
				KeyPrefix:      "p:",
			},
			wantErr: "sentinel master name is required",
		},
		{
			name: "sentinel without addresses",
			cfg: RedisConfig{
				SentinelConfig: &SentinelConfig{MasterName: "m"},
				ACLUserConfig:  &ACLUserConfig{Username: "u", Password: "p"},
				KeyPrefix:      "p:",
			},
			wantErr: "at least one sentinel address is required",
		},
		{
			name: "sentinel without ACL user",
			cfg: RedisConfig{
				SentinelConfig: &SentinelConfig{MasterName: "m", SentinelAddrs: []string{"s:26379"}},
				KeyPrefix:      "p:",
			},
			wantErr: "ACL user configuration is required",
		},
		{
			name:    "missing prefix",
			cfg:     RedisConfig{Addr: "localhost:6379"},
			wantErr: "key prefix is required",
		},
		{
			name: "standalone",
			cfg:  RedisConfig{Addr: "localhost:6379", KeyPrefix: "p:"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := validateConfig(&tc.cfg)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestNewRedisStorage_Standalone(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	s, err := NewRedisStorage(context.Background(), RedisConfig{Addr: mr.Addr(), KeyPrefix: "thv:idp:"})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Health(context.Background()))
	assert.Equal(t, "thv:idp:", s.KeyPrefix())
}

func TestNewRedisStorage_Unreachable(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedisStorage(ctx, RedisConfig{
		Addr:        addr,
		KeyPrefix:   "thv:idp:",
		DialTimeout: 100 * time.Millisecond,
	})
	require.ErrorContains(t, err, "failed to connect to redis")
}

func TestRedisKeys(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "thv:idp:client:web", redisKey("thv:idp:", KeyTypeClient, "web"))
	assert.Equal(t, "thv:idp:idx:client:tokens:web", redisSetKey("thv:idp:", SetTypeClientTokens, "web"))
	assert.Equal(t, "thv:idp:events", RedisEventsChannel("thv:idp:"))
	assert.NotEqual(t, consentID("a:b", "c"), consentID("a", "b:c"), "escaped parts cannot collide")
}

func TestRedisStorage_KeysExpire(t *testing.T) {
	t.Parallel()
	s, mr := newTestRedisStorage(t)
	ctx := context.Background()

	tok := sampleToken("t1", "web", "alice")
	tok.AccessExpiresAt = time.Now().Add(time.Minute)
	tok.RefreshExpiresAt = time.Now().Add(time.Hour)
	require.NoError(t, s.CreateToken(ctx, tok))

	ttl := mr.TTL("thv:idp:test:token:t1")
	assert.Greater(t, ttl, 50*time.Minute, "token record lives as long as its refresh token")

	mr.FastForward(2 * time.Hour)
	_, err := s.GetTokenByAccessSignature(ctx, "at-t1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStorage_ConsumedMarkerSurvivesCodeExpiry(t *testing.T) {
	t.Parallel()
	s, mr := newTestRedisStorage(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAuthorizationCode(ctx, sampleCode("sig", "web")))
	_, err := s.ConsumeAuthorizationCode(ctx, "sig", time.Now())
	require.NoError(t, err)

	// Past the code lifetime but inside the retention window.
	mr.FastForward(15 * time.Minute)
	_, err = s.ConsumeAuthorizationCode(ctx, "sig", time.Now())
	require.ErrorIs(t, err, ErrAlreadyConsumed)
}

func TestRedisStorage_ClientIndexSkipsStaleEntries(t *testing.T) {
	t.Parallel()
	s, mr := newTestRedisStorage(t)
	ctx := context.Background()

	require.NoError(t, s.CreateClient(ctx, sampleClient("web")))
	require.NoError(t, s.CreateClient(ctx, sampleClient("api")))
	mr.Del("thv:idp:test:client:api")

	list, err := s.ListClients(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "web", list[0].ID)
}
