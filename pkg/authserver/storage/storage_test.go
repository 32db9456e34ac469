// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backend builds a fresh, empty Storage for one test.
type backend struct {
	name string
	open func(t *testing.T) Storage
}

func backends() []backend {
	return []backend{
		{
			name: "memory",
			open: func(t *testing.T) Storage {
				t.Helper()
				s := NewMemoryStorage()
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
		{
			name: "redis",
			open: func(t *testing.T) Storage {
				t.Helper()
				mr := miniredis.RunT(t)
				client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				s := NewRedisStorageWithClient(client, "thv:idp:test:")
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) Storage {
				t.Helper()
				s, err := NewSQLiteStorage(context.Background(), filepath.Join(t.TempDir(), "idp.db"))
				require.NoError(t, err)
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
	}
}

// forEachBackend runs fn against every backend as parallel subtests.
func forEachBackend(t *testing.T, fn func(t *testing.T, ctx context.Context, s Storage)) {
	t.Helper()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			fn(t, context.Background(), b.open(t))
		})
	}
}

func sampleClient(id string) *Client {
	now := time.Now().UTC().Truncate(time.Second)
	return &Client{
		ID:                      id,
		Name:                    "Sample " + id,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		RedirectURIs:            []string{"https://app.example.com/callback"},
		Scopes:                  []string{"openid", "profile", "email"},
		TokenEndpointAuthMethod: AuthMethodClientSecretBasic,
		Audience:                []string{id},
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

func sampleCode(sig, clientID string) *AuthorizationCode {
	now := time.Now().UTC()
	return &AuthorizationCode{
		ID:          "code-" + sig,
		Signature:   sig,
		ClientID:    clientID,
		Subject:     "alice",
		RedirectURI: "https://app.example.com/callback",
		Scopes:      []string{"openid"},
		AuthTime:    now,
		IssuedAt:    now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
}

func sampleToken(id, clientID, subject string) *Token {
	now := time.Now().UTC()
	return &Token{
		ID:               id,
		AccessSignature:  "at-" + id,
		RefreshSignature: "rt-" + id,
		ClientID:         clientID,
		Subject:          subject,
		GrantType:        "authorization_code",
		Scopes:           []string{"openid"},
		Audience:         []string{clientID},
		IssuedAt:         now,
		AccessExpiresAt:  now.Add(time.Hour),
		RefreshExpiresAt: now.Add(24 * time.Hour),
	}
}

func TestStorage_Clients(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		_, err := s.GetClient(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)

		c := sampleClient("web")
		require.NoError(t, s.CreateClient(ctx, c))
		require.ErrorIs(t, s.CreateClient(ctx, c), ErrAlreadyExists)

		got, err := s.GetClient(ctx, "web")
		require.NoError(t, err)
		assert.Equal(t, c.RedirectURIs, got.RedirectURIs)
		assert.Equal(t, c.Scopes, got.Scopes)
		assert.Equal(t, AuthMethodClientSecretBasic, got.TokenEndpointAuthMethod)

		c.Name = "Renamed"
		require.NoError(t, s.UpdateClient(ctx, c))
		got, err = s.GetClient(ctx, "web")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)

		require.ErrorIs(t, s.UpdateClient(ctx, sampleClient("ghost")), ErrNotFound)

		require.NoError(t, s.CreateClient(ctx, sampleClient("api")))
		list, err := s.ListClients(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "api", list[0].ID)
		assert.Equal(t, "web", list[1].ID)

		require.NoError(t, s.DeleteClient(ctx, "api"))
		require.ErrorIs(t, s.DeleteClient(ctx, "api"), ErrNotFound)
	})
}

func TestStorage_ClientValidation(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		require.Error(t, s.CreateClient(ctx, nil))
		require.Error(t, s.CreateClient(ctx, &Client{}))
		require.Error(t, s.CreateToken(ctx, &Token{ID: "t"}))
		require.Error(t, s.SaveConsent(ctx, &Consent{Subject: "alice"}))
		require.Error(t, s.CreateSubject(ctx, &Subject{ID: "alice"}))
	})
}

func TestStorage_ReadsAreCopies(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		require.NoError(t, s.CreateClient(ctx, sampleClient("web")))

		got, err := s.GetClient(ctx, "web")
		require.NoError(t, err)
		got.RedirectURIs[0] = "https://evil.example.com"

		again, err := s.GetClient(ctx, "web")
		require.NoError(t, err)
		assert.Equal(t, "https://app.example.com/callback", again.RedirectURIs[0])
	})
}

func TestStorage_AuthorizationCodeConsumedOnce(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		_, err := s.ConsumeAuthorizationCode(ctx, "unknown", time.Now())
		require.ErrorIs(t, err, ErrNotFound)

		code := sampleCode("sig-1", "web")
		require.NoError(t, s.CreateAuthorizationCode(ctx, code))
		require.ErrorIs(t, s.CreateAuthorizationCode(ctx, code), ErrAlreadyExists)

		first, err := s.ConsumeAuthorizationCode(ctx, "sig-1", time.Now())
		require.NoError(t, err)
		require.NotNil(t, first.ConsumedAt)
		assert.Equal(t, "alice", first.Subject)
		assert.Equal(t, "code-sig-1", first.ID)

		second, err := s.ConsumeAuthorizationCode(ctx, "sig-1", time.Now())
		require.ErrorIs(t, err, ErrAlreadyConsumed)
		require.NotNil(t, second)
		assert.Equal(t, "code-sig-1", second.ID)
		assert.NotNil(t, second.ConsumedAt)
	})
}

func TestStorage_AuthorizationCodeConcurrentConsume(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		require.NoError(t, s.CreateAuthorizationCode(ctx, sampleCode("race", "web")))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.ConsumeAuthorizationCode(ctx, "race", time.Now()); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestStorage_Tokens(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		tok := sampleToken("t1", "web", "alice")
		require.NoError(t, s.CreateToken(ctx, tok))
		require.ErrorIs(t, s.CreateToken(ctx, tok), ErrAlreadyExists)

		byAccess, err := s.GetTokenByAccessSignature(ctx, "at-t1")
		require.NoError(t, err)
		assert.Equal(t, "t1", byAccess.ID)
		assert.False(t, byAccess.Revoked())

		byRefresh, err := s.GetTokenByRefreshSignature(ctx, "rt-t1")
		require.NoError(t, err)
		assert.Equal(t, "t1", byRefresh.ID)

		_, err = s.GetTokenByAccessSignature(ctx, "nope")
		require.ErrorIs(t, err, ErrNotFound)

		byID, err := s.GetToken(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "alice", byID.Subject)
		_, err = s.GetToken(ctx, "nope")
		require.ErrorIs(t, err, ErrNotFound)

		changed, err := s.RevokeToken(ctx, "t1", time.Now())
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = s.RevokeToken(ctx, "t1", time.Now())
		require.NoError(t, err)
		assert.False(t, changed, "second revocation is a no-op")

		got, err := s.GetTokenByAccessSignature(ctx, "at-t1")
		require.NoError(t, err)
		assert.True(t, got.Revoked())

		_, err = s.RevokeToken(ctx, "missing", time.Now())
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStorage_TokenWithoutRefresh(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		a := sampleToken("a", "svc", "")
		a.RefreshSignature = ""
		a.RefreshExpiresAt = time.Time{}
		b := sampleToken("b", "svc", "")
		b.RefreshSignature = ""
		b.RefreshExpiresAt = time.Time{}

		require.NoError(t, s.CreateToken(ctx, a))
		require.NoError(t, s.CreateToken(ctx, b))

		got, err := s.GetTokenByAccessSignature(ctx, "at-b")
		require.NoError(t, err)
		assert.False(t, got.HasRefresh())
	})
}

func TestStorage_RotateToken(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		require.NoError(t, s.CreateToken(ctx, sampleToken("t1", "web", "alice")))

		next := sampleToken("t2", "web", "alice")
		next.ParentID = "t1"
		require.NoError(t, s.RotateToken(ctx, "t1", next, time.Now()))

		old, err := s.GetTokenByRefreshSignature(ctx, "rt-t1")
		require.NoError(t, err)
		assert.True(t, old.Revoked())

		fresh, err := s.GetTokenByRefreshSignature(ctx, "rt-t2")
		require.NoError(t, err)
		assert.False(t, fresh.Revoked())
		assert.Equal(t, "t1", fresh.ParentID)

		// Rotating the revoked token again fails and stores nothing.
		err = s.RotateToken(ctx, "t1", sampleToken("t3", "web", "alice"), time.Now())
		require.ErrorIs(t, err, ErrTokenRevoked)
		_, err = s.GetTokenByAccessSignature(ctx, "at-t3")
		require.ErrorIs(t, err, ErrNotFound)

		err = s.RotateToken(ctx, "missing", sampleToken("t4", "web", "alice"), time.Now())
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStorage_RotateTokenConcurrent(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		require.NoError(t, s.CreateToken(ctx, sampleToken("root", "web", "alice")))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				next := sampleToken(fmt.Sprintf("child-%d", i), "web", "alice")
				if err := s.RotateToken(ctx, "root", next, time.Now()); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestStorage_RevokeTokensByAuthorizationCode(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		first := sampleToken("t1", "web", "alice")
		first.AuthorizationCodeID = "code-1"
		require.NoError(t, s.CreateToken(ctx, first))

		rotated := sampleToken("t2", "web", "alice")
		rotated.AuthorizationCodeID = "code-1"
		require.NoError(t, s.RotateToken(ctx, "t1", rotated, time.Now()))

		unrelated := sampleToken("t3", "web", "alice")
		unrelated.AuthorizationCodeID = "code-2"
		require.NoError(t, s.CreateToken(ctx, unrelated))

		n, err := s.RevokeTokensByAuthorizationCode(ctx, "code-1", time.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, n, "only the live descendant changes")

		got, err := s.GetTokenByAccessSignature(ctx, "at-t2")
		require.NoError(t, err)
		assert.True(t, got.Revoked())

		got, err = s.GetTokenByAccessSignature(ctx, "at-t3")
		require.NoError(t, err)
		assert.False(t, got.Revoked())

		n, err = s.RevokeTokensByAuthorizationCode(ctx, "", time.Now())
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestStorage_RevokeTokensBySubjectAndClient(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		require.NoError(t, s.CreateToken(ctx, sampleToken("a1", "web", "alice")))
		require.NoError(t, s.CreateToken(ctx, sampleToken("a2", "web", "alice")))
		require.NoError(t, s.CreateToken(ctx, sampleToken("b1", "web", "bob")))
		require.NoError(t, s.CreateToken(ctx, sampleToken("a3", "cli", "alice")))

		n, err := s.RevokeTokensBySubjectAndClient(ctx, "alice", "web", time.Now())
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		for sig, revoked := range map[string]bool{"at-a1": true, "at-a2": true, "at-b1": false, "at-a3": false} {
			got, err := s.GetTokenByAccessSignature(ctx, sig)
			require.NoError(t, err)
			assert.Equal(t, revoked, got.Revoked(), sig)
		}
	})
}

func TestStorage_Consents(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		_, err := s.GetConsent(ctx, "alice", "web")
		require.ErrorIs(t, err, ErrNotFound)

		now := time.Now().UTC()
		require.NoError(t, s.SaveConsent(ctx, &Consent{
			ID: "c1", Subject: "alice", ClientID: "web", Scopes: []string{"openid"}, IssuedAt: now, UpdatedAt: now,
		}))
		require.NoError(t, s.SaveConsent(ctx, &Consent{
			ID: "c1", Subject: "alice", ClientID: "web", Scopes: []string{"openid", "email"}, IssuedAt: now, UpdatedAt: now,
		}))
		require.NoError(t, s.SaveConsent(ctx, &Consent{
			ID: "c2", Subject: "alice", ClientID: "api", Scopes: []string{"read"}, IssuedAt: now, UpdatedAt: now,
		}))

		got, err := s.GetConsent(ctx, "alice", "web")
		require.NoError(t, err)
		assert.Equal(t, []string{"openid", "email"}, got.Scopes)

		list, err := s.ListConsents(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "api", list[0].ClientID)
		assert.Equal(t, "web", list[1].ClientID)

		revokedAt := now.Add(time.Minute)
		got.RevokedAt = &revokedAt
		require.NoError(t, s.SaveConsent(ctx, got))
		got, err = s.GetConsent(ctx, "alice", "web")
		require.NoError(t, err)
		assert.True(t, got.Revoked())

		list, err = s.ListConsents(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestStorage_DeleteClientCascades(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		require.NoError(t, s.CreateClient(ctx, sampleClient("web")))
		require.NoError(t, s.CreateClient(ctx, sampleClient("api")))
		require.NoError(t, s.CreateAuthorizationCode(ctx, sampleCode("web-code", "web")))
		require.NoError(t, s.CreateToken(ctx, sampleToken("web-token", "web", "alice")))
		require.NoError(t, s.CreateToken(ctx, sampleToken("api-token", "api", "alice")))
		now := time.Now().UTC()
		require.NoError(t, s.SaveConsent(ctx, &Consent{ID: "c", Subject: "alice", ClientID: "web", IssuedAt: now, UpdatedAt: now}))

		require.NoError(t, s.DeleteClient(ctx, "web"))

		_, err := s.ConsumeAuthorizationCode(ctx, "web-code", time.Now())
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetTokenByAccessSignature(ctx, "at-web-token")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetConsent(ctx, "alice", "web")
		require.ErrorIs(t, err, ErrNotFound)

		_, err = s.GetTokenByAccessSignature(ctx, "at-api-token")
		require.NoError(t, err, "other clients are untouched")
	})
}

func TestStorage_Subjects(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		alice := &Subject{ID: "u1", Username: "alice", Email: "alice@example.com"}
		require.NoError(t, s.CreateSubject(ctx, alice))
		require.ErrorIs(t, s.CreateSubject(ctx, alice), ErrAlreadyExists)
		require.ErrorIs(t, s.CreateSubject(ctx, &Subject{ID: "u2", Username: "alice"}), ErrAlreadyExists)

		got, err := s.GetSubjectByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.ID)

		require.NoError(t, s.CreateSubject(ctx, &Subject{ID: "u3", Username: "bob"}))

		got.Username = "alice2"
		got.Locked = true
		require.NoError(t, s.UpdateSubject(ctx, got))
		_, err = s.GetSubjectByUsername(ctx, "alice")
		require.ErrorIs(t, err, ErrNotFound)
		renamed, err := s.GetSubjectByUsername(ctx, "alice2")
		require.NoError(t, err)
		assert.True(t, renamed.Locked)

		renamed.Username = "bob"
		require.ErrorIs(t, s.UpdateSubject(ctx, renamed), ErrAlreadyExists)

		require.ErrorIs(t, s.UpdateSubject(ctx, &Subject{ID: "nobody", Username: "nobody"}), ErrNotFound)
	})
}

func TestStorage_PendingAuthorizations(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		now := time.Now().UTC()
		p := &PendingAuthorization{
			ID: "p1", ClientID: "web", Request: []byte(`{"state":"xyz"}`),
			CreatedAt: now, ExpiresAt: now.Add(DefaultPendingAuthorizationTTL),
		}
		require.NoError(t, s.StorePendingAuthorization(ctx, p))

		got, err := s.LoadPendingAuthorization(ctx, "p1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"state":"xyz"}`, string(got.Request))

		require.NoError(t, s.DeletePendingAuthorization(ctx, "p1"))
		_, err = s.LoadPendingAuthorization(ctx, "p1")
		require.ErrorIs(t, err, ErrNotFound)
		require.ErrorIs(t, s.DeletePendingAuthorization(ctx, "p1"), ErrNotFound)
	})
}

func TestStorage_Sessions(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		now := time.Now().UTC()
		require.NoError(t, s.CreateSession(ctx, &Session{
			ID: "s1", Subject: "alice", AuthTime: now, Factors: []string{"password"}, ExpiresAt: now.Add(time.Hour),
		}))

		got, err := s.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Subject)
		assert.Equal(t, []string{"password"}, got.Factors)

		require.NoError(t, s.DeleteSession(ctx, "s1"))
		require.NoError(t, s.DeleteSession(ctx, "s1"))
		_, err = s.GetSession(ctx, "s1")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStorage_MarkUsed(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		exp := time.Now().Add(time.Minute)
		used, err := s.IsUsed(ctx, "web:jti-1")
		require.NoError(t, err)
		assert.False(t, used)

		require.NoError(t, s.MarkUsed(ctx, "web:jti-1", exp))
		require.ErrorIs(t, s.MarkUsed(ctx, "web:jti-1", exp), ErrReplay)
		require.NoError(t, s.MarkUsed(ctx, "web:jti-2", exp))

		used, err = s.IsUsed(ctx, "web:jti-1")
		require.NoError(t, err)
		assert.True(t, used)
	})
}

func TestStorage_Health(t *testing.T) {
	t.Parallel()
	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		require.NoError(t, s.Health(ctx))
	})
}
