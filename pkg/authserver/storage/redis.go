// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second

	// defaultConnectAttempts bounds the startup ping retries.
	defaultConnectAttempts = 5
)

// RedisConfig holds Redis connection configuration for runtime use.
type RedisConfig struct {
	// Addr selects a standalone server. Mutually exclusive with SentinelConfig.
	Addr string

	// SentinelConfig selects a Sentinel-managed deployment.
	SentinelConfig *SentinelConfig

	// ACLUserConfig is required with Sentinel and optional with Addr.
	ACLUserConfig *ACLUserConfig

	// KeyPrefix namespaces every key, e.g. "thv:idp:prod:". Required.
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// SentinelConfig contains Redis Sentinel configuration.
type SentinelConfig struct {
	MasterName    string
	SentinelAddrs []string
	DB            int
}

// ACLUserConfig contains Redis ACL user authentication configuration.
type ACLUserConfig struct {
	Username string
	Password string
}

// RedisStorage implements Storage on Redis, enabling horizontal scaling of the
// authorization server. Single-use transitions are expressed as SETNX markers
// or Lua scripts so they stay atomic across replicas.
type RedisStorage struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStorage connects to Redis and verifies the connection.
func NewRedisStorage(ctx context.Context, cfg RedisConfig) (*RedisStorage, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid redis configuration: %w", err)
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	var username, password string
	if cfg.ACLUserConfig != nil {
		username = cfg.ACLUserConfig.Username
		password = cfg.ACLUserConfig.Password
	}

	var client redis.UniversalClient
	if cfg.SentinelConfig != nil {
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.SentinelConfig.MasterName,
			SentinelAddrs: cfg.SentinelConfig.SentinelAddrs,
			DB:            cfg.SentinelConfig.DB,
			Username:      username,
			Password:      password,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Username:     username,
			Password:     password,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, client.Ping(ctx).Err()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(defaultConnectAttempts),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStorage{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

// NewRedisStorageWithClient wraps an existing client. Used by tests.
func NewRedisStorageWithClient(client redis.UniversalClient, keyPrefix string) *RedisStorage {
	return &RedisStorage{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func validateConfig(cfg *RedisConfig) error {
	if cfg.SentinelConfig == nil && cfg.Addr == "" {
		return errors.New("either addr or sentinel configuration is required")
	}
	if cfg.SentinelConfig != nil && cfg.Addr != "" {
		return errors.New("addr and sentinel configuration are mutually exclusive")
	}
	if cfg.SentinelConfig != nil {
		if cfg.SentinelConfig.MasterName == "" {
			return errors.New("sentinel master name is required")
		}
		if len(cfg.SentinelConfig.SentinelAddrs) == 0 {
			return errors.New("at least one sentinel address is required")
		}
		if cfg.ACLUserConfig == nil {
			return errors.New("ACL user configuration is required")
		}
	}
	if cfg.KeyPrefix == "" {
		return errors.New("key prefix is required")
	}
	return nil
}

// Client returns the underlying Redis client, shared with the Redis event publisher.
func (s *RedisStorage) Client() redis.UniversalClient {
	return s.client
}

// KeyPrefix returns the configured key prefix.
func (s *RedisStorage) KeyPrefix() string {
	return s.keyPrefix
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// Health checks Redis connectivity.
func (s *RedisStorage) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStorage) key(keyType, id string) string {
	return redisKey(s.keyPrefix, keyType, id)
}

func (s *RedisStorage) setKey(setType, id string) string {
	return redisSetKey(s.keyPrefix, setType, id)
}

// getJSON loads and decodes a JSON value. Missing keys map to ErrNotFound.
func getJSON[T any](ctx context.Context, client redis.UniversalClient, key, what string) (*T, error) {
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s not found", ErrNotFound, what)
		}
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	return &v, nil
}

// ttlUntil returns the TTL for a record expiring at t, never below one second.
func ttlUntil(t time.Time) time.Duration {
	ttl := time.Until(t)
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

// -----------------------
// ClientStorage
// -----------------------

// GetClient loads the client by its ID.
func (s *RedisStorage) GetClient(ctx context.Context, id string) (*Client, error) {
	return getJSON[Client](ctx, s.client, s.key(KeyTypeClient, id), "client")
}

// CreateClient stores a new client using SETNX to reject duplicates.
func (s *RedisStorage) CreateClient(ctx context.Context, client *Client) error {
	if err := validateClient(client); err != nil {
		return err
	}
	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.key(KeyTypeClient, client.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	if !created {
		return fmt.Errorf("%w: client already exists", ErrAlreadyExists)
	}
	if err := s.client.SAdd(ctx, s.key(KeyTypeClientIndex, "all"), client.ID).Err(); err != nil {
		// Compensate so a retry can succeed.
		_ = s.client.Del(ctx, s.key(KeyTypeClient, client.ID)).Err()
		return fmt.Errorf("failed to index client: %w", err)
	}
	return nil
}

// UpdateClient replaces a stored client. SET XX only writes existing keys.
func (s *RedisStorage) UpdateClient(ctx context.Context, client *Client) error {
	if err := validateClient(client); err != nil {
		return err
	}
	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	updated, err := s.client.SetXX(ctx, s.key(KeyTypeClient, client.ID), data, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	if !updated {
		return fmt.Errorf("%w: client not found", ErrNotFound)
	}
	return nil
}

// DeleteClient removes a client together with its codes, tokens and consents.
func (s *RedisStorage) DeleteClient(ctx context.Context, id string) error {
	deleted, err := s.client.Del(ctx, s.key(KeyTypeClient, id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: client not found", ErrNotFound)
	}
	_ = s.client.SRem(ctx, s.key(KeyTypeClientIndex, "all"), id).Err()

	// Cascades are best effort: the client record is already gone, so every
	// dependent lookup fails client resolution even if a delete below is lost.
	codesSet := s.setKey(SetTypeClientCodes, id)
	if sigs, err := s.client.SMembers(ctx, codesSet).Result(); err == nil {
		for _, sig := range sigs {
			_ = s.client.Del(ctx, s.key(KeyTypeCode, sig), s.key(KeyTypeCodeConsumed, sig)).Err()
		}
	}

	tokensSet := s.setKey(SetTypeClientTokens, id)
	if ids, err := s.client.SMembers(ctx, tokensSet).Result(); err == nil {
		for _, tokenID := range ids {
			s.deleteToken(ctx, tokenID)
		}
	}

	consentsSet := s.setKey(SetTypeClientConsents, id)
	if subjects, err := s.client.SMembers(ctx, consentsSet).Result(); err == nil {
		for _, subject := range subjects {
			_ = s.client.Del(ctx, s.key(KeyTypeConsent, consentID(subject, id))).Err()
			_ = s.client.SRem(ctx, s.setKey(SetTypeSubjectConsents, subject), id).Err()
		}
	}

	_ = s.client.Del(ctx, codesSet, tokensSet, consentsSet).Err()
	return nil
}

// ListClients returns all clients ordered by ID.
func (s *RedisStorage) ListClients(ctx context.Context) ([]*Client, error) {
	ids, err := s.client.SMembers(ctx, s.key(KeyTypeClientIndex, "all")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	slices.Sort(ids)

	out := make([]*Client, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetClient(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// -----------------------
// AuthorizationCodeStorage
// -----------------------

// CreateAuthorizationCode stores a new code. The key outlives the code by
// DefaultConsumedCodeRetention so that late replays are detected.
func (s *RedisStorage) CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	if code == nil || code.Signature == "" {
		return errors.New("authorization code signature cannot be empty")
	}
	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	ttl := ttlUntil(code.ExpiresAt.Add(DefaultConsumedCodeRetention))
	created, err := s.client.SetNX(ctx, s.key(KeyTypeCode, code.Signature), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store authorization code: %w", err)
	}
	if !created {
		return fmt.Errorf("%w: authorization code already exists", ErrAlreadyExists)
	}

	set := s.setKey(SetTypeClientCodes, code.ClientID)
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, set, code.Signature)
	pipe.Expire(ctx, set, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index authorization code: %w", err)
	}
	return nil
}

// ConsumeAuthorizationCode marks a code consumed. The consumed marker is
// written with SETNX, so exactly one caller wins.
func (s *RedisStorage) ConsumeAuthorizationCode(ctx context.Context, signature string, now time.Time) (*AuthorizationCode, error) {
	codeKey := s.key(KeyTypeCode, signature)
	code, err := getJSON[AuthorizationCode](ctx, s.client, codeKey, "authorization code")
	if err != nil {
		return nil, err
	}

	ttl := ttlUntil(code.ExpiresAt.Add(DefaultConsumedCodeRetention))
	markerKey := s.key(KeyTypeCodeConsumed, signature)
	won, err := s.client.SetNX(ctx, markerKey, now.UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if !won {
		consumedAt := now
		if raw, err := s.client.Get(ctx, markerKey).Result(); err == nil {
			if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				consumedAt = t
			}
		}
		code.ConsumedAt = &consumedAt
		return code, ErrAlreadyConsumed
	}
	consumedAt := now
	code.ConsumedAt = &consumedAt
	return code, nil
}

// -----------------------
// TokenStorage
// -----------------------

// storeTokenScript writes a token, its signature indexes and its secondary
// index sets. When rotating (ARGV[7] == "1") it first checks that the old
// token exists and is not revoked, then writes the old token's revoked marker.
//
// KEYS: 1 token, 2 access index, 3 refresh index, 4 client set, 5 subject-client set,
// 6 code set, 7 old revoked marker, 8 old token.
// ARGV: 1 data, 2 id, 3 ttl ms, 4 has refresh, 5 has subject, 6 has code,
// 7 rotate, 8 revoked at, 9 old ttl ms.
//
// Returns 1 on success, 0 on duplicate, -1 if the old token is revoked, -2 if
// the old token does not exist.
var storeTokenScript = redis.NewScript(`
if ARGV[7] == '1' then
	if redis.call('EXISTS', KEYS[8]) == 0 then
		return -2
	end
	if redis.call('EXISTS', KEYS[7]) == 1 then
		return -1
	end
end
if redis.call('EXISTS', KEYS[1]) == 1 or redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
local ttl = tonumber(ARGV[3])
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
if ARGV[4] == '1' then
	redis.call('SET', KEYS[3], ARGV[2], 'PX', ARGV[3])
end
local function index(set)
	redis.call('SADD', set, ARGV[2])
	if redis.call('PTTL', set) < ttl then
		redis.call('PEXPIRE', set, ARGV[3])
	end
end
index(KEYS[4])
if ARGV[5] == '1' then
	index(KEYS[5])
end
if ARGV[6] == '1' then
	index(KEYS[6])
end
if ARGV[7] == '1' then
	redis.call('SET', KEYS[7], ARGV[8], 'PX', ARGV[9])
end
return 1
`)

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (s *RedisStorage) storeToken(ctx context.Context, token *Token, old *Token, now time.Time) error {
	if err := validateToken(token); err != nil {
		return err
	}
	stored := token.Clone()
	stored.RevokedAt = nil
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	oldID := ""
	oldTTL := time.Second
	if old != nil {
		oldID = old.ID
		oldTTL = ttlUntil(old.ExpiresAt())
	}

	keys := []string{
		s.key(KeyTypeToken, token.ID),
		s.key(KeyTypeAccessIndex, token.AccessSignature),
		s.key(KeyTypeRefreshIndex, token.RefreshSignature),
		s.setKey(SetTypeClientTokens, token.ClientID),
		s.setKey(SetTypeSubjectClientTokens, consentID(token.Subject, token.ClientID)),
		s.setKey(SetTypeCodeTokens, token.AuthorizationCodeID),
		s.key(KeyTypeTokenRevoked, oldID),
		s.key(KeyTypeToken, oldID),
	}
	args := []any{
		data,
		token.ID,
		ttlUntil(token.ExpiresAt()).Milliseconds(),
		flag(token.RefreshSignature != ""),
		flag(token.Subject != ""),
		flag(token.AuthorizationCodeID != ""),
		flag(old != nil),
		now.UTC().Format(time.RFC3339Nano),
		oldTTL.Milliseconds(),
	}

	result, err := storeTokenScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	switch result {
	case 1:
		return nil
	case 0:
		return fmt.Errorf("%w: token already exists", ErrAlreadyExists)
	case -1:
		return ErrTokenRevoked
	default:
		return fmt.Errorf("%w: token not found", ErrNotFound)
	}
}

// CreateToken stores a new token pair.
func (s *RedisStorage) CreateToken(ctx context.Context, token *Token) error {
	return s.storeToken(ctx, token, nil, time.Time{})
}

// getToken loads a token and applies its revoked marker.
func (s *RedisStorage) getToken(ctx context.Context, id string) (*Token, error) {
	vals, err := s.client.MGet(ctx, s.key(KeyTypeToken, id), s.key(KeyTypeTokenRevoked, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: token not found", ErrNotFound)
	}
	var token Token
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	if revoked, ok := vals[1].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, revoked); err == nil {
			token.RevokedAt = &t
		}
	}
	return &token, nil
}

func (s *RedisStorage) getTokenByIndex(ctx context.Context, indexKey string) (*Token, error) {
	id, err := s.client.Get(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: token not found", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get token index: %w", err)
	}
	return s.getToken(ctx, id)
}

// GetToken looks a token up by id.
func (s *RedisStorage) GetToken(ctx context.Context, id string) (*Token, error) {
	return s.getToken(ctx, id)
}

// GetTokenByAccessSignature looks a token up by its access token signature.
func (s *RedisStorage) GetTokenByAccessSignature(ctx context.Context, signature string) (*Token, error) {
	return s.getTokenByIndex(ctx, s.key(KeyTypeAccessIndex, signature))
}

// GetTokenByRefreshSignature looks a token up by its refresh token signature.
func (s *RedisStorage) GetTokenByRefreshSignature(ctx context.Context, signature string) (*Token, error) {
	return s.getTokenByIndex(ctx, s.key(KeyTypeRefreshIndex, signature))
}

// RotateToken revokes oldID and stores next in one script invocation.
func (s *RedisStorage) RotateToken(ctx context.Context, oldID string, next *Token, now time.Time) error {
	old, err := s.getToken(ctx, oldID)
	if err != nil {
		return err
	}
	return s.storeToken(ctx, next, old, now)
}

// RevokeToken writes the token's revoked marker with SETNX.
func (s *RedisStorage) RevokeToken(ctx context.Context, id string, now time.Time) (bool, error) {
	token, err := s.getToken(ctx, id)
	if err != nil {
		return false, err
	}
	changed, err := s.client.SetNX(ctx, s.key(KeyTypeTokenRevoked, id),
		now.UTC().Format(time.RFC3339Nano), ttlUntil(token.ExpiresAt())).Result()
	if err != nil {
		return false, fmt.Errorf("failed to revoke token: %w", err)
	}
	return changed, nil
}

// RevokeTokensByAuthorizationCode revokes every token redeemed from a code.
func (s *RedisStorage) RevokeTokensByAuthorizationCode(ctx context.Context, codeID string, now time.Time) (int, error) {
	return s.revokeSet(ctx, s.setKey(SetTypeCodeTokens, codeID), now)
}

// RevokeTokensBySubjectAndClient revokes every token of a subject at a client.
func (s *RedisStorage) RevokeTokensBySubjectAndClient(
	ctx context.Context, subject, clientID string, now time.Time,
) (int, error) {
	return s.revokeSet(ctx, s.setKey(SetTypeSubjectClientTokens, consentID(subject, clientID)), now)
}

func (s *RedisStorage) revokeSet(ctx context.Context, set string, now time.Time) (int, error) {
	ids, err := s.client.SMembers(ctx, set).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read token index: %w", err)
	}
	count := 0
	for _, id := range ids {
		changed, err := s.RevokeToken(ctx, id, now)
		if errors.Is(err, ErrNotFound) {
			_ = s.client.SRem(ctx, set, id).Err()
			continue
		}
		if err != nil {
			return count, err
		}
		if changed {
			count++
		}
	}
	return count, nil
}

func (s *RedisStorage) deleteToken(ctx context.Context, id string) {
	token, err := s.getToken(ctx, id)
	if err != nil {
		return
	}
	keys := []string{
		s.key(KeyTypeToken, id),
		s.key(KeyTypeTokenRevoked, id),
		s.key(KeyTypeAccessIndex, token.AccessSignature),
	}
	if token.RefreshSignature != "" {
		keys = append(keys, s.key(KeyTypeRefreshIndex, token.RefreshSignature))
	}
	_ = s.client.Del(ctx, keys...).Err()
}

// -----------------------
// ConsentStorage
// -----------------------

// GetConsent returns the consent record for a subject and client.
func (s *RedisStorage) GetConsent(ctx context.Context, subject, clientID string) (*Consent, error) {
	return getJSON[Consent](ctx, s.client, s.key(KeyTypeConsent, consentID(subject, clientID)), "consent")
}

// SaveConsent inserts or replaces a consent record. Consents do not expire.
func (s *RedisStorage) SaveConsent(ctx context.Context, consent *Consent) error {
	if err := validateConsent(consent); err != nil {
		return err
	}
	data, err := json.Marshal(consent)
	if err != nil {
		return fmt.Errorf("failed to marshal consent: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(KeyTypeConsent, consentID(consent.Subject, consent.ClientID)), data, 0)
	pipe.SAdd(ctx, s.setKey(SetTypeClientConsents, consent.ClientID), consent.Subject)
	pipe.SAdd(ctx, s.setKey(SetTypeSubjectConsents, consent.Subject), consent.ClientID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save consent: %w", err)
	}
	return nil
}

// ListConsents returns every consent record of a subject ordered by client.
func (s *RedisStorage) ListConsents(ctx context.Context, subject string) ([]*Consent, error) {
	clientIDs, err := s.client.SMembers(ctx, s.setKey(SetTypeSubjectConsents, subject)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list consents: %w", err)
	}
	slices.Sort(clientIDs)

	var out []*Consent
	for _, clientID := range clientIDs {
		c, err := s.GetConsent(ctx, subject, clientID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// -----------------------
// SubjectStorage
// -----------------------

// GetSubject returns a subject by ID.
func (s *RedisStorage) GetSubject(ctx context.Context, id string) (*Subject, error) {
	return getJSON[Subject](ctx, s.client, s.key(KeyTypeSubject, id), "subject")
}

// GetSubjectByUsername returns a subject by username.
func (s *RedisStorage) GetSubjectByUsername(ctx context.Context, username string) (*Subject, error) {
	id, err := s.client.Get(ctx, s.key(KeyTypeUsername, username)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: subject not found", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}
	return s.GetSubject(ctx, id)
}

// CreateSubject stores a new subject and claims its username.
func (s *RedisStorage) CreateSubject(ctx context.Context, subject *Subject) error {
	if err := validateSubject(subject); err != nil {
		return err
	}
	data, err := json.Marshal(subject)
	if err != nil {
		return fmt.Errorf("failed to marshal subject: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.key(KeyTypeSubject, subject.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create subject: %w", err)
	}
	if !created {
		return fmt.Errorf("%w: subject already exists", ErrAlreadyExists)
	}

	claimed, err := s.client.SetNX(ctx, s.key(KeyTypeUsername, subject.Username), subject.ID, 0).Result()
	if err != nil || !claimed {
		_ = s.client.Del(ctx, s.key(KeyTypeSubject, subject.ID)).Err()
		if err != nil {
			return fmt.Errorf("failed to claim username: %w", err)
		}
		return fmt.Errorf("%w: username already taken", ErrAlreadyExists)
	}
	return nil
}

// UpdateSubject replaces a stored subject, moving its username claim if needed.
func (s *RedisStorage) UpdateSubject(ctx context.Context, subject *Subject) error {
	if err := validateSubject(subject); err != nil {
		return err
	}
	existing, err := s.GetSubject(ctx, subject.ID)
	if err != nil {
		return err
	}

	if existing.Username != subject.Username {
		claimed, err := s.client.SetNX(ctx, s.key(KeyTypeUsername, subject.Username), subject.ID, 0).Result()
		if err != nil {
			return fmt.Errorf("failed to claim username: %w", err)
		}
		if !claimed {
			return fmt.Errorf("%w: username already taken", ErrAlreadyExists)
		}
		_ = s.client.Del(ctx, s.key(KeyTypeUsername, existing.Username)).Err()
	}

	data, err := json.Marshal(subject)
	if err != nil {
		return fmt.Errorf("failed to marshal subject: %w", err)
	}
	if err := s.client.Set(ctx, s.key(KeyTypeSubject, subject.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update subject: %w", err)
	}
	return nil
}

// -----------------------
// PendingAuthorizationStorage
// -----------------------

// StorePendingAuthorization parks an authorization request until it expires.
func (s *RedisStorage) StorePendingAuthorization(ctx context.Context, pending *PendingAuthorization) error {
	if pending == nil || pending.ID == "" {
		return errors.New("pending authorization ID cannot be empty")
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to marshal pending authorization: %w", err)
	}
	if err := s.client.Set(ctx, s.key(KeyTypePending, pending.ID), data, ttlUntil(pending.ExpiresAt)).Err(); err != nil {
		return fmt.Errorf("failed to store pending authorization: %w", err)
	}
	return nil
}

// LoadPendingAuthorization returns a parked authorization request.
func (s *RedisStorage) LoadPendingAuthorization(ctx context.Context, id string) (*PendingAuthorization, error) {
	return getJSON[PendingAuthorization](ctx, s.client, s.key(KeyTypePending, id), "pending authorization")
}

// DeletePendingAuthorization removes a parked authorization request.
func (s *RedisStorage) DeletePendingAuthorization(ctx context.Context, id string) error {
	deleted, err := s.client.Del(ctx, s.key(KeyTypePending, id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete pending authorization: %w", err)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: pending authorization not found", ErrNotFound)
	}
	return nil
}

// -----------------------
// SessionStorage
// -----------------------

// CreateSession stores an end-user session until it expires.
func (s *RedisStorage) CreateSession(ctx context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session ID cannot be empty")
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(KeyTypeSession, session.ID), data, ttlUntil(session.ExpiresAt)).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// GetSession returns a live session.
func (s *RedisStorage) GetSession(ctx context.Context, id string) (*Session, error) {
	return getJSON[Session](ctx, s.client, s.key(KeyTypeSession, id), "session")
}

// DeleteSession removes a session.
func (s *RedisStorage) DeleteSession(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(KeyTypeSession, id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// -----------------------
// ReplayStorage
// -----------------------

// MarkUsed records key until expiresAt with SETNX.
func (s *RedisStorage) MarkUsed(ctx context.Context, key string, expiresAt time.Time) error {
	fresh, err := s.client.SetNX(ctx, s.key(KeyTypeReplay, key), 1, ttlUntil(expiresAt)).Result()
	if err != nil {
		return fmt.Errorf("failed to record replay key: %w", err)
	}
	if !fresh {
		return ErrReplay
	}
	return nil
}

// IsUsed reports whether key is recorded. Expired keys are gone by TTL.
func (s *RedisStorage) IsUsed(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(KeyTypeReplay, key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check replay key: %w", err)
	}
	return n > 0, nil
}

// Compile-time interface check.
var _ Storage = (*RedisStorage)(nil)
