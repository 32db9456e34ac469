// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// timedEntry is a stored value with its lifetime.
type timedEntry[T any] struct {
	value     T
	createdAt time.Time
	expiresAt time.Time
}

func (e *timedEntry[T]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// MemoryStorage keeps all state in process memory. It serves tests,
// development and single replica deployments; nothing survives a restart.
//
// One RWMutex guards every map, which makes code consumption, refresh
// rotation and replay marking atomic.
type MemoryStorage struct {
	mu sync.RWMutex

	clients map[string]*Client

	// codes is keyed by code signature. A consumed code stays until
	// DefaultConsumedCodeRetention past its expiry so replays are recognised.
	codes map[string]*timedEntry[*AuthorizationCode]

	// tokens is keyed by token ID, accessIndex and refreshIndex map
	// signatures to that ID.
	tokens       map[string]*timedEntry[*Token]
	accessIndex  map[string]string
	refreshIndex map[string]string

	// consents is keyed by consentKey and never expires.
	consents map[string]*Consent

	subjects  map[string]*Subject
	usernames map[string]string

	pendingAuthorizations map[string]*timedEntry[*PendingAuthorization]
	sessions              map[string]*timedEntry[*Session]
	replay                map[string]time.Time

	sweepInterval time.Duration
	stop          chan struct{}
	stopped       chan struct{}
	closeOnce     sync.Once
}

// MemoryStorageOption configures a MemoryStorage.
type MemoryStorageOption func(*MemoryStorage)

// WithCleanupInterval sets how often expired entries are swept.
func WithCleanupInterval(interval time.Duration) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.sweepInterval = interval
	}
}

// NewMemoryStorage returns an empty MemoryStorage and starts its sweeper.
// Close stops the sweeper.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	s := &MemoryStorage{
		clients:               make(map[string]*Client),
		codes:                 make(map[string]*timedEntry[*AuthorizationCode]),
		tokens:                make(map[string]*timedEntry[*Token]),
		accessIndex:           make(map[string]string),
		refreshIndex:          make(map[string]string),
		consents:              make(map[string]*Consent),
		subjects:              make(map[string]*Subject),
		usernames:             make(map[string]string),
		pendingAuthorizations: make(map[string]*timedEntry[*PendingAuthorization]),
		sessions:              make(map[string]*timedEntry[*Session]),
		replay:                make(map[string]time.Time),
		sweepInterval:         DefaultCleanupInterval,
		stop:                  make(chan struct{}),
		stopped:               make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.sweep()
	return s
}

// Health always succeeds.
func (*MemoryStorage) Health(context.Context) error {
	return nil
}

// Close stops the sweeper. It is safe to call more than once.
func (s *MemoryStorage) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.stopped
	})
	return nil
}

func (s *MemoryStorage) sweep() {
	defer close(s.stopped)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.cleanupExpired(now)
		}
	}
}

// cleanupExpired drops every entry whose lifetime ended before now.
func (s *MemoryStorage) cleanupExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruneExpired(s.codes, now)
	pruneExpired(s.pendingAuthorizations, now)
	pruneExpired(s.sessions, now)
	for id, entry := range s.tokens {
		if entry.expired(now) {
			s.deleteTokenLocked(id)
		}
	}
	for key, until := range s.replay {
		if now.After(until) {
			delete(s.replay, key)
		}
	}
}

func pruneExpired[T any](m map[string]*timedEntry[T], now time.Time) {
	for k, entry := range m {
		if entry.expired(now) {
			delete(m, k)
		}
	}
}

// -----------------------
// ClientStorage
// -----------------------

// GetClient loads the client by its ID.
func (s *MemoryStorage) GetClient(_ context.Context, id string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: client not found", ErrNotFound)
	}
	return client.Clone(), nil
}

// CreateClient stores a new client.
func (s *MemoryStorage) CreateClient(_ context.Context, client *Client) error {
	if err := validateClient(client); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ID]; exists {
		return fmt.Errorf("%w: client already exists", ErrAlreadyExists)
	}
	s.clients[client.ID] = client.Clone()
	return nil
}

// UpdateClient replaces a stored client.
func (s *MemoryStorage) UpdateClient(_ context.Context, client *Client) error {
	if err := validateClient(client); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ID]; !exists {
		return fmt.Errorf("%w: client not found", ErrNotFound)
	}
	s.clients[client.ID] = client.Clone()
	return nil
}

// DeleteClient removes a client together with its codes, tokens and consents.
func (s *MemoryStorage) DeleteClient(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[id]; !exists {
		return fmt.Errorf("%w: client not found", ErrNotFound)
	}
	delete(s.clients, id)

	for sig, entry := range s.codes {
		if entry.value.ClientID == id {
			delete(s.codes, sig)
		}
	}
	for tokenID, entry := range s.tokens {
		if entry.value.ClientID == id {
			s.deleteTokenLocked(tokenID)
		}
	}
	for k, consent := range s.consents {
		if consent.ClientID == id {
			delete(s.consents, k)
		}
	}
	return nil
}

// ListClients returns all clients ordered by ID.
func (s *MemoryStorage) ListClients(_ context.Context) ([]*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c.Clone())
	}
	slices.SortFunc(out, func(a, b *Client) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// -----------------------
// AuthorizationCodeStorage
// -----------------------

// CreateAuthorizationCode stores a new authorization code.
func (s *MemoryStorage) CreateAuthorizationCode(_ context.Context, code *AuthorizationCode) error {
	if code == nil || code.Signature == "" {
		return errors.New("authorization code signature cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Signature]; exists {
		return fmt.Errorf("%w: authorization code already exists", ErrAlreadyExists)
	}
	s.codes[code.Signature] = &timedEntry[*AuthorizationCode]{
		value:     code.Clone(),
		createdAt: time.Now(),
		expiresAt: code.ExpiresAt.Add(DefaultConsumedCodeRetention),
	}
	return nil
}

// ConsumeAuthorizationCode marks the code consumed. The check and the update
// happen under the write lock.
func (s *MemoryStorage) ConsumeAuthorizationCode(_ context.Context, signature string, now time.Time) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.codes[signature]
	if !ok {
		return nil, fmt.Errorf("%w: authorization code not found", ErrNotFound)
	}
	if entry.value.ConsumedAt != nil {
		return entry.value.Clone(), ErrAlreadyConsumed
	}
	consumedAt := now
	entry.value.ConsumedAt = &consumedAt
	return entry.value.Clone(), nil
}

// -----------------------
// TokenStorage
// -----------------------

// CreateToken stores a new token pair.
func (s *MemoryStorage) CreateToken(_ context.Context, token *Token) error {
	if err := validateToken(token); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createTokenLocked(token)
}

func (s *MemoryStorage) createTokenLocked(token *Token) error {
	if _, exists := s.tokens[token.ID]; exists {
		return fmt.Errorf("%w: token already exists", ErrAlreadyExists)
	}
	if _, exists := s.accessIndex[token.AccessSignature]; exists {
		return fmt.Errorf("%w: access token signature already exists", ErrAlreadyExists)
	}
	s.tokens[token.ID] = &timedEntry[*Token]{
		value:     token.Clone(),
		createdAt: time.Now(),
		expiresAt: token.ExpiresAt(),
	}
	s.accessIndex[token.AccessSignature] = token.ID
	if token.RefreshSignature != "" {
		s.refreshIndex[token.RefreshSignature] = token.ID
	}
	return nil
}

func (s *MemoryStorage) deleteTokenLocked(id string) {
	entry, ok := s.tokens[id]
	if !ok {
		return
	}
	delete(s.accessIndex, entry.value.AccessSignature)
	if entry.value.RefreshSignature != "" {
		delete(s.refreshIndex, entry.value.RefreshSignature)
	}
	delete(s.tokens, id)
}

// GetToken looks a token up by id.
func (s *MemoryStorage) GetToken(_ context.Context, id string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: token not found", ErrNotFound)
	}
	return entry.value.Clone(), nil
}

// GetTokenByAccessSignature looks a token up by its access token signature.
func (s *MemoryStorage) GetTokenByAccessSignature(_ context.Context, signature string) (*Token, error) {
	return s.getTokenByIndex(s.accessIndex, signature)
}

// GetTokenByRefreshSignature looks a token up by its refresh token signature.
func (s *MemoryStorage) GetTokenByRefreshSignature(_ context.Context, signature string) (*Token, error) {
	return s.getTokenByIndex(s.refreshIndex, signature)
}

func (s *MemoryStorage) getTokenByIndex(index map[string]string, signature string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := index[signature]
	if !ok {
		return nil, fmt.Errorf("%w: token not found", ErrNotFound)
	}
	entry, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: token not found", ErrNotFound)
	}
	return entry.value.Clone(), nil
}

// RotateToken revokes oldID and stores next under a single write lock.
func (s *MemoryStorage) RotateToken(_ context.Context, oldID string, next *Token, now time.Time) error {
	if err := validateToken(next); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tokens[oldID]
	if !ok {
		return fmt.Errorf("%w: token not found", ErrNotFound)
	}
	if entry.value.Revoked() {
		return ErrTokenRevoked
	}
	if err := s.createTokenLocked(next); err != nil {
		return err
	}
	revokedAt := now
	entry.value.RevokedAt = &revokedAt
	return nil
}

// RevokeToken marks a token revoked.
func (s *MemoryStorage) RevokeToken(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tokens[id]
	if !ok {
		return false, fmt.Errorf("%w: token not found", ErrNotFound)
	}
	if entry.value.Revoked() {
		return false, nil
	}
	revokedAt := now
	entry.value.RevokedAt = &revokedAt
	return true, nil
}

// RevokeTokensByAuthorizationCode revokes all tokens descending from a code,
// including tokens rotated from them.
func (s *MemoryStorage) RevokeTokensByAuthorizationCode(_ context.Context, codeID string, now time.Time) (int, error) {
	if codeID == "" {
		return 0, nil
	}
	return s.revokeWhere(now, func(t *Token) bool { return t.AuthorizationCodeID == codeID }), nil
}

// RevokeTokensBySubjectAndClient revokes all tokens of a subject at a client.
func (s *MemoryStorage) RevokeTokensBySubjectAndClient(_ context.Context, subject, clientID string, now time.Time) (int, error) {
	return s.revokeWhere(now, func(t *Token) bool { return t.Subject == subject && t.ClientID == clientID }), nil
}

func (s *MemoryStorage) revokeWhere(now time.Time, match func(*Token) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, entry := range s.tokens {
		if entry.value.Revoked() || !match(entry.value) {
			continue
		}
		revokedAt := now
		entry.value.RevokedAt = &revokedAt
		count++
	}
	return count
}

// -----------------------
// ConsentStorage
// -----------------------

func consentKey(subject, clientID string) string {
	return subject + "\x00" + clientID
}

// GetConsent returns the consent record for a subject and client.
func (s *MemoryStorage) GetConsent(_ context.Context, subject, clientID string) (*Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	consent, ok := s.consents[consentKey(subject, clientID)]
	if !ok {
		return nil, fmt.Errorf("%w: consent not found", ErrNotFound)
	}
	return consent.Clone(), nil
}

// SaveConsent inserts or replaces a consent record.
func (s *MemoryStorage) SaveConsent(_ context.Context, consent *Consent) error {
	if err := validateConsent(consent); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.consents[consentKey(consent.Subject, consent.ClientID)] = consent.Clone()
	return nil
}

// ListConsents returns every consent record of a subject ordered by client.
func (s *MemoryStorage) ListConsents(_ context.Context, subject string) ([]*Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Consent
	for _, c := range s.consents {
		if c.Subject == subject {
			out = append(out, c.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *Consent) int { return strings.Compare(a.ClientID, b.ClientID) })
	return out, nil
}

// -----------------------
// SubjectStorage
// -----------------------

// GetSubject returns a subject by ID.
func (s *MemoryStorage) GetSubject(_ context.Context, id string) (*Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subject, ok := s.subjects[id]
	if !ok {
		return nil, fmt.Errorf("%w: subject not found", ErrNotFound)
	}
	return subject.Clone(), nil
}

// GetSubjectByUsername returns a subject by username.
func (s *MemoryStorage) GetSubjectByUsername(_ context.Context, username string) (*Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return nil, fmt.Errorf("%w: subject not found", ErrNotFound)
	}
	return s.subjects[id].Clone(), nil
}

// CreateSubject stores a new subject.
func (s *MemoryStorage) CreateSubject(_ context.Context, subject *Subject) error {
	if err := validateSubject(subject); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subjects[subject.ID]; exists {
		return fmt.Errorf("%w: subject already exists", ErrAlreadyExists)
	}
	if _, exists := s.usernames[subject.Username]; exists {
		return fmt.Errorf("%w: username already taken", ErrAlreadyExists)
	}
	s.subjects[subject.ID] = subject.Clone()
	s.usernames[subject.Username] = subject.ID
	return nil
}

// UpdateSubject replaces a stored subject.
func (s *MemoryStorage) UpdateSubject(_ context.Context, subject *Subject) error {
	if err := validateSubject(subject); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.subjects[subject.ID]
	if !ok {
		return fmt.Errorf("%w: subject not found", ErrNotFound)
	}
	if existing.Username != subject.Username {
		if _, taken := s.usernames[subject.Username]; taken {
			return fmt.Errorf("%w: username already taken", ErrAlreadyExists)
		}
		delete(s.usernames, existing.Username)
		s.usernames[subject.Username] = subject.ID
	}
	s.subjects[subject.ID] = subject.Clone()
	return nil
}

// -----------------------
// PendingAuthorizationStorage
// -----------------------

// StorePendingAuthorization parks an authorization request.
func (s *MemoryStorage) StorePendingAuthorization(_ context.Context, pending *PendingAuthorization) error {
	if pending == nil || pending.ID == "" {
		return errors.New("pending authorization ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *pending
	cp.Request = slices.Clone(pending.Request)
	s.pendingAuthorizations[pending.ID] = &timedEntry[*PendingAuthorization]{
		value:     &cp,
		createdAt: pending.CreatedAt,
		expiresAt: pending.ExpiresAt,
	}
	return nil
}

// LoadPendingAuthorization returns a parked authorization request.
func (s *MemoryStorage) LoadPendingAuthorization(_ context.Context, id string) (*PendingAuthorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.pendingAuthorizations[id]
	if !ok || entry.expired(time.Now()) {
		return nil, fmt.Errorf("%w: pending authorization not found", ErrNotFound)
	}
	cp := *entry.value
	cp.Request = slices.Clone(entry.value.Request)
	return &cp, nil
}

// DeletePendingAuthorization removes a parked authorization request.
func (s *MemoryStorage) DeletePendingAuthorization(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pendingAuthorizations[id]; !ok {
		return fmt.Errorf("%w: pending authorization not found", ErrNotFound)
	}
	delete(s.pendingAuthorizations, id)
	return nil
}

// -----------------------
// SessionStorage
// -----------------------

// CreateSession stores an end-user session.
func (s *MemoryStorage) CreateSession(_ context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = &timedEntry[*Session]{
		value:     session.Clone(),
		createdAt: time.Now(),
		expiresAt: session.ExpiresAt,
	}
	return nil
}

// GetSession returns a live session.
func (s *MemoryStorage) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[id]
	if !ok || entry.expired(time.Now()) {
		return nil, fmt.Errorf("%w: session not found", ErrNotFound)
	}
	return entry.value.Clone(), nil
}

// DeleteSession removes a session. Deleting an unknown session is not an error.
func (s *MemoryStorage) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// -----------------------
// ReplayStorage
// -----------------------

// MarkUsed records key until expiresAt.
func (s *MemoryStorage) MarkUsed(_ context.Context, key string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.replay[key]; ok && time.Now().Before(exp) {
		return ErrReplay
	}
	s.replay[key] = expiresAt
	return nil
}

// IsUsed reports whether key is recorded and not yet expired.
func (s *MemoryStorage) IsUsed(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.replay[key]
	return ok && time.Now().Before(exp), nil
}

// Stats returns record counts.
func (s *MemoryStorage) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Clients:               len(s.clients),
		AuthorizationCodes:    len(s.codes),
		Tokens:                len(s.tokens),
		Consents:              len(s.consents),
		Subjects:              len(s.subjects),
		PendingAuthorizations: len(s.pendingAuthorizations),
		Sessions:              len(s.sessions),
		ReplayEntries:         len(s.replay),
	}
}

// Compile-time interface check.
var _ Storage = (*MemoryStorage)(nil)
