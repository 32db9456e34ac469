// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session tracks authenticated end users across authorization
// requests. A session binds a browser cookie to a subject, the time the
// subject authenticated and the factors used to do so.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server/tokens"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

//go:generate mockgen -destination=mocks/mock_resolver.go -package=mocks -source=session.go Resolver

const (
	// DefaultCookieName is the name of the session cookie.
	DefaultCookieName = "thv_idp_session"
	// DefaultTTL is how long a session stays valid after login.
	DefaultTTL = 12 * time.Hour
)

// ErrInvalidCredentials is returned for unknown users, wrong passwords and
// locked accounts alike.
var ErrInvalidCredentials = errors.New("invalid username or password")

// Principal is an authenticated end user.
type Principal struct {
	Subject   *storage.Subject
	SessionID string
	AuthTime  time.Time
	Factors   []string
}

// AMR returns the authentication method references of the principal.
func (p *Principal) AMR() []string {
	return tokens.ComputeAMR(p.Factors)
}

// Resolver finds the principal behind a request. It returns nil without an
// error when the request is not authenticated.
type Resolver interface {
	Resolve(r *http.Request) (*Principal, error)
}

// Manager creates and resolves cookie-bound sessions.
type Manager struct {
	sessions   storage.SessionStorage
	subjects   storage.SubjectStorage
	cookieName string
	ttl        time.Duration
	secure     bool
	now        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithCookieName overrides DefaultCookieName.
func WithCookieName(name string) Option {
	return func(m *Manager) { m.cookieName = name }
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithInsecureCookies drops the Secure attribute, for plain HTTP development setups.
func WithInsecureCookies() Option {
	return func(m *Manager) { m.secure = false }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager.
func NewManager(sessions storage.SessionStorage, subjects storage.SubjectStorage, opts ...Option) *Manager {
	m := &Manager{
		sessions:   sessions,
		subjects:   subjects,
		cookieName: DefaultCookieName,
		ttl:        DefaultTTL,
		secure:     true,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start creates a session for subject authenticated with factors and sets the
// session cookie on w.
func (m *Manager) Start(ctx context.Context, w http.ResponseWriter, subject *storage.Subject, factors []string) (*Principal, error) {
	if subject.Locked {
		return nil, ErrInvalidCredentials
	}
	now := m.now()
	sess := &storage.Session{
		ID:        rand.Text(),
		Subject:   subject.ID,
		AuthTime:  now,
		Factors:   slices.Clone(factors),
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.sessions.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	slog.Debug("session started", "subject", subject.ID, "factors", factors)

	return &Principal{Subject: subject, SessionID: sess.ID, AuthTime: now, Factors: sess.Factors}, nil
}

// Resolve implements Resolver. Unknown, expired and locked sessions resolve
// to nil.
func (m *Manager) Resolve(r *http.Request) (*Principal, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	ctx := r.Context()

	sess, err := m.sessions.GetSession(ctx, cookie.Value)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !m.now().Before(sess.ExpiresAt) {
		return nil, nil
	}

	subject, err := m.subjects.GetSubject(ctx, sess.Subject)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session subject: %w", err)
	}
	if subject.Locked {
		slog.Debug("ignoring session of locked subject", "subject", subject.ID)
		return nil, nil
	}

	return &Principal{Subject: subject, SessionID: sess.ID, AuthTime: sess.AuthTime, Factors: sess.Factors}, nil
}

// End deletes the request's session and clears the cookie.
func (m *Manager) End(w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	if err := m.sessions.DeleteSession(r.Context(), cookie.Value); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Login verifies a username and password and starts a session recording the
// password factor.
func (m *Manager) Login(ctx context.Context, w http.ResponseWriter, username, password string) (*Principal, error) {
	subject, err := VerifyPassword(ctx, m.subjects, username, password)
	if err != nil {
		return nil, err
	}
	return m.Start(ctx, w, subject, []string{tokens.FactorPassword})
}

var dummyPasswordHash = sync.OnceValue(func() []byte {
	hash, _ := bcrypt.GenerateFromPassword([]byte("dummy-password"), bcrypt.DefaultCost)
	return hash
})

// VerifyPassword returns the subject named username if password matches its
// bcrypt hash. Unknown users still pay for a hash comparison. Locked subjects
// fail with ErrInvalidCredentials.
func VerifyPassword(ctx context.Context, subjects storage.SubjectStorage, username, password string) (*storage.Subject, error) {
	subject, err := subjects.GetSubjectByUsername(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(dummyPasswordHash(), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subject: %w", err)
	}
	if subject.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyPasswordHash(), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(subject.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if subject.Locked {
		slog.Info("rejected login of locked subject", "subject", subject.ID)
		return nil, ErrInvalidCredentials
	}
	return subject, nil
}
