// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package consent tracks per-(subject, client) consent records, including the
// bypass for trusted and preconsented clients.
package consent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/toolhive-idp/pkg/authserver/events"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

var (
	// ErrNotFound is returned when no consent record exists for the pair.
	ErrNotFound = errors.New("consent not found")

	// ErrAlreadyRevoked is returned when revoking a revoked consent.
	ErrAlreadyRevoked = errors.New("consent already revoked")

	// ErrNotRevoked is returned when restoring a consent that is not revoked.
	ErrNotRevoked = errors.New("consent is not revoked")
)

// TokenRevoker revokes the live tokens of a subject at a client.
type TokenRevoker interface {
	RevokeTokensBySubjectAndClient(ctx context.Context, subject, clientID string, now time.Time) (int, error)
}

// Tracker manages consent records.
type Tracker struct {
	store     storage.ConsentStorage
	tokens    TokenRevoker
	publisher events.Publisher
	now       func() time.Time
}

// NewTracker creates a Tracker. tokens and publisher may be nil.
func NewTracker(store storage.ConsentStorage, tokens TokenRevoker, publisher events.Publisher) *Tracker {
	return &Tracker{store: store, tokens: tokens, publisher: publisher, now: time.Now}
}

// Query returns the record for (subject, clientID), revoked or not.
func (t *Tracker) Query(ctx context.Context, subject, clientID string) (*storage.Consent, error) {
	c, err := t.store.GetConsent(ctx, subject, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load consent: %w", err)
	}
	return c, nil
}

// Grant records that subject agreed to scopes for client. Scopes outside the
// client's allowed scope are dropped. An existing record is widened and a
// revoked record becomes active again.
func (t *Tracker) Grant(ctx context.Context, subject string, client *storage.Client, scopes []string) (*storage.Consent, error) {
	now := t.now()
	scopes = server.IntersectScopes(scopes, client.Scopes)

	existing, err := t.Query(ctx, subject, client.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	record := existing
	if record == nil {
		record = &storage.Consent{
			ID:       uuid.NewString(),
			Subject:  subject,
			ClientID: client.ID,
			IssuedAt: now,
		}
	}
	record.Scopes = server.UnionScopes(record.Scopes, scopes)
	record.RevokedAt = nil
	record.UpdatedAt = now

	if err := t.store.SaveConsent(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save consent: %w", err)
	}
	events.Emit(ctx, t.publisher, events.New(events.TypeConsentGranted, client.ID, subject,
		map[string]any{"scopes": record.Scopes}))
	return record, nil
}

// Revoke marks the consent revoked and revokes the subject's live tokens at
// the client. For trusted or preconsented clients without a record, a revoked
// record is materialized so the bypass no longer applies. Revoking a revoked
// record returns ErrAlreadyRevoked.
func (t *Tracker) Revoke(ctx context.Context, subject string, client *storage.Client) error {
	now := t.now()
	record, err := t.Query(ctx, subject, client.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		if !bypassesConsent(client) {
			return ErrNotFound
		}
		record = &storage.Consent{
			ID:       uuid.NewString(),
			Subject:  subject,
			ClientID: client.ID,
			IssuedAt: now,
		}
	case err != nil:
		return err
	case record.Revoked():
		return ErrAlreadyRevoked
	}

	record.RevokedAt = &now
	record.UpdatedAt = now
	if err := t.store.SaveConsent(ctx, record); err != nil {
		return fmt.Errorf("failed to save consent: %w", err)
	}

	if t.tokens != nil {
		if _, err := t.tokens.RevokeTokensBySubjectAndClient(ctx, subject, client.ID, now); err != nil {
			return fmt.Errorf("failed to revoke tokens: %w", err)
		}
	}
	events.Emit(ctx, t.publisher, events.New(events.TypeConsentRevoked, client.ID, subject, nil))
	return nil
}

// Restore clears the revocation of a revoked record. It never creates a
// record: restoring a missing record returns ErrNotFound and restoring an
// active one returns ErrNotRevoked.
func (t *Tracker) Restore(ctx context.Context, subject, clientID string) error {
	record, err := t.Query(ctx, subject, clientID)
	if err != nil {
		return err
	}
	if !record.Revoked() {
		return ErrNotRevoked
	}

	record.RevokedAt = nil
	record.UpdatedAt = t.now()
	if err := t.store.SaveConsent(ctx, record); err != nil {
		return fmt.Errorf("failed to save consent: %w", err)
	}
	events.Emit(ctx, t.publisher, events.New(events.TypeConsentRestored, clientID, subject, nil))
	return nil
}

// Satisfies reports whether subject's consent covers scopes at client without
// asking again. A non-revoked record must include every scope; without a
// record, trusted and preconsented clients pass. A revoked record always fails.
func (t *Tracker) Satisfies(ctx context.Context, subject string, client *storage.Client, scopes []string) (bool, error) {
	record, err := t.Query(ctx, subject, client.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		return bypassesConsent(client), nil
	case err != nil:
		return false, err
	case record.Revoked():
		return false, nil
	default:
		return server.ScopesCover(record.Scopes, scopes), nil
	}
}

// AllowsAssertion reports whether client may act for subject with a signed
// assertion: the client is trusted and the subject has not revoked it, or the
// subject holds a non-revoked consent for the client.
func (t *Tracker) AllowsAssertion(ctx context.Context, subject string, client *storage.Client) (bool, error) {
	record, err := t.Query(ctx, subject, client.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		return client.Trusted, nil
	case err != nil:
		return false, err
	default:
		return !record.Revoked(), nil
	}
}

// List returns the subject's consent records ordered by client.
func (t *Tracker) List(ctx context.Context, subject string) ([]*storage.Consent, error) {
	records, err := t.store.ListConsents(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to list consents: %w", err)
	}
	slices.SortFunc(records, func(a, b *storage.Consent) int {
		return strings.Compare(a.ClientID, b.ClientID)
	})
	return records, nil
}

func bypassesConsent(client *storage.Client) bool {
	return client.Trusted || client.Preconsented
}
