// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events publishes notifications about authorization server state
// changes to out-of-process subscribers, such as a directory synchronizer.
//
// Events are published after the change has been persisted. Delivery is best
// effort: callers log publish failures and never fail the originating request.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

//go:generate mockgen -destination=mocks/mock_publisher.go -package=mocks -source=events.go Publisher

// Type is an event category.
type Type string

const (
	// TypeClientCreated is emitted after a client is registered.
	TypeClientCreated Type = "client.created"
	// TypeClientUpdated is emitted after client metadata is replaced.
	TypeClientUpdated Type = "client.updated"
	// TypeClientDeleted is emitted after a client and its dependent records are removed.
	TypeClientDeleted Type = "client.deleted"

	// TypeConsentGranted is emitted when a consent record is created or widened.
	TypeConsentGranted Type = "consent.granted"
	// TypeConsentRevoked is emitted when a consent record is revoked.
	TypeConsentRevoked Type = "consent.revoked"
	// TypeConsentRestored is emitted when a revoked consent record is restored.
	TypeConsentRestored Type = "consent.restored"

	// TypeTokenRevoked is emitted when a token is revoked at the revocation endpoint
	// or as a consequence of code reuse.
	TypeTokenRevoked Type = "token.revoked"

	// TypeSubjectCreated is emitted after a subject account is created.
	TypeSubjectCreated Type = "subject.created"
	// TypeSubjectUpdated is emitted after a subject account changes.
	TypeSubjectUpdated Type = "subject.updated"
)

// Event is a notification about a persisted change.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	ClientID  string         `json:"client_id,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// New builds an event stamped with a fresh ID and the current time.
func New(eventType Type, clientID, subject string, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		ClientID:  clientID,
		Subject:   subject,
		Payload:   payload,
	}
}

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Emit publishes event and logs, rather than returns, any failure.
func Emit(ctx context.Context, p Publisher, event Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		slog.Warn("failed to publish event",
			"type", string(event.Type),
			"client_id", event.ClientID,
			"error", err,
		)
	}
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

// Publish implements Publisher.
func (NoopPublisher) Publish(context.Context, Event) error {
	return nil
}

// LogPublisher writes every event to a structured logger.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher returns a publisher writing to logger, or slog.Default() when nil.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.logger.InfoContext(ctx, "authserver event",
		"event_id", event.ID,
		"type", string(event.Type),
		"client_id", event.ClientID,
		"subject", event.Subject,
	)
	return nil
}

// Multi fans an event out to several publishers. Every publisher is tried;
// the first error is returned.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, event Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ Publisher = NoopPublisher{}
	_ Publisher = (*LogPublisher)(nil)
	_ Publisher = Multi(nil)
)
