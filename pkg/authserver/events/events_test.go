// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package events_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-idp/pkg/authserver/events"
	"github.com/stacklok/toolhive-idp/pkg/authserver/events/mocks"
)

func TestNew(t *testing.T) {
	t.Parallel()

	e := events.New(events.TypeClientCreated, "web", "", map[string]any{"name": "Web"})
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, events.TypeClientCreated, e.Type)
	assert.Equal(t, "web", e.ClientID)
	assert.WithinDuration(t, time.Now(), e.Timestamp, time.Second)

	other := events.New(events.TypeClientCreated, "web", "", nil)
	assert.NotEqual(t, e.ID, other.ID)
}

func TestEmit_SwallowsErrors(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	pub := mocks.NewMockPublisher(ctrl)
	pub.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

	assert.NotPanics(t, func() {
		events.Emit(context.Background(), pub, events.New(events.TypeTokenRevoked, "web", "alice", nil))
	})
	events.Emit(context.Background(), nil, events.Event{})
}

func TestLogPublisher(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	p := events.NewLogPublisher(logger)

	require.NoError(t, p.Publish(context.Background(), events.New(events.TypeConsentRevoked, "web", "alice", nil)))
	assert.Contains(t, buf.String(), `"type":"consent.revoked"`)
	assert.Contains(t, buf.String(), `"subject":"alice"`)
}

func TestMulti(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	failing := mocks.NewMockPublisher(ctrl)
	failing.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("first"))
	ok := mocks.NewMockPublisher(ctrl)
	ok.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	err := events.Multi{failing, ok, events.NoopPublisher{}}.Publish(context.Background(), events.Event{})
	require.EqualError(t, err, "first")
}

func TestRedisPublisher_RoundTrip(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received, err := events.Subscribe(ctx, client, "thv:idp:events")
	require.NoError(t, err)

	pub := events.NewRedisPublisher(client, "thv:idp:events")
	sent := events.New(events.TypeClientDeleted, "web", "", nil)
	require.NoError(t, pub.Publish(ctx, sent))

	select {
	case got := <-received:
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, events.TypeClientDeleted, got.Type)
		assert.Equal(t, "web", got.ClientID)
	case <-ctx.Done():
		t.Fatal("event not received")
	}
}
