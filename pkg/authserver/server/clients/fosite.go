// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// FositeClient exposes a registered client through fosite.Client.
type FositeClient struct {
	*storage.Client
}

var _ fosite.Client = (*FositeClient)(nil)

// AsFositeClient wraps c for the fosite handlers.
func AsFositeClient(c *storage.Client) *FositeClient {
	return &FositeClient{Client: c}
}

// GetID implements fosite.Client.
func (c *FositeClient) GetID() string { return c.ID }

// GetHashedSecret implements fosite.Client.
func (c *FositeClient) GetHashedSecret() []byte { return []byte(c.SecretHash) }

// GetRedirectURIs implements fosite.Client.
func (c *FositeClient) GetRedirectURIs() []string { return c.RedirectURIs }

// GetGrantTypes implements fosite.Client.
func (c *FositeClient) GetGrantTypes() fosite.Arguments { return c.GrantTypes }

// GetResponseTypes implements fosite.Client.
func (c *FositeClient) GetResponseTypes() fosite.Arguments { return c.ResponseTypes }

// GetScopes implements fosite.Client.
func (c *FositeClient) GetScopes() fosite.Arguments { return c.Scopes }

// GetAudience implements fosite.Client.
func (c *FositeClient) GetAudience() fosite.Arguments { return c.EffectiveAudience() }

// AuthenticateRequest is a fosite.ClientAuthenticationStrategy backed by the
// registry. fosite calls it from the revocation endpoint.
func (r *Registry) AuthenticateRequest(ctx context.Context, req *http.Request, _ url.Values) (fosite.Client, error) {
	creds, err := CredentialsFromRequest(req)
	if err != nil {
		return nil, err
	}
	client, err := r.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}
	return AsFositeClient(client), nil
}

// ReplayLedger is an AssertionLedger over replay storage.
type ReplayLedger struct {
	replay storage.ReplayStorage
}

// NewReplayLedger creates a ReplayLedger.
func NewReplayLedger(replay storage.ReplayStorage) *ReplayLedger {
	return &ReplayLedger{replay: replay}
}

// ClientAssertionJWTValid implements AssertionLedger.
func (l *ReplayLedger) ClientAssertionJWTValid(ctx context.Context, jti string) error {
	used, err := l.replay.IsUsed(ctx, jti)
	if err != nil {
		return fmt.Errorf("failed to check assertion jti: %w", err)
	}
	if used {
		return fosite.ErrJTIKnown
	}
	return nil
}

// SetClientAssertionJWT implements AssertionLedger.
func (l *ReplayLedger) SetClientAssertionJWT(ctx context.Context, jti string, exp time.Time) error {
	if err := l.replay.MarkUsed(ctx, jti, exp); err != nil {
		if errors.Is(err, storage.ErrReplay) {
			return fosite.ErrJTIKnown
		}
		return fmt.Errorf("failed to record assertion jti: %w", err)
	}
	return nil
}
