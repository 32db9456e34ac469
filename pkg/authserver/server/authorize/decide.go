// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authorize

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/session"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/telemetry"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// Decision is the next step for an authorization request.
type Decision int

const (
	// Proceed means the request can be answered now.
	Proceed Decision = iota
	// NeedLogin means the end user must authenticate first.
	NeedLogin
	// NeedConsent means the end user must approve the requested scope.
	NeedConsent
	// NeedRegistration means the end user asked to create an account.
	NeedRegistration
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case NeedLogin:
		return "login"
	case NeedConsent:
		return "consent"
	case NeedRegistration:
		return "registration"
	default:
		return "unknown"
	}
}

// Decide determines the next step for req given the authenticated principal,
// which is nil for anonymous requests. With prompt=none every step that needs
// the end user is returned as an error instead.
func (v *Validator) Decide(ctx context.Context, req *Request, client *storage.Client, principal *session.Principal) (d Decision, err error) {
	ctx, span := telemetry.StartSpan(ctx, "authorize.decide", telemetry.AttrClientID.String(client.ID))
	defer func() {
		span.SetAttributes(telemetry.AttrOutcome.String(d.String()))
		telemetry.EndSpan(span, err)
	}()

	if req.HasPrompt(PromptCreate) {
		if !v.allowRegistration || principal != nil {
			return 0, fosite.ErrInvalidRequest.WithHint("Prompt create is only allowed for anonymous users when self-registration is enabled.")
		}
		return NeedRegistration, nil
	}

	if principal == nil || principal.Subject == nil || principal.Subject.Locked {
		if req.HasPrompt(PromptNone) {
			return 0, fosite.ErrLoginRequired.WithHint("The end user is not authenticated.")
		}
		return NeedLogin, nil
	}

	if !v.loginFresh(req, principal) {
		if req.HasPrompt(PromptNone) {
			return 0, fosite.ErrLoginRequired.WithHint("The authentication is older than max_age.")
		}
		return NeedLogin, nil
	}

	if req.HasPrompt(PromptConsent) {
		return NeedConsent, nil
	}

	ok, err := v.consent.Satisfies(ctx, principal.Subject.ID, client, req.Scopes)
	if err != nil {
		return 0, err
	}
	if ok {
		return Proceed, nil
	}
	if req.HasPrompt(PromptNone) {
		return 0, fosite.ErrConsentRequired.WithHint("The end user has not consented to the requested scope.")
	}
	return NeedConsent, nil
}

// loginFresh reports whether the principal's authentication satisfies
// prompt=login and max_age. A login that happened after the request was
// received always does.
func (v *Validator) loginFresh(req *Request, principal *session.Principal) bool {
	if !principal.AuthTime.Before(req.CreatedAt) {
		return true
	}
	if req.HasPrompt(PromptLogin) {
		return false
	}
	if req.MaxAge >= 0 && v.now().Sub(principal.AuthTime) > time.Duration(req.MaxAge)*time.Second {
		return false
	}
	return true
}

// Park stores req while the end user completes an interactive step and
// returns the identifier to resume it with.
func (v *Validator) Park(ctx context.Context, req *Request) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode authorization request: %w", err)
	}
	now := v.now()
	pending := &storage.PendingAuthorization{
		ID:        rand.Text(),
		ClientID:  req.ClientID,
		Request:   raw,
		CreatedAt: now,
		ExpiresAt: now.Add(v.pendingTTL),
	}
	if err := v.pending.StorePendingAuthorization(ctx, pending); err != nil {
		return "", fmt.Errorf("failed to park authorization request: %w", err)
	}
	return pending.ID, nil
}

// Resume loads a parked request. The client is loaded again and the redirect
// URI re-checked, since either may have changed in the meantime.
func (v *Validator) Resume(ctx context.Context, id string) (*Request, *storage.Client, error) {
	pending, err := v.pending.LoadPendingAuthorization(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, fosite.ErrInvalidRequest.WithHint("The authorization request is unknown or has expired.")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load authorization request: %w", err)
	}

	var req Request
	if err := json.Unmarshal(pending.Request, &req); err != nil {
		return nil, nil, fmt.Errorf("failed to decode authorization request: %w", err)
	}
	client, err := v.clients.Get(ctx, req.ClientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, fosite.ErrInvalidClient.WithHint("The requested client was not found.")
	}
	if err != nil {
		return nil, nil, err
	}
	if !client.HasRedirectURI(req.RedirectURI) {
		return nil, client, fosite.ErrInvalidRequest.WithHint("The redirect URI is no longer registered.")
	}
	req.redirectable = true

	if len(req.Scopes) > 0 {
		req.Scopes = server.IntersectScopes(req.Scopes, client.Scopes)
		if len(req.Scopes) == 0 {
			return &req, client, fosite.ErrInvalidScope.WithHint("None of the requested scopes is allowed for this client anymore.")
		}
	}
	if req.HasResponseType(ResponseTypeIDToken) && !slices.Contains(req.Scopes, server.ScopeOpenID) {
		return &req, client, fosite.ErrInvalidScope.WithHint("The openid scope is no longer allowed for this client.")
	}
	return &req, client, nil
}

// Discard deletes a parked request. Missing requests are ignored.
func (v *Validator) Discard(ctx context.Context, id string) error {
	if err := v.pending.DeletePendingAuthorization(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete authorization request: %w", err)
	}
	return nil
}
