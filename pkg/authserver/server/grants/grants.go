// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package grants implements the token endpoint. Every grant type is a Grant
// registered in a Registry at startup; the Engine authenticates the client and
// drives the selected grant through validation, subject resolution and
// issuance.
package grants

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"time"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/events"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/clients"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/consent"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/tokens"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// Exchange carries one token request through a grant. Validate and
// ResolveSubject fill in the fields the grant derives from its artifact.
type Exchange struct {
	Client    *storage.Client
	GrantType string
	Form      url.Values

	// Scopes is the scope to grant.
	Scopes []string
	// Audience is the token audience; empty means the client's audience.
	Audience []string

	Code    *storage.AuthorizationCode
	Parent  *storage.Token
	Subject *storage.Subject

	// AssertionSubject is the sub claim of a jwt-bearer assertion.
	AssertionSubject string
}

// Grant is one grant_type.
type Grant interface {
	// Type returns the grant_type value.
	Type() string
	// Validate checks the grant-specific request parameters and artifact.
	Validate(ctx context.Context, ex *Exchange) error
	// ResolveSubject returns the acting subject, or nil when the grant acts for
	// the client itself.
	ResolveSubject(ctx context.Context, ex *Exchange) (*storage.Subject, error)
	// Issue mints and stores the tokens.
	Issue(ctx context.Context, ex *Exchange) (*tokens.Response, error)
}

// Registry maps grant_type values to grants.
type Registry struct {
	grants map[string]Grant
}

// NewRegistry builds a registry. Registering two grants with the same type
// is an error.
func NewRegistry(grants ...Grant) (*Registry, error) {
	r := &Registry{grants: make(map[string]Grant, len(grants))}
	for _, g := range grants {
		if _, dup := r.grants[g.Type()]; dup {
			return nil, fmt.Errorf("grant type %q registered twice", g.Type())
		}
		r.grants[g.Type()] = g
	}
	return r, nil
}

// Lookup returns the grant for grantType.
func (r *Registry) Lookup(grantType string) (Grant, bool) {
	g, ok := r.grants[grantType]
	return g, ok
}

// Types returns the registered grant types in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.grants))
	for t := range r.grants {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Dependencies are the collaborators shared by the built-in grants.
type Dependencies struct {
	Clients   *clients.Registry
	Issuer    *tokens.Issuer
	Consent   *consent.Tracker
	Codes     storage.AuthorizationCodeStorage
	Tokens    storage.TokenStorage
	Subjects  storage.SubjectStorage
	Publisher events.Publisher
	Now       func() time.Time
}

func (d *Dependencies) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// DefaultGrants returns every built-in token endpoint grant.
func DefaultGrants(deps *Dependencies) []Grant {
	return []Grant{
		&AuthorizationCodeGrant{deps: deps},
		&RefreshTokenGrant{deps: deps},
		&PasswordGrant{deps: deps},
		&ClientCredentialsGrant{deps: deps},
		&JWTBearerGrant{deps: deps},
	}
}

// lookupSubject loads a subject, turning a missing record into invalid_grant.
func lookupSubject(ctx context.Context, subjects storage.SubjectStorage, id string) (*storage.Subject, error) {
	subject, err := subjects.GetSubject(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fosite.ErrInvalidGrant.WithHint("The subject no longer exists.")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subject: %w", err)
	}
	return subject, nil
}

// clientScopes resolves the scope parameter against what the client may be
// granted. Without a scope parameter fallback is used.
func clientScopes(client *storage.Client, form url.Values, fallback []string) ([]string, error) {
	requested := server.ParseScope(form.Get("scope"))
	if len(requested) == 0 {
		return slices.Clone(fallback), nil
	}
	granted := server.IntersectScopes(requested, client.Scopes)
	if len(granted) == 0 {
		return nil, fosite.ErrInvalidScope.WithHint("None of the requested scopes is allowed for this client.")
	}
	return granted, nil
}

// store persists a freshly minted token record.
func store(ctx context.Context, tokenStore storage.TokenStorage, record *storage.Token) error {
	if err := tokenStore.CreateToken(ctx, record); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}
