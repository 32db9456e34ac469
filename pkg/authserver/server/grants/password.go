// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"context"
	"errors"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server/session"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/tokens"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// PasswordGrant is the resource owner password credentials grant
// (RFC 6749 Section 4.3).
type PasswordGrant struct {
	deps *Dependencies
}

// Type implements Grant.
func (*PasswordGrant) Type() string { return tokens.GrantPassword }

// Validate implements Grant.
func (*PasswordGrant) Validate(_ context.Context, ex *Exchange) error {
	if ex.Form.Get("username") == "" || ex.Form.Get("password") == "" {
		return fosite.ErrInvalidRequest.WithHint("The username and password parameters are required.")
	}
	scopes, err := clientScopes(ex.Client, ex.Form, ex.Client.DefaultScopes)
	if err != nil {
		return err
	}
	ex.Scopes = scopes
	return nil
}

// ResolveSubject verifies the credentials. Unknown users, wrong passwords and
// locked subjects are indistinguishable to the caller.
func (g *PasswordGrant) ResolveSubject(ctx context.Context, ex *Exchange) (*storage.Subject, error) {
	subject, err := session.VerifyPassword(ctx, g.deps.Subjects, ex.Form.Get("username"), ex.Form.Get("password"))
	if errors.Is(err, session.ErrInvalidCredentials) {
		return nil, fosite.ErrInvalidGrant.WithHint("The resource owner credentials are invalid.")
	}
	return subject, err
}

// Issue implements Grant.
func (g *PasswordGrant) Issue(ctx context.Context, ex *Exchange) (*tokens.Response, error) {
	resp, record, err := g.deps.Issuer.Mint(ctx, tokens.Request{
		Client:    ex.Client,
		Subject:   ex.Subject,
		GrantType: tokens.GrantPassword,
		Scopes:    ex.Scopes,
		Audience:  ex.Audience,
		AuthTime:  g.deps.now(),
		AMR:       tokens.ComputeAMR([]string{tokens.FactorPassword}),
	})
	if err != nil {
		return nil, err
	}
	if err := store(ctx, g.deps.Tokens, record); err != nil {
		return nil, err
	}
	return resp, nil
}
