// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"context"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server/tokens"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// ClientCredentialsGrant lets a confidential client act for itself
// (RFC 6749 Section 4.4). No subject is involved and no refresh token issued.
type ClientCredentialsGrant struct {
	deps *Dependencies
}

// Type implements Grant.
func (*ClientCredentialsGrant) Type() string { return tokens.GrantClientCredentials }

// Validate defaults the scope to everything the client may be granted.
func (*ClientCredentialsGrant) Validate(_ context.Context, ex *Exchange) error {
	if ex.Client.IsPublic() {
		return fosite.ErrUnauthorizedClient.WithHint("Public clients cannot use the client_credentials grant.")
	}
	scopes, err := clientScopes(ex.Client, ex.Form, ex.Client.Scopes)
	if err != nil {
		return err
	}
	ex.Scopes = scopes
	return nil
}

// ResolveSubject implements Grant.
func (*ClientCredentialsGrant) ResolveSubject(context.Context, *Exchange) (*storage.Subject, error) {
	return nil, nil
}

// Issue implements Grant.
func (g *ClientCredentialsGrant) Issue(ctx context.Context, ex *Exchange) (*tokens.Response, error) {
	resp, record, err := g.deps.Issuer.Mint(ctx, tokens.Request{
		Client:    ex.Client,
		GrantType: tokens.GrantClientCredentials,
		Scopes:    ex.Scopes,
		Audience:  ex.Audience,
	})
	if err != nil {
		return nil, err
	}
	if err := store(ctx, g.deps.Tokens, record); err != nil {
		return nil, err
	}
	return resp, nil
}
