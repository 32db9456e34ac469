// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/authorize"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/clients"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/session"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/telemetry"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/tokens"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// Engine answers token requests and accepted authorization requests.
type Engine struct {
	registry *Registry
	deps     *Dependencies
	metrics  *telemetry.Metrics
}

// NewEngine creates an Engine. metrics may be nil.
func NewEngine(registry *Registry, deps *Dependencies, metrics *telemetry.Metrics) *Engine {
	return &Engine{registry: registry, deps: deps, metrics: metrics}
}

// GrantTypes returns the grant types the token endpoint accepts.
func (e *Engine) GrantTypes() []string {
	return e.registry.Types()
}

// Token handles a token endpoint request: authenticate the client, validate
// the grant artifact, resolve the subject and issue tokens.
func (e *Engine) Token(ctx context.Context, r *http.Request) (*tokens.Response, error) {
	started := time.Now()
	if err := r.ParseForm(); err != nil {
		return nil, fosite.ErrInvalidRequest.WithHint("Unable to parse the request body.").WithWrap(err)
	}
	grantType := r.PostForm.Get("grant_type")

	ctx, span := telemetry.StartSpan(ctx, "grants.token", telemetry.AttrGrantType.String(grantType))
	resp, err := e.token(ctx, r, grantType)
	telemetry.EndSpan(span, err)

	metricGrant := grantType
	if _, ok := e.registry.Lookup(grantType); !ok {
		metricGrant = "unsupported"
	}
	e.metrics.ObserveTokenRequest(metricGrant, started, err)
	return resp, err
}

func (e *Engine) token(ctx context.Context, r *http.Request, grantType string) (*tokens.Response, error) {
	if grantType == "" {
		return nil, fosite.ErrInvalidRequest.WithHint("The grant_type parameter is required.")
	}
	grant, ok := e.registry.Lookup(grantType)
	if !ok {
		return nil, fosite.ErrUnsupportedGrantType.WithHintf("Grant type %q is not supported.", grantType)
	}

	creds, err := clients.CredentialsFromRequest(r)
	if err != nil {
		return nil, err
	}
	client, err := e.deps.Clients.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}
	if !client.HasGrantType(grantType) {
		return nil, fosite.ErrUnauthorizedClient.WithHintf("The client is not allowed to use the %s grant.", grantType)
	}

	audience, err := server.ResolveAudience(client.ID, client.EffectiveAudience(), server.ResourceParams(r.PostForm))
	if err != nil {
		return nil, err
	}

	ex := &Exchange{
		Client:    client,
		GrantType: grantType,
		Form:      r.PostForm,
		Audience:  audience,
	}
	if err := grant.Validate(ctx, ex); err != nil {
		return nil, err
	}
	subject, err := grant.ResolveSubject(ctx, ex)
	if err != nil {
		return nil, err
	}
	if subject != nil && subject.Locked {
		slog.Info("rejected token request for locked subject", "client_id", client.ID, "subject", subject.ID)
		return nil, fosite.ErrInvalidGrant.WithHint("The subject cannot be authenticated.")
	}
	ex.Subject = subject

	resp, err := grant.Issue(ctx, ex)
	if err != nil {
		return nil, err
	}
	slog.Debug("issued tokens", "client_id", client.ID, "grant_type", grantType, "scope", resp.Scope)
	return resp, nil
}

// Authorize answers an accepted authorization request for principal. It
// issues the code, access token and ID token the response type asks for and
// returns the parameters to send to the redirect URI.
func (e *Engine) Authorize(
	ctx context.Context, req *authorize.Request, client *storage.Client, principal *session.Principal,
) (_ url.Values, err error) {
	ctx, span := telemetry.StartSpan(ctx, "grants.authorize",
		telemetry.AttrClientID.String(client.ID),
		telemetry.AttrGrantType.String(strings.Join(req.ResponseTypes, " ")),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if principal == nil || principal.Subject == nil || principal.Subject.Locked {
		return nil, fosite.ErrLoginRequired.WithHint("The end user is not authenticated.")
	}
	amr := principal.AMR()
	params := url.Values{}
	if req.State != "" {
		params.Set("state", req.State)
	}

	var code string
	if req.HasResponseType(authorize.ResponseTypeCode) {
		var record *storage.AuthorizationCode
		code, record, err = e.deps.Issuer.NewAuthorizationCode(ctx, tokens.CodeRequest{
			Client:              client,
			Subject:             principal.Subject,
			RedirectURI:         req.RedirectURI,
			RedirectURIProvided: req.RedirectURIProvided,
			Scopes:              req.Scopes,
			CodeChallenge:       req.CodeChallenge,
			CodeChallengeMethod: req.CodeChallengeMethod,
			Nonce:               req.Nonce,
			AuthTime:            principal.AuthTime,
			AMR:                 amr,
		})
		if err != nil {
			return nil, err
		}
		if err := e.deps.Codes.CreateAuthorizationCode(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to store authorization code: %w", err)
		}
		params.Set("code", code)
	}

	var accessToken string
	if req.HasResponseType(authorize.ResponseTypeToken) {
		resp, record, err := e.deps.Issuer.Mint(ctx, tokens.Request{
			Client:      client,
			Subject:     principal.Subject,
			GrantType:   tokens.GrantImplicit,
			Scopes:      req.Scopes,
			Audience:    req.Audience,
			AuthTime:    principal.AuthTime,
			AMR:         amr,
			Nonce:       req.Nonce,
			SkipRefresh: true,
			SkipIDToken: true,
		})
		if err != nil {
			return nil, err
		}
		if err := store(ctx, e.deps.Tokens, record); err != nil {
			return nil, err
		}
		accessToken = resp.AccessToken
		params.Set("access_token", resp.AccessToken)
		params.Set("token_type", resp.TokenType)
		params.Set("expires_in", strconv.FormatInt(resp.ExpiresIn, 10))
		params.Set("scope", resp.Scope)
	}

	if req.HasResponseType(authorize.ResponseTypeIDToken) {
		idToken, err := e.deps.Issuer.IDToken(ctx, tokens.IDTokenRequest{
			Request: tokens.Request{
				Client:   client,
				Subject:  principal.Subject,
				Scopes:   req.Scopes,
				AuthTime: principal.AuthTime,
				AMR:      amr,
				Nonce:    req.Nonce,
			},
			AccessToken: accessToken,
			Code:        code,
		})
		if err != nil {
			return nil, err
		}
		params.Set("id_token", idToken)
	}

	slog.Debug("authorization request answered", "client_id", client.ID, "subject", principal.Subject.ID,
		"response_type", strings.Join(req.ResponseTypes, " "))
	return params, nil
}
