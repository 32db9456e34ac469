// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authorize parses and validates authorization requests and decides
// whether they can be answered immediately or need an interactive login or
// consent step first.
package authorize

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/server"
	servercrypto "github.com/stacklok/toolhive-idp/pkg/authserver/server/crypto"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/tokens"
	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
)

// Response types.
const (
	ResponseTypeCode    = "code"
	ResponseTypeToken   = "token"
	ResponseTypeIDToken = "id_token"
)

// Response modes.
const (
	ResponseModeQuery    = "query"
	ResponseModeFragment = "fragment"
)

// Prompt values.
const (
	PromptNone          = "none"
	PromptLogin         = "login"
	PromptConsent       = "consent"
	PromptSelectAccount = "select_account"
	PromptCreate        = "create"
)

var supportedPrompts = []string{PromptNone, PromptLogin, PromptConsent, PromptSelectAccount, PromptCreate}

// SupportedResponseTypes lists every accepted response_type combination.
var SupportedResponseTypes = []string{
	"code",
	"token",
	"id_token",
	"code token",
	"code id_token",
	"token id_token",
	"code token id_token",
}

// Request is a validated authorization request. It is stored as JSON while the
// request is parked for an interactive step.
type Request struct {
	ClientID            string   `json:"client_id"`
	ResponseTypes       []string `json:"response_types"`
	ResponseMode        string   `json:"response_mode"`
	RedirectURI         string   `json:"redirect_uri"`
	// RedirectURIProvided is false when RedirectURI was defaulted to the
	// client's only registered URI.
	RedirectURIProvided bool     `json:"redirect_uri_provided,omitempty"`
	State               string   `json:"state,omitempty"`
	RequestedScopes     []string `json:"requested_scopes,omitempty"`
	Scopes              []string `json:"scopes"`
	Audience            []string `json:"audience,omitempty"`
	Nonce               string   `json:"nonce,omitempty"`
	CodeChallenge       string   `json:"code_challenge,omitempty"`
	CodeChallengeMethod string   `json:"code_challenge_method,omitempty"`
	// MaxAge is the max_age parameter in seconds, or -1 when absent.
	MaxAge    int64     `json:"max_age"`
	Prompt    []string  `json:"prompt,omitempty"`
	LoginHint string    `json:"login_hint,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	redirectable bool
}

// HasResponseType reports whether rt is part of the response type.
func (r *Request) HasResponseType(rt string) bool {
	return slices.Contains(r.ResponseTypes, rt)
}

// HasPrompt reports whether p was requested.
func (r *Request) HasPrompt(p string) bool {
	return slices.Contains(r.Prompt, p)
}

// Fragment reports whether the response goes into the redirect URI fragment.
func (r *Request) Fragment() bool {
	return r.ResponseMode == ResponseModeFragment
}

// CanRedirect reports whether the redirect URI was validated, so errors may
// be sent to it.
func (r *Request) CanRedirect() bool {
	return r != nil && r.redirectable && r.RedirectURI != ""
}

// Parse reads and validates an authorization request. The returned request is
// non-nil whenever the client and redirect URI could be established; check
// CanRedirect before sending errors to the client.
func (v *Validator) Parse(ctx context.Context, r *http.Request) (*Request, *storage.Client, error) {
	if err := r.ParseForm(); err != nil {
		return nil, nil, fosite.ErrInvalidRequest.WithHint("Unable to parse the request.").WithWrap(err)
	}
	params := cloneValues(r.Form)

	clientID := params.Get("client_id")
	if clientID == "" {
		return nil, nil, fosite.ErrInvalidRequest.WithHint("The client_id parameter is required.")
	}
	client, err := v.clients.Get(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, fosite.ErrInvalidClient.WithHint("The requested client was not found.")
	}
	if err != nil {
		return nil, nil, err
	}

	if err := v.applyRequestObject(ctx, client, params); err != nil {
		return nil, client, err
	}

	req := &Request{
		ClientID:  client.ID,
		State:     params.Get("state"),
		Nonce:     params.Get("nonce"),
		LoginHint: params.Get("login_hint"),
		MaxAge:    -1,
		CreatedAt: v.now(),
	}

	req.RedirectURI, err = resolveRedirectURI(client, params.Get("redirect_uri"))
	if err != nil {
		return req, client, err
	}
	req.RedirectURIProvided = params.Get("redirect_uri") != ""
	req.ResponseTypes = fosite.RemoveEmpty(strings.Split(params.Get("response_type"), " "))
	req.ResponseMode = defaultResponseMode(req.ResponseTypes)
	req.redirectable = true

	if err := v.validate(ctx, client, params, req); err != nil {
		return req, client, err
	}
	return req, client, nil
}

func (v *Validator) validate(_ context.Context, client *storage.Client, params url.Values, req *Request) error {
	if err := validateResponseType(client, req.ResponseTypes); err != nil {
		return err
	}

	if mode := params.Get("response_mode"); mode != "" {
		switch mode {
		case ResponseModeFragment:
		case ResponseModeQuery:
			if req.HasResponseType(ResponseTypeToken) || req.HasResponseType(ResponseTypeIDToken) {
				return fosite.ErrInvalidRequest.WithHint("Tokens must not be returned in the query string.")
			}
		default:
			return fosite.ErrUnsupportedResponseMode.WithHintf("Response mode %q is not supported.", mode)
		}
		req.ResponseMode = mode
	}

	req.RequestedScopes = server.ParseScope(params.Get("scope"))
	requested := req.RequestedScopes
	if len(requested) == 0 {
		requested = client.DefaultScopes
	}
	req.Scopes = server.IntersectScopes(requested, client.Scopes)
	if len(requested) > 0 && len(req.Scopes) == 0 {
		return fosite.ErrInvalidScope.WithHint("None of the requested scopes is allowed for this client.")
	}

	openID := slices.Contains(req.Scopes, server.ScopeOpenID)
	if req.HasResponseType(ResponseTypeIDToken) && !openID {
		return fosite.ErrInvalidScope.WithHint("The openid scope is required to return an ID token.")
	}
	if openID && req.Nonce == "" {
		return fosite.ErrInvalidRequest.WithHint("The nonce parameter is required when requesting the openid scope.")
	}

	if err := validatePKCE(client, params, req); err != nil {
		return err
	}

	if raw := params.Get("max_age"); raw != "" {
		maxAge, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || maxAge < 0 {
			return fosite.ErrInvalidRequest.WithHint("The max_age parameter must be a non-negative integer.")
		}
		req.MaxAge = maxAge
	}

	req.Prompt = fosite.RemoveEmpty(strings.Split(params.Get("prompt"), " "))
	for _, p := range req.Prompt {
		if !slices.Contains(supportedPrompts, p) {
			return fosite.ErrInvalidRequest.WithHintf("Prompt value %q is not supported.", p)
		}
	}
	if req.HasPrompt(PromptNone) && len(req.Prompt) > 1 {
		return fosite.ErrInvalidRequest.WithHint("Prompt none cannot be combined with other values.")
	}
	if req.HasPrompt(PromptCreate) && !v.allowRegistration {
		return fosite.ErrInvalidRequest.WithHint("Self-registration is not enabled.")
	}

	audience, err := server.ResolveAudience(client.ID, client.EffectiveAudience(), server.ResourceParams(params))
	if err != nil {
		return err
	}
	req.Audience = audience
	return nil
}

func resolveRedirectURI(client *storage.Client, requested string) (string, error) {
	if requested == "" {
		if len(client.RedirectURIs) == 1 {
			return client.RedirectURIs[0], nil
		}
		return "", fosite.ErrInvalidRequest.WithHint("The redirect_uri parameter is required.")
	}
	if !client.HasRedirectURI(requested) {
		return "", server.ErrInvalidRedirectURI.WithHint("The redirect_uri does not match a registered redirect URI.")
	}
	return requested, nil
}

func defaultResponseMode(responseTypes []string) string {
	if len(responseTypes) == 1 && responseTypes[0] == ResponseTypeCode {
		return ResponseModeQuery
	}
	return ResponseModeFragment
}

func validateResponseType(client *storage.Client, responseTypes []string) error {
	if len(responseTypes) == 0 {
		return fosite.ErrUnsupportedResponseType.WithHint("The response_type parameter is required.")
	}
	requested := fosite.Arguments(responseTypes)
	if !slices.ContainsFunc(SupportedResponseTypes, func(rt string) bool {
		return requested.Matches(strings.Fields(rt)...)
	}) {
		return fosite.ErrUnsupportedResponseType.WithHintf("Response type %q is not supported.", strings.Join(responseTypes, " "))
	}
	if !slices.ContainsFunc(client.ResponseTypes, func(rt string) bool {
		return requested.Matches(strings.Fields(rt)...)
	}) {
		return fosite.ErrUnsupportedResponseType.WithHint("The client is not allowed to use this response type.")
	}

	if requested.Has(ResponseTypeCode) && !client.HasGrantType(tokens.GrantAuthorizationCode) {
		return fosite.ErrUnauthorizedClient.WithHint("The client is not allowed to use the authorization_code grant.")
	}
	if (requested.Has(ResponseTypeToken) || requested.Has(ResponseTypeIDToken)) && !client.HasGrantType(tokens.GrantImplicit) {
		return fosite.ErrUnauthorizedClient.WithHint("The client is not allowed to use the implicit grant.")
	}
	return nil
}

func validatePKCE(client *storage.Client, params url.Values, req *Request) error {
	challenge := params.Get("code_challenge")
	method := params.Get("code_challenge_method")

	if challenge == "" {
		if method != "" {
			return fosite.ErrInvalidRequest.WithHint("The code_challenge_method parameter requires a code_challenge.")
		}
		if client.IsPublic() && req.HasResponseType(ResponseTypeCode) {
			return fosite.ErrInvalidRequest.WithHint("Public clients must use PKCE.")
		}
		return nil
	}

	normalized, err := servercrypto.NormalizePKCEMethod(method)
	if err != nil {
		return fosite.ErrInvalidRequest.WithHint("Only the S256 and plain code challenge methods are supported.").WithWrap(err)
	}
	if err := servercrypto.ValidatePKCEChallenge(challenge); err != nil {
		return fosite.ErrInvalidRequest.WithHint("The code_challenge is malformed.").WithWrap(err)
	}
	req.CodeChallenge = challenge
	req.CodeChallengeMethod = normalized
	return nil
}

func cloneValues(in url.Values) url.Values {
	out := make(url.Values, len(in))
	for k, v := range in {
		out[k] = slices.Clone(v)
	}
	return out
}
