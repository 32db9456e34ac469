// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authorize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ory/fosite"

	"github.com/stacklok/toolhive-idp/pkg/authserver/storage"
	"github.com/stacklok/toolhive-idp/pkg/versions"
)

const (
	maxRequestObjectSize = 64 << 10
	requestURIAttempts   = 3
)

// Claims of a request object that are not authorization parameters.
var requestObjectOnlyClaims = []string{"iss", "sub", "aud", "exp", "iat", "nbf", "jti", "request", "request_uri"}

// applyRequestObject verifies a request or request_uri object signed by the
// client and overlays its claims on params (OpenID Connect Core Section 6).
func (v *Validator) applyRequestObject(ctx context.Context, client *storage.Client, params url.Values) error {
	object := params.Get("request")
	uri := params.Get("request_uri")
	switch {
	case object == "" && uri == "":
		return nil
	case object != "" && uri != "":
		return fosite.ErrInvalidRequest.WithHint("The request and request_uri parameters are mutually exclusive.")
	case uri != "":
		fetched, err := v.fetchRequestURI(ctx, uri)
		if err != nil {
			return fosite.ErrInvalidRequestURI.WithHint("Unable to fetch the request object.").WithWrap(err)
		}
		object = fetched
	}

	opts := []jwt.ParserOption{jwt.WithIssuer(client.ID)}
	if client.RequestObjectSigningAlg != "" {
		opts = append(opts, jwt.WithValidMethods([]string{client.RequestObjectSigningAlg}))
	}
	claims := jwt.MapClaims{}
	if _, err := v.clients.VerifyClientJWT(ctx, client, object, claims, opts...); err != nil {
		return fosite.ErrInvalidRequestObject.WithHint("The request object could not be verified.").WithWrap(err)
	}

	if aud, err := claims.GetAudience(); err == nil && len(aud) > 0 && !slices.Contains(aud, v.issuer) {
		return fosite.ErrInvalidRequestObject.WithHint("The request object audience must be the issuer.")
	}
	if cid, ok := claims["client_id"].(string); ok && cid != client.ID {
		return fosite.ErrInvalidRequestObject.WithHint("The request object client_id does not match the request.")
	}

	for key, value := range claims {
		if slices.Contains(requestObjectOnlyClaims, key) {
			continue
		}
		switch typed := value.(type) {
		case string:
			params.Set(key, typed)
		case float64:
			params.Set(key, strconv.FormatFloat(typed, 'f', -1, 64))
		case []any:
			values := make([]string, 0, len(typed))
			for _, item := range typed {
				if s, ok := item.(string); ok {
					values = append(values, s)
				}
			}
			params[key] = values
		}
	}
	params.Del("request")
	params.Del("request_uri")
	return nil
}

func (v *Validator) fetchRequestURI(ctx context.Context, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return "", errors.New("request_uri must be an absolute https URL")
	}

	return backoff.Retry(ctx, func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", versions.UserAgent())
		resp, err := v.httpClient.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return "", fmt.Errorf("request_uri returned status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return "", backoff.Permanent(fmt.Errorf("request_uri returned status %d", resp.StatusCode))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestObjectSize+1))
		if err != nil {
			return "", err
		}
		if len(body) > maxRequestObjectSize {
			return "", backoff.Permanent(errors.New("request object is too large"))
		}
		return strings.TrimSpace(string(body)), nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(requestURIAttempts),
	)
}
