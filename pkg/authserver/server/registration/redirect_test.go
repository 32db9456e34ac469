// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package registration

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestValidateRedirectURI(t *testing.T) {
	t.Parallel()

	accepted := []string{
		"https://rp.example.com/cb",
		"https://rp.example.com:8443/oauth/cb?x=1",
		"http://127.0.0.1/cb",
		"http://127.0.0.1:49152/cb",
		"http://[::1]:8080/cb",
		"http://localhost:9000/cb",
		"com.example.app:/oauth2redirect",
		"myapp://cb",
	}
	rejected := map[string]string{
		"http://rp.example.com/cb":     "loopback",
		"http://10.0.0.8/cb":           "loopback",
		"https:///cb":                  "must have a host",
		"https://rp.example.com/cb#x":  "fragment",
		"https://rp.example.com/cb#":   "fragment",
		"/relative/cb":                 "absolute",
		"://broken":                    "not a valid URI",
		"javascript:alert(1)":          "not allowed",
		"DATA:text/html,hi":            "not allowed",
		"file:///etc/passwd":           "not allowed",
		"https://rp.example.com/" + strings.Repeat("a", MaxRedirectURILength): "too long",
	}

	for _, uri := range accepted {
		t.Run(uri, func(t *testing.T) {
			t.Parallel()
			assert.Nil(t, ValidateRedirectURI(uri))
		})
	}
	for uri, want := range rejected {
		name := uri
		if len(name) > 64 {
			name = name[:64]
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			dcrErr := ValidateRedirectURI(uri)
			require.NotNil(t, dcrErr)
			assert.Equal(t, DCRErrorInvalidRedirectURI, dcrErr.Error)
			assert.Contains(t, dcrErr.ErrorDescription, want)
		})
	}
}

func TestValidateRedirectURI_LoopbackPorts(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		host := rapid.SampledFrom([]string{"127.0.0.1", "127.8.9.10", "[::1]", "localhost"}).Draw(t, "host")
		port := rapid.IntRange(1, 65535).Draw(t, "port")
		path := rapid.StringMatching(`/[a-z0-9/]{0,20}`).Draw(t, "path")

		uri := fmt.Sprintf("http://%s:%d%s", host, port, path)
		if dcrErr := ValidateRedirectURI(uri); dcrErr != nil {
			t.Fatalf("loopback redirect %q rejected: %s", uri, dcrErr.ErrorDescription)
		}
	})
}

func TestValidateRedirectURI_NeverAcceptsFragments(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		base := rapid.SampledFrom([]string{"https://rp.example.com/cb", "http://localhost/cb", "myapp://cb"}).Draw(t, "base")
		fragment := rapid.StringMatching(`[a-zA-Z0-9=&]{0,12}`).Draw(t, "fragment")

		if ValidateRedirectURI(base+"#"+fragment) == nil {
			t.Fatalf("redirect with fragment accepted: %q", base+"#"+fragment)
		}
	})
}

func TestValidateScopes(t *testing.T) {
	t.Parallel()

	allowed := []string{"openid", "profile", "email", "offline_access"}

	tests := []struct {
		name    string
		scope   string
		allowed []string
		want    []string
		wantErr bool
	}{
		{name: "subset", scope: "email openid", allowed: allowed, want: []string{"email", "openid"}},
		{name: "extra spaces", scope: "  openid   offline_access ", allowed: allowed, want: []string{"openid", "offline_access"}},
		{name: "repeated scope collapses", scope: "profile profile openid", allowed: allowed, want: []string{"profile", "openid"}},
		{name: "empty gets defaults", allowed: allowed, want: DefaultScopes},
		{name: "unknown scope", scope: "openid admin", allowed: allowed, wantErr: true},
		{name: "scopes match exactly", scope: "openid.write", allowed: allowed, wantErr: true},
		{name: "defaults outside allowed set", allowed: []string{"api"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, dcrErr := ValidateScopes(tt.scope, tt.allowed)
			if tt.wantErr {
				require.NotNil(t, dcrErr)
				assert.Equal(t, DCRErrorInvalidClientMetadata, dcrErr.Error)
				assert.Nil(t, got)
				return
			}
			require.Nil(t, dcrErr)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("result does not alias the defaults", func(t *testing.T) {
		t.Parallel()
		got, dcrErr := ValidateScopes("", allowed)
		require.Nil(t, dcrErr)
		got[0] = "changed"
		assert.Equal(t, "openid", DefaultScopes[0])
	})
}
