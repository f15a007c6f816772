// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenIDConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		issuer     string
		clientID   string
		opt        []Option
		want       *OpenIDConfig
		wantErr    bool
		wantIsErr  []error
		wantErrMsg []string
	}{
		{
			name:     "valid",
			issuer:   "https://idp.example",
			clientID: "app",
			opt: []Option{
				WithScopes("profile", "email"),
				WithClientSecret("secret"),
				WithEndSessionURL("https://idp.example/logout"),
				WithSupportedSigningAlgs(RS256, ES256),
				WithAudiences("api"),
			},
			want: &OpenIDConfig{
				Config: Config{
					ClientID:      "app",
					ClientSecret:  "secret",
					Scopes:        []string{"profile", "email"},
					EndSessionURL: "https://idp.example/logout",
				},
				IssuerURL:            "https://idp.example",
				SupportedSigningAlgs: []Alg{RS256, ES256},
				Audiences:            []string{"api"},
			},
		},
		{
			name:      "missing-client-id",
			issuer:    "https://idp.example",
			wantErr:   true,
			wantIsErr: []error{Configuration, ErrInvalidParameter},
		},
		{
			name:      "relative-issuer",
			issuer:    "/idp",
			clientID:  "app",
			wantErr:   true,
			wantIsErr: []error{Configuration, ErrInvalidIssuer},
		},
		{
			name:      "issuer-bad-scheme",
			issuer:    "ftp://idp.example",
			clientID:  "app",
			wantErr:   true,
			wantIsErr: []error{Configuration, ErrInvalidIssuer},
		},
		{
			name:      "bad-end-session",
			issuer:    "https://idp.example",
			clientID:  "app",
			opt:       []Option{WithEndSessionURL("not a url")},
			wantErr:   true,
			wantIsErr: []error{Configuration, ErrInvalidEndSessionURL},
		},
		{
			name:      "unsupported-alg",
			issuer:    "https://idp.example",
			clientID:  "app",
			opt:       []Option{WithSupportedSigningAlgs("HS256")},
			wantErr:   true,
			wantIsErr: []error{Configuration, ErrUnsupportedAlg},
		},
		{
			name:       "every-problem-reported",
			issuer:     "",
			clientID:   "",
			opt:        []Option{WithSupportedSigningAlgs("none")},
			wantErr:    true,
			wantIsErr:  []error{ErrInvalidParameter, ErrInvalidIssuer, ErrUnsupportedAlg},
			wantErrMsg: []string{"client id is empty", "issuer", "none"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewOpenIDConfig(tt.issuer, tt.clientID, tt.opt...)
			if tt.wantErr {
				require.Error(err)
				for _, want := range tt.wantIsErr {
					assert.Truef(errors.Is(err, want), "wanted \"%s\" but got \"%s\"", want, err)
				}
				for _, want := range tt.wantErrMsg {
					assert.Contains(err.Error(), want)
				}
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
	t.Run("nil", func(t *testing.T) {
		assert := assert.New(t)
		var c *OpenIDConfig
		err := c.Validate()
		assert.True(errors.Is(err, ErrNilParameter))
		assert.True(errors.Is(err, Configuration))
	})
}

func TestNewOAuth2Config(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		authURL   string
		tokenURL  string
		clientID  string
		wantErr   bool
		wantIsErr error
	}{
		{"valid", "https://idp.example/authorize", "https://idp.example/token", "app", false, nil},
		{"missing-auth-url", "", "https://idp.example/token", "app", true, ErrInvalidParameter},
		{"missing-token-url", "https://idp.example/authorize", "idp.example/token", "app", true, ErrInvalidParameter},
		{"missing-client-id", "https://idp.example/authorize", "https://idp.example/token", "", true, ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewOAuth2Config(tt.authURL, tt.tokenURL, tt.clientID)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				assert.True(errors.Is(err, Configuration))
				return
			}
			require.NoError(err)
			assert.Equal(tt.authURL, got.AuthURL)
			assert.Equal(tt.tokenURL, got.TokenURL)
			assert.Equal(tt.clientID, got.ClientID)
		})
	}
}

func TestParseHTTPURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		wantErr string
	}{
		{"https://idp.example", ""},
		{"http://localhost:8080/realms/x", ""},
		{"", "empty"},
		{"https://", "host"},
		{"mailto:alice@example.com", "scheme"},
		{"://bad", "missing protocol scheme"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert := assert.New(t)
			_, err := parseHTTPURL(tt.raw)
			if tt.wantErr == "" {
				assert.NoError(err)
				return
			}
			if assert.Error(err) {
				assert.True(strings.Contains(err.Error(), tt.wantErr), err.Error())
			}
		})
	}
}
