// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/oauth2"
)

// ProviderMetadata is the subset of the OpenID Provider Metadata used by this
// package.
// See: https://openid.net/specs/openid-connect-discovery-1_0.html#ProviderMetadata
type ProviderMetadata struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	UserInfoEndpoint                 string   `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint               string   `json:"end_session_endpoint,omitempty"`
	ScopesSupported                  []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported           []string `json:"response_types_supported,omitempty"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`
	CodeChallengeMethodsSupported    []string `json:"code_challenge_methods_supported,omitempty"`
}

func (m *ProviderMetadata) validate() error {
	var result *multierror.Error
	required := []struct {
		name, value string
	}{
		{"issuer", m.Issuer},
		{"authorization_endpoint", m.AuthorizationEndpoint},
		{"token_endpoint", m.TokenEndpoint},
		{"jwks_uri", m.JWKSURI},
	}
	for _, r := range required {
		if r.value == "" {
			result = multierror.Append(result, fmt.Errorf("%s is missing: %w", r.name, ErrInvalidProviderMetadata))
		}
	}
	return result.ErrorOrNil()
}

// ProviderHandle is a discovered OpenID provider.  It's immutable and safe for
// concurrent use.
type ProviderHandle struct {
	provider   *oidc.Provider
	metadata   ProviderMetadata
	endSession *url.URL
}

// Discover fetches and validates the provider's discovery document from
// "{issuer}/.well-known/openid-configuration".  The issuer in the document
// must match the issuer given.  A nil client will use a default pooled
// client.
//
// Supported options:
//   - WithLogger
func Discover(ctx context.Context, issuer string, client *http.Client, opt ...Option) (*ProviderHandle, error) {
	const op = "agent.Discover"
	opts := getDiscoverOpts(opt...)
	if _, err := parseHTTPURL(issuer); err != nil {
		return nil, newError(Configuration, op, "issuer %q: %w: %w", issuer, ErrInvalidIssuer, err)
	}
	if client == nil {
		var err error
		if client, err = NewHTTPClient(""); err != nil {
			return nil, err
		}
	}
	ctx = HTTPClientContext(ctx, client)

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, newError(Configuration, op, "unable to discover provider %q: %w: %w", issuer, ErrDiscoveryFailed, err)
	}
	var md ProviderMetadata
	if err := provider.Claims(&md); err != nil {
		return nil, newError(Configuration, op, "unable to read provider metadata: %w: %w", ErrInvalidProviderMetadata, err)
	}
	if err := md.validate(); err != nil {
		return nil, newError(Configuration, op, "%w", err)
	}

	h := &ProviderHandle{
		provider: provider,
		metadata: md,
	}
	if md.EndSessionEndpoint != "" {
		u, err := parseHTTPURL(md.EndSessionEndpoint)
		if err != nil {
			return nil, newError(Configuration, op, "end_session_endpoint %q: %w: %w", md.EndSessionEndpoint, ErrInvalidEndSessionURL, err)
		}
		h.endSession = u
	}
	if len(md.CodeChallengeMethodsSupported) > 0 && !contains(md.CodeChallengeMethodsSupported, string(S256)) {
		opts.withLogger.Warn("provider does not advertise S256 PKCE support", "issuer", md.Issuer, "code_challenge_methods_supported", md.CodeChallengeMethodsSupported)
	}
	opts.withLogger.Debug("discovered provider", "issuer", md.Issuer, "authorization_endpoint", md.AuthorizationEndpoint, "token_endpoint", md.TokenEndpoint, "end_session_endpoint", md.EndSessionEndpoint)
	return h, nil
}

// Metadata returns a copy of the provider's metadata
func (h *ProviderHandle) Metadata() ProviderMetadata {
	md := h.metadata
	md.ScopesSupported = append([]string(nil), h.metadata.ScopesSupported...)
	md.ResponseTypesSupported = append([]string(nil), h.metadata.ResponseTypesSupported...)
	md.IDTokenSigningAlgValuesSupported = append([]string(nil), h.metadata.IDTokenSigningAlgValuesSupported...)
	md.CodeChallengeMethodsSupported = append([]string(nil), h.metadata.CodeChallengeMethodsSupported...)
	return md
}

// Endpoint returns the provider's authorization and token endpoints
func (h *ProviderHandle) Endpoint() oauth2.Endpoint {
	return h.provider.Endpoint()
}

// EndSessionEndpoint returns the discovered end_session_endpoint, if any.
func (h *ProviderHandle) EndSessionEndpoint() (*url.URL, bool) {
	if h.endSession == nil {
		return nil, false
	}
	u := *h.endSession
	return &u, true
}

// SigningAlgs returns the id_token signing algorithms the provider
// advertises.
func (h *ProviderHandle) SigningAlgs() []Alg {
	algs := make([]Alg, 0, len(h.metadata.IDTokenSigningAlgValuesSupported))
	for _, a := range h.metadata.IDTokenSigningAlgValuesSupported {
		algs = append(algs, Alg(a))
	}
	return algs
}

// Verifier returns an id_token verifier for the provider's keys.
func (h *ProviderHandle) Verifier(config *oidc.Config) *oidc.IDTokenVerifier {
	return h.provider.Verifier(config)
}

// discoverOptions is the set of available options
type discoverOptions struct {
	withLogger hclog.Logger
}

func discoverDefaults() discoverOptions {
	return discoverOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getDiscoverOpts(opt ...Option) discoverOptions {
	opts := discoverDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	return opts
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
