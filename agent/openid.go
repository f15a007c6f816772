// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"context"
	"crypto/subtle"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OpenIDClient is the OpenID Connect Client.  It uses discovery, requests the
// "openid" scope with a nonce and verifies the id_token returned by the code
// exchange.
type OpenIDClient struct {
	engine
	provider  *ProviderHandle
	algs      []string
	audiences []string
}

var _ Client = OpenIDClient{}

// NewOpenIDClient discovers the provider at the config's issuer and creates a
// new OpenIDClient.  A configured EndSessionURL takes precedence over the
// discovered end_session_endpoint.
//
// Supported options:
//   - WithLogger
//   - WithNavigator
//   - WithNow
//   - WithHTTPClient
//   - WithRetainRefreshToken
func NewOpenIDClient(ctx context.Context, c *OpenIDConfig, opt ...Option) (*OpenIDClient, error) {
	const op = "agent.NewOpenIDClient"
	if c == nil {
		return nil, newError(Configuration, op, "openid config is nil: %w", ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, newError(Configuration, op, "%w", err)
	}
	opts := getClientOpts(opt...)

	httpClient, err := httpClientFor(opts.withHTTPClient, c.ProviderCA)
	if err != nil {
		return nil, newError(Configuration, op, "unable to create http client: %w", err)
	}
	opts.withHTTPClient = httpClient

	provider, err := Discover(ctx, c.IssuerURL, httpClient, WithLogger(opts.withLogger))
	if err != nil {
		return nil, newError(Configuration, op, "%w", err)
	}
	e, err := newEngine(op, &c.Config, provider.Endpoint(), opts)
	if err != nil {
		return nil, err
	}
	if e.endSession == nil {
		if u, ok := provider.EndSessionEndpoint(); ok {
			e.endSession = u
		}
	}

	algs := make([]string, 0, len(c.SupportedSigningAlgs))
	for _, a := range c.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	return &OpenIDClient{
		engine:    e,
		provider:  provider,
		algs:      algs,
		audiences: append([]string(nil), c.Audiences...),
	}, nil
}

// Provider returns the discovered provider.
func (c OpenIDClient) Provider() *ProviderHandle {
	return c.provider
}

// SetRedirectURI implements the Client interface.
func (c OpenIDClient) SetRedirectURI(redirectURL string) (Client, error) {
	const op = "OpenIDClient.SetRedirectURI"
	e, err := c.engine.withRedirect(op, redirectURL)
	if err != nil {
		return nil, err
	}
	c.engine = e
	return c, nil
}

// MakeLoginContext implements the Client interface.  The "openid" scope is
// added in front of the scopes when it's missing.  When scopes is empty the
// configured scopes are used.
//
// Supported options:
//   - WithPrompts
//   - WithUILocales
//   - WithMaxAge
//   - WithLoginHint
func (c OpenIDClient) MakeLoginContext(scopes []string, redirectURL string, opt ...Option) (*LoginContext, error) {
	const op = "OpenIDClient.MakeLoginContext"
	opts := getLoginOpts(opt...)
	if err := opts.validate(); err != nil {
		return nil, newError(Configuration, op, "%w", err)
	}
	bound, err := c.engine.withRedirect(op, redirectURL)
	if err != nil {
		return nil, err
	}
	nonce, err := NewID()
	if err != nil {
		return nil, newError(Internal, op, "unable to create nonce: %w", err)
	}
	return bound.loginContext(op, withOpenIDScope(c.scopes(scopes)), nonce, opts)
}

// ExchangeCode implements the Client interface.  The id_token is required and
// is verified: signature, issuer, audience and expiry, then the nonce and the
// at_hash when present.
func (c OpenIDClient) ExchangeCode(ctx context.Context, code string, state LoginState) (OAuth2Context, *Session, error) {
	const op = "OpenIDClient.ExchangeCode"
	if state.Nonce == "" {
		return nil, nil, newError(LoginResult, op, "login state has no nonce: %w", ErrInvalidState)
	}
	tk, err := c.exchange(ctx, op, code, state)
	if err != nil {
		return nil, nil, err
	}
	rawIDToken, ok := tk.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, nil, newError(LoginResult, op, "provider did not return an id_token: %w", ErrMissingIDToken)
	}
	claims, err := c.verify(ctx, op, rawIDToken, tk.AccessToken, state.Nonce)
	if err != nil {
		return nil, nil, err
	}
	c.logger.Debug("authenticated", "sub", claims.Subject(), "iss", claims.Issuer())
	return authenticated(tk, RefreshToken(tk.RefreshToken), claims), &Session{claims: claims, idToken: IDToken(rawIDToken)}, nil
}

// ExchangeRefreshToken implements the Client interface.  The claims of the
// session are carried into the refreshed context unchanged.
func (c OpenIDClient) ExchangeRefreshToken(ctx context.Context, refreshToken string, session *Session) (OAuth2Context, *Session, error) {
	const op = "OpenIDClient.ExchangeRefreshToken"
	tk, next, err := c.refresh(ctx, op, refreshToken)
	if err != nil {
		return nil, nil, err
	}
	carried := &Session{}
	if session != nil {
		*carried = *session
	}
	return authenticated(tk, next, carried.claims), carried, nil
}

// Logout implements the Client interface.
func (c OpenIDClient) Logout() error {
	const op = "OpenIDClient.Logout"
	return c.logout(op)
}

func (c OpenIDClient) verify(ctx context.Context, op string, rawIDToken, accessToken, nonce string) (*Claims, error) {
	verifier := c.provider.Verifier(&oidc.Config{
		ClientID:             c.config.ClientID,
		SupportedSigningAlgs: c.algs,
		Now:                  c.now,
	})
	idt, err := verifier.Verify(HTTPClientContext(ctx, c.httpClient), rawIDToken)
	if err != nil {
		return nil, newError(LoginResult, op, "invalid id_token: %w: %w", ErrIDTokenVerificationFailed, err)
	}
	if subtle.ConstantTimeCompare([]byte(idt.Nonce), []byte(nonce)) != 1 {
		return nil, newError(LoginResult, op, "id_token nonce does not match login state: %w", ErrInvalidNonce)
	}
	if len(c.audiences) > 0 && !containsAny(idt.Audience, c.audiences) {
		return nil, newError(LoginResult, op, "id_token audience %q not in %q: %w", idt.Audience, c.audiences, ErrIDTokenVerificationFailed)
	}
	if idt.AccessTokenHash != "" {
		if err := idt.VerifyAccessToken(accessToken); err != nil {
			return nil, newError(LoginResult, op, "%w: %w", ErrInvalidAccessTokenHash, err)
		}
	}
	return newClaims(idt)
}

func withOpenIDScope(scopes []string) []string {
	if contains(scopes, oidc.ScopeOpenID) {
		return scopes
	}
	return append([]string{oidc.ScopeOpenID}, scopes...)
}

func containsAny(list []string, want []string) bool {
	for _, w := range want {
		if contains(list, w) {
			return true
		}
	}
	return false
}
