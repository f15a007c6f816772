// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"context"

	"golang.org/x/oauth2"
)

// OAuth2Client is the plain OAuth2 Client.  There's no identity layer: no
// nonce is sent and an Authenticated context never has claims.
type OAuth2Client struct {
	engine
}

var _ Client = OAuth2Client{}

// NewOAuth2Client creates a new OAuth2Client for the config's endpoints.
//
// Supported options:
//   - WithLogger
//   - WithNavigator
//   - WithHTTPClient
//   - WithRetainRefreshToken
func NewOAuth2Client(_ context.Context, c *OAuth2Config, opt ...Option) (*OAuth2Client, error) {
	const op = "agent.NewOAuth2Client"
	if c == nil {
		return nil, newError(Configuration, op, "oauth2 config is nil: %w", ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, newError(Configuration, op, "%w", err)
	}
	e, err := newEngine(op, &c.Config, oauth2.Endpoint{AuthURL: c.AuthURL, TokenURL: c.TokenURL}, getClientOpts(opt...))
	if err != nil {
		return nil, err
	}
	return &OAuth2Client{engine: e}, nil
}

// SetRedirectURI implements the Client interface.
func (c OAuth2Client) SetRedirectURI(redirectURL string) (Client, error) {
	const op = "OAuth2Client.SetRedirectURI"
	e, err := c.engine.withRedirect(op, redirectURL)
	if err != nil {
		return nil, err
	}
	c.engine = e
	return c, nil
}

// MakeLoginContext implements the Client interface.  When scopes is empty
// the configured scopes are used.
//
// Supported options:
//   - WithPrompts
//   - WithUILocales
//   - WithMaxAge
//   - WithLoginHint
func (c OAuth2Client) MakeLoginContext(scopes []string, redirectURL string, opt ...Option) (*LoginContext, error) {
	const op = "OAuth2Client.MakeLoginContext"
	opts := getLoginOpts(opt...)
	if err := opts.validate(); err != nil {
		return nil, newError(Configuration, op, "%w", err)
	}
	bound, err := c.engine.withRedirect(op, redirectURL)
	if err != nil {
		return nil, err
	}
	return bound.loginContext(op, c.scopes(scopes), "", opts)
}

// ExchangeCode implements the Client interface.
func (c OAuth2Client) ExchangeCode(ctx context.Context, code string, state LoginState) (OAuth2Context, *Session, error) {
	const op = "OAuth2Client.ExchangeCode"
	tk, err := c.exchange(ctx, op, code, state)
	if err != nil {
		return nil, nil, err
	}
	return authenticated(tk, RefreshToken(tk.RefreshToken), nil), &Session{}, nil
}

// ExchangeRefreshToken implements the Client interface.
func (c OAuth2Client) ExchangeRefreshToken(ctx context.Context, refreshToken string, _ *Session) (OAuth2Context, *Session, error) {
	const op = "OAuth2Client.ExchangeRefreshToken"
	tk, next, err := c.refresh(ctx, op, refreshToken)
	if err != nil {
		return nil, nil, err
	}
	return authenticated(tk, next, nil), &Session{}, nil
}

// Logout implements the Client interface.
func (c OAuth2Client) Logout() error {
	const op = "OAuth2Client.Logout"
	return c.logout(op)
}
