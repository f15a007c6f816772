// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// Client is the protocol engine for one provider.  Implementations are
// values: SetRedirectURI returns a new Client and never changes the receiver,
// so a Client can be shared between goroutines.
type Client interface {
	// SetRedirectURI returns a copy of the client bound to the redirect URL.
	// The redirect must be bound before ExchangeCode.
	SetRedirectURI(redirectURL string) (Client, error)

	// MakeLoginContext creates the authorization request URL for a new login
	// attempt along with its CSRF token and LoginState.  It's not blocking
	// and makes no requests to the provider.
	MakeLoginContext(scopes []string, redirectURL string, opt ...Option) (*LoginContext, error)

	// ExchangeCode exchanges an authorization code and returns an
	// Authenticated context and the Session needed to refresh it.
	ExchangeCode(ctx context.Context, code string, state LoginState) (OAuth2Context, *Session, error)

	// ExchangeRefreshToken refreshes the access token.  The session is the
	// one returned by the previous exchange.
	ExchangeRefreshToken(ctx context.Context, refreshToken string, session *Session) (OAuth2Context, *Session, error)

	// Logout navigates to the provider's end session URL when there is one.
	// It doesn't change any authentication state.
	Logout() error
}

// Session is the engine state carried from one exchange to the next.
type Session struct {
	claims  *Claims
	idToken IDToken
}

// Claims returns the verified id_token claims of the session, if any.
func (s *Session) Claims() (*Claims, bool) {
	if s == nil || s.claims == nil {
		return nil, false
	}
	return s.claims, true
}

// IDToken returns the raw id_token of the session, if any.
func (s *Session) IDToken() (IDToken, bool) {
	if s == nil || s.idToken == "" {
		return "", false
	}
	return s.idToken, true
}

// NewClient creates a Client for the config's type: *OpenIDConfig or
// *OAuth2Config.
//
// Supported options are the union of NewOpenIDClient's and NewOAuth2Client's.
func NewClient(ctx context.Context, config interface{}, opt ...Option) (Client, error) {
	const op = "agent.NewClient"
	switch c := config.(type) {
	case *OpenIDConfig:
		return NewOpenIDClient(ctx, c, opt...)
	case *OAuth2Config:
		return NewOAuth2Client(ctx, c, opt...)
	case nil:
		return nil, newError(Configuration, op, "config is nil: %w", ErrNilParameter)
	default:
		return nil, newError(Configuration, op, "unsupported config type %T: %w", config, ErrInvalidParameter)
	}
}

// engine is the OAuth2 half shared by both Client variants.  Every field is
// treated as immutable after construction.
type engine struct {
	config             oauth2.Config
	httpClient         *http.Client
	endSession         *url.URL
	navigator          Navigator
	logger             hclog.Logger
	now                func() time.Time
	retainRefreshToken bool
}

func newEngine(op string, c *Config, endpoint oauth2.Endpoint, opts clientOptions) (engine, error) {
	httpClient, err := httpClientFor(opts.withHTTPClient, c.ProviderCA)
	if err != nil {
		return engine{}, newError(Configuration, op, "unable to create http client: %w", err)
	}
	if c.ClientSecret == "" {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	e := engine{
		config: oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: string(c.ClientSecret),
			Endpoint:     endpoint,
			Scopes:       append([]string(nil), c.Scopes...),
		},
		httpClient:         httpClient,
		navigator:          opts.withNavigator,
		logger:             opts.withLogger,
		now:                opts.withNowFunc,
		retainRefreshToken: opts.withRetainRefreshToken,
	}
	if c.EndSessionURL != "" {
		u, err := parseHTTPURL(c.EndSessionURL)
		if err != nil {
			return engine{}, newError(Configuration, op, "end session URL %q: %w: %w", c.EndSessionURL, ErrInvalidEndSessionURL, err)
		}
		e.endSession = u
	}
	return e, nil
}

// withRedirect returns a copy of the engine bound to redirectURL.
func (e engine) withRedirect(op string, redirectURL string) (engine, error) {
	if _, err := parseHTTPURL(redirectURL); err != nil {
		return engine{}, newError(Configuration, op, "redirect URL %q: %w: %w", redirectURL, ErrInvalidParameter, err)
	}
	e.config.RedirectURL = redirectURL
	return e, nil
}

func (e engine) scopes(requested []string) []string {
	if len(requested) == 0 {
		return append([]string(nil), e.config.Scopes...)
	}
	return append([]string(nil), requested...)
}

// Scopes returns the configured default scopes.
func (e engine) Scopes() []string {
	return append([]string(nil), e.config.Scopes...)
}

// loginContext builds the authorization request.  The oauth2 config is a copy
// so setting its scopes doesn't leak.
func (e engine) loginContext(op string, scopes []string, nonce string, opts loginOptions) (*LoginContext, error) {
	verifier, err := NewCodeVerifier()
	if err != nil {
		return nil, newError(Internal, op, "unable to create PKCE verifier: %w", err)
	}
	csrf, err := NewID()
	if err != nil {
		return nil, newError(Internal, op, "unable to create CSRF token: %w", err)
	}
	cfg := e.config
	cfg.Scopes = scopes
	authCodeOpts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", verifier.Challenge()),
		oauth2.SetAuthURLParam("code_challenge_method", string(verifier.Method())),
	}
	if nonce != "" {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("nonce", nonce))
	}
	authCodeOpts = append(authCodeOpts, opts.authCodeOptions()...)

	return &LoginContext{
		URL:       cfg.AuthCodeURL(csrf, authCodeOpts...),
		CSRFToken: csrf,
		State: LoginState{
			PKCEVerifier: verifier.Verifier(),
			Nonce:        nonce,
		},
	}, nil
}

// exchange sends the code and verifier to the token endpoint.
func (e engine) exchange(ctx context.Context, op string, code string, state LoginState) (*oauth2.Token, error) {
	switch {
	case code == "":
		return nil, newError(LoginResult, op, "authorization code is empty: %w", ErrInvalidParameter)
	case !ValidVerifier(state.PKCEVerifier):
		return nil, newError(LoginResult, op, "PKCE verifier is malformed: %w", ErrInvalidState)
	case e.config.RedirectURL == "":
		return nil, newError(Configuration, op, "redirect URL is not set, see SetRedirectURI: %w", ErrInvalidParameter)
	}
	tk, err := e.config.Exchange(HTTPClientContext(ctx, e.httpClient), code, oauth2.VerifierOption(state.PKCEVerifier))
	if err != nil {
		return nil, newError(LoginResult, op, "unable to exchange authorization code: %w: %w", ErrCodeExchangeFailed, err)
	}
	e.logger.Debug("exchanged authorization code", "token_type", tk.TokenType, "expires", tk.Expiry, "has_refresh_token", tk.RefreshToken != "")
	return tk, nil
}

// refresh sends the refresh token to the token endpoint.  It returns the
// refresh token from the response only, unless the engine retains the
// previous one.
func (e engine) refresh(ctx context.Context, op string, refreshToken string) (*oauth2.Token, RefreshToken, error) {
	if refreshToken == "" {
		return nil, "", newError(LoginResult, op, "refresh token is empty: %w", ErrMissingRefreshToken)
	}
	// the oauth2 package carries the old refresh token forward when the
	// response omits one, so look at the raw response.
	ts := e.config.TokenSource(HTTPClientContext(ctx, e.httpClient), &oauth2.Token{RefreshToken: refreshToken})
	tk, err := ts.Token()
	if err != nil {
		return nil, "", newError(LoginResult, op, "unable to refresh access token: %w: %w", ErrRefreshFailed, err)
	}
	var next RefreshToken
	if rt, ok := tk.Extra("refresh_token").(string); ok && rt != "" {
		next = RefreshToken(rt)
	} else if e.retainRefreshToken {
		next = RefreshToken(refreshToken)
	}
	e.logger.Debug("refreshed access token", "expires", tk.Expiry, "rotated", next != "" && string(next) != refreshToken)
	return tk, next, nil
}

// logout navigates to the end session URL with the current location as the
// post logout redirect.
func (e engine) logout(op string) error {
	if e.endSession == nil {
		e.logger.Debug("no end session URL, skipping provider logout")
		return nil
	}
	if e.navigator == nil {
		return newError(Configuration, op, "navigator is required for provider logout: %w", ErrNilParameter)
	}
	u := *e.endSession
	current, err := e.navigator.CurrentLocation()
	switch {
	case err != nil:
		e.logger.Warn("unable to read current location, omitting redirect_uri", "error", err)
	case current != "":
		redirect := url.Values{"redirect_uri": {current}}.Encode()
		if u.RawQuery == "" {
			u.RawQuery = redirect
		} else {
			u.RawQuery = u.RawQuery + "&" + redirect
		}
	}
	if err := e.navigator.NavigateTo(u.String()); err != nil {
		return newError(Internal, op, "unable to navigate to end session URL: %w: %w", ErrNavigationFailed, err)
	}
	return nil
}

func authenticated(tk *oauth2.Token, refreshToken RefreshToken, claims *Claims) Authenticated {
	return Authenticated{
		accessToken:  AccessToken(tk.AccessToken),
		refreshToken: refreshToken,
		claims:       claims,
		expires:      tk.Expiry,
	}
}

// clientOptions is the set of available options
type clientOptions struct {
	withLogger             hclog.Logger
	withNavigator          Navigator
	withNowFunc            func() time.Time
	withHTTPClient         *http.Client
	withRetainRefreshToken bool
}

// clientDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func clientDefaults() clientOptions {
	return clientOptions{
		withLogger:  hclog.NewNullLogger(),
		withNowFunc: time.Now,
	}
}

// getClientOpts gets the defaults and applies the opt overrides passed in.
func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	if opts.withNowFunc == nil {
		opts.withNowFunc = time.Now
	}
	return opts
}

// WithRetainRefreshToken keeps the current refresh token when a refresh
// response doesn't include a new one.  By default it's dropped, and the next
// expiry ends the session.
//
// Valid for: NewOpenIDClient, NewOAuth2Client and NewClient
func WithRetainRefreshToken() Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withRetainRefreshToken = true
		}
	}
}
