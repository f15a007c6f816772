// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/text/language"
)

func TestNewOpenIDClient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tp := StartTestProvider(t)
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	tests := []struct {
		name           string
		config         *OpenIDConfig
		wantErr        bool
		wantIsErr      error
		wantEndSession string
	}{
		{
			name:           "valid",
			config:         testNewOpenIDConfig(t, tp),
			wantEndSession: tp.EndSessionURL(),
		},
		{
			name:           "configured-end-session-wins",
			config:         testNewOpenIDConfig(t, tp, WithEndSessionURL("https://idp.example/logout")),
			wantEndSession: "https://idp.example/logout",
		},
		{
			name:      "nil-config",
			config:    nil,
			wantErr:   true,
			wantIsErr: ErrNilParameter,
		},
		{
			name:      "invalid-config",
			config:    &OpenIDConfig{IssuerURL: tp.Addr()},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "bad-ca",
			config:    &OpenIDConfig{Config: Config{ClientID: "test-client-id", ProviderCA: "bad"}, IssuerURL: tp.Addr()},
			wantErr:   true,
			wantIsErr: ErrInvalidCACert,
		},
		{
			name:      "discovery-failed",
			config:    &OpenIDConfig{Config: Config{ClientID: "test-client-id"}, IssuerURL: closed.URL},
			wantErr:   true,
			wantIsErr: ErrDiscoveryFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewOpenIDClient(ctx, tt.config)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				assert.True(errors.Is(err, Configuration))
				return
			}
			require.NoError(err)
			require.NotNil(got.endSession)
			assert.Equal(tt.wantEndSession, got.endSession.String())
			assert.Equal(tp.Addr(), got.Provider().Metadata().Issuer)
		})
	}
	t.Run("new-client", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewClient(ctx, testNewOpenIDConfig(t, tp))
		require.NoError(err)
		_, ok := c.(*OpenIDClient)
		assert.True(ok)

		_, err = NewClient(ctx, "not a config")
		assert.True(errors.Is(err, ErrInvalidParameter))
		_, err = NewClient(ctx, nil)
		assert.True(errors.Is(err, ErrNilParameter))
	})
}

func TestOpenIDClient_MakeLoginContext(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)
	c := testNewOpenIDClient(t, tp)

	t.Run("authorization-url", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		lc, err := c.MakeLoginContext([]string{"openid", "profile"}, testRedirect)
		require.NoError(err)

		require.True(strings.HasPrefix(lc.URL, tp.AuthURL()+"?"))
		u, err := url.Parse(lc.URL)
		require.NoError(err)
		q := u.Query()
		assert.Equal("code", q.Get("response_type"))
		assert.Equal("test-client-id", q.Get("client_id"))
		assert.Equal(testRedirect, q.Get("redirect_uri"))
		assert.Equal("openid profile", q.Get("scope"))
		// form encoding: "+" is the accepted encoding of the space, not %20
		assert.Contains(u.RawQuery, "scope=openid+profile")
		assert.Equal(lc.CSRFToken, q.Get("state"))
		assert.Equal(lc.State.Nonce, q.Get("nonce"))
		assert.Equal("S256", q.Get("code_challenge_method"))
		assert.Equal(oauth2.S256ChallengeFromVerifier(lc.State.PKCEVerifier), q.Get("code_challenge"))

		assert.True(ValidVerifier(lc.State.PKCEVerifier))
		assert.NotEmpty(lc.State.Nonce)
		assert.NotEqual(lc.CSRFToken, lc.State.Nonce)
	})
	t.Run("fresh-values", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		lc1, err := c.MakeLoginContext(nil, testRedirect)
		require.NoError(err)
		lc2, err := c.MakeLoginContext(nil, testRedirect)
		require.NoError(err)
		assert.NotEqual(lc1.CSRFToken, lc2.CSRFToken)
		assert.NotEqual(lc1.State.Nonce, lc2.State.Nonce)
		assert.NotEqual(lc1.State.PKCEVerifier, lc2.State.PKCEVerifier)
	})
	t.Run("scopes", func(t *testing.T) {
		tests := []struct {
			name   string
			scopes []string
			want   string
		}{
			{"openid-added", []string{"profile", "email"}, "openid profile email"},
			{"order-kept", []string{"email", "openid"}, "email openid"},
			{"empty", nil, "openid"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert, require := assert.New(t), require.New(t)
				lc, err := c.MakeLoginContext(tt.scopes, testRedirect)
				require.NoError(err)
				u, err := url.Parse(lc.URL)
				require.NoError(err)
				assert.Equal(tt.want, u.Query().Get("scope"))
			})
		}
	})
	t.Run("request-options", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		lc, err := c.MakeLoginContext(nil, testRedirect,
			WithPrompts(Login, Consent),
			WithUILocales(language.AmericanEnglish, language.French),
			WithMaxAge(600),
			WithLoginHint("alice@example.com"),
		)
		require.NoError(err)
		u, err := url.Parse(lc.URL)
		require.NoError(err)
		q := u.Query()
		assert.Equal("login consent", q.Get("prompt"))
		assert.Equal("en-US fr", q.Get("ui_locales"))
		assert.Equal("600", q.Get("max_age"))
		assert.Equal("alice@example.com", q.Get("login_hint"))
	})
	t.Run("bad-prompts", func(t *testing.T) {
		assert := assert.New(t)
		_, err := c.MakeLoginContext(nil, testRedirect, WithPrompts(None, Login))
		assert.True(errors.Is(err, ErrInvalidParameter))
		assert.True(errors.Is(err, Configuration))
	})
	t.Run("bad-redirect", func(t *testing.T) {
		assert := assert.New(t)
		_, err := c.MakeLoginContext(nil, "/callback")
		assert.True(errors.Is(err, ErrInvalidParameter))
		assert.True(errors.Is(err, Configuration))
	})
	t.Run("set-redirect-uri-copies", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		bound, err := c.SetRedirectURI(testRedirect)
		require.NoError(err)
		assert.Equal(testRedirect, bound.(OpenIDClient).config.RedirectURL)
		assert.Empty(c.config.RedirectURL)

		_, err = c.SetRedirectURI("not a url")
		assert.True(errors.Is(err, Configuration))
	})
}

func TestOpenIDClient_ExchangeCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("authenticated", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetExpectedAccessToken("AT1")
		tp.SetExpiresIn(3600 * time.Second)
		tp.SetCustomClaims(map[string]interface{}{"email": "alice@example.com"})
		c := testNewOpenIDClient(t, tp)

		code, lc := testLogin(t, tp, c, "openid", "profile")
		bound, err := c.SetRedirectURI(testRedirect)
		require.NoError(err)
		got, session, err := bound.ExchangeCode(ctx, code, lc.State)
		require.NoError(err)

		auth, ok := got.(Authenticated)
		require.True(ok)
		at, ok := auth.AccessToken()
		assert.True(ok)
		assert.Equal("AT1", at)
		exp, ok := auth.Expires()
		require.True(ok)
		assert.WithinDuration(time.Now().Add(time.Hour), exp, 10*time.Second)
		_, ok = auth.RefreshToken()
		assert.True(ok)

		claims, ok := auth.Claims()
		require.True(ok)
		assert.Equal("alice@example.com", claims.Subject())
		assert.Equal(tp.Addr(), claims.Issuer())
		assert.Equal([]string{"test-client-id"}, claims.Audience())
		assert.Equal(lc.State.Nonce, claims.Nonce())
		email, ok := claims.Get("email")
		assert.True(ok)
		assert.Equal("alice@example.com", email)
		var decoded struct {
			Email string `json:"email"`
		}
		require.NoError(claims.Decode(&decoded))
		assert.Equal("alice@example.com", decoded.Email)

		sessionClaims, ok := session.Claims()
		require.True(ok)
		assert.Same(claims, sessionClaims)
		idt, ok := session.IDToken()
		assert.True(ok)
		assert.NotEmpty(string(idt))
	})
	t.Run("code-used-twice", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c := testNewOpenIDClient(t, tp)
		code, lc := testLogin(t, tp, c)
		bound, err := c.SetRedirectURI(testRedirect)
		require.NoError(err)

		_, _, err = bound.ExchangeCode(ctx, code, lc.State)
		require.NoError(err)
		_, _, err = bound.ExchangeCode(ctx, code, lc.State)
		require.Error(err)
		assert.True(errors.Is(err, ErrCodeExchangeFailed))
		assert.True(errors.Is(err, LoginResult))
	})
	t.Run("wrong-verifier", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c := testNewOpenIDClient(t, tp)
		code, lc := testLogin(t, tp, c)
		bound, err := c.SetRedirectURI(testRedirect)
		require.NoError(err)
		other, err := NewCodeVerifier()
		require.NoError(err)

		_, _, err = bound.ExchangeCode(ctx, code, LoginState{PKCEVerifier: other.Verifier(), Nonce: lc.State.Nonce})
		require.Error(err)
		assert.True(errors.Is(err, ErrCodeExchangeFailed))
		assert.True(errors.Is(err, LoginResult))
	})
	t.Run("missing-id-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.OmitIDTokens()
		c := testNewOpenIDClient(t, tp)
		code, lc := testLogin(t, tp, c)
		bound, err := c.SetRedirectURI(testRedirect)
		require.NoError(err)

		_, _, err = bound.ExchangeCode(ctx, code, lc.State)
		require.Error(err)
		assert.True(errors.Is(err, ErrMissingIDToken))
		assert.True(errors.Is(err, LoginResult))
	})
	t.Run("nonce-mismatch", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetReplyNonce("not-the-nonce")
		c := testNewOpenIDClient(t, tp)
		code, lc := testLogin(t, tp, c)
		bound, err := c.SetRedirectURI(testRedirect)
		require.NoError(err)

		_, _, err = bound.ExchangeCode(ctx, code, lc.State)
		require.Error(err)
		assert.True(errors.Is(err, ErrInvalidNonce))
		assert.True(errors.Is(err, LoginResult))
	})
	t.Run("wrong-audience", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetCustomAudience("someone-else")
		c := testNewOpenIDClient(t, tp)
		code, lc := testLogin(t, tp, c)
		bound, err := c.SetRedirectURI(testRedirect)
		require.NoError(err)

		_, _, err = bound.ExchangeCode(ctx, code, lc.State)
		require.Error(err)
		assert.True(errors.Is(err, ErrIDTokenVerificationFailed))
	})
	t.Run("redirect-not-bound", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c := testNewOpenIDClient(t, tp)
		code, lc := testLogin(t, tp, c)

		_, _, err := c.ExchangeCode(ctx, code, lc.State)
		require.Error(err)
		assert.True(errors.Is(err, Configuration))
		assert.Equal(0, tp.TokenRequests())
	})
	t.Run("bad-login-state", func(t *testing.T) {
		assert := assert.New(t)
		tp := StartTestProvider(t)
		c := testNewOpenIDClient(t, tp)
		bound, err := c.SetRedirectURI(testRedirect)
		require.NoError(t, err)

		_, _, err = bound.ExchangeCode(ctx, "code", LoginState{PKCEVerifier: strings.Repeat("a", 43)})
		assert.True(errors.Is(err, ErrInvalidState))
		_, _, err = bound.ExchangeCode(ctx, "code", LoginState{PKCEVerifier: "short", Nonce: "n"})
		assert.True(errors.Is(err, ErrInvalidState))
		_, _, err = bound.ExchangeCode(ctx, "", LoginState{PKCEVerifier: strings.Repeat("a", 43), Nonce: "n"})
		assert.True(errors.Is(err, ErrInvalidParameter))
		assert.Equal(0, tp.TokenRequests())
	})
}

func TestOpenIDClient_ExchangeRefreshToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	login := func(t *testing.T, tp *TestProvider, opt ...Option) (Client, Authenticated, *Session) {
		t.Helper()
		require := require.New(t)
		c := testNewOpenIDClient(t, tp, opt...)
		code, lc := testLogin(t, tp, c)
		bound, err := c.SetRedirectURI(testRedirect)
		require.NoError(err)
		got, session, err := bound.ExchangeCode(ctx, code, lc.State)
		require.NoError(err)
		return bound, got.(Authenticated), session
	}

	t.Run("refresh-token-dropped", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c, auth, session := login(t, tp)
		rt, ok := auth.RefreshToken()
		require.True(ok)

		tp.SetExpectedAccessToken("AT2")
		got, next, err := c.ExchangeRefreshToken(ctx, rt, session)
		require.NoError(err)
		at, _ := got.AccessToken()
		assert.Equal("AT2", at)
		_, ok = got.(Authenticated).RefreshToken()
		assert.False(ok)

		claims, ok := got.Claims()
		require.True(ok)
		sessionClaims, _ := session.Claims()
		assert.Same(sessionClaims, claims)
		nextClaims, _ := next.Claims()
		assert.Same(sessionClaims, nextClaims)
	})
	t.Run("refresh-token-retained", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c, auth, session := login(t, tp, WithRetainRefreshToken())
		rt, _ := auth.RefreshToken()

		got, _, err := c.ExchangeRefreshToken(ctx, rt, session)
		require.NoError(err)
		next, ok := got.(Authenticated).RefreshToken()
		assert.True(ok)
		assert.Equal(rt, next)
	})
	t.Run("refresh-token-rotated", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetRotateRefreshTokens(true)
		c, auth, session := login(t, tp)
		rt, _ := auth.RefreshToken()

		got, _, err := c.ExchangeRefreshToken(ctx, rt, session)
		require.NoError(err)
		next, ok := got.(Authenticated).RefreshToken()
		require.True(ok)
		assert.NotEqual(rt, next)

		_, _, err = c.ExchangeRefreshToken(ctx, rt, session)
		require.Error(err)
		assert.True(errors.Is(err, ErrRefreshFailed))
		assert.True(errors.Is(err, LoginResult))
	})
	t.Run("unknown-refresh-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c, _, session := login(t, tp)
		_, _, err := c.ExchangeRefreshToken(ctx, "not-issued", session)
		require.Error(err)
		assert.True(errors.Is(err, ErrRefreshFailed))
	})
	t.Run("empty-refresh-token", func(t *testing.T) {
		assert := assert.New(t)
		tp := StartTestProvider(t)
		c, _, session := login(t, tp)
		_, _, err := c.ExchangeRefreshToken(ctx, "", session)
		assert.True(errors.Is(err, ErrMissingRefreshToken))
	})
}

func TestOpenIDClient_Logout(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)

	tests := []struct {
		name        string
		endSession  string
		nav         *testNavigator
		noNavigator bool
		wantVisited string
		wantErr     bool
		wantIsErr   error
		wantKind    Kind
	}{
		{
			name:        "with-redirect",
			endSession:  "https://idp.example/logout",
			nav:         &testNavigator{location: "https://app.example/page"},
			wantVisited: "https://idp.example/logout?redirect_uri=https%3A%2F%2Fapp.example%2Fpage",
		},
		{
			name:        "existing-query-kept",
			endSession:  "https://idp.example/logout?client_id=app",
			nav:         &testNavigator{location: "https://app.example/"},
			wantVisited: "https://idp.example/logout?client_id=app&redirect_uri=https%3A%2F%2Fapp.example%2F",
		},
		{
			name:        "discovered",
			nav:         &testNavigator{location: "https://app.example/"},
			wantVisited: tp.EndSessionURL() + "?redirect_uri=https%3A%2F%2Fapp.example%2F",
		},
		{
			name:        "location-unavailable",
			endSession:  "https://idp.example/logout",
			nav:         &testNavigator{locationErr: errTestNavigation},
			wantVisited: "https://idp.example/logout",
		},
		{
			name:        "no-navigator",
			endSession:  "https://idp.example/logout",
			noNavigator: true,
			wantErr:     true,
			wantIsErr:   ErrNilParameter,
			wantKind:    Configuration,
		},
		{
			name:       "navigation-fails",
			endSession: "https://idp.example/logout",
			nav:        &testNavigator{navigateErr: errTestNavigation},
			wantErr:    true,
			wantIsErr:  ErrNavigationFailed,
			wantKind:   Internal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			var opts []Option
			if !tt.noNavigator {
				opts = append(opts, WithNavigator(tt.nav))
			}
			var configOpts []Option
			if tt.endSession != "" {
				configOpts = append(configOpts, WithEndSessionURL(tt.endSession))
			}
			c, err := NewOpenIDClient(context.Background(), testNewOpenIDConfig(t, tp, configOpts...), opts...)
			require.NoError(err)

			err = c.Logout()
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				assert.True(errors.Is(err, tt.wantKind))
				return
			}
			require.NoError(err)
			assert.Equal(tt.wantVisited, tt.nav.last())
		})
	}
	t.Run("no-end-session", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.DisableEndSession()
		nav := &testNavigator{location: "https://app.example/"}
		c := testNewOpenIDClient(t, tp, WithNavigator(nav))
		require.NoError(c.Logout())
		assert.Empty(nav.visited)

		// no navigator is needed either
		c = testNewOpenIDClient(t, tp)
		assert.NoError(c.Logout())
	})
}
