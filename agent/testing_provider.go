// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/subtle"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TestProvider is a local OIDC provider which supports the authorization code
// flow with PKCE, refresh tokens and an end session endpoint, which make
// writing tests much easier.
//
// Authorization codes are bound to the code_challenge, nonce, redirect_uri
// and client_id of the authorization request and can be redeemed once.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string
	privKey    *ecdsa.PrivateKey
	keyID      string
	jwks       *jose.JSONWebKeySet

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	allowedRedirectURIs []string
	subject             string
	customClaims        map[string]interface{}
	customAudience      []string
	expectedAccessToken string
	replyNonce          string
	expiresIn           time.Duration
	issueRefreshTokens  bool
	rotateRefreshTokens bool
	omitIDToken         bool
	disableEndSession   bool
	authorizations      map[string]testAuthorization
	refreshTokens       map[string]bool
	tokenRequests       int
}

type testAuthorization struct {
	clientID      string
	redirectURI   string
	codeChallenge string
	nonce         string
}

// StartTestProvider creates a disposable TestProvider listening on a random
// local port.  It's stopped by t.Cleanup.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		clientID:           "test-client-id",
		subject:            "alice@example.com",
		expiresIn:          time.Hour,
		issueRefreshTokens: true,
		authorizations:     map[string]testAuthorization{},
		refreshTokens:      map[string]bool{},
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)

	var err error
	p.privKey, err = parseECPrivateKey(p.ecdsaPrivateKey)
	require.NoError(err)
	p.keyID, err = NewID()
	require.NoError(err)
	p.jwks = &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       &p.privKey.PublicKey,
				KeyID:     p.keyID,
				Algorithm: string(ES256),
				Use:       "sig",
			},
		},
	}

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err = pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running
// webserver.  It's also the issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns a client which trusts the test provider's CA.
func (p *TestProvider) HTTPClient() *http.Client {
	c, err := NewHTTPClient(p.caCert)
	if err != nil {
		panic(err)
	}
	return c
}

// SigningKeys returns the test provider's pem-encoded keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// AuthURL returns the provider's authorization endpoint.
func (p *TestProvider) AuthURL() string { return p.Addr() + "/authorize" }

// TokenURL returns the provider's token endpoint.
func (p *TestProvider) TokenURL() string { return p.Addr() + "/token" }

// EndSessionURL returns the provider's end session endpoint.
func (p *TestProvider) EndSessionURL() string { return p.Addr() + "/logout" }

// SetClientCreds is for configuring the client information required for the
// OIDC workflows.  The default client id is "test-client-id" and no secret.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs.
// When empty, any redirect URI is allowed.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetSubject configures the "sub" claim of issued id_tokens.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subject = sub
}

// SetCustomClaims lets you set claims to return in the issued id_tokens.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures the audience of issued id_tokens.
func (p *TestProvider) SetCustomAudience(aud ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = aud
}

// SetExpectedAccessToken configures the next access token issued.  It's
// reset after use.
func (p *TestProvider) SetExpectedAccessToken(at string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAccessToken = at
}

// SetReplyNonce forces the nonce claim of issued id_tokens, ignoring the
// nonce of the authorization request.
func (p *TestProvider) SetReplyNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyNonce = nonce
}

// SetExpiresIn configures expires_in of token responses.  Zero omits it.
func (p *TestProvider) SetExpiresIn(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresIn = d
}

// SetIssueRefreshTokens configures whether code exchanges return a
// refresh_token.  The default is true.
func (p *TestProvider) SetIssueRefreshTokens(issue bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issueRefreshTokens = issue
}

// SetRotateRefreshTokens configures whether refresh responses return a new
// refresh_token, revoking the one used.  When false, refresh responses omit
// the refresh_token and the one used stays valid.
func (p *TestProvider) SetRotateRefreshTokens(rotate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotateRefreshTokens = rotate
}

// OmitIDTokens forces an error state where the /token endpoint does not return
// id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// DisableEndSession omits end_session_endpoint from the discovery document.
func (p *TestProvider) DisableEndSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableEndSession = true
}

// TokenRequests returns the number of requests made to the /token endpoint.
func (p *TestProvider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

// Authorize plays the user agent: it sends the authorization request and
// returns the code and state of the redirect.  An error response is returned
// as an error.
func (p *TestProvider) Authorize(authURL string) (code, state string, err error) {
	const op = "TestProvider.Authorize"
	client := p.HTTPClient()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := client.Get(authURL)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		return "", "", fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	q := loc.Query()
	if e := q.Get("error"); e != "" {
		return "", q.Get("state"), fmt.Errorf("%s: %s: %s", op, e, q.Get("error_description"))
	}
	return q.Get("code"), q.Get("state"), nil
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()
	reply := url.Values{
		"state": {qv.Get("state")},
		"error": {errorCode},
	}
	if errorMessage != "" {
		reply.Set("error_description", errorMessage)
	}
	http.Redirect(w, req, qv.Get("redirect_uri")+"?"+reply.Encode(), http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.WriteHeader(statusCode)
	_ = p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := ProviderMetadata{
			Issuer:                           p.Addr(),
			AuthorizationEndpoint:            p.AuthURL(),
			TokenEndpoint:                    p.TokenURL(),
			JWKSURI:                          p.Addr() + "/certs",
			EndSessionEndpoint:               p.EndSessionURL(),
			ScopesSupported:                  []string{"openid", "profile", "email", "offline_access"},
			ResponseTypesSupported:           []string{"code"},
			IDTokenSigningAlgValuesSupported: []string{string(ES256)},
			CodeChallengeMethodsSupported:    []string{string(S256)},
		}
		if p.disableEndSession {
			reply.EndSessionEndpoint = ""
		}
		_ = p.writeJSON(w, &reply)

	case "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case "/authorize":
		p.handleAuthorize(w, req)

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.tokenRequests++
		switch req.FormValue("grant_type") {
		case "authorization_code":
			p.handleCodeGrant(w, req)
		case "refresh_token":
			p.handleRefreshGrant(w, req)
		default:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
		}

	case "/logout":
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("logged out"))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) handleAuthorize(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	qv := req.URL.Query()
	redirectURI := qv.Get("redirect_uri")
	switch {
	case redirectURI == "":
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "missing redirect_uri parameter")
		return
	case !p.redirectAllowed(redirectURI):
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
		return
	case qv.Get("response_type") != "code":
		p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
		return
	case qv.Get("client_id") != p.clientID:
		p.writeAuthErrorResponse(w, req, "unauthorized_client", "unknown client_id")
		return
	case qv.Get("state") == "":
		p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
		return
	case qv.Get("code_challenge") == "" || qv.Get("code_challenge_method") != string(S256):
		p.writeAuthErrorResponse(w, req, "invalid_request", "an S256 code_challenge is required")
		return
	}

	code, err := NewID()
	if err != nil {
		p.writeAuthErrorResponse(w, req, "server_error", err.Error())
		return
	}
	p.authorizations[code] = testAuthorization{
		clientID:      qv.Get("client_id"),
		redirectURI:   redirectURI,
		codeChallenge: qv.Get("code_challenge"),
		nonce:         qv.Get("nonce"),
	}
	reply := url.Values{
		"state": {qv.Get("state")},
		"code":  {code},
	}
	http.Redirect(w, req, redirectURI+"?"+reply.Encode(), http.StatusFound)
}

func (p *TestProvider) handleCodeGrant(w http.ResponseWriter, req *http.Request) {
	if err := p.authenticateClient(req); err != nil {
		p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", err.Error())
		return
	}
	code := req.FormValue("code")
	authz, ok := p.authorizations[code]
	if !ok {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
		return
	}
	// codes are single use, even when the exchange fails
	delete(p.authorizations, code)

	switch {
	case req.FormValue("redirect_uri") != authz.redirectURI:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "redirect_uri does not match")
		return
	case oauth2.S256ChallengeFromVerifier(req.FormValue("code_verifier")) != authz.codeChallenge:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
		return
	}

	reply, err := p.tokenReply(authz)
	if err != nil {
		p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if p.issueRefreshTokens {
		if reply.RefreshToken, err = p.newRefreshToken(); err != nil {
			p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
	}
	_ = p.writeJSON(w, reply)
}

func (p *TestProvider) handleRefreshGrant(w http.ResponseWriter, req *http.Request) {
	if err := p.authenticateClient(req); err != nil {
		p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", err.Error())
		return
	}
	rt := req.FormValue("refresh_token")
	if !p.refreshTokens[rt] {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unknown refresh_token")
		return
	}
	accessToken, err := p.accessToken()
	if err != nil {
		p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	reply := &testTokenReply{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(p.expiresIn / time.Second),
	}
	if p.rotateRefreshTokens {
		delete(p.refreshTokens, rt)
		if reply.RefreshToken, err = p.newRefreshToken(); err != nil {
			p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
	}
	_ = p.writeJSON(w, reply)
}

type testTokenReply struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

func (p *TestProvider) tokenReply(authz testAuthorization) (*testTokenReply, error) {
	accessToken, err := p.accessToken()
	if err != nil {
		return nil, err
	}
	reply := &testTokenReply{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(p.expiresIn / time.Second),
	}
	if p.omitIDToken {
		return reply, nil
	}

	now := time.Now()
	stdClaims := jwt.Claims{
		Subject:   p.subject,
		Issuer:    p.Addr(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(5 * time.Minute)),
		Audience:  jwt.Audience{authz.clientID},
	}
	if len(p.customAudience) > 0 {
		stdClaims.Audience = jwt.Audience(p.customAudience)
	}
	privateClaims := map[string]interface{}{}
	for k, v := range p.customClaims {
		privateClaims[k] = v
	}
	switch {
	case p.replyNonce != "":
		privateClaims["nonce"] = p.replyNonce
	case authz.nonce != "":
		privateClaims["nonce"] = authz.nonce
	}
	if reply.IDToken, err = signJWT(p.privKey, p.keyID, stdClaims, privateClaims); err != nil {
		return nil, err
	}
	return reply, nil
}

func (p *TestProvider) accessToken() (string, error) {
	if p.expectedAccessToken != "" {
		at := p.expectedAccessToken
		p.expectedAccessToken = ""
		return at, nil
	}
	return NewID(WithPrefix("at"))
}

func (p *TestProvider) newRefreshToken() (string, error) {
	rt, err := NewID(WithPrefix("rt"))
	if err != nil {
		return "", err
	}
	p.refreshTokens[rt] = true
	return rt, nil
}

func (p *TestProvider) authenticateClient(req *http.Request) error {
	clientID, secret, ok := req.BasicAuth()
	if ok {
		var err error
		if clientID, err = url.QueryUnescape(clientID); err != nil {
			return err
		}
		if secret, err = url.QueryUnescape(secret); err != nil {
			return err
		}
	} else {
		clientID, secret = req.FormValue("client_id"), req.FormValue("client_secret")
	}
	switch {
	case clientID != p.clientID:
		return errors.New("unknown client_id")
	case p.clientSecret != "" && subtle.ConstantTimeCompare([]byte(secret), []byte(p.clientSecret)) != 1:
		return errors.New("invalid client_secret")
	}
	return nil
}

func (p *TestProvider) redirectAllowed(uri string) bool {
	if len(p.allowedRedirectURIs) == 0 {
		return true
	}
	return contains(p.allowedRedirectURIs, uri)
}
