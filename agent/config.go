// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/hashicorp/go-multierror"
)

// ClientSecret is an oauth client secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Alg represents asymmetric signing algorithms
type Alg string

const (
	// JOSE asymmetric signing algorithm values as defined by RFC 7518.
	//
	// See: https://tools.ietf.org/html/rfc7518#section-3.1
	RS256 Alg = "RS256" // RSASSA-PKCS-v1.5 using SHA-256
	RS384 Alg = "RS384" // RSASSA-PKCS-v1.5 using SHA-384
	RS512 Alg = "RS512" // RSASSA-PKCS-v1.5 using SHA-512
	ES256 Alg = "ES256" // ECDSA using P-256 and SHA-256
	ES384 Alg = "ES384" // ECDSA using P-384 and SHA-384
	ES512 Alg = "ES512" // ECDSA using P-521 and SHA-512
	PS256 Alg = "PS256" // RSASSA-PSS using SHA256 and MGF1-SHA256
	PS384 Alg = "PS384" // RSASSA-PSS using SHA384 and MGF1-SHA384
	PS512 Alg = "PS512" // RSASSA-PSS using SHA512 and MGF1-SHA512
	EdDSA Alg = "EdDSA"
)

var supportedAlgorithms = map[Alg]bool{
	RS256: true,
	RS384: true,
	RS512: true,
	ES256: true,
	ES384: true,
	ES512: true,
	PS256: true,
	PS384: true,
	PS512: true,
	EdDSA: true,
}

// Config is the configuration shared by every Client variant.
type Config struct {
	// ClientID is the relying party id
	ClientID string

	// ClientSecret is the optional relying party secret.  Public clients
	// (browsers, CLIs) normally don't have one and rely on PKCE alone.
	ClientSecret ClientSecret

	// Scopes is the default list of scopes requested when none are given to
	// MakeLoginContext.
	Scopes []string

	// EndSessionURL is an optional provider logout endpoint.  For OpenID
	// clients it takes precedence over the discovered end_session_endpoint.
	EndSessionURL string

	// ProviderCA is an optional CA cert to use when sending requests to the
	// provider.
	ProviderCA string
}

func (c *Config) validate() error {
	var result *multierror.Error
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("client id is empty: %w", ErrInvalidParameter))
	}
	if c.EndSessionURL != "" {
		if _, err := parseHTTPURL(c.EndSessionURL); err != nil {
			result = multierror.Append(result, fmt.Errorf("end session URL %q: %w: %w", c.EndSessionURL, ErrInvalidEndSessionURL, err))
		}
	}
	return result.ErrorOrNil()
}

// OpenIDConfig configures an OpenIDClient.  The provider is located by
// discovery from the IssuerURL.
type OpenIDConfig struct {
	Config

	// IssuerURL is a case-sensitive URL string using the http(s) scheme that
	// contains scheme, host, and optionally, port number and path components
	// and no query or fragment components.
	IssuerURL string

	// SupportedSigningAlgs is an optional list of id_token signing
	// algorithms.  When empty, the algorithms advertised by the provider are
	// used.
	SupportedSigningAlgs []Alg

	// Audiences is an optional list of case-sensitive strings.  When set,
	// an id_token's "aud" claim must contain at least one of them, in
	// addition to the client id.
	Audiences []string
}

// NewOpenIDConfig composes a new config for an OpenID provider.
//
// Supported options:
//   - WithScopes
//   - WithClientSecret
//   - WithEndSessionURL
//   - WithProviderCA
//   - WithSupportedSigningAlgs
//   - WithAudiences
func NewOpenIDConfig(issuer, clientID string, opt ...Option) (*OpenIDConfig, error) {
	const op = "agent.NewOpenIDConfig"
	opts := getConfigOpts(opt...)
	c := &OpenIDConfig{
		Config:               opts.config(clientID),
		IssuerURL:            issuer,
		SupportedSigningAlgs: opts.withSupportedSigningAlgs,
		Audiences:            opts.withAudiences,
	}
	if err := c.Validate(); err != nil {
		return nil, newError(Configuration, op, "invalid openid config: %w", err)
	}
	return c, nil
}

// Validate the configuration.  Among other validations, it verifies the
// issuer is an absolute http(s) URL, but it doesn't verify the issuer is
// discoverable via an http request.  Every problem found is reported.
func (c *OpenIDConfig) Validate() error {
	const op = "OpenIDConfig.Validate"
	if c == nil {
		return newError(Configuration, op, "openid config is nil: %w", ErrNilParameter)
	}
	var result *multierror.Error
	if err := c.Config.validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := parseHTTPURL(c.IssuerURL); err != nil {
		result = multierror.Append(result, fmt.Errorf("issuer %q: %w: %w", c.IssuerURL, ErrInvalidIssuer, err))
	}
	for _, a := range c.SupportedSigningAlgs {
		if !supportedAlgorithms[a] {
			result = multierror.Append(result, fmt.Errorf("%q: %w", a, ErrUnsupportedAlg))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return newError(Configuration, op, "%w", err)
	}
	return nil
}

// OAuth2Config configures an OAuth2Client.  Plain OAuth2 has no discovery so
// the endpoints must be given.
type OAuth2Config struct {
	Config

	// AuthURL is the provider's authorization endpoint
	AuthURL string

	// TokenURL is the provider's token endpoint
	TokenURL string
}

// NewOAuth2Config composes a new config for a plain OAuth2 provider.
//
// Supported options:
//   - WithScopes
//   - WithClientSecret
//   - WithEndSessionURL
//   - WithProviderCA
func NewOAuth2Config(authURL, tokenURL, clientID string, opt ...Option) (*OAuth2Config, error) {
	const op = "agent.NewOAuth2Config"
	opts := getConfigOpts(opt...)
	c := &OAuth2Config{
		Config:   opts.config(clientID),
		AuthURL:  authURL,
		TokenURL: tokenURL,
	}
	if err := c.Validate(); err != nil {
		return nil, newError(Configuration, op, "invalid oauth2 config: %w", err)
	}
	return c, nil
}

// Validate the configuration.  Every problem found is reported.
func (c *OAuth2Config) Validate() error {
	const op = "OAuth2Config.Validate"
	if c == nil {
		return newError(Configuration, op, "oauth2 config is nil: %w", ErrNilParameter)
	}
	var result *multierror.Error
	if err := c.Config.validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := parseHTTPURL(c.AuthURL); err != nil {
		result = multierror.Append(result, fmt.Errorf("auth URL %q: %w: %w", c.AuthURL, ErrInvalidParameter, err))
	}
	if _, err := parseHTTPURL(c.TokenURL); err != nil {
		result = multierror.Append(result, fmt.Errorf("token URL %q: %w: %w", c.TokenURL, ErrInvalidParameter, err))
	}
	if err := result.ErrorOrNil(); err != nil {
		return newError(Configuration, op, "%w", err)
	}
	return nil
}

// parseHTTPURL parses an absolute http or https URL with a host.
func parseHTTPURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("URL is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("scheme %q is not http or https", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("host is empty")
	}
	return u, nil
}

// configOptions is the set of available options
type configOptions struct {
	withScopes               []string
	withClientSecret         ClientSecret
	withEndSessionURL        string
	withProviderCA           string
	withSupportedSigningAlgs []Alg
	withAudiences            []string
}

// configDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func configDefaults() configOptions {
	return configOptions{}
}

// getConfigOpts gets the defaults and applies the opt overrides passed in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

func (o configOptions) config(clientID string) Config {
	return Config{
		ClientID:      clientID,
		ClientSecret:  o.withClientSecret,
		Scopes:        o.withScopes,
		EndSessionURL: o.withEndSessionURL,
		ProviderCA:    o.withProviderCA,
	}
}

// WithClientSecret provides an optional client secret for confidential
// clients.
//
// Valid for: NewOpenIDConfig and NewOAuth2Config
func WithClientSecret(secret ClientSecret) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withClientSecret = secret
		}
	}
}

// WithEndSessionURL provides an optional provider logout endpoint.
//
// Valid for: NewOpenIDConfig and NewOAuth2Config
func WithEndSessionURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withEndSessionURL = u
		}
	}
}

// WithProviderCA provides an optional CA cert for the provider's config
//
// Valid for: NewOpenIDConfig and NewOAuth2Config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithSupportedSigningAlgs provides an optional list of id_token signing
// algorithms.
//
// Valid for: NewOpenIDConfig
func WithSupportedSigningAlgs(algs ...Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSupportedSigningAlgs = algs
		}
	}
}

// WithAudiences provides an optional list of audiences for the provider's
// config
//
// Valid for: NewOpenIDConfig
func WithAudiences(auds ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAudiences = auds
		}
	}
}
