// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithLogger provides an optional logger.
//
// Valid for: Discover, NewOpenIDClient, NewOAuth2Client, NewClient and
// NewAgent
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *discoverOptions:
			v.withLogger = l
		case *clientOptions:
			v.withLogger = l
		case *agentOptions:
			v.withLogger = l
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is.
//
// Valid for: NewOpenIDClient, NewClient, NewAgent and NewMemoryStore
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *clientOptions:
			v.withNowFunc = now
		case *agentOptions:
			v.withNowFunc = now
		case *storeOptions:
			v.withNowFunc = now
		}
	}
}

// WithNavigator provides the Navigator used to send the user agent to the
// provider.
//
// Valid for: NewOpenIDClient, NewOAuth2Client, NewClient and NewAgent
func WithNavigator(n Navigator) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *clientOptions:
			v.withNavigator = n
		case *agentOptions:
			v.withNavigator = n
		}
	}
}

// WithScopes provides an optional list of scopes.
//
// Valid for: NewOpenIDConfig, NewOAuth2Config and NewAgent
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withScopes = scopes
		case *agentOptions:
			v.withScopes = scopes
		}
	}
}

// WithHTTPClient provides an optional *http.Client used for every request to
// the provider.  It takes precedence over a configured ProviderCA.
//
// Valid for: NewOpenIDClient, NewOAuth2Client and NewClient
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if v, ok := o.(*clientOptions); ok {
			v.withHTTPClient = c
		}
	}
}
