// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
)

// NewHTTPClient returns a pooled http client for provider requests.  When
// caPEM is set only that CA is trusted, otherwise the system roots are used.
func NewHTTPClient(caPEM string) (*http.Client, error) {
	const op = "agent.NewHTTPClient"
	tr := cleanhttp.DefaultPooledTransport()

	if caPEM != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(caPEM)); !ok {
			return nil, newError(Configuration, op, "could not parse CA PEM value: %w", ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		}
	}

	return &http.Client{
		Transport: tr,
	}, nil
}

// HTTPClientContext returns a copy of ctx carrying client.  go-oidc and
// oauth2 read the client from the same context key, so discovery, key fetches
// and token requests all go through it.
func HTTPClientContext(ctx context.Context, client *http.Client) context.Context {
	return oidc.ClientContext(ctx, client)
}

// httpClientFor returns the override when set, otherwise a client trusting the
// optional CA PEM.
func httpClientFor(override *http.Client, caPEM string) (*http.Client, error) {
	if override != nil {
		return override, nil
	}
	return NewHTTPClient(caPEM)
}
