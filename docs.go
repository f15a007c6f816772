// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// cap-agent provides the client side of the OAuth2 authorization code flow
// with PKCE, for both OpenID Connect providers and plain OAuth2 providers.
//
// Package agent holds the clients and the Agent which tracks the user's
// authentication state.  Package agent/callback provides an http.HandlerFunc
// for the provider's redirect.
package cap
