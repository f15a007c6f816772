// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
Package agent is the client side of the OAuth2 / OpenID Connect authorization
code flow with PKCE for an interactive, single session client.

Primary types provided by the package

* Client: the protocol engine contract.  It builds authorization URLs,
exchanges authorization codes, refreshes access tokens and triggers a remote
logout.  There is one implementation per protocol family: OpenIDClient
(discovery, id_token verification) and OAuth2Client (explicit endpoints, no
identity).

* OAuth2Context: the only authentication states the rest of an application may
observe: NotInitialized, NotAuthenticated, Authenticated and Failed.

* LoginState: the PKCE verifier and nonce generated for one login attempt.  It
must survive the redirect to the provider and back, see LoginStateStore.

* Agent: owns the current OAuth2Context, drives logins through a Navigator,
refreshes tokens before they expire and broadcasts every transition to its
subscribers.

* TestProvider: an in-process OIDC provider which makes writing tests much
easier.

The agent.callback package

The callback package includes the ability to create a http.HandlerFunc which
can be used for the redirect leg of the flow where the authorization code is
exchanged for tokens.
*/
package agent
