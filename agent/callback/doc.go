// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
Package callback supports creating the http.HandlerFunc for the redirect leg
of an authorization code flow.  The handler passes the provider's response to
an agent.Agent and writes an http response using the SuccessResponseFunc or
ErrorResponseFunc it was given.
*/
package callback
