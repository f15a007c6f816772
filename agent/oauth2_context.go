// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"fmt"
	"time"
)

// OAuth2Context is the authentication state an application observes.  It is
// exactly one of: NotInitialized, NotAuthenticated, Authenticated or Failed.
// The set is closed; code outside this package can't add variants.
type OAuth2Context interface {
	// AccessToken returns the access token when Authenticated.
	AccessToken() (string, bool)

	// Claims returns the verified id_token claims when Authenticated by an
	// OpenID provider.
	Claims() (*Claims, bool)

	fmt.Stringer

	oauth2Context()
}

// Reason explains why a context is NotAuthenticated.
type Reason int

const (
	// ReasonNewSession means no login has happened yet.
	ReasonNewSession Reason = iota

	// ReasonExpired means the session expired and couldn't be refreshed.
	ReasonExpired

	// ReasonLogout means the user logged out.
	ReasonLogout
)

// String returns the reason's name
func (r Reason) String() string {
	switch r {
	case ReasonNewSession:
		return "new session"
	case ReasonExpired:
		return "expired"
	case ReasonLogout:
		return "logout"
	default:
		return fmt.Sprintf("unknown reason (%d)", int(r))
	}
}

// NotInitialized means the agent hasn't been set up yet.
type NotInitialized struct{}

func (NotInitialized) oauth2Context() {}

// AccessToken always returns false
func (NotInitialized) AccessToken() (string, bool) { return "", false }

// Claims always returns false
func (NotInitialized) Claims() (*Claims, bool) { return nil, false }

// String returns "NotInitialized"
func (NotInitialized) String() string { return "NotInitialized" }

// NotAuthenticated means the agent is set up but has no session.
type NotAuthenticated struct {
	Reason Reason
}

func (NotAuthenticated) oauth2Context() {}

// AccessToken always returns false
func (NotAuthenticated) AccessToken() (string, bool) { return "", false }

// Claims always returns false
func (NotAuthenticated) Claims() (*Claims, bool) { return nil, false }

// String returns the variant and its reason
func (c NotAuthenticated) String() string {
	return fmt.Sprintf("NotAuthenticated{reason: %s}", c.Reason)
}

// Authenticated holds a live session.  Its fields can only be set by a
// successful code or refresh token exchange.
type Authenticated struct {
	accessToken  AccessToken
	refreshToken RefreshToken
	claims       *Claims
	expires      time.Time
}

func (Authenticated) oauth2Context() {}

// AccessToken returns the access token
func (c Authenticated) AccessToken() (string, bool) {
	return string(c.accessToken), c.accessToken != ""
}

// RefreshToken returns the refresh token when the provider issued one
func (c Authenticated) RefreshToken() (string, bool) {
	return string(c.refreshToken), c.refreshToken != ""
}

// Claims returns the verified id_token claims.  An OAuth2Client never has
// claims.
func (c Authenticated) Claims() (*Claims, bool) {
	return c.claims, c.claims != nil
}

// Expires returns the absolute access token expiry when the provider sent
// expires_in.
func (c Authenticated) Expires() (time.Time, bool) {
	return c.expires, !c.expires.IsZero()
}

// String will redact the tokens
func (c Authenticated) String() string {
	exp := "none"
	if !c.expires.IsZero() {
		exp = c.expires.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("Authenticated{access_token: %s, refresh_token: %s, expires: %s}", c.accessToken, c.refreshToken, exp)
}

// Failed means the last login attempt failed.
type Failed struct {
	Message string
}

func (Failed) oauth2Context() {}

// AccessToken always returns false
func (Failed) AccessToken() (string, bool) { return "", false }

// Claims always returns false
func (Failed) Claims() (*Claims, bool) { return nil, false }

// String returns the variant and its message
func (c Failed) String() string { return fmt.Sprintf("Failed{message: %q}", c.Message) }

// IsAuthenticated reports whether c is Authenticated
func IsAuthenticated(c OAuth2Context) bool {
	_, ok := c.(Authenticated)
	return ok
}
