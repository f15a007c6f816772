// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Claims is an immutable snapshot of the verified claims of an id_token.
// A *Claims is shared, never copied, between an Authenticated context and the
// Session it came from.
type Claims struct {
	subject  string
	issuer   string
	audience []string
	expiry   time.Time
	issuedAt time.Time
	nonce    string
	raw      json.RawMessage
}

func newClaims(t *oidc.IDToken) (*Claims, error) {
	const op = "agent.newClaims"
	var raw json.RawMessage
	if err := t.Claims(&raw); err != nil {
		return nil, newError(LoginResult, op, "unable to read id_token claims: %w: %w", ErrIDTokenVerificationFailed, err)
	}
	return &Claims{
		subject:  t.Subject,
		issuer:   t.Issuer,
		audience: append([]string(nil), t.Audience...),
		expiry:   t.Expiry,
		issuedAt: t.IssuedAt,
		nonce:    t.Nonce,
		raw:      raw,
	}, nil
}

// Subject is the "sub" claim
func (c *Claims) Subject() string { return c.subject }

// Issuer is the "iss" claim
func (c *Claims) Issuer() string { return c.issuer }

// Audience is the "aud" claim
func (c *Claims) Audience() []string { return append([]string(nil), c.audience...) }

// Expiry is the "exp" claim
func (c *Claims) Expiry() time.Time { return c.expiry }

// IssuedAt is the "iat" claim
func (c *Claims) IssuedAt() time.Time { return c.issuedAt }

// Nonce is the "nonce" claim
func (c *Claims) Nonce() string { return c.nonce }

// Decode unmarshals every claim into v.
func (c *Claims) Decode(v interface{}) error {
	const op = "Claims.Decode"
	if v == nil {
		return newError(Configuration, op, "target is nil: %w", ErrNilParameter)
	}
	if err := json.Unmarshal(c.raw, v); err != nil {
		return newError(Internal, op, "unable to decode claims: %w", err)
	}
	return nil
}

// Get returns a single claim by name.
func (c *Claims) Get(name string) (interface{}, bool) {
	var m map[string]interface{}
	if err := json.Unmarshal(c.raw, &m); err != nil {
		return nil, false
	}
	v, ok := m[name]
	return v, ok
}

// MarshalJSON returns the claims as they were received.
func (c *Claims) MarshalJSON() ([]byte, error) {
	if len(c.raw) == 0 {
		return []byte("{}"), nil
	}
	return append([]byte(nil), c.raw...), nil
}

// String returns the subject and issuer only
func (c *Claims) String() string {
	return fmt.Sprintf("Claims{sub: %q, iss: %q}", c.subject, c.issuer)
}
