// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"golang.org/x/oauth2"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

const (
	// S256 is the SHA-256 code challenge method.  It's the only method this
	// package will send.
	S256 ChallengeMethod = "S256"
)

const (
	minVerifierLen = 43
	maxVerifierLen = 128
)

// CodeVerifier is a PKCE code verifier and its derived challenge.
// See: https://datatracker.ietf.org/doc/html/rfc7636
type CodeVerifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// NewCodeVerifier creates a new CodeVerifier with 256 bits of entropy (a 43
// character verifier) and its S256 challenge.
func NewCodeVerifier() (*CodeVerifier, error) {
	const op = "agent.NewCodeVerifier"
	v := &CodeVerifier{
		verifier: oauth2.GenerateVerifier(),
		method:   S256,
	}
	challenge, err := CreateCodeChallenge(v.method, v)
	if err != nil {
		return nil, newError(Internal, op, "unable to create code challenge: %w", err)
	}
	v.challenge = challenge
	return v, nil
}

// Verifier returns the code verifier.  It's sent to the token endpoint with
// the authorization code.
func (v *CodeVerifier) Verifier() string { return v.verifier }

// Challenge returns the code challenge sent with the authorization request.
func (v *CodeVerifier) Challenge() string { return v.challenge }

// Method returns the challenge method.
func (v *CodeVerifier) Method() ChallengeMethod { return v.method }

// CreateCodeChallenge creates a code challenge for the verifier using the
// method: BASE64URL-ENCODE(SHA256(ASCII(code_verifier))) with no padding.
func CreateCodeChallenge(method ChallengeMethod, v *CodeVerifier) (string, error) {
	const op = "agent.CreateCodeChallenge"
	if v == nil {
		return "", newError(Configuration, op, "code verifier is nil: %w", ErrNilParameter)
	}
	switch method {
	case S256:
		return oauth2.S256ChallengeFromVerifier(v.verifier), nil
	default:
		return "", newError(Configuration, op, "%q: %w", method, ErrUnsupportedChallengeMethod)
	}
}

// ValidVerifier reports whether s is a well formed code verifier: between 43
// and 128 characters from the unreserved set [A-Z] / [a-z] / [0-9] / "-" / "."
// / "_" / "~".
func ValidVerifier(s string) bool {
	if len(s) < minVerifierLen || len(s) > maxVerifierLen {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '-', r == '.', r == '_', r == '~':
		default:
			return false
		}
	}
	return true
}
