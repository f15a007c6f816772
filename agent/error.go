// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrInvalidCACert              = errors.New("invalid CA certificate")
	ErrInvalidIssuer              = errors.New("invalid issuer")
	ErrUnsupportedAlg             = errors.New("unsupported signing algorithm")
	ErrUnsupportedChallengeMethod = errors.New("unsupported PKCE challenge method")
	ErrDiscoveryFailed            = errors.New("provider discovery failed")
	ErrInvalidProviderMetadata    = errors.New("invalid provider metadata")
	ErrInvalidEndSessionURL       = errors.New("invalid end session URL")
	ErrIDGeneratorFailed          = errors.New("id generation failed")
	ErrCodeExchangeFailed         = errors.New("authorization code exchange failed")
	ErrMissingIDToken             = errors.New("id_token is missing")
	ErrIDTokenVerificationFailed  = errors.New("id_token verification failed")
	ErrInvalidNonce               = errors.New("invalid nonce")
	ErrInvalidAccessTokenHash     = errors.New("invalid access_token hash")
	ErrMissingRefreshToken        = errors.New("refresh_token is missing")
	ErrRefreshFailed              = errors.New("refresh token exchange failed")
	ErrInvalidState               = errors.New("invalid login state")
	ErrExpiredState               = errors.New("login state is expired")
	ErrLoginFailed                = errors.New("login failed")
	ErrNavigationFailed           = errors.New("navigation failed")
	ErrNotFound                   = errors.New("not found")
	ErrClosed                     = errors.New("agent is closed")
	ErrSuperseded                 = errors.New("superseded by another state change")
)

// Kind classifies an Error by who has to act on it.  A Kind is itself an
// error so it can be used as the target of errors.Is:
//
//	if errors.Is(err, agent.Configuration) { ... }
type Kind string

const (
	// Configuration errors are caused by bad configuration or by a provider
	// which can't be used (discovery, metadata, end session URL).
	Configuration Kind = "configuration"

	// LoginResult errors are failures of a single login or refresh attempt
	// (code exchange, token verification, nonce mismatch).
	LoginResult Kind = "login result"

	// Internal errors are local failures such as a broken randomness source.
	Internal Kind = "internal"
)

// Error implements the error interface for Kind
func (k Kind) Error() string { return string(k) }

// Error is returned by every exported operation in this package.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error returns "op: err"
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether the target is the error's Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	k, ok := target.(Kind)
	return ok && e.Kind == k
}

// KindOf returns the Kind of the outermost *Error in err's chain or an empty
// Kind when there isn't one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(k Kind, op string, format string, a ...interface{}) error {
	return &Error{Kind: k, Op: op, Err: fmt.Errorf(format, a...)}
}
