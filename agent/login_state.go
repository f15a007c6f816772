// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"context"
	"sync"
	"time"
)

// LoginState is the per login attempt secret material.  It's created by
// MakeLoginContext and must be presented again, unchanged, to ExchangeCode.
// It marshals to JSON as {"pkce_verifier": ..., "nonce": ...} so it can be
// persisted across the redirect to the provider.
type LoginState struct {
	// PKCEVerifier is the PKCE code_verifier
	PKCEVerifier string `json:"pkce_verifier"`

	// Nonce is bound into the id_token by an OpenID provider.  Plain OAuth2
	// login states don't have one.
	Nonce string `json:"nonce,omitempty"`
}

// RedactedLoginState is the redacted string for a LoginState
const RedactedLoginState = "[REDACTED: login state]"

// String will redact the login state
func (s LoginState) String() string {
	return RedactedLoginState
}

// GoString will redact the login state
func (s LoginState) GoString() string {
	return RedactedLoginState
}

// LoginContext is the result of MakeLoginContext.
type LoginContext struct {
	// URL is the authorization request URL the user agent must be sent to.
	URL string

	// CSRFToken is sent as the "state" parameter and returned unchanged by
	// the provider.  It's the key for the LoginState.
	CSRFToken string

	// State must be stored until the callback.
	State LoginState
}

// LoginRecord is what a LoginStateStore keeps for one login attempt.
type LoginRecord struct {
	State       LoginState `json:"state"`
	RedirectURL string     `json:"redirect_url"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

// IsExpired returns true if the record has expired.
func (r *LoginRecord) IsExpired(now time.Time) bool {
	if r.ExpiresAt.IsZero() {
		return false
	}
	return !r.ExpiresAt.After(now)
}

// LoginStateStore keeps LoginRecords, keyed by CSRF token, from the start of a
// login until its callback.
type LoginStateStore interface {
	// Put stores the record.
	Put(ctx context.Context, csrfToken string, r *LoginRecord) error

	// Take returns and removes the record.  A record can only be taken once.
	// ErrNotFound is returned when there's no record, and ErrExpiredState when
	// it has expired.
	Take(ctx context.Context, csrfToken string) (*LoginRecord, error)
}

// MemoryStore is an in-memory LoginStateStore.
type MemoryStore struct {
	m   sync.Mutex
	c   map[string]LoginRecord
	now func() time.Time
}

// NewMemoryStore creates a new in-memory store.
//
// Supported options:
//   - WithNow
func NewMemoryStore(opt ...Option) *MemoryStore {
	opts := getStoreOpts(opt...)
	return &MemoryStore{
		c:   map[string]LoginRecord{},
		now: opts.withNowFunc,
	}
}

// Put implements the LoginStateStore interface.  Expired records are removed
// as a side effect.
func (s *MemoryStore) Put(_ context.Context, csrfToken string, r *LoginRecord) error {
	const op = "MemoryStore.Put"
	switch {
	case csrfToken == "":
		return newError(Configuration, op, "csrf token is empty: %w", ErrInvalidParameter)
	case r == nil:
		return newError(Configuration, op, "login record is nil: %w", ErrNilParameter)
	}
	s.m.Lock()
	defer s.m.Unlock()
	now := s.now()
	for k, v := range s.c {
		if v.IsExpired(now) {
			delete(s.c, k)
		}
	}
	s.c[csrfToken] = *r
	return nil
}

// Take implements the LoginStateStore interface.
func (s *MemoryStore) Take(_ context.Context, csrfToken string) (*LoginRecord, error) {
	const op = "MemoryStore.Take"
	s.m.Lock()
	defer s.m.Unlock()
	r, ok := s.c[csrfToken]
	if !ok {
		return nil, newError(LoginResult, op, "login state not found: %w", ErrNotFound)
	}
	delete(s.c, csrfToken)
	if r.IsExpired(s.now()) {
		return nil, newError(LoginResult, op, "login state expired at %s: %w", r.ExpiresAt, ErrExpiredState)
	}
	return &r, nil
}

// Len returns the number of records held.
func (s *MemoryStore) Len() int {
	s.m.Lock()
	defer s.m.Unlock()
	return len(s.c)
}

// storeOptions is the set of available options
type storeOptions struct {
	withNowFunc func() time.Time
}

// storeDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func storeDefaults() storeOptions {
	return storeOptions{
		withNowFunc: time.Now,
	}
}

// getStoreOpts gets the defaults and applies the opt overrides passed in.
func getStoreOpts(opt ...Option) storeOptions {
	opts := storeDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withNowFunc == nil {
		opts.withNowFunc = time.Now
	}
	return opts
}
