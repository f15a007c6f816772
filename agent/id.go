// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// idEntropyBytes is 256 bits of entropy which encodes to a 43 character
// base64url string.
const idEntropyBytes = 32

// NewID generates an opaque, URL safe ID with an optional prefix.  The ID
// generated is suitable for a CSRF token (the OAuth2 "state" parameter) or a
// Nonce.
//
// Supported options:
//   - WithPrefix
func NewID(opt ...Option) (string, error) {
	const op = "agent.NewID"
	opts := getIDOpts(opt...)
	b, err := uuid.GenerateRandomBytes(idEntropyBytes)
	if err != nil {
		return "", newError(Internal, op, "unable to generate id: %w: %w", ErrIDGeneratorFailed, err)
	}
	id := base64.RawURLEncoding.EncodeToString(b)
	if opts.withPrefix != "" {
		id = fmt.Sprintf("%s_%s", opts.withPrefix, id)
	}
	return id, nil
}

// idOptions is the set of available options.
type idOptions struct {
	withPrefix string
}

// idDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func idDefaults() idOptions {
	return idOptions{}
}

// getIDOpts gets the defaults and applies the opt overrides passed
// in.
func getIDOpts(opt ...Option) idOptions {
	opts := idDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithPrefix provides an optional prefix for a new ID.  When this options is
// provided, NewID will prepend the prefix and an underscore to the new
// identifier.
//
// Valid for: NewID
func WithPrefix(prefix string) Option {
	return func(o interface{}) {
		if o, ok := o.(*idOptions); ok {
			o.withPrefix = prefix
		}
	}
}
