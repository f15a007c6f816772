// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/text/language"
)

// Prompt is a string value that specifies whether the provider prompts the
// end-user for reauthentication, account selection and consent.
// See: https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
type Prompt string

const (
	// None: the provider must not display any authentication or consent
	// user interface pages.  It can't be combined with other prompts.
	None Prompt = "none"

	// Login: the provider should prompt the end-user for reauthentication.
	Login Prompt = "login"

	// Consent: the provider should prompt the end-user for consent.
	Consent Prompt = "consent"

	// SelectAccount: the provider should prompt the end-user to select a
	// user account.
	SelectAccount Prompt = "select_account"
)

// loginOptions is the set of available options
type loginOptions struct {
	withPrompts   []Prompt
	withUILocales []language.Tag
	withMaxAge    *uint
	withLoginHint string
}

// loginDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func loginDefaults() loginOptions {
	return loginOptions{}
}

// getLoginOpts gets the defaults and applies the opt overrides passed in.
func getLoginOpts(opt ...Option) loginOptions {
	opts := loginDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

func (o loginOptions) validate() error {
	if len(o.withPrompts) > 1 {
		for _, p := range o.withPrompts {
			if p == None {
				return fmt.Errorf("prompt %q can't be combined with other prompts: %w", None, ErrInvalidParameter)
			}
		}
	}
	return nil
}

func (o loginOptions) authCodeOptions() []oauth2.AuthCodeOption {
	var opts []oauth2.AuthCodeOption
	if len(o.withPrompts) > 0 {
		prompts := make([]string, 0, len(o.withPrompts))
		for _, p := range o.withPrompts {
			prompts = append(prompts, string(p))
		}
		opts = append(opts, oauth2.SetAuthURLParam("prompt", strings.Join(prompts, " ")))
	}
	if len(o.withUILocales) > 0 {
		locales := make([]string, 0, len(o.withUILocales))
		for _, l := range o.withUILocales {
			locales = append(locales, l.String())
		}
		opts = append(opts, oauth2.SetAuthURLParam("ui_locales", strings.Join(locales, " ")))
	}
	if o.withMaxAge != nil {
		opts = append(opts, oauth2.SetAuthURLParam("max_age", strconv.FormatUint(uint64(*o.withMaxAge), 10)))
	}
	if o.withLoginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", o.withLoginHint))
	}
	return opts
}

// WithPrompts provides an optional list of values that specifies whether the
// provider prompts the end-user for reauthentication and consent.
//
// Valid for: MakeLoginContext
func WithPrompts(prompts ...Prompt) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginOptions); ok {
			o.withPrompts = append(o.withPrompts, prompts...)
		}
	}
}

// WithUILocales provides the end-user's preferred languages for the
// provider's user interface, in order of preference.
//
// Valid for: MakeLoginContext
func WithUILocales(locales ...language.Tag) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginOptions); ok {
			o.withUILocales = append(o.withUILocales, locales...)
		}
	}
}

// WithMaxAge provides the allowable elapsed time in seconds since the last
// time the end-user was actively authenticated by the provider.
//
// Valid for: MakeLoginContext
func WithMaxAge(seconds uint) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginOptions); ok {
			o.withMaxAge = &seconds
		}
	}
}

// WithLoginHint provides a hint about the login identifier the end-user
// might use, such as an email address.
//
// Valid for: MakeLoginContext
func WithLoginHint(hint string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginOptions); ok {
			o.withLoginHint = hint
		}
	}
}
