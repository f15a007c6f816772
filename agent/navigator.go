// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package agent

// Navigator is the user agent.  A browser application navigates its window; a
// CLI opens the system browser.
type Navigator interface {
	// NavigateTo sends the user agent to url.
	NavigateTo(url string) error

	// CurrentLocation returns the URL the user agent is currently showing.
	// It's used as the post logout redirect.
	CurrentLocation() (string, error)
}

// NavigatorFunc adapts a func to a Navigator with a fixed current location.
type NavigatorFunc func(url string) error

// NavigateTo calls f(url)
func (f NavigatorFunc) NavigateTo(url string) error { return f(url) }

// CurrentLocation always returns an empty location, so no post logout
// redirect is sent.
func (f NavigatorFunc) CurrentLocation() (string, error) { return "", nil }
