// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const testRedirect = "https://app.example/callback"

// testNavigator records navigations.
type testNavigator struct {
	mu          sync.Mutex
	location    string
	locationErr error
	navigateErr error
	visited     []string
}

func (n *testNavigator) NavigateTo(url string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.navigateErr != nil {
		return n.navigateErr
	}
	n.visited = append(n.visited, url)
	return nil
}

func (n *testNavigator) CurrentLocation() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.location, n.locationErr
}

func (n *testNavigator) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.visited) == 0 {
		return ""
	}
	return n.visited[len(n.visited)-1]
}

var errTestNavigation = errors.New("navigation blocked")

// testNewOpenIDConfig creates a config for the TestProvider.
func testNewOpenIDConfig(t *testing.T, tp *TestProvider, opt ...Option) *OpenIDConfig {
	t.Helper()
	require := require.New(t)
	c, err := NewOpenIDConfig(tp.Addr(), "test-client-id", append([]Option{WithProviderCA(tp.CACert())}, opt...)...)
	require.NoError(err)
	return c
}

// testNewOpenIDClient creates an OpenIDClient for the TestProvider.
func testNewOpenIDClient(t *testing.T, tp *TestProvider, opt ...Option) *OpenIDClient {
	t.Helper()
	require := require.New(t)
	c, err := NewOpenIDClient(context.Background(), testNewOpenIDConfig(t, tp), opt...)
	require.NoError(err)
	return c
}

// testLogin runs a login with the TestProvider up to the callback and returns
// the code and the login context.
func testLogin(t *testing.T, tp *TestProvider, c Client, scopes ...string) (string, *LoginContext) {
	t.Helper()
	require := require.New(t)
	lc, err := c.MakeLoginContext(scopes, testRedirect)
	require.NoError(err)
	code, state, err := tp.Authorize(lc.URL)
	require.NoError(err)
	require.Equal(lc.CSRFToken, state)
	return code, lc
}
