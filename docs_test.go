// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cap_test

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/cap-agent/agent"
	"github.com/hashicorp/cap-agent/agent/callback"
)

func Example_openID() {
	ctx := context.Background()

	// Create a new config
	cfg, err := agent.NewOpenIDConfig(
		"https://your-issuer.com/",
		"your_client_id",
		agent.WithClientSecret("your_client_secret"),
		agent.WithScopes("openid", "email"),
		agent.WithSupportedSigningAlgs(agent.RS256),
	)
	if err != nil {
		// handle error
	}

	// Create a client, which discovers the provider's endpoints.
	client, err := agent.NewOpenIDClient(ctx, cfg)
	if err != nil {
		// handle error
	}

	// Bind the redirect and make a login context.  The URL is where the user
	// authenticates, and the CSRF token and state must be kept until the
	// provider redirects back.
	redirected, err := client.SetRedirectURI("https://your_redirect_url/callback")
	if err != nil {
		// handle error
	}
	lc, err := redirected.MakeLoginContext(nil, "https://your_redirect_url/callback")
	if err != nil {
		// handle error
	}
	fmt.Println(lc.URL)

	// After the redirect, exchange the code.
	authenticated, session, err := redirected.ExchangeCode(ctx, "code-from-redirect", lc.State)
	if err != nil {
		// handle error
	}
	if claims, ok := authenticated.Claims(); ok {
		fmt.Println(claims.Subject())
	}
	_ = session
}

func Example_agent() {
	ctx := context.Background()

	cfg, err := agent.NewOAuth2Config(
		"https://your-provider.com/authorize",
		"https://your-provider.com/token",
		"your_client_id",
		agent.WithScopes("read"),
	)
	if err != nil {
		// handle error
	}
	client, err := agent.NewOAuth2Client(ctx, cfg)
	if err != nil {
		// handle error
	}

	// The navigator opens the authorization URL, for example in a browser.
	nav := agent.NavigatorFunc(func(url string) error {
		fmt.Println("visit:", url)
		return nil
	})
	a, err := agent.NewAgent(client, agent.WithNavigator(nav))
	if err != nil {
		// handle error
	}
	defer a.Close()

	unsubscribe := a.Subscribe(func(c agent.OAuth2Context) {
		fmt.Println("state:", c)
	})
	defer unsubscribe()

	// The callback handler completes the flow with the Agent.
	handler, err := callback.AuthCode(ctx, a, callback.SuccessResponseFunc(
		func(state string, c agent.OAuth2Context, w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
		callback.ErrorResponseFunc(
			func(state string, r *callback.AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			}),
	)
	if err != nil {
		// handle error
	}
	http.HandleFunc("/callback", handler)

	if _, err := a.StartLogin(ctx, "https://your_redirect_url/callback"); err != nil {
		// handle error
	}
}
