// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/hashicorp/cap-agent/agent"
	"github.com/hashicorp/cap-agent/agent/callback"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// configuration keys, also the flag names.  Every key can be set with an
// OIDC_ prefixed environment variable, e.g. OIDC_CLIENT_ID.
const (
	keyConfig        = "config"
	keyIssuer        = "issuer"
	keyAuthURL       = "auth-url"
	keyTokenURL      = "token-url"
	keyClientID      = "client-id"
	keyClientSecret  = "client-secret"
	keyScopes        = "scopes"
	keyEndSessionURL = "end-session-url"
	keyPort          = "port"
	keyTimeout       = "timeout"
	keyLogout        = "logout"
	keyLogLevel      = "log-level"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "cli",
		Short: "Log in with an OAuth2 / OIDC provider using the authorization code flow with PKCE",
		Long: `cli opens the system browser at the provider's authorization endpoint and
waits on a local callback server for the redirect.  With --issuer the provider
is discovered (OpenID Connect); with --auth-url and --token-url plain OAuth2 is
used.`,
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(v, cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), v)
		},
	}
	f := cmd.Flags()
	f.String(keyConfig, "", "optional config file (yaml, json or toml)")
	f.String(keyIssuer, "", "OIDC issuer URL")
	f.String(keyAuthURL, "", "OAuth2 authorization endpoint, when not using --issuer")
	f.String(keyTokenURL, "", "OAuth2 token endpoint, when not using --issuer")
	f.String(keyClientID, "", "client id")
	f.String(keyClientSecret, "", "optional client secret")
	f.StringSlice(keyScopes, []string{"openid", "profile", "email"}, "scopes to request")
	f.String(keyEndSessionURL, "", "optional end session URL")
	f.Int(keyPort, 8400, "local callback port")
	f.Duration(keyTimeout, 2*time.Minute, "how long to wait for the login")
	f.Bool(keyLogout, false, "log out at the provider after a successful login")
	f.String(keyLogLevel, "info", "log level: trace, debug, info, warn or error")
	return cmd
}

func loadConfig(v *viper.Viper, cmd *cobra.Command) error {
	const op = "loadConfig"
	v.SetEnvPrefix("OIDC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if file := v.GetString(keyConfig); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("%s: unable to read %s: %w", op, file, err)
		}
	}
	switch {
	case v.GetString(keyClientID) == "":
		return fmt.Errorf("%s: %s is required", op, keyClientID)
	case v.GetString(keyIssuer) == "" && (v.GetString(keyAuthURL) == "" || v.GetString(keyTokenURL) == ""):
		return fmt.Errorf("%s: either %s or both %s and %s are required", op, keyIssuer, keyAuthURL, keyTokenURL)
	}
	return nil
}

func newClient(ctx context.Context, v *viper.Viper, logger hclog.Logger, nav agent.Navigator) (agent.Client, error) {
	opts := []agent.Option{
		agent.WithScopes(v.GetStringSlice(keyScopes)...),
		agent.WithClientSecret(agent.ClientSecret(v.GetString(keyClientSecret))),
		agent.WithEndSessionURL(v.GetString(keyEndSessionURL)),
	}
	clientOpts := []agent.Option{agent.WithLogger(logger), agent.WithNavigator(nav)}
	if issuer := v.GetString(keyIssuer); issuer != "" {
		c, err := agent.NewOpenIDConfig(issuer, v.GetString(keyClientID), opts...)
		if err != nil {
			return nil, err
		}
		return agent.NewClient(ctx, c, clientOpts...)
	}
	c, err := agent.NewOAuth2Config(v.GetString(keyAuthURL), v.GetString(keyTokenURL), v.GetString(keyClientID), opts...)
	if err != nil {
		return nil, err
	}
	return agent.NewClient(ctx, c, clientOpts...)
}

func run(ctx context.Context, v *viper.Viper) error {
	const op = "run"
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "cli",
		Level:  hclog.LevelFromString(v.GetString(keyLogLevel)),
		Output: os.Stderr,
	})

	if ctx == nil {
		ctx = context.Background()
	}
	// handle ctrl-c while waiting for the callback
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, v.GetDuration(keyTimeout))
	defer cancel()

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", v.GetInt(keyPort)))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer listener.Close()
	base := fmt.Sprintf("http://localhost:%d", v.GetInt(keyPort))
	redirectURL := base + "/callback"

	nav := &browserNavigator{location: base + "/", logger: logger}
	client, err := newClient(ctx, v, logger, nav)
	var a *agent.Agent
	if err != nil {
		a = agent.NewFailedAgent(err)
	} else if a, err = agent.NewAgent(client, agent.WithLogger(logger), agent.WithNavigator(nav), agent.WithLoginExpiry(v.GetDuration(keyTimeout))); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer a.Close()

	unsubscribe := a.Subscribe(func(c agent.OAuth2Context) {
		logger.Info("authentication state", "context", c.String())
	})
	defer unsubscribe()
	if f, ok := a.Current().(agent.Failed); ok {
		return fmt.Errorf("%s: %s", op, f.Message)
	}

	successFn, successCh := success()
	errorFn, failedCh := failed()
	handler, err := callback.AuthCode(ctx, a, successFn, errorFn)
	if err != nil {
		return fmt.Errorf("%s: error creating auth code handler: %w", op, err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", handler)
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(loggedOutHTML))
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	srvCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvCh <- err
		}
	}()
	defer func() { _ = srv.Shutdown(context.Background()) }()

	authURL, err := a.StartLogin(ctx, redirectURL)
	if err != nil {
		if authURL == "" {
			return fmt.Errorf("%s: %w", op, err)
		}
		fmt.Fprintf(os.Stderr, "Error attempting to automatically open browser: '%s'.\nPlease visit the authorization URL manually.\n", err)
	}
	fmt.Fprintf(os.Stderr, "Complete the login via your provider. Authorization URL:\n\n    %s\n\n", authURL)

	// Wait for either the callback to finish, SIGINT to be received or the timeout
	select {
	case err := <-srvCh:
		return fmt.Errorf("%s: server closed with error: %w", op, err)
	case c := <-successCh:
		printContext(c)
	case err := <-failedCh:
		return fmt.Errorf("%s: %w", op, err)
	case <-ctx.Done():
		return fmt.Errorf("%s: timed out or interrupted waiting for the provider: %w", op, ctx.Err())
	}

	if v.GetBool(keyLogout) {
		if err := a.Logout(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

func printContext(c agent.OAuth2Context) {
	const op = "printContext"
	auth, ok := c.(agent.Authenticated)
	if !ok {
		fmt.Fprintf(os.Stderr, "%s: unexpected context %s\n", op, c)
		return
	}
	out := map[string]interface{}{}
	if exp, ok := auth.Expires(); ok {
		out["expires"] = exp
	}
	_, out["has_refresh_token"] = auth.RefreshToken()
	if claims, ok := auth.Claims(); ok {
		out["claims"] = claims
	}
	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", op, err)
		return
	}
	fmt.Fprintf(os.Stdout, "%s\n", data)
}
