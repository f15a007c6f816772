// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/hashicorp/cap-agent/agent"
	"github.com/hashicorp/cap-agent/agent/callback"
)

func success() (callback.SuccessResponseFunc, <-chan agent.OAuth2Context) {
	doneCh := make(chan agent.OAuth2Context, 1)
	var once sync.Once
	return func(state string, c agent.OAuth2Context, w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(successHTML)); err != nil {
			fmt.Fprintf(os.Stderr, "error writing successful response: %s\n", err)
		}
		once.Do(func() { doneCh <- c })
	}, doneCh
}

func failed() (callback.ErrorResponseFunc, <-chan error) {
	const op = "failed"
	doneCh := make(chan error, 1)
	var once sync.Once
	return func(state string, r *callback.AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
		var responseErr error
		switch {
		case r != nil:
			responseErr = fmt.Errorf("%s: callback error from provider: %s: %s", op, r.Error, r.Description)
			w.WriteHeader(http.StatusUnauthorized)
		case e != nil:
			responseErr = fmt.Errorf("%s: callback error: %w", op, e)
			w.WriteHeader(http.StatusInternalServerError)
		default:
			responseErr = fmt.Errorf("%s: unknown error from callback", op)
			w.WriteHeader(http.StatusInternalServerError)
		}
		if _, err := w.Write([]byte(responseErr.Error())); err != nil {
			fmt.Fprintf(os.Stderr, "%s: error writing failed response: %s\n", op, err)
		}
		once.Do(func() { doneCh <- responseErr })
	}, doneCh
}

const successHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Login successful</title>
</head>
<body>
  <p>Login successful.  You can close this window and return to the terminal.</p>
</body>
</html>
`

const loggedOutHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Logged out</title>
</head>
<body>
  <p>You are logged out.  You can close this window.</p>
</body>
</html>
`
