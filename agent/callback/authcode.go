// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/cap-agent/agent"
)

// AuthCode creates an authorization code callback handler.  The request's
// "state" parameter is the CSRF token the agent uses to find the login
// attempt.
//
// The SuccessResponseFunc is used to create a response when callback is
// successful. The ErrorResponseFunc is to create a response when the callback
// fails.
func AuthCode(ctx context.Context, a *agent.Agent, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.AuthCode"
	switch {
	case a == nil:
		return nil, fmt.Errorf("%s: agent is nil: %w", op, agent.ErrInvalidParameter)
	case sFn == nil:
		return nil, fmt.Errorf("%s: success response func is nil: %w", op, agent.ErrInvalidParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, agent.ErrInvalidParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		// get parameters from either the body or query parameters.
		// FormValue prioritizes body values, if found
		reqState := req.FormValue("state")

		if e := req.FormValue("error"); e != "" {
			reqError := &AuthenErrorResponse{
				Error:       e,
				Description: req.FormValue("error_description"),
				URI:         req.FormValue("error_uri"),
			}
			err := a.HandleCallbackError(ctx, reqState, reqError.Error, reqError.Description)
			eFn(reqState, reqError, err, w, req)
			return
		}

		reqCode := req.FormValue("code")
		if reqCode == "" {
			eFn(reqState, nil, fmt.Errorf("%s: code is missing: %w", op, agent.ErrInvalidParameter), w, req)
			return
		}

		c, err := a.HandleCallback(ctx, reqState, reqCode)
		if err != nil {
			eFn(reqState, nil, fmt.Errorf("%s: unable to complete login: %w", op, err), w, req)
			return
		}
		sFn(reqState, c, w, req)
	}, nil
}
