// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/browser"
)

// browserNavigator opens URLs in the system browser.  The CLI's "current
// location" is the local server's root page.
type browserNavigator struct {
	location string
	logger   hclog.Logger
}

func (n *browserNavigator) NavigateTo(url string) error {
	n.logger.Debug("opening browser", "url", url)
	return browser.OpenURL(url)
}

func (n *browserNavigator) CurrentLocation() (string, error) {
	return n.location, nil
}
