// Package app composes a wallet link client out of the session machine, the
// deep-link router and the request dispatcher.
//
// Responsibilities:
// - Build the logger, metrics registry and session store from config.
// - Route launch and runtime links to the router on a single goroutine.
// - Fan classified events out to subscribers through EventHub.
//
// Non-responsibilities:
// - Protocol details (see deeplink, dispatch, crypto).
// - How the host receives redirects; that is a LinkSource.
package app
