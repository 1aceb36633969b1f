// Package app assembles the keygate server: configuration, logging,
// metrics, the store backend, the service layer, and the chi router, plus
// the HTTP server lifecycle with graceful shutdown.
package app
