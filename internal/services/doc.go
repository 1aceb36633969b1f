// Package services exposes the boundary operations of the entitlement
// system: issuing, listing, renewing and banning customers on the admin
// side, and activating/verifying device-bound licenses on the client side.
// Each operation translates to a single atomic store update wrapping a
// state-machine transition, so concurrent requests against the same license
// are serialized by the store, never by this layer.
package services
