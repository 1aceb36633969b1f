// Package http contains the chi HTTP handlers for the keygate API: the
// public activation/verification endpoints consumed by licensed devices and
// the admin endpoints for issuing and managing customers. Handlers only
// translate between HTTP and the service layer; all business rules live in
// the license state machine.
package http
