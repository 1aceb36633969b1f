// Package license implements the core entitlement model: license key
// generation, expiry policy, and the activation/verification state machine.
//
// Everything in this package is pure with respect to persistence. Transitions
// mutate an in-memory Customer record and report their outcome as typed
// errors; durably applying a transition is the store's job, which runs the
// transition inside its atomic update. Status is always recomputed from the
// ban flag and the expiry timestamp at every transition, so the persisted
// status field is a display cache, never an input to a business decision.
package license
