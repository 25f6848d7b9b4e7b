// Package common provides shared constants, types, utilities, and the
// error taxonomy used throughout the G15 configuration controller.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: D-Bus names, store layout root, file names and timeouts
//   - Errors: sentinel and typed errors checked with errors.Is
//   - Logger: leveled logging with optional rotated file output
//   - Color: the "R,G,B" text form colours take in the configuration store
//   - Utils: directory helpers and small slice utilities
//
// # Errors
//
// Conflict and precondition failures are expected, user-facing outcomes:
//
//	if errors.Is(err, common.ErrConflict) {
//	    // keys already bound by another macro in this bank
//	}
//
// Store and transport failures wrap as BackendUnavailableError and match
// common.ErrBackendUnavailable.
package common
