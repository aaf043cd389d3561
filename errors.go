package openalo

import "errors"

// Error kinds surfaced by the public surface. Wrapped errors keep the
// underlying cause in the chain, so errors.Is works against both the
// kind and engine-level sentinels.
var (
	// ErrPermissionDenied reports an explicit user decline, or any
	// failure of a device or source grant step.
	ErrPermissionDenied = errors.New("openalo: permission denied")

	// ErrSessionFailed reports a session negotiation failure not
	// caused by an explicit decline: timeouts, cancellations, broker
	// errors.
	ErrSessionFailed = errors.New("openalo: session failed")

	// ErrCaptureFailed reports a frame acquisition failure, including
	// a capture that timed out or a dead decode pipeline.
	ErrCaptureFailed = errors.New("openalo: capture failed")

	// ErrInputFailed reports a failed input event dispatch.
	ErrInputFailed = errors.New("openalo: input failed")

	// ErrNotActive reports an operation that needs an initialized,
	// active session, or a capability the session was not initialized
	// with.
	ErrNotActive = errors.New("openalo: session not active")
)
