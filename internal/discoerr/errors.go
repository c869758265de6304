// Package discoerr collects the error taxonomy shared by the scheduler,
// the computation client and the reference agent: validation failures at
// construction time, transport timeouts on RPCs, and protocol errors on
// malformed or unauthorized messages.
package discoerr

import "errors"

// Sentinel categories. Call sites wrap these with fmt.Errorf("%w: ...")
// so callers can still errors.Is against the category.
var (
	// ErrValidation marks a constructor-time rejection: a bad pulse
	// interval, a bad timeout, a non-existent or unreadable xfer file.
	// Duplicate component names are dropped, not rejected.
	ErrValidation = errors.New("discoro: validation error")

	// ErrTransportTimeout marks an RPC that failed to receive an
	// acknowledgment within its deadline. Callers treat this the same
	// as a nil/-1 reply; no rollback is attempted.
	ErrTransportTimeout = errors.New("discoro: transport timeout")

	// ErrProtocol marks an unexpected message shape or an auth
	// mismatch. It is always logged and dropped, never fatal to the
	// scheduler process.
	ErrProtocol = errors.New("discoro: protocol error")

	// ErrFileTransfer marks a non-zero reply to a file send, which
	// aborts bootstrap and closes the server that failed it.
	ErrFileTransfer = errors.New("discoro: file transfer error")

	// ErrNoComputation is returned by operations that require an
	// active computation when none is set.
	ErrNoComputation = errors.New("discoro: no active computation")

	// ErrClosed marks use of a handle (transport connection, agent,
	// computation) after it has been closed.
	ErrClosed = errors.New("discoro: closed")
)
