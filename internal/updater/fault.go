package updater

import (
	"errors"
)

// Faults terminal for one install attempt. Each one, once recorded in the
// handoff session, is observed by both the producer and the consumer on
// their next wait; there is no automatic retry below the caller.
var (
	// ErrLengthExceeded: more bytes received than the target declared.
	ErrLengthExceeded = errors.New("transfer length exceeds declared target length")

	// ErrTransport: the fetch finished with a non-success transport status
	// or failed mid-stream.
	ErrTransport = errors.New("transport failure")

	// ErrIntegrity: the digest over the delivered bytes does not match the
	// target's expected digest.
	ErrIntegrity = errors.New("image integrity mismatch")

	// ErrEngineStart: the installer engine refused to start.
	ErrEngineStart = errors.New("installer engine start failed")

	// ErrEngineAbort: the engine reported failure independent of the
	// transfer.
	ErrEngineAbort = errors.New("installer engine aborted")

	// ErrCancelled: the flow-control token was signalled between chunks.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrRollback: after a detected reboot the running image digest does
	// not match the installed update.
	ErrRollback = errors.New("rollback detected")

	// ErrUnsupportedTarget: the target cannot be consumed by this engine.
	ErrUnsupportedTarget = errors.New("unsupported target type")
)

// faultKind maps a fault to its metrics label.
func faultKind(err error) string {
	switch {
	case errors.Is(err, ErrLengthExceeded):
		return "length_exceeded"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrIntegrity):
		return "integrity"
	case errors.Is(err, ErrEngineStart):
		return "engine_start"
	case errors.Is(err, ErrEngineAbort):
		return "engine_abort"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrRollback):
		return "rollback"
	case errors.Is(err, ErrUnsupportedTarget):
		return "unsupported_target"
	default:
		return "other"
	}
}
