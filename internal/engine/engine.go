// Package engine defines the contract with the external image-flashing
// engine. The engine consumes the firmware stream through a synchronous
// pull callback and reports completion exactly once per attempt.
package engine

import (
	"context"
)

// AbortStream is the sentinel count a Pull callback returns to make the
// engine abort the current stream. The engine must treat it as a stream
// failure, not a reason to terminate the process.
const AbortStream = -1

// Request describes the image offered to the engine for one attempt.
type Request struct {
	// Filename is the artifact name, used by the engine for logging and
	// handler selection.
	Filename string

	// Size is the declared image length in bytes.
	Size uint64

	// DryRun asks the engine to parse and verify the stream without
	// touching any partition.
	DryRun bool
}

// Callbacks are invoked from execution contexts owned by the engine.
// None of them may block forever once the attempt has faulted, and none
// of them may terminate the process.
type Callbacks struct {
	// Pull returns the next frame of image data and its length, or
	// (nil, AbortStream) to abort. It blocks until data is available.
	Pull func() ([]byte, int)

	// Status receives engine progress and log notifications. Best-effort;
	// the engine ignores its behavior entirely.
	Status func(code int, message string)

	// Done reports the final engine verdict, exactly once per attempt.
	Done func(ok bool)
}

// Engine starts an installation asynchronously. A non-nil error from Start
// means nothing was started and Done will never be called.
type Engine interface {
	Start(ctx context.Context, req Request, cb Callbacks) error
}
