package engine

import (
	"context"
	"errors"
	"io"

	"github.com/autopeer-io/fwagent/pkg/log"
)

// Status codes emitted by the loopback engine.
const (
	StatusStarted  = 1
	StatusProgress = 2
	StatusDone     = 3
	StatusFailure  = 4
)

// Loopback is an in-process engine that drains the pull callback into a
// writer. It is used by the simulate command and by tests; a production
// deployment swaps in the IPC-backed engine of the flashing stack.
type Loopback struct {
	// Sink receives the image bytes. Defaults to io.Discard.
	Sink io.Writer
}

var _ Engine = (*Loopback)(nil)

func (l *Loopback) Start(ctx context.Context, req Request, cb Callbacks) error {
	if cb.Pull == nil || cb.Done == nil {
		return errors.New("loopback engine: pull and done callbacks are required")
	}

	sink := l.Sink
	if sink == nil {
		sink = io.Discard
	}

	go l.run(req, cb, sink)
	return nil
}

func (l *Loopback) run(req Request, cb Callbacks, sink io.Writer) {
	notify := cb.Status
	if notify == nil {
		notify = func(int, string) {}
	}

	notify(StatusStarted, "stream opened")

	var written uint64
	for written < req.Size {
		frame, n := cb.Pull()
		if n < 0 {
			notify(StatusFailure, "stream aborted by producer")
			cb.Done(false)
			return
		}
		if n == 0 {
			continue
		}

		if _, err := sink.Write(frame[:n]); err != nil {
			log.Error(err, "Loopback engine sink write failed", "image", req.Filename)
			notify(StatusFailure, "sink write failed")
			cb.Done(false)
			return
		}
		written += uint64(n)
		notify(StatusProgress, "frame consumed")
	}

	notify(StatusDone, "image consumed")
	cb.Done(true)
}
