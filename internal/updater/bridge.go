package updater

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/fwagent/internal/engine"
	"github.com/autopeer-io/fwagent/internal/fetcher"
	"github.com/autopeer-io/fwagent/pkg/log"
)

// completion is the one-shot latch resolved by the engine's Done callback.
// It is deliberately a separate synchronization point from the handoff
// slot's wait/notify pair.
type completion struct {
	ch chan bool
}

func newCompletion() *completion {
	return &completion{ch: make(chan bool, 1)}
}

// resolve records the engine verdict. The engine contract says Done fires
// exactly once per attempt; the buffered channel keeps a misbehaving
// double-fire from blocking the engine's thread.
func (c *completion) resolve(ok bool) {
	select {
	case c.ch <- ok:
	default:
	}
}

// Bridge connects one install attempt to the external engine: it starts
// the engine with callbacks backed by the handoff session, runs the
// download driver, and blocks the caller until the engine reports.
type Bridge struct {
	engine engine.Engine
	fetch  fetcher.Interface
	log    log.Logger

	// OnProgress, when set, receives whole-percent transfer progress, each
	// step at most once per attempt.
	OnProgress func(percent int)
}

// NewBridge creates a Bridge over the given engine and fetch collaborators.
func NewBridge(eng engine.Engine, fetch fetcher.Interface) *Bridge {
	return &Bridge{
		engine: eng,
		fetch:  fetch,
		log:    log.WithName("bridge"),
	}
}

// Install runs one attempt to stream target into the engine. It returns
// NeedCompletion when the engine accepted the full, digest-verified image,
// and InstallFailed otherwise. It never terminates the process; every
// fault surfaces as an ordinary result.
func (b *Bridge) Install(ctx context.Context, target Target, token *Token) Result {
	sess, err := newSession(target)
	if err != nil {
		return installFailed(err)
	}

	done := newCompletion()
	cb := engine.Callbacks{
		Pull: func() ([]byte, int) {
			frame, err := sess.Pull()
			if err != nil {
				// Abort is signalled to the engine with the negative
				// sentinel, never by tearing anything down from here.
				b.log.Error(err, "Aborting engine stream")
				return nil, engine.AbortStream
			}
			return frame, len(frame)
		},
		Status: func(code int, message string) {
			b.log.Info("Engine status", "code", code, "message", message)
		},
		Done: func(ok bool) {
			done.resolve(ok)
		},
	}

	req := engine.Request{
		Filename: target.Filename,
		Size:     target.Length,
	}
	if err := b.engine.Start(ctx, req, cb); err != nil {
		// Short-circuit: the driver never starts.
		return installFailed(fmt.Errorf("%w: %v", ErrEngineStart, err))
	}

	d := &driver{
		fetch:     b.fetch,
		sess:      sess,
		token:     token,
		uri:       target.URI,
		log:       b.log,
		onPercent: b.OnProgress,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.run(gctx)
	})

	// Wait on the completion latch. On context cancellation the fault is
	// latched so both sides unwind, then the engine verdict is still
	// awaited: Done fires exactly once per started attempt.
	var engineOK bool
	select {
	case engineOK = <-done.ch:
	case <-ctx.Done():
		sess.Fail(fmt.Errorf("%w: %v", ErrCancelled, ctx.Err()))
		engineOK = <-done.ch
	}

	// The verdict ends the attempt. Latch the terminal condition before the
	// join so a producer still parked in the handoff is woken; Fail keeps
	// any earlier fault, so the root cause is never overwritten.
	if !engineOK {
		sess.Fail(fmt.Errorf("%w: engine reported failure", ErrEngineAbort))
	} else if delivered := sess.Delivered(); delivered != target.Length {
		sess.Fail(fmt.Errorf("%w: engine completed at %d of %d bytes, digest unverified",
			ErrIntegrity, delivered, target.Length))
	}

	// Join the driver so late transport faults are observed.
	driverErr := g.Wait()

	if fault := sess.Fault(); fault != nil {
		return installFailed(fault)
	}
	if driverErr != nil {
		return installFailed(driverErr)
	}

	b.log.Info("Image transferred and verified", "image", target.Filename, "bytes", target.Length)
	return needCompletion("image staged successfully, reboot required to apply")
}
