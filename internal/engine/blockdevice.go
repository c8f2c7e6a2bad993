package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/autopeer-io/fwagent/pkg/log"
)

// BlockDevice is an engine that writes the image straight to a device node
// or file, syncing before it reports success. It is the default engine of
// the agent on devices flashed by raw copy.
type BlockDevice struct {
	// Path is the device node or file receiving the image.
	Path string

	log log.Logger
}

var _ Engine = (*BlockDevice)(nil)

// NewBlockDevice creates a BlockDevice engine writing to path.
func NewBlockDevice(path string) *BlockDevice {
	return &BlockDevice{
		Path: path,
		log:  log.WithName("engine"),
	}
}

func (b *BlockDevice) Start(ctx context.Context, req Request, cb Callbacks) error {
	if cb.Pull == nil || cb.Done == nil {
		return errors.New("block device engine: pull and done callbacks are required")
	}
	if b.Path == "" {
		return errors.New("block device engine: no target path configured")
	}

	// A dry run must not touch the target.
	path := b.Path
	if req.DryRun {
		path = os.DevNull
	}

	// Open before reporting started, so a bad path fails the attempt
	// without consuming any bytes.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open target %s: %w", path, err)
	}

	go b.run(req, cb, f)
	return nil
}

func (b *BlockDevice) run(req Request, cb Callbacks, f *os.File) {
	notify := cb.Status
	if notify == nil {
		notify = func(int, string) {}
	}

	fail := func(msg string) {
		f.Close()
		notify(StatusFailure, msg)
		cb.Done(false)
	}

	notify(StatusStarted, fmt.Sprintf("writing %s to %s", req.Filename, b.Path))

	var written uint64
	for written < req.Size {
		frame, n := cb.Pull()
		if n < 0 {
			fail("stream aborted by producer")
			return
		}
		if n == 0 {
			continue
		}

		if _, err := f.Write(frame[:n]); err != nil {
			b.log.Error(err, "Writing image to target failed", "path", b.Path)
			fail("target write failed")
			return
		}
		written += uint64(n)
		notify(StatusProgress, "frame written")
	}

	// A dry run writes to the null device, where fsync fails with EINVAL
	// and there is nothing to persist anyway.
	if !req.DryRun {
		if err := f.Sync(); err != nil {
			b.log.Error(err, "Syncing target failed", "path", b.Path)
			fail("target sync failed")
			return
		}
	}
	if err := f.Close(); err != nil {
		notify(StatusFailure, "target close failed")
		cb.Done(false)
		return
	}

	notify(StatusDone, "image written")
	cb.Done(true)
}
