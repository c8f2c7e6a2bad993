package updater

import (
	"context"
	"fmt"

	"github.com/autopeer-io/fwagent/internal/fetcher"
	"github.com/autopeer-io/fwagent/internal/pkg/metrics"
	"github.com/autopeer-io/fwagent/pkg/log"
)

// driver runs the network fetch for one attempt, feeding each chunk into
// the handoff session. It runs concurrently with the engine consumer and
// must be joined before the attempt outcome is reported, so a transport
// failure discovered after the last chunk is not dropped.
type driver struct {
	fetch fetcher.Interface
	sess  *session
	token *Token
	uri   string
	log   log.Logger

	// onPercent, when set, is invoked at whole-percent steps.
	onPercent   func(percent int)
	lastPercent int
}

// run performs the fetch. Any terminal condition is latched into the
// session before returning; the returned error mirrors the latched fault
// for the joining errgroup.
func (d *driver) run(ctx context.Context) error {
	res, err := d.fetch.Fetch(ctx, d.uri, d.onChunk, d.onProgress, 0)
	if err != nil {
		// Faults raised inside Push come back through the chunk callback
		// and are already latched; Fail keeps the first one either way.
		return d.sess.Fail(fmt.Errorf("%w: %v", ErrTransport, err))
	}

	if !res.Success() {
		d.log.Error(nil, "Download finished with non-success transport status", "status", res.StatusCode, "uri", d.uri)
		return d.sess.Fail(fmt.Errorf("%w: transport status %d", ErrTransport, res.StatusCode))
	}

	return d.sess.Fault()
}

// onChunk is the fetcher chunk callback: poll the flow-control token, then
// hand the frame to the consumer. Returning an error stops the fetch.
func (d *driver) onChunk(p []byte) error {
	if d.token.Aborted() {
		return d.sess.Fail(fmt.Errorf("%w: flow-control token signalled", ErrCancelled))
	}
	return d.sess.Push(p)
}

// onProgress mirrors transfer progress into the gauge and reports each
// whole-percent step at most once.
func (d *driver) onProgress(fetched, total int64) {
	if total <= 0 {
		return
	}
	metrics.TransferProgress.Set(float64(fetched*100) / float64(total))

	percent := int(fetched * 100 / total)
	if d.onPercent != nil && percent > d.lastPercent {
		d.lastPercent = percent
		d.onPercent(percent)
	}
}
