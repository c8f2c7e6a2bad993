package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/autopeer-io/fwagent/pkg/log"
)

// chunkSize is the read buffer handed to the chunk callback. SWUpdate-class
// engines digest frames of this order comfortably.
const chunkSize = 64 * 1024

// HTTP streams firmware images over plain HTTP(S).
type HTTP struct {
	client *http.Client
}

var _ Interface = (*HTTP)(nil)

// NewHTTP creates an HTTP fetcher. A zero timeout disables the overall
// request timeout; per-attempt deadlines belong to the caller's context.
func NewHTTP(timeout time.Duration) *HTTP {
	return &HTTP{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (h *HTTP) Fetch(ctx context.Context, uri string, onChunk ChunkFunc, onProgress ProgressFunc, offset int64) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build request for %s: %w", uri, err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s: %w", uri, err)
	}
	defer resp.Body.Close()

	log.Debug("Fetch started", "uri", uri, "status", resp.StatusCode, "offset", offset)

	// The body is streamed regardless of status so the caller observes the
	// same byte flow the transport produced; the status travels in Result.
	if err := streamBody(resp.Body, resp.ContentLength, offset, onChunk, onProgress); err != nil {
		return Result{StatusCode: resp.StatusCode}, err
	}

	return Result{StatusCode: resp.StatusCode}, nil
}

// streamBody pumps body chunks into onChunk, honoring back-pressure: no
// read happens while onChunk runs.
func streamBody(body io.Reader, contentLength, offset int64, onChunk ChunkFunc, onProgress ProgressFunc) error {
	total := int64(-1)
	if contentLength >= 0 {
		total = contentLength + offset
	}

	fetched := offset
	buf := make([]byte, chunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if cbErr := onChunk(buf[:n]); cbErr != nil {
				return cbErr
			}
			fetched += int64(n)
			if onProgress != nil {
				onProgress(fetched, total)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
	}
}
