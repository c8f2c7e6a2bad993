// Package fetcher defines the network fetch collaborator: a streaming
// download that hands chunks to a callback with back-pressure.
package fetcher

import (
	"context"
	"net/http"
)

// ChunkFunc receives one chunk of raw body bytes. The fetcher does not read
// more data until it returns; returning an error stops the fetch and the
// error is propagated out of Fetch.
type ChunkFunc func(p []byte) error

// ProgressFunc receives cumulative fetched bytes and the total expected
// length (-1 when unknown). Best-effort.
type ProgressFunc func(fetched, total int64)

// Result carries the transport-level outcome of a completed fetch.
// The body may have been streamed to the chunk callback even when the
// status is not a success; the caller decides what that means.
type Result struct {
	StatusCode int
}

// Success reports whether the transport finished with a success status.
func (r Result) Success() bool {
	return r.StatusCode == http.StatusOK || r.StatusCode == http.StatusPartialContent
}

// Interface is the fetch collaborator consumed by the download driver.
type Interface interface {
	// Fetch streams the resource at uri, starting at offset, into onChunk.
	// A non-nil error means the transfer did not complete; a nil error with
	// a non-success Result means the transport answered but refused.
	Fetch(ctx context.Context, uri string, onChunk ChunkFunc, onProgress ProgressFunc, offset int64) (Result, error)
}
