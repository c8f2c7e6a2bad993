package fetcher

import (
	"context"
	"fmt"
	"strings"
)

// Mux routes a fetch to the fetcher owning the URI scheme. s3:// goes to
// the object-store fetcher when one is configured; everything else is
// handled over HTTP.
type Mux struct {
	HTTP Interface
	S3   Interface
}

var _ Interface = (*Mux)(nil)

func (m *Mux) Fetch(ctx context.Context, uri string, onChunk ChunkFunc, onProgress ProgressFunc, offset int64) (Result, error) {
	if strings.HasPrefix(uri, "s3://") {
		if m.S3 == nil {
			return Result{}, fmt.Errorf("target %q requires an object-store fetcher, none configured", uri)
		}
		return m.S3.Fetch(ctx, uri, onChunk, onProgress, offset)
	}
	return m.HTTP.Fetch(ctx, uri, onChunk, onProgress, offset)
}
