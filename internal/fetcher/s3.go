package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/fwagent/pkg/log"
	"github.com/autopeer-io/fwagent/pkg/options"
)

// S3 streams firmware images straight from the fleet artifact bucket,
// for targets addressed as s3://{bucket}/{key}.
type S3 struct {
	client        *minio.Client
	defaultBucket string
}

var _ Interface = (*S3)(nil)

// NewS3 creates an S3 fetcher from the shared S3 options.
func NewS3(opts *options.S3Options) (*S3, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &S3{
		client:        client,
		defaultBucket: opts.BucketName,
	}, nil
}

func (s *S3) Fetch(ctx context.Context, uri string, onChunk ChunkFunc, onProgress ProgressFunc, offset int64) (Result, error) {
	bucket, key, err := s.splitURI(uri)
	if err != nil {
		return Result{}, err
	}

	getOpts := minio.GetObjectOptions{}
	if offset > 0 {
		if err := getOpts.SetRange(offset, 0); err != nil {
			return Result{}, fmt.Errorf("set range on %s: %w", uri, err)
		}
	}

	obj, err := s.client.GetObject(ctx, bucket, key, getOpts)
	if err != nil {
		return Result{}, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	stat, err := obj.Stat()
	if err != nil {
		// Object missing or inaccessible: surface as a transport status so
		// the caller records a transport fault, mirroring the HTTP path.
		resp := minio.ToErrorResponse(err)
		if resp.StatusCode != 0 {
			return Result{StatusCode: resp.StatusCode}, nil
		}
		return Result{}, fmt.Errorf("stat object %s/%s: %w", bucket, key, err)
	}

	log.Debug("Fetch started", "bucket", bucket, "key", key, "size", stat.Size, "offset", offset)

	if err := streamBody(io.Reader(obj), stat.Size, offset, onChunk, onProgress); err != nil {
		return Result{StatusCode: http.StatusOK}, err
	}

	return Result{StatusCode: http.StatusOK}, nil
}

// splitURI resolves "s3://bucket/key" URIs; a bare "s3:///key" or
// non-URI key falls back to the configured default bucket.
func (s *S3) splitURI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		if s.defaultBucket == "" {
			return "", "", fmt.Errorf("no bucket configured for object key %q", uri)
		}
		return s.defaultBucket, strings.TrimPrefix(uri, "/"), nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid s3 uri %q: %w", uri, err)
	}

	bucket = u.Host
	if bucket == "" {
		bucket = s.defaultBucket
	}
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 uri %q: bucket and key are required", uri)
	}
	return bucket, key, nil
}
