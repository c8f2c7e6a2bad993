package fetcher

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPFetchStreamsBody(t *testing.T) {
	payload := make([]byte, 200*1024)
	if _, err := rand.Read(payload); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	var got bytes.Buffer
	var lastFetched int64
	res, err := NewHTTP(10*time.Second).Fetch(context.Background(), srv.URL,
		func(p []byte) error {
			got.Write(p)
			return nil
		},
		func(fetched, total int64) {
			if fetched < lastFetched {
				t.Errorf("progress went backwards: %d -> %d", lastFetched, fetched)
			}
			lastFetched = fetched
		},
		0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !res.Success() {
		t.Fatalf("unexpected status %d", res.StatusCode)
	}
	if !bytes.Equal(got.Bytes(), payload) {
		t.Fatalf("body mismatch: got %d bytes, want %d", got.Len(), len(payload))
	}
	if lastFetched != int64(len(payload)) {
		t.Errorf("final progress = %d, want %d", lastFetched, len(payload))
	}
}

func TestHTTPFetchSurfacesNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("try again later"))
	}))
	defer srv.Close()

	var got bytes.Buffer
	res, err := NewHTTP(10*time.Second).Fetch(context.Background(), srv.URL,
		func(p []byte) error {
			got.Write(p)
			return nil
		}, nil, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Success() {
		t.Fatal("expected non-success result")
	}
	// The body is still streamed; the status decides the verdict.
	if got.Len() == 0 {
		t.Error("expected error body to be streamed to the chunk callback")
	}
}

func TestHTTPFetchChunkErrorStopsRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 1024*1024))
	}))
	defer srv.Close()

	sentinel := errors.New("stop")
	calls := 0
	_, err := NewHTTP(10*time.Second).Fetch(context.Background(), srv.URL,
		func(p []byte) error {
			calls++
			return sentinel
		}, nil, 0)
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}
	if calls != 1 {
		t.Errorf("chunk callback ran %d times after error, want 1", calls)
	}
}

func TestHTTPFetchSendsRangeHeader(t *testing.T) {
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer srv.Close()

	res, err := NewHTTP(10*time.Second).Fetch(context.Background(), srv.URL,
		func(p []byte) error { return nil }, nil, 4096)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotRange != "bytes=4096-" {
		t.Errorf("Range header = %q, want %q", gotRange, "bytes=4096-")
	}
	if !res.Success() {
		t.Errorf("206 should count as success, got status %d", res.StatusCode)
	}
}
