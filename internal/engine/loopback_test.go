package engine

import (
	"bytes"
	"context"
	"testing"
	"time"
)

// feed returns a Pull callback replaying frames, then the tail value.
func feed(frames [][]byte, tail int) func() ([]byte, int) {
	i := 0
	return func() ([]byte, int) {
		if i < len(frames) {
			f := frames[i]
			i++
			return f, len(f)
		}
		return nil, tail
	}
}

func await(t *testing.T, done chan bool) bool {
	t.Helper()
	select {
	case ok := <-done:
		return ok
	case <-time.After(5 * time.Second):
		t.Fatal("engine never reported completion")
		return false
	}
}

func TestLoopbackDrainsStream(t *testing.T) {
	var sink bytes.Buffer
	done := make(chan bool, 1)

	eng := &Loopback{Sink: &sink}
	err := eng.Start(context.Background(), Request{Filename: "img", Size: 6}, Callbacks{
		Pull: feed([][]byte{[]byte("foo"), []byte("bar")}, AbortStream),
		Done: func(ok bool) { done <- ok },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !await(t, done) {
		t.Fatal("engine reported failure")
	}
	if sink.String() != "foobar" {
		t.Fatalf("sink = %q, want %q", sink.String(), "foobar")
	}
}

func TestLoopbackAbortSentinel(t *testing.T) {
	done := make(chan bool, 1)
	var statuses []int

	eng := &Loopback{}
	err := eng.Start(context.Background(), Request{Size: 16}, Callbacks{
		Pull:   feed([][]byte{[]byte("partial")}, AbortStream),
		Status: func(code int, _ string) { statuses = append(statuses, code) },
		Done:   func(ok bool) { done <- ok },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if await(t, done) {
		t.Fatal("aborted stream reported success")
	}
}

func TestLoopbackRequiresCallbacks(t *testing.T) {
	eng := &Loopback{}
	if err := eng.Start(context.Background(), Request{}, Callbacks{}); err == nil {
		t.Fatal("Start accepted empty callbacks")
	}
}
