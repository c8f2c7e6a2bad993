package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestBlockDeviceWritesImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slot-b.img")
	done := make(chan bool, 1)

	eng := NewBlockDevice(path)
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

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(data) != "foobar" {
		t.Fatalf("target content = %q, want %q", data, "foobar")
	}
}

func TestBlockDeviceDryRunLeavesTargetAlone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slot-b.img")
	if err := os.WriteFile(path, []byte("previous image"), 0o600); err != nil {
		t.Fatal(err)
	}
	done := make(chan bool, 1)

	eng := NewBlockDevice(path)
	err := eng.Start(context.Background(), Request{Size: 3, DryRun: true}, Callbacks{
		Pull: feed([][]byte{[]byte("new")}, AbortStream),
		Done: func(ok bool) { done <- ok },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !await(t, done) {
		t.Fatal("dry run reported failure")
	}

	data, _ := os.ReadFile(path)
	if string(data) != "previous image" {
		t.Fatalf("dry run modified the target: %q", data)
	}
}

func TestBlockDeviceBadPathFailsStart(t *testing.T) {
	eng := NewBlockDevice(filepath.Join(t.TempDir(), "missing", "nested", "img"))
	err := eng.Start(context.Background(), Request{Size: 1}, Callbacks{
		Pull: feed(nil, AbortStream),
		Done: func(bool) {},
	})
	if err == nil {
		t.Fatal("Start succeeded with an unwritable target path")
	}
}
