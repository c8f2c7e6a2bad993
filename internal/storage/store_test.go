package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/autopeer-io/fwagent/internal/updater"
)

func testTarget(name string) updater.Target {
	return updater.Target{
		Filename: name,
		Length:   1024,
		URI:      "http://repo.local/" + name,
		Digests:  []updater.Digest{{Alg: updater.SHA256, Value: "aa"}},
	}
}

func TestFileVersionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir, filepath.Join(dir, "packages"))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}

	if _, ok, err := f.LoadPrimaryInstalledVersion(); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v, want no version", ok, err)
	}
	if _, ok, err := f.LoadPendingVersion(); err != nil || ok {
		t.Fatalf("empty store: pending ok=%v err=%v, want none", ok, err)
	}

	if err := f.SavePendingVersion(testTarget("v2.swu")); err != nil {
		t.Fatalf("SavePendingVersion: %v", err)
	}
	if err := f.SavePrimaryInstalledVersion(testTarget("v1.swu")); err != nil {
		t.Fatalf("SavePrimaryInstalledVersion: %v", err)
	}

	// A fresh store over the same directory sees the persisted state.
	g, err := NewFile(dir, "")
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	cur, ok, err := g.LoadPrimaryInstalledVersion()
	if err != nil || !ok || cur.Filename != "v1.swu" {
		t.Fatalf("current = %+v ok=%v err=%v, want v1.swu", cur, ok, err)
	}
	pend, ok, err := g.LoadPendingVersion()
	if err != nil || !ok || pend.Filename != "v2.swu" {
		t.Fatalf("pending = %+v ok=%v err=%v, want v2.swu", pend, ok, err)
	}

	if err := g.ClearPendingVersion(); err != nil {
		t.Fatalf("ClearPendingVersion: %v", err)
	}
	if _, ok, _ := g.LoadPendingVersion(); ok {
		t.Fatal("pending version survived ClearPendingVersion")
	}
	if cur, ok, _ := g.LoadPrimaryInstalledVersion(); !ok || cur.Filename != "v1.swu" {
		t.Fatal("current version lost when clearing pending")
	}
}

func TestFileInstalledPackages(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "packages")
	content := "base-files 3.0.14\n\nbusybox 1.36.1\nkernel-image 6.6.23\n"
	if err := os.WriteFile(manifest, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	f, err := NewFile(dir, manifest)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	pkgs, err := f.InstalledPackages()
	if err != nil {
		t.Fatalf("InstalledPackages: %v", err)
	}
	want := []updater.Package{
		{Name: "base-files", Version: "3.0.14"},
		{Name: "busybox", Version: "1.36.1"},
		{Name: "kernel-image", Version: "6.6.23"},
	}
	if len(pkgs) != len(want) {
		t.Fatalf("got %d packages, want %d", len(pkgs), len(want))
	}
	for i := range want {
		if pkgs[i] != want[i] {
			t.Fatalf("package %d = %+v, want %+v", i, pkgs[i], want[i])
		}
	}
}

func TestFileInstalledPackagesMalformedLine(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "packages")
	if err := os.WriteFile(manifest, []byte("busybox 1.36.1\nbroken-line-without-version\n"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	f, err := NewFile(dir, manifest)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if _, err := f.InstalledPackages(); err == nil {
		t.Fatal("malformed manifest line not reported")
	}
}

func TestFileInstalledPackagesMissingManifest(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir, filepath.Join(dir, "does-not-exist"))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	pkgs, err := f.InstalledPackages()
	if err != nil {
		t.Fatalf("InstalledPackages: %v", err)
	}
	if len(pkgs) != 0 {
		t.Fatalf("got %d packages from a missing manifest, want none", len(pkgs))
	}
}
