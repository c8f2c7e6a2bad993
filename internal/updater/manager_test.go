package updater_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/autopeer-io/fwagent/internal/bootloader"
	"github.com/autopeer-io/fwagent/internal/engine"
	"github.com/autopeer-io/fwagent/internal/storage"
	"github.com/autopeer-io/fwagent/internal/updater"
)

func newTestManager(t *testing.T, payload []byte) (*updater.Manager, *bootloader.Mock, *storage.Memory) {
	t.Helper()
	boot := bootloader.NewMock()
	store := storage.NewMemory()
	bridge := updater.NewBridge(&engine.Loopback{}, &fakeFetcher{chunks: chunked(payload, 512)})
	m, err := updater.NewManager(bridge, boot, store)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, boot, store
}

func TestManagerInstallStagesAndArmsMarker(t *testing.T) {
	payload := image(t, 1024)
	target := imageTarget(t, payload)
	m, boot, store := newTestManager(t, payload)

	res := m.Install(context.Background(), target, updater.NewToken())
	if res.Code != updater.ResultNeedCompletion {
		t.Fatalf("result = %v, want NeedCompletion", res)
	}
	if m.Phase() != updater.PhaseNeedCompletion {
		t.Fatalf("phase = %s, want NeedCompletion", m.Phase())
	}
	if !boot.RebootPending() {
		t.Fatal("reboot marker not armed after staging")
	}
	if _, ok, _ := store.LoadPendingVersion(); !ok {
		t.Fatal("pending version not persisted after staging")
	}
}

func TestManagerInstallRejectsConcurrentAttempt(t *testing.T) {
	payload := image(t, 1024)
	target := imageTarget(t, payload)
	m, _, _ := newTestManager(t, payload)

	if res := m.Install(context.Background(), target, updater.NewToken()); res.Code != updater.ResultNeedCompletion {
		t.Fatalf("first install = %v, want NeedCompletion", res)
	}
	// Staged update pending: a second install must not start.
	res := m.Install(context.Background(), target, updater.NewToken())
	if res.Code != updater.ResultInstallFailed {
		t.Fatalf("second install = %v, want InstallFailed", res)
	}
}

func TestManagerInstallFailureAllowsRetry(t *testing.T) {
	payload := image(t, 1024)
	target := imageTarget(t, payload)
	target.Digests[0].Value = strings.Repeat("ab", 32)
	m, boot, _ := newTestManager(t, payload)

	res := m.Install(context.Background(), target, updater.NewToken())
	if !errors.Is(res.Cause, updater.ErrIntegrity) {
		t.Fatalf("cause = %v, want ErrIntegrity", res.Cause)
	}
	if m.Phase() != updater.PhaseInstallFailed {
		t.Fatalf("phase = %s, want InstallFailed", m.Phase())
	}
	if boot.RebootPending() {
		t.Fatal("reboot marker armed after a failed attempt")
	}

	// A fresh attempt with a correct target starts cleanly.
	if res := m.Install(context.Background(), imageTarget(t, payload), updater.NewToken()); res.Code != updater.ResultNeedCompletion {
		t.Fatalf("retry = %v, want NeedCompletion", res)
	}
}

func TestManagerCompleteInstallReboots(t *testing.T) {
	payload := image(t, 1024)
	m, boot, _ := newTestManager(t, payload)

	if err := m.CompleteInstall(); err != nil {
		t.Fatalf("CompleteInstall: %v", err)
	}
	if boot.RebootCalls != 1 {
		t.Fatalf("RebootCalls = %d, want 1", boot.RebootCalls)
	}
}

func TestManagerFinalizeWithoutReboot(t *testing.T) {
	payload := image(t, 1024)
	target := imageTarget(t, payload)
	m, _, store := newTestManager(t, payload)

	if res := m.Install(context.Background(), target, updater.NewToken()); res.Code != updater.ResultNeedCompletion {
		t.Fatalf("install = %v, want NeedCompletion", res)
	}

	// No reboot happened: finalize reports NeedCompletion and mutates
	// nothing, any number of times.
	for i := 0; i < 3; i++ {
		res := m.FinalizeInstall(context.Background(), target)
		if res.Code != updater.ResultNeedCompletion {
			t.Fatalf("finalize #%d = %v, want NeedCompletion", i, res)
		}
	}
	if _, ok, _ := store.LoadPendingVersion(); !ok {
		t.Fatal("pending version lost without a reboot")
	}
	if m.Phase() != updater.PhaseNeedCompletion {
		t.Fatalf("phase = %s, want NeedCompletion", m.Phase())
	}
}

func TestManagerFinalizeConfirmsNewVersion(t *testing.T) {
	payload := image(t, 1024)
	target := imageTarget(t, payload)
	m, boot, store := newTestManager(t, payload)

	if res := m.Install(context.Background(), target, updater.NewToken()); res.Code != updater.ResultNeedCompletion {
		t.Fatalf("install = %v, want NeedCompletion", res)
	}
	boot.SimulateReboot("sha256", target.Digests[0].Value)

	res := m.FinalizeInstall(context.Background(), target)
	if res.Code != updater.ResultOk {
		t.Fatalf("finalize = %v, want Ok", res)
	}
	if m.Phase() != updater.PhaseOk {
		t.Fatalf("phase = %s, want Ok", m.Phase())
	}
	if boot.RebootPending() {
		t.Fatal("reboot marker not cleared after confirmation")
	}

	current, err := m.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if current.Filename != target.Filename {
		t.Fatalf("current = %q, want %q", current.Filename, target.Filename)
	}
	if _, ok, _ := store.LoadPendingVersion(); ok {
		t.Fatal("pending version not cleared after confirmation")
	}
}

func TestManagerFinalizeDetectsRollback(t *testing.T) {
	payload := image(t, 1024)
	target := imageTarget(t, payload)
	m, boot, _ := newTestManager(t, payload)

	if res := m.Install(context.Background(), target, updater.NewToken()); res.Code != updater.ResultNeedCompletion {
		t.Fatalf("install = %v, want NeedCompletion", res)
	}
	// The bootloader fell back: the old image is running after the reboot.
	boot.SimulateReboot("sha256", strings.Repeat("00", 32))

	res := m.FinalizeInstall(context.Background(), target)
	if !errors.Is(res.Cause, updater.ErrRollback) {
		t.Fatalf("cause = %v, want ErrRollback", res.Cause)
	}
	if m.Phase() != updater.PhaseInstallFailed {
		t.Fatalf("phase = %s, want InstallFailed", m.Phase())
	}
	if boot.RebootPending() {
		t.Fatal("reboot marker must be cleared even on rollback")
	}
}

func TestManagerFinalizeClearsMarkerOnRejectedTransition(t *testing.T) {
	payload := image(t, 256)
	target := imageTarget(t, payload)
	m, boot, _ := newTestManager(t, payload)

	// Marker armed out of band with nothing staged: the attempt machine
	// rejects finalize from Idle, but the detected reboot still consumes
	// the marker.
	if err := boot.UpdateNotify(); err != nil {
		t.Fatalf("UpdateNotify: %v", err)
	}
	boot.SimulateReboot("sha256", target.Digests[0].Value)

	res := m.FinalizeInstall(context.Background(), target)
	if res.Code != updater.ResultInstallFailed {
		t.Fatalf("finalize = %v, want InstallFailed", res)
	}
	if boot.RebootPending() {
		t.Fatal("reboot marker still armed after a rejected finalize")
	}
}

func TestManagerResumesPendingAttempt(t *testing.T) {
	payload := image(t, 1024)
	target := imageTarget(t, payload)

	boot := bootloader.NewMock()
	store := storage.NewMemory()
	if err := store.SavePendingVersion(target); err != nil {
		t.Fatalf("SavePendingVersion: %v", err)
	}
	if err := boot.UpdateNotify(); err != nil {
		t.Fatalf("UpdateNotify: %v", err)
	}
	boot.SimulateReboot("sha256", target.Digests[0].Value)

	bridge := updater.NewBridge(&engine.Loopback{}, &fakeFetcher{chunks: chunked(payload, 512)})
	m, err := updater.NewManager(bridge, boot, store)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if m.Phase() != updater.PhaseNeedCompletion {
		t.Fatalf("phase after restart = %s, want NeedCompletion", m.Phase())
	}

	if res := m.FinalizeInstall(context.Background(), target); res.Code != updater.ResultOk {
		t.Fatalf("finalize after restart = %v, want Ok", res)
	}
}

func TestManagerCurrentUnknownWhenNeverRecorded(t *testing.T) {
	m, _, _ := newTestManager(t, image(t, 256))
	current, err := m.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !current.Unknown() {
		t.Fatalf("current = %+v, want unknown", current)
	}
}
