package updater

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/autopeer-io/fwagent/internal/bootloader"
	"github.com/autopeer-io/fwagent/internal/pkg/metrics"
	"github.com/autopeer-io/fwagent/pkg/log"
)

// Package is one installed software package, as reported to the fleet
// backend.
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// VersionStore persists the device's installed and pending versions across
// reboots and process restarts.
type VersionStore interface {
	// LoadPrimaryInstalledVersion returns the confirmed running version,
	// with ok=false when the device has never recorded one.
	LoadPrimaryInstalledVersion() (Target, bool, error)

	// LoadPendingVersion returns the staged-but-unconfirmed version, with
	// ok=false when no update is pending.
	LoadPendingVersion() (Target, bool, error)

	SavePrimaryInstalledVersion(Target) error
	SavePendingVersion(Target) error
	ClearPendingVersion() error

	// InstalledPackages lists the package manifest of the running system.
	InstalledPackages() ([]Package, error)
}

// Manager owns the whole update lifecycle for one device: it runs install
// attempts through the Bridge, arms the bootloader for the completion
// reboot and verifies the outcome on the other side.
type Manager struct {
	bridge *Bridge
	boot   bootloader.Interface
	store  VersionStore
	log    log.Logger

	mu      sync.Mutex
	attempt *Attempt
}

// NewManager wires a Manager over its collaborators. The attempt machine
// starts at NeedCompletion when a pending version is already on record, so
// a restart mid-update resumes where it left off.
func NewManager(bridge *Bridge, boot bootloader.Interface, store VersionStore) (*Manager, error) {
	initial := PhaseIdle
	if _, ok, err := store.LoadPendingVersion(); err != nil {
		return nil, fmt.Errorf("load pending version: %w", err)
	} else if ok {
		initial = PhaseNeedCompletion
	}

	return &Manager{
		bridge:  bridge,
		boot:    boot,
		store:   store,
		log:     log.WithName("updater"),
		attempt: NewAttemptAt(initial),
	}, nil
}

// Phase returns the current attempt phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt.Phase()
}

// Install runs one install attempt for target. A second concurrent call,
// or a call while an update is already staged, fails without touching the
// running attempt.
func (m *Manager) Install(ctx context.Context, target Target, token *Token) Result {
	m.mu.Lock()
	if m.attempt.Phase() == PhaseInstallFailed || m.attempt.Phase() == PhaseOk {
		m.attempt = NewAttempt()
	}
	if err := m.attempt.Fire(ctx, EventStart); err != nil {
		m.mu.Unlock()
		return installFailed(fmt.Errorf("install not possible: %w", err))
	}
	m.mu.Unlock()

	m.log.Info("Starting install attempt", "image", target.Filename, "length", target.Length, "uri", target.URI)
	res := m.bridge.Install(ctx, target, token)

	m.mu.Lock()
	defer m.mu.Unlock()

	if res.Code == ResultNeedCompletion {
		if err := m.stagePending(target); err != nil {
			res = installFailed(err)
		} else if err := m.attempt.Fire(ctx, EventStaged); err != nil {
			res = installFailed(err)
		}
	}
	if res.Code == ResultInstallFailed {
		if err := m.attempt.Fire(ctx, EventFail); err != nil {
			m.log.Error(err, "Attempt machine rejected failure transition")
		}
		m.log.Error(res.Cause, "Install attempt failed", "image", target.Filename)
	}

	metrics.InstallAttempts.WithLabelValues(res.Code.label()).Inc()
	return res
}

// stagePending persists the staged version and arms the bootloader reboot
// marker. Either failing downgrades the attempt: a staged image the agent
// cannot verify after reboot is worse than a clean failure.
func (m *Manager) stagePending(target Target) error {
	if err := m.store.SavePendingVersion(target); err != nil {
		return fmt.Errorf("save pending version: %w", err)
	}
	if err := m.boot.UpdateNotify(); err != nil {
		return fmt.Errorf("arm reboot marker: %w", err)
	}
	return nil
}

// CompleteInstall reboots the device so the staged update takes effect.
func (m *Manager) CompleteInstall() error {
	m.log.Info("About to reboot the system in order to apply pending updates...")
	return m.boot.Reboot()
}

// FinalizeInstall verifies a staged update after the device comes back up.
// Without an intervening reboot it reports NeedCompletion and changes
// nothing. After a reboot the running image digest decides between Ok and
// a rollback failure; the reboot marker is cleared in both cases so the
// verdict is delivered exactly once.
func (m *Manager) FinalizeInstall(ctx context.Context, target Target) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	detected, err := m.boot.RebootDetected()
	if err != nil {
		return installFailed(fmt.Errorf("reboot detection: %w", err))
	}
	if !detected {
		return needCompletion("reboot is required for the pending update application")
	}

	// A detected reboot consumes the marker no matter how finalize ends.
	defer func() {
		if err := m.boot.RebootFlagClear(); err != nil {
			m.log.Error(err, "Clearing reboot marker failed")
		}
	}()

	if err := m.attempt.Fire(ctx, EventFinalize); err != nil {
		return installFailed(err)
	}

	expected, err := target.PrimaryDigest()
	if err != nil {
		m.fireLocked(ctx, EventFail)
		return installFailed(err)
	}
	running, err := m.boot.RunningImageDigest(string(expected.Alg))
	if err != nil {
		m.fireLocked(ctx, EventFail)
		return installFailed(fmt.Errorf("read running image digest: %w", err))
	}

	if !strings.EqualFold(running, expected.Value) {
		m.fireLocked(ctx, EventRollback)
		m.log.Error(nil, "Device booted on unexpected image", "expected", expected.Value, "running", running)
		return installFailed(fmt.Errorf("%w: expected %s %s, running %s",
			ErrRollback, expected.Alg, expected.Value, running))
	}

	if err := m.store.SavePrimaryInstalledVersion(target); err != nil {
		m.fireLocked(ctx, EventFail)
		return installFailed(fmt.Errorf("save installed version: %w", err))
	}
	if err := m.store.ClearPendingVersion(); err != nil {
		m.log.Error(err, "Clearing pending version failed")
	}
	m.fireLocked(ctx, EventConfirm)

	m.log.Info("Successfully booted on new version", "image", target.Filename)
	return okResult("successfully booted on new version")
}

func (m *Manager) fireLocked(ctx context.Context, event string) {
	if err := m.attempt.Fire(ctx, event); err != nil {
		m.log.Error(err, "Attempt machine rejected transition", "event", event)
	}
}

// Current returns the confirmed running version, or Unknown when none was
// ever recorded.
func (m *Manager) Current() (Target, error) {
	t, ok, err := m.store.LoadPrimaryInstalledVersion()
	if err != nil {
		return Unknown(), err
	}
	if !ok {
		return Unknown(), nil
	}
	return t, nil
}

// Pending returns the staged version, if any.
func (m *Manager) Pending() (Target, bool, error) {
	return m.store.LoadPendingVersion()
}

// InstalledPackages lists the package manifest of the running system.
func (m *Manager) InstalledPackages() ([]Package, error) {
	return m.store.InstalledPackages()
}

// UpdateNotify arms the bootloader's reboot-pending marker without going
// through a full install, for callers that stage images out of band.
func (m *Manager) UpdateNotify() error {
	return m.boot.UpdateNotify()
}
