package storage

import (
	"sync"

	"github.com/autopeer-io/fwagent/internal/updater"
)

// Memory is an in-process VersionStore for tests and simulation runs.
type Memory struct {
	mu       sync.Mutex
	current  *updater.Target
	pending  *updater.Target
	packages []updater.Package
}

var _ updater.VersionStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) LoadPrimaryInstalledVersion() (updater.Target, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return updater.Unknown(), false, nil
	}
	return *m.current, true, nil
}

func (m *Memory) LoadPendingVersion() (updater.Target, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return updater.Unknown(), false, nil
	}
	return *m.pending, true, nil
}

func (m *Memory) SavePrimaryInstalledVersion(t updater.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = &t
	return nil
}

func (m *Memory) SavePendingVersion(t updater.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = &t
	return nil
}

func (m *Memory) ClearPendingVersion() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
	return nil
}

func (m *Memory) InstalledPackages() ([]updater.Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]updater.Package(nil), m.packages...), nil
}

// SetPackages replaces the reported package set.
func (m *Memory) SetPackages(pkgs []updater.Package) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packages = append([]updater.Package(nil), pkgs...)
}
