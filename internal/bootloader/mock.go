package bootloader

import (
	"fmt"
	"sync"
)

// Mock is an in-memory bootloader used by tests and the simulate command.
// SimulateReboot stands in for the actual restart.
type Mock struct {
	mu sync.Mutex

	pending  bool
	rebooted bool
	digests  map[string]string

	// RebootErr, when set, is returned by Reboot.
	RebootErr error

	// RebootCalls counts Reboot invocations.
	RebootCalls int
}

var _ Interface = (*Mock)(nil)

// NewMock creates a Mock bootloader.
func NewMock() *Mock {
	return &Mock{digests: map[string]string{}}
}

func (m *Mock) Reboot() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RebootCalls++
	return m.RebootErr
}

func (m *Mock) UpdateNotify() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = true
	m.rebooted = false
	return nil
}

func (m *Mock) RebootDetected() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending && m.rebooted, nil
}

func (m *Mock) RebootFlagClear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = false
	return nil
}

func (m *Mock) RebootPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

func (m *Mock) RunningImageDigest(alg string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.digests[alg]
	if !ok {
		return "", fmt.Errorf("no running image digest recorded for %q", alg)
	}
	return d, nil
}

// SimulateReboot marks the system as having restarted since the marker was
// armed and records the digest of the image now running.
func (m *Mock) SimulateReboot(alg, digest string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebooted = true
	m.digests[alg] = digest
}
