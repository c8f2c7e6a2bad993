package bootloader

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/autopeer-io/fwagent/pkg/log"
)

const (
	pendingFile = "reboot-pending"
	bootIDFile  = "/proc/sys/kernel/random/boot_id"
)

// FileFlag implements the bootloader collaborator with a marker file under
// a state directory. Reboot detection compares the kernel boot id recorded
// when the marker was armed against the current one, so a crash without a
// reboot does not count as one.
type FileFlag struct {
	stateDir string

	// digestDir holds one "{alg}" file per algorithm with the digest of
	// the currently running image, maintained by the flashing stack.
	digestDir string

	// rebootCmd is the command executed by Reboot. Defaults to
	// "systemctl reboot".
	rebootCmd []string
}

var _ Interface = (*FileFlag)(nil)

// NewFileFlag creates a FileFlag rooted at stateDir, creating it if needed.
func NewFileFlag(stateDir string) (*FileFlag, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create bootloader state dir: %w", err)
	}
	return &FileFlag{
		stateDir:  stateDir,
		digestDir: filepath.Join(stateDir, "running"),
		rebootCmd: []string{"systemctl", "reboot"},
	}, nil
}

func (f *FileFlag) Reboot() error {
	log.Warn("Requesting system reboot to apply pending update")
	syscall.Sync()

	cmd := exec.Command(f.rebootCmd[0], f.rebootCmd[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("reboot command failed: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (f *FileFlag) UpdateNotify() error {
	bootID, err := currentBootID()
	if err != nil {
		return err
	}
	path := filepath.Join(f.stateDir, pendingFile)
	if err := os.WriteFile(path, []byte(bootID+"\n"), 0o644); err != nil {
		return fmt.Errorf("arm reboot-pending marker: %w", err)
	}
	return nil
}

func (f *FileFlag) RebootDetected() (bool, error) {
	recorded, err := os.ReadFile(filepath.Join(f.stateDir, pendingFile))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read reboot-pending marker: %w", err)
	}

	bootID, err := currentBootID()
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(recorded)) != bootID, nil
}

func (f *FileFlag) RebootFlagClear() error {
	err := os.Remove(filepath.Join(f.stateDir, pendingFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear reboot-pending marker: %w", err)
	}
	return nil
}

func (f *FileFlag) RebootPending() bool {
	_, err := os.Stat(filepath.Join(f.stateDir, pendingFile))
	return err == nil
}

func (f *FileFlag) RunningImageDigest(alg string) (string, error) {
	data, err := os.ReadFile(filepath.Join(f.digestDir, alg))
	if err != nil {
		return "", fmt.Errorf("read running image digest (%s): %w", alg, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func currentBootID() (string, error) {
	data, err := os.ReadFile(bootIDFile)
	if err != nil {
		return "", fmt.Errorf("read kernel boot id: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
