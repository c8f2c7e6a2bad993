// Package storage persists the device's version bookkeeping on the local
// filesystem and reads the installed package manifest.
package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/autopeer-io/fwagent/internal/updater"
	"github.com/autopeer-io/fwagent/pkg/log"
)

const (
	versionsFile = "versions.json"

	// DefaultPackagesFile is the conventional manifest location; image
	// builds that track their package set write it at assembly time.
	DefaultPackagesFile = "/usr/package.manifest"
)

// versionState is the on-disk layout of the versions file.
type versionState struct {
	Current *updater.Target `json:"current,omitempty"`
	Pending *updater.Target `json:"pending,omitempty"`
}

// File is a VersionStore backed by a JSON file under a state directory.
// Writes go through a rename so a crash mid-write never leaves a torn
// versions file.
type File struct {
	stateDir     string
	packagesFile string
	log          log.Logger
}

var _ updater.VersionStore = (*File)(nil)

// NewFile creates the store rooted at stateDir, creating the directory if
// needed. packagesFile may be empty, in which case DefaultPackagesFile is
// used.
func NewFile(stateDir, packagesFile string) (*File, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if packagesFile == "" {
		packagesFile = DefaultPackagesFile
	}
	return &File{
		stateDir:     stateDir,
		packagesFile: packagesFile,
		log:          log.WithName("storage"),
	}, nil
}

func (f *File) LoadPrimaryInstalledVersion() (updater.Target, bool, error) {
	st, err := f.load()
	if err != nil || st.Current == nil {
		return updater.Unknown(), false, err
	}
	return *st.Current, true, nil
}

func (f *File) LoadPendingVersion() (updater.Target, bool, error) {
	st, err := f.load()
	if err != nil || st.Pending == nil {
		return updater.Unknown(), false, err
	}
	return *st.Pending, true, nil
}

func (f *File) SavePrimaryInstalledVersion(t updater.Target) error {
	return f.update(func(st *versionState) {
		st.Current = &t
	})
}

func (f *File) SavePendingVersion(t updater.Target) error {
	return f.update(func(st *versionState) {
		st.Pending = &t
	})
}

func (f *File) ClearPendingVersion() error {
	return f.update(func(st *versionState) {
		st.Pending = nil
	})
}

// InstalledPackages parses the package manifest, one "name version" pair
// per line. A missing manifest is an empty set, not an error; a malformed
// line is an error so a corrupt manifest is never half-reported.
func (f *File) InstalledPackages() ([]updater.Package, error) {
	file, err := os.Open(f.packagesFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			f.log.Debug("Package manifest not present", "path", f.packagesFile)
			return nil, nil
		}
		return nil, fmt.Errorf("open package manifest: %w", err)
	}
	defer file.Close()

	var pkgs []updater.Package
	sc := bufio.NewScanner(file)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("package manifest %s line %d: want \"name version\", got %q",
				f.packagesFile, line, text)
		}
		pkgs = append(pkgs, updater.Package{Name: fields[0], Version: fields[1]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read package manifest: %w", err)
	}
	return pkgs, nil
}

func (f *File) path() string {
	return filepath.Join(f.stateDir, versionsFile)
}

func (f *File) load() (versionState, error) {
	var st versionState
	data, err := os.ReadFile(f.path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return st, nil
		}
		return st, fmt.Errorf("read versions file: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("decode versions file: %w", err)
	}
	return st, nil
}

func (f *File) update(mutate func(*versionState)) error {
	st, err := f.load()
	if err != nil {
		return err
	}
	mutate(&st)

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode versions file: %w", err)
	}
	tmp := f.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write versions file: %w", err)
	}
	if err := os.Rename(tmp, f.path()); err != nil {
		return fmt.Errorf("commit versions file: %w", err)
	}
	return nil
}
