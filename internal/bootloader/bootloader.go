// Package bootloader encapsulates the durable reboot-pending state and the
// reboot trigger. The update core treats it as an opaque boolean plus a
// trigger; all persistence details live behind this interface.
package bootloader

// Interface is the bootloader collaborator consumed by the update manager.
type Interface interface {
	// Reboot asks the system to restart so a pending update can apply.
	Reboot() error

	// UpdateNotify arms the reboot-pending marker: an update has been
	// written and a reboot is expected to apply it.
	UpdateNotify() error

	// RebootDetected reports whether the system has rebooted since the
	// marker was armed.
	RebootDetected() (bool, error)

	// RebootFlagClear disarms the reboot-pending marker.
	RebootFlagClear() error

	// RebootPending reports whether the marker is currently armed.
	RebootPending() bool

	// RunningImageDigest returns the digest of the currently running image
	// for the given algorithm tag (e.g. "sha256").
	RunningImageDigest(alg string) (string, error)
}
