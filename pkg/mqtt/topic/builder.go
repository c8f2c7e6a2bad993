// Package topic centralizes the MQTT topic layout shared between the agent
// and the fleet backend. Changing these segments breaks deployed agents.
package topic

import (
	"fmt"
)

const (
	// SuffixRegister is the upstream registration topic (agent -> backend).
	// Structure: {root}/register/{deviceID}
	SuffixRegister = "register"

	// SuffixStatus is the upstream update status topic (agent -> backend).
	// Structure: {root}/update/status/{deviceID}
	SuffixStatus = "update/status"

	// SuffixProgress is the upstream transfer progress topic (agent -> backend).
	// Structure: {root}/update/progress/{deviceID}
	SuffixProgress = "update/progress"

	// SuffixCommand is the downstream command topic (backend -> agent).
	// Structure: {root}/command/{deviceID}
	SuffixCommand = "command"
)

// Standard MQTT wildcard definitions.
const (
	// Wildcard is the single-level wildcard "+".
	Wildcard = "+"

	// MultiWildcard is the multi-level wildcard "#". It must be the last
	// character in a topic filter.
	MultiWildcard = "#"
)

// Builder constructs topic strings under a fixed root namespace.
type Builder struct {
	root string
}

// NewBuilder creates a Builder with the specified root namespace
// (e.g. "fleet/v1").
func NewBuilder(root string) *Builder {
	return &Builder{root: root}
}

// Register returns the registration topic for a device.
func (b *Builder) Register(deviceID string) string {
	return b.build(SuffixRegister, deviceID)
}

// Status returns the update status topic for a device.
func (b *Builder) Status(deviceID string) string {
	return b.build(SuffixStatus, deviceID)
}

// Progress returns the transfer progress topic for a device.
func (b *Builder) Progress(deviceID string) string {
	return b.build(SuffixProgress, deviceID)
}

// Command returns the downstream command topic for a device.
func (b *Builder) Command(deviceID string) string {
	return b.build(SuffixCommand, deviceID)
}

// StatusWildcard returns the filter the backend uses to watch all agents.
func (b *Builder) StatusWildcard() string {
	return b.build(SuffixStatus, Wildcard)
}

func (b *Builder) build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}
