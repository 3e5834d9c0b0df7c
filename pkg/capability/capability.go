package capability

import (
	"fmt"
	"slices"
	"strings"
)

// Capability expresses an optional host facility a sandboxed tool may request
// access to. Anything not granted is unavailable inside the sandbox.
type Capability string

const (
	// CapabilityNetwork allows outbound network access.
	CapabilityNetwork Capability = "network"
	// CapabilityFilesystem allows reads outside the invocation scratch directory.
	CapabilityFilesystem Capability = "filesystem"
	// CapabilityExecution allows spawning further processes.
	CapabilityExecution Capability = "execution"
)

// Known reports whether the capability is one the sandbox understands.
func Known(c Capability) bool {
	switch c {
	case CapabilityNetwork, CapabilityFilesystem, CapabilityExecution:
		return true
	default:
		return false
	}
}

// EnvVar returns the environment variable used to signal the grant to the
// tool process, e.g. EDGEAGENT_CAP_NETWORK.
func (c Capability) EnvVar() string {
	return "EDGEAGENT_CAP_" + strings.ToUpper(string(c))
}

// Policy governs which capabilities tools may be granted. An empty allow list
// means any known capability may be requested unless explicitly denied.
type Policy struct {
	AllowedCapabilities []Capability `yaml:"allowedCapabilities"`
	DeniedCapabilities  []Capability `yaml:"deniedCapabilities"`
}

// Merge returns a new policy using values from other when not present.
func (p Policy) Merge(other Policy) Policy {
	if len(p.AllowedCapabilities) == 0 {
		p.AllowedCapabilities = other.AllowedCapabilities
	}
	if len(p.DeniedCapabilities) == 0 {
		p.DeniedCapabilities = other.DeniedCapabilities
	}
	return p
}

// Validate ensures every requested capability is known and permitted by the
// policy. The zero policy permits all known capabilities.
func (p Policy) Validate(requested []Capability) error {
	for _, cap := range requested {
		if !Known(cap) {
			return fmt.Errorf("unknown capability %q", cap)
		}
		if slices.Contains(p.DeniedCapabilities, cap) {
			return fmt.Errorf("capability %s is explicitly denied", cap)
		}
	}
	if len(p.AllowedCapabilities) == 0 {
		return nil
	}
	for _, cap := range requested {
		if !slices.Contains(p.AllowedCapabilities, cap) {
			return fmt.Errorf("capability %s not permitted", cap)
		}
	}
	return nil
}
