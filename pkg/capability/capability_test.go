package capability

import "testing"

func TestValidateZeroPolicyAllowsKnown(t *testing.T) {
	var p Policy
	if err := p.Validate([]Capability{CapabilityNetwork, CapabilityExecution}); err != nil {
		t.Fatalf("zero policy should allow known capabilities: %v", err)
	}
	if err := p.Validate([]Capability{"teleport"}); err == nil {
		t.Fatal("unknown capability should be rejected")
	}
}

func TestValidateDenyWinsOverAllow(t *testing.T) {
	p := Policy{
		AllowedCapabilities: []Capability{CapabilityNetwork, CapabilityExecution},
		DeniedCapabilities:  []Capability{CapabilityExecution},
	}
	if err := p.Validate([]Capability{CapabilityNetwork}); err != nil {
		t.Fatalf("allowed capability rejected: %v", err)
	}
	if err := p.Validate([]Capability{CapabilityExecution}); err == nil {
		t.Fatal("denied capability should be rejected")
	}
}

func TestMergeKeepsExistingLists(t *testing.T) {
	base := Policy{AllowedCapabilities: []Capability{CapabilityNetwork}}
	fallback := Policy{
		AllowedCapabilities: []Capability{CapabilityExecution},
		DeniedCapabilities:  []Capability{CapabilityFilesystem},
	}

	merged := base.Merge(fallback)
	if len(merged.AllowedCapabilities) != 1 || merged.AllowedCapabilities[0] != CapabilityNetwork {
		t.Fatalf("existing allow list should win: %v", merged.AllowedCapabilities)
	}
	if len(merged.DeniedCapabilities) != 1 || merged.DeniedCapabilities[0] != CapabilityFilesystem {
		t.Fatalf("empty deny list should fall back: %v", merged.DeniedCapabilities)
	}
}
