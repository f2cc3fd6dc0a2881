// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/phasegate/phasegate/pkg/phase"
)

const samplePolicy = `
phases:
  IMPLEMENT:
    min_calls: 2
  VERIFY:
    min_tests: 5
  MONITOR:
    require_artifact: true
`

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(samplePolicy), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if policy[phase.Implement].MinCalls != 2 {
		t.Fatalf("expected min_calls 2, got %d", policy[phase.Implement].MinCalls)
	}
	if policy[phase.Verify].MinTests != 5 {
		t.Fatalf("expected min_tests 5, got %d", policy[phase.Verify].MinTests)
	}
	if !policy[phase.Monitor].RequireArtifact {
		t.Fatal("expected require_artifact for MONITOR")
	}
}

func TestParsePolicyRejectsUnknownPhase(t *testing.T) {
	if _, err := ParsePolicy([]byte("phases:\n  SHIPPED:\n    min_tests: 1\n")); err == nil {
		t.Fatal("expected error for unknown phase name")
	}
}

func TestParsePolicyRejectsNegativeMinimum(t *testing.T) {
	if _, err := ParsePolicy([]byte("phases:\n  VERIFY:\n    min_tests: -1\n")); err == nil {
		t.Fatal("expected error for negative minimum")
	}
}

func TestApplyPolicy(t *testing.T) {
	col := NewCollector()
	policy, err := ParsePolicy([]byte(samplePolicy))
	if err != nil {
		t.Fatalf("parse policy: %v", err)
	}
	col.ApplyPolicy(policy)

	if got := col.Requirement(phase.Implement).MinCalls; got != 2 {
		t.Fatalf("expected min_calls 2 after apply, got %d", got)
	}
	// Phases outside the policy keep their defaults
	if got := col.Requirement(phase.Spec); !got.RequireArtifact {
		t.Fatal("expected SPEC default to survive")
	}
}
