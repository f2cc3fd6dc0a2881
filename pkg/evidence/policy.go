// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/phasegate/phasegate/pkg/phase"
)

// policyFile is the on-disk shape of an evidence policy.
//
//	phases:
//	  IMPLEMENT:
//	    min_calls: 1
//	  VERIFY:
//	    min_tests: 1
type policyFile struct {
	Phases map[string]Requirement `yaml:"phases"`
}

// LoadPolicy parses a per-phase requirement policy from a YAML file.
// Unknown phase names are rejected so a typo cannot silently lower the bar.
func LoadPolicy(path string) (map[phase.Phase]Requirement, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read evidence policy: %w", err)
	}
	return ParsePolicy(raw)
}

// ParsePolicy parses policy bytes. Split out for config reload paths.
func ParsePolicy(raw []byte) (map[phase.Phase]Requirement, error) {
	var pf policyFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("parse evidence policy: %w", err)
	}
	out := make(map[phase.Phase]Requirement, len(pf.Phases))
	for name, req := range pf.Phases {
		p, err := phase.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("evidence policy: %w", err)
		}
		if req.MinTests < 0 || req.MinCalls < 0 {
			return nil, fmt.Errorf("evidence policy: negative minimum for phase %s", p)
		}
		out[p] = req
	}
	return out, nil
}

// ApplyPolicy overrides the collector's requirements for every phase the
// policy names. Phases absent from the policy keep their current bar.
func (c *Collector) ApplyPolicy(policy map[phase.Phase]Requirement) {
	for p, req := range policy {
		c.SetRequirement(p, req)
	}
}
