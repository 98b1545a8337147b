package scheduler

import (
	"sort"

	"github.com/cuemby/beads/pkg/beaderr"
	"github.com/cuemby/beads/pkg/metrics"
	"github.com/cuemby/beads/pkg/types"
)

// Agent is a worker capable of claiming beads.
type Agent struct {
	ID           string
	Capabilities []string
	Load         int
}

func (a Agent) satisfies(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, len(a.Capabilities))
	for _, c := range a.Capabilities {
		have[c] = true
	}
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return true
}

// Strategy selects the next bead to run and the agent to run it on. Every
// strategy implementation must satisfy this contract (spec §4.7).
type Strategy interface {
	Name() string
	SelectBead(ready []*types.Bead) (string, bool)
	SelectAgent(bead *types.Bead, agents []Agent) (string, error)
}

// PriorityStrategy is the default strategy: highest-priority bead first
// (ties broken by lowest bead id), assigned to the least-loaded agent whose
// capabilities are a superset of the bead's requirements.
type PriorityStrategy struct {
	DefaultPriority     int
	CapabilityMatching  bool
}

// NewPriorityStrategy constructs a PriorityStrategy with capability matching
// enabled, matching the teacher's "secure by default" posture.
func NewPriorityStrategy() *PriorityStrategy {
	return &PriorityStrategy{DefaultPriority: 0, CapabilityMatching: true}
}

func (s *PriorityStrategy) Name() string { return "priority" }

func (s *PriorityStrategy) SelectBead(ready []*types.Bead) (string, bool) {
	if len(ready) == 0 {
		return "", false
	}
	best := ready[0]
	for _, b := range ready[1:] {
		if b.Priority > best.Priority || (b.Priority == best.Priority && b.ID < best.ID) {
			best = b
		}
	}
	return best.ID, true
}

// SelectAgent picks the least-loaded capable agent. If capability matching is
// enabled and the bead has required capabilities that no agent satisfies,
// it returns a CAPABILITY_MISMATCH error rather than falling back to an
// unqualified agent (original_source's distribution/priority.rs behavior,
// supplemented into this spec per SPEC_FULL.md §12).
func (s *PriorityStrategy) SelectAgent(bead *types.Bead, agents []Agent) (string, error) {
	if len(agents) == 0 {
		metrics.CapabilityMismatchesTotal.Inc()
		return "", beaderr.New(beaderr.CapabilityMismatch, "no agents available")
	}

	requireMatch := s.CapabilityMatching && len(bead.RequiredCapabilities) > 0

	var candidates []Agent
	if requireMatch {
		for _, a := range agents {
			if a.satisfies(bead.RequiredCapabilities) {
				candidates = append(candidates, a)
			}
		}
		if len(candidates) == 0 {
			metrics.CapabilityMismatchesTotal.Inc()
			return "", beaderr.New(beaderr.CapabilityMismatch,
				"no agent satisfies bead "+bead.ID+"'s required capabilities")
		}
	} else {
		candidates = agents
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Load != candidates[j].Load {
			return candidates[i].Load < candidates[j].Load
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0].ID, nil
}
