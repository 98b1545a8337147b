package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/beads/pkg/beaderr"
	"github.com/cuemby/beads/pkg/types"
)

func TestPriorityStrategySelectBeadHighestPriorityWins(t *testing.T) {
	s := NewPriorityStrategy()
	ready := []*types.Bead{
		{ID: "b1", Priority: 1},
		{ID: "b2", Priority: 5},
		{ID: "b3", Priority: 3},
	}

	id, ok := s.SelectBead(ready)
	require.True(t, ok)
	assert.Equal(t, "b2", id)
}

func TestPriorityStrategySelectBeadTieBrokenByLowestID(t *testing.T) {
	s := NewPriorityStrategy()
	ready := []*types.Bead{
		{ID: "zeta", Priority: 5},
		{ID: "alpha", Priority: 5},
	}

	id, ok := s.SelectBead(ready)
	require.True(t, ok)
	assert.Equal(t, "alpha", id)
}

func TestPriorityStrategySelectBeadEmptyReturnsFalse(t *testing.T) {
	s := NewPriorityStrategy()
	_, ok := s.SelectBead(nil)
	assert.False(t, ok)
}

func TestPriorityStrategySelectAgentPicksLeastLoaded(t *testing.T) {
	s := NewPriorityStrategy()
	bead := &types.Bead{ID: "b1"}
	agents := []Agent{
		{ID: "busy", Load: 10},
		{ID: "idle", Load: 2},
	}

	id, err := s.SelectAgent(bead, agents)
	require.NoError(t, err)
	assert.Equal(t, "idle", id)
}

func TestPriorityStrategySelectAgentTieBrokenByID(t *testing.T) {
	s := NewPriorityStrategy()
	bead := &types.Bead{ID: "b1"}
	agents := []Agent{
		{ID: "b-agent", Load: 1},
		{ID: "a-agent", Load: 1},
	}

	id, err := s.SelectAgent(bead, agents)
	require.NoError(t, err)
	assert.Equal(t, "a-agent", id)
}

func TestPriorityStrategySelectAgentNoAgentsIsCapabilityMismatch(t *testing.T) {
	s := NewPriorityStrategy()
	_, err := s.SelectAgent(&types.Bead{ID: "b1"}, nil)
	assert.True(t, beaderr.Is(err, beaderr.CapabilityMismatch))
}

func TestPriorityStrategySelectAgentRequiresCapabilitySuperset(t *testing.T) {
	s := NewPriorityStrategy()
	bead := &types.Bead{ID: "b1", RequiredCapabilities: []string{"gpu", "fast-disk"}}
	agents := []Agent{
		{ID: "partial", Capabilities: []string{"gpu"}},
		{ID: "full", Capabilities: []string{"gpu", "fast-disk", "extra"}},
	}

	id, err := s.SelectAgent(bead, agents)
	require.NoError(t, err)
	assert.Equal(t, "full", id)
}

func TestPriorityStrategySelectAgentNoCapableAgentIsCapabilityMismatch(t *testing.T) {
	s := NewPriorityStrategy()
	bead := &types.Bead{ID: "b1", RequiredCapabilities: []string{"gpu"}}
	agents := []Agent{{ID: "cpu-only", Capabilities: []string{"fast-disk"}}}

	_, err := s.SelectAgent(bead, agents)
	assert.True(t, beaderr.Is(err, beaderr.CapabilityMismatch))
}

func TestPriorityStrategyCapabilityMatchingDisabledIgnoresRequirements(t *testing.T) {
	s := NewPriorityStrategy()
	s.CapabilityMatching = false
	bead := &types.Bead{ID: "b1", RequiredCapabilities: []string{"gpu"}}
	agents := []Agent{{ID: "cpu-only", Capabilities: []string{"fast-disk"}, Load: 0}}

	id, err := s.SelectAgent(bead, agents)
	require.NoError(t, err)
	assert.Equal(t, "cpu-only", id)
}
