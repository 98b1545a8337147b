package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/beads/pkg/beaderr"
	"github.com/cuemby/beads/pkg/types"
)

func TestChainReadiness(t *testing.T) {
	// S1: a -> b -> c
	g := New("wf-1")
	require.NoError(t, g.AddEdge("a", "b", types.BlockingDependency))
	require.NoError(t, g.AddEdge("b", "c", types.BlockingDependency))

	completed := map[string]bool{}
	assert.True(t, g.Ready("a", completed))
	assert.False(t, g.Ready("b", completed))

	completed["a"] = true
	assert.True(t, g.Ready("b", completed))
	assert.False(t, g.Ready("c", completed))

	completed["b"] = true
	assert.True(t, g.Ready("c", completed))
}

func TestDiamondReadiness(t *testing.T) {
	// S2: a->b, a->c, b->d, c->d
	g := New("wf-1")
	require.NoError(t, g.AddEdge("a", "b", types.BlockingDependency))
	require.NoError(t, g.AddEdge("a", "c", types.BlockingDependency))
	require.NoError(t, g.AddEdge("b", "d", types.BlockingDependency))
	require.NoError(t, g.AddEdge("c", "d", types.BlockingDependency))

	completed := map[string]bool{"a": true}
	assert.True(t, g.Ready("b", completed))
	assert.True(t, g.Ready("c", completed))
	assert.False(t, g.Ready("d", completed))

	completed["b"] = true
	assert.False(t, g.Ready("d", completed))

	completed["c"] = true
	assert.True(t, g.Ready("d", completed))
}

func TestCycleRejected(t *testing.T) {
	// S3
	g := New("wf-1")
	require.NoError(t, g.AddEdge("a", "b", types.BlockingDependency))

	err := g.AddEdge("b", "a", types.BlockingDependency)
	require.Error(t, err)
	assert.True(t, beaderr.Is(err, beaderr.CycleDetected))

	assert.Empty(t, g.blocking["b"], "graph must be left unchanged after a refused edge")
	assert.Len(t, g.FindCycles(), 0, "graph must remain acyclic")
}

func TestSelfLoopDetected(t *testing.T) {
	g := New("wf-1")
	err := g.AddEdge("a", "a", types.BlockingDependency)
	require.Error(t, err)
	assert.True(t, beaderr.Is(err, beaderr.CycleDetected))
}

func TestSoftDependencyNeverBlocksReadiness(t *testing.T) {
	g := New("wf-1")
	require.NoError(t, g.AddEdge("a", "b", types.SoftDependency))

	assert.True(t, g.Ready("b", map[string]bool{}))
}

func TestTopologicalOrderDeterministicTieBreak(t *testing.T) {
	g := New("wf-1")
	g.AddNode("c")
	g.AddNode("b")
	g.AddNode("a")
	require.NoError(t, g.AddEdge("a", "z", types.BlockingDependency))

	order := g.TopologicalOrder()
	require.Equal(t, []string{"a", "b", "c", "z"}, order)
}

func TestFindCyclesOnAcyclicDiamondReturnsNoCycles(t *testing.T) {
	g := New("wf-1")
	require.NoError(t, g.AddEdge("a", "b", types.BlockingDependency))
	require.NoError(t, g.AddEdge("a", "c", types.BlockingDependency))
	require.NoError(t, g.AddEdge("b", "d", types.BlockingDependency))
	require.NoError(t, g.AddEdge("c", "d", types.BlockingDependency))

	assert.Empty(t, g.FindCycles())
}

func TestFindCyclesOnThreeNodeCycle(t *testing.T) {
	g := New("wf-1")
	g.AddNode("a")
	g.AddNode("b")
	g.AddNode("c")
	g.blocking["a"] = []string{"b"}
	g.blocking["b"] = []string{"c"}
	g.blocking["c"] = []string{"a"}
	g.incoming["b"] = []string{"a"}
	g.incoming["c"] = []string{"b"}
	g.incoming["a"] = []string{"c"}

	cycles := g.FindCycles()
	require.Len(t, cycles, 1)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycles[0])
}
