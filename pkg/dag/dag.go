package dag

import (
	"sort"

	"github.com/cuemby/beads/pkg/beaderr"
	"github.com/cuemby/beads/pkg/metrics"
	"github.com/cuemby/beads/pkg/types"
)

// Graph is a workflow's beads and dependency edges. The zero value is not
// usable; construct with New.
type Graph struct {
	workflowID string
	nodes      map[string]bool
	blocking   map[string][]string // from -> [to, ...]
	soft       map[string][]string
	incoming   map[string][]string // to -> [from, ...], blocking only
}

// New creates an empty Graph scoped to workflowID.
func New(workflowID string) *Graph {
	return &Graph{
		workflowID: workflowID,
		nodes:      make(map[string]bool),
		blocking:   make(map[string][]string),
		soft:       make(map[string][]string),
		incoming:   make(map[string][]string),
	}
}

// AddNode registers beadID. Idempotent on an already-present id.
func (g *Graph) AddNode(beadID string) {
	g.nodes[beadID] = true
}

// HasNode reports whether beadID has been added.
func (g *Graph) HasNode(beadID string) bool {
	return g.nodes[beadID]
}

// AddEdge adds a directed dependency edge. A BlockingDependency edge that
// would introduce a cycle in the blocking subgraph is refused and the graph
// is left unchanged; the returned error is beaderr.CycleDetected carrying
// the cycle's member ids.
func (g *Graph) AddEdge(from, to string, kind types.EdgeKind) error {
	g.AddNode(from)
	g.AddNode(to)

	if kind != types.BlockingDependency {
		g.soft[from] = append(g.soft[from], to)
		return nil
	}

	g.blocking[from] = append(g.blocking[from], to)
	g.incoming[to] = append(g.incoming[to], from)

	if cycles := g.FindCycles(); len(cycles) > 0 {
		g.removeBlockingEdge(from, to)
		metrics.DAGCyclesRejectedTotal.Inc()
		return &beaderr.Error{
			Code:    beaderr.CycleDetected,
			Message: "adding this edge would introduce a cycle",
			Cause:   cycleError(cycles[0]),
		}
	}
	return nil
}

type cycleError []string

func (c cycleError) Error() string { return "cycle: " + join(c) }

func join(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}

func (g *Graph) removeBlockingEdge(from, to string) {
	g.blocking[from] = removeOne(g.blocking[from], to)
	g.incoming[to] = removeOne(g.incoming[to], from)
}

func removeOne(list []string, value string) []string {
	for i, v := range list {
		if v == value {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Ready reports whether beadID's blocking predecessors are all present in
// completed.
func (g *Graph) Ready(beadID string, completed map[string]bool) bool {
	for _, from := range g.incoming[beadID] {
		if !completed[from] {
			return false
		}
	}
	return true
}

// TopologicalOrder returns a valid topological order of the blocking
// subgraph. Ties (multiple nodes with no remaining unsatisfied predecessor)
// are broken ascending by bead id so the order is deterministic across runs,
// which replay determinism depends on.
func (g *Graph) TopologicalOrder() []string {
	inDegree := make(map[string]int, len(g.nodes))
	for n := range g.nodes {
		inDegree[n] = len(g.incoming[n])
	}

	var order []string
	for len(order) < len(g.nodes) {
		var ready []string
		for n, deg := range inDegree {
			if deg == 0 {
				ready = append(ready, n)
			}
		}
		if len(ready) == 0 {
			break // remaining nodes are all in a cycle; shouldn't happen if AddEdge enforced acyclicity
		}
		sort.Strings(ready)
		next := ready[0]
		order = append(order, next)
		delete(inDegree, next)
		for _, to := range g.blocking[next] {
			if _, ok := inDegree[to]; ok {
				inDegree[to]--
			}
		}
	}
	return order
}

// tarjanState carries Tarjan's per-run bookkeeping: discovery index,
// low-link, and the stack/on-stack membership, ported from
// original_source's orchestrator/dag/tarjan.rs TarjanState.
type tarjanState struct {
	graph    *Graph
	nextIdx  int
	index    map[string]int
	lowLink  map[string]int
	onStack  map[string]bool
	stack    []string
	sccs     [][]string
}

// FindCycles returns the strongly-connected components of the blocking
// subgraph that indicate a cycle: components of size > 1, plus any
// single-node component with a self-loop. An acyclic graph returns nil.
func (g *Graph) FindCycles() [][]string {
	st := &tarjanState{
		graph:   g,
		index:   make(map[string]int),
		lowLink: make(map[string]int),
		onStack: make(map[string]bool),
	}

	ids := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		ids = append(ids, n)
	}
	sort.Strings(ids) // deterministic visit order, irrelevant to correctness but keeps output stable

	for _, n := range ids {
		if _, visited := st.index[n]; !visited {
			st.visit(n)
		}
	}

	var cycles [][]string
	for _, scc := range st.sccs {
		if len(scc) > 1 {
			cycles = append(cycles, scc)
			continue
		}
		node := scc[0]
		for _, to := range g.blocking[node] {
			if to == node {
				cycles = append(cycles, scc)
				break
			}
		}
	}
	return cycles
}

func (st *tarjanState) visit(v string) {
	st.index[v] = st.nextIdx
	st.lowLink[v] = st.nextIdx
	st.nextIdx++
	st.stack = append(st.stack, v)
	st.onStack[v] = true

	for _, w := range st.graph.blocking[v] {
		if _, visited := st.index[w]; !visited {
			st.visit(w)
			if st.lowLink[w] < st.lowLink[v] {
				st.lowLink[v] = st.lowLink[w]
			}
		} else if st.onStack[w] {
			if st.index[w] < st.lowLink[v] {
				st.lowLink[v] = st.index[w]
			}
		}
	}

	if st.lowLink[v] == st.index[v] {
		var scc []string
		for {
			n := len(st.stack) - 1
			w := st.stack[n]
			st.stack = st.stack[:n]
			st.onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		st.sccs = append(st.sccs, scc)
	}
}
