/*
Package dag implements the workflow DAG of spec §4.3: beads and dependency
edges scoped to a workflow, cycle detection over the blocking subgraph via
Tarjan's strongly-connected-components algorithm, a readiness predicate, and
a deterministic topological order.

The Tarjan implementation is a direct port of the discovery-index/low-link
algorithm in original_source's orchestrator/dag/tarjan.rs, adapted to an
adjacency-map representation instead of petgraph's index-based graph.
*/
package dag
