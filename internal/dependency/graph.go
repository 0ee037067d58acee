// Package dependency provides the dependency graph used to order deployment
// stages.
//
// Nodes declare the IDs they depend on. TopologicalOrder returns every node
// after all of its dependencies using Kahn's algorithm; when several nodes are
// ready at the same time the lexicographically smallest ID is taken first, so
// the same input always yields the same order.
package dependency

import (
	"container/heap"
	"sort"
)

// NodeID uniquely identifies a node in the graph.
type NodeID string

// Node is a single vertex of the graph.
type Node struct {
	ID           NodeID
	FriendlyName string
	DependsOn    []NodeID
}

// Graph is a directed dependency graph. It is not safe for concurrent
// mutation; build it once, then query it.
type Graph struct {
	nodes map[NodeID]Node
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[NodeID]Node)}
}

// AddNode inserts a node. Adding the same ID twice is an error.
func (g *Graph) AddNode(n Node) error {
	if _, exists := g.nodes[n.ID]; exists {
		return &DuplicateNodeError{Node: n.ID}
	}
	deps := make([]NodeID, len(n.DependsOn))
	copy(deps, n.DependsOn)
	n.DependsOn = deps
	g.nodes[n.ID] = n
	return nil
}

// Get returns the node with the given ID.
func (g *Graph) Get(id NodeID) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Dependencies returns the direct dependencies of id, sorted.
func (g *Graph) Dependencies(id NodeID) []NodeID {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	out := uniqueIDs(n.DependsOn)
	sortIDs(out)
	return out
}

// Dependents returns the nodes that directly depend on id, sorted.
func (g *Graph) Dependents(id NodeID) []NodeID {
	var out []NodeID
	for _, n := range g.nodes {
		for _, dep := range n.DependsOn {
			if dep == id {
				out = append(out, n.ID)
				break
			}
		}
	}
	sortIDs(out)
	return out
}

// Validate checks that every dependency refers to a node in the graph.
// Nodes are inspected in ID order so the reported error is deterministic.
func (g *Graph) Validate() error {
	for _, id := range g.sortedIDs() {
		for _, dep := range g.Dependencies(id) {
			if _, ok := g.nodes[dep]; !ok {
				return &UnknownDependencyError{Node: id, Dependency: dep}
			}
		}
	}
	return nil
}

// TopologicalOrder returns all node IDs ordered so that each node appears
// strictly after its dependencies.
func (g *Graph) TopologicalOrder() ([]NodeID, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	inDegree := make(map[NodeID]int, len(g.nodes))
	dependents := make(map[NodeID][]NodeID, len(g.nodes))
	for id := range g.nodes {
		deps := g.Dependencies(id)
		inDegree[id] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	ready := &idHeap{}
	for id, degree := range inDegree {
		if degree == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]NodeID, 0, len(g.nodes))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(NodeID)
		order = append(order, id)
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				heap.Push(ready, dependent)
			}
		}
	}

	if len(order) < len(g.nodes) {
		return nil, &CyclicDependencyError{Members: g.findCycle(inDegree)}
	}
	return order, nil
}

// findCycle walks unresolved nodes along unresolved dependency edges until a
// node repeats. Every unresolved node has at least one unresolved dependency,
// so the walk always closes a loop.
func (g *Graph) findCycle(inDegree map[NodeID]int) []NodeID {
	var start NodeID
	for _, id := range g.sortedIDs() {
		if inDegree[id] > 0 {
			start = id
			break
		}
	}

	seenAt := make(map[NodeID]int)
	var path []NodeID
	current := start
	for {
		if idx, seen := seenAt[current]; seen {
			return rotateToSmallest(path[idx:])
		}
		seenAt[current] = len(path)
		path = append(path, current)

		next := NodeID("")
		for _, dep := range g.Dependencies(current) {
			if inDegree[dep] > 0 {
				next = dep
				break
			}
		}
		if next == "" {
			// Unreachable for a graph that failed Kahn's algorithm.
			return path
		}
		current = next
	}
}

func (g *Graph) sortedIDs() []NodeID {
	ids := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func rotateToSmallest(cycle []NodeID) []NodeID {
	if len(cycle) == 0 {
		return cycle
	}
	minIdx := 0
	for i, id := range cycle {
		if id < cycle[minIdx] {
			minIdx = i
		}
	}
	out := make([]NodeID, 0, len(cycle))
	out = append(out, cycle[minIdx:]...)
	out = append(out, cycle[:minIdx]...)
	return out
}

func uniqueIDs(ids []NodeID) []NodeID {
	seen := make(map[NodeID]struct{}, len(ids))
	out := make([]NodeID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sortIDs(ids []NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// idHeap is a min-heap of node IDs.
type idHeap []NodeID

func (h idHeap) Len() int            { return len(h) }
func (h idHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x interface{}) { *h = append(*h, x.(NodeID)) }
func (h *idHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
