// Package dag implements an append-only directed acyclic graph addressed by
// integer node indices.
//
// Edges are checked for cycles as they are inserted, so a Graph is acyclic at
// all times. Node indices are assigned sequentially in insertion order and
// are never reused; they double as the tie-break for TopologicalSort.
package dag

import (
	"errors"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/btree"
)

var (
	// ErrWouldCycle is returned by AddEdge when the edge would close a cycle.
	ErrWouldCycle = errors.New("edge would create a cycle")

	// ErrNodeNotFound is returned when a node index is out of range.
	ErrNodeNotFound = errors.New("node not found")
)

// NodeIndex addresses a node within a Graph.
type NodeIndex uint32

// Direction selects which edges of a node to follow.
type Direction int

const (
	// Outgoing follows edges from a node to its successors.
	Outgoing Direction = iota
	// Incoming follows edges from a node to its predecessors.
	Incoming
)

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction {
	if d == Outgoing {
		return Incoming
	}
	return Outgoing
}

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "outgoing"
	case Incoming:
		return "incoming"
	default:
		return "unknown"
	}
}

type node[N any] struct {
	weight N
	edges  [2][]NodeIndex // indexed by Direction
}

// Graph is a DAG whose nodes carry a weight of type N.
// The zero value is an empty graph ready to use.
type Graph[N any] struct {
	nodes     []node[N]
	edgeCount int
}

// New returns an empty graph.
func New[N any]() *Graph[N] {
	return &Graph[N]{}
}

// AddNode appends a node and returns its index.
func (g *Graph[N]) AddNode(weight N) NodeIndex {
	g.nodes = append(g.nodes, node[N]{weight: weight})
	return NodeIndex(len(g.nodes) - 1)
}

// Node returns the weight of node n. It panics if n is out of range.
func (g *Graph[N]) Node(n NodeIndex) N {
	return g.nodes[n].weight
}

// Len returns the number of nodes.
func (g *Graph[N]) Len() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph[N]) EdgeCount() int { return g.edgeCount }

func (g *Graph[N]) contains(n NodeIndex) bool {
	return int(n) < len(g.nodes)
}

// HasEdge reports whether the edge from -> to exists.
func (g *Graph[N]) HasEdge(from, to NodeIndex) bool {
	if !g.contains(from) || !g.contains(to) {
		return false
	}
	return slices.Contains(g.nodes[from].edges[Outgoing], to)
}

// AddEdge inserts the edge from -> to. Adding an edge that already exists is
// a no-op and reports added as false. If the edge would close a cycle the
// graph is left unchanged and ErrWouldCycle is returned.
func (g *Graph[N]) AddEdge(from, to NodeIndex) (added bool, err error) {
	if !g.contains(from) {
		return false, fmt.Errorf("edge source %d: %w", from, ErrNodeNotFound)
	}
	if !g.contains(to) {
		return false, fmt.Errorf("edge target %d: %w", to, ErrNodeNotFound)
	}
	if g.HasEdge(from, to) {
		return false, nil
	}
	if from == to || g.reaches(to, from) {
		return false, ErrWouldCycle
	}

	g.nodes[from].edges[Outgoing] = append(g.nodes[from].edges[Outgoing], to)
	g.nodes[to].edges[Incoming] = append(g.nodes[to].edges[Incoming], from)
	g.edgeCount++
	return true, nil
}

// reaches reports whether dst is reachable from src along outgoing edges.
func (g *Graph[N]) reaches(src, dst NodeIndex) bool {
	visited := roaring.NewBitmap()
	stack := []NodeIndex{src}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == dst {
			return true
		}
		if visited.Contains(uint32(n)) {
			continue
		}
		visited.Add(uint32(n))
		for _, succ := range g.nodes[n].edges[Outgoing] {
			if !visited.Contains(uint32(succ)) {
				stack = append(stack, succ)
			}
		}
	}
	return false
}

// Neighbors returns the nodes adjacent to n in direction dir, in the order
// the edges were added.
func (g *Graph[N]) Neighbors(n NodeIndex, dir Direction) []NodeIndex {
	if !g.contains(n) {
		return nil
	}
	return slices.Clone(g.nodes[n].edges[dir])
}

// Externals returns, in index order, the nodes without any edge in direction
// dir. Externals(Incoming) are the sources of the graph and
// Externals(Outgoing) are its sinks.
func (g *Graph[N]) Externals(dir Direction) []NodeIndex {
	var out []NodeIndex
	for i := range g.nodes {
		if len(g.nodes[i].edges[dir]) == 0 {
			out = append(out, NodeIndex(i))
		}
	}
	return out
}

// TopologicalSort returns every node such that each edge source precedes its
// target. Among nodes that are ready at the same time the lowest index comes
// first, so the result is deterministic and follows insertion order wherever
// the edges allow it.
func (g *Graph[N]) TopologicalSort() ([]NodeIndex, error) {
	indegree := make([]int, len(g.nodes))
	ready := btree.NewOrderedG[NodeIndex](2)
	for i := range g.nodes {
		indegree[i] = len(g.nodes[i].edges[Incoming])
		if indegree[i] == 0 {
			ready.ReplaceOrInsert(NodeIndex(i))
		}
	}

	order := make([]NodeIndex, 0, len(g.nodes))
	for ready.Len() > 0 {
		n, _ := ready.DeleteMin()
		order = append(order, n)
		for _, succ := range g.nodes[n].edges[Outgoing] {
			indegree[succ]--
			if indegree[succ] == 0 {
				ready.ReplaceOrInsert(succ)
			}
		}
	}

	// Unreachable while AddEdge is the only way to add edges.
	if len(order) != len(g.nodes) {
		return nil, ErrWouldCycle
	}
	return order, nil
}

// Induced returns the closure of seeds along direction dir: every seed plus
// every node reachable from a seed by following dir edges. With dir Incoming
// this is all ancestors, with Outgoing all descendants.
func (g *Graph[N]) Induced(seeds []NodeIndex, dir Direction) *roaring.Bitmap {
	set := roaring.NewBitmap()
	queue := make([]NodeIndex, 0, len(seeds))
	for _, s := range seeds {
		if g.contains(s) {
			queue = append(queue, s)
		}
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if set.Contains(uint32(n)) {
			continue
		}
		set.Add(uint32(n))
		for _, next := range g.nodes[n].edges[dir] {
			if !set.Contains(uint32(next)) {
				queue = append(queue, next)
			}
		}
	}
	return set
}
