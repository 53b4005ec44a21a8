// Package network implements the fabric model: the physical multigraph,
// the per-VLAN and per-VRF overlays, VLAN termination records, the intent
// operations, and the single-consumer worker that applies them.
package network

import (
	"container/heap"
	"sort"

	"github.com/robertobru/netcl/pkg/util"
)

// defaultEdgeWeight applies when a link reports no usable speed.
const defaultEdgeWeight = 1000.0

// NodeAttrs are the per-device attributes kept on graph nodes.
type NodeAttrs struct {
	Vlans   []int `json:"vlans"`
	Managed bool  `json:"managed"`
}

// Edge is one physical adjacency between two devices. Ports maps each
// endpoint device name to its local port name; MissingVlans records, per
// endpoint, the VLANs the other endpoint carries but this one does not.
type Edge struct {
	A, B         string            `json:"-"`
	Ports        map[string]string `json:"ports"`
	Vlans        []int             `json:"vlans"`
	MissingVlans map[string][]int  `json:"missing_vlan_errors,omitempty"`
	Weight       float64           `json:"weight"`
}

// HasVlan reports whether the edge carries the VLAN.
func (e *Edge) HasVlan(vid int) bool { return util.ContainsInt(e.Vlans, vid) }

// Endpoints reports whether the edge connects a and b (in either order).
func (e *Edge) Endpoints(a, b string) bool {
	return (e.A == a && e.B == b) || (e.A == b && e.B == a)
}

// Other returns the opposite endpoint of the edge.
func (e *Edge) Other(name string) string {
	if e.A == name {
		return e.B
	}
	return e.A
}

// Graph is an undirected multigraph over the managed fabric, rebuilt from
// scratch after every topology-affecting intent.
type Graph struct {
	nodes map[string]*NodeAttrs
	edges []*Edge
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]*NodeAttrs)}
}

// AddNode inserts or updates a node.
func (g *Graph) AddNode(name string, attrs NodeAttrs) {
	g.nodes[name] = &attrs
}

// HasNode reports whether the node exists.
func (g *Graph) HasNode(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// Node returns the node attributes, or nil.
func (g *Graph) Node(name string) *NodeAttrs {
	return g.nodes[name]
}

// Nodes returns the node names, sorted for deterministic iteration.
func (g *Graph) Nodes() []string {
	out := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AddEdge inserts an edge. Unknown endpoints are added as unmanaged nodes
// so server-facing adjacencies stay visible.
func (g *Graph) AddEdge(e *Edge) {
	if !g.HasNode(e.A) {
		g.AddNode(e.A, NodeAttrs{})
	}
	if !g.HasNode(e.B) {
		g.AddNode(e.B, NodeAttrs{})
	}
	g.edges = append(g.edges, e)
}

// Edges returns all edges.
func (g *Graph) Edges() []*Edge { return g.edges }

// FindEdge returns the edge between a and b using exactly the given
// endpoint ports, or nil. Multigraph lookups must match ports: two devices
// can share several links.
func (g *Graph) FindEdge(a, b string, ports map[string]string) *Edge {
	for _, e := range g.edges {
		if !e.Endpoints(a, b) {
			continue
		}
		match := true
		for name, port := range ports {
			if e.Ports[name] != port {
				match = false
				break
			}
		}
		if match {
			return e
		}
	}
	return nil
}

// EdgesOf returns the edges incident to the node.
func (g *Graph) EdgesOf(name string) []*Edge {
	var out []*Edge
	for _, e := range g.edges {
		if e.A == name || e.B == name {
			out = append(out, e)
		}
	}
	return out
}

// Subgraph returns the graph restricted to the given nodes: kept nodes and
// the edges with both endpoints kept.
func (g *Graph) Subgraph(names []string) *Graph {
	keep := make(map[string]bool, len(names))
	for _, name := range names {
		keep[name] = true
	}
	sub := NewGraph()
	for name, attrs := range g.nodes {
		if keep[name] {
			sub.AddNode(name, *attrs)
		}
	}
	for _, e := range g.edges {
		if keep[e.A] && keep[e.B] {
			sub.edges = append(sub.edges, e)
		}
	}
	return sub
}

// ToDict renders the graph as a node -> neighbor -> edge list map, the
// shape the topology API returns.
func (g *Graph) ToDict() map[string]map[string][]*Edge {
	out := make(map[string]map[string][]*Edge, len(g.nodes))
	for name := range g.nodes {
		out[name] = map[string][]*Edge{}
	}
	for _, e := range g.edges {
		out[e.A][e.B] = append(out[e.A][e.B], e)
		out[e.B][e.A] = append(out[e.B][e.A], e)
	}
	return out
}

// pathItem is a priority queue entry for Dijkstra.
type pathItem struct {
	node string
	dist float64
}

type pathQueue []pathItem

func (q pathQueue) Len() int            { return len(q) }
func (q pathQueue) Less(i, j int) bool  { return q[i].dist < q[j].dist }
func (q pathQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *pathQueue) Push(x interface{}) { *q = append(*q, x.(pathItem)) }
func (q *pathQueue) Pop() interface{} {
	old := *q
	item := old[len(old)-1]
	*q = old[:len(old)-1]
	return item
}

// ShortestPath returns the minimum-weight node path between from and to.
// The usable predicate filters nodes: a path is valid only through nodes
// the caller accepts (endpoint nodes are always accepted).
func (g *Graph) ShortestPath(from, to string, usable func(name string) bool) []string {
	if !g.HasNode(from) || !g.HasNode(to) {
		return nil
	}

	dist := map[string]float64{from: 0}
	prev := map[string]string{}
	visited := map[string]bool{}

	q := &pathQueue{{node: from, dist: 0}}
	heap.Init(q)

	for q.Len() > 0 {
		current := heap.Pop(q).(pathItem)
		if visited[current.node] {
			continue
		}
		visited[current.node] = true
		if current.node == to {
			break
		}

		for _, e := range g.EdgesOf(current.node) {
			next := e.Other(current.node)
			if next != from && next != to && usable != nil && !usable(next) {
				continue
			}
			weight := e.Weight
			if weight <= 0 {
				weight = defaultEdgeWeight
			}
			candidate := current.dist + weight
			if best, ok := dist[next]; !ok || candidate < best {
				dist[next] = candidate
				prev[next] = current.node
				heap.Push(q, pathItem{node: next, dist: candidate})
			}
		}
	}

	if _, ok := dist[to]; !ok {
		return nil
	}
	var path []string
	for at := to; ; at = prev[at] {
		path = append([]string{at}, path...)
		if at == from {
			break
		}
	}
	return path
}

// LinkWeight derives the edge weight from the port speed in Mb/s.
func LinkWeight(speedMbps int) float64 {
	if speedMbps <= 0 {
		return defaultEdgeWeight
	}
	return 1000000.0 / float64(speedMbps)
}
