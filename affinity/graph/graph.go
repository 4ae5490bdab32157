package graph

import (
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/reddwarf/sgs/scheduler/domain"
)

// Edge is an undirected weighted edge. In values returned by a Graph, A < B.
type Edge struct {
	A, B   domain.Identity
	Weight int64
}

type Neighbor struct {
	ID     domain.Identity
	Weight int64
}

// Graph is an immutable weighted identity graph, as returned by
// Builder.GetAffinityGraph. Each vertex carries its initial label.
type Graph struct {
	labels   map[domain.Identity]uint64
	adj      map[domain.Identity]map[domain.Identity]int64
	numEdges int
}

func newGraph() *Graph {
	return &Graph{
		labels: make(map[domain.Identity]uint64),
		adj:    make(map[domain.Identity]map[domain.Identity]int64),
	}
}

// FromEdges builds a graph holding the given edges. Parallel edges are merged
// by adding their weights; self loops are ignored.
func FromEdges(edges ...Edge) *Graph {
	g := newGraph()
	for _, e := range edges {
		if e.A == e.B {
			continue
		}
		g.addVertex(e.A)
		g.addVertex(e.B)
		g.addEdge(e.A, e.B, g.adj[e.A][e.B]+e.Weight)
	}
	return g
}

// InitialLabel is the label a vertex for id starts with.
func InitialLabel(id domain.Identity) uint64 {
	return xxhash.Sum64String(string(id))
}

func (g *Graph) addVertex(id domain.Identity) {
	if _, ok := g.labels[id]; ok {
		return
	}
	g.labels[id] = InitialLabel(id)
	g.adj[id] = make(map[domain.Identity]int64)
}

func (g *Graph) addEdge(a, b domain.Identity, weight int64) {
	if _, ok := g.adj[a][b]; !ok {
		g.numEdges++
	}
	g.adj[a][b] = weight
	g.adj[b][a] = weight
}

func (g *Graph) NumVertices() int {
	return len(g.labels)
}

func (g *Graph) NumEdges() int {
	return g.numEdges
}

// Vertices returns all vertices in ascending order.
func (g *Graph) Vertices() []domain.Identity {
	ids := make([]domain.Identity, 0, len(g.labels))
	for id := range g.labels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (g *Graph) HasVertex(id domain.Identity) bool {
	_, ok := g.labels[id]
	return ok
}

func (g *Graph) Label(id domain.Identity) (uint64, bool) {
	l, ok := g.labels[id]
	return l, ok
}

// Weight is 0 when there is no edge between a and b.
func (g *Graph) Weight(a, b domain.Identity) int64 {
	return g.adj[a][b]
}

// Neighbors returns id's neighbors in ascending order.
func (g *Graph) Neighbors(id domain.Identity) []Neighbor {
	ns := make([]Neighbor, 0, len(g.adj[id]))
	for n, w := range g.adj[id] {
		ns = append(ns, Neighbor{ID: n, Weight: w})
	}
	sort.Slice(ns, func(i, j int) bool { return ns[i].ID < ns[j].ID })
	return ns
}

// Degree is the sum of the weights of id's edges.
func (g *Graph) Degree(id domain.Identity) int64 {
	var d int64
	for _, w := range g.adj[id] {
		d += w
	}
	return d
}

// TotalWeight is the sum of all edge weights.
func (g *Graph) TotalWeight() int64 {
	var total int64
	for _, e := range g.Edges() {
		total += e.Weight
	}
	return total
}

// Edges returns every edge once, ordered by (A, B).
func (g *Graph) Edges() []Edge {
	edges := make([]Edge, 0, g.numEdges)
	for a, ns := range g.adj {
		for b, w := range ns {
			if a < b {
				edges = append(edges, Edge{A: a, B: b, Weight: w})
			}
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].A != edges[j].A {
			return edges[i].A < edges[j].A
		}
		return edges[i].B < edges[j].B
	})
	return edges
}
