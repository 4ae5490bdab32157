package finder

import (
	"github.com/reddwarf/sgs/affinity/graph"
	"github.com/reddwarf/sgs/affinity/group"
	"github.com/reddwarf/sgs/scheduler/domain"
)

// Modularity scores how well groups partition g: the fraction of edge weight
// inside groups minus the fraction expected if edges were placed at random
// with the same degrees. Vertices in no group count as singleton groups.
// An empty graph scores 0.
func Modularity(g *graph.Graph, groups []*group.AffinityGroup) float64 {
	m := float64(g.TotalWeight())
	if m == 0 {
		return 0
	}
	community := make(map[domain.Identity]int, g.NumVertices())
	for i, grp := range groups {
		for _, id := range grp.Identities() {
			community[id] = i
		}
	}
	next := len(groups)
	for _, id := range g.Vertices() {
		if _, ok := community[id]; !ok {
			community[id] = next
			next++
		}
	}

	internal := make([]float64, next)
	degree := make([]float64, next)
	for _, e := range g.Edges() {
		ca, okA := community[e.A]
		cb, okB := community[e.B]
		if okA && okB && ca == cb {
			internal[ca] += float64(e.Weight)
		}
	}
	for _, id := range g.Vertices() {
		degree[community[id]] += float64(g.Degree(id))
	}

	var q float64
	for c := 0; c < next; c++ {
		share := degree[c] / (2 * m)
		q += internal[c]/m - share*share
	}
	return q
}
