package finder

import (
	"context"
	"sync/atomic"

	"github.com/reddwarf/sgs/affinity/graph"
	"github.com/reddwarf/sgs/affinity/group"
	"github.com/reddwarf/sgs/scheduler/domain"
)

// ConnectedComponents reports each connected component of the graph as a group.
type ConnectedComponents struct {
	config     Config
	locator    Locator
	generation atomic.Int64
}

func NewConnectedComponents(c Config, locator Locator) *ConnectedComponents {
	return &ConnectedComponents{config: c.withDefaults(), locator: locator}
}

func (f *ConnectedComponents) FindGroups(ctx context.Context, g *graph.Graph) ([]*group.AffinityGroup, error) {
	seen := make(map[domain.Identity]bool, g.NumVertices())
	var partitions [][]domain.Identity
	for _, start := range g.Vertices() {
		if seen[start] {
			continue
		}
		seen[start] = true
		component := []domain.Identity{start}
		for i := 0; i < len(component); i++ {
			for _, n := range g.Neighbors(component[i]) {
				if !seen[n.ID] {
					seen[n.ID] = true
					component = append(component, n.ID)
				}
			}
		}
		partitions = append(partitions, component)
	}
	return makeGroups(ctx, partitions, f.config.MinGroupSize, f.generation.Add(1), f.locator)
}
