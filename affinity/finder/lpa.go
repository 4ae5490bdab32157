package finder

import (
	"context"
	"math/rand"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/reddwarf/sgs/affinity/graph"
	"github.com/reddwarf/sgs/affinity/group"
	"github.com/reddwarf/sgs/scheduler/domain"
)

// LabelPropagation finds communities by weighted label propagation. Every
// vertex starts with its graph label and repeatedly adopts the label carrying
// the most edge weight among its neighbors, keeping its own label when that
// is among the heaviest and otherwise taking the lowest heaviest label.
// Vertices are visited in a shuffled order drawn from Config.Seed, so a given
// graph and seed always give the same partition.
type LabelPropagation struct {
	config     Config
	locator    Locator
	generation atomic.Int64
}

func NewLabelPropagation(c Config, locator Locator) *LabelPropagation {
	return &LabelPropagation{config: c.withDefaults(), locator: locator}
}

func (f *LabelPropagation) FindGroups(ctx context.Context, g *graph.Graph) ([]*group.AffinityGroup, error) {
	labels, iterations, err := f.propagate(ctx, g)
	if err != nil {
		return nil, err
	}
	byLabel := map[uint64][]domain.Identity{}
	for id, l := range labels {
		byLabel[l] = append(byLabel[l], id)
	}
	partitions := make([][]domain.Identity, 0, len(byLabel))
	for _, p := range byLabel {
		partitions = append(partitions, p)
	}
	groups, err := makeGroups(ctx, partitions, f.config.MinGroupSize, f.generation.Add(1), f.locator)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"vertices":   g.NumVertices(),
		"iterations": iterations,
		"partitions": len(partitions),
		"groups":     len(groups),
	}).Debug("label propagation finished")
	return groups, nil
}

// propagate returns the final label of every vertex and the rounds it took.
func (f *LabelPropagation) propagate(ctx context.Context, g *graph.Graph) (map[domain.Identity]uint64, int, error) {
	order := g.Vertices()
	labels := make(map[domain.Identity]uint64, len(order))
	for _, id := range order {
		labels[id], _ = g.Label(id)
	}
	rng := rand.New(rand.NewSource(f.config.Seed))

	iterations := 0
	for iterations < f.config.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, iterations, err
		}
		iterations++
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		changed := false
		for _, id := range order {
			if next, ok := heaviestLabel(g, labels, id); ok && next != labels[id] {
				labels[id] = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return labels, iterations, nil
}

// heaviestLabel picks id's next label. ok is false for isolated vertices.
func heaviestLabel(g *graph.Graph, labels map[domain.Identity]uint64, id domain.Identity) (uint64, bool) {
	neighbors := g.Neighbors(id)
	if len(neighbors) == 0 {
		return 0, false
	}
	weights := make(map[uint64]int64, len(neighbors))
	for _, n := range neighbors {
		weights[labels[n.ID]] += n.Weight
	}
	current := labels[id]
	var best uint64
	var bestWeight int64 = -1
	for l, w := range weights {
		if w > bestWeight || (w == bestWeight && l < best) {
			best, bestWeight = l, w
		}
	}
	if weights[current] == bestWeight {
		return current, true
	}
	return best, true
}
