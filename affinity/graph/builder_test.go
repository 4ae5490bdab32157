package graph

import (
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reddwarf/sgs/cloud/cluster"
	"github.com/reddwarf/sgs/common/stats"
	"github.com/reddwarf/sgs/scheduler/domain"
)

type mapLocator map[domain.Identity]cluster.NodeId

func (m mapLocator) Locate(id domain.Identity) (cluster.NodeId, error) {
	n, ok := m[id]
	if !ok {
		return "", errors.Errorf("unknown identity %s", id)
	}
	return n, nil
}

func read(ids ...string) []domain.AccessedObject {
	var objs []domain.AccessedObject
	for _, id := range ids {
		objs = append(objs, domain.AccessedObject{ObjectID: id, Access: domain.Read})
	}
	return objs
}

func makeBuilder(locator Locator) (*Builder, stats.StatsRegistry) {
	registry := stats.NewFinagleStatsRegistry()
	stat, _ := stats.NewCustomStatsReceiver(func() stats.StatsRegistry { return registry }, 0)
	return NewBuilder(Config{}, locator, stat), registry
}

func snapshot(t *testing.T, b *Builder) *Graph {
	g, err := b.GetAffinityGraph()
	require.NoError(t, err)
	return g
}

func TestSharedObjectsAddWeight(t *testing.T) {
	b, registry := makeBuilder(nil)
	defer b.Shutdown()

	require.NoError(t, b.UpdateGraph("A", read("O")))
	require.NoError(t, b.UpdateGraph("B", read("O")))
	require.NoError(t, b.UpdateGraph("A", read("P")))
	require.NoError(t, b.UpdateGraph("B", read("P")))
	require.NoError(t, b.UpdateGraph("C", read("Q")))

	g := snapshot(t, b)
	assert.Equal(t, int64(2), g.Weight("A", "B"))
	assert.Equal(t, int64(0), g.Weight("A", "C"))
	assert.Equal(t, int64(0), g.Weight("B", "C"))
	assert.Equal(t, 1, g.NumEdges())
	assert.Equal(t, []domain.Identity{"A", "B", "C"}, g.Vertices())

	stats.VerifyStats("update", registry, t, map[string]stats.Rule{
		stats.GraphUpdateCounter:    {Checker: stats.Int64EqTest, Value: 5},
		stats.GraphEdgeCountGauge:   {Checker: stats.Int64EqTest, Value: 1},
		stats.GraphVertexCountGauge: {Checker: stats.Int64EqTest, Value: 3},
	})
}

func TestCoAccessCountsTheMinimum(t *testing.T) {
	b, _ := makeBuilder(nil)
	defer b.Shutdown()

	// A reads O three times, B once: they co-accessed O once
	for i := 0; i < 3; i++ {
		require.NoError(t, b.UpdateGraph("A", read("O")))
	}
	require.NoError(t, b.UpdateGraph("B", read("O")))
	assert.Equal(t, int64(1), snapshot(t, b).Weight("A", "B"))

	// B catches up to two
	require.NoError(t, b.UpdateGraph("B", read("O")))
	assert.Equal(t, int64(2), snapshot(t, b).Weight("A", "B"))

	// the same object twice in one report counts once
	require.NoError(t, b.UpdateGraph("C", read("X", "X")))
	require.NoError(t, b.UpdateGraph("D", read("X")))
	assert.Equal(t, int64(1), snapshot(t, b).Weight("C", "D"))
}

func TestSystemIdentityIgnored(t *testing.T) {
	b, registry := makeBuilder(nil)
	defer b.Shutdown()

	require.NoError(t, b.UpdateGraph("A", read("O")))
	require.NoError(t, b.UpdateGraph(domain.SystemIdentity, read("O", "P")))

	g := snapshot(t, b)
	assert.False(t, g.HasVertex(domain.SystemIdentity))
	assert.Equal(t, 1, g.NumVertices())
	assert.Equal(t, 0, g.NumEdges())

	require.NoError(t, b.UpdateGraph("B", read("O")))
	assert.Equal(t, int64(1), snapshot(t, b).Weight("A", "B"))
	stats.VerifyStats("system", registry, t, map[string]stats.Rule{
		stats.GraphUpdateCounter: {Checker: stats.Int64EqTest, Value: 2},
	})
}

func TestPruneExpiresOldestWindow(t *testing.T) {
	b, registry := makeBuilder(nil)
	defer b.Shutdown()

	// window 1: A and B share O
	require.NoError(t, b.UpdateGraph("A", read("O")))
	require.NoError(t, b.UpdateGraph("B", read("O")))
	require.NoError(t, b.Prune())

	// window 2: A and C share P, B and A share Q
	require.NoError(t, b.UpdateGraph("A", read("P", "Q")))
	require.NoError(t, b.UpdateGraph("C", read("P")))
	require.NoError(t, b.UpdateGraph("B", read("Q")))
	g := snapshot(t, b)
	assert.Equal(t, int64(2), g.Weight("A", "B"))
	assert.Equal(t, int64(1), g.Weight("A", "C"))

	// one closed window is retained; closing window 2 expires window 1
	require.NoError(t, b.Prune())
	g = snapshot(t, b)
	assert.Equal(t, int64(1), g.Weight("A", "B"))
	assert.Equal(t, int64(1), g.Weight("A", "C"))

	// closing the empty window 3 expires window 2: nothing is left
	require.NoError(t, b.Prune())
	g = snapshot(t, b)
	assert.Equal(t, 0, g.NumEdges())
	assert.Equal(t, 0, g.NumVertices())

	stats.VerifyStats("prune", registry, t, map[string]stats.Rule{
		stats.GraphPruneCounter:       {Checker: stats.Int64EqTest, Value: 2},
		stats.GraphEdgesPrunedCounter: {Checker: stats.Int64EqTest, Value: 2},
		stats.GraphEdgeCountGauge:     {Checker: stats.Int64EqTest, Value: 0},
		stats.GraphVertexCountGauge:   {Checker: stats.Int64EqTest, Value: 0},
	})
}

func TestPruneForgetsExpiredAccesses(t *testing.T) {
	b, _ := makeBuilder(nil)
	defer b.Shutdown()

	require.NoError(t, b.UpdateGraph("A", read("O")))
	require.NoError(t, b.Prune())
	require.NoError(t, b.Prune())

	// A's access to O is outside the window, so B shares nothing with A
	require.NoError(t, b.UpdateGraph("B", read("O")))
	g := snapshot(t, b)
	assert.Equal(t, 0, g.NumEdges())
	assert.Equal(t, []domain.Identity{"B"}, g.Vertices())
}

func TestDisabledDropsUpdates(t *testing.T) {
	b, _ := makeBuilder(nil)
	defer b.Shutdown()

	require.NoError(t, b.UpdateGraph("A", read("O")))
	require.NoError(t, b.Disable())
	require.NoError(t, b.UpdateGraph("B", read("O")))
	assert.Equal(t, 0, snapshot(t, b).NumEdges())

	// pruning still runs while disabled
	require.NoError(t, b.Prune())
	require.NoError(t, b.Prune())
	assert.Equal(t, 0, snapshot(t, b).NumVertices())

	require.NoError(t, b.Enable())
	require.NoError(t, b.UpdateGraph("A", read("P")))
	require.NoError(t, b.UpdateGraph("B", read("P")))
	assert.Equal(t, int64(1), snapshot(t, b).Weight("A", "B"))
}

func TestShutdownIsTerminal(t *testing.T) {
	b, _ := makeBuilder(mapLocator{})
	require.NoError(t, b.Start())
	b.Shutdown()
	b.Shutdown()

	assert.Equal(t, ErrBuilderShutdown, b.UpdateGraph("A", read("O")))
	assert.Equal(t, ErrBuilderShutdown, b.Enable())
	assert.Equal(t, ErrBuilderShutdown, b.Disable())
	assert.Equal(t, ErrBuilderShutdown, b.Prune())
	assert.Equal(t, ErrBuilderShutdown, b.RemoveNode("node1"))
	assert.Equal(t, ErrBuilderShutdown, b.RemoveIdentity("A"))
	assert.Equal(t, ErrBuilderShutdown, b.Start())
	_, err := b.GetAffinityGraph()
	assert.Equal(t, ErrBuilderShutdown, err)
}

func TestRemoveNodeIsIdempotent(t *testing.T) {
	locator := mapLocator{"A": "node1", "B": "node1", "C": "node2", "D": "node2"}
	b, _ := makeBuilder(locator)
	defer b.Shutdown()

	require.NoError(t, b.UpdateGraph("A", read("O")))
	require.NoError(t, b.UpdateGraph("C", read("O")))
	require.NoError(t, b.UpdateGraph("D", read("O")))
	require.NoError(t, b.UpdateGraph("B", read("P")))
	require.Equal(t, 3, snapshot(t, b).NumEdges())

	require.NoError(t, b.RemoveNode("node1"))
	g := snapshot(t, b)
	assert.Equal(t, []domain.Identity{"C", "D"}, g.Vertices())
	assert.Equal(t, int64(1), g.Weight("C", "D"))

	require.NoError(t, b.RemoveNode("node1"))
	require.NoError(t, b.RemoveNode("node9"))
	assert.Equal(t, g.Edges(), snapshot(t, b).Edges())

	// A's earlier accesses are gone too
	locator["E"] = "node2"
	require.NoError(t, b.UpdateGraph("E", read("O")))
	g = snapshot(t, b)
	assert.Equal(t, int64(0), g.Weight("A", "E"))
	assert.Equal(t, int64(1), g.Weight("C", "E"))
}

func TestRemoveIdentity(t *testing.T) {
	b, _ := makeBuilder(nil)
	defer b.Shutdown()

	require.NoError(t, b.UpdateGraph("A", read("O")))
	require.NoError(t, b.UpdateGraph("B", read("O")))
	require.NoError(t, b.RemoveIdentity("A"))
	require.NoError(t, b.RemoveIdentity("A"))
	require.NoError(t, b.RemoveIdentity("nobody"))

	g := snapshot(t, b)
	assert.Equal(t, []domain.Identity{"B"}, g.Vertices())

	// a pruned window no longer holds A's contributions
	require.NoError(t, b.UpdateGraph("A", read("O")))
	require.NoError(t, b.Prune())
	require.NoError(t, b.Prune())
	assert.Equal(t, 0, snapshot(t, b).NumVertices())
}

func TestSnapshotIsACopy(t *testing.T) {
	b, _ := makeBuilder(nil)
	defer b.Shutdown()

	empty := snapshot(t, b)
	require.NotNil(t, empty)
	assert.Equal(t, 0, empty.NumVertices())

	require.NoError(t, b.UpdateGraph("A", read("O")))
	require.NoError(t, b.UpdateGraph("B", read("O")))
	before := snapshot(t, b)
	require.NoError(t, b.UpdateGraph("A", read("P")))
	require.NoError(t, b.UpdateGraph("B", read("P")))

	assert.Equal(t, int64(1), before.Weight("A", "B"))
	assert.Equal(t, int64(2), snapshot(t, b).Weight("A", "B"))
	assert.Equal(t, 0, empty.NumVertices())

	label, ok := before.Label("A")
	assert.True(t, ok)
	assert.Equal(t, InitialLabel("A"), label)
}

func TestConcurrentUpdates(t *testing.T) {
	b, _ := makeBuilder(nil)
	defer b.Shutdown()

	const players = 8
	const rounds = 50
	var wg sync.WaitGroup
	for p := 0; p < players; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			owner := domain.Identity(fmt.Sprintf("player%d", p))
			for r := 0; r < rounds; r++ {
				assert.NoError(t, b.UpdateGraph(owner, read(fmt.Sprintf("room%d", r))))
			}
		}(p)
	}
	wg.Wait()

	// every pair shared every room once
	g := snapshot(t, b)
	assert.Equal(t, players*(players-1)/2, g.NumEdges())
	for _, e := range g.Edges() {
		assert.Equal(t, int64(rounds), e.Weight, "%s-%s", e.A, e.B)
	}
}

// A snapshot taken while a multi-object report is applied may hold part of it,
// but weights only grow and never pass the final value.
func TestSnapshotDuringReport(t *testing.T) {
	b, _ := makeBuilder(nil)
	defer b.Shutdown()

	const objects = 200
	var ids []string
	for i := 0; i < objects; i++ {
		ids = append(ids, fmt.Sprintf("obj%d", i))
	}
	require.NoError(t, b.UpdateGraph("B", read(append(ids, "seed")...)))
	require.NoError(t, b.UpdateGraph("A", read("seed")))

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, b.UpdateGraph("A", read(ids...)))
	}()

	last := int64(1)
	for finished := false; !finished; {
		select {
		case <-done:
			finished = true
		default:
		}
		w := snapshot(t, b).Weight("A", "B")
		assert.True(t, w >= last && w <= objects+1, "weight %d after %d", w, last)
		last = w
	}
	assert.Equal(t, int64(objects+1), snapshot(t, b).Weight("A", "B"))
}
