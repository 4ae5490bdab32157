package nodemap

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reddwarf/sgs/affinity/coordinator"
	"github.com/reddwarf/sgs/cloud/cluster"
	"github.com/reddwarf/sgs/scheduler/domain"
)

func TestAssignBalances(t *testing.T) {
	m := NewMemoryNodeMap("n2", "n1", "n3")

	// ties go to the lowest node id
	for i, want := range []cluster.NodeId{"n1", "n2", "n3", "n1"} {
		node, err := m.Assign(domain.Identity(fmt.Sprintf("p%d", i)))
		require.NoError(t, err)
		assert.Equal(t, want, node)
	}
	node, err := m.Assign("p0")
	require.NoError(t, err)
	assert.Equal(t, cluster.NodeId("n1"), node)
	assert.Equal(t, map[cluster.NodeId]int{"n1": 2, "n2": 1, "n3": 1}, m.Loads())
}

func TestChooseNode(t *testing.T) {
	m := NewMemoryNodeMap("a", "b", "c")
	require.NoError(t, m.MoveIdentities([]domain.Identity{"x", "y"}, "", "a"))
	require.NoError(t, m.MoveIdentities([]domain.Identity{"z"}, "", "b"))

	node, err := m.ChooseNode("")
	require.NoError(t, err)
	assert.Equal(t, cluster.NodeId("c"), node)

	node, err = m.ChooseNode("c")
	require.NoError(t, err)
	assert.Equal(t, cluster.NodeId("b"), node)

	require.NoError(t, m.SetOffloading("b"))
	node, err = m.ChooseNode("c")
	require.NoError(t, err)
	assert.Equal(t, cluster.NodeId("a"), node)

	require.NoError(t, m.SetOffloading("a"))
	_, err = m.ChooseNode("c")
	assert.Equal(t, coordinator.ErrNoNodesAvailable, err)

	// re-adding a live node ends its offloading
	m.AddNode("a")
	node, err = m.ChooseNode("c")
	require.NoError(t, err)
	assert.Equal(t, cluster.NodeId("a"), node)

	assert.Equal(t, ErrUnknownNode, m.SetOffloading("nope"))
}

func TestLocateAndMove(t *testing.T) {
	m := NewMemoryNodeMap("a", "b")

	_, err := m.Locate("x")
	assert.Equal(t, ErrUnknownIdentity, err)

	require.NoError(t, m.MoveIdentities([]domain.Identity{"x", "y"}, "", "a"))
	node, err := m.Locate("x")
	require.NoError(t, err)
	assert.Equal(t, cluster.NodeId("a"), node)

	// no target: the map picks a node other than exclude
	require.NoError(t, m.MoveIdentities([]domain.Identity{"x"}, "a", ""))
	node, _ = m.Locate("x")
	assert.Equal(t, cluster.NodeId("b"), node)
	assert.Equal(t, map[cluster.NodeId]int{"a": 1, "b": 1}, m.Loads())

	assert.Equal(t, ErrUnknownNode, m.MoveIdentities([]domain.Identity{"x"}, "", "zzz"))
	node, _ = m.Locate("x")
	assert.Equal(t, cluster.NodeId("b"), node)
}

func TestRemoveNodeReassigns(t *testing.T) {
	m := NewMemoryNodeMap("a", "b", "c")
	require.NoError(t, m.MoveIdentities([]domain.Identity{"w", "x", "y"}, "", "a"))
	require.NoError(t, m.MoveIdentities([]domain.Identity{"z"}, "", "b"))

	m.RemoveNode("a")
	m.RemoveNode("a")
	assert.Equal(t, map[cluster.NodeId]int{"b": 2, "c": 2}, m.Loads())
	for _, id := range []domain.Identity{"w", "x", "y"} {
		node, err := m.Locate(id)
		require.NoError(t, err)
		assert.NotEqual(t, cluster.NodeId("a"), node)
	}

	m.RemoveNode("b")
	m.RemoveNode("c")
	_, err := m.Locate("w")
	assert.Equal(t, ErrUnknownIdentity, err)
	_, err = m.Assign("new")
	assert.Equal(t, coordinator.ErrNoNodesAvailable, err)
}

func TestFetchReportsMembership(t *testing.T) {
	m := NewMemoryNodeMap("b", "a")
	require.NoError(t, m.SetOffloading("b"))

	nodes, err := m.Fetch()
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, cluster.NodeId("a"), nodes[0].Id())
	assert.False(t, nodes[0].Offloading())
	assert.Equal(t, cluster.NodeId("b"), nodes[1].Id())
	assert.True(t, nodes[1].Offloading())
}

func TestAssignStaysBalanced(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("loads differ by at most one", prop.ForAll(
		func(numNodes, numIds int) bool {
			var nodes []cluster.NodeId
			for i := 0; i < numNodes; i++ {
				nodes = append(nodes, cluster.NodeId(fmt.Sprintf("node%d", i)))
			}
			m := NewMemoryNodeMap(nodes...)
			for i := 0; i < numIds; i++ {
				if _, err := m.Assign(domain.Identity(fmt.Sprintf("id%d", i))); err != nil {
					return false
				}
			}
			lo, hi := numIds, 0
			for _, l := range m.Loads() {
				if l < lo {
					lo = l
				}
				if l > hi {
					hi = l
				}
			}
			return hi-lo <= 1
		},
		gen.IntRange(1, 8),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
