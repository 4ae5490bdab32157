// Package group holds affinity groups: sets of identities that should live
// on the same node.
package group

import (
	"fmt"
	"sort"

	uuid "github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"

	"github.com/reddwarf/sgs/cloud/cluster"
	"github.com/reddwarf/sgs/scheduler/domain"
)

var ErrEmptyGroup = errors.New("affinity group has no members")

// AffinityGroup maps its member identities to the nodes they live on. The
// target node is computed when the group is made and afterwards only changes
// through SetTargetNode.
//
// An AffinityGroup is not safe for concurrent use; the coordinator owns it.
type AffinityGroup struct {
	id         string
	generation int64
	members    map[domain.Identity]cluster.NodeId
	target     cluster.NodeId
}

// New makes a group for the given discovery generation. members is copied.
func New(generation int64, members map[domain.Identity]cluster.NodeId) (*AffinityGroup, error) {
	if len(members) == 0 {
		return nil, ErrEmptyGroup
	}
	g := &AffinityGroup{
		id:         generateGroupId(),
		generation: generation,
		members:    make(map[domain.Identity]cluster.NodeId, len(members)),
	}
	for id, node := range members {
		g.members[id] = node
	}
	g.target = g.ComputeTargetNode()
	return g, nil
}

func generateGroupId() string {
	for {
		if id, err := uuid.NewV4(); err == nil {
			return id.String()
		}
	}
}

func (g *AffinityGroup) ID() string {
	return g.id
}

func (g *AffinityGroup) Generation() int64 {
	return g.generation
}

func (g *AffinityGroup) Size() int {
	return len(g.members)
}

// Identities returns the members in ascending order.
func (g *AffinityGroup) Identities() []domain.Identity {
	ids := make([]domain.Identity, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (g *AffinityGroup) NodeOf(id domain.Identity) (cluster.NodeId, bool) {
	n, ok := g.members[id]
	return n, ok
}

// SetNode records that a member now lives on node. Unknown identities are ignored.
func (g *AffinityGroup) SetNode(id domain.Identity, node cluster.NodeId) {
	if _, ok := g.members[id]; ok {
		g.members[id] = node
	}
}

func (g *AffinityGroup) TargetNode() cluster.NodeId {
	return g.target
}

func (g *AffinityGroup) SetTargetNode(node cluster.NodeId) {
	g.target = node
}

// ComputeTargetNode returns the node holding the most members. Ties go to
// the lowest node id.
func (g *AffinityGroup) ComputeTargetNode() cluster.NodeId {
	counts := make(map[cluster.NodeId]int)
	for _, node := range g.members {
		counts[node]++
	}
	var best cluster.NodeId
	bestCount := 0
	for node, n := range counts {
		if n > bestCount || (n == bestCount && node < best) {
			best, bestCount = node, n
		}
	}
	return best
}

// Stragglers are the members not on the target node, in ascending order.
func (g *AffinityGroup) Stragglers() []domain.Identity {
	var out []domain.Identity
	for _, id := range g.Identities() {
		if g.members[id] != g.target {
			out = append(out, id)
		}
	}
	return out
}

func (g *AffinityGroup) String() string {
	return fmt.Sprintf("AffinityGroup{id: %s, gen: %d, size: %d, target: %s}",
		g.id, g.generation, len(g.members), g.target)
}
