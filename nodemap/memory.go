// Package nodemap provides node mapping services: an in-process map of
// identities to nodes, an http handler serving it, and an http client for a
// remote one.
package nodemap

import (
	"errors"
	"sort"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
	log "github.com/sirupsen/logrus"

	"github.com/reddwarf/sgs/affinity/coordinator"
	"github.com/reddwarf/sgs/cloud/cluster"
	"github.com/reddwarf/sgs/scheduler/domain"
)

var (
	ErrUnknownIdentity = errors.New("identity is not mapped to a node")
	ErrUnknownNode     = errors.New("node is not alive")
)

type nodeInfo struct {
	offloading bool
	load       int
}

// MemoryNodeMap maps identities to the live nodes they run on. Lookups are
// lock free; anything that changes placement holds mu.
type MemoryNodeMap struct {
	ids *xsync.Map[domain.Identity, cluster.NodeId]

	mu    sync.Mutex
	nodes map[cluster.NodeId]*nodeInfo
}

var _ coordinator.NodeMapper = (*MemoryNodeMap)(nil)
var _ cluster.Fetcher = (*MemoryNodeMap)(nil)

func NewMemoryNodeMap(nodes ...cluster.NodeId) *MemoryNodeMap {
	m := &MemoryNodeMap{
		ids:   xsync.NewMap[domain.Identity, cluster.NodeId](),
		nodes: make(map[cluster.NodeId]*nodeInfo),
	}
	for _, n := range nodes {
		m.nodes[n] = &nodeInfo{}
	}
	return m
}

// AddNode makes node available for placement. Adding a live node again
// clears its offloading mark.
func (m *MemoryNodeMap) AddNode(node cluster.NodeId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.nodes[node]; ok {
		info.offloading = false
		return
	}
	m.nodes[node] = &nodeInfo{}
	log.WithFields(log.Fields{"node": node}).Info("node added")
}

// SetOffloading marks node as draining: it keeps its identities but is no
// longer chosen for new ones.
func (m *MemoryNodeMap) SetOffloading(node cluster.NodeId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.nodes[node]
	if !ok {
		return ErrUnknownNode
	}
	info.offloading = true
	log.WithFields(log.Fields{"node": node, "load": info.load}).Info("node offloading")
	return nil
}

// RemoveNode drops a dead node. Its identities are spread over the least
// loaded remaining nodes, or unmapped when there are none.
func (m *MemoryNodeMap) RemoveNode(node cluster.NodeId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[node]; !ok {
		return
	}
	delete(m.nodes, node)

	var orphans []domain.Identity
	m.ids.Range(func(id domain.Identity, n cluster.NodeId) bool {
		if n == node {
			orphans = append(orphans, id)
		}
		return true
	})
	sort.Slice(orphans, func(i, j int) bool { return orphans[i] < orphans[j] })
	for _, id := range orphans {
		target, err := m.chooseLocked("")
		if err != nil {
			m.ids.Delete(id)
			continue
		}
		m.placeLocked(id, target)
	}
	log.WithFields(log.Fields{"node": node, "reassigned": len(orphans)}).Info("node removed")
}

// Assign places id on the least loaded node unless it is already mapped,
// and returns its node.
func (m *MemoryNodeMap) Assign(id domain.Identity) (cluster.NodeId, error) {
	if n, ok := m.ids.Load(id); ok {
		return n, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.ids.Load(id); ok {
		return n, nil
	}
	target, err := m.chooseLocked("")
	if err != nil {
		return "", err
	}
	m.placeLocked(id, target)
	return target, nil
}

func (m *MemoryNodeMap) Locate(id domain.Identity) (cluster.NodeId, error) {
	n, ok := m.ids.Load(id)
	if !ok {
		return "", ErrUnknownIdentity
	}
	return n, nil
}

// ChooseNode returns the least loaded live node that is neither exclude nor
// offloading. Ties go to the lowest node id.
func (m *MemoryNodeMap) ChooseNode(exclude cluster.NodeId) (cluster.NodeId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chooseLocked(exclude)
}

func (m *MemoryNodeMap) chooseLocked(exclude cluster.NodeId) (cluster.NodeId, error) {
	var best cluster.NodeId
	bestLoad := -1
	for n, info := range m.nodes {
		if n == exclude || info.offloading {
			continue
		}
		if bestLoad < 0 || info.load < bestLoad || (info.load == bestLoad && n < best) {
			best, bestLoad = n, info.load
		}
	}
	if bestLoad < 0 {
		return "", coordinator.ErrNoNodesAvailable
	}
	return best, nil
}

// MoveIdentities maps ids to target. An empty target lets the map choose a
// node other than exclude.
func (m *MemoryNodeMap) MoveIdentities(ids []domain.Identity, exclude, target cluster.NodeId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if target == "" {
		var err error
		if target, err = m.chooseLocked(exclude); err != nil {
			return err
		}
	}
	if _, ok := m.nodes[target]; !ok {
		return ErrUnknownNode
	}
	for _, id := range ids {
		m.placeLocked(id, target)
	}
	log.WithFields(log.Fields{
		"identities": len(ids),
		"exclude":    exclude,
		"target":     target,
	}).Debug("identities moved")
	return nil
}

func (m *MemoryNodeMap) placeLocked(id domain.Identity, target cluster.NodeId) {
	prev, ok := m.ids.Load(id)
	if ok && prev == target {
		return
	}
	if ok {
		if info, alive := m.nodes[prev]; alive {
			info.load--
		}
	}
	m.ids.Store(id, target)
	m.nodes[target].load++
}

// Fetch returns the live nodes, in order. Implements cluster.Fetcher.
func (m *MemoryNodeMap) Fetch() ([]cluster.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	nodes := make([]cluster.Node, 0, len(m.nodes))
	for n, info := range m.nodes {
		if info.offloading {
			nodes = append(nodes, cluster.NewOffloadingNode(string(n)))
		} else {
			nodes = append(nodes, cluster.NewIdNode(string(n)))
		}
	}
	sort.Sort(cluster.NodeSorter(nodes))
	return nodes, nil
}

// Loads returns the number of identities on every live node.
func (m *MemoryNodeMap) Loads() map[cluster.NodeId]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	loads := make(map[cluster.NodeId]int, len(m.nodes))
	for n, info := range m.nodes {
		loads[n] = info.load
	}
	return loads
}
