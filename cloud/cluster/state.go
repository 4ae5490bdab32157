package cluster

import (
	"sort"

	log "github.com/sirupsen/logrus"
)

type state struct {
	// current view of our nodes
	nodes       map[NodeId]Node
	nopCheckCnt int
}

func makeState() *state {
	return &state{nodes: make(map[NodeId]Node)}
}

// setAndDiff replaces the current view with newState and returns the updates
// that turn the old view into it: adds, then offload transitions, then
// removes, each sorted by node id. A node first seen already offloading is
// reported as both added and offloading.
func (s *state) setAndDiff(newState []Node) []NodeUpdate {
	var added, offloading []Node
	oldStateLen := len(s.nodes)
	next := make(map[NodeId]Node, len(newState))
	for _, n := range newState {
		if _, dup := next[n.Id()]; dup {
			continue
		}
		next[n.Id()] = n
		old, exists := s.nodes[n.Id()]
		if !exists {
			added = append(added, n)
		} else {
			// s.nodes ends up holding only the removed nodes
			delete(s.nodes, n.Id())
		}
		if n.Offloading() && (!exists || !old.Offloading()) {
			offloading = append(offloading, n)
		}
	}
	var removed []Node
	for _, n := range s.nodes {
		removed = append(removed, n)
	}
	sort.Sort(NodeSorter(added))
	sort.Sort(NodeSorter(offloading))
	sort.Sort(NodeSorter(removed))

	outgoing := []NodeUpdate{}
	for _, n := range added {
		outgoing = append(outgoing, NewAdd(n))
	}
	for _, n := range offloading {
		outgoing = append(outgoing, NewOffload(n))
	}
	for _, n := range removed {
		outgoing = append(outgoing, NewRemove(n.Id()))
	}

	if len(outgoing) > 0 {
		log.WithFields(log.Fields{
			"added":      len(added),
			"offloading": len(offloading),
			"removed":    len(removed),
			"newSize":    len(next),
			"oldSize":    oldStateLen,
			"nopChecks":  s.nopCheckCnt,
		}).Info("cluster membership changed")
		s.nopCheckCnt = 0
	} else {
		s.nopCheckCnt++
	}
	s.nodes = next
	return outgoing
}
