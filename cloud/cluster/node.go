// Package cluster tracks the set of live nodes and reports changes to it as
// NodeUpdates.
package cluster

import (
	"fmt"
)

type NodeId string

type Node interface {
	// A unique node identifier, like 'host:port'
	Id() NodeId

	// Offloading is true while the node is draining its identities before
	// leaving the cluster.
	Offloading() bool
}

type idNode struct {
	id         NodeId
	offloading bool
}

func (n *idNode) String() string {
	if n.offloading {
		return string(n.id) + " (offloading)"
	}
	return string(n.id)
}

func NewIdNode(id string) Node {
	return &idNode{id: NodeId(id)}
}

func NewOffloadingNode(id string) Node {
	return &idNode{id: NodeId(id), offloading: true}
}

func NewIdNodes(num int) []Node {
	r := []Node{}
	for i := 0; i < num; i++ {
		r = append(r, NewIdNode(fmt.Sprintf("node%d", i+1)))
	}
	return r
}

func (n *idNode) Id() NodeId {
	return n.id
}

func (n *idNode) Offloading() bool {
	return n.offloading
}

var _ Node = (*idNode)(nil)

type NodeSorter []Node

func (n NodeSorter) Len() int           { return len(n) }
func (n NodeSorter) Swap(i, j int)      { n[i], n[j] = n[j], n[i] }
func (n NodeSorter) Less(i, j int) bool { return n[i].Id() < n[j].Id() }

type NodeUpdateType int

const (
	NodeAdded NodeUpdateType = iota
	NodeRemoved
	// NodeOffloading is sent once when a known node starts offloading.
	NodeOffloading
)

func (t NodeUpdateType) String() string {
	switch t {
	case NodeAdded:
		return "added"
	case NodeRemoved:
		return "removed"
	case NodeOffloading:
		return "offloading"
	}
	return fmt.Sprintf("NodeUpdateType(%d)", int(t))
}

// NodeUpdate represents a change to the cluster
type NodeUpdate struct {
	UpdateType NodeUpdateType
	Id         NodeId
	Node       Node // not set for removes
}

func (u NodeUpdate) String() string {
	return fmt.Sprintf("%v %v", u.UpdateType, u.Id)
}

func NewAdd(node Node) NodeUpdate {
	return NodeUpdate{
		UpdateType: NodeAdded,
		Id:         node.Id(),
		Node:       node,
	}
}

func NewRemove(id NodeId) NodeUpdate {
	return NodeUpdate{
		UpdateType: NodeRemoved,
		Id:         id,
	}
}

func NewOffload(node Node) NodeUpdate {
	return NodeUpdate{
		UpdateType: NodeOffloading,
		Id:         node.Id(),
		Node:       node,
	}
}
