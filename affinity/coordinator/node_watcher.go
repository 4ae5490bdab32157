package coordinator

import (
	log "github.com/sirupsen/logrus"

	"github.com/reddwarf/sgs/cloud/cluster"
)

// WatchNodes applies cluster membership changes until updates is closed:
// a removed node is failed, and a node that starts offloading is drained.
func (c *Coordinator) WatchNodes(updates <-chan []cluster.NodeUpdate) {
	for batch := range updates {
		for _, u := range batch {
			var err error
			switch u.UpdateType {
			case cluster.NodeRemoved:
				err = c.NodeFailed(u.Id)
			case cluster.NodeOffloading:
				err = c.NodeOffloading(u.Id)
			default:
				continue
			}
			if err == ErrShutdown {
				return
			}
			if err != nil {
				log.WithFields(log.Fields{"update": u, "err": err}).Error("cannot apply node update")
			}
		}
	}
}
