// Package starter wires the scheduler, the affinity pipeline and the admin
// server together from a config.ServerConfig.
package starter

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/reddwarf/sgs/affinity/coordinator"
	"github.com/reddwarf/sgs/affinity/graph"
	"github.com/reddwarf/sgs/cloud/cluster"
	"github.com/reddwarf/sgs/common/endpoints"
	"github.com/reddwarf/sgs/common/stats"
	"github.com/reddwarf/sgs/config"
	"github.com/reddwarf/sgs/nodemap"
	"github.com/reddwarf/sgs/scheduler/domain"
	"github.com/reddwarf/sgs/scheduler/server"
)

// mapper is what the server needs from a node map.
type mapper interface {
	coordinator.NodeMapper
	cluster.Fetcher
}

// Server is one sgs process.
type Server struct {
	config  config.ServerConfig
	stat    stats.StatsReceiver
	nodes   mapper
	memory  *nodemap.MemoryNodeMap
	builder *graph.Builder
	sched   *server.Scheduler
	coord   *coordinator.Coordinator
	cron    *cluster.FetchCron
	admin   *endpoints.AdminServer
	watched chan struct{}
}

// NewServer builds every component; nothing runs until Start. A nil stat
// gets a nil receiver.
func NewServer(c config.ServerConfig, stat stats.StatsReceiver) (*Server, error) {
	c = c.WithDefaults()
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	s := &Server{config: c, stat: stat, watched: make(chan struct{})}

	switch c.NodeMap.Type {
	case config.NodeMapMemory:
		var ids []cluster.NodeId
		for _, n := range cluster.NewIdNodes(c.NodeMap.Count) {
			ids = append(ids, n.Id())
		}
		s.memory = nodemap.NewMemoryNodeMap(ids...)
		s.nodes = s.memory
	case config.NodeMapHttp:
		s.nodes = nodemap.NewHTTPNodeMap(c.NodeMap.URI, nodemap.MakePesterClient(c.NodeMap.Tries), stat.Scope("nodemap"))
	}

	// Validate has checked every section, so the errors below cannot happen.
	graphConfig, _ := c.Graph.Create()
	s.builder = graph.NewBuilder(graphConfig, s.nodes, stat.Scope("graph"))

	schedConfig, model, _ := c.Scheduler.Create()
	policy, _ := c.Retry.CreatePolicy()
	s.sched = server.NewScheduler(schedConfig, model, policy, s.builder, logFatalTask, stat.Scope("sched"))

	f, _ := c.Finder.CreateFinder(s.nodes)
	coordConfig, _ := c.Coordinator.Create()
	s.coord = coordinator.NewCoordinator(coordConfig, s.nodes, s.builder, f, s.sched, stat.Scope("coord"))

	s.admin = endpoints.NewAdminServer(c.Admin.Addr, stat)
	if s.memory != nil && c.NodeMap.Serve {
		s.admin.Mount("/nodemap", nodemap.NewHandler(s.memory))
	}
	log.WithFields(log.Fields{"config": c}).Info("sgs server created")
	return s, nil
}

func logFatalTask(task *domain.Task, err error) {
	log.WithFields(log.Fields{
		"taskID":   task.ID,
		"owner":    task.Owner,
		"tryCount": task.TryCount,
		"err":      err,
	}).Error("task dropped")
}

// Start begins pruning, group discovery and membership polling.
func (s *Server) Start() error {
	if err := s.builder.Start(); err != nil {
		return errors.Wrap(err, "starting affinity graph builder")
	}
	if err := s.coord.Start(); err != nil {
		return errors.Wrap(err, "starting affinity group coordinator")
	}
	period, _ := config.ParseDuration("NodeMap.FetchPeriod", s.config.NodeMap.FetchPeriod)
	s.cron = cluster.NewFetchCron(s.nodes, period, s.stat.Scope("cluster"))
	go func() {
		defer close(s.watched)
		s.coord.WatchNodes(s.cron.Updates())
	}()
	log.Info("sgs server started")
	return nil
}

// Serve runs the admin server until it fails or Shutdown is called.
func (s *Server) Serve() error {
	return s.admin.Serve()
}

// Shutdown stops every component, newest first.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.admin.Shutdown(ctx)
	if s.cron != nil {
		s.cron.Close()
		s.cron = nil
		select {
		case <-s.watched:
		case <-ctx.Done():
		}
	}
	s.coord.Shutdown()
	s.sched.Stop()
	s.builder.Shutdown()
	log.Info("sgs server shut down")
	return err
}

func (s *Server) Scheduler() *server.Scheduler          { return s.sched }
func (s *Server) Builder() *graph.Builder               { return s.builder }
func (s *Server) Coordinator() *coordinator.Coordinator { return s.coord }
func (s *Server) NodeMap() coordinator.NodeMapper       { return s.nodes }
func (s *Server) Admin() *endpoints.AdminServer         { return s.admin }
func (s *Server) Config() config.ServerConfig           { return s.config }

// MemoryNodeMap is nil unless the node map runs in process.
func (s *Server) MemoryNodeMap() *nodemap.MemoryNodeMap { return s.memory }

func (s *Server) String() string {
	return fmt.Sprintf("sgs server at %s with %s node map", s.config.Admin.Addr, s.config.NodeMap.Type)
}
