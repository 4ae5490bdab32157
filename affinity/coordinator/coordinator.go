// Package coordinator keeps affinity groups together: it targets each group
// at the node most of its members live on and asks the node mapping service
// to move the rest there.
package coordinator

//go:generate mockgen -source=coordinator.go -package=coordinator -destination=mock_node_mapper.go

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/reddwarf/sgs/affinity/finder"
	"github.com/reddwarf/sgs/affinity/graph"
	"github.com/reddwarf/sgs/affinity/group"
	"github.com/reddwarf/sgs/async"
	"github.com/reddwarf/sgs/cloud/cluster"
	"github.com/reddwarf/sgs/common/stats"
	"github.com/reddwarf/sgs/scheduler/domain"
	"github.com/reddwarf/sgs/scheduler/server"
)

var (
	ErrNoNodesAvailable = errors.New("no nodes available")
	ErrShutdown         = errors.New("affinity group coordinator is shut down")
)

// NodeMapper is the node mapping service.
type NodeMapper interface {
	// Locate returns the node id currently lives on.
	Locate(id domain.Identity) (cluster.NodeId, error)
	// ChooseNode picks a live node other than exclude, or fails with
	// ErrNoNodesAvailable.
	ChooseNode(exclude cluster.NodeId) (cluster.NodeId, error)
	// MoveIdentities moves ids to target. exclude, when set, is a node the
	// identities are being moved off of.
	MoveIdentities(ids []domain.Identity, exclude, target cluster.NodeId) error
}

// GraphSource provides affinity graph snapshots. Implemented by graph.Builder.
type GraphSource interface {
	GetAffinityGraph() (*graph.Graph, error)
	RemoveNode(node cluster.NodeId) error
}

const (
	DefaultFindPeriod  = time.Minute
	DefaultFindTimeout = 30 * time.Second
)

type Config struct {
	// How often group discovery runs once started.
	FindPeriod time.Duration
	// Bounds one discovery run.
	FindTimeout time.Duration
	// Groups migrated per second after a discovery run; 0 is unlimited.
	// Groups held back are migrated by later coordinator calls.
	MigrationRate float64
	MigrationBurst int
}

func (c Config) withDefaults() Config {
	if c.FindPeriod <= 0 {
		c.FindPeriod = DefaultFindPeriod
	}
	if c.FindTimeout <= 0 {
		c.FindTimeout = DefaultFindTimeout
	}
	if c.MigrationBurst <= 0 {
		c.MigrationBurst = 1
	}
	return c
}

// Coordinator owns the current group set. All group bookkeeping is guarded
// by mu, including the async runner whose callbacks run under it.
type Coordinator struct {
	config  Config
	mapper  NodeMapper
	graphs  GraphSource
	finder  finder.Finder
	sched   server.TaskScheduler
	stat    stats.StatsReceiver
	limiter *rate.Limiter

	mu         sync.Mutex
	running    bool
	shutdown   bool
	groups     map[string]*group.AffinityGroup
	byNode     map[cluster.NodeId]map[string]*group.AffinityGroup
	pending    []*group.AffinityGroup
	offloading map[cluster.NodeId]bool
	runner     *async.Runner
	handle     server.RecurringHandle
}

// NewCoordinator makes a stopped coordinator. sched runs periodic discovery
// once started and may be nil, in which case discovery only runs through
// FindGroups.
func NewCoordinator(
	config Config,
	mapper NodeMapper,
	graphs GraphSource,
	f finder.Finder,
	sched server.TaskScheduler,
	stat stats.StatsReceiver,
) *Coordinator {
	config = config.withDefaults()
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	c := &Coordinator{
		config:     config,
		mapper:     mapper,
		graphs:     graphs,
		finder:     f,
		sched:      sched,
		stat:       stat,
		groups:     make(map[string]*group.AffinityGroup),
		byNode:     make(map[cluster.NodeId]map[string]*group.AffinityGroup),
		offloading: make(map[cluster.NodeId]bool),
		runner:     async.NewRunner(),
	}
	if config.MigrationRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(config.MigrationRate), config.MigrationBurst)
	}
	log.WithFields(log.Fields{
		"findPeriod":     config.FindPeriod,
		"migrationRate":  config.MigrationRate,
		"migrationBurst": config.MigrationBurst,
	}).Info("creating affinity group coordinator")
	return c
}

// Start enables group discovery and schedules it every FindPeriod.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return ErrShutdown
	}
	if c.running {
		return nil
	}
	if c.sched != nil {
		task := domain.NewTask(c.runDiscovery, domain.SystemIdentity, domain.Low)
		task.Timeout = c.config.FindTimeout
		h, err := c.sched.ScheduleRecurringTask(task, c.config.FindPeriod)
		if err != nil {
			return errors.Wrap(err, "scheduling group discovery")
		}
		c.handle = h
	}
	c.running = true
	log.Info("affinity group coordinator started")
	return nil
}

func (c *Coordinator) runDiscovery(ctx context.Context) domain.Result {
	if err := c.FindGroups(ctx); err != nil {
		if err == ErrShutdown {
			return domain.Ok()
		}
		return domain.Retry(err)
	}
	return domain.Ok()
}

// Stop disables group discovery. The current groups are kept.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Coordinator) stopLocked() {
	if !c.running {
		return
	}
	c.running = false
	if c.handle != nil {
		if err := c.handle.Cancel(); err != nil {
			log.WithField("err", err).Debug("discovery task already cancelled")
		}
		c.handle = nil
	}
	log.Info("affinity group coordinator stopped")
}

// Shutdown stops the coordinator for good and drops its groups. Safe to call
// more than once.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return
	}
	c.stopLocked()
	c.shutdown = true
	c.groups = make(map[string]*group.AffinityGroup)
	c.byNode = make(map[cluster.NodeId]map[string]*group.AffinityGroup)
	c.pending = nil
	c.updateGaugesLocked()
	log.Info("affinity group coordinator shut down")
}

// FindGroups runs the finder over a fresh graph snapshot and installs the
// result with NewGroups. It does nothing while the coordinator is stopped.
func (c *Coordinator) FindGroups(ctx context.Context) error {
	c.mu.Lock()
	shutdown, running := c.shutdown, c.running
	c.mu.Unlock()
	if shutdown {
		return ErrShutdown
	}
	if !running {
		return nil
	}

	start := stats.Time.Now()
	defer func() {
		c.stat.Latency(stats.CoordFindGroupsLatency_ms).Update(stats.Time.Since(start).Nanoseconds())
	}()
	c.stat.Counter(stats.CoordFindGroupsCounter).Inc(1)

	g, err := c.graphs.GetAffinityGraph()
	if err != nil {
		return errors.Wrap(err, "reading affinity graph")
	}
	groups, err := c.finder.FindGroups(ctx, g)
	if err != nil {
		return errors.Wrap(err, "finding affinity groups")
	}
	return c.NewGroups(groups)
}

// NewGroups replaces the whole group set. Each group's stragglers are moved
// to its target node with one MoveIdentities call per group.
func (c *Coordinator) NewGroups(groups []*group.AffinityGroup) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return ErrShutdown
	}
	c.runner.ProcessMessages()

	c.groups = make(map[string]*group.AffinityGroup, len(groups))
	c.byNode = make(map[cluster.NodeId]map[string]*group.AffinityGroup)
	c.pending = nil
	for _, g := range groups {
		c.groups[g.ID()] = g
		c.bucketLocked(g)
		if len(g.Stragglers()) > 0 {
			c.pending = append(c.pending, g)
		}
	}
	log.WithFields(log.Fields{
		"groups":  len(groups),
		"pending": len(c.pending),
	}).Info("installed new affinity groups")

	// groups targeting a draining node go elsewhere right away
	for _, node := range c.offloadingNodesLocked() {
		if err := c.offloadLocked(node, true); err != nil {
			log.WithFields(log.Fields{"node": node, "err": err}).Info("cannot offload draining node")
		}
	}
	c.migratePendingLocked()
	c.updateGaugesLocked()
	return nil
}

func (c *Coordinator) bucketLocked(g *group.AffinityGroup) {
	bucket, ok := c.byNode[g.TargetNode()]
	if !ok {
		bucket = make(map[string]*group.AffinityGroup)
		c.byNode[g.TargetNode()] = bucket
	}
	bucket[g.ID()] = g
}

func (c *Coordinator) unbucketLocked(node cluster.NodeId, g *group.AffinityGroup) {
	if bucket, ok := c.byNode[node]; ok {
		delete(bucket, g.ID())
		if len(bucket) == 0 {
			delete(c.byNode, node)
		}
	}
}

// migratePendingLocked migrates pending groups while the rate limiter allows.
func (c *Coordinator) migratePendingLocked() {
	for len(c.pending) > 0 {
		if c.limiter != nil && !c.limiter.Allow() {
			break
		}
		g := c.pending[0]
		c.pending[0] = nil
		c.pending = c.pending[1:]
		c.migrateLocked(g, "")
	}
}

// MigratePending migrates groups the rate limiter held back, as far as it
// now allows, and returns how many are still waiting.
func (c *Coordinator) MigratePending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return 0
	}
	c.runner.ProcessMessages()
	c.migratePendingLocked()
	c.updateGaugesLocked()
	return len(c.pending)
}

func (c *Coordinator) dropPendingLocked(g *group.AffinityGroup) {
	for i, p := range c.pending {
		if p == g {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// migrateLocked asks the node mapper to move g's stragglers to its target and
// records them there without waiting for the answer.
func (c *Coordinator) migrateLocked(g *group.AffinityGroup, exclude cluster.NodeId) {
	stragglers := g.Stragglers()
	if len(stragglers) == 0 {
		return
	}
	target := g.TargetNode()
	for _, id := range stragglers {
		g.SetNode(id, target)
	}
	c.stat.Counter(stats.CoordMigrationCounter).Inc(1)
	c.stat.Counter(stats.CoordIdentitiesMovedCounter).Inc(int64(len(stragglers)))

	fields := log.Fields{
		"group":      g.ID(),
		"identities": stragglers,
		"target":     target,
		"exclude":    exclude,
	}
	log.WithFields(fields).Info("migrating stragglers")
	c.runner.RunAsync(func() error {
		return c.mapper.MoveIdentities(stragglers, exclude, target)
	}, func(err error) {
		if err != nil {
			// bookkeeping is corrected by the next discovery run
			c.stat.Counter(stats.CoordMigrationErrCounter).Inc(1)
			fields["err"] = err
			log.WithFields(fields).Error("migration failed")
		}
	})
}

// Offload retargets the groups targeting node at other nodes chosen by the
// node mapper and migrates them. A node that is still alive gives up one
// group per call; a dead node gives up all of them. When no other node is
// available, ErrNoNodesAvailable is returned and the unmoved groups stay
// with node for a later call.
func (c *Coordinator) Offload(node cluster.NodeId, alive bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return ErrShutdown
	}
	c.runner.ProcessMessages()
	err := c.offloadLocked(node, alive)
	c.migratePendingLocked()
	c.updateGaugesLocked()
	return err
}

func (c *Coordinator) offloadLocked(node cluster.NodeId, alive bool) error {
	bucket := c.byNode[node]
	ids := make([]string, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	moved := 0
	for _, id := range ids {
		g := bucket[id]
		target, err := c.mapper.ChooseNode(node)
		if err == nil && target == node {
			err = ErrNoNodesAvailable
		}
		if err != nil {
			if errors.Cause(err) == ErrNoNodesAvailable {
				c.stat.Counter(stats.CoordNoNodesAvailableCounter).Inc(1)
				log.WithFields(log.Fields{
					"node":      node,
					"remaining": len(ids) - moved,
				}).Error("no nodes available to offload groups to")
				return ErrNoNodesAvailable
			}
			return errors.Wrapf(err, "choosing a node to offload group %s from %s", id, node)
		}

		c.unbucketLocked(node, g)
		g.SetTargetNode(target)
		c.bucketLocked(g)
		c.dropPendingLocked(g)
		c.migrateLocked(g, node)
		c.stat.Counter(stats.CoordGroupsOffloadedCounter).Inc(1)
		moved++
		if alive {
			break
		}
	}
	log.WithFields(log.Fields{
		"node":   node,
		"alive":  alive,
		"moved":  moved,
		"groups": len(ids),
	}).Info("offloaded groups")
	return nil
}

// NodeOffloading marks node as draining: one of its groups is offloaded now
// and one more after every later group set change, until the node is removed.
func (c *Coordinator) NodeOffloading(node cluster.NodeId) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return ErrShutdown
	}
	c.offloading[node] = true
	c.mu.Unlock()
	return c.Offload(node, true)
}

func (c *Coordinator) offloadingNodesLocked() []cluster.NodeId {
	nodes := make([]cluster.NodeId, 0, len(c.offloading))
	for n := range c.offloading {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return nodes
}

// NodeFailed moves every group off a dead node and forgets the node's
// identities in the affinity graph.
func (c *Coordinator) NodeFailed(node cluster.NodeId) error {
	c.mu.Lock()
	delete(c.offloading, node)
	c.mu.Unlock()

	err := c.Offload(node, false)
	if gerr := c.graphs.RemoveNode(node); gerr != nil {
		log.WithFields(log.Fields{"node": node, "err": gerr}).Error("cannot remove failed node from affinity graph")
		if err == nil {
			err = gerr
		}
	}
	return err
}

// Groups returns the current groups ordered by id.
func (c *Coordinator) Groups() []*group.AffinityGroup {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*group.AffinityGroup, 0, len(c.groups))
	for _, g := range c.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// GroupsTargeting returns the ids of the groups targeting node, in order.
func (c *Coordinator) GroupsTargeting(node cluster.NodeId) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for id := range c.byNode[node] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Drain waits until every migration issued so far has been answered.
func (c *Coordinator) Drain(ctx context.Context) error {
	for {
		c.mu.Lock()
		c.runner.ProcessMessages()
		running := c.runner.NumRunning()
		c.mu.Unlock()
		if running == 0 {
			return nil
		}
		select {
		case <-c.runner.Wakeup():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Coordinator) updateGaugesLocked() {
	c.stat.Gauge(stats.CoordGroupCountGauge).Update(int64(len(c.groups)))
	c.stat.Gauge(stats.CoordPendingGroupsGauge).Update(int64(len(c.pending)))
}
