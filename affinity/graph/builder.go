// Package graph builds the weighted identity affinity graph from the objects
// completed tasks accessed.
//
// Two identities are joined by an edge when both accessed the same object
// within the retained window. The weight counts co-accesses: for each shared
// object, the smaller of the two identities' access counts.
package graph

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v4"
	log "github.com/sirupsen/logrus"

	"github.com/reddwarf/sgs/cloud/cluster"
	"github.com/reddwarf/sgs/common/stats"
	"github.com/reddwarf/sgs/scheduler/domain"
	"github.com/reddwarf/sgs/scheduler/server"
)

var ErrBuilderShutdown = errors.New("affinity graph builder is shut down")

const (
	DefaultPrunePeriod = 5 * time.Minute
	DefaultPruneCount  = 1
)

type Config struct {
	// Length of one snapshot window.
	PrunePeriod time.Duration
	// Closed windows retained before the oldest expires.
	PruneCount int
}

func (c Config) withDefaults() Config {
	if c.PrunePeriod <= 0 {
		c.PrunePeriod = DefaultPrunePeriod
	}
	if c.PruneCount <= 0 {
		c.PruneCount = DefaultPruneCount
	}
	return c
}

// Locator reports which node an identity lives on.
type Locator interface {
	Locate(id domain.Identity) (cluster.NodeId, error)
}

type builderState int32

const (
	stateEnabled builderState = iota
	stateDisabled
	stateShutdown
)

type edgeKey struct {
	a, b domain.Identity
}

func makeEdgeKey(x, y domain.Identity) edgeKey {
	if y < x {
		x, y = y, x
	}
	return edgeKey{a: x, b: y}
}

func (k edgeKey) has(id domain.Identity) bool {
	return k.a == id || k.b == id
}

type edge struct {
	weight atomic.Int64
}

type vertex struct {
	edges map[domain.Identity]*edge
}

// objectAccess counts accesses to one object per identity over the retained
// windows. A dead entry has been removed from the index and must not be used.
type objectAccess struct {
	mu     sync.Mutex
	counts map[domain.Identity]int64
	dead   bool
}

// window records what happened during one snapshot period so it can be
// subtracted when the period expires.
type window struct {
	mu      sync.Mutex
	objects map[string]map[domain.Identity]int64
	edges   map[edgeKey]int64
	owners  map[domain.Identity]struct{}
}

func newWindow() *window {
	return &window{
		objects: make(map[string]map[domain.Identity]int64),
		edges:   make(map[edgeKey]int64),
		owners:  make(map[domain.Identity]struct{}),
	}
}

func (w *window) recordAccess(objectID string, owner domain.Identity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	counts, ok := w.objects[objectID]
	if !ok {
		counts = make(map[domain.Identity]int64)
		w.objects[objectID] = counts
	}
	counts[owner]++
	w.owners[owner] = struct{}{}
}

func (w *window) recordEdge(k edgeKey) {
	w.mu.Lock()
	w.edges[k]++
	w.mu.Unlock()
}

func (w *window) forget(id domain.Identity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for obj, counts := range w.objects {
		delete(counts, id)
		if len(counts) == 0 {
			delete(w.objects, obj)
		}
	}
	for k := range w.edges {
		if k.has(id) {
			delete(w.edges, k)
		}
	}
	delete(w.owners, id)
}

func (w *window) touched(id domain.Identity) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.owners[id]
	return ok
}

// Builder maintains the affinity graph. It implements server.AccessReporter.
//
// Edge weights are atomics: reporting a co-access on an existing edge only
// takes graphMu for reading. Adding or removing vertices and edges, and
// rotating windows, take it for writing.
type Builder struct {
	config  Config
	locator Locator
	stat    stats.StatsReceiver
	state   atomic.Int32

	objects *xsync.Map[string, *objectAccess]

	graphMu  sync.RWMutex
	vertices map[domain.Identity]*vertex
	numEdges int
	current  *window
	closed   []*window // oldest first

	stopCh   chan struct{}
	stopOnce sync.Once
	pruneWg  sync.WaitGroup
}

var _ server.AccessReporter = (*Builder)(nil)

// NewBuilder makes an enabled builder. locator is only needed by RemoveNode.
// Pruning is driven by Start or by calling Prune.
func NewBuilder(config Config, locator Locator, stat stats.StatsReceiver) *Builder {
	config = config.withDefaults()
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	b := &Builder{
		config:   config,
		locator:  locator,
		stat:     stat,
		objects:  xsync.NewMap[string, *objectAccess](),
		vertices: make(map[domain.Identity]*vertex),
		current:  newWindow(),
		stopCh:   make(chan struct{}),
	}
	log.WithFields(log.Fields{
		"prunePeriod": config.PrunePeriod,
		"pruneCount":  config.PruneCount,
	}).Info("creating affinity graph builder")
	return b
}

func (b *Builder) loadState() builderState {
	return builderState(b.state.Load())
}

// Start runs Prune every PrunePeriod until Shutdown.
func (b *Builder) Start() error {
	if b.loadState() == stateShutdown {
		return ErrBuilderShutdown
	}
	b.pruneWg.Add(1)
	go func() {
		defer b.pruneWg.Done()
		ticker := time.NewTicker(b.config.PrunePeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := b.Prune(); err != nil {
					return
				}
			case <-b.stopCh:
				return
			}
		}
	}()
	return nil
}

func (b *Builder) Enable() error {
	return b.setState(stateEnabled)
}

// Disable drops further updates. Pruning continues.
func (b *Builder) Disable() error {
	return b.setState(stateDisabled)
}

func (b *Builder) setState(to builderState) error {
	for {
		from := b.state.Load()
		if builderState(from) == stateShutdown {
			return ErrBuilderShutdown
		}
		if b.state.CompareAndSwap(from, int32(to)) {
			return nil
		}
	}
}

// Shutdown is terminal; every later call fails with ErrBuilderShutdown.
func (b *Builder) Shutdown() {
	b.state.Store(int32(stateShutdown))
	b.stopOnce.Do(func() {
		close(b.stopCh)
		log.Info("affinity graph builder shut down")
	})
	b.pruneWg.Wait()
}

// UpdateGraph records that owner accessed objects. Accesses by the system
// identity are ignored, as are all updates while disabled.
func (b *Builder) UpdateGraph(owner domain.Identity, objects []domain.AccessedObject) error {
	switch b.loadState() {
	case stateShutdown:
		return ErrBuilderShutdown
	case stateDisabled:
		return nil
	}
	if owner.IsSystem() || owner == "" || len(objects) == 0 {
		return nil
	}
	start := stats.Time.Now()
	defer func() {
		b.stat.Latency(stats.GraphUpdateLatency_ms).Update(stats.Time.Since(start).Nanoseconds())
	}()

	var missing []domain.Identity
	b.graphMu.RLock()
	w := b.current
	_, hasOwner := b.vertices[owner]
	seen := make(map[string]bool, len(objects))
	for _, obj := range objects {
		if seen[obj.ObjectID] {
			continue
		}
		seen[obj.ObjectID] = true
		for _, other := range b.recordAccessLocked(w, obj.ObjectID, owner) {
			if e := b.edgeLocked(owner, other); e != nil {
				e.weight.Add(1)
				w.recordEdge(makeEdgeKey(owner, other))
			} else {
				missing = append(missing, other)
			}
		}
	}
	b.graphMu.RUnlock()

	if !hasOwner || len(missing) > 0 {
		b.graphMu.Lock()
		b.addVertexLocked(owner)
		for _, other := range missing {
			b.addVertexLocked(other)
			if e := b.edgeLocked(owner, other); e != nil {
				e.weight.Add(1)
			} else {
				b.addEdgeLocked(owner, other)
			}
			b.current.recordEdge(makeEdgeKey(owner, other))
		}
		b.updateSizeGaugesLocked()
		b.graphMu.Unlock()
	}
	b.stat.Counter(stats.GraphUpdateCounter).Inc(1)
	return nil
}

// recordAccessLocked counts one access by owner and returns the identities
// whose co-access with owner on this object grew by one. Must hold graphMu
// for reading.
func (b *Builder) recordAccessLocked(w *window, objectID string, owner domain.Identity) []domain.Identity {
	for {
		acc, _ := b.objects.LoadOrStore(objectID, &objectAccess{counts: make(map[domain.Identity]int64)})
		acc.mu.Lock()
		if acc.dead {
			acc.mu.Unlock()
			continue
		}
		acc.counts[owner]++
		n := acc.counts[owner]
		var grew []domain.Identity
		for other, c := range acc.counts {
			if other != owner && n <= c {
				grew = append(grew, other)
			}
		}
		w.recordAccess(objectID, owner)
		acc.mu.Unlock()
		return grew
	}
}

func (b *Builder) edgeLocked(x, y domain.Identity) *edge {
	v, ok := b.vertices[x]
	if !ok {
		return nil
	}
	return v.edges[y]
}

func (b *Builder) addVertexLocked(id domain.Identity) {
	if _, ok := b.vertices[id]; !ok {
		b.vertices[id] = &vertex{edges: make(map[domain.Identity]*edge)}
	}
}

func (b *Builder) addEdgeLocked(x, y domain.Identity) {
	e := &edge{}
	e.weight.Store(1)
	b.vertices[x].edges[y] = e
	b.vertices[y].edges[x] = e
	b.numEdges++
}

func (b *Builder) removeEdgeLocked(x, y domain.Identity) {
	if b.edgeLocked(x, y) == nil {
		return
	}
	delete(b.vertices[x].edges, y)
	delete(b.vertices[y].edges, x)
	b.numEdges--
}

func (b *Builder) updateSizeGaugesLocked() {
	b.stat.Gauge(stats.GraphEdgeCountGauge).Update(int64(b.numEdges))
	b.stat.Gauge(stats.GraphVertexCountGauge).Update(int64(len(b.vertices)))
}

// Prune closes the current window. Once more than PruneCount windows are
// closed, the oldest one's contributions are subtracted: edges left with no
// weight are removed, as are vertices left with no edges and no retained
// accesses.
func (b *Builder) Prune() error {
	if b.loadState() == stateShutdown {
		return ErrBuilderShutdown
	}
	start := stats.Time.Now()
	defer func() {
		b.stat.Latency(stats.GraphPruneLatency_ms).Update(stats.Time.Since(start).Nanoseconds())
	}()

	b.graphMu.Lock()
	defer b.graphMu.Unlock()
	b.closed = append(b.closed, b.current)
	b.current = newWindow()
	for len(b.closed) > b.config.PruneCount {
		expired := b.closed[0]
		b.closed[0] = nil
		b.closed = b.closed[1:]
		b.expireLocked(expired)
	}
	b.updateSizeGaugesLocked()
	return nil
}

func (b *Builder) expireLocked(w *window) {
	b.stat.Counter(stats.GraphPruneCounter).Inc(1)
	for objectID, counts := range w.objects {
		acc, ok := b.objects.Load(objectID)
		if !ok {
			continue
		}
		acc.mu.Lock()
		for id, n := range counts {
			if acc.counts[id] -= n; acc.counts[id] <= 0 {
				delete(acc.counts, id)
			}
		}
		if len(acc.counts) == 0 {
			acc.dead = true
			b.objects.Delete(objectID)
		}
		acc.mu.Unlock()
	}

	removed := 0
	for k, n := range w.edges {
		e := b.edgeLocked(k.a, k.b)
		if e == nil {
			continue
		}
		if e.weight.Add(-n) <= 0 {
			b.removeEdgeLocked(k.a, k.b)
			removed++
		}
	}
	b.stat.Counter(stats.GraphEdgesPrunedCounter).Inc(int64(removed))

	for id := range w.owners {
		if v, ok := b.vertices[id]; ok && len(v.edges) == 0 && !b.retainedLocked(id) {
			delete(b.vertices, id)
		}
	}
	// an expired edge can also strand a vertex that no window owns
	for k := range w.edges {
		for _, id := range []domain.Identity{k.a, k.b} {
			if v, ok := b.vertices[id]; ok && len(v.edges) == 0 && !b.retainedLocked(id) {
				delete(b.vertices, id)
			}
		}
	}
	log.WithFields(log.Fields{
		"edgesRemoved": removed,
		"edges":        b.numEdges,
		"vertices":     len(b.vertices),
	}).Debug("expired affinity window")
}

func (b *Builder) retainedLocked(id domain.Identity) bool {
	if b.current.touched(id) {
		return true
	}
	for _, w := range b.closed {
		if w.touched(id) {
			return true
		}
	}
	return false
}

// GetAffinityGraph returns a copy of the graph. It is empty, not nil, when
// nothing has been collected.
//
// The copy is not a point-in-time cut. UpdateGraph adds to edge weights under
// the read lock, so a report being applied while the copy is taken may show up
// on some of its edges and not yet on others. Each edge weight is read
// atomically and never reflects half an increment.
func (b *Builder) GetAffinityGraph() (*Graph, error) {
	if b.loadState() == stateShutdown {
		return nil, ErrBuilderShutdown
	}
	g := newGraph()
	b.graphMu.RLock()
	defer b.graphMu.RUnlock()
	for id := range b.vertices {
		g.addVertex(id)
	}
	for id, v := range b.vertices {
		for other, e := range v.edges {
			if id < other {
				g.addEdge(id, other, e.weight.Load())
			}
		}
	}
	return g, nil
}

// RemoveIdentity drops id, its edges and everything recorded about its
// accesses. Removing an unknown identity is a no-op.
func (b *Builder) RemoveIdentity(id domain.Identity) error {
	if b.loadState() == stateShutdown {
		return ErrBuilderShutdown
	}
	b.graphMu.Lock()
	defer b.graphMu.Unlock()
	b.removeIdentityLocked(id)
	b.updateSizeGaugesLocked()
	return nil
}

func (b *Builder) removeIdentityLocked(id domain.Identity) {
	if v, ok := b.vertices[id]; ok {
		for other := range v.edges {
			b.removeEdgeLocked(id, other)
		}
		delete(b.vertices, id)
	}
	b.objects.Range(func(objectID string, acc *objectAccess) bool {
		acc.mu.Lock()
		delete(acc.counts, id)
		if len(acc.counts) == 0 && !acc.dead {
			acc.dead = true
			b.objects.Delete(objectID)
		}
		acc.mu.Unlock()
		return true
	})
	b.current.forget(id)
	for _, w := range b.closed {
		w.forget(id)
	}
}

// RemoveNode drops every identity located on node. Removing a node with no
// identities, or one already removed, is a no-op.
func (b *Builder) RemoveNode(node cluster.NodeId) error {
	if b.loadState() == stateShutdown {
		return ErrBuilderShutdown
	}
	if b.locator == nil {
		return errors.New("affinity graph builder has no locator")
	}
	b.graphMu.RLock()
	ids := make([]domain.Identity, 0, len(b.vertices))
	for id := range b.vertices {
		ids = append(ids, id)
	}
	b.graphMu.RUnlock()

	var onNode []domain.Identity
	for _, id := range ids {
		n, err := b.locator.Locate(id)
		if err != nil {
			log.WithFields(log.Fields{"identity": id, "err": err}).Debug("cannot locate identity")
			continue
		}
		if n == node {
			onNode = append(onNode, id)
		}
	}

	b.graphMu.Lock()
	defer b.graphMu.Unlock()
	for _, id := range onNode {
		b.removeIdentityLocked(id)
	}
	b.updateSizeGaugesLocked()
	log.WithFields(log.Fields{
		"node":       node,
		"identities": len(onNode),
	}).Info("removed node from affinity graph")
	return nil
}
