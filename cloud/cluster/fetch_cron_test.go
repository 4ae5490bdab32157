package cluster

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reddwarf/sgs/common/stats"
)

// staticFetcher always returns the same nodes.
type staticFetcher struct {
	mutex sync.Mutex
	nodes []Node
}

func (f *staticFetcher) Fetch() ([]Node, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.nodes, nil
}

type fetchResult struct {
	nodes []Node
	err   error
}

// scriptedFetcher returns one result per fetch, in order.
type scriptedFetcher struct {
	results chan fetchResult
}

func (f *scriptedFetcher) Fetch() ([]Node, error) {
	r := <-f.results
	return r.nodes, r.err
}

type cronHelper struct {
	f        *scriptedFetcher
	tickCh   chan time.Time
	c        *FetchCron
	registry stats.StatsRegistry
}

func makeCronHelper() *cronHelper {
	h := &cronHelper{
		f:        &scriptedFetcher{results: make(chan fetchResult)},
		tickCh:   make(chan time.Time),
		registry: stats.NewFinagleStatsRegistry(),
	}
	stat, _ := stats.NewCustomStatsReceiver(func() stats.StatsRegistry { return h.registry }, 0)
	h.c = newFetchCron(h.f, h.tickCh, nil, stat)
	return h
}

func (h *cronHelper) fetch(nodes []Node, err error) {
	h.tickCh <- time.Now()
	h.f.results <- fetchResult{nodes: nodes, err: err}
}

func (h *cronHelper) next(t *testing.T) []NodeUpdate {
	select {
	case u := <-h.c.Updates():
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no update published")
		return nil
	}
}

func TestFetchCron(t *testing.T) {
	h := makeCronHelper()
	defer h.c.Close()

	h.fetch([]Node{NewIdNode("host1:1234")}, nil)
	assert.Equal(t, []string{"added host1:1234"}, ids(h.next(t)))

	// an unchanged fetch publishes nothing; the next change comes through
	h.fetch([]Node{NewIdNode("host1:1234")}, nil)
	h.fetch([]Node{NewIdNode("host1:1234"), NewOffloadingNode("host2:8888")}, nil)
	assert.Equal(t, []string{"added host2:8888", "offloading host2:8888"}, ids(h.next(t)))

	// a failed fetch leaves the view alone
	h.fetch(nil, errors.New("unreachable"))
	h.fetch([]Node{NewOffloadingNode("host2:8888")}, nil)
	assert.Equal(t, []string{"removed host1:1234"}, ids(h.next(t)))

	stats.VerifyStats("cron", h.registry, t, map[string]stats.Rule{
		stats.ClusterFetchErrCounter: {Checker: stats.Int64EqTest, Value: 1},
		stats.ClusterNodesGauge:      {Checker: stats.Int64EqTest, Value: 1},
	})
}

func TestFetchCronClose(t *testing.T) {
	h := makeCronHelper()
	h.fetch(NewIdNodes(3), nil)
	// close while the loop is blocked publishing
	h.c.Close()
	_, ok := <-h.c.Updates()
	require.False(t, ok)
}

func TestNewFetchCronTicks(t *testing.T) {
	f := &staticFetcher{nodes: NewIdNodes(1)}
	c := NewFetchCron(f, time.Millisecond, nil)
	defer c.Close()

	select {
	case u := <-c.Updates():
		assert.Equal(t, []string{"added node1"}, ids(u))
	case <-time.After(2 * time.Second):
		t.Fatal("no update published")
	}
}
