package cluster

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/reddwarf/sgs/common/stats"
)

// Fetcher returns a full list of visible nodes.
type Fetcher interface {
	Fetch() ([]Node, error)
}

// FetchCron polls a Fetcher and publishes the membership diff of every poll
// that changed something.
type FetchCron struct {
	tickCh     <-chan time.Time
	stopTicker func()
	f          Fetcher
	state      *state
	stat       stats.StatsReceiver
	outCh      chan []NodeUpdate
	closer     chan struct{}
	done       chan struct{}
}

func NewFetchCron(f Fetcher, interval time.Duration, stat stats.StatsReceiver) *FetchCron {
	ticker := time.NewTicker(interval)
	return newFetchCron(f, ticker.C, ticker.Stop, stat)
}

func newFetchCron(f Fetcher, tickCh <-chan time.Time, stopTicker func(), stat stats.StatsReceiver) *FetchCron {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	c := &FetchCron{
		tickCh:     tickCh,
		stopTicker: stopTicker,
		f:          f,
		state:      makeState(),
		stat:       stat,
		outCh:      make(chan []NodeUpdate),
		closer:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	go c.loop()
	return c
}

// Updates is closed after Close.
func (c *FetchCron) Updates() <-chan []NodeUpdate {
	return c.outCh
}

func (c *FetchCron) loop() {
	defer close(c.done)
	defer close(c.outCh)
	for {
		select {
		case <-c.tickCh:
			nodes, err := c.f.Fetch()
			if err != nil {
				c.stat.Counter(stats.ClusterFetchErrCounter).Inc(1)
				log.WithField("err", err).Info("cluster fetch failed")
				continue
			}
			c.stat.Gauge(stats.ClusterNodesGauge).Update(int64(len(nodes)))
			updates := c.state.setAndDiff(nodes)
			if len(updates) == 0 {
				continue
			}
			select {
			case c.outCh <- updates:
			case <-c.closer:
				return
			}
		case <-c.closer:
			return
		}
	}
}

// Close stops polling and waits for the loop to exit. Not safe to call twice.
func (c *FetchCron) Close() {
	if c.stopTicker != nil {
		c.stopTicker()
	}
	close(c.closer)
	<-c.done
}
