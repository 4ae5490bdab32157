// Package finder partitions an affinity graph into groups of identities.
package finder

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/reddwarf/sgs/affinity/graph"
	"github.com/reddwarf/sgs/affinity/group"
	"github.com/reddwarf/sgs/cloud/cluster"
	"github.com/reddwarf/sgs/scheduler/domain"
)

// Finder turns a graph snapshot into affinity groups.
type Finder interface {
	FindGroups(ctx context.Context, g *graph.Graph) ([]*group.AffinityGroup, error)
}

const (
	LabelPropagationName    = "lpa"
	ConnectedComponentsName = "components"

	DefaultMaxIterations = 100
	DefaultMinGroupSize  = 2
)

type Config struct {
	// Seeds the vertex visiting order of label propagation.
	Seed int64
	// Bounds label propagation rounds.
	MaxIterations int
	// Partitions smaller than this are not reported as groups.
	MinGroupSize int
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.MinGroupSize <= 0 {
		c.MinGroupSize = DefaultMinGroupSize
	}
	return c
}

// Locator reports which node an identity lives on.
type Locator interface {
	Locate(id domain.Identity) (cluster.NodeId, error)
}

// Factory makes a Finder. locator places group members on their nodes.
type Factory func(c Config, locator Locator) Finder

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		LabelPropagationName:    func(c Config, l Locator) Finder { return NewLabelPropagation(c, l) },
		ConnectedComponentsName: func(c Config, l Locator) Finder { return NewConnectedComponents(c, l) },
	}
)

// Register adds or replaces a named finder.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Lookup makes the finder registered under name; "" means label propagation.
func Lookup(name string, c Config, locator Locator) (Finder, error) {
	if name == "" {
		name = LabelPropagationName
	}
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown group finder %q, have %v", name, Names())
	}
	return f(c, locator), nil
}

func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var names []string
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// makeGroups locates the members of each partition and builds groups of at
// least minSize located members. Partitions are reported in order of their
// smallest member.
func makeGroups(ctx context.Context, partitions [][]domain.Identity, minSize int, generation int64, locator Locator) ([]*group.AffinityGroup, error) {
	for _, p := range partitions {
		sort.Slice(p, func(i, j int) bool { return p[i] < p[j] })
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i][0] < partitions[j][0] })

	var groups []*group.AffinityGroup
	for _, p := range partitions {
		if len(p) < minSize {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		members := make(map[domain.Identity]cluster.NodeId, len(p))
		for _, id := range p {
			node, err := locator.Locate(id)
			if err != nil {
				log.WithFields(log.Fields{"identity": id, "err": err}).Debug("dropping unlocatable identity from group")
				continue
			}
			members[id] = node
		}
		if len(members) < minSize {
			continue
		}
		g, err := group.New(generation, members)
		if err != nil {
			return nil, errors.Wrap(err, "building affinity group")
		}
		groups = append(groups, g)
	}
	return groups, nil
}
