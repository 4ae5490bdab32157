// Package config holds the server configuration: one section per component,
// with durations written as strings ("250ms", "5m") and zero values meaning
// "use the default".
package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/reddwarf/sgs/affinity/coordinator"
	"github.com/reddwarf/sgs/affinity/finder"
	"github.com/reddwarf/sgs/affinity/graph"
	"github.com/reddwarf/sgs/scheduler/domain"
	"github.com/reddwarf/sgs/scheduler/retry"
	"github.com/reddwarf/sgs/scheduler/server"
)

const (
	DefaultAdminAddr        = "localhost:9091"
	DefaultMemoryNodes      = 4
	DefaultNodeFetchPeriod  = time.Second
	DefaultNodeMapHttpTries = 5

	NodeMapMemory = "memory"
	NodeMapHttp   = "http"
)

type ServerConfig struct {
	Scheduler   SchedulerConfig   `json:"Scheduler"`
	Retry       RetryConfig       `json:"Retry"`
	Graph       GraphConfig       `json:"Graph"`
	Finder      FinderConfig      `json:"Finder"`
	Coordinator CoordinatorConfig `json:"Coordinator"`
	NodeMap     NodeMapConfig     `json:"NodeMap"`
	Admin       AdminConfig       `json:"Admin"`
}

// LevelConfig is one queueing model priority and its dequeue weight.
type LevelConfig struct {
	Priority string `json:"Priority"` // HIGH, NORMAL, ...
	Weight   int    `json:"Weight"`
}

type SchedulerConfig struct {
	NumWorkers    int           `json:"NumWorkers"`    // default to 4
	TaskTimeout   string        `json:"TaskTimeout"`   // default to 100ms
	MaxQueueDepth int           `json:"MaxQueueDepth"` // 0 is unbounded
	DebugMode     bool          `json:"DebugMode"`
	Levels        []LevelConfig `json:"Levels"` // default to HIGH:NORMAL:LOW at 4:2:1
}

type RetryConfig struct {
	Policy           string `json:"Policy"` // staged, immediate, never
	BackoffThreshold int    `json:"BackoffThreshold"`
	InitialBackoff   string `json:"InitialBackoff"`
	MaxBackoff       string `json:"MaxBackoff"`
	MaxTries         int    `json:"MaxTries"` // 0 retries forever
}

type GraphConfig struct {
	PrunePeriod string `json:"PrunePeriod"` // default to 5m
	PruneCount  int    `json:"PruneCount"`  // default to 1
}

type FinderConfig struct {
	Type          string `json:"Type"` // lpa, components
	Seed          int64  `json:"Seed"`
	MaxIterations int    `json:"MaxIterations"`
	MinGroupSize  int    `json:"MinGroupSize"`
}

type CoordinatorConfig struct {
	FindPeriod     string  `json:"FindPeriod"`
	FindTimeout    string  `json:"FindTimeout"`
	MigrationRate  float64 `json:"MigrationRate"` // groups per second, 0 is unlimited
	MigrationBurst int     `json:"MigrationBurst"`
}

type NodeMapConfig struct {
	Type        string `json:"Type"`        // memory, http
	Count       int    `json:"Count"`       // memory: number of nodes, default to 4
	URI         string `json:"URI"`         // http: root of the remote node map
	Tries       int    `json:"Tries"`       // http: tries per request
	FetchPeriod string `json:"FetchPeriod"` // how often membership is polled
	Serve       bool   `json:"Serve"`       // memory: serve the map under /nodemap
}

type AdminConfig struct {
	Addr string `json:"Addr"`
}

func (c ServerConfig) String() string {
	return fmt.Sprintf("ServerConfig: Scheduler: %+v, Retry: %+v, Graph: %+v, Finder: %+v, Coordinator: %+v, NodeMap: %+v, Admin: %+v",
		c.Scheduler, c.Retry, c.Graph, c.Finder, c.Coordinator, c.NodeMap, c.Admin)
}

// WithDefaults returns c with every unset field given its default.
func (c ServerConfig) WithDefaults() ServerConfig {
	s := &c.Scheduler
	if s.NumWorkers <= 0 {
		s.NumWorkers = server.DefaultNumWorkers
	}
	setDuration(&s.TaskTimeout, server.DefaultTaskTimeout)
	if len(s.Levels) == 0 {
		for _, l := range domain.DefaultQueueingModel().Levels() {
			s.Levels = append(s.Levels, LevelConfig{Priority: l.Priority.Name(), Weight: l.Weight})
		}
	} else {
		s.Levels = append([]LevelConfig(nil), s.Levels...)
	}

	r := &c.Retry
	if r.Policy == "" {
		r.Policy = retry.StagedPolicyName
	}
	if r.BackoffThreshold <= 0 {
		r.BackoffThreshold = retry.DefaultBackoffThreshold
	}
	setDuration(&r.InitialBackoff, retry.DefaultInitialBackoff)
	setDuration(&r.MaxBackoff, retry.DefaultMaxBackoff)

	setDuration(&c.Graph.PrunePeriod, graph.DefaultPrunePeriod)
	if c.Graph.PruneCount <= 0 {
		c.Graph.PruneCount = graph.DefaultPruneCount
	}

	f := &c.Finder
	if f.Type == "" {
		f.Type = finder.LabelPropagationName
	}
	if f.MaxIterations <= 0 {
		f.MaxIterations = finder.DefaultMaxIterations
	}
	if f.MinGroupSize <= 0 {
		f.MinGroupSize = finder.DefaultMinGroupSize
	}

	co := &c.Coordinator
	setDuration(&co.FindPeriod, coordinator.DefaultFindPeriod)
	setDuration(&co.FindTimeout, coordinator.DefaultFindTimeout)
	if co.MigrationBurst <= 0 {
		co.MigrationBurst = 1
	}

	n := &c.NodeMap
	if n.Type == "" {
		n.Type = NodeMapMemory
	}
	if n.Type == NodeMapMemory && n.Count <= 0 {
		n.Count = DefaultMemoryNodes
	}
	if n.Tries <= 0 {
		n.Tries = DefaultNodeMapHttpTries
	}
	setDuration(&n.FetchPeriod, DefaultNodeFetchPeriod)

	if c.Admin.Addr == "" {
		c.Admin.Addr = DefaultAdminAddr
	}
	return c
}

func setDuration(s *string, d time.Duration) {
	if *s == "" {
		*s = d.String()
	}
}

func ParseDuration(name, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %s", name)
	}
	return d, nil
}

// Create builds the scheduler config and queueing model.
func (c SchedulerConfig) Create() (server.SchedulerConfig, *domain.QueueingModel, error) {
	timeout, err := ParseDuration("Scheduler.TaskTimeout", c.TaskTimeout)
	if err != nil {
		return server.SchedulerConfig{}, nil, err
	}
	model := domain.DefaultQueueingModel()
	if len(c.Levels) > 0 {
		var levels []domain.Level
		for _, l := range c.Levels {
			p, err := domain.ParsePriority(l.Priority)
			if err != nil {
				return server.SchedulerConfig{}, nil, errors.Wrap(err, "parsing Scheduler.Levels")
			}
			levels = append(levels, domain.Level{Priority: p, Weight: l.Weight})
		}
		if model, err = domain.NewQueueingModel(levels...); err != nil {
			return server.SchedulerConfig{}, nil, errors.Wrap(err, "building queueing model")
		}
	}
	return server.SchedulerConfig{
		NumWorkers:    c.NumWorkers,
		TaskTimeout:   timeout,
		MaxQueueDepth: c.MaxQueueDepth,
		DebugMode:     c.DebugMode,
	}, model, nil
}

func (c RetryConfig) CreatePolicy() (retry.Policy, error) {
	initial, err := ParseDuration("Retry.InitialBackoff", c.InitialBackoff)
	if err != nil {
		return nil, err
	}
	max, err := ParseDuration("Retry.MaxBackoff", c.MaxBackoff)
	if err != nil {
		return nil, err
	}
	return retry.Lookup(c.Policy, retry.Config{
		BackoffThreshold: c.BackoffThreshold,
		InitialBackoff:   initial,
		MaxBackoff:       max,
		MaxTries:         c.MaxTries,
	})
}

func (c GraphConfig) Create() (graph.Config, error) {
	period, err := ParseDuration("Graph.PrunePeriod", c.PrunePeriod)
	if err != nil {
		return graph.Config{}, err
	}
	return graph.Config{PrunePeriod: period, PruneCount: c.PruneCount}, nil
}

func (c FinderConfig) CreateFinder(locator finder.Locator) (finder.Finder, error) {
	return finder.Lookup(c.Type, finder.Config{
		Seed:          c.Seed,
		MaxIterations: c.MaxIterations,
		MinGroupSize:  c.MinGroupSize,
	}, locator)
}

func (c CoordinatorConfig) Create() (coordinator.Config, error) {
	period, err := ParseDuration("Coordinator.FindPeriod", c.FindPeriod)
	if err != nil {
		return coordinator.Config{}, err
	}
	timeout, err := ParseDuration("Coordinator.FindTimeout", c.FindTimeout)
	if err != nil {
		return coordinator.Config{}, err
	}
	return coordinator.Config{
		FindPeriod:     period,
		FindTimeout:    timeout,
		MigrationRate:  c.MigrationRate,
		MigrationBurst: c.MigrationBurst,
	}, nil
}

// Validate checks everything Create and CreatePolicy would reject, plus the
// node map settings.
func (c ServerConfig) Validate() error {
	if _, _, err := c.Scheduler.Create(); err != nil {
		return err
	}
	if _, err := c.Retry.CreatePolicy(); err != nil {
		return err
	}
	if _, err := c.Graph.Create(); err != nil {
		return err
	}
	if _, err := c.Coordinator.Create(); err != nil {
		return err
	}
	if _, err := c.Finder.CreateFinder(nil); err != nil {
		return err
	}
	if _, err := ParseDuration("NodeMap.FetchPeriod", c.NodeMap.FetchPeriod); err != nil {
		return err
	}
	switch c.NodeMap.Type {
	case NodeMapMemory:
	case NodeMapHttp:
		if c.NodeMap.URI == "" {
			return errors.New("NodeMap.URI is required for the http node map")
		}
	default:
		return errors.Errorf("unknown NodeMap.Type %q, supported values are %v", c.NodeMap.Type, []string{NodeMapMemory, NodeMapHttp})
	}
	return nil
}
