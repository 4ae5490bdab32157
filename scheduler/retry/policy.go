// Package retry decides what happens to a task after a failed run.
package retry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/reddwarf/sgs/scheduler/domain"
)

type Decision int

const (
	// Drop discards the task; its failure is final.
	Drop Decision = iota
	// RetryNow re-enqueues the task at its priority right away.
	RetryNow
	// RetryLater re-enqueues the task after Outcome.Delay.
	RetryLater
)

func (d Decision) String() string {
	switch d {
	case RetryNow:
		return "retry-now"
	case RetryLater:
		return "retry-later"
	}
	return "drop"
}

type Outcome struct {
	Decision Decision
	Delay    time.Duration
}

// Policy classifies a failed run. The task's TryCount already includes the
// failed run.
type Policy interface {
	Classify(t *domain.Task, f *domain.Failure) Outcome
}

const (
	DefaultBackoffThreshold = 3
	DefaultInitialBackoff   = 10 * time.Millisecond
	DefaultMaxBackoff       = 5 * time.Second
)

// Config tunes the built-in policies. Zero values take defaults.
type Config struct {
	// Tries beyond this many are backed off.
	BackoffThreshold int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	// MaxTries drops a task after this many runs; 0 retries forever.
	MaxTries int
}

func (c Config) withDefaults() Config {
	if c.BackoffThreshold <= 0 {
		c.BackoffThreshold = DefaultBackoffThreshold
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

// stagedPolicy retries immediately for the first BackoffThreshold tries, then
// backs off. The delay starts at InitialBackoff and doubles every further
// BackoffThreshold tries, capped at MaxBackoff. A backoff hint on the failure
// is honored as a lower bound.
type stagedPolicy struct {
	config Config
}

func NewStagedPolicy(c Config) Policy {
	return &stagedPolicy{config: c.withDefaults()}
}

func (p *stagedPolicy) Classify(t *domain.Task, f *domain.Failure) Outcome {
	if f == nil || !f.ShouldRetry {
		return Outcome{Decision: Drop}
	}
	if p.config.MaxTries > 0 && t.TryCount >= p.config.MaxTries {
		return Outcome{Decision: Drop}
	}
	var delay time.Duration
	if over := t.TryCount - p.config.BackoffThreshold; over > 0 {
		stage := (over-1)/p.config.BackoffThreshold + 1
		delay = p.stagedDelay(stage)
	}
	if f.Backoff > delay {
		delay = f.Backoff
	}
	if delay <= 0 {
		return Outcome{Decision: RetryNow}
	}
	return Outcome{Decision: RetryLater, Delay: delay}
}

// stagedDelay is the stage'th interval of a non-randomized exponential backoff.
func (p *stagedPolicy) stagedDelay(stage int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.config.InitialBackoff,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.config.MaxBackoff,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	var d time.Duration
	for i := 0; i < stage; i++ {
		d = b.NextBackOff()
		if d >= p.config.MaxBackoff {
			return p.config.MaxBackoff
		}
	}
	return d
}

// immediatePolicy retries every retryable failure right away.
type immediatePolicy struct {
	maxTries int
}

func (p *immediatePolicy) Classify(t *domain.Task, f *domain.Failure) Outcome {
	if f == nil || !f.ShouldRetry || (p.maxTries > 0 && t.TryCount >= p.maxTries) {
		return Outcome{Decision: Drop}
	}
	if f.Backoff > 0 {
		return Outcome{Decision: RetryLater, Delay: f.Backoff}
	}
	return Outcome{Decision: RetryNow}
}

// neverPolicy drops every failure.
type neverPolicy struct{}

func (neverPolicy) Classify(*domain.Task, *domain.Failure) Outcome { return Outcome{Decision: Drop} }

const (
	StagedPolicyName    = "staged"
	ImmediatePolicyName = "immediate"
	NeverPolicyName     = "never"
)

// Factory builds a Policy from config.
type Factory func(Config) Policy

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		StagedPolicyName:    NewStagedPolicy,
		ImmediatePolicyName: func(c Config) Policy { return &immediatePolicy{maxTries: c.MaxTries} },
		NeverPolicyName:     func(Config) Policy { return neverPolicy{} },
	}
)

// Register adds a named policy. Call it at startup, before Lookup.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Lookup builds the named policy; "" means staged.
func Lookup(name string, c Config) (Policy, error) {
	if name == "" {
		name = StagedPolicyName
	}
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown retry policy %q, have %v", name, Names())
	}
	return f(c), nil
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
