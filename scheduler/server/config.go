package server

import (
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/twitter/querysched/common/stats"
	"github.com/twitter/querysched/scheduler/domain"
	"github.com/twitter/querysched/scheduler/group"
)

const (
	DefaultWorkers             = 8
	DefaultMaxQueueDepth       = 1000
	DefaultMaxWait             = 30 * time.Second
	DefaultShutdownGrace       = 10 * time.Second
	DefaultExpiryCheckInterval = time.Second
	DefaultStarvationThreshold = 5 * time.Second
)

// Config variables read at construction. Strategies ignore the parameters
// they have no use for.
//
// MaxQueueDepth -
//
//	bounded_fcfs and tokenbucket: rejects Submit while this many requests are queued. 0 is unbounded.
//
// MaxWait -
//
//	bounded_fcfs: requests waiting longer are resolved TimedOut instead of dispatched. 0 disables.
//
// StarvationThreshold -
//
//	tokenbucket: heads waiting at least this long rank first. 0 means DefaultStarvationThreshold.
//
// GroupIdleTimeout -
//
//	groups with no queued or in-flight work for this long are evicted. 0 disables.
//
// MaxInFlightPerGroup -
//
//	tokenbucket: groups with this many requests running rank below others. 0 disables.
//
// ExpiryCheckInterval -
//
//	bounded_fcfs: how often queued requests are checked against MaxWait and their deadline. 0 disables.
type Config struct {
	Type                string
	Workers             int
	MaxQueueDepth       int
	MaxWait             time.Duration
	ShutdownGrace       time.Duration
	StarvationThreshold time.Duration
	GroupIdleTimeout    time.Duration
	MaxInFlightPerGroup int
	ExpiryCheckInterval time.Duration

	DefaultGroup group.Limits
	Groups       map[string]group.Limits
}

func (c Config) String() string {
	return fmt.Sprintf("Config: Type: %s, Workers: %d, MaxQueueDepth: %d, MaxWait: %s, ShutdownGrace: %s, "+
		"StarvationThreshold: %s, GroupIdleTimeout: %s, MaxInFlightPerGroup: %d, ExpiryCheckInterval: %s, "+
		"DefaultGroup: %+v, Groups: %v",
		c.Type, c.Workers, c.MaxQueueDepth, c.MaxWait, c.ShutdownGrace, c.StarvationThreshold, c.GroupIdleTimeout,
		c.MaxInFlightPerGroup, c.ExpiryCheckInterval, c.DefaultGroup, c.Groups)
}

// DefaultConfig returns an fcfs config with every default filled in.
func DefaultConfig() Config {
	return Config{
		Type:                FCFSName,
		Workers:             DefaultWorkers,
		MaxQueueDepth:       DefaultMaxQueueDepth,
		MaxWait:             DefaultMaxWait,
		ShutdownGrace:       DefaultShutdownGrace,
		StarvationThreshold: DefaultStarvationThreshold,
		ExpiryCheckInterval: DefaultExpiryCheckInterval,
		DefaultGroup:        group.Limits{Capacity: 100, Rate: 10},
	}
}

// Validate checks parameters shared by every strategy.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("Workers must be positive, got %d", c.Workers)
	}
	if c.MaxQueueDepth < 0 {
		return fmt.Errorf("MaxQueueDepth must not be negative, got %d", c.MaxQueueDepth)
	}
	if c.MaxInFlightPerGroup < 0 {
		return fmt.Errorf("MaxInFlightPerGroup must not be negative, got %d", c.MaxInFlightPerGroup)
	}
	for name, d := range map[string]time.Duration{
		"MaxWait":             c.MaxWait,
		"ShutdownGrace":       c.ShutdownGrace,
		"StarvationThreshold": c.StarvationThreshold,
		"GroupIdleTimeout":    c.GroupIdleTimeout,
		"ExpiryCheckInterval": c.ExpiryCheckInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	if err := validateLimits("DefaultGroup", c.DefaultGroup); err != nil {
		return err
	}
	for key, l := range c.Groups {
		if err := validateLimits("Groups["+key+"]", l); err != nil {
			return err
		}
	}
	return nil
}

func validateLimits(name string, l group.Limits) error {
	if l.Capacity < 0 || l.Rate < 0 {
		return fmt.Errorf("%s capacity and rate must not be negative, got %+v", name, l)
	}
	return nil
}

// Deps are the collaborators a scheduler calls out to. Only Executor is
// required.
type Deps struct {
	Executor   domain.QueryExecutor
	Classifier group.Classifier
	Sink       domain.MetricsSink
	Stat       stats.StatsReceiver
	Clock      clock.WithTicker
}

func (d Deps) withDefaults() (Deps, error) {
	if d.Executor == nil {
		return d, fmt.Errorf("scheduler needs a QueryExecutor")
	}
	if d.Classifier == nil {
		d.Classifier = group.ByTable
	}
	if d.Sink == nil {
		d.Sink = domain.NopMetricsSink()
	}
	if d.Stat == nil {
		d.Stat = stats.NilStatsReceiver()
	}
	if d.Clock == nil {
		d.Clock = clock.RealClock{}
	}
	return d, nil
}
