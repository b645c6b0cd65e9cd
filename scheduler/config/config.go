// Package config reads querysched configuration (JSON or TOML, or a named
// built-in config) and builds the scheduler it describes.
package config

import (
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/querysched/common/stats"
	"github.com/twitter/querysched/config/jsonconfig"
	"github.com/twitter/querysched/scheduler/group"
	"github.com/twitter/querysched/scheduler/server"
)

const (
	DefaultAdminAddr = "localhost:9094"

	// Scope of the MetricsSink counters within the process stats.
	RequestStatsScope = "requests"
)

// SchedulerConfig is the "Scheduler" section. Type names a registered
// strategy; an unknown Type builds fcfs.
type SchedulerConfig struct {
	Type                string
	Workers             int
	MaxQueueDepth       int
	MaxWait             jsonconfig.Duration
	ShutdownGrace       jsonconfig.Duration
	StarvationThreshold jsonconfig.Duration
	GroupIdleTimeout    jsonconfig.Duration
	MaxInFlightPerGroup int
	ExpiryCheckInterval jsonconfig.Duration

	Classifier   ClassifierConfig
	DefaultGroup group.Limits
	Groups       map[string]group.Limits
}

type ClassifierConfig struct {
	Type  string // table (default) or tenant
	Rules []group.Rule
}

func (c SchedulerConfig) String() string {
	return fmt.Sprintf("SchedulerConfig: %s, Classifier: %+v", c.Create(), c.Classifier)
}

// Create converts to the server's config.
func (c *SchedulerConfig) Create() server.Config {
	return server.Config{
		Type:                c.Type,
		Workers:             c.Workers,
		MaxQueueDepth:       c.MaxQueueDepth,
		MaxWait:             c.MaxWait.D(),
		ShutdownGrace:       c.ShutdownGrace.D(),
		StarvationThreshold: c.StarvationThreshold.D(),
		GroupIdleTimeout:    c.GroupIdleTimeout.D(),
		MaxInFlightPerGroup: c.MaxInFlightPerGroup,
		ExpiryCheckInterval: c.ExpiryCheckInterval.D(),
		DefaultGroup:        c.DefaultGroup,
		Groups:              c.Groups,
	}
}

func (c *SchedulerConfig) CreateClassifier() (group.Classifier, error) {
	return group.NewClassifier(c.Classifier.Type, c.Classifier.Rules)
}

func (c *SchedulerConfig) Validate() error {
	if err := c.Create().Validate(); err != nil {
		return err
	}
	if _, err := c.CreateClassifier(); err != nil {
		return err
	}
	return nil
}

// StatsConfig is the "Stats" section: "finagle" renders flat names with
// percentiles, "default" renders go-metrics' own JSON.
type StatsConfig struct {
	Type string
}

func (c *StatsConfig) Validate() error { return nil }

func (c *StatsConfig) Create() stats.StatsReceiver {
	if c.Type == "default" {
		return stats.DefaultStatsReceiver()
	}
	return stats.NewFinagleStatsReceiver()
}

// AdminConfig is the "Admin" section: "http" serves the admin endpoints on
// Addr, "none" disables them.
type AdminConfig struct {
	Type string
	Addr string
}

func (c *AdminConfig) Enabled() bool { return c.Type != "none" }

func (c *AdminConfig) Validate() error {
	if c.Enabled() && c.Addr == "" {
		return errors.New("Admin.Addr must be set")
	}
	return nil
}

// Config is a fully parsed and validated configuration.
type Config struct {
	Scheduler *SchedulerConfig
	Stats     *StatsConfig
	Admin     *AdminConfig
}

func (c *Config) String() string {
	return fmt.Sprintf("%s\nStatsConfig: %+v\nAdminConfig: %+v", c.Scheduler, *c.Stats, *c.Admin)
}

func schedulerDefaults(typ string) *SchedulerConfig {
	def := server.DefaultConfig()
	c := &SchedulerConfig{
		Type:                typ,
		Workers:             def.Workers,
		MaxWait:             jsonconfig.Duration(def.MaxWait),
		ShutdownGrace:       jsonconfig.Duration(def.ShutdownGrace),
		ExpiryCheckInterval: jsonconfig.Duration(def.ExpiryCheckInterval),
		DefaultGroup:        def.DefaultGroup,
	}
	switch typ {
	case server.BoundedFCFSName:
		c.MaxQueueDepth = def.MaxQueueDepth
	case server.TokenPriorityName:
		c.StarvationThreshold = jsonconfig.Duration(def.StarvationThreshold)
	}
	return c
}

// Schema lists every section and the defaults of each implementation.
func Schema() jsonconfig.Schema {
	return jsonconfig.Schema{
		"Scheduler": {
			server.FCFSName:          schedulerDefaults(server.FCFSName),
			server.BoundedFCFSName:   schedulerDefaults(server.BoundedFCFSName),
			server.TokenPriorityName: schedulerDefaults(server.TokenPriorityName),
			jsonconfig.WildcardImpl:  schedulerDefaults(""),
			jsonconfig.DefaultImpl:   schedulerDefaults(server.FCFSName),
		},
		"Stats": {
			"finagle":              &StatsConfig{},
			"default":              &StatsConfig{},
			jsonconfig.DefaultImpl: &StatsConfig{Type: "finagle"},
		},
		"Admin": {
			"http":                 &AdminConfig{Addr: DefaultAdminAddr},
			"none":                 &AdminConfig{},
			jsonconfig.DefaultImpl: &AdminConfig{Type: "http", Addr: DefaultAdminAddr},
		},
	}
}

// Parse parses and validates text.
func Parse(text []byte, format jsonconfig.Format) (*Config, error) {
	parsed, err := Schema().ParseText(text, format)
	if err != nil {
		return nil, err
	}
	if err := parsed.Validate(); err != nil {
		return nil, err
	}
	return &Config{
		Scheduler: parsed["Scheduler"].(*SchedulerConfig),
		Stats:     parsed["Stats"].(*StatsConfig),
		Admin:     parsed["Admin"].(*AdminConfig),
	}, nil
}

// Load resolves configFlag as a file, a named config, or literal JSON, then parses it.
func Load(configFlag string) (*Config, error) {
	text, format, err := jsonconfig.GetConfigText(configFlag, Asset)
	if err != nil {
		return nil, err
	}
	c, err := Parse(text, format)
	if err != nil {
		return nil, errors.Wrapf(err, "config %q", configFlag)
	}
	log.Infof("Loaded config %q:\n%s", configFlag, c)
	return c, nil
}

// Build creates the configured scheduler. Collaborators already set on deps
// are kept; a missing Classifier comes from the config, a missing Stat from
// the Stats section and a missing Sink counts events under RequestStatsScope.
func (c *Config) Build(deps server.Deps) (server.Scheduler, error) {
	if deps.Classifier == nil {
		classifier, err := c.Scheduler.CreateClassifier()
		if err != nil {
			return nil, err
		}
		deps.Classifier = classifier
	}
	if deps.Stat == nil {
		deps.Stat = c.Stats.Create()
	}
	if deps.Sink == nil {
		deps.Sink = stats.NewStatsSink(deps.Stat.Scope(RequestStatsScope))
	}
	return server.New(c.Scheduler.Create(), deps)
}
