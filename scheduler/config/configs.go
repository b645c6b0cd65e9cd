package config

import (
	"sort"

	"github.com/pkg/errors"
)

// SchedulerConfigs are the named built-in configurations, selectable by name
// wherever a config flag is accepted.
var SchedulerConfigs = map[string]string{
	"local.fcfs":        localFCFS,
	"local.bounded":     localBounded,
	"local.tokenbucket": localTokenBucket,
}

// Asset returns the text of a named config.
func Asset(name string) ([]byte, error) {
	text, ok := SchedulerConfigs[name]
	if !ok {
		keys := make([]string, 0, len(SchedulerConfigs))
		for k := range SchedulerConfigs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, errors.Errorf("invalid configuration %s, supported values are %v", name, keys)
	}
	return []byte(text), nil
}

const localFCFS = `{
  "Scheduler": {
    "Type": "fcfs",
    "Workers": 4,
    "ShutdownGrace": "5s"
  },
  "Stats": {"Type": "finagle"},
  "Admin": {"Type": "http", "Addr": "localhost:9094"}
}`

const localBounded = `{
  "Scheduler": {
    "Type": "bounded_fcfs",
    "Workers": 4,
    "MaxQueueDepth": 100,
    "MaxWait": "10s",
    "ShutdownGrace": "5s",
    "ExpiryCheckInterval": "500ms"
  },
  "Stats": {"Type": "finagle"},
  "Admin": {"Type": "http", "Addr": "localhost:9094"}
}`

const localTokenBucket = `{
  "Scheduler": {
    "Type": "tokenbucket",
    "Workers": 4,
    "ShutdownGrace": "5s",
    "StarvationThreshold": "5s",
    "GroupIdleTimeout": "1h",
    "Classifier": {"Type": "table"},
    "DefaultGroup": {"Capacity": 100, "Rate": 10}
  },
  "Stats": {"Type": "finagle"},
  "Admin": {"Type": "http", "Addr": "localhost:9094"}
}`
