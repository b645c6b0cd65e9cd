package config

import (
	"context"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/querysched/config/jsonconfig"
	"github.com/twitter/querysched/executor/execers"
	"github.com/twitter/querysched/scheduler/domain"
	"github.com/twitter/querysched/scheduler/group"
	"github.com/twitter/querysched/scheduler/server"
)

const fullJSON = `{
  "Scheduler": {"Type": "tokenbucket", "Workers": 8, "MaxQueueDepth": 0, "MaxWait": "30s",
                "ShutdownGrace": "10s", "StarvationThreshold": "5s", "GroupIdleTimeout": "1h",
                "MaxInFlightPerGroup": 2, "ExpiryCheckInterval": "1s",
                "Classifier": {"Type": "table", "Rules": [{"Pattern": "^ads_", "Group": "ads"}]},
                "DefaultGroup": {"Capacity": 100, "Rate": 10},
                "Groups": {"ads": {"Capacity": 50, "Rate": 5}}},
  "Stats": {"Type": "finagle"},
  "Admin": {"Type": "http", "Addr": "localhost:9095"}
}`

const fullTOML = `
[Scheduler]
Type = "tokenbucket"
Workers = 8
MaxQueueDepth = 0
MaxWait = "30s"
ShutdownGrace = "10s"
StarvationThreshold = "5s"
GroupIdleTimeout = "1h"
MaxInFlightPerGroup = 2
ExpiryCheckInterval = "1s"

[Scheduler.Classifier]
Type = "table"

[[Scheduler.Classifier.Rules]]
Pattern = "^ads_"
Group = "ads"

[Scheduler.DefaultGroup]
Capacity = 100
Rate = 10

[Scheduler.Groups.ads]
Capacity = 50
Rate = 5

[Stats]
Type = "finagle"

[Admin]
Type = "http"
Addr = "localhost:9095"
`

func TestJSONAndTOMLAgree(t *testing.T) {
	fromJSON, err := Parse([]byte(fullJSON), jsonconfig.JSON)
	require.NoError(t, err)
	fromTOML, err := Parse([]byte(fullTOML), jsonconfig.TOML)
	require.NoError(t, err)

	if !assert.Equal(t, fromJSON.Scheduler.Create(), fromTOML.Scheduler.Create()) {
		t.Log(spew.Sdump(fromJSON, fromTOML))
	}
	assert.Equal(t, fromJSON.Scheduler.Classifier, fromTOML.Scheduler.Classifier)
	assert.Equal(t, *fromJSON.Admin, *fromTOML.Admin)

	cfg := fromJSON.Scheduler.Create()
	assert.Equal(t, server.TokenPriorityName, cfg.Type)
	assert.Equal(t, 5*time.Second, cfg.StarvationThreshold)
	assert.Equal(t, time.Hour, cfg.GroupIdleTimeout)
	assert.Equal(t, group.Limits{Capacity: 50, Rate: 5}, cfg.Groups["ads"])
	assert.Equal(t, "localhost:9095", fromJSON.Admin.Addr)
}

func TestDefaults(t *testing.T) {
	c, err := Parse(nil, jsonconfig.JSON)
	require.NoError(t, err)
	cfg := c.Scheduler.Create()
	assert.Equal(t, server.FCFSName, cfg.Type)
	assert.Equal(t, server.DefaultWorkers, cfg.Workers)
	assert.Equal(t, server.DefaultShutdownGrace, cfg.ShutdownGrace)
	assert.Equal(t, "finagle", c.Stats.Type)
	assert.True(t, c.Admin.Enabled())
	assert.Equal(t, DefaultAdminAddr, c.Admin.Addr)

	c, err = Parse([]byte(`{"Scheduler": {"Type": "bounded_fcfs", "Workers": 2}}`), jsonconfig.JSON)
	require.NoError(t, err)
	assert.Equal(t, server.DefaultMaxQueueDepth, c.Scheduler.MaxQueueDepth)
	assert.Equal(t, 2, c.Scheduler.Workers)

	c, err = Parse([]byte(`{"Scheduler": {"Type": "tokenbucket"}}`), jsonconfig.JSON)
	require.NoError(t, err)
	assert.Equal(t, server.DefaultStarvationThreshold, c.Scheduler.Create().StarvationThreshold)
	assert.Equal(t, 0, c.Scheduler.MaxQueueDepth)

	c, err = Parse([]byte(`{"Scheduler": {"Type": "somethingelse"}, "Admin": {"Type": "none"}}`), jsonconfig.JSON)
	require.NoError(t, err)
	assert.Equal(t, "somethingelse", c.Scheduler.Type)
	assert.False(t, c.Admin.Enabled())
}

func TestInvalidConfigs(t *testing.T) {
	for _, text := range []string{
		`{"Scheduler": {"Workers": 0}}`,
		`{"Scheduler": {"MaxQueueDepth": -1}}`,
		`{"Scheduler": {"MaxWait": "-1s"}}`,
		`{"Scheduler": {"MaxWait": "whenever"}}`,
		`{"Scheduler": {"DefaultGroup": {"Capacity": -1, "Rate": 1}}}`,
		`{"Scheduler": {"Groups": {"ads": {"Capacity": 1, "Rate": -1}}}}`,
		`{"Scheduler": {"Classifier": {"Type": "shard"}}}`,
		`{"Scheduler": {"Classifier": {"Rules": [{"Pattern": "(", "Group": "x"}]}}}`,
		`{"Stats": {"Type": "statsd"}}`,
		`{"Admin": {"Type": "http", "Addr": ""}}`,
	} {
		if _, err := Parse([]byte(text), jsonconfig.JSON); err == nil {
			t.Fatalf("expected %s to be rejected", text)
		}
	}
}

func TestNamedConfigs(t *testing.T) {
	for name := range SchedulerConfigs {
		c, err := Load(name)
		if err != nil {
			t.Fatalf("named config %s: %v", name, err)
		}
		assert.Equal(t, 4, c.Scheduler.Workers, name)
	}
	c, err := Load("local.bounded")
	require.NoError(t, err)
	assert.Equal(t, server.BoundedFCFSName, c.Scheduler.Type)
	assert.Equal(t, 100, c.Scheduler.MaxQueueDepth)

	_, err = Load("local.nothing")
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	c, err := Parse([]byte(fullJSON), jsonconfig.JSON)
	require.NoError(t, err)

	exec := execers.NewSimExecutor(nil)
	s, err := c.Build(server.Deps{Executor: exec})
	require.NoError(t, err)
	assert.Equal(t, server.TokenPriorityName, s.Name())
	require.NoError(t, s.Start())
	defer s.Stop()

	h := s.Submit(&domain.QueryRequest{Table: "ads_clicks", Payload: execers.SimQuery{Value: "ok"}})
	res, err := h.Wait(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, domain.Complete, res.Outcome)
	assert.Equal(t, "ads", res.GroupKey)
	assert.Equal(t, "ok", res.Value)

	_, err = (&Config{Scheduler: schedulerDefaults(server.FCFSName), Stats: &StatsConfig{}, Admin: &AdminConfig{}}).
		Build(server.Deps{})
	assert.Error(t, err, "an executor is required")
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
