package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/twitter/querysched/executor/execers"
	"github.com/twitter/querysched/perftests/loadgen"
	"github.com/twitter/querysched/scheduler/config"
	"github.com/twitter/querysched/scheduler/server"
)

const defaultLoad = "ads:200:400:5ms,web:50:100:5ms,batch:20:40:50ms"

// simulateCmd runs the same synthetic load against one or more strategies
// and prints a per-group report for each.
type simulateCmd struct {
	configFlag     string
	strategies     []string
	groups         []string
	maxRetries     uint64
	initialBackoff time.Duration
	timeout        time.Duration
}

func (s *simulateCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Compare scheduling strategies under synthetic load",
	}
	cmd.Flags().StringVar(&s.configFlag, "config", defaultConfig, "Named config, .json/.toml file, or JSON text")
	cmd.Flags().StringSliceVar(&s.strategies, "strategies", nil, "Strategies to compare, defaults to the configured one")
	cmd.Flags().StringSliceVar(&s.groups, "load", strings.Split(defaultLoad, ","), "Load per group, table:qps:count[:duration], repeatable")
	cmd.Flags().Uint64Var(&s.maxRetries, "max_retries", loadgen.DefaultMaxRetries, "Retries of an Overloaded submission")
	cmd.Flags().DurationVar(&s.initialBackoff, "initial_backoff", loadgen.DefaultInitialBackoff, "First retry delay after Overloaded")
	cmd.Flags().DurationVar(&s.timeout, "timeout", 5*time.Minute, "Give up on a simulation after this long")
	return cmd
}

func (s *simulateCmd) run(c *CLI, cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(s.configFlag)
	if err != nil {
		return err
	}
	load := loadgen.Args{MaxRetries: s.maxRetries, InitialBackoff: s.initialBackoff}
	for _, g := range s.groups {
		gl, err := ParseGroupLoad(g)
		if err != nil {
			return err
		}
		load.Groups = append(load.Groups, gl)
	}
	strategies := s.strategies
	if len(strategies) == 0 {
		strategies = []string{cfg.Scheduler.Type}
	}

	for _, strategy := range strategies {
		sc := *cfg.Scheduler
		sc.Type = strategy
		if strategy == server.BoundedFCFSName && sc.MaxQueueDepth == 0 {
			sc.MaxQueueDepth = server.DefaultMaxQueueDepth
		}
		run := *cfg
		run.Scheduler = &sc
		report, err := s.simulate(&run, load)
		if err != nil {
			return errors.Wrapf(err, "simulating %s", strategy)
		}
		fmt.Fprintln(c.out, report)
	}
	return nil
}

func (s *simulateCmd) simulate(cfg *config.Config, args loadgen.Args) (*loadgen.Report, error) {
	sched, err := cfg.Build(server.Deps{Executor: execers.NewSimExecutor(nil)})
	if err != nil {
		return nil, err
	}
	if err := sched.Start(); err != nil {
		return nil, err
	}
	defer sched.Stop()

	lg, err := loadgen.NewLoadGenerator(sched, args, nil)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return lg.Run(ctx)
}

// ParseGroupLoad parses table:qps:count[:duration], eg "ads:50:200:20ms".
func ParseGroupLoad(s string) (loadgen.GroupLoad, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 3 || len(parts) > 4 {
		return loadgen.GroupLoad{}, errors.Errorf("load %q must be table:qps:count[:duration]", s)
	}
	qps, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return loadgen.GroupLoad{}, errors.Wrapf(err, "load %q qps", s)
	}
	count, err := strconv.Atoi(parts[2])
	if err != nil {
		return loadgen.GroupLoad{}, errors.Wrapf(err, "load %q count", s)
	}
	gl := loadgen.GroupLoad{Table: parts[0], QPS: qps, Count: count}
	if len(parts) == 4 {
		d, err := time.ParseDuration(parts[3])
		if err != nil {
			return loadgen.GroupLoad{}, errors.Wrapf(err, "load %q duration", s)
		}
		gl.Query.Duration = d
	}
	return gl, nil
}
