package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"k8s.io/utils/clock"

	"github.com/twitter/querysched/common/endpoints"
	"github.com/twitter/querysched/common/stats"
	"github.com/twitter/querysched/executor/execers"
	"github.com/twitter/querysched/perftests/loadgen"
	"github.com/twitter/querysched/scheduler/config"
	"github.com/twitter/querysched/scheduler/server"
)

const uptimeInterval = 15 * time.Second

// runCmd hosts a scheduler backed by the simulated executor, with the admin
// endpoints, until interrupted. Optional background load keeps it busy.
type runCmd struct {
	configFlag string
	adminAddr  string
	groups     []string
	maxRetries uint64

	// For tests: stops the command instead of a signal.
	ctx context.Context
}

func (r *runCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scheduler and serve its admin endpoints",
	}
	cmd.Flags().StringVar(&r.configFlag, "config", defaultConfig, "Named config, .json/.toml file, or JSON text")
	cmd.Flags().StringVar(&r.adminAddr, "admin_addr", "", "Override the configured admin address")
	cmd.Flags().StringSliceVar(&r.groups, "load", nil, "Background load, table:qps:count[:duration], repeatable")
	cmd.Flags().Uint64Var(&r.maxRetries, "max_retries", loadgen.DefaultMaxRetries, "Retries of an Overloaded submission")
	return cmd
}

func (r *runCmd) run(c *CLI, cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(r.configFlag)
	if err != nil {
		return err
	}
	if r.adminAddr != "" {
		cfg.Admin.Addr = r.adminAddr
	}
	var load []loadgen.GroupLoad
	for _, g := range r.groups {
		gl, err := ParseGroupLoad(g)
		if err != nil {
			return err
		}
		load = append(load, gl)
	}

	ctx := r.ctx
	if ctx == nil {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
	}

	stat := cfg.Stats.Create().Precision(time.Millisecond)
	sched, err := cfg.Build(server.Deps{Executor: execers.NewSimExecutor(nil), Stat: stat})
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()
	go stats.StartUptimeReporting(ctx, stat, clock.RealClock{}, uptimeInterval)

	errCh := make(chan error, 2)
	if cfg.Admin.Enabled() {
		admin := endpoints.NewTwitterServer(cfg.Admin.Addr, stat, sched)
		go func() { errCh <- admin.Serve(ctx) }()
	}
	if len(load) > 0 {
		lg, err := loadgen.NewLoadGenerator(sched, loadgen.Args{Groups: load, MaxRetries: r.maxRetries}, stat)
		if err != nil {
			return err
		}
		go func() {
			report, err := lg.Run(ctx)
			if report != nil {
				log.Infof("Background load finished:\n%s", report)
			}
			if err != nil && ctx.Err() == nil {
				log.Errorf("Background load: %v", err)
			}
		}()
	}

	log.Infof("Running %s scheduler, interrupt to stop", sched.Name())
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}
