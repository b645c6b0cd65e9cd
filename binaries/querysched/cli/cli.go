// Package cli implements the querysched command line: run, simulate and status.
package cli

import (
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/twitter/querysched/common/log/hooks"
)

const defaultConfig = "local.fcfs"

type CLI struct {
	rootCmd *cobra.Command
	out     io.Writer

	logLevel string
}

func NewCLI(out io.Writer) *CLI {
	c := &CLI{out: out}
	c.rootCmd = &cobra.Command{
		Use:               "querysched",
		Short:             "querysched schedules analytical queries across tenant groups",
		SilenceUsage:      true,
		PersistentPreRunE: c.setupLogging,
	}
	c.rootCmd.SetOut(out)
	c.rootCmd.PersistentFlags().StringVar(&c.logLevel, "log_level", "info", "Log everything at this level and above (error|warn|info|debug)")

	c.addCmd(&runCmd{})
	c.addCmd(&simulateCmd{})
	c.addCmd(&statusCmd{})
	return c
}

func (c *CLI) Exec() error {
	return c.rootCmd.Execute()
}

// SetArgs replaces os.Args[1:], for tests.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

func (c *CLI) setupLogging(cmd *cobra.Command, args []string) error {
	level, err := log.ParseLevel(c.logLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	hookOnce.Do(func() { log.AddHook(hooks.NewContextHook()) })
	return nil
}

var hookOnce sync.Once

func (c *CLI) addCmd(cmd command) {
	cobraCmd := cmd.registerFlags()
	cobraCmd.RunE = func(innerCmd *cobra.Command, args []string) error {
		return cmd.run(c, innerCmd, args)
	}
	c.rootCmd.AddCommand(cobraCmd)
}

type command interface {
	registerFlags() *cobra.Command
	run(c *CLI, cmd *cobra.Command, args []string) error
}
