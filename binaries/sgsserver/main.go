package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/reddwarf/sgs/common/endpoints"
	"github.com/reddwarf/sgs/common/errors"
	"github.com/reddwarf/sgs/common/log/hooks"
	"github.com/reddwarf/sgs/common/stats"
	"github.com/reddwarf/sgs/config"
	"github.com/reddwarf/sgs/starter"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	config   string
	logLevel string
	sim      starter.SimulationConfig
}

func main() {
	log.AddHook(hooks.NewContextHook())

	opts := &options{}
	cmd := makeRootCmd(opts)
	if err := cmd.Execute(); err != nil {
		log.Error(err)
		if e, ok := err.(*errors.ExitCodeError); ok {
			os.Exit(int(e.GetExitCode()))
		}
		os.Exit(1)
	}
}

func makeRootCmd(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "sgsserver",
		Short:         "runs the task scheduler with affinity-group rebalancing",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.ParseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			log.SetLevel(level)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.config, "config", "local.memory",
		fmt.Sprintf("config name %v or path to a .json, .yaml or .toml file", config.Names()))
	root.PersistentFlags().StringVar(&opts.logLevel, "log_level", "info", "Log everything at this level and above (error|info|debug)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "run the server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	simulate := &cobra.Command{
		Use:   "simulate",
		Short: "run a synthetic game workload once and report how rooms were colocated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts)
		},
	}
	simulate.Flags().IntVar(&opts.sim.Players, "players", 40, "number of players")
	simulate.Flags().IntVar(&opts.sim.Rooms, "rooms", 8, "number of rooms")
	simulate.Flags().IntVar(&opts.sim.Rounds, "rounds", 10, "task rounds before rebalancing")
	simulate.Flags().Int64Var(&opts.sim.Seed, "seed", 0, "random seed for room assignment")

	show := &cobra.Command{
		Use:   "config",
		Short: "print the resolved config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(opts)
			if err != nil {
				return err
			}
			spew.Fdump(cmd.OutOrStdout(), c)
			return nil
		},
	}

	root.AddCommand(serve, simulate, show)
	return root
}

func loadConfig(opts *options) (config.ServerConfig, error) {
	c, err := config.GetConfig(opts.config)
	if err != nil {
		return c, errors.NewError(err, errors.ConfigLoadFailureExitCode)
	}
	c = c.WithDefaults()
	if err := c.Validate(); err != nil {
		return c, errors.NewError(err, errors.ConfigInvalidExitCode)
	}
	return c, nil
}

func runServe(opts *options) error {
	c, err := loadConfig(opts)
	if err != nil {
		return err
	}
	stat, cancelStats := endpoints.MakeStatsReceiver("sgs", 15*time.Second)
	defer cancelStats()

	s, err := starter.NewServer(c, stat)
	if err != nil {
		return errors.NewError(err, errors.ConfigInvalidExitCode)
	}
	if err := s.Start(); err != nil {
		return errors.NewError(err, errors.NodeMapFailureExitCode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stats.StartUptimeReporting(ctx, stat, stats.ServerUptime_ms)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.WithField("signal", sig).Info("shutting down")
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := s.Shutdown(shutdownCtx); err != nil {
			log.WithField("err", err).Error("admin server did not shut down cleanly")
		}
	}()

	log.WithField("addr", c.Admin.Addr).Info("serving admin endpoints")
	if err := s.Serve(); err != nil {
		return errors.NewError(err, errors.AdminServeFailureExitCode)
	}
	return nil
}

func runSimulate(opts *options) error {
	c, err := loadConfig(opts)
	if err != nil {
		return err
	}
	c.Scheduler.DebugMode = true
	stat, cancelStats := stats.NewCustomStatsReceiver(stats.NewFinagleStatsRegistry, 0)
	defer cancelStats()

	s, err := starter.NewServer(c, stat)
	if err != nil {
		return errors.NewError(err, errors.ConfigInvalidExitCode)
	}
	if err := s.Start(); err != nil {
		return errors.NewError(err, errors.SimulationFailureExitCode)
	}
	defer func() {
		ctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		s.Shutdown(ctx)
	}()

	report, err := starter.Simulate(context.Background(), s, opts.sim)
	if err != nil {
		return errors.NewError(err, errors.SimulationFailureExitCode)
	}
	fmt.Println(report)
	return nil
}
