package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/san-kum/rwpend/internal/config"
	"github.com/san-kum/rwpend/internal/experiment"
	"github.com/san-kum/rwpend/internal/storage"
)

var (
	dataDir    string
	configFile string
	preset     string
	logLevel   string

	controller string
	estimator  string
	policyName string
	integrator string
	dt         float64
	duration   float64
	angle      float64
	angleRate  float64
	wheelSpeed float64
	seed       uint64
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "rwpend",
		Short:         "reaction wheel inverted pendulum lab",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			log.SetLevel(level)
			log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".rwpend", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&preset, "preset", "", "start from a named preset")

	rootCmd.AddCommand(
		simCommand(),
		benchCommand(),
		synthCommand(),
		policiesCommand(),
		policyMapCommand(),
		listCommand(),
		plotCommand(),
		exportCommand(),
		analyzeCommand(),
		deleteCommand(),
		receiveCommand(),
		presetsCommand(),
		configCommand(),
		tuneCommand(),
		scenarioCommand(),
		monteCarloCommand(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runFlags registers the flags shared by commands that build a run.
func runFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&controller, "controller", "hybrid", "controller")
	cmd.Flags().StringVar(&estimator, "estimator", "nonlinear", "estimator model")
	cmd.Flags().StringVar(&policyName, "policy", "", "stored policy for the policy controller")
	cmd.Flags().Float64Var(&dt, "dt", config.DefaultDt, "control period, s")
	cmd.Flags().Float64Var(&duration, "time", config.DefaultDuration, "duration, s")
	cmd.Flags().Float64Var(&angle, "angle", 0, "initial angle, rad (0 = upright)")
	cmd.Flags().Float64Var(&angleRate, "angle-rate", 0, "initial angular rate, rad/s")
	cmd.Flags().Float64Var(&wheelSpeed, "wheel", 0, "initial wheel speed, rad/s")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "random seed")
}

// loadConfig layers defaults, preset, config file and explicitly set flags
// in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("controller") {
		cfg.Controller = controller
	}
	if flags.Changed("estimator") {
		cfg.Estimator = estimator
	}
	if flags.Changed("policy") {
		cfg.Policy = policyName
	}
	if flags.Changed("integrator") {
		cfg.Solver.Integrator = integrator
	}
	if flags.Changed("dt") {
		cfg.Dt = dt
	}
	if flags.Changed("time") {
		cfg.Duration = duration
	}
	if flags.Changed("angle") {
		cfg.InitState.Angle = angle
	}
	if flags.Changed("angle-rate") {
		cfg.InitState.AngleRate = angleRate
	}
	if flags.Changed("wheel") {
		cfg.InitState.WheelSpeed = wheelSpeed
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	return cfg, cfg.Validate()
}

func openStore() (*storage.Store, error) {
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return nil, err
	}
	return st, nil
}

func newRegistry() (*experiment.Registry, *storage.Store, error) {
	st, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	return experiment.NewRegistry(st), st, nil
}
