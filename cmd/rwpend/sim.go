package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/rwpend/internal/config"
	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/experiment"
	"github.com/san-kum/rwpend/internal/export"
	"github.com/san-kum/rwpend/internal/loop"
	"github.com/san-kum/rwpend/internal/sim"
	"github.com/san-kum/rwpend/internal/storage"
	"github.com/san-kum/rwpend/internal/telemetry"
	"github.com/san-kum/rwpend/internal/tui"
)

var (
	live      bool
	frameRate int
	speed     float64
	serve     bool
	serveAddr string
	pngOut    string
	noSave    bool
)

func simCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "run the closed loop against the simulated plant",
		RunE:  runSim,
	}
	runFlags(cmd)
	cmd.Flags().BoolVar(&live, "live", false, "draw the pendulum while running")
	cmd.Flags().IntVar(&frameRate, "fps", 30, "frame rate for --live")
	cmd.Flags().Float64Var(&speed, "speed", 1, "simulated seconds per wall second when paced (0 = unpaced)")
	cmd.Flags().BoolVar(&serve, "serve", false, "stream telemetry over TCP while running")
	cmd.Flags().StringVar(&serveAddr, "addr", "", "telemetry listen address (overrides config)")
	cmd.Flags().StringVar(&pngOut, "png", "", "also write a figure of the run to this path")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")
	return cmd
}

// pacer holds a run back to speed times wall-clock time.
type pacer struct {
	start time.Time
	speed float64
}

func (p *pacer) OnStep(_ dynamo.State, _ dynamo.Control, t float64) {
	if p.start.IsZero() {
		p.start = time.Now()
	}
	due := p.start.Add(time.Duration(t / p.speed * float64(time.Second)))
	if d := time.Until(due); d > 0 {
		time.Sleep(d)
	}
}

// startTelemetry runs a transmitter and heartbeat for q in g.
func startTelemetry(ctx context.Context, g *errgroup.Group, cfg *config.Config, q *telemetry.Queue) {
	tx := telemetry.NewTransmitter(cfg.TransmitterConfig(), q)
	g.Go(func() error { return tx.Run(ctx) })
	g.Go(func() error {
		telemetry.Heartbeat(ctx, q, cfg.Telemetry.Heartbeat)
		return nil
	})
}

func runSim(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Telemetry.Addr = serveAddr
	}
	registry, st, err := newRegistry()
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(cmd.Context())
	g, gctx := errgroup.WithContext(ctx)
	defer func() {
		stop()
		if err := g.Wait(); err != nil {
			log.WithError(err).Warn("telemetry shutdown")
		}
	}()

	var opts []loop.Option
	streaming := serve || cfg.Telemetry.Enabled
	if streaming {
		q := telemetry.NewQueue(cfg.Telemetry.QueueCapacity)
		opts = append(opts, loop.WithTelemetry(q))
		startTelemetry(gctx, g, cfg, q)
	}

	exp := experiment.New(cfg, registry)
	if err := exp.Setup(opts...); err != nil {
		return err
	}

	if live {
		r := tui.NewLiveRenderer(frameRate)
		r.Speed = speed
		r.Start()
		defer r.Stop()
		err := exp.RunWithCallback(ctx, r.OnFrame)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	if streaming && speed > 0 {
		exp.Simulator().AddObserver(&pacer{speed: speed})
	}

	fmt.Printf("running %s controller, %s estimator...\n", cfg.Controller, cfg.Estimator)
	start := time.Now()
	result, err := exp.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("completed in %v\n", time.Since(start))
	fmt.Printf("steps: %d\n", result.StepsTaken)
	if len(result.Errors) > 0 {
		fmt.Printf("errors: %d (first: %v)\n", len(result.Errors), result.Errors[0])
	}
	printMetrics(result.Metrics)

	if !noSave {
		id, err := st.Save(runMetadata(cfg), result)
		if err != nil {
			return err
		}
		fmt.Printf("run id: %s\n", id)
	}
	if pngOut != "" {
		if err := export.SaveRun(pngOut, result); err != nil {
			return err
		}
		fmt.Printf("figure: %s\n", pngOut)
	}
	return nil
}

func runMetadata(cfg *config.Config) storage.RunMetadata {
	return storage.RunMetadata{
		Controller: cfg.Controller,
		Estimator:  cfg.Estimator,
		Seed:       cfg.Seed,
		Dt:         cfg.Dt,
		Duration:   cfg.Duration,
		Initial:    cfg.InitialState(),
	}
}

func printMetrics(m map[string]float64) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Println("\nmetrics:")
	for _, name := range names {
		fmt.Printf("  %-20s %.6f\n", name, m[name])
	}
}

func benchCommand() *cobra.Command {
	var period time.Duration
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "drive the wheel open loop and sample its speed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("controller") && preset == "" && configFile == "" {
				cfg.Controller = "step"
			}
			if cmd.Flags().Changed("addr") {
				cfg.Telemetry.Addr = serveAddr
			}
			registry, _, err := newRegistry()
			if err != nil {
				return err
			}

			ctx, stop := context.WithCancel(cmd.Context())
			g, gctx := errgroup.WithContext(ctx)
			defer func() {
				stop()
				_ = g.Wait()
			}()

			var q *telemetry.Queue
			if serve || cfg.Telemetry.Enabled {
				q = telemetry.NewQueue(cfg.Telemetry.QueueCapacity)
				startTelemetry(gctx, g, cfg, q)
			}
			b, err := experiment.Bench(cfg, registry, q)
			if err != nil {
				return err
			}
			records, err := b.Run(ctx, period, cfg.Duration)
			if err != nil {
				return err
			}

			w := os.Stdout
			fmt.Fprintln(w, "time_ms\tu\tsigned\tabs")
			for _, r := range records {
				fmt.Fprintf(w, "%d\t%.3f\t%.2f\t%.2f\n", r.TimeMs, r.Control, r.SignedSpeed, r.AbsSpeed)
			}
			return nil
		},
	}
	runFlags(cmd)
	cmd.Flags().DurationVar(&period, "period", sim.DefaultBenchPeriod, "sampling period")
	cmd.Flags().BoolVar(&serve, "serve", false, "stream bench records over TCP")
	cmd.Flags().StringVar(&serveAddr, "addr", "", "telemetry listen address (overrides config)")
	return cmd
}
