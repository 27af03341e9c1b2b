package main

import (
	"fmt"
	"math"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/rwpend/internal/automation"
	"github.com/san-kum/rwpend/internal/config"
	"github.com/san-kum/rwpend/internal/dynamo"
)

func scenarioCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scenario <file>",
		Short: "run the steps of a yaml scenario in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := automation.LoadScenario(args[0])
			if err != nil {
				return err
			}
			base, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			registry, st, err := newRegistry()
			if err != nil {
				return err
			}
			save := func(cfg *config.Config, res *dynamo.Result) (string, error) {
				return st.Save(runMetadata(cfg), res)
			}

			if sc.Description != "" {
				fmt.Println(sc.Description)
			}
			results, err := automation.RunScenario(cmd.Context(), sc, base, registry, save)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STEP\tCONTROLLER\tUPRIGHT\tCAPTURE\tEFFORT\tRUN")
			for _, r := range results {
				m := r.Result.Metrics
				fmt.Fprintf(w, "%s\t%s\t%.3f\t%s\t%.4f\t%s\n",
					r.Step, r.Config.Controller, m["upright"], captureString(m["capture_time"]), m["control_effort"], r.RunID)
			}
			if ferr := w.Flush(); err == nil {
				err = ferr
			}
			return err
		},
	}
}

func monteCarloCommand() *cobra.Command {
	var (
		mc      automation.MonteCarloConfig
		spread  []float64
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "montecarlo",
		Short: "capture rate over randomized initial states",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(spread) != dynamo.StateDim {
				return fmt.Errorf("--spread needs %d values (wheel,angle,rate), got %d", dynamo.StateDim, len(spread))
			}
			copy(mc.Spread[:], spread)
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("mc-seed") {
				mc.Seed = cfg.Seed
			}
			registry, _, err := newRegistry()
			if err != nil {
				return err
			}

			fmt.Printf("running %d trials of %s from %v...\n", mc.Trials, cfg.Controller, cfg.InitialState())
			results, err := automation.RunMonteCarlo(cmd.Context(), cfg, registry, mc)
			if err != nil {
				return err
			}

			if verbose {
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TRIAL\tWHEEL\tANGLE\tRATE\tCAPTURE\tUPRIGHT")
				for _, r := range results {
					x := r.Initial
					status := captureString(r.CaptureTime)
					if r.Err != nil {
						status = "error: " + r.Err.Error()
					}
					fmt.Fprintf(w, "%d\t%.4f\t%.4f\t%.4f\t%s\t%.3f\n",
						r.Trial, x[dynamo.WheelSpeed], x[dynamo.Angle], x[dynamo.AngleRate], status, r.Upright)
				}
				if err := w.Flush(); err != nil {
					return err
				}
			}

			s := automation.Summarize(results)
			fmt.Printf("\ncaptured %d/%d (%.1f%%), %d failed\n", s.Captured, s.Trials-s.Failed, 100*s.CaptureRate, s.Failed)
			if !math.IsNaN(s.CaptureMean) {
				fmt.Printf("capture time %.3f ± %.3f s\n", s.CaptureMean, s.CaptureStd)
			}
			fmt.Printf("mean upright fraction %.3f\n", s.UprightMean)
			return nil
		},
	}
	runFlags(cmd)
	cmd.Flags().IntVar(&mc.Trials, "trials", 100, "number of randomized runs")
	cmd.Flags().Float64SliceVar(&spread, "spread", []float64{0, 0.2, 0.2}, "uniform perturbation half-width per state component")
	cmd.Flags().Uint64Var(&mc.Seed, "mc-seed", 0, "perturbation seed (default: config seed)")
	cmd.Flags().IntVar(&mc.Workers, "workers", 4, "concurrent trials")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every trial")
	return cmd
}

func captureString(t float64) string {
	if t < 0 {
		return "-"
	}
	return fmt.Sprintf("%.2fs", t)
}
