package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/rwpend/internal/config"
	"github.com/san-kum/rwpend/internal/experiment"
	"github.com/san-kum/rwpend/internal/tune"
)

func tuneCommand() *cobra.Command {
	var (
		axes     []string
		metric   string
		minimize bool
		workers  int
		top      int
	)
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "grid search controller parameters over simulated runs",
		Long: "Runs one simulation per grid point and ranks them by a metric.\n" +
			"Parameters: " + strings.Join(config.TunableParams(), ", "),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			registry, _, err := newRegistry()
			if err != nil {
				return err
			}

			g := &tune.GridSearch{Metric: metric, Maximize: !minimize, Workers: workers}
			for _, s := range axes {
				a, err := tune.ParseAxis(s)
				if err != nil {
					return err
				}
				if _, ok := cfg.Param(a.Name); !ok {
					return fmt.Errorf("unknown parameter %q (available: %s)", a.Name, strings.Join(config.TunableParams(), ", "))
				}
				g.Axes = append(g.Axes, a)
			}
			if len(g.Axes) == 0 {
				return fmt.Errorf("at least one --param is required")
			}

			fmt.Printf("running %d trials...\n", len(g.Points()))
			best, trials, err := g.Search(cmd.Context(), func(ctx context.Context, p map[string]float64) (map[string]float64, error) {
				return experiment.Evaluate(ctx, cfg, registry, p)
			})
			if err != nil {
				return err
			}

			names := make([]string, 0, len(g.Axes))
			for _, a := range g.Axes {
				names = append(names, a.Name)
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "%s\t%s\n", strings.ToUpper(strings.Join(names, "\t")), strings.ToUpper(metric))
			for i, t := range trials {
				if i == top {
					break
				}
				row := make([]string, len(names))
				for k, n := range names {
					row[k] = fmt.Sprintf("%g", t.Params[n])
				}
				score := fmt.Sprintf("%.6f", t.Score)
				if t.Err != nil {
					score = "error: " + t.Err.Error()
				}
				fmt.Fprintf(w, "%s\t%s\n", strings.Join(row, "\t"), score)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\nbest %s = %.6f at %v\n", metric, best.Score, best.Params)
			return nil
		},
	}
	runFlags(cmd)
	cmd.Flags().StringArrayVar(&axes, "param", nil, "parameter grid, name=v1,v2 or name=lo:hi:n (repeatable)")
	cmd.Flags().StringVar(&metric, "metric", "upright", "metric to rank trials by")
	cmd.Flags().BoolVar(&minimize, "minimize", false, "prefer smaller metric values")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent trials (0 = GOMAXPROCS)")
	cmd.Flags().IntVar(&top, "top", 10, "trials to print")
	return cmd
}
