package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/rwpend/internal/analysis"
	"github.com/san-kum/rwpend/internal/config"
	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/export"
	"github.com/san-kum/rwpend/internal/storage"
)

func listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := storage.New(dataDir)
			runs, err := st.List()
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tCTRL\tESTIM\tDURATION\tDT\tSTEPS\tUPRIGHT")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2fs\t%.4fs\t%d\t%.2f\n",
					run.ID,
					run.Timestamp.Format("2006-01-02 15:04:05"),
					run.Controller,
					run.Estimator,
					run.Duration,
					run.Dt,
					run.Steps,
					run.Metrics["upright"],
				)
			}
			return w.Flush()
		},
	}
}

func loadRun(id string) (*storage.RunMetadata, *dynamo.Result, error) {
	st := storage.New(dataDir)
	meta, err := st.Load(id)
	if err != nil {
		return nil, nil, err
	}
	res, err := st.LoadResult(id)
	if err != nil {
		return nil, nil, err
	}
	if len(res.States) == 0 {
		return nil, nil, fmt.Errorf("run %s has no samples", id)
	}
	return meta, res, nil
}

func column(states []dynamo.State, i int) []float64 {
	out := make([]float64, len(states))
	for k, x := range states {
		out[k] = x[i]
	}
	return out
}

func plotCommand() *cobra.Command {
	var png string
	cmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot run results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, res, err := loadRun(args[0])
			if err != nil {
				return err
			}
			if png != "" {
				if err := export.SaveRun(png, res); err != nil {
					return err
				}
				fmt.Printf("figure: %s\n", png)
				return nil
			}

			fmt.Printf("run: %s\n", meta.ID)
			fmt.Printf("controller: %s, estimator: %s\n", meta.Controller, meta.Estimator)
			fmt.Printf("samples: %d\n\n", len(res.States))

			u := make([]float64, len(res.Controls))
			for k, c := range res.Controls {
				u[k] = c[0]
			}
			series := []struct {
				caption string
				data    []float64
			}{
				{"angle (rad, 0 = upright)", column(res.States, dynamo.Angle)},
				{"angular rate (rad/s)", column(res.States, dynamo.AngleRate)},
				{"wheel speed (rad/s)", column(res.States, dynamo.WheelSpeed)},
				{"motor command", u},
			}
			for _, s := range series {
				graph := asciigraph.Plot(s.data,
					asciigraph.Height(10),
					asciigraph.Width(80),
					asciigraph.Caption(s.caption),
				)
				fmt.Println(graph)
				fmt.Println()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&png, "png", "", "write an image instead of terminal graphs")
	return cmd
}

func exportCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a run to JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, res, err := loadRun(args[0])
			if err != nil {
				return err
			}
			if out == "" {
				return storage.ExportJSON(os.Stdout, meta, res)
			}
			if err := storage.ExportJSONFile(out, meta, res); err != nil {
				return err
			}
			fmt.Printf("exported: %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output file (default stdout)")
	return cmd
}

func analyzeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze [run_id]",
		Short: "swing spectrum and phase portrait of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, res, err := loadRun(args[0])
			if err != nil {
				return err
			}
			sys, err := config.DefaultConfig().System()
			if err != nil {
				return err
			}

			fmt.Printf("run: %s\n\n", meta.ID)
			if f, err := analysis.DominantFrequency(column(res.States, dynamo.Angle), meta.Dt); err == nil {
				fmt.Printf("dominant angle frequency: %.3f Hz (natural %.3f Hz)\n", f, sys.NaturalFrequency())
			}
			if f, err := analysis.DominantFrequency(column(res.States, dynamo.WheelSpeed), meta.Dt); err == nil {
				fmt.Printf("dominant wheel frequency: %.3f Hz\n", f)
			}

			modes := map[string]int{}
			for _, m := range res.Modes {
				modes[m]++
			}
			names := make([]string, 0, len(modes))
			for m := range modes {
				names = append(names, m)
			}
			sort.Strings(names)
			for _, m := range names {
				fmt.Printf("  %-10s %5.1f%%\n", m, 100*float64(modes[m])/float64(len(res.Modes)))
			}

			fmt.Println("\nphase portrait (θ, θ̇):")
			fmt.Print(analysis.NewPortrait(res, dynamo.Angle, dynamo.AngleRate).ASCII(80, 24))
			return nil
		},
	}
}

func deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [run_id]",
		Short: "delete a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := storage.New(dataDir).Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}
