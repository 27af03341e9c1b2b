package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/san-kum/rwpend/internal/experiment"
	"github.com/san-kum/rwpend/internal/export"
	"github.com/san-kum/rwpend/internal/policy"
)

func synthCommand() *cobra.Command {
	var (
		name   string
		sweeps int
		goOut  string
		goPkg  string
		goVar  string
	)
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "solve the balancing policy table offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("sweeps") {
				cfg.Solver.Sweeps = sweeps
			}
			registry, st, err := newRegistry()
			if err != nil {
				return err
			}

			s, err := experiment.Solver(cfg, registry)
			if err != nil {
				return err
			}
			every := max(1, cfg.Solver.Sweeps/20)
			s.OnSweep = func(ss policy.SweepStats) {
				if ss.Sweep%every == 0 {
					log.WithFields(log.Fields{
						"sweep":     ss.Sweep,
						"max_delta": ss.MaxDelta,
						"reached":   ss.Reached,
					}).Info("value sweep")
				}
			}

			res, err := s.Solve(cmd.Context())
			if err != nil {
				return err
			}
			meta, err := st.SavePolicy(name, res)
			if err != nil {
				return err
			}
			fmt.Printf("policy %q: %d states, %d actions, %d sweeps (converged: %v) in %v\n",
				meta.Name, meta.States, meta.Actions, meta.Sweeps, meta.Converged, meta.Elapsed)

			if goOut != "" {
				f, err := os.Create(goOut)
				if err != nil {
					return err
				}
				defer f.Close()
				if err := res.Table.WriteGo(f, goPkg, goVar); err != nil {
					return err
				}
				fmt.Printf("go source: %s\n", goOut)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "standard", "name to store the policy under")
	cmd.Flags().StringVar(&integrator, "integrator", "rk4", "integrator for transitions")
	cmd.Flags().IntVar(&sweeps, "sweeps", 0, "value iteration sweeps (overrides config)")
	cmd.Flags().StringVar(&goOut, "go-out", "", "also emit the table as Go source")
	cmd.Flags().StringVar(&goPkg, "go-pkg", "policytable", "package name for --go-out")
	cmd.Flags().StringVar(&goVar, "go-var", "Table", "variable name for --go-out")
	return cmd
}

func policiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "list stored policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			list, err := st.ListPolicies()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("no policies found")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCREATED\tSTATES\tACTIONS\tSWEEPS\tCONVERGED\tSOLVE")
			for _, p := range list {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%v\t%v\n",
					p.Name,
					p.Timestamp.Format("2006-01-02 15:04:05"),
					p.States,
					p.Actions,
					p.Sweeps,
					p.Converged,
					p.Elapsed,
				)
			}
			return w.Flush()
		},
	}
}

func policyMapCommand() *cobra.Command {
	var (
		wheel float64
		out   string
	)
	cmd := &cobra.Command{
		Use:   "policy-map [name]",
		Short: "draw a stored policy over angle and rate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			t, err := st.LoadPolicy(args[0])
			if err != nil {
				return err
			}
			if out == "" {
				out = args[0] + "_policy.png"
			}
			k := t.Grid.Wheel.Discretize(wheel)
			if err := export.SavePolicyMap(out, t, k); err != nil {
				return err
			}
			fmt.Printf("wheel cell %d (ω = %.1f rad/s): %s\n", k, t.Grid.Wheel.Undiscretize(k), out)
			return nil
		},
	}
	cmd.Flags().Float64Var(&wheel, "wheel", 0, "wheel speed of the slice, rad/s")
	cmd.Flags().StringVar(&out, "out", "", "output path (png, svg or pdf)")
	return cmd
}
