package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/rwpend/internal/config"
	"github.com/san-kum/rwpend/internal/control"
	"github.com/san-kum/rwpend/internal/telemetry"
	"github.com/san-kum/rwpend/internal/tui"
)

func receiveCommand() *cobra.Command {
	var (
		addr    string
		hubAddr string
		plain   bool
	)
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "connect to a transmitter and show its telemetry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Telemetry.Addr
			}

			ctx, stop := context.WithCancel(cmd.Context())
			defer stop()
			g, gctx := errgroup.WithContext(ctx)

			var hub *telemetry.Hub
			if hubAddr != "" {
				hub = telemetry.NewHub()
				mux := http.NewServeMux()
				mux.Handle("/ws", hub)
				srv := &http.Server{Addr: hubAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

				g.Go(func() error {
					hub.Run(gctx)
					return nil
				})
				g.Go(func() error {
					log.WithField("addr", hubAddr).Info("websocket hub listening")
					if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
					defer cancel()
					return srv.Shutdown(shutdown)
				})
			}

			msgs := make(chan telemetry.Message, 256)
			rx := telemetry.NewReceiver(addr, cfg.Telemetry.MaxFrame, cfg.Telemetry.Backoff)
			g.Go(func() error {
				defer close(msgs)
				return rx.Run(gctx, func(m telemetry.Message) {
					if hub != nil {
						hub.Publish(m)
					}
					select {
					case msgs <- m:
					default:
					}
				})
			})

			g.Go(func() error {
				defer stop()
				if plain {
					printRecords(msgs)
					return nil
				}
				return tui.RunDashboard(gctx, msgs)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "transmitter address (default from config)")
	cmd.Flags().StringVar(&hubAddr, "hub", "", "also serve records to websocket clients on this address (path /ws)")
	cmd.Flags().BoolVar(&plain, "plain", false, "log records instead of drawing the dashboard")
	return cmd
}

func printRecords(msgs <-chan telemetry.Message) {
	for m := range msgs {
		switch r := m.(type) {
		case telemetry.StateRecord:
			fmt.Printf("%8d  %-9s  u=%+.3f  raw=%+.3f  θ=%+.3f  θ̇=%+.3f  ω=%+.1f\n",
				r.TimeMs, control.Mode(r.Mode), r.Control, r.RawAngle, r.Angle, r.AngleRate, r.WheelSpeed)
		case telemetry.BenchRecord:
			fmt.Printf("%8d  bench      u=%+.3f  ω=%+.2f  |ω|=%.2f\n",
				r.TimeMs, r.Control, r.SignedSpeed, r.AbsSpeed)
		case telemetry.Alive:
			log.Debug("alive")
		}
	}
}

func presetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range config.ListPresets() {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}
}

func configCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "print the effective configuration as yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if out != "" {
				if err := config.Save(out, cfg); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", out)
				return nil
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
	runFlags(cmd)
	cmd.Flags().StringVar(&out, "out", "", "write to a file instead of stdout")
	return cmd
}
