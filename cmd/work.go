package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pharma-cart/internal/distributor"
	"github.com/sells-group/pharma-cart/internal/health"
)

var workHealthPort int

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Consume purchase tasks until interrupted",
	Long:  "Receives tasks from the inbound queue one at a time and runs each to a terminal state. SIGINT or SIGTERM stops receiving; a task in flight is finished first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if workHealthPort > 0 {
			cfg.Health.Enabled = true
			cfg.Health.Port = workHealthPort
		}

		env, err := initWorker(ctx, cfg, distributor.OpenChrome)
		if err != nil {
			return err
		}
		defer env.Close(context.WithoutCancel(ctx))

		if cfg.Health.Enabled {
			router := health.NewRouter(env.Worker, env.Publisher)
			go func() {
				if err := health.Serve(ctx, cfg.Health.Port, router); err != nil {
					zap.L().Error("health server error", zap.Error(err))
				}
			}()
			zap.L().Info("health server listening", zap.Int("port", cfg.Health.Port))
		}

		return env.Worker.Run(ctx)
	},
}

func init() {
	workCmd.Flags().IntVar(&workHealthPort, "health-port", 0, "enable the health listener on this port (overrides config)")
	rootCmd.AddCommand(workCmd)
}
