package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/pharma-cart/internal/config"
	"github.com/sells-group/pharma-cart/internal/diagnostics"
)

var (
	cfg *config.Config
	// tail keeps the most recent log lines for failure diagnostics.
	tail *diagnostics.LogTail
)

var rootCmd = &cobra.Command{
	Use:   "pharma-cart",
	Short: "Pharmacy distributor comparison-shopping worker",
	Long:  "Consumes purchase tasks from a queue, compares prices across distributor storefronts, fills the cheapest cart and reports progress.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		level, err := zapcore.ParseLevel(cfg.Log.Level)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		tail = diagnostics.NewLogTail(cfg.Diagnostics.LogTailLines, level)

		if err := config.InitLogger(cfg.Log, tail); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
