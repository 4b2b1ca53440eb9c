package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pharma-cart/internal/db"
	"github.com/sells-group/pharma-cart/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply task store and queue schema migrations",
	Long:  "Applies pending SQL migrations to the task store and, for the postgres queue driver, to the queue database.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		zap.L().Info("task store migrated", zap.String("driver", cfg.Store.Driver))

		if cfg.Queue.Driver != "postgres" {
			return nil
		}

		pool, err := db.Connect(ctx, cfg.QueueDatabaseURL(), cfg.Store.Pool)
		if err != nil {
			return eris.Wrap(err, "connect queue database")
		}
		defer pool.Close()

		if err := db.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "migrate queue")
		}

		zap.L().Info("all migrations applied successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
