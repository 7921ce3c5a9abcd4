package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fandom-graph/internal/monitoring"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job scheduler until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		active, err := env.Store.ListActiveJobs(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("worker: starting", zap.Int("active_jobs", len(active)))

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store, env.Runner.Breakers()),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		env.Scheduler.Start(ctx)
		<-ctx.Done()
		zap.L().Info("worker: shutting down")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
