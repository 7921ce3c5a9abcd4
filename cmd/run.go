package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fandom-graph/internal/cost"
	"github.com/sells-group/fandom-graph/internal/model"
	"github.com/sells-group/fandom-graph/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Plan a query and run it as a background job",
	Long:  "Plans the query, checks it against --budget, enqueues a job and, unless --wait=false, drives the scheduler until the job finishes.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		plan, err := buildPlan(ctx, cmd, env.Planner, env.Store, strings.Join(args, " "))
		if err != nil {
			return err
		}

		budget, _ := cmd.Flags().GetFloat64("budget")
		if err := cost.EnsureAffordable(plan.Quote.Total, budget); err != nil {
			return err
		}

		req := planRequest(cmd, plan.Query)
		user, _ := cmd.Flags().GetString("user")
		jobID, err := env.Scheduler.EnqueueJob(ctx, user, model.JobTypeOrchestration, model.JobInput{
			Query:           plan.Query,
			SampleSize:      req.SampleSize,
			PostLimit:       req.PostLimit,
			Plan:            plan,
			IgnoreCache:     req.IgnoreCache,
			UseDeepAnalysis: req.UseDeepAnalysis,
		})
		if err != nil {
			return eris.Wrap(err, "enqueue job")
		}
		fmt.Fprintf(os.Stderr, "Job %s queued ($%.2f)\n", jobID, plan.Quote.Total)

		if wait, _ := cmd.Flags().GetBool("wait"); !wait {
			fmt.Fprintln(os.Stdout, jobID)
			return nil
		}

		env.Scheduler.Start(ctx)
		job, err := waitForJob(ctx, env.Store, jobID, time.Duration(cfg.Scheduler.TickMs)*time.Millisecond)
		if err != nil {
			if ctx.Err() != nil {
				zap.L().Info("interrupted, job left for a worker", zap.String("job_id", jobID))
				return nil
			}
			return err
		}
		formatJob(os.Stdout, job)
		if job.Status != model.JobStatusCompleted {
			return eris.Errorf("job %s %s: %s", job.ID, job.Status, job.Error)
		}
		return nil
	},
}

// waitForJob polls the store until the job reaches a terminal status.
func waitForJob(ctx context.Context, st store.Store, id string, interval time.Duration) (*model.Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := st.GetJob(ctx, id)
		if err != nil {
			return nil, eris.Wrap(err, "wait for job")
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// formatJob writes a short job summary.
func formatJob(w io.Writer, job *model.Job) {
	fmt.Fprintf(w, "Job:      %s\n", job.ID)
	fmt.Fprintf(w, "Status:   %s (%d%%)\n", job.Status, job.Progress)
	fmt.Fprintf(w, "Stage:    %s\n", job.Result.Stage)
	if job.Result.DatasetID != "" {
		fmt.Fprintf(w, "Dataset:  %s\n", job.Result.DatasetID)
	}
	if job.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", job.Error)
	}
	if a := job.Result.AnalysisResult; a != nil {
		fmt.Fprintf(w, "Clusters: %d  Creators: %d  Brands: %d  Topics: %d\n",
			len(a.Clusters), len(a.Creators), len(a.Brands), len(a.Topics))
	}
}

func init() {
	addPlanFlags(runCmd)
	runCmd.Flags().Float64("budget", 0, "refuse plans whose total exceeds this amount (0 = no limit)")
	runCmd.Flags().Bool("wait", true, "drive the scheduler until the job finishes")
	rootCmd.AddCommand(runCmd)
}
