package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fandom-graph/internal/model"
	"github.com/sells-group/fandom-graph/internal/monitoring"
	"github.com/sells-group/fandom-graph/internal/scheduler"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and cancel jobs",
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's jobs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("graph"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		user, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")
		active, _ := cmd.Flags().GetBool("active")

		var jobs []model.Job
		if active {
			jobs, err = st.ListActiveJobs(ctx)
		} else {
			jobs, err = st.GetUserJobs(ctx, user, limit)
		}
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}
		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}
		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show full details of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("graph"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

// -- jobs cancel --

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("graph"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		// Cancelling needs the actor runner to abort runs, never the finalizer.
		sched := scheduler.New(st, initRunner(), nil, scheduler.Config{Platform: cfg.Planner.Platform})
		if err := sched.CancelJob(ctx, args[0]); err != nil {
			return eris.Wrap(err, "jobs cancel")
		}
		fmt.Fprintf(os.Stderr, "Cancel requested for job %s\n", args[0])
		return nil
	},
}

// -- jobs stats --

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job health over a time window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("graph"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		hours := int(since.Hours())
		if hours < 1 {
			hours = 1
		}
		snap, err := monitoring.NewCollector(st, nil).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "jobs stats")
		}
		formatJobStats(os.Stdout, snap)
		return nil
	},
}

// formatJobStats writes a job health summary.
func formatJobStats(w io.Writer, snap *monitoring.MetricsSnapshot) {
	fmt.Fprintf(w, "Jobs in last %dh: %d\n", snap.LookbackHours, snap.JobsTotal)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  completed\t%d\n", snap.JobsCompleted)
	fmt.Fprintf(tw, "  failed\t%d\n", snap.JobsFailed)
	fmt.Fprintf(tw, "  aborted\t%d\n", snap.JobsAborted)
	fmt.Fprintf(tw, "  running\t%d\n", snap.JobsRunning)
	fmt.Fprintf(tw, "  queued\t%d\n", snap.JobsQueued)
	fmt.Fprintf(tw, "  enriching\t%d\n", snap.JobsEnriching)
	_ = tw.Flush()
	fmt.Fprintf(w, "Failure rate:  %.1f%%\n", snap.FailRate*100)
	fmt.Fprintf(w, "Failed steps:  %d\n", snap.StepsFailed)
	fmt.Fprintf(w, "Quoted spend:  $%.2f\n", snap.QuotedSpendUSD)
}

// formatJobsList writes a tabular job list.
func formatJobsList(w io.Writer, jobs []model.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tSTAGE\tPROGRESS\tSTEPS\tQUERY\tCREATED")
	for _, j := range jobs {
		id := j.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d%%\t%s\t%s\t%s\n",
			id, j.Type, j.Status, j.Result.Stage, j.Progress, stepSummary(j),
			truncate(j.Metadata.Query, 40), j.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
}

// stepSummary renders resolved/total step counts, e.g. "2/3".
func stepSummary(j model.Job) string {
	total := 0
	if j.Metadata.Plan != nil {
		total = len(j.Metadata.Plan.Steps)
	}
	resolved := 0
	for _, sr := range j.Metadata.Steps {
		if sr.Status.Resolved() {
			resolved++
		}
	}
	return fmt.Sprintf("%d/%d", resolved, total)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	jobsListCmd.Flags().String("user", defaultUser, "user whose jobs to list")
	jobsListCmd.Flags().Int("limit", 20, "max number of jobs to display")
	jobsListCmd.Flags().Bool("active", false, "list queued and running jobs of every user")
	jobsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 168h)")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	jobsCmd.AddCommand(jobsStatsCmd)
	rootCmd.AddCommand(jobsCmd)
}
