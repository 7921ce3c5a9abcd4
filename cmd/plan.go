package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fandom-graph/internal/model"
	"github.com/sells-group/fandom-graph/internal/planner"
	"github.com/sells-group/fandom-graph/internal/store"
)

const defaultUser = "local"

var planCmd = &cobra.Command{
	Use:   "plan <query>",
	Short: "Build and price a scrape plan without running it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("plan"); err != nil {
			return err
		}

		p, _, err := initPlanner()
		if err != nil {
			return err
		}

		// Reuse lookups are best effort; planning works without a store.
		var st store.Store
		if s, err := openStore(ctx); err != nil {
			zap.L().Warn("store unavailable, planning without dataset reuse", zap.Error(err))
		} else {
			st = s
			defer st.Close() //nolint:errcheck
		}

		plan, err := buildPlan(ctx, cmd, p, st, strings.Join(args, " "))
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		}
		formatPlan(os.Stdout, plan)
		return nil
	},
}

// addPlanFlags registers the flags shared by plan and run.
func addPlanFlags(c *cobra.Command) {
	c.Flags().Int("sample", 0, "accounts sampled per target (default planner.default_sample_size)")
	c.Flags().Int("posts", -1, "posts scraped per profile (default planner.default_post_limit)")
	c.Flags().Bool("deep", false, "run the deep analysis modes")
	c.Flags().Bool("ignore-cache", false, "never reuse an existing dataset")
	c.Flags().String("seed", "", "extra context whose @handles become targets")
	c.Flags().String("user", defaultUser, "user id that owns datasets and jobs")
}

// planRequest reads the plan flags into a planner request.
func planRequest(cmd *cobra.Command, query string) planner.Request {
	sample, _ := cmd.Flags().GetInt("sample")
	posts, _ := cmd.Flags().GetInt("posts")
	deep, _ := cmd.Flags().GetBool("deep")
	ignore, _ := cmd.Flags().GetBool("ignore-cache")
	seed, _ := cmd.Flags().GetString("seed")

	if sample <= 0 {
		sample = cfg.Planner.DefaultSampleSize
	}
	if posts < 0 {
		posts = cfg.Planner.DefaultPostLimit
	}
	return planner.Request{
		Query:           query,
		SampleSize:      sample,
		PostLimit:       posts,
		IgnoreCache:     ignore,
		UseDeepAnalysis: deep,
		SeedContext:     seed,
	}
}

func buildPlan(ctx context.Context, cmd *cobra.Command, p *planner.Planner, st store.Store, query string) (*model.Plan, error) {
	req := planRequest(cmd, query)
	if st != nil && !req.IgnoreCache {
		user, _ := cmd.Flags().GetString("user")
		existing, err := st.ListDatasets(ctx, user, 100)
		if err != nil {
			zap.L().Warn("list datasets failed, planning without reuse", zap.Error(err))
		}
		req.ExistingDatasets = existing
	}
	return p.Plan(ctx, req)
}

// formatPlan writes a human-readable plan summary.
func formatPlan(w io.Writer, plan *model.Plan) {
	fmt.Fprintf(w, "Intent:   %s\n", plan.Intent)
	if len(plan.Targets) > 0 {
		fmt.Fprintf(w, "Targets:  %s\n", strings.Join(plan.Targets, ", "))
	}
	if plan.Reasoning != "" {
		fmt.Fprintf(w, "Reason:   %s\n", plan.Reasoning)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tKIND\tACTOR\tRECORDS\tCOST\tCACHED")
	for _, s := range plan.Steps {
		cached := ""
		if s.Cached {
			cached = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t$%.2f\t%s\n",
			s.StepID, s.Kind, s.ActorID, s.EstimatedRecords, s.EstimatedCost, cached)
	}
	_ = tw.Flush()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Scrape:        $%.2f\n", plan.Quote.ScrapeCost)
	fmt.Fprintf(w, "Orchestration: $%.2f\n", plan.Quote.OrchestrationFee)
	fmt.Fprintf(w, "Total:         $%.2f\n", plan.Quote.Total)
}

func init() {
	addPlanFlags(planCmd)
	planCmd.Flags().Bool("json", false, "print the plan as JSON")
	rootCmd.AddCommand(planCmd)
}
