package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fandom-graph/internal/enrich"
	"github.com/sells-group/fandom-graph/internal/model"
	"github.com/sells-group/fandom-graph/internal/pipeline"
)

var graphCmd = &cobra.Command{
	Use:   "graph <dataset-id>",
	Short: "Print a dataset's graph, optionally enriching its gaps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("graph"); err != nil {
			return err
		}
		doEnrich, _ := cmd.Flags().GetBool("enrich")
		if doEnrich && cfg.Apify.Token == "" {
			return eris.New("config: apify.token is required for --enrich")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p := pipeline.New(st, nil, pipeline.WithPlatform(cfg.Planner.Platform))
		dg, err := p.GetDatasetGraph(ctx, args[0])
		if err != nil {
			return err
		}

		if doEnrich && len(dg.Gaps) > 0 {
			jobID, _ := cmd.Flags().GetString("job")
			e := enrich.New(st, initRunner(), nil, enrich.Config{
				ProfileActorID: cfg.Enrich.ProfileActorID,
				MaxHandles:     cfg.Enrich.MaxHandles,
			})
			defer e.Executor().Shutdown()

			state := e.PerformDeepEnrichment(ctx, enrich.Request{
				Graph:     &dg.Graph,
				DatasetID: dg.Dataset.ID,
				JobID:     jobID,
				Profiles:  dg.Profiles,
			})
			e.Executor().Wait()
			if state == enrich.StateEnrichmentRunning {
				state = e.State(dg.Dataset.ID)
			}
			fmt.Fprintf(os.Stderr, "Enrichment %s (%d gaps)\n", state, len(dg.Gaps))

			if dg, err = p.GetDatasetGraph(ctx, args[0]); err != nil {
				return err
			}
		}

		if gapsOnly, _ := cmd.Flags().GetBool("gaps"); gapsOnly {
			formatGaps(os.Stdout, dg.Gaps)
			return nil
		}
		return writeGraph(os.Stdout, dg)
	},
}

type graphOutput struct {
	DatasetID string                `json:"datasetId"`
	Query     string                `json:"query"`
	Snapshot  bool                  `json:"snapshot"`
	Graph     model.Graph           `json:"graph"`
	Gaps      []model.EnrichmentGap `json:"gaps"`
}

func writeGraph(w io.Writer, dg *pipeline.DatasetGraph) error {
	out := graphOutput{
		DatasetID: dg.Dataset.ID,
		Query:     dg.Dataset.Query,
		Snapshot:  dg.Snapshot,
		Graph:     dg.Graph,
		Gaps:      dg.Gaps,
	}
	if out.Gaps == nil {
		out.Gaps = []model.EnrichmentGap{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func formatGaps(w io.Writer, gaps []model.EnrichmentGap) {
	if len(gaps) == 0 {
		fmt.Fprintln(w, "No enrichment gaps.")
		return
	}
	for _, g := range gaps {
		fmt.Fprintf(w, "@%s\t%s\t%s\n", g.Handle, g.NodeID, g.Reason)
	}
}

func init() {
	graphCmd.Flags().Bool("enrich", false, "re-scrape profiles missing bio, followers or picture")
	graphCmd.Flags().String("job", "", "job whose isEnriching flag mirrors the enrichment")
	graphCmd.Flags().Bool("gaps", false, "print only the enrichment gaps")
	rootCmd.AddCommand(graphCmd)
}
