package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"querygate/internal/batch"
	"querygate/internal/logging"
	"querygate/internal/semantic"
)

var (
	batchWorkers int
	batchSummary bool
)

// batchCmd validates a YAML file of queries
var batchCmd = &cobra.Command{
	Use:   "batch [file]",
	Short: "Validate every query in a YAML batch file",
	Long: `Validates the queries of a batch file concurrently and prints one JSON
result per query, in file order.

File format:
  defaults:
    language: promql
    namespace: prod:orders
  queries:
    - id: error-rate
      query: rate(http_requests_total{status="500"}[5m])
      intent:
        metric: http_requests_total
        metric_type: counter

The first store or reasoning failure aborts the batch.
Exit status is 2 when any query is rejected.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().IntVarP(&batchWorkers, "workers", "j", 0, "Concurrent validations (default: batch.workers)")
	batchCmd.Flags().BoolVar(&batchSummary, "summary", false, "Print one line per query instead of JSON")
	batchCmd.Flags().BoolVar(&noSuggest, "no-suggest", false, "Do not fill aggregations from the metric type")
}

func runBatch(cmd *cobra.Command, args []string) error {
	items, err := batch.LoadFile(args[0])
	if err != nil {
		return err
	}
	if !noSuggest {
		for i := range items {
			items[i].Intent = semantic.WithSuggestions(items[i].Intent)
		}
	}

	workers := batchWorkers
	if workers <= 0 {
		workers = cfg.Batch.Workers
	}

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	results, err := batch.Run(ctx, rt.engine, items, workers)
	if err != nil {
		return err
	}

	rejected := 0
	for _, r := range results {
		if !r.Report.IsValid {
			rejected++
		}
	}
	if batchSummary {
		for _, r := range results {
			verdict := "ok"
			if !r.Report.IsValid {
				verdict = "rejected at " + string(r.Report.StoppedAt)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", r.Item.ID, r.Report.Language, verdict)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d/%d valid\n", len(results)-rejected, len(results))
	} else if err := printJSON(cmd.OutOrStdout(), results); err != nil {
		return err
	}

	logging.Batch("batch file %s: %d of %d rejected", args[0], rejected, len(results))
	if rejected > 0 {
		return errRejected
	}
	return nil
}
