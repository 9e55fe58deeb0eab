package cli

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/lodestone-kb/lodestone/internal/core/ports/driving"
)

var (
	preflightSkip []string
	preflightJSON bool
)

var preflightCmd = &cobra.Command{
	Use:   "preflight [run-id]",
	Short: "Check whether a run is ready to embed",
	Long: `Evaluates structural readiness of a chunking run without writing
anything. A run is READY or BLOCKED; blocking reasons are structural
(missing enrichment, missing chunks, missing tokenizer, invalid
configuration, zero embeddable documents). Quality metrics are
reported but never block.`,
	Args: cobra.ExactArgs(1),
	RunE: runPreflight,
}

func init() {
	preflightCmd.Flags().StringSliceVar(&preflightSkip, "skip", nil, "document IDs to exclude from the run")
	preflightCmd.Flags().BoolVar(&preflightJSON, "json", false, "output the report as JSON")
	rootCmd.AddCommand(preflightCmd)
}

func runPreflight(cmd *cobra.Command, args []string) error {
	if ingestService == nil {
		return errors.New("ingest service not configured")
	}

	report, err := ingestService.Preflight(cmd.Context(), driving.EmbedRequest{
		RunID:    args[0],
		SkipList: preflightSkip,
	})
	if err != nil {
		return err
	}

	if preflightJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("Run %s: %s\n", report.RunID, report.Status)
	for _, reason := range report.Reasons {
		cmd.Printf("  blocked: %s\n", reason)
	}
	cmd.Printf("  embeddable documents: %d\n", report.EmbeddableDocs)
	cmd.Printf("  chunks below token threshold: %.1f%%\n", report.BelowThresholdPct)
	if len(report.SkipList) > 0 {
		cmd.Printf("  skip list: %v\n", report.SkipList)
	}
	return nil
}
