package cli

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"
)

var runsJSON bool

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List recorded ingestion runs",
	Long: `Shows the stored summary of past embedding runs, newest first.
With a run ID, only that run's summaries are shown. Failed batches are
listed with the affected chunk count for targeted retry.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "output run summaries as JSON")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	if runLog == nil {
		return errors.New("run log not configured")
	}

	runID := ""
	if len(args) == 1 {
		runID = args[0]
	}

	summaries, err := runLog.ListRunSummaries(cmd.Context(), runID)
	if err != nil {
		return err
	}

	if runsJSON {
		data, err := json.MarshalIndent(summaries, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	if len(summaries) == 0 {
		cmd.Println("No runs recorded.")
		return nil
	}
	for _, s := range summaries {
		cmd.Printf("%s  %s/%s  %d embedded, %d inserted, %d failed batches  %s\n",
			s.RunID, s.Provider, s.Model,
			s.ChunksEmbedded, s.RowsInserted, len(s.FailedBatches),
			s.FinishedAt.Format("2006-01-02 15:04:05"))
		for _, failure := range s.FailedBatches {
			cmd.Printf("  batch %d failed (%d chunks): %s\n", failure.Batch, len(failure.ChunkIDs), failure.Reason)
		}
	}
	return nil
}
