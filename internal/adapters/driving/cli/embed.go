package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lodestone-kb/lodestone/internal/core/domain"
	"github.com/lodestone-kb/lodestone/internal/core/ports/driving"
)

var (
	embedSkip []string
	embedJSON bool
)

var embedCmd = &cobra.Command{
	Use:   "embed [run-id]...",
	Short: "Embed a run's chunks and store the vectors",
	Long: `Runs preflight, then embeds the run's materialised chunks in
batches and upserts the vectors keyed by (chunk ID, provider).
Re-running a completed run inserts nothing. Several run IDs are
processed concurrently, one worker per run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEmbed,
}

func init() {
	embedCmd.Flags().StringSliceVar(&embedSkip, "skip", nil, "document IDs to exclude from embedding")
	embedCmd.Flags().BoolVar(&embedJSON, "json", false, "output run summaries as JSON")
	rootCmd.AddCommand(embedCmd)
}

func runEmbed(cmd *cobra.Command, args []string) error {
	if ingestService == nil {
		return errors.New("ingest service not configured")
	}
	ctx := cmd.Context()

	var summaries []*domain.RunSummary
	var runErr error

	if len(args) == 1 {
		summary, err := ingestService.Embed(ctx, driving.EmbedRequest{
			RunID:    args[0],
			SkipList: embedSkip,
		})
		if summary != nil {
			summaries = append(summaries, summary)
		}
		runErr = err
	} else {
		reqs := make([]driving.EmbedRequest, len(args))
		for i, runID := range args {
			reqs[i] = driving.EmbedRequest{RunID: runID, SkipList: embedSkip}
		}
		summaries, runErr = ingestService.EmbedRuns(ctx, reqs)
	}

	if err := printSummaries(cmd, summaries); err != nil {
		return err
	}
	return runErr
}

func printSummaries(cmd *cobra.Command, summaries []*domain.RunSummary) error {
	if embedJSON {
		data, err := json.MarshalIndent(summaries, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	for _, s := range summaries {
		if s == nil {
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(),
			"Run %s (%s/%s): %d chunks, %d skipped, %d embedded, %d inserted in %s\n",
			s.RunID, s.Provider, s.Model,
			s.ChunksTotal, s.ChunksSkipped, s.ChunksEmbedded, s.RowsInserted,
			s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
		for _, failure := range s.FailedBatches {
			cmd.Printf("  batch %d failed (%d chunks): %s\n", failure.Batch, len(failure.ChunkIDs), failure.Reason)
		}
	}
	return nil
}
