package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lodestone-kb/lodestone/internal/adapters/driven/storage/memory"
	"github.com/lodestone-kb/lodestone/internal/core/domain"
	"github.com/lodestone-kb/lodestone/internal/normalise"
)

var (
	chunkRunID  string
	chunkExport string
	chunkJSON   bool
	chunkDryRun bool
)

var chunkCmd = &cobra.Command{
	Use:   "chunk [documents.ndjson]",
	Short: "Chunk normalised documents into bounded passages",
	Long: `Reads newline-delimited JSON documents, splits each into
token-budgeted chunks and stores documents, chunks and skips under a
run ID. Documents that cannot be chunked are skipped and recorded,
never aborting the batch.`,
	Args: cobra.ExactArgs(1),
	RunE: runChunk,
}

func init() {
	chunkCmd.Flags().StringVar(&chunkRunID, "run", "", "run ID (generated when omitted)")
	chunkCmd.Flags().StringVar(&chunkExport, "export", "", "write chunks as NDJSON to this file")
	chunkCmd.Flags().BoolVar(&chunkJSON, "json", false, "output the summary as JSON")
	chunkCmd.Flags().BoolVar(&chunkDryRun, "dry-run", false, "chunk without persisting to the database")
	rootCmd.AddCommand(chunkCmd)
}

// docWire is the NDJSON input shape for one normalised document.
type docWire struct {
	DocID        string        `json:"doc_id"`
	Title        string        `json:"title"`
	URL          string        `json:"url"`
	SourceSystem string        `json:"source_system"`
	Space        string        `json:"space"`
	DocClass     string        `json:"doc_class"`
	BodyText     string        `json:"body_text"`
	Sections     []sectionWire `json:"sections,omitempty"`
}

type sectionWire struct {
	Heading string `json:"heading"`
	Level   int    `json:"level"`
	Offset  int    `json:"offset"`
}

type chunkSummary struct {
	RunID     string                   `json:"run_id"`
	Documents int                      `json:"documents"`
	Chunks    int                      `json:"chunks"`
	Skipped   []domain.SkippedDocument `json:"skipped,omitempty"`
}

func runChunk(cmd *cobra.Command, args []string) error {
	if chunkingService == nil {
		return errors.New("chunking service not configured")
	}

	store := documentStore
	if chunkDryRun {
		store = memory.NewDocumentStore()
	}
	if store == nil {
		return errors.New("document store not configured")
	}

	runID := chunkRunID
	if runID == "" {
		runID = uuid.NewString()
	}

	docs, err := readDocuments(args[0], runID)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no documents in %s", args[0])
	}

	ctx := cmd.Context()
	result, err := chunkingService.ChunkBatch(ctx, docs)
	if err != nil {
		return fmt.Errorf("chunking failed: %w", err)
	}

	for i := range docs {
		if err := store.SaveDocument(ctx, &docs[i]); err != nil {
			return fmt.Errorf("saving document %s: %w", docs[i].DocID, err)
		}
	}
	if err := store.SaveChunks(ctx, runID, result.Chunks); err != nil {
		return fmt.Errorf("saving chunks: %w", err)
	}
	for _, skip := range result.Skipped {
		if err := store.RecordSkip(ctx, runID, skip); err != nil {
			return fmt.Errorf("recording skip %s: %w", skip.DocID, err)
		}
	}

	if chunkExport != "" {
		if err := exportChunks(chunkExport, result.Chunks); err != nil {
			return fmt.Errorf("exporting chunks: %w", err)
		}
	}

	summary := chunkSummary{
		RunID:     runID,
		Documents: len(docs),
		Chunks:    len(result.Chunks),
		Skipped:   result.Skipped,
	}

	if chunkJSON {
		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("Run %s: %d documents, %d chunks", summary.RunID, summary.Documents, summary.Chunks)
	if len(summary.Skipped) > 0 {
		cmd.Printf(", %d skipped", len(summary.Skipped))
	}
	cmd.Println()
	for _, skip := range summary.Skipped {
		cmd.Printf("  skipped %s: %s\n", skip.DocID, skip.Reason)
	}
	return nil
}

// readDocuments decodes one document per NDJSON line, stamping each
// with the run ID.
func readDocuments(path, runID string) ([]domain.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var docs []domain.Document
	scanner := bufio.NewScanner(f)
	// Documents can exceed the default line limit.
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var wire docWire
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		doc := domain.Document{
			DocID:        wire.DocID,
			Title:        wire.Title,
			URL:          wire.URL,
			SourceSystem: wire.SourceSystem,
			Space:        wire.Space,
			DocClass:     wire.DocClass,
			BodyText:     wire.BodyText,
			RunID:        runID,
			CreatedAt:    time.Now().UTC(),
		}
		for _, s := range wire.Sections {
			doc.Sections = append(doc.Sections, domain.Section{
				Heading: s.Heading,
				Level:   s.Level,
				Offset:  s.Offset,
			})
		}

		// Exports without an explicit heading map still get
		// heading-aware chunking via markdown structure.
		if len(doc.Sections) == 0 {
			doc.Sections = normalise.Sections(doc.BodyText)
		}
		if doc.Title == "" {
			doc.Title = normalise.Title(doc.BodyText, doc.URL)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func exportChunks(path string, chunks []domain.Chunk) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range chunks {
		if err := enc.Encode(&chunks[i]); err != nil {
			return err
		}
	}
	return w.Flush()
}
