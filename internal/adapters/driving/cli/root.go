// Package cli implements the lodestone command line interface.
//
// Commands are thin: they parse flags, call the injected core services
// and format the result. All wiring happens in main via SetServices.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/lodestone-kb/lodestone/internal/adapters/driven/config/file"
	"github.com/lodestone-kb/lodestone/internal/core/ports/driven"
	"github.com/lodestone-kb/lodestone/internal/core/ports/driving"
)

// version is set at build time via -ldflags.
var version = "dev"

// Services injected by main (or by tests).
var (
	cfg              = file.Default()
	chunkingService  driving.ChunkingService
	ingestService    driving.IngestService
	retrievalService driving.RetrievalService
	documentStore    driven.DocumentStore
	runLog           driven.RunLog
)

var rootCmd = &cobra.Command{
	Use:   "lodestone",
	Short: "Token-budgeted chunking, embedding and hybrid retrieval",
	Long: `Lodestone maintains a local knowledge base: it chunks normalised
documents under token budgets, embeds the chunks through a provider,
and answers queries with fused dense and BM25 retrieval.`,
	SilenceUsage: true,
}

// Services bundles everything the commands need.
type Services struct {
	Config    file.Config
	Chunking  driving.ChunkingService
	Ingest    driving.IngestService
	Retrieval driving.RetrievalService
	Documents driven.DocumentStore
	Runs      driven.RunLog
}

// SetServices injects the core services into the command tree.
func SetServices(s Services) {
	cfg = s.Config
	chunkingService = s.Chunking
	ingestService = s.Ingest
	retrievalService = s.Retrieval
	documentStore = s.Documents
	runLog = s.Runs
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
