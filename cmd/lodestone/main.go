// Command lodestone is the knowledge base CLI: chunking, embedding and
// hybrid retrieval over a local sqlite store.
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/lodestone-kb/lodestone/internal/adapters/driven/config/file"
	"github.com/lodestone-kb/lodestone/internal/adapters/driven/embedding/ollama"
	"github.com/lodestone-kb/lodestone/internal/adapters/driven/embedding/openai"
	"github.com/lodestone-kb/lodestone/internal/adapters/driven/storage/sqlite"
	"github.com/lodestone-kb/lodestone/internal/adapters/driven/tokenizer/tiktoken"
	"github.com/lodestone-kb/lodestone/internal/adapters/driving/cli"
	"github.com/lodestone-kb/lodestone/internal/chunker"
	"github.com/lodestone-kb/lodestone/internal/core/ports/driven"
	"github.com/lodestone-kb/lodestone/internal/core/services"
	"github.com/lodestone-kb/lodestone/internal/events"
)

func main() {
	// Optional; secrets like OPENAI_API_KEY come from the environment.
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("LODESTONE_DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("lodestone failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := file.Load(os.Getenv("LODESTONE_CONFIG"))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		// Invalid configuration still surfaces through preflight as a
		// structural block; the CLI stays usable for inspection.
		logger.Warn("configuration invalid", "error", err)
	}

	store, err := sqlite.NewStore(cfg.Storage.DataDir,
		sqlite.WithVectorDimension(cfg.Embedding.Dimension))
	if err != nil {
		return err
	}
	defer store.Close()

	tokenizer, tokErr := tiktoken.NewWithFallback(cfg.Chunking.Encoding)
	if tokErr != nil {
		logger.Warn("tokenizer unavailable, using heuristic counts", "error", tokErr)
	}

	sink := events.NewSlogSink(logger)
	embedder := buildEmbedder(cfg, logger)

	chunking := chunker.New(tokenizer,
		chunker.WithHardMaxTokens(cfg.Chunking.HardMaxTokens),
		chunker.WithSoftMinTokens(cfg.Chunking.SoftMinTokens),
		chunker.WithHardMinTokens(cfg.Chunking.HardMinTokens),
		chunker.WithOverlapTokens(cfg.Chunking.OverlapTokens),
		chunker.WithEventSink(sink),
	)

	ingest := services.NewIngestService(
		store.ChunkSource(), embedder, store.EmbeddingStore(), tokenizer,
		services.WithIngestConfig(cfg.IngestConfig()),
		services.WithIngestEventSink(sink),
		services.WithRunLog(store.RunLog()),
	)

	retrieval := services.NewRetrievalService(
		store.DocumentStore(), store.LexicalIndex(), store.VectorSearcher(), embedder,
		services.WithRetrievalConfig(cfg.RetrievalConfig()),
		services.WithRetrievalEventSink(sink),
	)

	cli.SetServices(cli.Services{
		Config:    cfg,
		Chunking:  chunking,
		Ingest:    ingest,
		Retrieval: retrieval,
		Documents: store.DocumentStore(),
		Runs:      store.RunLog(),
	})
	return cli.Execute()
}

// buildEmbedder constructs the configured provider. A missing provider
// is not fatal: chunking and BM25 retrieval work without one.
func buildEmbedder(cfg file.Config, logger *slog.Logger) driven.EmbeddingService {
	switch cfg.Embedding.Provider {
	case file.ProviderOpenAI:
		svc, err := openai.NewEmbeddingService(openai.Config{
			APIKey:     os.Getenv("OPENAI_API_KEY"),
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimension,
		})
		if err != nil {
			logger.Warn("openai embedder unavailable", "error", err)
			return nil
		}
		return svc
	case file.ProviderOllama:
		return ollama.NewEmbeddingService(ollama.Config{
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimension,
		})
	default:
		return nil
	}
}
