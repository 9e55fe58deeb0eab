// Package file loads and persists lodestone configuration from a TOML
// file. The zero-value path resolves to ~/.lodestone/config.toml.
package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/lodestone-kb/lodestone/internal/core/services"
)

// Known embedding providers.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Config is the full on-disk configuration. Every field has a working
// default; a missing config file is not an error.
type Config struct {
	Storage   StorageConfig   `toml:"storage"`
	Chunking  ChunkingConfig  `toml:"chunking"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Retrieval RetrievalConfig `toml:"retrieval"`
}

// StorageConfig locates the local database.
type StorageConfig struct {
	// DataDir holds the sqlite database. Empty means ~/.lodestone/data.
	DataDir string `toml:"data_dir"`
}

// ChunkingConfig carries the token budgets for the chunking engine.
type ChunkingConfig struct {
	HardMaxTokens int `toml:"hard_max_tokens"`
	SoftMinTokens int `toml:"soft_min_tokens"`
	HardMinTokens int `toml:"hard_min_tokens"`
	OverlapTokens int `toml:"overlap_tokens"`

	// Encoding names the tiktoken encoding used for token counting.
	Encoding string `toml:"encoding"`
}

// EmbeddingConfig selects and tunes the embedding provider. API keys
// are never stored here; they come from the environment.
type EmbeddingConfig struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	BaseURL   string `toml:"base_url"`
	Dimension int    `toml:"dimension"`

	BatchSize         int     `toml:"batch_size"`
	MinTokenThreshold int     `toml:"min_token_threshold"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	MaxWorkers        int     `toml:"max_workers"`
}

// RuleConfig is one query classifier rule.
type RuleConfig struct {
	Name     string   `toml:"name"`
	Keywords []string `toml:"keywords"`
	Synonyms []string `toml:"synonyms"`
	Spaces   []string `toml:"spaces"`
}

// RetrievalConfig tunes ranking and fusion.
type RetrievalConfig struct {
	TopK      int  `toml:"top_k"`
	RRFK      int  `toml:"rrf_k"`
	LegTopK   int  `toml:"leg_top_k"`
	MaxPerDoc int  `toml:"max_per_doc"`
	Hybrid    bool `toml:"hybrid"`

	BoostsEnabled bool               `toml:"boosts_enabled"`
	Boosts        map[string]float64 `toml:"boosts"`

	DomainFilter bool         `toml:"domain_filter"`
	Rules        []RuleConfig `toml:"rules"`

	SpaceWhitelist []string `toml:"space_whitelist"`
	ContextBudgets []int    `toml:"context_budgets"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	ingest := services.DefaultIngestConfig()
	return Config{
		Chunking: ChunkingConfig{
			HardMaxTokens: 800,
			SoftMinTokens: 200,
			HardMinTokens: 80,
			OverlapTokens: 60,
			Encoding:      "cl100k_base",
		},
		Embedding: EmbeddingConfig{
			Provider:          ProviderOllama,
			Model:             "nomic-embed-text",
			BatchSize:         ingest.BatchSize,
			MinTokenThreshold: ingest.MinTokenThreshold,
			RequestsPerSecond: ingest.RequestsPerSecond,
			MaxWorkers:        ingest.MaxWorkers,
		},
		Retrieval: RetrievalConfig{
			TopK:      services.DefaultTopK,
			RRFK:      services.DefaultRRFK,
			LegTopK:   services.DefaultLegTopK,
			MaxPerDoc: services.DefaultMaxPerDoc,
			Hybrid:    true,
		},
	}
}

// DefaultPath returns ~/.lodestone/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".lodestone", "config.toml"), nil
}

// Load reads the configuration at path, layering it over the defaults.
// An empty path resolves to DefaultPath; a missing file yields the
// defaults without error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return cfg, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path with restricted permissions,
// creating parent directories as needed.
func Save(cfg Config, path string) error {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error

	ch := c.Chunking
	if ch.HardMaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("chunking.hard_max_tokens %d must be positive", ch.HardMaxTokens))
	}
	if ch.HardMinTokens > ch.SoftMinTokens {
		errs = append(errs, fmt.Errorf("chunking.hard_min_tokens %d exceeds soft_min_tokens %d", ch.HardMinTokens, ch.SoftMinTokens))
	}
	if ch.SoftMinTokens > ch.HardMaxTokens {
		errs = append(errs, fmt.Errorf("chunking.soft_min_tokens %d exceeds hard_max_tokens %d", ch.SoftMinTokens, ch.HardMaxTokens))
	}
	if ch.OverlapTokens < 0 {
		errs = append(errs, fmt.Errorf("chunking.overlap_tokens %d is negative", ch.OverlapTokens))
	}

	switch c.Embedding.Provider {
	case ProviderOpenAI, ProviderOllama, "":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q is not supported", c.Embedding.Provider))
	}
	if err := c.IngestConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("embedding: %w", err))
	}
	if c.Embedding.Dimension < 0 {
		errs = append(errs, fmt.Errorf("embedding.dimension %d is negative", c.Embedding.Dimension))
	}

	r := c.Retrieval
	if r.RRFK < 0 {
		errs = append(errs, fmt.Errorf("retrieval.rrf_k %d is negative", r.RRFK))
	}
	for _, b := range r.ContextBudgets {
		if b <= 0 {
			errs = append(errs, fmt.Errorf("retrieval.context_budgets entry %d must be positive", b))
		}
	}
	for i, rule := range r.Rules {
		if len(rule.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("retrieval.rules[%d] (%s) has no keywords", i, rule.Name))
		}
	}

	return errors.Join(errs...)
}

// IngestConfig maps the embedding section onto the pipeline tuning.
func (c Config) IngestConfig() services.IngestConfig {
	return services.IngestConfig{
		BatchSize:         c.Embedding.BatchSize,
		MinTokenThreshold: c.Embedding.MinTokenThreshold,
		RequestsPerSecond: c.Embedding.RequestsPerSecond,
		MaxWorkers:        c.Embedding.MaxWorkers,
	}
}

// RetrievalConfig maps the retrieval section onto the ranking config.
func (c Config) RetrievalConfig() services.RetrievalConfig {
	rules := make([]services.ClassifierRule, 0, len(c.Retrieval.Rules))
	for _, r := range c.Retrieval.Rules {
		rules = append(rules, services.ClassifierRule{
			Name:     r.Name,
			Keywords: r.Keywords,
			Synonyms: r.Synonyms,
			Spaces:   r.Spaces,
		})
	}
	return services.RetrievalConfig{
		Boosts: c.Retrieval.Boosts,
		Rules:  rules,
	}
}
