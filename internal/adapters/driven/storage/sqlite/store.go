package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/lodestone-kb/lodestone/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/lodestone-kb/lodestone/internal/core/domain"
	"github.com/lodestone-kb/lodestone/internal/core/ports/driven"
)

// Store is a unified SQLite-based storage that provides all persistence
// ports through wrapper types: documents and chunks, the chunk source
// view, embeddings, and both retrieval legs.
type Store struct {
	db        *sql.DB
	path      string
	vectorDim int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithVectorDimension fixes the store's embedding dimension. Without
// it the dimension of the first stored vector becomes the standard.
func WithVectorDimension(dim int) StoreOption {
	return func(s *Store) { s.vectorDim = dim }
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.lodestone/data/knowledge.db.
func NewStore(dataDir string, opts ...StoreOption) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".lodestone", "data")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "knowledge.db")

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Run migrations
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// DocumentStore returns a DocumentStore interface backed by this store.
func (s *Store) DocumentStore() driven.DocumentStore {
	return &documentStore{store: s}
}

// ChunkSource returns the ingestion pipeline's read-only chunk view.
func (s *Store) ChunkSource() driven.ChunkSource {
	return &chunkSource{store: s}
}

// EmbeddingStore returns an EmbeddingStore interface backed by this store.
func (s *Store) EmbeddingStore() driven.EmbeddingStore {
	return &embeddingStore{store: s}
}

// RunLog returns the ingestion run summary log backed by this store.
func (s *Store) RunLog() driven.RunLog {
	return &runLog{store: s}
}

// LexicalIndex returns the BM25 full-text leg backed by FTS5.
func (s *Store) LexicalIndex() driven.LexicalIndex {
	return &lexicalIndex{store: s}
}

// VectorSearcher returns the cosine-similarity dense leg.
func (s *Store) VectorSearcher() driven.VectorSearcher {
	return &vectorSearcher{store: s}
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	// Ensure schema_migrations table exists
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	// Find all up migrations
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort and run migrations
	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g., "001_initial.up.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue // Skip files that don't match pattern
		}

		if version <= currentVersion {
			continue // Already applied
		}

		// Read and execute migration
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(
			"INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Document Store ====================

// documentStore implements driven.DocumentStore.
type documentStore struct {
	store *Store
}

var _ driven.DocumentStore = (*documentStore)(nil)

// SaveDocument stores or updates a document.
func (s *documentStore) SaveDocument(ctx context.Context, doc *domain.Document) error {
	sectionsJSON, err := json.Marshal(doc.Sections)
	if err != nil {
		return fmt.Errorf("marshalling sections: %w", err)
	}

	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO documents (id, run_id, title, url, source_system, space, doc_class, body, sections, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			title = excluded.title,
			url = excluded.url,
			source_system = excluded.source_system,
			space = excluded.space,
			doc_class = excluded.doc_class,
			body = excluded.body,
			sections = excluded.sections
	`, doc.DocID, doc.RunID, doc.Title, doc.URL, doc.SourceSystem,
		doc.Space, doc.DocClass, doc.BodyText, string(sectionsJSON), doc.CreatedAt)

	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *documentStore) GetDocument(ctx context.Context, docID string) (*domain.Document, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, run_id, title, url, source_system, space, doc_class, body, sections, created_at
		FROM documents WHERE id = ?
	`, docID)

	return scanDocument(row)
}

// ListDocuments returns all documents for a run.
func (s *documentStore) ListDocuments(ctx context.Context, runID string) ([]domain.Document, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, run_id, title, url, source_system, space, doc_class, body, sections, created_at
		FROM documents WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document //nolint:prealloc // size unknown from query
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}

	return docs, nil
}

// SaveChunks stores a document's chunks and their FTS rows atomically.
// A chunk already present under its ID is replaced, together with its
// index entry.
func (s *documentStore) SaveChunks(ctx context.Context, runID string, chunks []domain.Chunk) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, run_id, doc_id, ordinal, text, token_count,
			char_start, char_end, chunk_type, split_strategy,
			trace_title, trace_url, trace_source, undersize_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			doc_id = excluded.doc_id,
			ordinal = excluded.ordinal,
			text = excluded.text,
			token_count = excluded.token_count,
			char_start = excluded.char_start,
			char_end = excluded.char_end,
			chunk_type = excluded.chunk_type,
			split_strategy = excluded.split_strategy,
			trace_title = excluded.trace_title,
			trace_url = excluded.trace_url,
			trace_source = excluded.trace_source,
			undersize_reason = excluded.undersize_reason
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	ftsDelete, err := tx.PrepareContext(ctx, "DELETE FROM chunks_fts WHERE chunk_id = ?")
	if err != nil {
		return fmt.Errorf("preparing fts delete: %w", err)
	}
	defer ftsDelete.Close()

	ftsInsert, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks_fts (chunk_id, space, text)
		SELECT ?, COALESCE((SELECT space FROM documents WHERE id = ?), ''), ?
	`)
	if err != nil {
		return fmt.Errorf("preparing fts insert: %w", err)
	}
	defer ftsInsert.Close()

	for _, chunk := range chunks {
		if _, err := stmt.ExecContext(ctx, chunk.ChunkID, runID, chunk.DocID,
			chunk.Ordinal, chunk.Text, chunk.TokenCount,
			chunk.CharStart, chunk.CharEnd, string(chunk.ChunkType), string(chunk.SplitStrategy),
			chunk.Traceability.Title, chunk.Traceability.URL, chunk.Traceability.SourceSystem,
			chunk.UndersizeReason); err != nil {
			return fmt.Errorf("saving chunk %s: %w", chunk.ChunkID, err)
		}
		if _, err := ftsDelete.ExecContext(ctx, chunk.ChunkID); err != nil {
			return fmt.Errorf("clearing fts row %s: %w", chunk.ChunkID, err)
		}
		if _, err := ftsInsert.ExecContext(ctx, chunk.ChunkID, chunk.DocID, chunk.Text); err != nil {
			return fmt.Errorf("indexing chunk %s: %w", chunk.ChunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetChunk retrieves a specific chunk by ID.
func (s *documentStore) GetChunk(ctx context.Context, chunkID string) (*domain.Chunk, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, doc_id, ordinal, text, token_count, char_start, char_end,
			chunk_type, split_strategy, trace_title, trace_url, trace_source, undersize_reason
		FROM chunks WHERE id = ?
	`, chunkID)

	chunk, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return chunk, nil
}

// RecordSkip records a document the chunker skipped.
func (s *documentStore) RecordSkip(ctx context.Context, runID string, skip domain.SkippedDocument) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO skips (run_id, doc_id, reason)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id, doc_id) DO UPDATE SET reason = excluded.reason
	`, runID, skip.DocID, skip.Reason)
	if err != nil {
		return fmt.Errorf("recording skip: %w", err)
	}
	return nil
}

// ListSkips returns the skipped documents for a run.
func (s *documentStore) ListSkips(ctx context.Context, runID string) ([]domain.SkippedDocument, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT doc_id, reason FROM skips WHERE run_id = ? ORDER BY doc_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying skips: %w", err)
	}
	defer rows.Close()

	var skips []domain.SkippedDocument //nolint:prealloc // size unknown from query
	for rows.Next() {
		var skip domain.SkippedDocument
		if err := rows.Scan(&skip.DocID, &skip.Reason); err != nil {
			return nil, fmt.Errorf("scanning skip: %w", err)
		}
		skips = append(skips, skip)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating skips: %w", err)
	}
	return skips, nil
}

// ==================== Chunk Source ====================

// chunkSource implements driven.ChunkSource as a read-only view over
// the chunks table.
type chunkSource struct {
	store *Store
}

var _ driven.ChunkSource = (*chunkSource)(nil)

func (s *chunkSource) HasEnrichedDocs(ctx context.Context, runID string) (bool, error) {
	var exists bool
	err := s.store.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM documents WHERE run_id = ? AND body != '')
	`, runID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking enriched docs: %w", err)
	}
	return exists, nil
}

func (s *chunkSource) ChunkCount(ctx context.Context, runID string) (int, error) {
	var count int
	err := s.store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE run_id = ?", runID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return count, nil
}

func (s *chunkSource) EmbeddableDocCount(ctx context.Context, runID string, skipList []string) (int, error) {
	query := "SELECT COUNT(DISTINCT doc_id) FROM chunks WHERE run_id = ?"
	args := []any{runID}
	if len(skipList) > 0 {
		query += " AND doc_id NOT IN (" + placeholders(len(skipList)) + ")"
		for _, id := range skipList {
			args = append(args, id)
		}
	}

	var count int
	if err := s.store.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting embeddable docs: %w", err)
	}
	return count, nil
}

func (s *chunkSource) BelowThresholdPct(ctx context.Context, runID string, minTokens int) (float64, error) {
	var pct sql.NullFloat64
	err := s.store.db.QueryRowContext(ctx, `
		SELECT 100.0 * SUM(CASE WHEN token_count < ? THEN 1 ELSE 0 END) / COUNT(*)
		FROM chunks WHERE run_id = ?
	`, minTokens, runID).Scan(&pct)
	if err != nil {
		return 0, fmt.Errorf("computing below-threshold pct: %w", err)
	}
	return pct.Float64, nil
}

func (s *chunkSource) ListChunks(ctx context.Context, runID string) ([]domain.Chunk, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, doc_id, ordinal, text, token_count, char_start, char_end,
			chunk_type, split_strategy, trace_title, trace_url, trace_source, undersize_reason
		FROM chunks WHERE run_id = ?
		ORDER BY doc_id, ordinal
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk //nolint:prealloc // size unknown from query
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

// ==================== Embedding Store ====================

// embeddingStore implements driven.EmbeddingStore.
type embeddingStore struct {
	store *Store
}

var _ driven.EmbeddingStore = (*embeddingStore)(nil)

// ExpectedDimension returns the configured dimension, falling back to
// the dimension of the first stored vector. A query failure must not
// read as "empty store": that would disable the dimension guard over a
// pre-populated database.
func (s *embeddingStore) ExpectedDimension(ctx context.Context) (int, error) {
	if s.store.vectorDim > 0 {
		return s.store.vectorDim, nil
	}
	var dim int
	err := s.store.db.QueryRowContext(ctx, "SELECT dimension FROM embeddings LIMIT 1").Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading stored dimension: %w", err)
	}
	return dim, nil
}

// UpsertEmbeddings writes vectors keyed on (chunk_id, provider) and
// returns the number of newly inserted rows. Existing pairs are
// updated in place, so re-running an unchanged set inserts nothing.
func (s *embeddingStore) UpsertEmbeddings(ctx context.Context, embeddings []domain.Embedding) (int, error) {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	exists, err := tx.PrepareContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM embeddings WHERE chunk_id = ? AND provider = ?)")
	if err != nil {
		return 0, fmt.Errorf("preparing existence check: %w", err)
	}
	defer exists.Close()

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (chunk_id, provider, model, dimension, vector, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id, provider) DO UPDATE SET
			model = excluded.model,
			dimension = excluded.dimension,
			vector = excluded.vector
	`)
	if err != nil {
		return 0, fmt.Errorf("preparing upsert: %w", err)
	}
	defer upsert.Close()

	inserted := 0
	for _, e := range embeddings {
		var present bool
		if err := exists.QueryRowContext(ctx, e.ChunkID, e.Provider).Scan(&present); err != nil {
			return 0, fmt.Errorf("checking embedding %s: %w", e.ChunkID, err)
		}
		if _, err := upsert.ExecContext(ctx, e.ChunkID, e.Provider, e.Model,
			e.Dimension, float32SliceToBytes(e.Vector), e.CreatedAt); err != nil {
			return 0, fmt.Errorf("upserting embedding %s: %w", e.ChunkID, err)
		}
		if !present {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return inserted, nil
}

func (s *embeddingStore) CountEmbeddings(ctx context.Context, provider string) (int, error) {
	var count int
	err := s.store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM embeddings WHERE provider = ?", provider).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting embeddings: %w", err)
	}
	return count, nil
}

// ==================== Run Log ====================

// runLog implements driven.RunLog.
type runLog struct {
	store *Store
}

var _ driven.RunLog = (*runLog)(nil)

// SaveRunSummary stores or updates the summary for its
// (run_id, provider) pair.
func (s *runLog) SaveRunSummary(ctx context.Context, summary *domain.RunSummary) error {
	failedJSON, err := json.Marshal(summary.FailedBatches)
	if err != nil {
		return fmt.Errorf("marshalling failed batches: %w", err)
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO run_summaries (run_id, provider, model, chunks_total,
			chunks_skipped, chunks_embedded, rows_inserted, failed_batches,
			started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, provider) DO UPDATE SET
			model = excluded.model,
			chunks_total = excluded.chunks_total,
			chunks_skipped = excluded.chunks_skipped,
			chunks_embedded = excluded.chunks_embedded,
			rows_inserted = excluded.rows_inserted,
			failed_batches = excluded.failed_batches,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, summary.RunID, summary.Provider, summary.Model, summary.ChunksTotal,
		summary.ChunksSkipped, summary.ChunksEmbedded, summary.RowsInserted,
		string(failedJSON), summary.StartedAt, summary.FinishedAt)

	if err != nil {
		return fmt.Errorf("saving run summary: %w", err)
	}
	return nil
}

// ListRunSummaries returns stored summaries newest first. An empty
// runID returns all runs.
func (s *runLog) ListRunSummaries(ctx context.Context, runID string) ([]domain.RunSummary, error) {
	query := `
		SELECT run_id, provider, model, chunks_total, chunks_skipped,
			chunks_embedded, rows_inserted, failed_batches, started_at, finished_at
		FROM run_summaries`
	var args []any
	if runID != "" {
		query += " WHERE run_id = ?"
		args = append(args, runID)
	}
	query += " ORDER BY finished_at DESC, run_id"

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying run summaries: %w", err)
	}
	defer rows.Close()

	var summaries []domain.RunSummary //nolint:prealloc // size unknown from query
	for rows.Next() {
		var summary domain.RunSummary
		var failedJSON string
		if err := rows.Scan(&summary.RunID, &summary.Provider, &summary.Model,
			&summary.ChunksTotal, &summary.ChunksSkipped, &summary.ChunksEmbedded,
			&summary.RowsInserted, &failedJSON, &summary.StartedAt, &summary.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning run summary: %w", err)
		}
		if err := json.Unmarshal([]byte(failedJSON), &summary.FailedBatches); err != nil {
			return nil, fmt.Errorf("unmarshaling failed batches: %w", err)
		}
		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run summaries: %w", err)
	}
	return summaries, nil
}

// ==================== Lexical Index ====================

// lexicalIndex implements driven.LexicalIndex on FTS5 with bm25
// ranking.
type lexicalIndex struct {
	store *Store
}

var _ driven.LexicalIndex = (*lexicalIndex)(nil)

func (s *lexicalIndex) SearchText(ctx context.Context, query string, k int, spaces []string) ([]driven.LexicalHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	sqlQuery := `
		SELECT chunk_id, bm25(chunks_fts) AS rank
		FROM chunks_fts
		WHERE chunks_fts MATCH ?`
	args := []any{match}
	if len(spaces) > 0 {
		sqlQuery += " AND space IN (" + placeholders(len(spaces)) + ")"
		for _, sp := range spaces {
			args = append(args, sp)
		}
	}
	sqlQuery += " ORDER BY rank LIMIT ?"
	args = append(args, k)

	rows, err := s.store.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var hits []driven.LexicalHit //nolint:prealloc // size unknown from query
	for rows.Next() {
		var hit driven.LexicalHit
		var rank float64
		if err := rows.Scan(&hit.ChunkID, &rank); err != nil {
			return nil, fmt.Errorf("scanning fts hit: %w", err)
		}
		// bm25() ranks best matches lowest (most negative); flip the
		// sign so callers get higher-is-better.
		hit.Score = -rank
		hits = append(hits, hit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fts hits: %w", err)
	}
	return hits, nil
}

// ftsQuery rewrites free text as an OR of quoted terms: quoting keeps
// user punctuation from breaking FTS5 match syntax, and the disjunction
// lets bm25 rank partial matches instead of dropping them.
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ReplaceAll(term, `"`, "")
		if term == "" {
			continue
		}
		quoted = append(quoted, `"`+term+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// ==================== Vector Searcher ====================

// vectorSearcher implements driven.VectorSearcher with a brute-force
// cosine scan over the stored vectors.
type vectorSearcher struct {
	store *Store
}

var _ driven.VectorSearcher = (*vectorSearcher)(nil)

func (s *vectorSearcher) SearchVectors(ctx context.Context, query []float32, provider string, k int, spaces []string) ([]driven.VectorHit, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", domain.ErrInvalidInput)
	}

	sqlQuery := `
		SELECT e.chunk_id, e.vector
		FROM embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		JOIN documents d ON d.id = c.doc_id
		WHERE e.provider = ?`
	args := []any{provider}
	if len(spaces) > 0 {
		sqlQuery += " AND d.space IN (" + placeholders(len(spaces)) + ")"
		for _, sp := range spaces {
			args = append(args, sp)
		}
	}

	rows, err := s.store.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var hits []driven.VectorHit //nolint:prealloc // size unknown from query
	for rows.Next() {
		var chunkID string
		var blob []byte
		if err := rows.Scan(&chunkID, &blob); err != nil {
			return nil, fmt.Errorf("scanning vector: %w", err)
		}
		vec := bytesToFloat32Slice(blob)
		if len(vec) != len(query) {
			continue
		}
		hits = append(hits, driven.VectorHit{
			ChunkID:    chunkID,
			Similarity: cosineSimilarity(query, vec),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vectors: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// cosineSimilarity returns the cosine of the angle between two vectors
// of equal length.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ==================== Helper Functions ====================

// placeholders returns n comma-separated SQL placeholders.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanChunk scans a chunk row in the canonical column order.
func scanChunk(row rowScanner) (*domain.Chunk, error) {
	var chunk domain.Chunk
	var ctype, strategy string

	if err := row.Scan(&chunk.ChunkID, &chunk.DocID, &chunk.Ordinal, &chunk.Text,
		&chunk.TokenCount, &chunk.CharStart, &chunk.CharEnd,
		&ctype, &strategy,
		&chunk.Traceability.Title, &chunk.Traceability.URL, &chunk.Traceability.SourceSystem,
		&chunk.UndersizeReason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}

	chunk.ChunkType = domain.ChunkType(ctype)
	chunk.SplitStrategy = domain.SplitStrategy(strategy)
	return &chunk, nil
}

// scanDocument scans a single document row.
func scanDocument(row *sql.Row) (*domain.Document, error) {
	var doc domain.Document
	var sectionsJSON string

	if err := row.Scan(&doc.DocID, &doc.RunID, &doc.Title, &doc.URL, &doc.SourceSystem,
		&doc.Space, &doc.DocClass, &doc.BodyText, &sectionsJSON, &doc.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	if err := json.Unmarshal([]byte(sectionsJSON), &doc.Sections); err != nil {
		return nil, fmt.Errorf("unmarshaling sections: %w", err)
	}
	return &doc, nil
}

// scanDocumentRows scans a document from *sql.Rows.
func scanDocumentRows(rows *sql.Rows) (*domain.Document, error) {
	var doc domain.Document
	var sectionsJSON string

	if err := rows.Scan(&doc.DocID, &doc.RunID, &doc.Title, &doc.URL, &doc.SourceSystem,
		&doc.Space, &doc.DocClass, &doc.BodyText, &sectionsJSON, &doc.CreatedAt); err != nil {
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	if err := json.Unmarshal([]byte(sectionsJSON), &doc.Sections); err != nil {
		return nil, fmt.Errorf("unmarshaling sections: %w", err)
	}
	return &doc, nil
}
