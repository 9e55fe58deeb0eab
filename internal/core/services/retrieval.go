package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lodestone-kb/lodestone/internal/core/domain"
	"github.com/lodestone-kb/lodestone/internal/core/ports/driven"
	"github.com/lodestone-kb/lodestone/internal/core/ports/driving"
)

// Ensure RetrievalService implements the interface.
var _ driving.RetrievalService = (*RetrievalService)(nil)

// Retrieval defaults.
const (
	DefaultTopK      = 12
	DefaultRRFK      = 60
	DefaultLegTopK   = 200
	DefaultMaxPerDoc = 3
)

// ClassifierRule triggers query expansion when any of its keywords
// appears in the query. Matching is case-insensitive.
type ClassifierRule struct {
	// Name labels the rule in events.
	Name string

	// Keywords and Phrases trigger the rule.
	Keywords []string

	// Synonyms are appended to the query before both legs run.
	Synonyms []string

	// Spaces optionally restricts candidates to these content spaces
	// when the request itself carries no whitelist.
	Spaces []string
}

// RetrievalConfig carries the tunable ranking behaviour. Boost values
// and classifier rules come from configuration, never from code.
type RetrievalConfig struct {
	// Boosts maps a document classification to an additive score
	// adjustment applied after fusion.
	Boosts map[string]float64

	// Rules drive the domain query classifier.
	Rules []ClassifierRule
}

// rankedCandidate accumulates per-leg ranks during fusion.
type rankedCandidate struct {
	chunkID   string
	denseRank int
	bm25Rank  int
	fused     float64
}

// RetrievalService answers hybrid queries over accumulated chunk and
// embedding state. It holds no per-query state; callers may retrieve
// concurrently.
type RetrievalService struct {
	docs     driven.DocumentStore
	lexical  driven.LexicalIndex
	vectors  driven.VectorSearcher
	embedder driven.EmbeddingService
	cfg      RetrievalConfig
	sink     driven.EventSink
}

// RetrievalOption configures a RetrievalService.
type RetrievalOption func(*RetrievalService)

// WithRetrievalConfig installs boost and classifier configuration.
func WithRetrievalConfig(cfg RetrievalConfig) RetrievalOption {
	return func(s *RetrievalService) { s.cfg = cfg }
}

// WithRetrievalEventSink sets the sink for query events.
func WithRetrievalEventSink(sink driven.EventSink) RetrievalOption {
	return func(s *RetrievalService) { s.sink = sink }
}

// NewRetrievalService creates the retrieval engine. The embedder and
// vector searcher may be nil, which disables the dense leg; the lexical
// index may be nil, which disables the BM25 leg.
func NewRetrievalService(
	docs driven.DocumentStore,
	lexical driven.LexicalIndex,
	vectors driven.VectorSearcher,
	embedder driven.EmbeddingService,
	opts ...RetrievalOption,
) *RetrievalService {
	s := &RetrievalService{
		docs:     docs,
		lexical:  lexical,
		vectors:  vectors,
		embedder: embedder,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Retrieve runs both candidate legs in parallel, fuses them with
// reciprocal rank fusion, applies classification boosts and a
// per-document diversity cap, and hydrates the surviving hits.
func (s *RetrievalService) Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error) {
	query := strings.TrimSpace(req.QueryText)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}
	applyRetrievalDefaults(&req)

	result := &domain.RetrievalResult{}
	spaces := req.SpaceWhitelist

	if req.DomainFilterEnabled {
		expanded, ruleSpaces, matched := s.classify(query)
		if matched != "" {
			result.ExpandedQuery = expanded
			query = expanded
			if len(spaces) == 0 {
				spaces = ruleSpaces
			}
			s.emit(driven.LevelDebug, "query.classified", map[string]any{
				"rule": matched, "expanded": expanded, "spaces": spaces,
			})
		}
	}

	denseHits, bm25Hits, err := s.runLegs(ctx, query, req, spaces)
	if err != nil {
		return nil, err
	}

	candidates := fuse(denseHits, bm25Hits, req.RRFK)
	hits, err := s.hydrate(ctx, candidates, query, req)
	if err != nil {
		return nil, err
	}

	sortHits(hits)
	hits = capPerDoc(hits, req.MaxPerDoc)
	if len(hits) > req.TopK {
		hits = hits[:req.TopK]
	}
	result.Hits = hits

	if len(req.Budgets) > 0 {
		result.Context = packContext(hits, req.Budgets)
	}

	s.emit(driven.LevelInfo, "query.answered", map[string]any{
		"query": req.QueryText, "hits": len(hits),
		"dense_candidates": len(denseHits), "bm25_candidates": len(bm25Hits),
	})
	return result, nil
}

// runLegs executes the dense and lexical searches in parallel. A leg
// whose backing service is absent simply contributes nothing; if both
// available legs fail the query fails.
func (s *RetrievalService) runLegs(
	ctx context.Context, query string, req domain.RetrievalRequest, spaces []string,
) ([]driven.VectorHit, []driven.LexicalHit, error) {
	var (
		denseHits []driven.VectorHit
		bm25Hits  []driven.LexicalHit
		denseErr  error
		bm25Err   error
	)

	denseAvailable := s.vectors != nil && s.embedder != nil
	bm25Available := s.lexical != nil && req.HybridEnabled

	g, gctx := errgroup.WithContext(ctx)
	if denseAvailable {
		g.Go(func() error {
			vec, err := s.embedder.Embed(gctx, query)
			if err != nil {
				denseErr = fmt.Errorf("query embedding: %w", err)
				return nil
			}
			denseHits, denseErr = s.vectors.SearchVectors(gctx, vec, req.Provider, req.TopKDense, spaces)
			return nil
		})
	}
	if bm25Available {
		g.Go(func() error {
			bm25Hits, bm25Err = s.lexical.SearchText(gctx, query, req.TopKBM25, spaces)
			return nil
		})
	}
	if !denseAvailable && !bm25Available {
		return nil, nil, errors.New("no retrieval leg available")
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	// One failing leg degrades to the other; two failing legs (or the
	// only leg failing) is a query error.
	switch {
	case denseErr != nil && bm25Err != nil:
		return nil, nil, fmt.Errorf("both legs failed: dense: %v; bm25: %v", denseErr, bm25Err)
	case denseErr != nil && !bm25Available:
		return nil, nil, denseErr
	case bm25Err != nil && !denseAvailable:
		return nil, nil, bm25Err
	case denseErr != nil:
		s.emit(driven.LevelWarn, "leg.degraded", map[string]any{"leg": "dense", "error": denseErr.Error()})
		denseHits = nil
	case bm25Err != nil:
		s.emit(driven.LevelWarn, "leg.degraded", map[string]any{"leg": "bm25", "error": bm25Err.Error()})
		bm25Hits = nil
	}

	return denseHits, bm25Hits, nil
}

// fuse merges the two ranked lists with reciprocal rank fusion. A
// candidate absent from a leg receives no contribution from it rather
// than a phantom rank.
func fuse(denseHits []driven.VectorHit, bm25Hits []driven.LexicalHit, k int) []rankedCandidate {
	byID := make(map[string]*rankedCandidate, len(denseHits)+len(bm25Hits))

	for i, hit := range denseHits {
		byID[hit.ChunkID] = &rankedCandidate{chunkID: hit.ChunkID, denseRank: i + 1}
	}
	for i, hit := range bm25Hits {
		cand, ok := byID[hit.ChunkID]
		if !ok {
			cand = &rankedCandidate{chunkID: hit.ChunkID}
			byID[hit.ChunkID] = cand
		}
		cand.bm25Rank = i + 1
	}

	out := make([]rankedCandidate, 0, len(byID))
	for _, cand := range byID {
		if cand.denseRank > 0 {
			cand.fused += 1.0 / float64(k+cand.denseRank)
		}
		if cand.bm25Rank > 0 {
			cand.fused += 1.0 / float64(k+cand.bm25Rank)
		}
		out = append(out, *cand)
	}
	return out
}

// hydrate loads chunk and document data for each candidate, applies
// boosts, and drops hits that cannot be traced back to a source.
func (s *RetrievalService) hydrate(
	ctx context.Context, candidates []rankedCandidate, query string, req domain.RetrievalRequest,
) ([]domain.RetrievalHit, error) {
	hits := make([]domain.RetrievalHit, 0, len(candidates))
	classes := make(map[string]string)

	for _, cand := range candidates {
		chunk, err := s.docs.GetChunk(ctx, cand.chunkID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("get chunk %s: %w", cand.chunkID, err)
		}

		// Untraceable content never reaches a caller. Every returned
		// hit carries both a title and a url.
		if chunk.Traceability.Title == "" || chunk.Traceability.URL == "" {
			s.emit(driven.LevelWarn, "hit.dropped", map[string]any{
				"chunk_id": cand.chunkID, "reason": "missing traceability",
			})
			continue
		}

		hit := domain.RetrievalHit{
			ChunkID:    cand.chunkID,
			DocID:      chunk.DocID,
			Title:      chunk.Traceability.Title,
			URL:        chunk.Traceability.URL,
			Snippet:    snippet(chunk.Text, query),
			DenseRank:  cand.denseRank,
			BM25Rank:   cand.bm25Rank,
			FusedScore: cand.fused,
		}

		if req.BoostsEnabled && len(s.cfg.Boosts) > 0 {
			class, ok := classes[chunk.DocID]
			if !ok {
				class = s.docClass(ctx, chunk.DocID)
				classes[chunk.DocID] = class
			}
			if boost, found := s.cfg.Boosts[class]; found {
				hit.Boost = boost
				hit.FusedScore += boost
			}
		}

		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *RetrievalService) docClass(ctx context.Context, docID string) string {
	doc, err := s.docs.GetDocument(ctx, docID)
	if err != nil {
		return ""
	}
	return doc.DocClass
}

// classify matches the query against the configured rules and expands
// it with the first matching rule's synonym set.
func (s *RetrievalService) classify(query string) (expanded string, spaces []string, matched string) {
	lower := strings.ToLower(query)
	for _, rule := range s.cfg.Rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				parts := append([]string{query}, rule.Synonyms...)
				return strings.Join(parts, " "), rule.Spaces, rule.Name
			}
		}
	}
	return query, nil, ""
}

// sortHits orders by fused score descending; equal scores order by
// ascending chunk ID so results are stable across runs.
func sortHits(hits []domain.RetrievalHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].FusedScore != hits[j].FusedScore {
			return hits[i].FusedScore > hits[j].FusedScore
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}

// capPerDoc walks the ranked hits keeping at most maxPerDoc per
// document.
func capPerDoc(hits []domain.RetrievalHit, maxPerDoc int) []domain.RetrievalHit {
	if maxPerDoc <= 0 {
		return hits
	}
	counts := make(map[string]int)
	out := hits[:0:0]
	for _, hit := range hits {
		if counts[hit.DocID] >= maxPerDoc {
			continue
		}
		counts[hit.DocID]++
		out = append(out, hit)
	}
	return out
}

// snippet returns the first sentence of the chunk containing a query
// term, truncated to 200 characters. Falls back to the chunk's opening
// text when no term matches.
func snippet(content, query string) string {
	const maxLen = 200
	terms := strings.Fields(strings.ToLower(query))

	for _, sentence := range splitSnippetSentences(content) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		lower := strings.ToLower(sentence)
		for _, term := range terms {
			if strings.Contains(lower, term) {
				return clip(sentence, maxLen)
			}
		}
	}

	return clip(strings.TrimSpace(content), maxLen)
}

func clip(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func splitSnippetSentences(content string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range content {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// packContext assembles hit snippets into budgeted segments with
// per-segment source separators. Budgets are character limits; the
// number of segments is min(len(hits), len(budgets)).
func packContext(hits []domain.RetrievalHit, budgets []int) string {
	var sb strings.Builder
	for i, hit := range hits {
		if i >= len(budgets) {
			break
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "----- %s (%s) -----\n", hit.Title, hit.URL)
		sb.WriteString(clip(hit.Snippet, budgets[i]))
		sb.WriteString("\n")
	}
	return sb.String()
}

func applyRetrievalDefaults(req *domain.RetrievalRequest) {
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	if req.RRFK <= 0 {
		req.RRFK = DefaultRRFK
	}
	if req.TopKDense <= 0 {
		req.TopKDense = DefaultLegTopK
	}
	if req.TopKBM25 <= 0 {
		req.TopKBM25 = DefaultLegTopK
	}
	if req.MaxPerDoc <= 0 {
		req.MaxPerDoc = DefaultMaxPerDoc
	}
}

func (s *RetrievalService) emit(level driven.EventLevel, name string, fields map[string]any) {
	if s.sink == nil {
		return
	}
	s.sink.Emit(driven.Event{
		Component: "retrieval",
		Name:      name,
		Level:     level,
		Fields:    fields,
		At:        time.Now().UTC(),
	})
}
