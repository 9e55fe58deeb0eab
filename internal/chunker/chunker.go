// Package chunker provides a token-budgeted, content-aware chunking
// engine. It splits a normalised document into bounded, addressable
// passages while preserving semantic boundaries and document coverage.
//
// The splitting cascade is tried in order until the result fits the
// hard token budget: heading boundaries, paragraph boundaries, sentence
// boundaries, code-fence line groups, table row groups and finally a
// token-window fallback with binary-search truncation as the last
// resort.
package chunker

import (
	"context"
	"fmt"
	"time"

	"github.com/lodestone-kb/lodestone/internal/core/domain"
	"github.com/lodestone-kb/lodestone/internal/core/ports/driven"
	"github.com/lodestone-kb/lodestone/internal/core/ports/driving"
)

// Ensure Chunker implements the interface.
var _ driving.ChunkingService = (*Chunker)(nil)

// Default token budgets.
const (
	// DefaultHardMaxTokens is the hard per-chunk token cap.
	DefaultHardMaxTokens = 800

	// DefaultSoftMinTokens is the glue-pass merge threshold.
	DefaultSoftMinTokens = 200

	// DefaultHardMinTokens is the floor below which a chunk needs a
	// recorded reason to survive.
	DefaultHardMinTokens = 80

	// DefaultOverlapTokens is the trailing context copied across a split.
	DefaultOverlapTokens = 60
)

// minCoverage is the required fraction of document characters accounted
// for by chunk spans.
const minCoverage = 0.995

// Chunker splits documents into token-bounded chunks.
type Chunker struct {
	hardMax   int
	softMin   int
	hardMin   int
	overlap   int
	tokenizer driven.Tokenizer
	sink      driven.EventSink
}

// Option configures the chunker.
type Option func(*Chunker)

// WithHardMaxTokens sets the hard per-chunk token cap.
func WithHardMaxTokens(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.hardMax = n
		}
	}
}

// WithSoftMinTokens sets the glue-pass merge threshold.
func WithSoftMinTokens(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.softMin = n
		}
	}
}

// WithHardMinTokens sets the undersize floor.
func WithHardMinTokens(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.hardMin = n
		}
	}
}

// WithOverlapTokens sets the cross-boundary overlap copied on splits.
func WithOverlapTokens(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlap = n
		}
	}
}

// WithEventSink sets the sink receiving chunker events.
func WithEventSink(sink driven.EventSink) Option {
	return func(c *Chunker) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// New creates a chunker using the given tokenizer for budgeting.
func New(tokenizer driven.Tokenizer, opts ...Option) *Chunker {
	c := &Chunker{
		hardMax:   DefaultHardMaxTokens,
		softMin:   DefaultSoftMinTokens,
		hardMin:   DefaultHardMinTokens,
		overlap:   DefaultOverlapTokens,
		tokenizer: tokenizer,
		sink:      noopSink{},
	}

	for _, opt := range opts {
		opt(c)
	}

	// Overlap must leave room for content under the cap.
	if c.overlap >= c.hardMax/2 {
		c.overlap = c.hardMax / 4
	}

	return c
}

type noopSink struct{}

func (noopSink) Emit(driven.Event) {}

// piece is an intermediate chunk candidate before ordinals are assigned.
type piece struct {
	text      string
	start     int
	end       int
	ctype     domain.ChunkType
	strategy  domain.SplitStrategy
	tokens    int
	undersize string
}

// ChunkDocument splits one document into ordered chunks.
// Returns domain.ErrDocumentUnchunkable when the document cannot be
// split within invariants; the caller decides whether to skip it.
func (c *Chunker) ChunkDocument(ctx context.Context, doc *domain.Document) ([]domain.Chunk, error) {
	if c.tokenizer == nil {
		return nil, domain.ErrTokenizerUnavailable
	}
	if doc == nil || doc.BodyText == "" {
		return nil, fmt.Errorf("%w: empty body", domain.ErrDocumentUnchunkable)
	}

	trace := domain.Traceability{
		Title:        doc.Title,
		URL:          doc.URL,
		SourceSystem: doc.SourceSystem,
	}
	if !trace.Valid() {
		return nil, fmt.Errorf("%w: incomplete traceability (source_system plus title or url required)", domain.ErrDocumentUnchunkable)
	}

	var pieces []piece
	for _, seg := range c.segments(doc) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blocks := parseBlocks(doc.BodyText[seg.start:seg.end], seg.start)
		for _, b := range blocks {
			fitted, err := c.fitBlock(doc, b, seg.fromSectionMap)
			if err != nil {
				return nil, err
			}
			pieces = append(pieces, fitted...)
		}
	}

	if len(pieces) == 0 {
		return nil, fmt.Errorf("%w: no content blocks", domain.ErrDocumentUnchunkable)
	}

	pieces = c.glue(pieces)
	c.markUndersized(doc.DocID, pieces)

	if cov := coverage(pieces, len(doc.BodyText)); cov < minCoverage {
		return nil, fmt.Errorf("%w: span coverage %.1f%% below %.1f%%",
			domain.ErrDocumentUnchunkable, cov*100, minCoverage*100)
	}

	chunks := make([]domain.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = domain.Chunk{
			ChunkID:         domain.ChunkID(doc.DocID, i),
			DocID:           doc.DocID,
			Ordinal:         i,
			Text:            p.text,
			TokenCount:      p.tokens,
			CharStart:       p.start,
			CharEnd:         p.end,
			ChunkType:       p.ctype,
			SplitStrategy:   p.strategy,
			Traceability:    trace,
			UndersizeReason: p.undersize,
		}
	}

	return chunks, nil
}

// ChunkBatch chunks many documents. A document that cannot be chunked
// within invariants is skipped with a recorded reason; it never aborts
// the batch.
func (c *Chunker) ChunkBatch(ctx context.Context, docs []domain.Document) (*driving.ChunkBatchResult, error) {
	result := &driving.ChunkBatchResult{}

	for i := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunks, err := c.ChunkDocument(ctx, &docs[i])
		if err != nil {
			result.Skipped = append(result.Skipped, domain.SkippedDocument{
				DocID:  docs[i].DocID,
				Reason: err.Error(),
			})
			c.sink.Emit(driven.Event{
				Component: "chunker",
				Name:      "doc.skipped",
				Level:     driven.LevelWarn,
				Fields:    map[string]any{"doc_id": docs[i].DocID, "reason": err.Error()},
				At:        time.Now().UTC(),
			})
			continue
		}
		result.Chunks = append(result.Chunks, chunks...)
	}

	return result, nil
}

// segment is a top-level region of the document, optionally derived
// from the section map.
type segment struct {
	start          int
	end            int
	fromSectionMap bool
}

// segments splits the document at section-map offsets, falling back to
// a single segment covering the whole body.
func (c *Chunker) segments(doc *domain.Document) []segment {
	body := doc.BodyText
	if len(doc.Sections) == 0 {
		return []segment{{start: 0, end: len(body)}}
	}

	var segs []segment
	prev := 0
	for _, sec := range doc.Sections {
		if sec.Offset <= prev || sec.Offset >= len(body) {
			continue
		}
		segs = append(segs, segment{start: prev, end: sec.Offset, fromSectionMap: true})
		prev = sec.Offset
	}
	segs = append(segs, segment{start: prev, end: len(body), fromSectionMap: true})
	return segs
}

// glue merges undersized chunks into neighbours without breaching the
// hard cap: orphan headings merge forward, small chunks merge into an
// adjacent chunk, and a small trailing chunk merges into its
// predecessor.
func (c *Chunker) glue(pieces []piece) []piece {
	// Orphan heading-only chunks merge into their following sibling.
	for i := 0; i < len(pieces)-1; i++ {
		if pieces[i].ctype != domain.ChunkTypeHeading {
			continue
		}
		if merged, ok := c.merge(pieces[i], pieces[i+1], pieces[i+1].ctype); ok {
			pieces[i] = merged
			pieces = append(pieces[:i+1], pieces[i+2:]...)
			i--
		}
	}

	// Chunks below the soft minimum merge into an adjacent chunk.
	for i := 0; i < len(pieces); i++ {
		if pieces[i].tokens >= c.softMin || len(pieces) == 1 {
			continue
		}
		if i+1 < len(pieces) {
			if merged, ok := c.merge(pieces[i], pieces[i+1], dominantType(pieces[i], pieces[i+1])); ok {
				pieces[i] = merged
				pieces = append(pieces[:i+1], pieces[i+2:]...)
				i--
				continue
			}
		}
		if i > 0 {
			if merged, ok := c.merge(pieces[i-1], pieces[i], dominantType(pieces[i-1], pieces[i])); ok {
				pieces[i-1] = merged
				pieces = append(pieces[:i], pieces[i+1:]...)
				i -= 2
			}
		}
	}

	return pieces
}

// merge combines two adjacent pieces when the result stays within the
// hard cap.
func (c *Chunker) merge(a, b piece, ctype domain.ChunkType) (piece, bool) {
	text := a.text + "\n\n" + b.text
	tokens := c.tokenizer.CountTokens(text)
	if tokens > c.hardMax {
		return piece{}, false
	}

	undersize := ""
	if a.undersize != "" && b.undersize != "" {
		undersize = a.undersize
	}

	return piece{
		text:      text,
		start:     a.start,
		end:       b.end,
		ctype:     ctype,
		strategy:  domain.SplitGlue,
		tokens:    tokens,
		undersize: undersize,
	}, true
}

// markUndersized records why chunks below the hard minimum were kept.
func (c *Chunker) markUndersized(docID string, pieces []piece) {
	for i := range pieces {
		p := &pieces[i]
		if p.tokens >= c.hardMin || p.undersize != "" {
			continue
		}

		switch {
		case len(pieces) == 1:
			p.undersize = "document smaller than minimum"
		case p.ctype == domain.ChunkTypeCode:
			p.undersize = "indivisible code block"
		case p.ctype == domain.ChunkTypeTable:
			p.undersize = "indivisible table block"
		default:
			p.undersize = "no adjacent chunk with capacity"
		}

		c.sink.Emit(driven.Event{
			Component: "chunker",
			Name:      "chunk.undersized",
			Level:     driven.LevelDebug,
			Fields:    map[string]any{"doc_id": docID, "tokens": p.tokens, "reason": p.undersize},
			At:        time.Now().UTC(),
		})
	}
}

// dominantType picks the type of the larger of two pieces.
func dominantType(a, b piece) domain.ChunkType {
	if b.tokens > a.tokens {
		return b.ctype
	}
	return a.ctype
}

// coverage returns the fraction of document characters covered by the
// union of piece spans.
func coverage(pieces []piece, bodyLen int) float64 {
	if bodyLen == 0 {
		return 0
	}

	covered := 0
	prevEnd := 0
	for _, p := range pieces {
		start, end := p.start, p.end
		if start < prevEnd {
			start = prevEnd
		}
		if end > start {
			covered += end - start
		}
		if end > prevEnd {
			prevEnd = end
		}
	}

	return float64(covered) / float64(bodyLen)
}
