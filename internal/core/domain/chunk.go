package domain

import "fmt"

// ChunkType classifies the content a chunk was cut from.
type ChunkType string

// Chunk content types.
const (
	ChunkTypeHeading     ChunkType = "heading"
	ChunkTypeParagraph   ChunkType = "paragraph"
	ChunkTypeSentence    ChunkType = "sentence"
	ChunkTypeCode        ChunkType = "code"
	ChunkTypeTable       ChunkType = "table"
	ChunkTypeTokenWindow ChunkType = "token-window"
)

// SplitStrategy records which splitting policy produced a chunk.
type SplitStrategy string

// Split strategies, in cascade order. A chunk carries the strategy that
// finally made it fit the token budget.
const (
	SplitNone          SplitStrategy = "none"
	SplitHeading       SplitStrategy = "heading"
	SplitParagraph     SplitStrategy = "paragraph"
	SplitSentence      SplitStrategy = "sentence"
	SplitCodeLines     SplitStrategy = "code-lines"
	SplitTableRows     SplitStrategy = "table-rows"
	SplitTokenWindow   SplitStrategy = "token-window"
	SplitForceTruncate SplitStrategy = "force-truncate"
	SplitGlue          SplitStrategy = "glue"
)

// Chunk is a contiguous span of a document's text, bounded by the hard
// token budget. Chunks are created once per run and never mutated;
// re-chunking a document under a new run supersedes them.
type Chunk struct {
	// ChunkID is stable and derived from DocID and Ordinal.
	ChunkID string `json:"chunk_id"`

	// DocID links to the parent document.
	DocID string `json:"doc_id"`

	// Ordinal is the position of the chunk within its document.
	Ordinal int `json:"ordinal"`

	// Text is the chunk content, including any designed overlap prefix.
	Text string `json:"text"`

	// TokenCount is the token count of Text. Always <= the configured
	// hard maximum.
	TokenCount int `json:"token_count"`

	// CharStart and CharEnd delimit the chunk's core span within the
	// document body. Spans are non-overlapping apart from designed
	// overlap regions.
	CharStart int `json:"char_start"`
	CharEnd   int `json:"char_end"`

	// ChunkType classifies the content.
	ChunkType ChunkType `json:"chunk_type"`

	// SplitStrategy records how the chunk was produced.
	SplitStrategy SplitStrategy `json:"split_strategy"`

	// Traceability carries source metadata for every chunk.
	Traceability Traceability `json:"traceability"`

	// UndersizeReason is set when the chunk was allowed to remain below
	// the hard minimum token count (document too small, indivisible
	// code/table block). Empty otherwise.
	UndersizeReason string `json:"undersize_reason,omitempty"`
}

// ChunkID derives the stable chunk identifier for a document ordinal.
func ChunkID(docID string, ordinal int) string {
	return fmt.Sprintf("%s#%04d", docID, ordinal)
}

// SkippedDocument records a document the chunker could not split within
// its invariants. The run continues; the skip is reported, not hidden.
type SkippedDocument struct {
	DocID  string `json:"doc_id"`
	Reason string `json:"reason"`
}
