package domain

import "time"

// Section maps a heading to its character offset within the document body.
// Sections are produced by the normaliser and consumed by the chunker to
// split at heading boundaries.
type Section struct {
	// Heading is the heading text, without markup.
	Heading string

	// Level is the heading depth (1 = top level).
	Level int

	// Offset is the rune-independent byte offset of the heading within BodyText.
	Offset int
}

// Document represents one normalised source unit.
// It is immutable once produced for a given run; re-runs supersede
// rather than mutate existing documents.
type Document struct {
	// DocID is the unique identifier for the document.
	DocID string

	// Title is the human-readable title.
	Title string

	// URL is the canonical location of the source page or file.
	URL string

	// SourceSystem identifies the system the document came from
	// (e.g. "confluence", "gitlab-wiki", "filetree").
	SourceSystem string

	// Space is the content space or collection the document belongs to.
	// Used by retrieval space whitelisting.
	Space string

	// DocClass is the document classification used for retrieval boosts
	// (e.g. "methodology", "playbook", "runbook", "periodic").
	DocClass string

	// BodyText is the full normalised text content before chunking.
	BodyText string

	// Sections is the optional heading map, ordered by offset.
	Sections []Section

	// RunID identifies the chunking run that produced this document.
	RunID string

	// CreatedAt is when the document was normalised.
	CreatedAt time.Time
}

// Traceability carries enough source metadata to locate a chunk's origin.
// SourceSystem is always required; at least one of Title or URL must be set.
type Traceability struct {
	Title        string `json:"title"`
	URL          string `json:"url"`
	SourceSystem string `json:"source_system"`
}

// Valid reports whether the traceability contract is satisfied.
func (t Traceability) Valid() bool {
	return t.SourceSystem != "" && (t.Title != "" || t.URL != "")
}
