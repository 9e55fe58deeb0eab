package domain

// PreflightStatus is the readiness verdict for an embedding run.
type PreflightStatus string

// Preflight states. PENDING transitions to exactly one of READY or
// BLOCKED; both are terminal until the underlying condition is corrected
// and preflight runs again.
const (
	PreflightPending PreflightStatus = "PENDING"
	PreflightReady   PreflightStatus = "READY"
	PreflightBlocked PreflightStatus = "BLOCKED"
)

// BlockReason is a structural reason code for a BLOCKED preflight.
// Quality metrics are never block reasons.
type BlockReason string

// Structural block reasons.
const (
	ReasonMissingEnrich      BlockReason = "MISSING_ENRICH"
	ReasonMissingChunks      BlockReason = "MISSING_CHUNKS"
	ReasonTokenizerMissing   BlockReason = "TOKENIZER_MISSING"
	ReasonConfigInvalid      BlockReason = "CONFIG_INVALID"
	ReasonEmbeddableDocsZero BlockReason = "EMBEDDABLE_DOCS_ZERO"
)

// PreflightReport is the per-run readiness verdict. It is created fresh
// each time preflight runs and consumed once by ingestion dispatch.
type PreflightReport struct {
	RunID string `json:"run_id"`

	Status PreflightStatus `json:"status"`

	// Reasons lists the structural reason codes when Status is BLOCKED.
	Reasons []BlockReason `json:"reasons"`

	// EmbeddableDocs is the number of documents with materialised chunks
	// not on the skip list.
	EmbeddableDocs int `json:"embeddable_docs"`

	// BelowThresholdPct is the percentage of chunks below the soft
	// minimum token count. Advisory only; it never blocks a run.
	BelowThresholdPct float64 `json:"below_threshold_pct"`

	// SkipList names documents excluded from embedding.
	SkipList []string `json:"skip_list"`
}

// Ready reports whether ingestion may proceed.
func (r *PreflightReport) Ready() bool {
	return r.Status == PreflightReady
}

// Skipped reports whether a document is on the skip list.
func (r *PreflightReport) Skipped(docID string) bool {
	for _, id := range r.SkipList {
		if id == docID {
			return true
		}
	}
	return false
}
