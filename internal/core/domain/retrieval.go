package domain

// RetrievalRequest configures one hybrid retrieval query.
type RetrievalRequest struct {
	// QueryText is the raw query.
	QueryText string `json:"query_text"`

	// TopK is the maximum number of hits returned (default 12).
	TopK int `json:"top_k"`

	// Budgets are optional character limits for packed context segments.
	Budgets []int `json:"budgets,omitempty"`

	// Provider selects which embedding provider's vectors serve the
	// dense leg.
	Provider string `json:"provider"`

	// HybridEnabled turns on the lexical leg alongside the dense leg.
	HybridEnabled bool `json:"hybrid_enabled"`

	// RRFK is the reciprocal rank fusion constant (default 60).
	RRFK int `json:"rrf_k"`

	// TopKDense and TopKBM25 size the two candidate legs (default 200).
	TopKDense int `json:"topk_dense"`
	TopKBM25  int `json:"topk_bm25"`

	// BoostsEnabled applies classification boosts after fusion.
	BoostsEnabled bool `json:"boosts_enabled"`

	// DomainFilterEnabled runs the domain query classifier, expanding
	// the query and optionally restricting the space whitelist.
	DomainFilterEnabled bool `json:"domain_filter_enabled"`

	// SpaceWhitelist restricts candidates to the named content spaces.
	SpaceWhitelist []string `json:"space_whitelist,omitempty"`

	// MaxPerDoc caps hits per document in the final set (default 3).
	MaxPerDoc int `json:"max_per_doc"`
}

// RetrievalHit is a single ranked result. It is ephemeral and exists
// only for the lifetime of a query response.
type RetrievalHit struct {
	ChunkID string `json:"chunk_id"`
	DocID   string `json:"doc_id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`

	// DenseRank and BM25Rank are 1-based ranks within each leg;
	// 0 means the candidate was absent from that leg.
	DenseRank int `json:"dense_rank"`
	BM25Rank  int `json:"bm25_rank"`

	// Boost is the additive classification adjustment applied.
	Boost float64 `json:"boost"`

	// FusedScore is the final RRF score including boost.
	FusedScore float64 `json:"fused_score"`
}

// RetrievalResult is the ordered response for one query.
type RetrievalResult struct {
	Hits []RetrievalHit `json:"hits"`

	// ExpandedQuery is set when the domain classifier rewrote the query.
	ExpandedQuery string `json:"expanded_query,omitempty"`

	// Context is the optional packed context text with per-segment
	// source separators.
	Context string `json:"context,omitempty"`
}
