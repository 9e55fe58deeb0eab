package services

import (
	"context"
	"fmt"

	"github.com/lodestone-kb/lodestone/internal/core/domain"
	"github.com/lodestone-kb/lodestone/internal/core/ports/driven"
	"github.com/lodestone-kb/lodestone/internal/core/ports/driving"
)

// Preflight evaluates structural readiness for a run. Every check runs
// and every failing check contributes its reason code; quality metrics
// are reported but never block. The report is computed fresh on each
// call and performs no writes.
func (s *IngestService) Preflight(ctx context.Context, req driving.EmbedRequest) (*domain.PreflightReport, error) {
	if req.RunID == "" {
		return nil, fmt.Errorf("%w: run id required", domain.ErrInvalidInput)
	}

	report := &domain.PreflightReport{
		RunID:    req.RunID,
		Status:   domain.PreflightPending,
		SkipList: req.SkipList,
	}

	if s.cfgErr != nil {
		report.Reasons = append(report.Reasons, domain.ReasonConfigInvalid)
	}
	if s.tokenizer == nil {
		report.Reasons = append(report.Reasons, domain.ReasonTokenizerMissing)
	}

	enriched, err := s.source.HasEnrichedDocs(ctx, req.RunID)
	if err != nil {
		return nil, fmt.Errorf("check enriched docs: %w", err)
	}
	if !enriched {
		report.Reasons = append(report.Reasons, domain.ReasonMissingEnrich)
	}

	chunkCount, err := s.source.ChunkCount(ctx, req.RunID)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	if chunkCount == 0 {
		report.Reasons = append(report.Reasons, domain.ReasonMissingChunks)
	}

	embeddable, err := s.source.EmbeddableDocCount(ctx, req.RunID, req.SkipList)
	if err != nil {
		return nil, fmt.Errorf("count embeddable docs: %w", err)
	}
	report.EmbeddableDocs = embeddable
	if embeddable == 0 {
		report.Reasons = append(report.Reasons, domain.ReasonEmbeddableDocsZero)
	}

	// Advisory quality metric. A run full of short chunks is still
	// READY; the number is surfaced for operators.
	if chunkCount > 0 {
		pct, err := s.source.BelowThresholdPct(ctx, req.RunID, s.cfg.MinTokenThreshold)
		if err != nil {
			return nil, fmt.Errorf("below-threshold metric: %w", err)
		}
		report.BelowThresholdPct = pct
	}

	if len(report.Reasons) > 0 {
		report.Status = domain.PreflightBlocked
	} else {
		report.Status = domain.PreflightReady
	}

	s.emit(driven.LevelInfo, "preflight.evaluated", map[string]any{
		"run_id":          req.RunID,
		"status":          string(report.Status),
		"reasons":         report.Reasons,
		"embeddable_docs": report.EmbeddableDocs,
		"below_threshold": report.BelowThresholdPct,
	})

	return report, nil
}
