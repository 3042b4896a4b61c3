package memory

import (
	"context"
	"time"
)

// BuildRecallContext runs the Recall Builder's
// embed -> search -> score -> split -> attach_summaries -> update_recall_stats
// state machine and returns the assembled RecallContext.
func BuildRecallContext(ctx context.Context, rows RowStore, vectors VectorStore, embedder EmbeddingProvider, params RecallParams, cfg RecallConfig, weights ScoringConfig, now time.Time) (*RecallContext, error) {
	heads := params.Heads
	if len(heads) == 0 {
		heads = Heads()
	}
	recentCount := cfg.RecentCount
	if params.RecentCount != nil {
		recentCount = *params.RecentCount
	}
	semanticCount := cfg.SemanticCount
	if params.SemanticCount != nil {
		semanticCount = *params.SemanticCount
	}

	combined, semanticUnavailable, err := HybridSearch(ctx, rows, vectors, embedder, heads, params.SessionID, params.Query, RecallConfig{RecentCount: recentCount, SemanticCount: semanticCount}, weights, now)
	if err != nil {
		return nil, err
	}

	filtered := make([]ScoredEntry, 0, len(combined))
	for _, se := range combined {
		if params.MinSalience != nil && se.SalienceScore*10.0 < *params.MinSalience {
			continue
		}
		if params.MaxAgeHours != nil && now.Sub(se.Entry.Timestamp).Hours() > *params.MaxAgeHours {
			continue
		}
		filtered = append(filtered, se)
	}

	recent := make([]MemoryEntry, 0, recentCount)
	semantic := make([]MemoryEntry, 0, semanticCount)
	surfaced := make([]int64, 0, len(filtered))
	for _, se := range filtered {
		if len(recent) >= recentCount && len(semantic) >= semanticCount {
			break
		}
		if se.RecencyScore > se.SimilarityScore {
			if len(recent) < recentCount {
				recent = append(recent, se.Entry)
				surfaced = append(surfaced, se.Entry.ID)
			}
		} else {
			if len(semantic) < semanticCount {
				semantic = append(semantic, se.Entry)
				surfaced = append(surfaced, se.Entry.ID)
			}
		}
	}

	rc := &RecallContext{
		Recent:              recent,
		Semantic:            semantic,
		SemanticUnavailable: semanticUnavailable,
	}

	if rolling, err := rows.LatestSummary(ctx, params.SessionID, SummaryLevelRolling); err == nil {
		rc.RollingSummary = rolling
	}
	if meta, err := rows.LatestSummary(ctx, params.SessionID, SummaryLevelMeta); err == nil {
		rc.SessionSummary = meta
	}

	if len(surfaced) > 0 {
		if err := rows.BumpRecallStats(ctx, surfaced, now); err != nil {
			return rc, degraded("BuildRecallContext.BumpRecallStats", err)
		}
	}

	return rc, nil
}
