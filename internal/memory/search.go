package memory

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
)

// RecentSearch loads the last n entries of a session via the Row Store and
// scores them with similarity = 0, so they remain rankable by recency and
// salience alone.
func RecentSearch(ctx context.Context, rows RowStore, sessionID string, n int, weights ScoringConfig, now time.Time) ([]ScoredEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	entries, err := rows.LoadRecent(ctx, sessionID, n)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredEntry, 0, len(entries))
	for _, e := range entries {
		salience := 0.0
		if a, err := rows.LoadAnalysis(ctx, e.ID); err == nil && a != nil {
			salience = a.Salience
		}
		out = append(out, ScoreEntry(e, 0, salience, now, weights, ""))
	}
	SortByComposite(out)
	return out, nil
}

// SemanticSearch embeds the query once, searches a single head, and
// hydrates each hit's row-store entry (point_id == message_id, per I6).
func SemanticSearch(ctx context.Context, rows RowStore, vectors VectorStore, embedder EmbeddingProvider, head Head, sessionID, query string, k int, weights ScoringConfig, now time.Time) ([]ScoredEntry, error) {
	vec, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := vectors.Search(ctx, head, sessionID, vec, k)
	if err != nil {
		return nil, err
	}
	return hydrateAndScore(ctx, rows, hits, head, weights, now)
}

func hydrateAndScore(ctx context.Context, rows RowStore, hits []VectorResult, head Head, weights ScoringConfig, now time.Time) ([]ScoredEntry, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(hits))
	scoreByID := make(map[int64]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.PointID
		scoreByID[h.PointID] = h.Score
	}
	entries, err := rows.LoadByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredEntry, 0, len(entries))
	for _, e := range entries {
		salience := 0.0
		if a, err := rows.LoadAnalysis(ctx, e.ID); err == nil && a != nil {
			salience = a.Salience
		}
		out = append(out, ScoreEntry(e, scoreByID[e.ID], salience, now, weights, head))
	}
	return out, nil
}

// MultiHeadSearch embeds the query once, fans out in parallel across heads
// with k_per_head = ceil(k_total/|heads|), deduplicates by entry id keeping
// the highest per-head composite score, sorts, and truncates to k_total.
func MultiHeadSearch(ctx context.Context, rows RowStore, vectors VectorStore, embedder EmbeddingProvider, heads []Head, sessionID, query string, kTotal int, weights ScoringConfig, now time.Time) ([]ScoredEntry, error) {
	if len(heads) == 0 || kTotal <= 0 {
		return nil, nil
	}
	vec, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	kPerHead := int(math.Ceil(float64(kTotal) / float64(len(heads))))

	perHead := make([][]ScoredEntry, len(heads))
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range heads {
		i, h := i, h
		g.Go(func() error {
			hits, err := vectors.Search(gctx, h, sessionID, vec, kPerHead)
			if err != nil {
				return err
			}
			scored, err := hydrateAndScore(gctx, rows, hits, h, weights, now)
			if err != nil {
				return err
			}
			perHead[i] = scored
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := make(map[int64]ScoredEntry)
	for _, bucket := range perHead {
		for _, se := range bucket {
			if cur, ok := best[se.Entry.ID]; !ok || se.CompositeScore > cur.CompositeScore {
				best[se.Entry.ID] = se
			}
		}
	}
	out := make([]ScoredEntry, 0, len(best))
	for _, se := range best {
		out = append(out, se)
	}
	SortByComposite(out)
	if len(out) > kTotal {
		out = out[:kTotal]
	}
	return out, nil
}

// HybridSearch runs RecentSearch(recent_count) and a semantic search with
// k = semantic_count*3 in parallel, merges with recent-first
// deduplication (recent entries win ties on id), re-sorts, and truncates to
// recent_count+semantic_count. semanticUnavailable is true if the semantic
// branch failed and the caller should fall back to recent-only.
func HybridSearch(ctx context.Context, rows RowStore, vectors VectorStore, embedder EmbeddingProvider, heads []Head, sessionID, query string, cfg RecallConfig, weights ScoringConfig, now time.Time) ([]ScoredEntry, bool, error) {
	var recent, semantic []ScoredEntry
	var semanticErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		recent, err = RecentSearch(gctx, rows, sessionID, cfg.RecentCount, weights, now)
		return err
	})
	g.Go(func() error {
		semK := cfg.SemanticCount * 3
		if semK <= 0 {
			return nil
		}
		res, err := MultiHeadSearch(gctx, rows, vectors, embedder, heads, sessionID, query, semK, weights, now)
		if err != nil {
			semanticErr = err
			return nil
		}
		semantic = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	seen := make(map[int64]bool, len(recent))
	combined := make([]ScoredEntry, 0, len(recent)+len(semantic))
	for _, se := range recent {
		seen[se.Entry.ID] = true
		combined = append(combined, se)
	}
	for _, se := range semantic {
		if seen[se.Entry.ID] {
			continue
		}
		seen[se.Entry.ID] = true
		combined = append(combined, se)
	}
	SortByComposite(combined)
	limit := cfg.RecentCount + cfg.SemanticCount
	if len(combined) > limit {
		combined = combined[:limit]
	}
	return combined, semanticErr != nil, nil
}
