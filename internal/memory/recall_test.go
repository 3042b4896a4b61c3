package memory

import (
	"context"
	"testing"
	"time"
)

func TestBuildRecallContextSplitsRecentAndSemanticBuckets(t *testing.T) {
	ctx := context.Background()
	rows := newFakeRowStore()
	vectors := newFakeVectorStore(8)
	embedder := newFakeEmbeddingProvider(8)
	now := time.Now().UTC()

	veryRecent := seedEntry(t, rows, "s1", "just said this", now, 3.0, nil, nil, nil)
	semanticMatch := seedEntry(t, rows, "s1", "a distinctive query phrase", now.Add(-72*time.Hour), 9.0, []Head{HeadConversation}, vectors, embedder)

	params := RecallParams{SessionID: "s1", Query: "a distinctive query phrase", RecentCount: intPtr(5), SemanticCount: intPtr(5)}
	cfg := RecallConfig{RecentCount: 5, SemanticCount: 5}

	rc, err := BuildRecallContext(ctx, rows, vectors, embedder, params, cfg, defaultWeights(), now)
	if err != nil {
		t.Fatalf("BuildRecallContext: %v", err)
	}

	foundRecent := false
	for _, e := range rc.Recent {
		if e.ID == veryRecent.ID {
			foundRecent = true
		}
	}
	if !foundRecent {
		t.Fatal("expected the very recent low-similarity entry in the recent bucket")
	}

	foundSemantic := false
	for _, e := range rc.Semantic {
		if e.ID == semanticMatch.ID {
			foundSemantic = true
		}
	}
	if !foundSemantic {
		t.Fatal("expected the old high-similarity entry in the semantic bucket")
	}
}

func TestBuildRecallContextUpdatesRecallStats(t *testing.T) {
	ctx := context.Background()
	rows := newFakeRowStore()
	now := time.Now().UTC()

	entry := seedEntry(t, rows, "s1", "message to be surfaced", now, 5.0, nil, nil, nil)

	params := RecallParams{SessionID: "s1", RecentCount: intPtr(5), SemanticCount: intPtr(5)}
	cfg := RecallConfig{RecentCount: 5, SemanticCount: 5}
	if _, err := BuildRecallContext(ctx, rows, newFakeVectorStore(8), newFakeEmbeddingProvider(8), params, cfg, defaultWeights(), now); err != nil {
		t.Fatalf("BuildRecallContext: %v", err)
	}

	analysis, err := rows.LoadAnalysis(ctx, entry.ID)
	if err != nil {
		t.Fatalf("LoadAnalysis: %v", err)
	}
	if analysis.RecallCount != 1 {
		t.Fatalf("expected recall_count=1 after being surfaced, got %d", analysis.RecallCount)
	}
	if analysis.LastRecalled == nil {
		t.Fatal("expected last_recalled to be set")
	}
}

func TestBuildRecallContextExplicitZeroCountsYieldEmptyBucketsButKeepSummaries(t *testing.T) {
	ctx := context.Background()
	rows := newFakeRowStore()
	now := time.Now().UTC()

	seedEntry(t, rows, "s1", "message that should not surface", now, 5.0, nil, nil, nil)
	if err := rows.InsertSummary(ctx, &Summary{ID: "sum1", ScopeKey: "s1", Level: SummaryLevelRolling, SummaryText: "earlier recap", CreatedAt: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("InsertSummary: %v", err)
	}

	params := RecallParams{SessionID: "s1", RecentCount: intPtr(0), SemanticCount: intPtr(0)}
	cfg := RecallConfig{RecentCount: 5, SemanticCount: 5}
	rc, err := BuildRecallContext(ctx, rows, newFakeVectorStore(8), newFakeEmbeddingProvider(8), params, cfg, defaultWeights(), now)
	if err != nil {
		t.Fatalf("BuildRecallContext: %v", err)
	}
	if len(rc.Recent) != 0 || len(rc.Semantic) != 0 {
		t.Fatalf("expected empty buckets for explicit k=0, got recent=%d semantic=%d", len(rc.Recent), len(rc.Semantic))
	}
	if rc.RollingSummary == nil || rc.RollingSummary.SummaryText != "earlier recap" {
		t.Fatalf("expected the rolling summary to still be attached when counts are explicitly 0, got %+v", rc.RollingSummary)
	}
}

func TestBuildRecallContextAttachesSummaries(t *testing.T) {
	ctx := context.Background()
	rows := newFakeRowStore()
	now := time.Now().UTC()

	if err := rows.InsertSummary(ctx, &Summary{ID: "sum1", ScopeKey: "s1", Level: SummaryLevelRolling, SummaryText: "earlier recap", CreatedAt: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("InsertSummary: %v", err)
	}

	params := RecallParams{SessionID: "s1", RecentCount: intPtr(5), SemanticCount: intPtr(5)}
	cfg := RecallConfig{RecentCount: 5, SemanticCount: 5}
	rc, err := BuildRecallContext(ctx, rows, newFakeVectorStore(8), newFakeEmbeddingProvider(8), params, cfg, defaultWeights(), now)
	if err != nil {
		t.Fatalf("BuildRecallContext: %v", err)
	}
	if rc.RollingSummary == nil || rc.RollingSummary.SummaryText != "earlier recap" {
		t.Fatalf("expected the rolling summary to be attached, got %+v", rc.RollingSummary)
	}
}
