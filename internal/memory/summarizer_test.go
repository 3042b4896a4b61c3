package memory

import (
	"context"
	"testing"
	"time"
)

func TestMaybeSummarizeProducesRollingSummaryAtThreshold(t *testing.T) {
	ctx := context.Background()
	rows := newFakeRowStore()
	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		seedEntry(t, rows, "s1", "message body", now.Add(time.Duration(i)*time.Minute), 3.0, nil, nil, nil)
	}

	s := NewSummarizer(rows, &fakeLlmClient{response: "a rolling recap"}, SummaryConfig{RollingThreshold: 10, MetaThreshold: 10})
	if err := s.MaybeSummarize(ctx, "s1", now); err != nil {
		t.Fatalf("MaybeSummarize: %v", err)
	}

	summary, err := rows.LatestSummary(ctx, "s1", SummaryLevelRolling)
	if err != nil {
		t.Fatalf("LatestSummary: %v", err)
	}
	if summary == nil || summary.SummaryText != "a rolling recap" {
		t.Fatalf("expected a rolling summary to be produced, got %+v", summary)
	}
}

func TestMaybeSummarizeProducesMetaSummaryAndDeletesConsumedRolling(t *testing.T) {
	ctx := context.Background()
	rows := newFakeRowStore()
	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		if err := rows.InsertSummary(ctx, &Summary{ID: string(rune('a' + i)), ScopeKey: "s1", Level: SummaryLevelRolling, SummaryText: "chunk", CreatedAt: now.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("InsertSummary: %v", err)
		}
	}

	s := NewSummarizer(rows, &fakeLlmClient{response: "a meta recap"}, SummaryConfig{RollingThreshold: 1000, MetaThreshold: 10})
	if err := s.MaybeSummarize(ctx, "s1", now); err != nil {
		t.Fatalf("MaybeSummarize: %v", err)
	}

	meta, err := rows.LatestSummary(ctx, "s1", SummaryLevelMeta)
	if err != nil {
		t.Fatalf("LatestSummary(meta): %v", err)
	}
	if meta == nil || meta.SummaryText != "a meta recap" {
		t.Fatalf("expected a meta summary, got %+v", meta)
	}

	remaining, err := rows.UnconsumedSummaries(ctx, "s1", SummaryLevelRolling)
	if err != nil {
		t.Fatalf("UnconsumedSummaries: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected consumed level-1 summaries to be deleted, got %d remaining", len(remaining))
	}
}

func TestSnapshotRunsTheSameRollingPathOnDemand(t *testing.T) {
	ctx := context.Background()
	rows := newFakeRowStore()
	now := time.Now().UTC()
	seedEntry(t, rows, "s1", "a single message not yet at threshold", now, 3.0, nil, nil, nil)

	s := NewSummarizer(rows, &fakeLlmClient{response: "snapshot text"}, SummaryConfig{RollingThreshold: 10, MetaThreshold: 10})
	summary, err := s.Snapshot(ctx, "s1", now)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if summary == nil || summary.Level != SummaryLevelRolling {
		t.Fatalf("expected Snapshot to produce a level-1 summary, got %+v", summary)
	}
}
