package memory

import (
	"math"
	"testing"
	"time"
)

func defaultWeights() ScoringConfig {
	return ScoringConfig{WeightRecency: 0.3, WeightSimilarity: 0.5, WeightSalience: 0.2}
}

func TestScoreZeroAgeZeroSimilarity(t *testing.T) {
	now := time.Now().UTC()
	recency, sim, salienceN, composite := Score(now, 0, 5.0, now, defaultWeights())
	if math.Abs(recency-1.0) > 1e-9 {
		t.Fatalf("expected recency=1.0 at age 0, got %v", recency)
	}
	if sim != 0 {
		t.Fatalf("expected similarity=0, got %v", sim)
	}
	if math.Abs(salienceN-0.5) > 1e-9 {
		t.Fatalf("expected salience_n=0.5, got %v", salienceN)
	}
	wantComposite := 0.3*1.0 + 0.5*0 + 0.2*0.5
	if math.Abs(composite-wantComposite) > 1e-9 {
		t.Fatalf("composite=%v, want %v", composite, wantComposite)
	}
}

func TestScoreRecencyDecaysWithAge(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-24 * time.Hour)
	recency, _, _, _ := Score(past, 0, 0, now, defaultWeights())
	want := math.Exp(-1.0)
	if math.Abs(recency-want) > 1e-9 {
		t.Fatalf("recency at 24h = %v, want %v", recency, want)
	}
}

func TestScoreClampsFutureTimestampToZeroAge(t *testing.T) {
	now := time.Now().UTC()
	future := now.Add(time.Hour)
	recency, _, _, _ := Score(future, 0, 0, now, defaultWeights())
	if math.Abs(recency-1.0) > 1e-9 {
		t.Fatalf("expected recency=1.0 for a future timestamp, got %v", recency)
	}
}

func TestSortByCompositeDescendingWithRecentTiebreak(t *testing.T) {
	now := time.Now().UTC()
	older := ScoredEntry{Entry: MemoryEntry{ID: 1, Timestamp: now.Add(-time.Hour)}, CompositeScore: 0.5}
	newer := ScoredEntry{Entry: MemoryEntry{ID: 2, Timestamp: now}, CompositeScore: 0.5}
	highest := ScoredEntry{Entry: MemoryEntry{ID: 3, Timestamp: now.Add(-2 * time.Hour)}, CompositeScore: 0.9}

	entries := []ScoredEntry{older, newer, highest}
	SortByComposite(entries)

	if entries[0].Entry.ID != 3 {
		t.Fatalf("expected highest composite first, got id=%d", entries[0].Entry.ID)
	}
	if entries[1].Entry.ID != 2 {
		t.Fatalf("expected tie broken by more recent timestamp, got id=%d", entries[1].Entry.ID)
	}
}
