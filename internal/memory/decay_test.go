package memory

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestDecayedSalienceGentleWithinWeek(t *testing.T) {
	now := time.Now().UTC()
	c := DecayCandidate{Salience: 5.0, OriginalSalience: 5.0, Timestamp: now.Add(-2 * 24 * time.Hour), MemoryType: MemoryTypeFact}
	got := decayedSalience(c, now, 0.01)
	want := 5.0 * decayGentleFactor
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestDecayedSalienceStrongerBeyondWeek(t *testing.T) {
	now := time.Now().UTC()
	c := DecayCandidate{Salience: 5.0, OriginalSalience: 5.0, Timestamp: now.Add(-20 * 24 * time.Hour), MemoryType: MemoryTypeFact}
	got := decayedSalience(c, now, 0.01)
	want := 5.0 * decayStrongerFactor
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestDecayedSalienceTypeOverrides(t *testing.T) {
	now := time.Now().UTC()
	c := DecayCandidate{Salience: 5.0, OriginalSalience: 5.0, Timestamp: now.Add(-20 * 24 * time.Hour), MemoryType: MemoryTypeJoke}
	got := decayedSalience(c, now, 0.01)
	want := 5.0 * decayJokeFactor
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected joke override factor, got %v want %v", got, want)
	}
}

func TestDecayedSalienceRespectsFloor(t *testing.T) {
	now := time.Now().UTC()
	c := DecayCandidate{Salience: 0.02, OriginalSalience: 10.0, Timestamp: now.Add(-200 * 24 * time.Hour), MemoryType: MemoryTypeFact}
	got := decayedSalience(c, now, 0.01)
	floor := 0.01 * 10.0
	if got < floor-1e-9 {
		t.Fatalf("expected salience to be clamped at floor %v, got %v", floor, got)
	}
}

func TestDecaySchedulerTickSkipsPinnedEntries(t *testing.T) {
	ctx := context.Background()
	rows := newFakeRowStore()
	now := time.Now().UTC()

	entry := MemoryEntry{SessionID: "s1", Role: RoleUser, Content: "pinned fact", Timestamp: now.Add(-30 * 24 * time.Hour), Pinned: true}
	id, err := rows.Insert(ctx, &entry)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	analysis := MessageAnalysis{MessageID: id, Salience: 5.0, OriginalSalience: 5.0}
	if err := rows.UpdateAnalysis(ctx, &analysis); err != nil {
		t.Fatalf("update analysis: %v", err)
	}

	scheduler := NewDecayScheduler(rows, DecayConfig{BatchSize: 10, FloorFraction: 0.01})
	if err := scheduler.Tick(ctx, now); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, err := rows.LoadAnalysis(ctx, id)
	if err != nil {
		t.Fatalf("LoadAnalysis: %v", err)
	}
	if got.Salience != 5.0 {
		t.Fatalf("expected pinned entry's salience untouched, got %v", got.Salience)
	}
}

func TestReinforceAppliesFormulaAndTag(t *testing.T) {
	ctx := context.Background()
	rows := newFakeRowStore()
	now := time.Now().UTC()

	entry := MemoryEntry{SessionID: "s1", Role: RoleUser, Content: "a promise worth keeping"}
	id, err := rows.Insert(ctx, &entry)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	analysis := MessageAnalysis{MessageID: id, Salience: 4.0, OriginalSalience: 4.0}
	if err := rows.UpdateAnalysis(ctx, &analysis); err != nil {
		t.Fatalf("update analysis: %v", err)
	}

	if err := Reinforce(ctx, rows, id, 0.5, now); err != nil {
		t.Fatalf("Reinforce: %v", err)
	}

	got, err := rows.LoadAnalysis(ctx, id)
	if err != nil {
		t.Fatalf("LoadAnalysis: %v", err)
	}
	want := math.Min(10.0, 4.0*1.1+0.5)
	if math.Abs(got.Salience-want) > 1e-9 {
		t.Fatalf("got salience %v, want %v", got.Salience, want)
	}
	if got.OriginalSalience != 4.0 {
		t.Fatalf("expected original_salience untouched, got %v", got.OriginalSalience)
	}

	entries, err := rows.LoadByIDs(ctx, []int64{id})
	if err != nil || len(entries) != 1 {
		t.Fatalf("LoadByIDs: %v", err)
	}
	if !hasTag(entries[0].Tags, reinforcementTag) {
		t.Fatalf("expected %q tag, got %v", reinforcementTag, entries[0].Tags)
	}
	if entries[0].LastAccessed == nil {
		t.Fatal("expected last_accessed to be refreshed")
	}
}

func TestReinforceCapsAtTen(t *testing.T) {
	ctx := context.Background()
	rows := newFakeRowStore()
	now := time.Now().UTC()

	entry := MemoryEntry{SessionID: "s1", Role: RoleUser, Content: "already very salient"}
	id, err := rows.Insert(ctx, &entry)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	analysis := MessageAnalysis{MessageID: id, Salience: 9.5, OriginalSalience: 9.5}
	if err := rows.UpdateAnalysis(ctx, &analysis); err != nil {
		t.Fatalf("update analysis: %v", err)
	}

	if err := Reinforce(ctx, rows, id, 5.0, now); err != nil {
		t.Fatalf("Reinforce: %v", err)
	}
	got, err := rows.LoadAnalysis(ctx, id)
	if err != nil {
		t.Fatalf("LoadAnalysis: %v", err)
	}
	if got.Salience != 10.0 {
		t.Fatalf("expected salience capped at 10.0, got %v", got.Salience)
	}
}
