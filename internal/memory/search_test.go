package memory

import (
	"context"
	"testing"
	"time"
)

func seedEntry(t *testing.T, rows *fakeRowStore, sessionID, content string, ts time.Time, salience float64, heads []Head, vectors *fakeVectorStore, embedder *fakeEmbeddingProvider) MemoryEntry {
	t.Helper()
	ctx := context.Background()
	entry := MemoryEntry{SessionID: sessionID, Role: RoleUser, Content: content, Timestamp: ts}
	id, err := rows.Insert(ctx, &entry)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	analysis := MessageAnalysis{MessageID: id, Salience: salience, OriginalSalience: salience, AnalyzedAt: ts}
	if err := rows.UpdateAnalysis(ctx, &analysis); err != nil {
		t.Fatalf("update analysis: %v", err)
	}
	if vectors != nil && len(heads) > 0 {
		vec, err := embedder.Embed(ctx, content)
		if err != nil {
			t.Fatalf("embed: %v", err)
		}
		for _, h := range heads {
			if err := vectors.Upsert(ctx, h, id, vec, map[string]string{"session_id": sessionID}); err != nil {
				t.Fatalf("upsert: %v", err)
			}
		}
	}
	return entry
}

func TestRecentSearchOrdersByComposite(t *testing.T) {
	ctx := context.Background()
	rows := newFakeRowStore()
	now := time.Now().UTC()

	seedEntry(t, rows, "s1", "older message", now.Add(-48*time.Hour), 2.0, nil, nil, nil)
	seedEntry(t, rows, "s1", "newer message", now.Add(-time.Hour), 2.0, nil, nil, nil)

	out, err := RecentSearch(ctx, rows, "s1", 10, defaultWeights(), now)
	if err != nil {
		t.Fatalf("RecentSearch: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if out[0].Entry.Content != "newer message" {
		t.Fatalf("expected newer message ranked first, got %q", out[0].Entry.Content)
	}
}

func TestSemanticSearchReturnsEmptyForUnknownHead(t *testing.T) {
	ctx := context.Background()
	rows := newFakeRowStore()
	vectors := newFakeVectorStore(8)
	embedder := newFakeEmbeddingProvider(8)

	out, err := SemanticSearch(ctx, rows, vectors, embedder, HeadCode, "s1", "query", 5, defaultWeights(), time.Now().UTC())
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty result for never-created head, got %d", len(out))
	}
}

func TestMultiHeadSearchDedupesKeepingHighestScore(t *testing.T) {
	ctx := context.Background()
	rows := newFakeRowStore()
	vectors := newFakeVectorStore(8)
	embedder := newFakeEmbeddingProvider(8)
	now := time.Now().UTC()

	entry := seedEntry(t, rows, "s1", "shared entry across heads", now, 5.0, []Head{HeadConversation, HeadCode}, vectors, embedder)

	out, err := MultiHeadSearch(ctx, rows, vectors, embedder, []Head{HeadConversation, HeadCode}, "s1", "shared entry across heads", 10, defaultWeights(), now)
	if err != nil {
		t.Fatalf("MultiHeadSearch: %v", err)
	}
	count := 0
	for _, se := range out {
		if se.Entry.ID == entry.ID {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected the shared entry to appear exactly once after dedup, got %d", count)
	}
}

func TestHybridSearchMergesRecentAndSemanticWithoutDuplicates(t *testing.T) {
	ctx := context.Background()
	rows := newFakeRowStore()
	vectors := newFakeVectorStore(8)
	embedder := newFakeEmbeddingProvider(8)
	now := time.Now().UTC()

	recentOnly := seedEntry(t, rows, "s1", "a recent chat message", now, 2.0, nil, nil, nil)
	both := seedEntry(t, rows, "s1", "a recent chat message also embedded", now.Add(-time.Minute), 8.0, []Head{HeadConversation}, vectors, embedder)

	cfg := RecallConfig{RecentCount: 5, SemanticCount: 5}
	out, unavailable, err := HybridSearch(ctx, rows, vectors, embedder, Heads(), "s1", "a recent chat message also embedded", cfg, defaultWeights(), now)
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if unavailable {
		t.Fatal("did not expect semantic branch to be unavailable")
	}
	seen := make(map[int64]int)
	for _, se := range out {
		seen[se.Entry.ID]++
	}
	if seen[recentOnly.ID] == 0 {
		t.Fatal("expected recent-only entry to be present")
	}
	if seen[both.ID] != 1 {
		t.Fatalf("expected entry present in both branches to appear exactly once, got %d", seen[both.ID])
	}
}
