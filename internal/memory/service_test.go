package memory

import (
	"context"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func newTestService(t *testing.T, llm LlmClient) (*Service, *fakeRowStore, *fakeVectorStore) {
	t.Helper()
	rows := newFakeRowStore()
	vectors := newFakeVectorStore(8)
	embedder := newFakeEmbeddingProvider(8)
	cfg := DefaultConfig()
	cfg.Embedding.BatchWindowMs = 20
	cfg.Router.MinEmbedChars = 6
	svc := NewService(rows, vectors, embedder, llm, cfg, NewMockMetrics())
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	t.Cleanup(func() {
		svc.Stop()
		cancel()
	})
	return svc, rows, vectors
}

func TestServiceSaveUserAnalyzesAndIndexes(t *testing.T) {
	llm := &fakeLlmClient{response: `{"salience":8.0,"intent":"","summary":"","relationship_impact":"","mood":"","intensity":0,"topics":[],"contains_code":false,"programming_lang":"","routed_to_heads":["conversation"]}`}
	svc, rows, vectors := newTestService(t, llm)
	ctx := context.Background()

	id, err := svc.SaveUser(ctx, "s1", "a message worth remembering forever", nil)
	if err != nil {
		t.Fatalf("SaveUser: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		a, _ := rows.LoadAnalysis(ctx, id)
		return a != nil
	})
	waitFor(t, time.Second, func() bool {
		vectors.mu.Lock()
		defer vectors.mu.Unlock()
		_, ok := vectors.points[HeadConversation][id]
		return ok
	})
}

func TestServiceRecallReturnsSavedEntry(t *testing.T) {
	svc, rows, _ := newTestService(t, nil)
	ctx := context.Background()

	id, err := svc.SaveUser(ctx, "s1", "a note about deploying the service", nil)
	if err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		a, _ := rows.LoadAnalysis(ctx, id)
		return a != nil
	})

	rc, err := svc.Recall(ctx, RecallParams{SessionID: "s1", Query: "deploying the service", RecentCount: intPtr(5), SemanticCount: intPtr(5)})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	found := false
	for _, e := range rc.Recent {
		if e.ID == id {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected saved entry in recall's recent bucket, got %+v", rc)
	}
}

func TestServiceDeleteRemovesEntry(t *testing.T) {
	svc, rows, _ := newTestService(t, nil)
	ctx := context.Background()

	id, err := svc.SaveUser(ctx, "s1", "a throwaway message to delete later", nil)
	if err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	if err := svc.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	entries, err := rows.LoadByIDs(ctx, []int64{id})
	if err != nil {
		t.Fatalf("LoadByIDs: %v", err)
	}
	if len(entries) != 0 {
		t.Fatal("expected entry to be gone after Delete")
	}
}
