package memory

import (
	"context"
	"testing"
)

func TestInvalidateEntriesDeletesPointsAcrossHeads(t *testing.T) {
	ctx := context.Background()
	rows := newFakeRowStore()
	vectors := newFakeVectorStore(4)

	entry := MemoryEntry{SessionID: "s1", Role: RoleUser, Content: "tracked message"}
	id, err := rows.Insert(ctx, &entry)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	vec := []float32{1, 0, 0, 0}
	if err := vectors.Upsert(ctx, HeadConversation, id, vec, nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := vectors.Upsert(ctx, HeadCode, id, vec, nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := rows.UpsertEmbeddingReference(ctx, EmbeddingReference{MessageID: id, Heads: []Head{HeadConversation, HeadCode}}); err != nil {
		t.Fatalf("upsert ref: %v", err)
	}

	if err := InvalidateEntries(ctx, rows, vectors, []int64{id}); err != nil {
		t.Fatalf("InvalidateEntries: %v", err)
	}

	if _, ok := vectors.points[HeadConversation][id]; ok {
		t.Fatal("expected conversation-head point to be deleted")
	}
	if _, ok := vectors.points[HeadCode][id]; ok {
		t.Fatal("expected code-head point to be deleted")
	}
	if _, err := rows.LoadByIDs(ctx, []int64{id}); err != nil {
		t.Fatalf("LoadByIDs: %v", err)
	}
	entries, _ := rows.LoadByIDs(ctx, []int64{id})
	if len(entries) != 0 {
		t.Fatal("expected the row-store entry to be deleted")
	}
}

func TestInvalidateEntriesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	rows := newFakeRowStore()
	vectors := newFakeVectorStore(4)

	entry := MemoryEntry{SessionID: "s1", Role: RoleUser, Content: "no embedding ever produced"}
	id, err := rows.Insert(ctx, &entry)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := InvalidateEntries(ctx, rows, vectors, []int64{id}); err != nil {
		t.Fatalf("first invalidate: %v", err)
	}
	if err := InvalidateEntries(ctx, rows, vectors, []int64{id}); err != nil {
		t.Fatalf("repeated invalidate should be a no-op, got: %v", err)
	}
}

func TestInvalidateOwnerByFileTag(t *testing.T) {
	ctx := context.Background()
	rows := newFakeRowStore()
	vectors := newFakeVectorStore(4)

	entry := MemoryEntry{SessionID: "s1", Role: RoleDocument, Content: "file contents", Tags: []string{"file:src/app.go"}}
	id, err := rows.Insert(ctx, &entry)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := InvalidateOwner(ctx, rows, vectors, OwnerFile, "src/app.go"); err != nil {
		t.Fatalf("InvalidateOwner: %v", err)
	}
	entries, _ := rows.LoadByIDs(ctx, []int64{id})
	if len(entries) != 0 {
		t.Fatal("expected the file-tagged entry to be invalidated")
	}
}
