package memory

import "context"

// OwnerKind names the kind of logical owner invalidate_owner operates on.
type OwnerKind string

const (
	OwnerFile    OwnerKind = "file"
	OwnerProject OwnerKind = "project"
)

// InvalidateEntries removes every vector-store point derived from the
// given message ids (across every head in each entry's EmbeddingReference),
// then deletes the analysis and row-store entry itself. Repeated
// invalidation of the same ids is idempotent: a message with no
// EmbeddingReference (or none left) is simply deleted at the row-store
// level with no vector-store calls.
func InvalidateEntries(ctx context.Context, rows RowStore, vectors VectorStore, ids []int64) error {
	var firstErr error
	for _, id := range ids {
		if err := invalidateOne(ctx, rows, vectors, id); err != nil {
			if kind, ok := KindOf(err); ok && kind != KindDegraded {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func invalidateOne(ctx context.Context, rows RowStore, vectors VectorStore, id int64) error {
	ref, err := rows.LoadEmbeddingReference(ctx, id)
	if err != nil {
		return err
	}
	if ref != nil {
		remaining := make([]Head, 0, len(ref.Heads))
		for _, h := range ref.Heads {
			if err := vectors.Delete(ctx, h, id); err != nil {
				// Partial per-head failure: keep the reference row pointing
				// at whichever heads are not yet confirmed deleted, so a
				// later retry of the same id only has to clean up the
				// heads that failed. I1/I2 stay satisfied since the
				// row-store entry (the authority) has not been removed yet.
				remaining = append(remaining, h)
				continue
			}
		}
		if len(remaining) > 0 {
			if err := rows.UpsertEmbeddingReference(ctx, EmbeddingReference{MessageID: id, Heads: remaining}); err != nil {
				return degraded("invalidateOne", err)
			}
			return degraded("invalidateOne", nil)
		}
	}
	if err := rows.Delete(ctx, id); err != nil {
		if kind, ok := KindOf(err); ok && kind == KindNotFound {
			return nil
		}
		return err
	}
	return nil
}

// InvalidateOwner resolves owner (a file path tag, or a project/session
// scope key) to its member entries and invalidates them.
func InvalidateOwner(ctx context.Context, rows RowStore, vectors VectorStore, kind OwnerKind, key string) error {
	var entries []MemoryEntry
	var err error
	switch kind {
	case OwnerFile:
		entries, err = rows.EntriesByTag(ctx, "file:"+key)
	case OwnerProject:
		entries, err = rows.EntriesBySubject(ctx, key)
	default:
		return invalidInput("InvalidateOwner", nil)
	}
	if err != nil {
		return err
	}
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return InvalidateEntries(ctx, rows, vectors, ids)
}
