package memory

import "context"

// VectorStore is a multi-head approximate-NN index: N independent
// collections, one per Head, all sharing the embedding dimension fixed at
// construction. A missing head is created on first upsert; a search on an
// empty head returns an empty slice, never an error; deleting an
// already-absent point is a no-op.
type VectorStore interface {
	Upsert(ctx context.Context, head Head, pointID int64, vector []float32, payload map[string]string) error
	Delete(ctx context.Context, head Head, pointID int64) error
	DeleteMany(ctx context.Context, head Head, pointIDs []int64) error
	Search(ctx context.Context, head Head, sessionID string, queryVector []float32, k int) ([]VectorResult, error)
	// SearchAll fans out Search across heads in parallel.
	SearchAll(ctx context.Context, heads []Head, sessionID string, queryVector []float32, kPerHead int) (map[Head][]VectorResult, error)
	Dimension() int
	Close() error
}
