package memory

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/errgroup"
)

// QdrantMultiHeadStore is the VectorStore backed by Qdrant's gRPC API
// (default port 6334). Unlike the single-collection teacher implementation
// this is generalized to one collection per Head, each named
// "mem_<head_lowercase>", created lazily on first upsert so new heads never
// require a schema migration.
type QdrantMultiHeadStore struct {
	client      *qdrant.Client
	dimension   int
	metric      string
	mu          sync.RWMutex
	collections map[Head]bool
}

// NewQdrantMultiHeadStore connects to dsn (host[:port][?api_key=...]) and
// prepares (without yet creating) collections for every known Head.
// Collections are created lazily in ensureCollection on first Upsert, per
// the "missing head is created on first upsert" contract.
func NewQdrantMultiHeadStore(dsn string, dimensions int, metric string) (*QdrantMultiHeadStore, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fatal("NewQdrantMultiHeadStore", fmt.Errorf("parse qdrant dsn: %w", err))
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fatal("NewQdrantMultiHeadStore", fmt.Errorf("invalid qdrant port: %w", err))
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fatal("NewQdrantMultiHeadStore", fmt.Errorf("create qdrant client: %w", err))
	}
	if dimensions <= 0 {
		return nil, invalidInput("NewQdrantMultiHeadStore", fmt.Errorf("dimensions must be > 0"))
	}
	return &QdrantMultiHeadStore{
		client:      client,
		dimension:   dimensions,
		metric:      metric,
		collections: make(map[Head]bool),
	}, nil
}

func (q *QdrantMultiHeadStore) Dimension() int { return q.dimension }

func (q *QdrantMultiHeadStore) Close() error { return q.client.Close() }

func (q *QdrantMultiHeadStore) headKnown(head Head) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.collections[head]
}

func (q *QdrantMultiHeadStore) markHeadKnown(head Head) {
	q.mu.Lock()
	q.collections[head] = true
	q.mu.Unlock()
}

func (q *QdrantMultiHeadStore) ensureCollection(ctx context.Context, head Head) error {
	if q.headKnown(head) {
		return nil
	}
	name := head.CollectionName()
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return transient("ensureCollection", err)
	}
	if exists {
		q.markHeadKnown(head)
		return nil
	}
	var distance qdrant.Distance
	switch q.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	case "manhattan":
		distance = qdrant.Distance_Manhattan
	default:
		distance = qdrant.Distance_Cosine
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: distance,
		}),
	})
	if err != nil {
		return transient("ensureCollection", fmt.Errorf("create collection %s: %w", name, err))
	}
	q.markHeadKnown(head)
	return nil
}

// point IDs are the row-store's integer message id directly: Qdrant allows
// unsigned integers as point IDs, so no UUID translation table is needed to
// satisfy I6 (point-ID stability).

func (q *QdrantMultiHeadStore) Upsert(ctx context.Context, head Head, pointID int64, vector []float32, payload map[string]string) error {
	if err := q.ensureCollection(ctx, head); err != nil {
		return err
	}
	payloadAny := make(map[string]any, len(payload))
	for k, v := range payload {
		payloadAny[k] = v
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	points := []*qdrant.PointStruct{{
		Id:      qdrant.NewIDNum(uint64(pointID)),
		Vectors: qdrant.NewVectorsDense(vec),
		Payload: qdrant.NewValueMap(payloadAny),
	}}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: head.CollectionName(),
		Points:         points,
	})
	if err != nil {
		return transient("Upsert", err)
	}
	return nil
}

func (q *QdrantMultiHeadStore) Delete(ctx context.Context, head Head, pointID int64) error {
	return q.DeleteMany(ctx, head, []int64{pointID})
}

func (q *QdrantMultiHeadStore) DeleteMany(ctx context.Context, head Head, pointIDs []int64) error {
	if len(pointIDs) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, len(pointIDs))
	for i, id := range pointIDs {
		ids[i] = qdrant.NewIDNum(uint64(id))
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: head.CollectionName(),
		Points:         qdrant.NewPointsSelector(ids...),
	})
	if err != nil {
		// Deleting a point in a collection that doesn't exist yet is
		// treated as a no-op, matching "deletion of a non-existent point
		// is a no-op" for heads that have never been upserted into.
		if !q.headKnown(head) {
			return nil
		}
		return transient("DeleteMany", err)
	}
	return nil
}

func (q *QdrantMultiHeadStore) Search(ctx context.Context, head Head, sessionID string, queryVector []float32, k int) ([]VectorResult, error) {
	if !q.headKnown(head) {
		// Search on an empty/never-created head returns [], not an error.
		exists, err := q.client.CollectionExists(ctx, head.CollectionName())
		if err != nil {
			return nil, transient("Search", err)
		}
		if !exists {
			return nil, nil
		}
		q.markHeadKnown(head)
	}
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(queryVector))
	copy(vec, queryVector)
	var filter *qdrant.Filter
	if sessionID != "" {
		filter = &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("session_id", sessionID)}}
	}
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: head.CollectionName(),
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, transient("Search", err)
	}
	out := make([]VectorResult, 0, len(hits))
	for _, hit := range hits {
		payload := make(map[string]string, len(hit.Payload))
		for k, v := range hit.Payload {
			payload[k] = v.GetStringValue()
		}
		out = append(out, VectorResult{
			PointID: int64(hit.Id.GetNum()),
			Score:   float64(hit.Score),
			Payload: payload,
		})
	}
	return out, nil
}

func (q *QdrantMultiHeadStore) SearchAll(ctx context.Context, heads []Head, sessionID string, queryVector []float32, kPerHead int) (map[Head][]VectorResult, error) {
	results := make(map[Head][]VectorResult, len(heads))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range heads {
		h := h
		g.Go(func() error {
			res, err := q.Search(gctx, h, sessionID, queryVector, kPerHead)
			if err != nil {
				return err
			}
			mu.Lock()
			results[h] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
