package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// fakeRowStore is an in-memory RowStore for tests, guarded by a single mutex
// since test scenarios never need real concurrency.
type fakeRowStore struct {
	mu sync.Mutex

	nextID    int64
	entries   map[int64]MemoryEntry
	analyses  map[int64]MessageAnalysis
	refs      map[int64]EmbeddingReference
	summaries []Summary
}

func newFakeRowStore() *fakeRowStore {
	return &fakeRowStore{
		entries:  make(map[int64]MemoryEntry),
		analyses: make(map[int64]MessageAnalysis),
		refs:     make(map[int64]EmbeddingReference),
	}
}

func (f *fakeRowStore) Init(ctx context.Context) error { return nil }

func (f *fakeRowStore) Insert(ctx context.Context, entry *MemoryEntry) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry.SessionID == "" {
		return 0, invalidInput("Insert", nil)
	}
	f.nextID++
	entry.ID = f.nextID
	if entry.MemoryType == "" {
		entry.MemoryType = MemoryTypeOther
	}
	f.entries[entry.ID] = *entry
	return entry.ID, nil
}

func (f *fakeRowStore) LoadByIDs(ctx context.Context, ids []int64) ([]MemoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]MemoryEntry, 0, len(ids))
	for _, id := range ids {
		if e, ok := f.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRowStore) LoadRecent(ctx context.Context, sessionID string, n int) ([]MemoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []MemoryEntry
	for _, e := range f.entries {
		if e.SessionID == sessionID {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })
	if len(matched) > n {
		matched = matched[:n]
	}
	return matched, nil
}

func (f *fakeRowStore) UpdateMetadata(ctx context.Context, id int64, fields EntryMetadataPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return notFound("UpdateMetadata", nil)
	}
	if fields.Pinned != nil {
		e.Pinned = *fields.Pinned
	}
	if fields.LastAccessed != nil {
		e.LastAccessed = fields.LastAccessed
	}
	if fields.SubjectTag != nil {
		e.SubjectTag = *fields.SubjectTag
	}
	if fields.Tags != nil {
		e.Tags = *fields.Tags
	}
	f.entries[id] = e
	return nil
}

func (f *fakeRowStore) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[id]; !ok {
		return notFound("Delete", nil)
	}
	delete(f.entries, id)
	delete(f.analyses, id)
	delete(f.refs, id)
	return nil
}

func (f *fakeRowStore) UpdateAnalysis(ctx context.Context, analysis *MessageAnalysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyses[analysis.MessageID] = *analysis
	return nil
}

func (f *fakeRowStore) LoadAnalysis(ctx context.Context, messageID int64) (*MessageAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.analyses[messageID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (f *fakeRowStore) Unanalyzed(ctx context.Context, limit int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for id := range f.entries {
		if _, ok := f.analyses[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRowStore) BumpRecallStats(ctx context.Context, messageIDs []int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range messageIDs {
		a, ok := f.analyses[id]
		if !ok {
			continue
		}
		a.LastRecalled = &at
		a.RecallCount++
		f.analyses[id] = a

		e, ok := f.entries[id]
		if ok {
			e.LastAccessed = &at
			f.entries[id] = e
		}
	}
	return nil
}

func (f *fakeRowStore) UpdateSalience(ctx context.Context, id int64, salience float64, refreshAccess bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.analyses[id]
	if !ok {
		return notFound("UpdateSalience", nil)
	}
	a.Salience = salience
	f.analyses[id] = a
	if refreshAccess {
		e, ok := f.entries[id]
		if ok {
			now := time.Now().UTC()
			e.LastAccessed = &now
			f.entries[id] = e
		}
	}
	return nil
}

func (f *fakeRowStore) DecayBatch(ctx context.Context, limit int) ([]DecayCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []DecayCandidate
	for id, e := range f.entries {
		if e.Pinned {
			continue
		}
		a, ok := f.analyses[id]
		if !ok {
			continue
		}
		out = append(out, DecayCandidate{
			MessageID:        id,
			Salience:         a.Salience,
			OriginalSalience: a.OriginalSalience,
			LastAccessed:     e.LastAccessed,
			Timestamp:        e.Timestamp,
			Pinned:           e.Pinned,
			MemoryType:       e.MemoryType,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRowStore) UpsertEmbeddingReference(ctx context.Context, ref EmbeddingReference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs[ref.MessageID] = ref
	return nil
}

func (f *fakeRowStore) LoadEmbeddingReference(ctx context.Context, messageID int64) (*EmbeddingReference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.refs[messageID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (f *fakeRowStore) InsertSummary(ctx context.Context, s *Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	f.summaries = append(f.summaries, *s)
	return nil
}

func (f *fakeRowStore) LatestSummary(ctx context.Context, scopeKey string, level SummaryLevel) (*Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *Summary
	for i := range f.summaries {
		s := f.summaries[i]
		if s.ScopeKey != scopeKey || s.Level != level {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			cp := s
			latest = &cp
		}
	}
	return latest, nil
}

func (f *fakeRowStore) CountEntriesSince(ctx context.Context, sessionID string, sinceSummaryLevel SummaryLevel) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cutoff time.Time
	for _, s := range f.summaries {
		if s.ScopeKey == sessionID && s.Level == sinceSummaryLevel && s.CreatedAt.After(cutoff) {
			cutoff = s.CreatedAt
		}
	}
	count := 0
	for _, e := range f.entries {
		if e.SessionID == sessionID && e.Timestamp.After(cutoff) {
			count++
		}
	}
	return count, nil
}

func (f *fakeRowStore) UnconsumedSummaries(ctx context.Context, scopeKey string, level SummaryLevel) ([]Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Summary
	for _, s := range f.summaries {
		if s.ScopeKey == scopeKey && s.Level == level {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeRowStore) DeleteSummaries(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	toDelete := make(map[string]bool, len(ids))
	for _, id := range ids {
		toDelete[id] = true
	}
	kept := f.summaries[:0]
	for _, s := range f.summaries {
		if !toDelete[s.ID] {
			kept = append(kept, s)
		}
	}
	f.summaries = kept
	return nil
}

func (f *fakeRowStore) EntriesByTag(ctx context.Context, tag string) ([]MemoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []MemoryEntry
	for _, e := range f.entries {
		if hasTag(e.Tags, tag) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRowStore) EntriesBySubject(ctx context.Context, scopeKey string) ([]MemoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []MemoryEntry
	for _, e := range f.entries {
		if e.SubjectTag == scopeKey {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRowStore) Stats(ctx context.Context, sessionID string) (MemoryServiceStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stats MemoryServiceStats
	for id, e := range f.entries {
		if e.SessionID != sessionID {
			continue
		}
		stats.Total++
		stats.Recent++
		if ref, ok := f.refs[id]; ok && len(ref.Heads) > 0 {
			stats.SemanticEntries++
			for _, h := range ref.Heads {
				if h == HeadCode {
					stats.CodeEntries++
				}
			}
		}
	}
	for _, s := range f.summaries {
		if s.ScopeKey == sessionID {
			stats.SummaryEntries++
		}
	}
	return stats, nil
}

// fakeVectorStore is an in-memory VectorStore for tests.
type fakeVectorStore struct {
	mu        sync.Mutex
	dimension int
	points    map[Head]map[int64]fakePoint
}

type fakePoint struct {
	vector  []float32
	payload map[string]string
}

func newFakeVectorStore(dimension int) *fakeVectorStore {
	return &fakeVectorStore{dimension: dimension, points: make(map[Head]map[int64]fakePoint)}
}

func (v *fakeVectorStore) Dimension() int { return v.dimension }
func (v *fakeVectorStore) Close() error   { return nil }

func (v *fakeVectorStore) Upsert(ctx context.Context, head Head, pointID int64, vector []float32, payload map[string]string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.points[head] == nil {
		v.points[head] = make(map[int64]fakePoint)
	}
	v.points[head][pointID] = fakePoint{vector: vector, payload: payload}
	return nil
}

func (v *fakeVectorStore) Delete(ctx context.Context, head Head, pointID int64) error {
	return v.DeleteMany(ctx, head, []int64{pointID})
}

func (v *fakeVectorStore) DeleteMany(ctx context.Context, head Head, pointIDs []int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	m := v.points[head]
	for _, id := range pointIDs {
		delete(m, id)
	}
	return nil
}

func (v *fakeVectorStore) Search(ctx context.Context, head Head, sessionID string, queryVector []float32, k int) ([]VectorResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, ok := v.points[head]
	if !ok {
		return nil, nil
	}
	var out []VectorResult
	for id, p := range m {
		if sessionID != "" && p.payload["session_id"] != sessionID {
			continue
		}
		out = append(out, VectorResult{PointID: id, Score: cosineSim(queryVector, p.vector), Payload: p.payload})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (v *fakeVectorStore) SearchAll(ctx context.Context, heads []Head, sessionID string, queryVector []float32, kPerHead int) (map[Head][]VectorResult, error) {
	out := make(map[Head][]VectorResult, len(heads))
	for _, h := range heads {
		res, err := v.Search(ctx, h, sessionID, queryVector, kPerHead)
		if err != nil {
			return nil, err
		}
		out[h] = res
	}
	return out, nil
}

func cosineSim(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (sqrt(na) * sqrt(nb))
}

func sqrt(x float64) float64 {
	if x == 0 {
		return 0
	}
	z := x
	for i := 0; i < 30; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

// fakeEmbeddingProvider returns a deterministic pseudo-embedding derived
// from the text's byte content, so semantically identical fixture strings
// produce identical vectors without a real model.
type fakeEmbeddingProvider struct {
	dimension int
}

func newFakeEmbeddingProvider(dimension int) *fakeEmbeddingProvider {
	return &fakeEmbeddingProvider{dimension: dimension}
}

func (p *fakeEmbeddingProvider) Dimension() int { return p.dimension }

func (p *fakeEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *fakeEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, p.dimension)
		for j := 0; j < p.dimension && j < len(t); j++ {
			vec[j] = float32(t[j]) / 255.0
		}
		out[i] = vec
	}
	return out, nil
}

// fakeLlmClient returns a fixed response, or an error if configured to fail.
type fakeLlmClient struct {
	response string
	err      error
}

func (f *fakeLlmClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func intPtr(n int) *int { return &n }
