package memory

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"manifold/internal/observability"
)

// analysisTask is one unit of work on the bounded analysis queue.
type analysisTask struct {
	entry MemoryEntry
}

// embeddingTask is one unit of work on the bounded embedding queue,
// produced once an entry's routing decision says it should be embedded.
type embeddingTask struct {
	entry    MemoryEntry
	analysis MessageAnalysis
	heads    []Head
}

// Service is the Memory Service Facade: the single public entry point that
// coordinates the write path (insert -> analyze -> route -> embed -> index),
// the read path (recall), and the background triggers (summarizer, decay,
// invalidation).
type Service struct {
	rows     RowStore
	vectors  VectorStore
	embedder EmbeddingProvider
	analyzer *Analyzer
	summary  *Summarizer
	decay    *DecayScheduler
	cfg      *Config
	metrics  Metrics

	analysisQueue  chan analysisTask
	embeddingQueue chan embeddingTask

	sessionMu   sync.Mutex
	sessionLock map[string]*sync.Mutex

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewService wires the Memory Service Facade. cfg may be nil to use
// DefaultConfig. llm may be nil (the Analyzer and Summarizer then run
// heuristic-only / are disabled, respectively).
func NewService(rows RowStore, vectors VectorStore, embedder EmbeddingProvider, llm LlmClient, cfg *Config, metrics Metrics) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Service{
		rows:           rows,
		vectors:        vectors,
		embedder:       embedder,
		analyzer:       NewAnalyzer(llm),
		summary:        NewSummarizer(rows, llm, cfg.Summary),
		decay:          NewDecayScheduler(rows, cfg.Decay),
		cfg:            cfg,
		metrics:        metrics,
		analysisQueue:  make(chan analysisTask, cfg.AnalysisQueueSize),
		embeddingQueue: make(chan embeddingTask, cfg.EmbeddingQueueSize),
		sessionLock:    make(map[string]*sync.Mutex),
		stopCh:         make(chan struct{}),
	}
	return s
}

// Start launches the analyzer worker pool (NumAnalyzerWorkers), the
// embedding batcher (NumEmbedderWorkers), and the decay scheduler. It
// returns immediately; call Stop for graceful shutdown.
func (s *Service) Start(ctx context.Context) {
	for i := 0; i < s.cfg.NumAnalyzerWorkers; i++ {
		s.wg.Add(1)
		go s.analyzerWorker(ctx)
	}
	for i := 0; i < s.cfg.NumEmbedderWorkers; i++ {
		s.wg.Add(1)
		go s.embeddingBatcher(ctx)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.decay.Run(ctx)
	}()
}

// Stop signals every background goroutine to exit and waits up to a 5s
// grace period for in-flight embedding batches to flush before returning.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.decay.Stop()
	})
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		observability.LoggerWithTrace(context.Background()).Warn().Msg("memory service stop: grace period exceeded, some embedding batches may be incomplete")
	}
}

func (s *Service) lockFor(sessionID string) *sync.Mutex {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	m, ok := s.sessionLock[sessionID]
	if !ok {
		m = &sync.Mutex{}
		s.sessionLock[sessionID] = m
	}
	return m
}

// SaveUser persists a user-authored entry.
func (s *Service) SaveUser(ctx context.Context, sessionID, content string, tags []string) (int64, error) {
	return s.save(ctx, MemoryEntry{SessionID: sessionID, Role: RoleUser, Content: content, Tags: tags})
}

// SaveAssistant persists an assistant-authored entry.
func (s *Service) SaveAssistant(ctx context.Context, sessionID, content string, tags []string) (int64, error) {
	return s.save(ctx, MemoryEntry{SessionID: sessionID, Role: RoleAssistant, Content: content, Tags: tags})
}

// SaveDocument persists a document entry (e.g. an ingested file), typically
// tagged with a "file:<path>" tag so Router and Invalidation can find it.
func (s *Service) SaveDocument(ctx context.Context, sessionID, content string, tags []string) (int64, error) {
	return s.save(ctx, MemoryEntry{SessionID: sessionID, Role: RoleDocument, Content: content, Tags: tags})
}

// save is the write path's entry point: Row Store INSERT, then enqueue the
// analysis task. The per-session mutex is held across the INSERT and the
// analyzer handoff, so a single session's calls get monotone ids and reach
// the analyzer in submission order; entries across sessions are fully
// concurrent.
func (s *Service) save(ctx context.Context, entry MemoryEntry) (int64, error) {
	lock := s.lockFor(entry.SessionID)
	lock.Lock()
	defer lock.Unlock()

	entry.Timestamp = time.Now().UTC()
	id, err := s.rows.Insert(ctx, &entry)
	if err != nil {
		return 0, err
	}
	entry.ID = id

	s.enqueueAnalysis(entry)

	if err := s.summary.MaybeSummarize(ctx, entry.SessionID, entry.Timestamp); err != nil {
		s.logDegraded("MaybeSummarize", err)
	}
	return id, nil
}

// enqueueAnalysis pushes onto the bounded analysis queue, applying
// back-pressure by dropping the oldest queued (not-yet-analyzed) task when
// full, per the documented overflow policy.
func (s *Service) enqueueAnalysis(entry MemoryEntry) {
	task := analysisTask{entry: entry}
	select {
	case s.analysisQueue <- task:
		return
	default:
	}
	select {
	case dropped := <-s.analysisQueue:
		observability.LoggerWithTrace(context.Background()).Warn().
			Int64("dropped_message_id", dropped.entry.ID).
			Msg("memory analysis queue full, dropping oldest unanalyzed entry")
	default:
	}
	select {
	case s.analysisQueue <- task:
	default:
	}
}

func (s *Service) analyzerWorker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case task := <-s.analysisQueue:
			analysis := s.analyzer.Analyze(ctx, task.entry)
			if err := s.rows.UpdateAnalysis(ctx, &analysis); err != nil {
				s.logDegraded("UpdateAnalysis", err)
				continue
			}
			decision := Route(task.entry, analysis, s.cfg.Router)
			if !decision.ShouldEmbed {
				continue
			}
			s.enqueueEmbedding(embeddingTask{entry: task.entry, analysis: analysis, heads: decision.HeadSet()})
		}
	}
}

func (s *Service) enqueueEmbedding(task embeddingTask) {
	select {
	case s.embeddingQueue <- task:
	default:
		observability.LoggerWithTrace(context.Background()).Warn().
			Int64("dropped_message_id", task.entry.ID).
			Msg("memory embedding queue full, dropping entry from this batch window")
	}
}

// embeddingBatcher aggregates up to MaxBatchSize tasks within a
// BatchWindowMs window, then issues one EmbedBatch call and fans the
// resulting vectors out to the Vector Store per head.
func (s *Service) embeddingBatcher(ctx context.Context) {
	defer s.wg.Done()
	window := time.Duration(s.cfg.Embedding.BatchWindowMs) * time.Millisecond
	if window <= 0 {
		window = 250 * time.Millisecond
	}
	maxBatch := s.cfg.Embedding.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = 100
	}

	for {
		batch := make([]embeddingTask, 0, maxBatch)
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			s.flushRemaining(ctx)
			return
		case t := <-s.embeddingQueue:
			batch = append(batch, t)
		}

		timer := time.NewTimer(window)
	collect:
		for len(batch) < maxBatch {
			select {
			case t := <-s.embeddingQueue:
				batch = append(batch, t)
			case <-timer.C:
				break collect
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
		timer.Stop()

		s.processEmbeddingBatch(ctx, batch)
	}
}

func (s *Service) flushRemaining(ctx context.Context) {
	for {
		select {
		case t := <-s.embeddingQueue:
			s.processEmbeddingBatch(ctx, []embeddingTask{t})
		default:
			return
		}
	}
}

func (s *Service) processEmbeddingBatch(ctx context.Context, batch []embeddingTask) {
	if len(batch) == 0 {
		return
	}
	texts := make([]string, len(batch))
	for i, t := range batch {
		texts[i] = t.entry.Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		s.logDegraded("EmbedBatch", err)
		return
	}
	for i, t := range batch {
		payload := map[string]string{
			"session_id": t.entry.SessionID,
			"role":       string(t.entry.Role),
			"timestamp":  strconv.FormatInt(t.entry.Timestamp.UnixMilli(), 10),
			"salience":   strconv.FormatFloat(t.analysis.Salience, 'f', -1, 32),
		}
		if len(t.analysis.Topics) > 0 {
			payload["topics"] = strings.Join(t.analysis.Topics, ",")
		}
		for _, head := range t.heads {
			if err := s.vectors.Upsert(ctx, head, t.entry.ID, vectors[i], payload); err != nil {
				s.logDegraded("Upsert", err)
				continue
			}
		}
		ref := EmbeddingReference{MessageID: t.entry.ID, Heads: t.heads}
		if err := s.rows.UpsertEmbeddingReference(ctx, ref); err != nil {
			s.logDegraded("UpsertEmbeddingReference", err)
		}
	}
}

// Recall runs the read path: embed(query) + parallel fan-out + score +
// split + attach summaries, honoring the configured soft deadline by
// degrading to recent-only (SemanticUnavailable=true) if the deadline is
// exceeded before the semantic branch completes.
func (s *Service) Recall(ctx context.Context, params RecallParams) (*RecallContext, error) {
	deadline := time.Duration(s.cfg.Recall.SoftDeadlineMs) * time.Millisecond
	if deadline <= 0 {
		deadline = 2 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	rc, err := BuildRecallContext(cctx, s.rows, s.vectors, s.embedder, params, s.cfg.Recall, s.cfg.Scoring, time.Now().UTC())
	if err != nil {
		if kind, ok := KindOf(err); ok && kind == KindDegraded {
			s.logDegraded("BuildRecallContext", err)
			return rc, nil
		}
		if cctx.Err() != nil {
			recent, recentErr := RecentSearch(ctx, s.rows, params.SessionID, s.recallRecentCount(params), s.cfg.Scoring, time.Now().UTC())
			if recentErr != nil {
				return nil, recentErr
			}
			entries := make([]MemoryEntry, len(recent))
			for i, se := range recent {
				entries[i] = se.Entry
			}
			return &RecallContext{Recent: entries, SemanticUnavailable: true}, nil
		}
		return nil, err
	}
	return rc, nil
}

func (s *Service) recallRecentCount(params RecallParams) int {
	if params.RecentCount != nil {
		return *params.RecentCount
	}
	return s.cfg.Recall.RecentCount
}

// Delete removes an entry and all of its points across every head (I6).
func (s *Service) Delete(ctx context.Context, id int64) error {
	return InvalidateEntries(ctx, s.rows, s.vectors, []int64{id})
}

// Reinforce applies the reinforcement formula to a surfaced entry.
func (s *Service) Reinforce(ctx context.Context, messageID int64, bonus float64) error {
	return Reinforce(ctx, s.rows, messageID, bonus, time.Now().UTC())
}

// Stats reports aggregate counts for a session.
func (s *Service) Stats(ctx context.Context, sessionID string) (MemoryServiceStats, error) {
	return s.rows.Stats(ctx, sessionID)
}

// InvalidateOwner removes every point derived from the entries owned by
// (kind, key) -- e.g. a re-indexed file or a deleted project.
func (s *Service) InvalidateOwner(ctx context.Context, kind OwnerKind, key string) error {
	return InvalidateOwner(ctx, s.rows, s.vectors, kind, key)
}

func (s *Service) logDegraded(op string, err error) {
	if s.metrics != nil {
		s.metrics.IncCounter("memory_degraded_total", map[string]string{"op": op})
	}
	observability.LoggerWithTrace(context.Background()).Warn().Err(err).Str("op", op).Msg("memory: non-essential step failed, primary write preserved")
}
