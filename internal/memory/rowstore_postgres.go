package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"manifold/internal/observability"
)

// PostgresRowStore is the pgx/v5-backed RowStore. Migrations are
// forward-only and idempotent, following the teacher's
// chat_store_postgres.go convention of CREATE TABLE IF NOT EXISTS plus
// ALTER TABLE ... ADD COLUMN IF NOT EXISTS for schema evolution.
type PostgresRowStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRowStore wraps an already-configured pool.
func NewPostgresRowStore(pool *pgxpool.Pool) *PostgresRowStore {
	return &PostgresRowStore{pool: pool}
}

func (s *PostgresRowStore) Init(ctx context.Context) error {
	if s.pool == nil {
		return fatal("Init", errors.New("postgres row store requires a pool"))
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS memory_entries (
    id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    session_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    pinned BOOLEAN NOT NULL DEFAULT FALSE,
    last_accessed TIMESTAMPTZ,
    subject_tag TEXT NOT NULL DEFAULT '',
    tags TEXT[] NOT NULL DEFAULT '{}',
    memory_type TEXT NOT NULL DEFAULT 'other'
);
CREATE INDEX IF NOT EXISTS memory_entries_session_idx ON memory_entries(session_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS message_analysis (
    message_id BIGINT PRIMARY KEY REFERENCES memory_entries(id) ON DELETE CASCADE,
    salience DOUBLE PRECISION NOT NULL DEFAULT 0,
    original_salience DOUBLE PRECISION NOT NULL DEFAULT 0,
    intent TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    relationship_impact TEXT NOT NULL DEFAULT '',
    mood TEXT NOT NULL DEFAULT '',
    intensity DOUBLE PRECISION NOT NULL DEFAULT 0,
    topics TEXT[] NOT NULL DEFAULT '{}',
    contains_code BOOLEAN NOT NULL DEFAULT FALSE,
    programming_lang TEXT NOT NULL DEFAULT '',
    routed_to_heads TEXT[] NOT NULL DEFAULT '{}',
    analyzed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    analysis_version INTEGER NOT NULL DEFAULT 1,
    last_recalled TIMESTAMPTZ,
    recall_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS message_analysis_salience_idx ON message_analysis(salience);

CREATE TABLE IF NOT EXISTS summaries (
    id UUID PRIMARY KEY,
    scope_key TEXT NOT NULL,
    level INTEGER NOT NULL,
    summary_text TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    source_ids BIGINT[] NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS summaries_scope_idx ON summaries(scope_key, level, created_at DESC);

CREATE TABLE IF NOT EXISTS embedding_references (
    message_id BIGINT PRIMARY KEY REFERENCES memory_entries(id) ON DELETE CASCADE,
    heads TEXT[] NOT NULL DEFAULT '{}'
);
`)
	return err
}

func scanEntry(row pgx.Row) (MemoryEntry, error) {
	var e MemoryEntry
	var lastAccessed *time.Time
	var role, memType string
	if err := row.Scan(&e.ID, &e.SessionID, &role, &e.Content, &e.Timestamp, &e.Pinned, &lastAccessed, &e.SubjectTag, &e.Tags, &memType); err != nil {
		return MemoryEntry{}, err
	}
	e.Role = Role(role)
	e.MemoryType = MemoryType(memType)
	e.LastAccessed = lastAccessed
	return e, nil
}

const entryColumns = "id, session_id, role, content, timestamp, pinned, last_accessed, subject_tag, tags, memory_type"

func (s *PostgresRowStore) Insert(ctx context.Context, entry *MemoryEntry) (int64, error) {
	if strings.TrimSpace(entry.SessionID) == "" {
		return 0, invalidInput("Insert", errors.New("session_id required"))
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.MemoryType == "" {
		entry.MemoryType = MemoryTypeOther
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO memory_entries (session_id, role, content, timestamp, pinned, last_accessed, subject_tag, tags, memory_type)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING id`,
		entry.SessionID, string(entry.Role), entry.Content, entry.Timestamp, entry.Pinned,
		entry.LastAccessed, entry.SubjectTag, entry.Tags, string(entry.MemoryType))
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, wrapPgErr("Insert", err)
	}
	entry.ID = id
	return id, nil
}

func (s *PostgresRowStore) LoadByIDs(ctx context.Context, ids []int64) ([]MemoryEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+entryColumns+` FROM memory_entries WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, wrapPgErr("LoadByIDs", err)
	}
	defer rows.Close()
	var out []MemoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, wrapPgErr("LoadByIDs", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresRowStore) LoadRecent(ctx context.Context, sessionID string, n int) ([]MemoryEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT `+entryColumns+`
FROM memory_entries
WHERE session_id = $1
ORDER BY timestamp DESC
LIMIT $2`, sessionID, n)
	if err != nil {
		return nil, wrapPgErr("LoadRecent", err)
	}
	defer rows.Close()
	var out []MemoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, wrapPgErr("LoadRecent", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresRowStore) UpdateMetadata(ctx context.Context, id int64, fields EntryMetadataPatch) error {
	sets := []string{}
	args := []any{id}
	add := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if fields.Pinned != nil {
		add("pinned", *fields.Pinned)
	}
	if fields.LastAccessed != nil {
		add("last_accessed", *fields.LastAccessed)
	}
	if fields.SubjectTag != nil {
		add("subject_tag", *fields.SubjectTag)
	}
	if fields.Tags != nil {
		add("tags", *fields.Tags)
	}
	if len(sets) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE memory_entries SET %s WHERE id = $1`, strings.Join(sets, ", "))
	cmd, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return wrapPgErr("UpdateMetadata", err)
	}
	if cmd.RowsAffected() == 0 {
		return notFound("UpdateMetadata", fmt.Errorf("entry %d not found", id))
	}
	return nil
}

func (s *PostgresRowStore) Delete(ctx context.Context, id int64) error {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM memory_entries WHERE id = $1`, id)
	if err != nil {
		return wrapPgErr("Delete", err)
	}
	if cmd.RowsAffected() == 0 {
		return notFound("Delete", fmt.Errorf("entry %d not found", id))
	}
	return nil
}

func (s *PostgresRowStore) UpdateAnalysis(ctx context.Context, a *MessageAnalysis) error {
	if a.AnalyzedAt.IsZero() {
		a.AnalyzedAt = time.Now().UTC()
	}
	heads := make([]string, len(a.RoutedToHeads))
	for i, h := range a.RoutedToHeads {
		heads[i] = string(h)
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO message_analysis (message_id, salience, original_salience, intent, summary, relationship_impact, mood, intensity, topics, contains_code, programming_lang, routed_to_heads, analyzed_at, analysis_version)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (message_id) DO UPDATE SET
    salience = EXCLUDED.salience,
    original_salience = EXCLUDED.original_salience,
    intent = EXCLUDED.intent,
    summary = EXCLUDED.summary,
    relationship_impact = EXCLUDED.relationship_impact,
    mood = EXCLUDED.mood,
    intensity = EXCLUDED.intensity,
    topics = EXCLUDED.topics,
    contains_code = EXCLUDED.contains_code,
    programming_lang = EXCLUDED.programming_lang,
    routed_to_heads = EXCLUDED.routed_to_heads,
    analyzed_at = EXCLUDED.analyzed_at,
    analysis_version = EXCLUDED.analysis_version`,
		a.MessageID, a.Salience, a.OriginalSalience, a.Intent, a.Summary, a.RelationshipImpact,
		a.Mood, a.Intensity, a.Topics, a.ContainsCode, a.ProgrammingLang, heads, a.AnalyzedAt, a.AnalysisVersion)
	if err != nil {
		return wrapPgErr("UpdateAnalysis", err)
	}
	return nil
}

func scanAnalysis(row pgx.Row) (*MessageAnalysis, error) {
	var a MessageAnalysis
	var heads []string
	var lastRecalled *time.Time
	if err := row.Scan(&a.MessageID, &a.Salience, &a.OriginalSalience, &a.Intent, &a.Summary, &a.RelationshipImpact,
		&a.Mood, &a.Intensity, &a.Topics, &a.ContainsCode, &a.ProgrammingLang, &heads, &a.AnalyzedAt, &a.AnalysisVersion,
		&lastRecalled, &a.RecallCount); err != nil {
		return nil, err
	}
	a.LastRecalled = lastRecalled
	a.RoutedToHeads = make([]Head, len(heads))
	for i, h := range heads {
		a.RoutedToHeads[i] = Head(h)
	}
	return &a, nil
}

const analysisColumns = "message_id, salience, original_salience, intent, summary, relationship_impact, mood, intensity, topics, contains_code, programming_lang, routed_to_heads, analyzed_at, analysis_version, last_recalled, recall_count"

func (s *PostgresRowStore) LoadAnalysis(ctx context.Context, messageID int64) (*MessageAnalysis, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+analysisColumns+` FROM message_analysis WHERE message_id = $1`, messageID)
	a, err := scanAnalysis(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapPgErr("LoadAnalysis", err)
	}
	return a, nil
}

func (s *PostgresRowStore) Unanalyzed(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
SELECT e.id FROM memory_entries e
LEFT JOIN message_analysis a ON a.message_id = e.id
WHERE a.message_id IS NULL
ORDER BY e.timestamp ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, wrapPgErr("Unanalyzed", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapPgErr("Unanalyzed", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PostgresRowStore) BumpRecallStats(ctx context.Context, messageIDs []int64, at time.Time) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
UPDATE message_analysis
SET last_recalled = $2, recall_count = recall_count + 1
WHERE message_id = ANY($1)`, messageIDs, at)
	if err != nil {
		return wrapPgErr("BumpRecallStats", err)
	}
	return nil
}

func (s *PostgresRowStore) UpdateSalience(ctx context.Context, id int64, salience float64, refreshAccess bool) error {
	if refreshAccess {
		_, err := s.pool.Exec(ctx, `UPDATE message_analysis SET salience = $2 WHERE message_id = $1`, id, salience)
		if err != nil {
			return wrapPgErr("UpdateSalience", err)
		}
		_, err = s.pool.Exec(ctx, `UPDATE memory_entries SET last_accessed = NOW() WHERE id = $1`, id)
		return wrapPgErr("UpdateSalience", err)
	}
	_, err := s.pool.Exec(ctx, `UPDATE message_analysis SET salience = $2 WHERE message_id = $1`, id, salience)
	return wrapPgErr("UpdateSalience", err)
}

func (s *PostgresRowStore) DecayBatch(ctx context.Context, limit int) ([]DecayCandidate, error) {
	rows, err := s.pool.Query(ctx, `
SELECT e.id, a.salience, a.original_salience, e.last_accessed, e.timestamp, e.pinned, e.memory_type
FROM memory_entries e
JOIN message_analysis a ON a.message_id = e.id
WHERE e.pinned = FALSE
ORDER BY COALESCE(e.last_accessed, e.timestamp) ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, wrapPgErr("DecayBatch", err)
	}
	defer rows.Close()
	var out []DecayCandidate
	for rows.Next() {
		var c DecayCandidate
		var memType string
		if err := rows.Scan(&c.MessageID, &c.Salience, &c.OriginalSalience, &c.LastAccessed, &c.Timestamp, &c.Pinned, &memType); err != nil {
			return nil, wrapPgErr("DecayBatch", err)
		}
		c.MemoryType = MemoryType(memType)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresRowStore) UpsertEmbeddingReference(ctx context.Context, ref EmbeddingReference) error {
	heads := make([]string, len(ref.Heads))
	for i, h := range ref.Heads {
		heads[i] = string(h)
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO embedding_references (message_id, heads)
VALUES ($1, $2)
ON CONFLICT (message_id) DO UPDATE SET heads = EXCLUDED.heads`, ref.MessageID, heads)
	return wrapPgErr("UpsertEmbeddingReference", err)
}

func (s *PostgresRowStore) LoadEmbeddingReference(ctx context.Context, messageID int64) (*EmbeddingReference, error) {
	row := s.pool.QueryRow(ctx, `SELECT message_id, heads FROM embedding_references WHERE message_id = $1`, messageID)
	var ref EmbeddingReference
	var heads []string
	if err := row.Scan(&ref.MessageID, &heads); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapPgErr("LoadEmbeddingReference", err)
	}
	ref.Heads = make([]Head, len(heads))
	for i, h := range heads {
		ref.Heads[i] = Head(h)
	}
	return &ref, nil
}

func (s *PostgresRowStore) InsertSummary(ctx context.Context, sm *Summary) error {
	if sm.CreatedAt.IsZero() {
		sm.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO summaries (id, scope_key, level, summary_text, created_at, source_ids)
VALUES ($1,$2,$3,$4,$5,$6)`, sm.ID, sm.ScopeKey, int(sm.Level), sm.SummaryText, sm.CreatedAt, sm.SourceMessageIDs)
	return wrapPgErr("InsertSummary", err)
}

func (s *PostgresRowStore) LatestSummary(ctx context.Context, scopeKey string, level SummaryLevel) (*Summary, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, scope_key, level, summary_text, created_at, source_ids
FROM summaries
WHERE scope_key = $1 AND level = $2
ORDER BY created_at DESC
LIMIT 1`, scopeKey, int(level))
	var sm Summary
	var lvl int
	if err := row.Scan(&sm.ID, &sm.ScopeKey, &lvl, &sm.SummaryText, &sm.CreatedAt, &sm.SourceMessageIDs); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapPgErr("LatestSummary", err)
	}
	sm.Level = SummaryLevel(lvl)
	return &sm, nil
}

func (s *PostgresRowStore) CountEntriesSince(ctx context.Context, sessionID string, level SummaryLevel) (int, error) {
	var since time.Time
	row := s.pool.QueryRow(ctx, `
SELECT COALESCE(MAX(created_at), to_timestamp(0)) FROM summaries WHERE scope_key = $1 AND level = $2`, sessionID, int(level))
	if err := row.Scan(&since); err != nil {
		return 0, wrapPgErr("CountEntriesSince", err)
	}
	var count int
	row = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memory_entries WHERE session_id = $1 AND timestamp > $2`, sessionID, since)
	if err := row.Scan(&count); err != nil {
		return 0, wrapPgErr("CountEntriesSince", err)
	}
	return count, nil
}

func (s *PostgresRowStore) UnconsumedSummaries(ctx context.Context, scopeKey string, level SummaryLevel) ([]Summary, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, scope_key, level, summary_text, created_at, source_ids
FROM summaries
WHERE scope_key = $1 AND level = $2
ORDER BY created_at ASC`, scopeKey, int(level))
	if err != nil {
		return nil, wrapPgErr("UnconsumedSummaries", err)
	}
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		var sm Summary
		var lvl int
		if err := rows.Scan(&sm.ID, &sm.ScopeKey, &lvl, &sm.SummaryText, &sm.CreatedAt, &sm.SourceMessageIDs); err != nil {
			return nil, wrapPgErr("UnconsumedSummaries", err)
		}
		sm.Level = SummaryLevel(lvl)
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *PostgresRowStore) DeleteSummaries(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM summaries WHERE id = ANY($1)`, ids)
	return wrapPgErr("DeleteSummaries", err)
}

func (s *PostgresRowStore) EntriesByTag(ctx context.Context, tag string) ([]MemoryEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+entryColumns+` FROM memory_entries WHERE $1 = ANY(tags)`, tag)
	if err != nil {
		return nil, wrapPgErr("EntriesByTag", err)
	}
	defer rows.Close()
	var out []MemoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, wrapPgErr("EntriesByTag", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresRowStore) EntriesBySubject(ctx context.Context, scopeKey string) ([]MemoryEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+entryColumns+` FROM memory_entries WHERE subject_tag = $1`, scopeKey)
	if err != nil {
		return nil, wrapPgErr("EntriesBySubject", err)
	}
	defer rows.Close()
	var out []MemoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, wrapPgErr("EntriesBySubject", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresRowStore) Stats(ctx context.Context, sessionID string) (MemoryServiceStats, error) {
	log := observability.LoggerWithTrace(ctx)
	var stats MemoryServiceStats
	row := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memory_entries WHERE session_id = $1`, sessionID)
	if err := row.Scan(&stats.Total); err != nil {
		return stats, wrapPgErr("Stats", err)
	}
	row = s.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM embedding_references r
JOIN memory_entries e ON e.id = r.message_id
WHERE e.session_id = $1 AND 'conversation' = ANY(r.heads)`, sessionID)
	if err := row.Scan(&stats.Recent); err != nil {
		return stats, wrapPgErr("Stats", err)
	}
	row = s.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM embedding_references r
JOIN memory_entries e ON e.id = r.message_id
WHERE e.session_id = $1 AND array_length(r.heads, 1) > 0`, sessionID)
	if err := row.Scan(&stats.SemanticEntries); err != nil {
		return stats, wrapPgErr("Stats", err)
	}
	row = s.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM embedding_references r
JOIN memory_entries e ON e.id = r.message_id
WHERE e.session_id = $1 AND 'code' = ANY(r.heads)`, sessionID)
	if err := row.Scan(&stats.CodeEntries); err != nil {
		return stats, wrapPgErr("Stats", err)
	}
	row = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM summaries WHERE scope_key = $1`, sessionID)
	if err := row.Scan(&stats.SummaryEntries); err != nil {
		return stats, wrapPgErr("Stats", err)
	}
	log.Debug().Str("session_id", sessionID).Int64("total", stats.Total).Msg("memory_stats_computed")
	return stats, nil
}

// wrapPgErr normalizes pgx errors into the memory error taxonomy.
func wrapPgErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(op, err)
	}
	return transient(op, err)
}
