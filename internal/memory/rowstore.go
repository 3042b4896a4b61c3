package memory

import (
	"context"
	"time"
)

// RowStore is the authoritative relational store of entries, analysis
// rows, summaries, and embedding-reference rows. All writes are
// single-row-transactional.
type RowStore interface {
	Init(ctx context.Context) error

	// Insert persists a new entry and assigns its id.
	Insert(ctx context.Context, entry *MemoryEntry) (int64, error)
	// LoadByIDs fetches entries by id, in no particular order.
	LoadByIDs(ctx context.Context, ids []int64) ([]MemoryEntry, error)
	// LoadRecent returns the last n entries of a session, ordered by
	// timestamp DESC. Missing analysis rows must not hide entries.
	LoadRecent(ctx context.Context, sessionID string, n int) ([]MemoryEntry, error)
	// UpdateMetadata patches pinned/last_accessed/subject_tag/tags fields.
	UpdateMetadata(ctx context.Context, id int64, fields EntryMetadataPatch) error
	// Delete cascades to analysis and embedding-reference rows.
	Delete(ctx context.Context, id int64) error

	// UpdateAnalysis UPSERTs a MessageAnalysis row keyed by MessageID.
	UpdateAnalysis(ctx context.Context, analysis *MessageAnalysis) error
	// LoadAnalysis fetches the analysis row for a message, if any.
	LoadAnalysis(ctx context.Context, messageID int64) (*MessageAnalysis, error)
	// Unanalyzed returns up to limit message ids, across all sessions, that
	// have no analysis row yet, oldest first.
	Unanalyzed(ctx context.Context, limit int) ([]int64, error)
	// BumpRecallStats updates last_recalled/recall_count for the given
	// message ids in one statement.
	BumpRecallStats(ctx context.Context, messageIDs []int64, at time.Time) error
	// UpdateSalience sets salience (and optionally last_accessed) for id.
	UpdateSalience(ctx context.Context, id int64, salience float64, refreshAccess bool) error
	// DecayBatch returns up to limit non-pinned entries (with their
	// analysis), ordered by COALESCE(last_accessed, timestamp) ASC, for
	// the Decay Scheduler to walk.
	DecayBatch(ctx context.Context, limit int) ([]DecayCandidate, error)

	// EmbeddingReference CRUD.
	UpsertEmbeddingReference(ctx context.Context, ref EmbeddingReference) error
	LoadEmbeddingReference(ctx context.Context, messageID int64) (*EmbeddingReference, error)

	// Summary CRUD.
	InsertSummary(ctx context.Context, s *Summary) error
	LatestSummary(ctx context.Context, scopeKey string, level SummaryLevel) (*Summary, error)
	CountEntriesSince(ctx context.Context, sessionID string, sinceSummaryLevel SummaryLevel) (int, error)
	UnconsumedSummaries(ctx context.Context, scopeKey string, level SummaryLevel) ([]Summary, error)
	DeleteSummaries(ctx context.Context, ids []string) error

	// EntriesByTag returns entries whose Tags contain tag (used by
	// Invalidation's owner=file path).
	EntriesByTag(ctx context.Context, tag string) ([]MemoryEntry, error)
	// EntriesBySubject returns entries whose SubjectTag equals scopeKey
	// (used by Invalidation's owner=project path).
	EntriesBySubject(ctx context.Context, scopeKey string) ([]MemoryEntry, error)

	// Stats computes MemoryServiceStats for a session in O(1) queries per table.
	Stats(ctx context.Context, sessionID string) (MemoryServiceStats, error)
}

// EntryMetadataPatch carries the mutable subset of MemoryEntry fields
// UpdateMetadata may change. Nil fields are left untouched.
type EntryMetadataPatch struct {
	Pinned       *bool
	LastAccessed *time.Time
	SubjectTag   *string
	Tags         *[]string
}

// DecayCandidate is the minimal projection the Decay Scheduler needs: it
// intentionally avoids hydrating a full MemoryEntry+MessageAnalysis pair
// per row, to keep decay ticks cheap (grounded on the original source's
// SQL-only decay mutation, which never constructs a full row struct).
type DecayCandidate struct {
	MessageID        int64
	Salience         float64
	OriginalSalience float64
	LastAccessed     *time.Time
	Timestamp        time.Time
	Pinned           bool
	MemoryType       MemoryType
}
