package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	rollingSummaryPromptBudget = 500
	metaSummaryPromptBudget    = 800
	summarizerMaxAttempts      = 3
	summarizerSuppressWindow   = time.Hour
)

const rollingSystemPrompt = `Compress the following conversation window into a concise rolling
summary (aim for %d tokens or fewer) that preserves names, decisions, open
questions, and emotionally significant details. Write prose, no headers.`

const metaSystemPrompt = `Compress the following sequence of rolling summaries into a single
higher-level summary (aim for %d tokens or fewer) of the session so far. Write
prose, no headers.`

// Summarizer produces level-1 (rolling) and level-2 (meta) Summary rows at
// configured thresholds, and exposes a caller-triggered Snapshot entry point
// that runs the same level-1 production path on demand.
type Summarizer struct {
	rows RowStore
	llm  LlmClient
	cfg  SummaryConfig

	suppressedUntil map[string]time.Time
}

// NewSummarizer constructs a Summarizer.
func NewSummarizer(rows RowStore, llm LlmClient, cfg SummaryConfig) *Summarizer {
	return &Summarizer{rows: rows, llm: llm, cfg: cfg, suppressedUntil: make(map[string]time.Time)}
}

// MaybeSummarize checks the rolling and meta thresholds for sessionID and
// produces whichever summary levels have crossed their threshold since the
// last production. It is safe to call after every save().
func (s *Summarizer) MaybeSummarize(ctx context.Context, sessionID string, now time.Time) error {
	if until, suppressed := s.suppressedUntil[sessionID]; suppressed && now.Before(until) {
		return nil
	}

	sinceRolling, err := s.rows.CountEntriesSince(ctx, sessionID, SummaryLevelRolling)
	if err != nil {
		return err
	}
	if sinceRolling >= s.cfg.RollingThreshold {
		if _, err := s.createRollingSummary(ctx, sessionID, now); err != nil {
			s.suppressedUntil[sessionID] = now.Add(summarizerSuppressWindow)
			return err
		}
	}

	unconsumed, err := s.rows.UnconsumedSummaries(ctx, sessionID, SummaryLevelRolling)
	if err != nil {
		return err
	}
	if len(unconsumed) >= s.cfg.MetaThreshold {
		if err := s.createMetaSummary(ctx, sessionID, unconsumed, now); err != nil {
			s.suppressedUntil[sessionID] = now.Add(summarizerSuppressWindow)
			return err
		}
	}
	return nil
}

// Snapshot is the caller-triggered entry point: it runs the identical
// level-1 production path used by the threshold-driven pass, regardless of
// whether the rolling threshold has actually been crossed. There is no
// third persisted summary type.
func (s *Summarizer) Snapshot(ctx context.Context, sessionID string, now time.Time) (*Summary, error) {
	return s.createRollingSummary(ctx, sessionID, now)
}

func (s *Summarizer) createRollingSummary(ctx context.Context, sessionID string, now time.Time) (*Summary, error) {
	entries, err := s.rows.LoadRecent(ctx, sessionID, s.cfg.RollingThreshold)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(entries))
	var b strings.Builder
	// entries arrive newest-first; render oldest-first for a natural window.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if hasTag(e.Tags, "summary") {
			continue
		}
		ids = append(ids, e.ID)
		fmt.Fprintf(&b, "[%s] %s\n", e.Role, e.Content)
	}

	text, err := s.completeWithRetry(ctx, fmt.Sprintf(rollingSystemPrompt, rollingSummaryPromptBudget), b.String())
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		ID:               uuid.NewString(),
		ScopeKey:         sessionID,
		Level:            SummaryLevelRolling,
		SummaryText:      text,
		CreatedAt:        now,
		SourceMessageIDs: ids,
	}
	if err := s.rows.InsertSummary(ctx, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *Summarizer) createMetaSummary(ctx context.Context, sessionID string, rolling []Summary, now time.Time) error {
	var b strings.Builder
	ids := make([]int64, 0, len(rolling))
	for _, r := range rolling {
		fmt.Fprintf(&b, "%s\n\n", r.SummaryText)
		ids = append(ids, r.SourceMessageIDs...)
	}

	text, err := s.completeWithRetry(ctx, fmt.Sprintf(metaSystemPrompt, metaSummaryPromptBudget), b.String())
	if err != nil {
		return err
	}

	meta := &Summary{
		ID:               uuid.NewString(),
		ScopeKey:         sessionID,
		Level:            SummaryLevelMeta,
		SummaryText:      text,
		CreatedAt:        now,
		SourceMessageIDs: ids,
	}
	if err := s.rows.InsertSummary(ctx, meta); err != nil {
		return err
	}

	consumedIDs := make([]string, 0, len(rolling))
	for _, r := range rolling {
		consumedIDs = append(consumedIDs, r.ID)
	}
	return s.rows.DeleteSummaries(ctx, consumedIDs)
}

// completeWithRetry retries the LLM call up to summarizerMaxAttempts times
// on KindTransient errors via withRetry, surfacing any other failure
// immediately so the caller can suppress further attempts for an hour.
func (s *Summarizer) completeWithRetry(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if s.llm == nil {
		return "", fatal("Summarizer.completeWithRetry", fmt.Errorf("no LlmClient configured"))
	}
	var text string
	err := withRetry(ctx, "Summarizer.completeWithRetry", func() error {
		out, err := s.llm.Complete(ctx, systemPrompt, userPrompt)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	return text, err
}
