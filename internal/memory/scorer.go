package memory

import (
	"math"
	"sort"
	"time"
)

// Score computes the composite score for a single candidate:
//
//	recency    = exp(-age_hours / 24.0)
//	similarity = similarity_score            (already normalized by the vector store)
//	salience_n = salience / 10.0
//	composite  = w_r*recency + w_s*similarity + w_sal*salience_n
//
// Candidates lacking an embedding should pass similarity = 0 and are still
// rankable by recency and salience alone.
func Score(timestamp time.Time, similarity, salience float64, now time.Time, weights ScoringConfig) (recency, sim, salienceN, composite float64) {
	ageHours := now.Sub(timestamp).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	recency = math.Exp(-ageHours / 24.0)
	sim = similarity
	salienceN = salience / 10.0
	composite = weights.WeightRecency*recency + weights.WeightSimilarity*sim + weights.WeightSalience*salienceN
	return
}

// ScoreEntry scores a MemoryEntry + similarity + salience into a
// ScoredEntry, filling in RecencyScore/SimilarityScore/SalienceScore/CompositeScore.
func ScoreEntry(entry MemoryEntry, similarity, salience float64, now time.Time, weights ScoringConfig, head Head) ScoredEntry {
	recency, sim, salienceN, composite := Score(entry.Timestamp, similarity, salience, now, weights)
	return ScoredEntry{
		Entry:           entry,
		RecencyScore:    recency,
		SimilarityScore: sim,
		SalienceScore:   salienceN,
		CompositeScore:  composite,
		SourceHead:      head,
	}
}

// SortByComposite sorts descending by CompositeScore, with a stable
// tie-break by higher (more recent) Timestamp.
func SortByComposite(entries []ScoredEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CompositeScore != entries[j].CompositeScore {
			return entries[i].CompositeScore > entries[j].CompositeScore
		}
		return entries[i].Entry.Timestamp.After(entries[j].Entry.Timestamp)
	})
}
