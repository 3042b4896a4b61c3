package memory

import "testing"

func TestDefaultConfigMatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Embedding.Dimensions != 3072 {
		t.Errorf("Dimensions = %d, want 3072", cfg.Embedding.Dimensions)
	}
	if cfg.Embedding.MaxBatchSize != 100 {
		t.Errorf("MaxBatchSize = %d, want 100", cfg.Embedding.MaxBatchSize)
	}
	if cfg.Embedding.BatchWindowMs != 250 {
		t.Errorf("BatchWindowMs = %d, want 250", cfg.Embedding.BatchWindowMs)
	}
	if cfg.Recall.RecentCount != 10 || cfg.Recall.SemanticCount != 10 {
		t.Errorf("Recall counts = %+v, want 10/10", cfg.Recall)
	}
	if cfg.Scoring.WeightRecency != 0.3 || cfg.Scoring.WeightSimilarity != 0.5 || cfg.Scoring.WeightSalience != 0.2 {
		t.Errorf("Scoring weights = %+v, want 0.3/0.5/0.2", cfg.Scoring)
	}
	if cfg.Router.MinSalienceForVector != 3.0 || cfg.Router.MinEmbedChars != 6 {
		t.Errorf("Router = %+v", cfg.Router)
	}
	if !cfg.Router.AlwaysEmbedUser || !cfg.Router.AlwaysEmbedAssistant {
		t.Errorf("expected always_embed_user/assistant defaults to be true")
	}
	if cfg.Decay.IntervalSeconds != 14400 || cfg.Decay.BatchSize != 500 || cfg.Decay.FloorFraction != 0.01 {
		t.Errorf("Decay = %+v", cfg.Decay)
	}
	if cfg.Summary.RollingThreshold != 10 || cfg.Summary.MetaThreshold != 10 {
		t.Errorf("Summary = %+v", cfg.Summary)
	}
}

func TestHeadCollectionNaming(t *testing.T) {
	if HeadConversation.CollectionName() != "mem_conversation" {
		t.Errorf("got %q", HeadConversation.CollectionName())
	}
	if HeadCode.CollectionName() != "mem_code" {
		t.Errorf("got %q", HeadCode.CollectionName())
	}
	if HeadGit.CollectionName() != "mem_git" {
		t.Errorf("got %q", HeadGit.CollectionName())
	}
}
