package memory

import (
	"os"

	"gopkg.in/yaml.v3"
)

// EmbeddingConfig controls the EmbeddingProvider.
type EmbeddingConfig struct {
	Dimensions    int `yaml:"dimensions"`
	MaxBatchSize  int `yaml:"max_batch_size"`
	BatchWindowMs int `yaml:"batch_window_ms"`
}

// RecallConfig controls the default Recall Builder bucket sizes and deadline.
type RecallConfig struct {
	RecentCount   int `yaml:"recent_count"`
	SemanticCount int `yaml:"semantic_count"`
	SoftDeadlineMs int `yaml:"soft_deadline_ms"`
}

// ScoringConfig holds the Scorer's composite-score weights.
type ScoringConfig struct {
	WeightRecency   float64 `yaml:"weight_recency"`
	WeightSimilarity float64 `yaml:"weight_similarity"`
	WeightSalience  float64 `yaml:"weight_salience"`
}

// RouterConfig controls Router thresholds.
type RouterConfig struct {
	MinSalienceForVector float64 `yaml:"min_salience_for_vector"`
	MinEmbedChars        int     `yaml:"min_embed_chars"`
	AlwaysEmbedUser       bool    `yaml:"always_embed_user"`
	AlwaysEmbedAssistant  bool    `yaml:"always_embed_assistant"`
}

// DecayConfig controls the Decay Scheduler.
type DecayConfig struct {
	IntervalSeconds int     `yaml:"interval_seconds"`
	BatchSize       int     `yaml:"batch_size"`
	FloorFraction   float64 `yaml:"floor_fraction"`
}

// SummaryConfig controls the Summarizer's trigger thresholds.
type SummaryConfig struct {
	RollingThreshold int `yaml:"rolling_threshold"`
	MetaThreshold    int `yaml:"meta_threshold"`
}

// Config aggregates every configuration key enumerated by the Memory &
// Recall Core's external interface. Pass nil to NewService to use
// DefaultConfig.
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Recall    RecallConfig    `yaml:"recall"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Router    RouterConfig    `yaml:"router"`
	Decay     DecayConfig     `yaml:"decay"`
	Summary   SummaryConfig   `yaml:"summary"`

	NumAnalyzerWorkers int `yaml:"num_analyzer_workers"`
	NumEmbedderWorkers int `yaml:"num_embedder_workers"`
	AnalysisQueueSize  int `yaml:"analysis_queue_size"`
	EmbeddingQueueSize int `yaml:"embedding_queue_size"`
}

// DefaultConfig returns the configuration defaults enumerated by the
// specification's external-interface table.
func DefaultConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Dimensions:    3072,
			MaxBatchSize:  100,
			BatchWindowMs: 250,
		},
		Recall: RecallConfig{
			RecentCount:    10,
			SemanticCount:  10,
			SoftDeadlineMs: 2000,
		},
		Scoring: ScoringConfig{
			WeightRecency:    0.3,
			WeightSimilarity: 0.5,
			WeightSalience:   0.2,
		},
		Router: RouterConfig{
			MinSalienceForVector: 3.0,
			MinEmbedChars:        6,
			AlwaysEmbedUser:      true,
			AlwaysEmbedAssistant: true,
		},
		Decay: DecayConfig{
			IntervalSeconds: 14400,
			BatchSize:       500,
			FloorFraction:   0.01,
		},
		Summary: SummaryConfig{
			RollingThreshold: 10,
			MetaThreshold:    10,
		},
		NumAnalyzerWorkers: 2,
		NumEmbedderWorkers: 1,
		AnalysisQueueSize:  256,
		EmbeddingQueueSize: 256,
	}
}

// LoadConfig reads a YAML document from filename, starting from
// DefaultConfig so unset keys keep their documented defaults.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fatal("LoadConfig", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fatal("LoadConfig", err)
	}
	return cfg, nil
}
