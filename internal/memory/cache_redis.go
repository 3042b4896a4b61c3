package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// EmbeddingCache is an optional short-TTL cache sitting in front of
// EmbeddingProvider, keyed by a content hash so identical text (common
// across repeated tool output, boilerplate acknowledgements, etc.) skips
// the upstream embedding call entirely.
type EmbeddingCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// RedisConfig is the subset of connection settings the embedding cache
// needs. Enabled=false disables caching entirely.
type RedisConfig struct {
	Enabled bool
	Addr    string
	Password string
	DB       int
	TTL      time.Duration
}

// NewEmbeddingCache builds a Redis-backed embedding cache when enabled.
// Returns nil, nil when disabled, matching the pattern every optional
// cache in this codebase follows: a nil cache is always safe to call.
func NewEmbeddingCache(cfg RedisConfig) (*EmbeddingCache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fatal("NewEmbeddingCache", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &EmbeddingCache{client: client, ttl: ttl, prefix: "memory:embed:"}, nil
}

func (c *EmbeddingCache) key(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return c.prefix + hex.EncodeToString(sum[:])
}

// Get returns a cached vector for (model, text), if present.
func (c *EmbeddingCache) Get(ctx context.Context, model, text string) ([]float32, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	val, err := c.client.Get(ctx, c.key(model, text)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Msg("memory_embedding_cache_get_error")
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal([]byte(val), &vec); err != nil {
		return nil, false
	}
	return vec, true
}

// Set caches a vector for (model, text).
func (c *EmbeddingCache) Set(ctx context.Context, model, text string, vector []float32) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(model, text), data, c.ttl).Err(); err != nil {
		log.Debug().Err(err).Msg("memory_embedding_cache_set_error")
	}
}

// Close releases the underlying Redis connection.
func (c *EmbeddingCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// CachedEmbeddingProvider wraps an EmbeddingProvider with an EmbeddingCache,
// checking the cache per-text before falling through to a single upstream
// EmbedBatch call for whatever missed.
type CachedEmbeddingProvider struct {
	inner EmbeddingProvider
	cache *EmbeddingCache
	model string
}

// NewCachedEmbeddingProvider wraps inner with cache. A nil cache makes this
// a transparent passthrough.
func NewCachedEmbeddingProvider(inner EmbeddingProvider, cache *EmbeddingCache, model string) *CachedEmbeddingProvider {
	return &CachedEmbeddingProvider{inner: inner, cache: cache, model: model}
}

func (p *CachedEmbeddingProvider) Dimension() int { return p.inner.Dimension() }

func (p *CachedEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *CachedEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))
	for i, t := range texts {
		if vec, ok := p.cache.Get(ctx, p.model, t); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	fetched, err := p.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		out[idx] = fetched[j]
		p.cache.Set(ctx, p.model, missTexts[j], fetched[j])
	}
	return out, nil
}
