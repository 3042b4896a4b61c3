package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"manifold/internal/observability"
)

// EmbeddingProvider is a stateless capability: embed one string, or a batch
// of strings in a single upstream call. Vector dimensionality is fixed by
// configuration.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// HTTPEmbeddingProvider calls an OpenAI-compatible /embeddings endpoint.
// EmbedBatch issues exactly one POST regardless of batch size, per the
// capability's "single upstream call" contract.
type HTTPEmbeddingProvider struct {
	client     *http.Client
	baseURL    string
	path       string
	model      string
	apiKey     string
	apiHeader  string
	dimensions int
	timeout    time.Duration
}

// HTTPEmbeddingConfig configures HTTPEmbeddingProvider.
type HTTPEmbeddingConfig struct {
	BaseURL    string
	Path       string
	Model      string
	APIKey     string
	APIHeader  string // e.g. "Authorization"; empty disables the header
	Dimensions int
	Timeout    time.Duration
}

// NewHTTPEmbeddingProvider builds a provider over cfg, instrumented with
// otelhttp so embedding calls participate in the caller's trace.
func NewHTTPEmbeddingProvider(cfg HTTPEmbeddingConfig) *HTTPEmbeddingProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPEmbeddingProvider{
		client:     observability.NewHTTPClient(http.DefaultClient),
		baseURL:    cfg.BaseURL,
		path:       cfg.Path,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		apiHeader:  cfg.APIHeader,
		dimensions: cfg.Dimensions,
		timeout:    timeout,
	}
}

func (p *HTTPEmbeddingProvider) Dimension() int { return p.dimensions }

func (p *HTTPEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *HTTPEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for _, t := range texts {
		if t == "" {
			return nil, invalidInput("EmbedBatch", fmt.Errorf("empty input string"))
		}
	}

	body, err := json.Marshal(embedReq{Model: p.model, Input: texts})
	if err != nil {
		return nil, fatal("EmbedBatch", err)
	}
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, p.baseURL+p.path, bytes.NewReader(body))
	if err != nil {
		return nil, fatal("EmbedBatch", err)
	}
	if p.apiHeader == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	} else if p.apiHeader != "" {
		req.Header.Set(p.apiHeader, p.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, transient("EmbedBatch", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transient("EmbedBatch", err)
	}
	if resp.StatusCode/100 == 5 {
		return nil, transient("EmbedBatch", fmt.Errorf("embeddings endpoint %s: %s", resp.Status, respBody))
	}
	if resp.StatusCode/100 != 2 {
		return nil, fatal("EmbedBatch", fmt.Errorf("embeddings endpoint %s: %s", resp.Status, respBody))
	}

	var er embedResp
	if err := json.Unmarshal(respBody, &er); err != nil {
		return nil, fatal("EmbedBatch", fmt.Errorf("parse embedding response: %w", err))
	}
	if len(er.Data) != len(texts) {
		return nil, fatal("EmbedBatch", fmt.Errorf("unexpected embedding count: got %d, want %d", len(er.Data), len(texts)))
	}
	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		out[i] = er.Data[i].Embedding
	}
	return out, nil
}
