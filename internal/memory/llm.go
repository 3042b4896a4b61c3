package memory

import (
	"context"
	"errors"
	"strings"

	"manifold/internal/llm"
)

// LlmClient is the abstract generative-model capability the Analyzer and
// Summarizer depend on. The memory core never talks to a concrete provider
// SDK directly; ProviderLlmClient below adapts whichever llm.Provider the
// surrounding application has already wired (Anthropic, OpenAI, Gemini, ...).
type LlmClient interface {
	// Complete sends a single-turn instruction and returns the model's
	// text response. systemPrompt may be empty.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ProviderLlmClient adapts an llm.Provider (the chat-oriented capability
// used throughout the rest of the application) into the single-turn
// LlmClient the memory core expects.
type ProviderLlmClient struct {
	provider llm.Provider
	model    string
}

// NewProviderLlmClient wraps provider for use as the memory core's LlmClient.
func NewProviderLlmClient(provider llm.Provider, model string) *ProviderLlmClient {
	return &ProviderLlmClient{provider: provider, model: model}
}

func (p *ProviderLlmClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if p == nil || p.provider == nil {
		return "", fatal("LlmClient.Complete", errors.New("llm provider is nil"))
	}
	var msgs []llm.Message
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: userPrompt})

	resp, err := p.provider.Chat(ctx, msgs, nil, p.model)
	if err != nil {
		return "", transient("LlmClient.Complete", err)
	}
	return resp.Content, nil
}

