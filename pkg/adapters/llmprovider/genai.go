// Package llmprovider supplies concrete llm.Provider implementations: a
// primary backed by google.golang.org/genai and a secondary HTTP
// chat-completion backend over go-resty (§6 "LLM providers").
package llmprovider

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/dealbench/dealbench/pkg/agent"
)

// GenAIProvider wraps the Gemini API as the pipeline's primary provider.
type GenAIProvider struct {
	client *genai.Client
	model  string
}

// NewGenAIProvider constructs a primary provider against the given model.
// apiKey is read by the caller from the configured environment variable
// (§6 "Configuration": credentials come from the environment).
func NewGenAIProvider(ctx context.Context, apiKey, model string) (*GenAIProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llmprovider: creating genai client: %w", err)
	}
	return &GenAIProvider{client: client, model: model}, nil
}

func (p *GenAIProvider) Name() string { return "genai:" + p.model }

// Complete issues a single chat-completion call. Timeouts and retries are
// the Pipeline's responsibility (§4.3); this method does one attempt.
func (p *GenAIProvider) Complete(ctx context.Context, prompt string) (string, agent.TokenUsage, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), nil)
	if err != nil {
		return "", agent.TokenUsage{}, fmt.Errorf("llmprovider: genai generate: %w", err)
	}
	text := resp.Text()
	usage := agent.TokenUsage{}
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return text, usage, nil
}
