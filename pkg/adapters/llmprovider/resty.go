package llmprovider

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dealbench/dealbench/pkg/agent"
)

// RestyProvider is the secondary chat-completion backend: a plain HTTP
// OpenAI-compatible endpoint called over go-resty (§6 "a primary and a
// fallback chat completion service").
type RestyProvider struct {
	client *resty.Client
	model  string
	name   string
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewRestyProvider constructs a secondary provider against baseURL.
func NewRestyProvider(baseURL, apiKey, model string, timeout time.Duration) *RestyProvider {
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(timeout)
	return &RestyProvider{client: client, model: model, name: "resty-http:" + model}
}

func (p *RestyProvider) Name() string { return p.name }

func (p *RestyProvider) Complete(ctx context.Context, prompt string) (string, agent.TokenUsage, error) {
	var result chatCompletionResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"model": p.model,
			"messages": []map[string]string{
				{"role": "user", "content": prompt},
			},
		}).
		SetResult(&result).
		Post("/chat/completions")
	if err != nil {
		return "", agent.TokenUsage{}, fmt.Errorf("llmprovider: resty request: %w", err)
	}
	if resp.IsError() {
		return "", agent.TokenUsage{}, fmt.Errorf("llmprovider: resty status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(result.Choices) == 0 {
		return "", agent.TokenUsage{}, fmt.Errorf("llmprovider: resty response had no choices")
	}
	usage := agent.TokenUsage{
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		TotalTokens:      result.Usage.TotalTokens,
	}
	return result.Choices[0].Message.Content, usage, nil
}
