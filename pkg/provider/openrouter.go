package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/claude-mem/worker/pkg/config"
	"github.com/claude-mem/worker/pkg/session"
)

// openRouterMaxContextByModel bounds the prompt OpenRouter sends per model,
// mirroring Gemini's per-model table but keyed to context window rather
// than request rate.
var openRouterMaxContextByModel = map[string]int{
	"anthropic/claude-3.5-haiku": 200_000,
	"google/gemini-flash-1.5":    1_000_000,
	"meta-llama/llama-3.1-8b":    128_000,
}

const openRouterDefaultMaxContext = 32_000

// OpenRouter drives the OpenRouter chat-completions REST endpoint.
type OpenRouter struct {
	httpClient *http.Client
	apiKey     string
	model      string
}

// NewOpenRouter builds an OpenRouter adapter for the given model.
func NewOpenRouter(apiKey, model string) *OpenRouter {
	return &OpenRouter{httpClient: &http.Client{Timeout: 60 * time.Second}, apiKey: apiKey, model: model}
}

func (o *OpenRouter) Name() string { return "openrouter" }

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterRequest struct {
	Model    string              `json:"model"`
	Messages []openRouterMessage `json:"messages"`
}

type openRouterResponse struct {
	Choices []struct {
		Message openRouterMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// RunTurn posts the conversation history to OpenRouter's chat-completions
// endpoint, trimming history from the front if it would exceed the
// model's estimated max context.
func (o *OpenRouter) RunTurn(ctx context.Context, history []session.Turn, settings *config.Settings) (session.ProviderResult, error) {
	maxContext := openRouterDefaultMaxContext
	if limit, ok := openRouterMaxContextByModel[o.model]; ok {
		maxContext = limit
	}
	messages := toOpenRouterMessages(trimToEstimatedTokenBudget(history, maxContext))

	payload, err := json.Marshal(openRouterRequest{Model: o.model, Messages: messages})
	if err != nil {
		return session.ProviderResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://openrouter.ai/api/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return session.ProviderResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return session.ProviderResult{}, fmt.Errorf("openrouter request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return session.ProviderResult{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return session.ProviderResult{}, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed openRouterResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return session.ProviderResult{}, fmt.Errorf("decode openrouter response: %w", err)
	}

	var text string
	if len(parsed.Choices) > 0 {
		text = parsed.Choices[0].Message.Content
	}

	inputTokens, outputTokens := parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens
	if inputTokens == 0 && outputTokens == 0 {
		inputTokens, outputTokens = estimateTokenSplit(len(text))
	}

	return session.ProviderResult{Text: text, InputTokens: inputTokens, OutputTokens: outputTokens}, nil
}

func (o *OpenRouter) ShouldFallBack(err error) bool {
	return ClassifyFallback(err)
}

func toOpenRouterMessages(history []session.Turn) []openRouterMessage {
	out := make([]openRouterMessage, 0, len(history))
	for _, turn := range history {
		out = append(out, openRouterMessage{Role: turn.Role, Content: turn.Text})
	}
	return out
}

// trimToEstimatedTokenBudget drops the oldest turns until the remaining
// history's rough token estimate (chars/4) fits maxContext, always keeping
// at least the most recent turn.
func trimToEstimatedTokenBudget(history []session.Turn, maxContext int) []session.Turn {
	total := 0
	for _, t := range history {
		total += len(t.Text) / 4
	}
	start := 0
	for total > maxContext && start < len(history)-1 {
		total -= len(history[start].Text) / 4
		start++
	}
	return history[start:]
}
