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

const claudeAPIDefaultModel = "claude-3-5-haiku-latest"
const claudeAPIMaxOutputTokens = 4096

// ClaudeAPI drives the Anthropic Messages REST endpoint directly, the
// CLAUDE_MEM_CLAUDE_AUTH_METHOD=api alternative to shelling out to the CLI
// subprocess: no subprocess lifecycle to own, but requires an explicit API
// key rather than riding the CLI's own OAuth session.
type ClaudeAPI struct {
	httpClient *http.Client
	apiKey     string
	model      string
}

// NewClaudeAPI builds a direct Anthropic REST adapter for the given model.
func NewClaudeAPI(apiKey, model string) *ClaudeAPI {
	return &ClaudeAPI{httpClient: &http.Client{Timeout: 60 * time.Second}, apiKey: apiKey, model: model}
}

func (a *ClaudeAPI) Name() string { return "claude" }

type claudeAPIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeAPIRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []claudeAPIMessage `json:"messages"`
}

type claudeAPIResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// RunTurn posts the conversation history to the Messages endpoint. History
// roles already use "user"/"assistant", matching the API directly.
func (a *ClaudeAPI) RunTurn(ctx context.Context, history []session.Turn, settings *config.Settings) (session.ProviderResult, error) {
	model := a.model
	if model == "" {
		model = claudeAPIDefaultModel
	}
	payload, err := json.Marshal(claudeAPIRequest{
		Model:     model,
		MaxTokens: claudeAPIMaxOutputTokens,
		Messages:  toClaudeAPIMessages(history),
	})
	if err != nil {
		return session.ProviderResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return session.ProviderResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return session.ProviderResult{}, fmt.Errorf("claude API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return session.ProviderResult{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return session.ProviderResult{}, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed claudeAPIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return session.ProviderResult{}, fmt.Errorf("decode claude API response: %w", err)
	}

	var text string
	if len(parsed.Content) > 0 {
		text = parsed.Content[0].Text
	}

	inputTokens, outputTokens := parsed.Usage.InputTokens, parsed.Usage.OutputTokens
	if inputTokens == 0 && outputTokens == 0 {
		inputTokens, outputTokens = estimateTokenSplit(len(text))
	}

	return session.ProviderResult{Text: text, InputTokens: inputTokens, OutputTokens: outputTokens}, nil
}

func (a *ClaudeAPI) ShouldFallBack(err error) bool {
	return ClassifyFallback(err)
}

func toClaudeAPIMessages(history []session.Turn) []claudeAPIMessage {
	out := make([]claudeAPIMessage, 0, len(history))
	for _, turn := range history {
		out = append(out, claudeAPIMessage{Role: turn.Role, Content: turn.Text})
	}
	return out
}
