package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/claude-mem/worker/pkg/config"
	"github.com/claude-mem/worker/pkg/session"
)

// geminiRPMByModel is the per-model rate-limit table, consulted only when
// rate limiting is enabled (free tier).
var geminiRPMByModel = map[string]int{
	"gemini-lite":            10,
	"gemini-flash":           10,
	"gemini-pro":             5,
	"gemini-2.0-flash":       15,
	"gemini-2.0-flash-lite":  30,
	"gemini-3-flash":         10,
	"gemini-3-flash-preview": 5,
}

const geminiRateLimitSafetyMargin = 100 * time.Millisecond

// Gemini drives the Gemini generateContent REST endpoint.
type Gemini struct {
	httpClient *http.Client
	apiKey     string

	mu              sync.Mutex
	lastRequestTime time.Time
}

// NewGemini builds a Gemini adapter with the given API key.
func NewGemini(apiKey string) *Gemini {
	return &Gemini{httpClient: &http.Client{Timeout: 60 * time.Second}, apiKey: apiKey}
}

func (g *Gemini) Name() string { return "gemini" }

type geminiContent struct {
	Role  string              `json:"role"`
	Parts []geminiContentPart `json:"parts"`
}

type geminiContentPart struct {
	Text string `json:"text"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// RunTurn posts the conversation history to Gemini's generateContent
// endpoint, applying the per-model RPM limit when enabled.
func (g *Gemini) RunTurn(ctx context.Context, history []session.Turn, settings *config.Settings) (session.ProviderResult, error) {
	if settings.GeminiRateLimitingEnabled {
		if err := g.waitForRateLimit(ctx, settings.GeminiModel); err != nil {
			return session.ProviderResult{}, err
		}
	}

	reqBody := geminiRequest{
		Contents: toGeminiContents(history),
		GenerationConfig: geminiGenerationConfig{
			Temperature:     0.3,
			MaxOutputTokens: 4096,
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return session.ProviderResult{}, err
	}

	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s",
		settings.GeminiModel, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return session.ProviderResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return session.ProviderResult{}, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return session.ProviderResult{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return session.ProviderResult{}, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return session.ProviderResult{}, fmt.Errorf("decode gemini response: %w", err)
	}

	var text strings.Builder
	if len(parsed.Candidates) > 0 {
		for _, part := range parsed.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
	}

	inputTokens, outputTokens := parsed.UsageMetadata.PromptTokenCount, parsed.UsageMetadata.CandidatesTokenCount
	if inputTokens == 0 && outputTokens == 0 {
		inputTokens, outputTokens = estimateTokenSplit(text.Len())
	}

	return session.ProviderResult{Text: text.String(), InputTokens: inputTokens, OutputTokens: outputTokens}, nil
}

func (g *Gemini) waitForRateLimit(ctx context.Context, model string) error {
	rpm, ok := geminiRPMByModel[model]
	if !ok || rpm <= 0 {
		return nil
	}
	minInterval := time.Minute / time.Duration(rpm)

	g.mu.Lock()
	wait := time.Until(g.lastRequestTime.Add(minInterval + geminiRateLimitSafetyMargin))
	if wait < 0 {
		wait = 0
	}
	g.lastRequestTime = time.Now().Add(wait)
	g.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (g *Gemini) ShouldFallBack(err error) bool {
	return ClassifyFallback(err)
}

func toGeminiContents(history []session.Turn) []geminiContent {
	out := make([]geminiContent, 0, len(history))
	for _, turn := range history {
		role := turn.Role
		if role == "assistant" {
			role = "model"
		}
		out = append(out, geminiContent{Role: role, Parts: []geminiContentPart{{Text: turn.Text}}})
	}
	return out
}

// estimateTokenSplit approximates input/output token counts from character
// length using a 70/30 input/output split for providers that don't return a
// precise count.
func estimateTokenSplit(outputChars int) (inputTokens, outputTokens int) {
	total := outputChars / 4 // ~4 chars/token, a standard rough estimate
	outputTokens = total * 30 / 100
	inputTokens = total - outputTokens
	return
}
