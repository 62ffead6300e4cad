package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	relay "github.com/abhishekdhakaab/Relay-LLM-inference-Manager"
)

// promptSuffix cues the model to answer rather than continue the transcript.
const promptSuffix = "\nassistant:"

// OllamaAdapter drives an Ollama server through its non-streaming
// /api/generate endpoint.
type OllamaAdapter struct {
	baseURL    string
	httpClient *http.Client
}

func NewOllamaAdapter(baseURL string) *OllamaAdapter {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaAdapter{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			// Generation on CPU-only hosts is slow; give the backend room.
			Timeout: 120 * time.Second,
		},
	}
}

func (a *OllamaAdapter) Name() string {
	return "ollama"
}

func (a *OllamaAdapter) Generate(ctx context.Context, request GenerationRequest) (*relay.GenerationResult, error) {
	started := time.Now()

	payload := ollamaGenerateRequest{
		Model:  request.Model,
		Prompt: request.Prompt + promptSuffix,
		Stream: false,
		Options: ollamaOptions{
			Temperature: request.Temperature,
			NumPredict:  request.MaxTokens,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/generate", a.baseURL)
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	response, err := a.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(response.Body)
		return nil, fmt.Errorf("ollama API error %d: %s", response.StatusCode, string(errorBody))
	}

	var parsed ollamaGenerateResponse
	if err := json.NewDecoder(response.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	result := &relay.GenerationResult{
		Text:             strings.TrimSpace(parsed.Response),
		PromptTokens:     parsed.PromptEvalCount,
		CompletionTokens: parsed.EvalCount,
		TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
		BackendLatencyMs: time.Since(started).Milliseconds(),
		Backend:          a.Name(),
	}
	// Time to first token: model load plus prompt evaluation, both
	// reported by Ollama in nanoseconds.
	if ttftNs := parsed.LoadDuration + parsed.PromptEvalDuration; ttftNs > 0 {
		ttftMs := ttftNs / int64(time.Millisecond)
		result.BackendTtftMs = &ttftMs
	}
	if parsed.TotalDuration > 0 {
		result.Metadata = map[string]any{
			"total_duration_ns":       parsed.TotalDuration,
			"load_duration_ns":        parsed.LoadDuration,
			"prompt_eval_duration_ns": parsed.PromptEvalDuration,
			"eval_duration_ns":        parsed.EvalDuration,
		}
	}
	return result, nil
}

// Ollama API types
type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaGenerateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int32  `json:"prompt_eval_count"`
	EvalCount       int32  `json:"eval_count"`

	// Durations are reported in nanoseconds.
	TotalDuration      int64 `json:"total_duration"`
	LoadDuration       int64 `json:"load_duration"`
	PromptEvalDuration int64 `json:"prompt_eval_duration"`
	EvalDuration       int64 `json:"eval_duration"`
}
