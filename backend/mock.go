package backend

import (
	"context"
	"strings"

	relay "github.com/abhishekdhakaab/Relay-LLM-inference-Manager"
)

// MockAdapter is the CI backend: no model server, deterministic output.
// It echoes an abbreviated form of the prompt so tests can assert on the
// round trip without caring about generation quality.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

func (m *MockAdapter) Name() string {
	return "mock"
}

func (m *MockAdapter) Generate(ctx context.Context, request GenerationRequest) (*relay.GenerationResult, error) {
	echo := []rune(request.Prompt)
	if len(echo) > 120 {
		echo = echo[:120]
	}

	return &relay.GenerationResult{
		Text:             "(mock) " + strings.ReplaceAll(string(echo), "\n", " "),
		PromptTokens:     10,
		CompletionTokens: 20,
		TotalTokens:      30,
		BackendLatencyMs: 50,
		Backend:          m.Name(),
	}, nil
}
