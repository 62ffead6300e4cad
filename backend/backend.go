// Package backend talks to the model servers that generate completions.
package backend

import (
	"context"

	relay "github.com/abhishekdhakaab/Relay-LLM-inference-Manager"
)

// GenerationRequest carries the resolved plan parameters for one completion.
// Prompt is the canonical prompt text; adapters apply their own prompt
// template before hitting the wire.
type GenerationRequest struct {
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Adapter is the single capability the relay needs from a model server.
type Adapter interface {
	Generate(ctx context.Context, request GenerationRequest) (*relay.GenerationResult, error)
	Name() string
}
