package openai

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Wire types for the OpenAI-compatible chat completions surface.
// Reference: https://platform.openai.com/docs/api-reference/chat/create
//
// Only the fields the relay acts on are declared; everything else in an
// incoming request body is ignored by the decoder.
type ChatCompletionRequest struct {
	// A list of messages comprising the conversation so far.
	Messages []Message `json:"messages"`

	Model string `json:"model"`

	// Upper bound on generated tokens. Overrides the plan's max_tokens.
	MaxTokens *int `json:"max_tokens,omitempty"`

	// Between 0 and 2. Overrides the plan's temperature.
	Temperature *float64 `json:"temperature,omitempty"`

	// Streaming is not supported; stream=true is rejected at ingress.
	Stream *bool `json:"stream,omitempty"`

	// A unique identifier representing the end-user. Unused by the relay
	// but accepted for client compatibility.
	User *string `json:"user,omitempty"`
}

type Message struct {
	Role    string          `json:"role"`
	Content *MessageContent `json:"content"`
}

// MessageContent is either a plain string or an array of typed parts.
// Non-string content is accepted at ingress but contributes nothing to
// the canonical prompt text.
type MessageContent struct {
	String *string
	Parts  []Part
}

func (mc *MessageContent) MarshalJSON() ([]byte, error) {
	if mc.String != nil {
		return json.Marshal(mc.String)
	}
	return json.Marshal(mc.Parts)
}

func (mc *MessageContent) UnmarshalJSON(data []byte) error {
	var stringValue string
	if err := json.Unmarshal(data, &stringValue); err == nil {
		mc.String = &stringValue
		return nil
	}
	var parts []Part
	if err := json.Unmarshal(data, &parts); err == nil {
		mc.Parts = parts
		return nil
	}
	return fmt.Errorf("expected string or parts, got %s", data)
}

type Part struct {
	Type    string  `json:"type"`
	Content Content `json:"content"`
}

type Content struct {
	TextContent  *TextContent
	ImageContent *ImageContent
}

func (p *Content) MarshalJSON() ([]byte, error) {
	if p.TextContent != nil {
		return json.Marshal(p.TextContent)
	}
	return json.Marshal(p.ImageContent)
}

func (p *Content) UnmarshalJSON(data []byte) error {
	var probe struct {
		Text   *string `json:"text"`
		Url    *string `json:"url"`
		Detail string  `json:"detail"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("invalid content format: %s", data)
	}
	if probe.Text != nil {
		p.TextContent = &TextContent{Text: *probe.Text}
		return nil
	}
	if probe.Url != nil {
		p.ImageContent = &ImageContent{Url: *probe.Url, Detail: probe.Detail}
		return nil
	}
	return fmt.Errorf("invalid content format: %s", data)
}

type TextContent struct {
	Text string `json:"text"`
}

type ImageContent struct {
	Url    string `json:"url"`
	Detail string `json:"detail"`
}

type ChatCompletionResponse struct {
	Id      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int32   `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int32 `json:"prompt_tokens"`
	CompletionTokens int32 `json:"completion_tokens"`
	TotalTokens      int32 `json:"total_tokens"`
}

// NewRequestId returns a fresh identifier for one relay request. It is the
// primary key of the request's trace row.
func NewRequestId() string {
	return uuid.New().String()
}

// ResponseId derives the public completion id from the relay request id, so
// a completion returned to a client can always be matched to its trace.
func ResponseId(requestID string) string {
	return "chatcmpl-" + strings.ReplaceAll(requestID, "-", "")
}

// FinalizeResponse assembles the response envelope for a completed backend
// run or a synthetic (cached) result.
func FinalizeResponse(requestID string, model string, text string, usage Usage) *ChatCompletionResponse {
	return &ChatCompletionResponse{
		Id:      ResponseId(requestID),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{
			{
				Index: 0,
				Message: Message{
					Role:    "assistant",
					Content: &MessageContent{String: &text},
				},
				FinishReason: "stop",
			},
		},
		Usage: usage,
	}
}
