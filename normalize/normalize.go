package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/openai"
)

// NormalizedMessage is one chat message with whitespace-trimmed role and
// content. Non-string content (multi-part messages) normalizes to "".
type NormalizedMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NormalizedRequest is the canonical form of a chat request. Two requests
// that differ only in surrounding whitespace produce the same canonical
// text and therefore the same request hash.
type NormalizedRequest struct {
	Messages      []NormalizedMessage
	CanonicalText string
	RequestHash   string
}

// PromptChars is the canonical text length in runes. Length buckets and
// scheduler lanes are chosen from this count.
func (r NormalizedRequest) PromptChars() int {
	return utf8.RuneCountInString(r.CanonicalText)
}

// Messages derives the canonical prompt text and its content hash from the
// raw chat messages. It is pure: no I/O, no failure modes, and the same
// input always yields the same hash across processes.
func Messages(messages []openai.Message) NormalizedRequest {
	normalized := make([]NormalizedMessage, 0, len(messages))
	lines := make([]string, 0, len(messages))

	for _, message := range messages {
		role := strings.TrimSpace(message.Role)
		content := ""
		if message.Content != nil && message.Content.String != nil {
			content = strings.TrimSpace(*message.Content.String)
		}
		normalized = append(normalized, NormalizedMessage{Role: role, Content: content})
		lines = append(lines, role+":"+content)
	}

	canonical := strings.Join(lines, "\n")

	hasher := sha256.New()
	hasher.Write([]byte(canonical))

	return NormalizedRequest{
		Messages:      normalized,
		CanonicalText: canonical,
		RequestHash:   hex.EncodeToString(hasher.Sum(nil)),
	}
}
