// Package llm defines the completion contract the persona engine consumes
// and an OpenAI-compatible implementation of it.
package llm

import "context"

// Message is one conversation entry sent to the model.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Roles accepted by the chat completions protocol.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request carries one completion call. Temperature and MaxTokens come from
// the persona configuration driving the turn.
type Request struct {
	SessionID   string // for logging and test routing only
	Model       string
	Messages    []Message // system prompt first
	Temperature float32
	MaxTokens   int
}

// Client is the single-method contract with the LLM backend: given a
// request, return the response text or an error. Implementations must
// honor context cancellation.
type Client interface {
	Complete(ctx context.Context, req *Request) (string, error)
}
