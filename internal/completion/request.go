// Package completion wraps chat-completion providers behind a gateway that owns timeouts,
// retries and model defaults.
package completion

// Roles of history messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one earlier turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Request is a provider-agnostic completion call.
type Request struct {
	System      string
	Prompt      string
	History     []Message
	Model       string
	Temperature float64
	MaxTokens   int
}
