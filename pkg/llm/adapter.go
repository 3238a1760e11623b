package llm

import "context"

// Message is one role-tagged entry in the conversation context.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Options tune a single generation request. Directive is an extra system
// instruction appended after the base prompt; fragment boundaries of the
// resulting stream are not aligned to any grammar unit.
type Options struct {
	Directive   string
	Temperature float64
	MaxTokens   int
}

// StreamAdapter is the language-model streaming interface. Stream returns a
// finite channel of text fragments; cancelling ctx terminates the stream.
type StreamAdapter interface {
	Name() string
	Stream(ctx context.Context, messages []Message, opts Options) (<-chan string, error)
}
