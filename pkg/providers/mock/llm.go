package mock

import (
	"context"
	"sync"

	"github.com/kotoba-live/kotoba/pkg/llm"
)

type LLMAdapter struct {
	cfg LLMConfig

	mu       sync.Mutex
	messages [][]llm.Message
	opts     []llm.Options
}

type LLMConfig struct {
	ResponseText string
	StreamChunks []string
	// Responses scripts one response per call, consumed in order; the
	// last entry repeats once exhausted.
	Responses []string
	Err       error
	// ErrAfter is the zero-based call index from which Err applies;
	// earlier calls still succeed.
	ErrAfter int
}

func NewLLMAdapter(cfg LLMConfig) *LLMAdapter {
	if cfg.ResponseText == "" {
		cfg.ResponseText = "<speak>mock response</speak>"
	}
	return &LLMAdapter{cfg: cfg}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) Stream(ctx context.Context, messages []llm.Message, opts llm.Options) (<-chan string, error) {
	a.mu.Lock()
	call := len(a.messages)
	a.messages = append(a.messages, messages)
	a.opts = append(a.opts, opts)
	a.mu.Unlock()
	if a.cfg.Err != nil && call >= a.cfg.ErrAfter {
		return nil, a.cfg.Err
	}
	out := make(chan string, len(a.cfg.StreamChunks)+1)
	switch {
	case len(a.cfg.Responses) > 0:
		idx := call
		if idx >= len(a.cfg.Responses) {
			idx = len(a.cfg.Responses) - 1
		}
		out <- a.cfg.Responses[idx]
	case len(a.cfg.StreamChunks) > 0:
		for _, chunk := range a.cfg.StreamChunks {
			out <- chunk
		}
	default:
		out <- a.cfg.ResponseText
	}
	close(out)
	return out, nil
}

// Calls reports how many times Stream was invoked.
func (a *LLMAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.messages)
}

// LastMessages returns the message list of the most recent call.
func (a *LLMAdapter) LastMessages() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.messages) == 0 {
		return nil
	}
	return a.messages[len(a.messages)-1]
}

// LastOptions returns the generation options of the most recent call.
func (a *LLMAdapter) LastOptions() llm.Options {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.opts) == 0 {
		return llm.Options{}
	}
	return a.opts[len(a.opts)-1]
}

var _ llm.StreamAdapter = (*LLMAdapter)(nil)
