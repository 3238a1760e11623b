package memory

import "context"

// Kind tags what a stored document is, which decides how Search
// labels it when formatting recall context for the model.
type Kind string

const (
	KindTurn      Kind = "turn"
	KindSummary   Kind = "summary"
	KindKnowledge Kind = "knowledge"
)

// Store is long-term recall. Implementations index documents by
// embedding and return the top matches as a prompt-ready block.
type Store interface {
	// AddTurn records one exchange: what the user said and what the
	// persona answered.
	AddTurn(ctx context.Context, userText, assistantText string) error

	// AddSummary records a consolidated memory distilled from a
	// conversation segment.
	AddSummary(ctx context.Context, summary string) error

	// AddKnowledge records external information, e.g. a web search
	// result, with its source.
	AddKnowledge(ctx context.Context, content, source string) error

	// Search returns up to k relevant memories formatted as a single
	// labelled block, or an empty string when nothing was stored yet.
	Search(ctx context.Context, query string, k int) (string, error)
}

// Embedder maps text to a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
