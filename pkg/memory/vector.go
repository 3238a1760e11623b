package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const knowledgeChunkSize = 1000

type document struct {
	id        string
	text      string
	kind      Kind
	role      string
	source    string
	vector    []float32
	timestamp time.Time
}

// VectorStore is an in-process Store backed by brute-force cosine
// similarity. Stream sessions hold a few thousand documents at most,
// so a linear scan stays well under a millisecond.
type VectorStore struct {
	embedder Embedder

	mu   sync.RWMutex
	docs []document
}

func NewVectorStore(embedder Embedder) *VectorStore {
	if embedder == nil {
		embedder = HashEmbedder{}
	}
	return &VectorStore{embedder: embedder}
}

func (s *VectorStore) AddTurn(ctx context.Context, userText, assistantText string) error {
	if err := s.add(ctx, userText, KindTurn, "user", ""); err != nil {
		return err
	}
	return s.add(ctx, assistantText, KindTurn, "assistant", "")
}

func (s *VectorStore) AddSummary(ctx context.Context, summary string) error {
	return s.add(ctx, summary, KindSummary, "summary", "")
}

func (s *VectorStore) AddKnowledge(ctx context.Context, content, source string) error {
	// Chunk long documents so one oversized page does not dominate
	// similarity scores.
	runes := []rune(content)
	for len(runes) > 0 {
		n := len(runes)
		if n > knowledgeChunkSize {
			n = knowledgeChunkSize
		}
		if err := s.add(ctx, string(runes[:n]), KindKnowledge, "knowledge", source); err != nil {
			return err
		}
		runes = runes[n:]
	}
	return nil
}

func (s *VectorStore) add(ctx context.Context, text string, kind Kind, role, source string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.docs = append(s.docs, document{
		id:        uuid.NewString(),
		text:      text,
		kind:      kind,
		role:      role,
		source:    source,
		vector:    vec,
		timestamp: time.Now(),
	})
	s.mu.Unlock()
	return nil
}

func (s *VectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *VectorStore) Search(ctx context.Context, query string, k int) (string, error) {
	s.mu.RLock()
	if len(s.docs) == 0 {
		s.mu.RUnlock()
		return "", nil
	}
	docs := make([]document, len(s.docs))
	copy(docs, s.docs)
	s.mu.RUnlock()

	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return "", err
	}

	type scored struct {
		doc   document
		score float64
	}
	ranked := make([]scored, 0, len(docs))
	for _, d := range docs {
		ranked = append(ranked, scored{doc: d, score: cosine(qv, d.vector)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if k > len(ranked) {
		k = len(ranked)
	}

	var b strings.Builder
	for i := 0; i < k; i++ {
		d := ranked[i].doc
		if i > 0 {
			b.WriteString("\n- ")
		}
		switch d.kind {
		case KindSummary:
			fmt.Fprintf(&b, "[過去の要約]: %s", d.text)
		case KindKnowledge:
			fmt.Fprintf(&b, "[外部知識]: %s", d.text)
		default:
			fmt.Fprintf(&b, "[%sの過去の発言]: %s", capitalize(d.role), d.text)
		}
	}
	return b.String(), nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// HashEmbedder is a deterministic offline embedder: tokens are hashed
// into a fixed-size bag-of-words vector. Good enough for recall over
// a single stream session and needs no model server.
type HashEmbedder struct{}

const hashDims = 256

func (HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, hashDims)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%hashDims]++
	}
	return vec, nil
}

// tokenize lowercases and splits on non-letter runes, falling back to
// character bigrams for scripts without word boundaries.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r < 0x80
	})
	var out []string
	for _, f := range fields {
		if f == "" {
			continue
		}
		runes := []rune(f)
		if runes[0] < 0x80 {
			out = append(out, f)
			continue
		}
		for i := 0; i+1 < len(runes); i++ {
			out = append(out, string(runes[i:i+2]))
		}
		if len(runes) == 1 {
			out = append(out, f)
		}
	}
	return out
}

var _ Store = (*VectorStore)(nil)
