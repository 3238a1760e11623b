package mock

import (
	"context"
	"sync"

	"github.com/kotoba-live/kotoba/pkg/adapters/stt"
)

type STTConfig struct {
	Transcript string
	Err        error
}

type Recognizer struct {
	cfg STTConfig

	mu     sync.Mutex
	calls  int
	closed bool
}

func NewRecognizer(cfg STTConfig) *Recognizer {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	return &Recognizer{cfg: cfg}
}

func (r *Recognizer) Name() string { return "mock_stt" }

func (r *Recognizer) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.cfg.Err != nil {
		return "", r.cfg.Err
	}
	return r.cfg.Transcript, nil
}

func (r *Recognizer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *Recognizer) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

var _ stt.Recognizer = (*Recognizer)(nil)
