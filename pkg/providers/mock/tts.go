package mock

import (
	"context"
	"sync"

	"github.com/kotoba-live/kotoba/pkg/adapters/tts"
)

type TTSConfig struct {
	SampleRate    int
	ChunksPerText int
	Err           error
}

// Synthesizer emits deterministic silent PCM chunks and records every
// sentence it was asked to speak.
type Synthesizer struct {
	cfg TTSConfig

	mu       sync.Mutex
	spoken   []string
	closed   bool
	synthErr map[string]error
}

func NewSynthesizer(cfg TTSConfig) *Synthesizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.ChunksPerText == 0 {
		cfg.ChunksPerText = 2
	}
	return &Synthesizer{cfg: cfg, synthErr: make(map[string]error)}
}

func (s *Synthesizer) Name() string { return "mock_tts" }

// FailOn makes Synthesize return err for the given sentence.
func (s *Synthesizer) FailOn(text string, err error) {
	s.mu.Lock()
	s.synthErr[text] = err
	s.mu.Unlock()
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string) (<-chan tts.Chunk, error) {
	if s.cfg.Err != nil {
		return nil, s.cfg.Err
	}
	s.mu.Lock()
	if err, ok := s.synthErr[text]; ok {
		s.mu.Unlock()
		return nil, err
	}
	s.spoken = append(s.spoken, text)
	s.mu.Unlock()

	out := make(chan tts.Chunk, s.cfg.ChunksPerText)
	for i := 0; i < s.cfg.ChunksPerText; i++ {
		out <- tts.Chunk{PCM: make([]byte, 320), SampleRate: s.cfg.SampleRate}
	}
	close(out)
	return out, nil
}

func (s *Synthesizer) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.spoken))
	copy(out, s.spoken)
	return out
}

func (s *Synthesizer) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
