package tts

import "context"

// Chunk is one piece of synthesized audio.
type Chunk struct {
	PCM        []byte
	SampleRate int
}

// Synthesizer defines the contract for any TTS vendor implementation.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize converts one sentence into a finite sequence of audio
	// chunks. The channel is closed when synthesis completes or ctx ends.
	Synthesize(ctx context.Context, text string) (<-chan Chunk, error)
	// Close shuts down the synthesizer.
	Close() error
}
