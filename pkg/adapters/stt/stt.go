package stt

import "context"

// Recognizer defines the contract for any STT vendor implementation.
// Input audio is 16-bit signed PCM, mono, 16 kHz.
type Recognizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Transcribe converts a complete utterance into text. It returns an
	// empty string when no speech is detected.
	Transcribe(ctx context.Context, pcm []byte) (string, error)
	// Close shuts down the recognizer.
	Close() error
}
