package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kotoba-live/kotoba/pkg/adapters/stt"
	"github.com/kotoba-live/kotoba/pkg/errorsx"
	"github.com/kotoba-live/kotoba/pkg/logging"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Config struct {
	APIKey         string
	Model          string
	Language       string
	SampleRate     int
	Encoding       string
	UtteranceEndMS int
	// FinalizeAfter bounds how long Transcribe waits for the
	// utterance-end event once all audio has been written.
	FinalizeAfter time.Duration
}

// Recognizer transcribes one utterance per call. Each call opens a
// live session, streams the captured PCM through it and waits for the
// service to settle on a final transcript.
type Recognizer struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Recognizer {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "ja"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.UtteranceEndMS == 0 {
		cfg.UtteranceEndMS = 1000
	}
	if cfg.FinalizeAfter == 0 {
		cfg.FinalizeAfter = 5 * time.Second
	}
	return &Recognizer{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
}

func (r *Recognizer) Name() string { return "deepgram" }

func (r *Recognizer) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          r.cfg.Model,
		Language:       r.cfg.Language,
		Encoding:       r.cfg.Encoding,
		SampleRate:     r.cfg.SampleRate,
		InterimResults: false,
		SmartFormat:    true,
		UtteranceEndMs: fmt.Sprintf("%d", r.cfg.UtteranceEndMS),
	}

	cb := newCallback(r.logger)

	dgClient, err := client.NewWSUsingCallback(sessCtx, r.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	if connected := dgClient.Connect(); !connected {
		return "", errorsx.Wrap(fmt.Errorf("deepgram connection failed"), errorsx.ReasonSTTConnect)
	}
	defer dgClient.Stop()

	pr, pw := io.Pipe()
	go func() {
		if err := dgClient.Stream(pr); err != nil && sessCtx.Err() == nil {
			r.logger.Error("deepgram stream error", slog.String("error", err.Error()))
		}
	}()

	if _, err := pw.Write(pcm); err != nil {
		pw.Close()
		return "", errorsx.Wrap(err, errorsx.ReasonSTTTranscribe)
	}
	pw.Close()

	select {
	case <-cb.done:
	case <-time.After(r.cfg.FinalizeAfter):
		r.logger.Warn("transcription finalize timeout",
			slog.Duration("after", r.cfg.FinalizeAfter))
	case <-ctx.Done():
		return "", errorsx.Wrap(ctx.Err(), errorsx.ReasonSTTTranscribe)
	}

	return cb.transcript(), nil
}

func (r *Recognizer) Close() error { return nil }

var _ stt.Recognizer = (*Recognizer)(nil)

type callback struct {
	logger *slog.Logger

	mu       sync.Mutex
	parts    []string
	done     chan struct{}
	doneOnce sync.Once
}

func newCallback(logger *slog.Logger) *callback {
	return &callback{logger: logger, done: make(chan struct{})}
}

func (c *callback) transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.TrimSpace(strings.Join(c.parts, " "))
}

func (c *callback) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.logger.Debug("deepgram connection opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	text := mr.Channel.Alternatives[0].Transcript
	if text == "" {
		return nil
	}
	if mr.IsFinal || mr.SpeechFinal {
		c.mu.Lock()
		c.parts = append(c.parts, text)
		c.mu.Unlock()
		c.logger.Debug("final transcript received", slog.String("transcript", text))
	}
	if mr.SpeechFinal {
		c.finish()
	}
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.logger.Debug("deepgram metadata", slog.String("request_id", md.RequestID))
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.finish()
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.finish()
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.logger.Error("deepgram error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.finish()
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.logger.Debug("deepgram unhandled event", slog.String("data", string(byData)))
	return nil
}
