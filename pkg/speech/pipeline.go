package speech

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kotoba-live/kotoba/pkg/adapters/tts"
	"github.com/kotoba-live/kotoba/pkg/errorsx"
	"github.com/kotoba-live/kotoba/pkg/logging"
	"github.com/kotoba-live/kotoba/pkg/metrics"
	"github.com/kotoba-live/kotoba/pkg/turn"
)

// Player renders one audio chunk and returns when it has finished playing.
type Player interface {
	Play(ctx context.Context, chunk tts.Chunk) error
}

// AvatarChannel receives mouth-openness values in [0,1], fire-and-forget.
type AvatarChannel interface {
	SendLipSync(value float64)
}

// Config tunes one pipeline instance.
type Config struct {
	// QueueSize bounds the synthesized-audio queue. Producers block,
	// never drop, when it is full.
	QueueSize int
	// PollInterval is how often playback re-checks the interruption
	// signal while pacing lip-sync frames.
	PollInterval time.Duration
	// LipSync enables lip frame generation and avatar emission.
	LipSync bool
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Millisecond
	}
	return c
}

// nopPlayer discards audio. Used when no playback device is wired, e.g.
// headless runs where only the avatar and the transcript matter.
type nopPlayer struct{}

func (nopPlayer) Play(context.Context, tts.Chunk) error { return nil }

// playItem carries one sentence's synthesized audio through the queue.
// A nil *playItem is the per-turn terminal sentinel.
type playItem struct {
	sentence string
	chunks   []tts.Chunk
	lip      []LipFrame
}

// Pipeline converts approved sentences into played audio with synchronized
// mouth movement. Two workers cooperate across one bounded queue: the
// synthesis stage pulls sentences in arrival order and pushes audio; the
// playback stage plays strictly in order and honors interruption at every
// suspension point. Slow playback throttles ahead-of-time synthesis through
// queue backpressure.
type Pipeline struct {
	synth     tts.Synthesizer
	player    Player
	avatar    AvatarChannel
	interrupt *turn.Interrupt
	obs       metrics.Observer
	logger    *slog.Logger
	cfg       Config

	sentences chan string
	queue     chan *playItem
	wg        sync.WaitGroup
	started   bool
	closeOnce sync.Once
	firstOnce sync.Once
}

func NewPipeline(synth tts.Synthesizer, player Player, avatar AvatarChannel, interrupt *turn.Interrupt, cfg Config, obs metrics.Observer, logger *slog.Logger) *Pipeline {
	cfg = cfg.withDefaults()
	if player == nil {
		player = nopPlayer{}
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		synth:     synth,
		player:    player,
		avatar:    avatar,
		interrupt: interrupt,
		obs:       obs,
		logger:    logging.NewComponentLogger(logger, "speech_pipeline"),
		cfg:       cfg,
		sentences: make(chan string, cfg.QueueSize),
		queue:     make(chan *playItem, cfg.QueueSize),
	}
}

// Start launches the synthesis and playback workers. Call once per turn.
func (p *Pipeline) Start(ctx context.Context) {
	if p.started {
		return
	}
	p.started = true
	p.wg.Add(2)
	go p.synthesisLoop(ctx)
	go p.playbackLoop(ctx)
}

// Speak hands one approved sentence to the synthesis stage, blocking when
// the stage is saturated. Sentences arriving after an interruption are
// dropped at the hand-off.
func (p *Pipeline) Speak(ctx context.Context, sentence string) error {
	if p.interrupt.IsSet() {
		p.logger.Debug("sentence dropped at hand-off", slog.String("reason", "interrupted"))
		return nil
	}
	select {
	case p.sentences <- sentence:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseInput signals that no more sentences will arrive this turn.
func (p *Pipeline) CloseInput() {
	p.closeOnce.Do(func() { close(p.sentences) })
}

// Wait blocks until both workers finish, up to timeout. On timeout it
// returns a drain-timeout error and leaves the workers to finish on their
// own; teardown is best effort, not a kill.
func (p *Pipeline) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		p.logger.Warn("pipeline drain timed out", slog.Duration("timeout", timeout))
		return errorsx.Wrap(context.DeadlineExceeded, errorsx.ReasonDrainTimeout)
	}
}

// synthesisLoop consumes sentences in order, synthesizes each, and pushes
// the result. Exactly one sentinel is pushed per turn, interrupted or not.
func (p *Pipeline) synthesisLoop(ctx context.Context) {
	defer p.wg.Done()
	defer func() {
		// Terminal sentinel; playback drains everything before it.
		select {
		case p.queue <- nil:
		case <-ctx.Done():
		}
	}()

	for sentence := range p.sentences {
		if p.interrupt.IsSet() {
			p.logger.Debug("synthesis stopped", slog.String("reason", "interrupted"))
			for range p.sentences {
				// Keep the producer unblocked until it closes the input.
			}
			return
		}
		item := p.synthesize(ctx, sentence)
		if item == nil {
			continue
		}
		select {
		case p.queue <- item:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) synthesize(ctx context.Context, sentence string) *playItem {
	start := time.Now()
	chunkCh, err := p.synth.Synthesize(ctx, sentence)
	if err != nil {
		p.logger.Error("synthesis failed, skipping sentence",
			slog.String("reason_code", string(errorsx.ReasonTTSSynthesize)),
			slog.String("error", err.Error()))
		return nil
	}
	var chunks []tts.Chunk
	for chunk := range chunkCh {
		chunks = append(chunks, chunk)
	}
	if len(chunks) == 0 {
		return nil
	}
	item := &playItem{sentence: sentence, chunks: chunks}
	if p.cfg.LipSync {
		item.lip = GenerateLipFrames(sentence)
	}
	p.obs.RecordEvent(metrics.MetricsEvent{
		Name:  "tts_synthesis",
		Time:  time.Now(),
		Value: float64(time.Since(start).Milliseconds()),
		Tags:  map[string]string{"component": "speech"},
	})
	return item
}

// playbackLoop plays items strictly in queue order. An interruption drains
// and discards everything up to the sentinel and stops immediately.
func (p *Pipeline) playbackLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		var item *playItem
		select {
		case item = <-p.queue:
		case <-ctx.Done():
			return
		}
		if item == nil {
			return
		}
		if p.interrupt.IsSet() {
			p.drainQueue(ctx)
			return
		}
		p.firstOnce.Do(func() {
			p.obs.RecordEvent(metrics.MetricsEvent{
				Name: "first_audio",
				Time: time.Now(),
				Tags: map[string]string{"component": "speech"},
			})
		})
		p.playItem(ctx, item)
	}
}

func (p *Pipeline) drainQueue(ctx context.Context) {
	for {
		select {
		case item := <-p.queue:
			if item == nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) playItem(ctx context.Context, item *playItem) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, chunk := range item.chunks {
			if p.interrupt.IsSet() {
				return
			}
			if err := p.player.Play(ctx, chunk); err != nil {
				p.logger.Error("chunk playback failed, skipping",
					slog.String("reason_code", string(errorsx.ReasonPlayback)),
					slog.String("error", err.Error()))
			}
		}
	}()

	if p.avatar != nil && len(item.lip) > 0 {
		p.emitLipFrames(item.lip)
	}

	<-done
	if p.avatar != nil {
		// Mouth closed after every playback, interrupted or not.
		p.avatar.SendLipSync(0)
	}
}

// emitLipFrames paces mouth positions at their recorded offsets, polling
// the interruption signal between frames.
func (p *Pipeline) emitLipFrames(frames []LipFrame) {
	start := time.Now()
	for _, frame := range frames {
		for time.Since(start) < frame.Offset {
			if p.interrupt.IsSet() {
				return
			}
			time.Sleep(p.cfg.PollInterval)
		}
		if p.interrupt.IsSet() {
			return
		}
		p.avatar.SendLipSync(frame.MouthOpen)
	}
}
