package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kotoba-live/kotoba/pkg/adapters/tts"
	"github.com/kotoba-live/kotoba/pkg/errorsx"
	"github.com/kotoba-live/kotoba/pkg/providers/mock"
	"github.com/kotoba-live/kotoba/pkg/turn"
)

type countPlayer struct {
	mu      sync.Mutex
	chunks  int
	delay   time.Duration
	started chan struct{}
	once    sync.Once
}

func (p *countPlayer) Play(ctx context.Context, chunk tts.Chunk) error {
	if p.started != nil {
		p.once.Do(func() { close(p.started) })
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	p.chunks++
	p.mu.Unlock()
	return nil
}

func (p *countPlayer) played() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chunks
}

type recordAvatar struct {
	mu     sync.Mutex
	values []float64
}

func (a *recordAvatar) SendLipSync(v float64) {
	a.mu.Lock()
	a.values = append(a.values, v)
	a.mu.Unlock()
}

func (a *recordAvatar) sent() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float64, len(a.values))
	copy(out, a.values)
	return out
}

func TestPipelinePlaysInOrder(t *testing.T) {
	synth := mock.NewSynthesizer(mock.TTSConfig{})
	player := &countPlayer{}
	interrupt := turn.NewInterrupt()
	p := NewPipeline(synth, player, nil, interrupt, Config{QueueSize: 2}, nil, nil)

	ctx := context.Background()
	p.Start(ctx)
	sentences := []string{"一文目だよ。", "二文目だよ。", "三文目だよ。"}
	for _, s := range sentences {
		if err := p.Speak(ctx, s); err != nil {
			t.Fatalf("speak: %v", err)
		}
	}
	p.CloseInput()
	if err := p.Wait(5 * time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}

	spoken := synth.Spoken()
	if len(spoken) != len(sentences) {
		t.Fatalf("expected %d synthesized sentences, got %v", len(sentences), spoken)
	}
	for i, s := range sentences {
		if spoken[i] != s {
			t.Fatalf("sentence %d out of order: %q", i, spoken[i])
		}
	}
	if got := player.played(); got != len(sentences)*2 {
		t.Fatalf("expected %d chunks played, got %d", len(sentences)*2, got)
	}
}

func TestInterruptDropsAtHandoff(t *testing.T) {
	synth := mock.NewSynthesizer(mock.TTSConfig{})
	player := &countPlayer{}
	interrupt := turn.NewInterrupt()
	p := NewPipeline(synth, player, nil, interrupt, Config{}, nil, nil)

	ctx := context.Background()
	p.Start(ctx)
	interrupt.Set()
	if err := p.Speak(ctx, "もう喋らない。"); err != nil {
		t.Fatalf("speak after interrupt should drop, not fail: %v", err)
	}
	p.CloseInput()
	if err := p.Wait(5 * time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := player.played(); got != 0 {
		t.Fatalf("expected nothing played, got %d chunks", got)
	}
	if len(synth.Spoken()) != 0 {
		t.Fatalf("expected nothing synthesized, got %v", synth.Spoken())
	}
}

func TestInterruptMidPlaybackStopsQueue(t *testing.T) {
	synth := mock.NewSynthesizer(mock.TTSConfig{})
	player := &countPlayer{delay: 30 * time.Millisecond, started: make(chan struct{})}
	interrupt := turn.NewInterrupt()
	p := NewPipeline(synth, player, nil, interrupt, Config{QueueSize: 8}, nil, nil)

	ctx := context.Background()
	p.Start(ctx)
	for i := 0; i < 6; i++ {
		if err := p.Speak(ctx, "長い話をしているところ。"); err != nil {
			t.Fatalf("speak: %v", err)
		}
	}
	<-player.started
	interrupt.Set()
	p.CloseInput()
	if err := p.Wait(5 * time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := player.played(); got >= 12 {
		t.Fatalf("interrupt should have cut playback short, played %d chunks", got)
	}
}

func TestSynthesisFailureSkipsSentence(t *testing.T) {
	synth := mock.NewSynthesizer(mock.TTSConfig{})
	synth.FailOn("壊れた文。", errors.New("synth down"))
	player := &countPlayer{}
	p := NewPipeline(synth, player, nil, turn.NewInterrupt(), Config{}, nil, nil)

	ctx := context.Background()
	p.Start(ctx)
	for _, s := range []string{"最初の文。", "壊れた文。", "最後の文。"} {
		if err := p.Speak(ctx, s); err != nil {
			t.Fatalf("speak: %v", err)
		}
	}
	p.CloseInput()
	if err := p.Wait(5 * time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}
	spoken := synth.Spoken()
	if len(spoken) != 2 || spoken[0] != "最初の文。" || spoken[1] != "最後の文。" {
		t.Fatalf("expected failing sentence skipped, got %v", spoken)
	}
	if got := player.played(); got != 4 {
		t.Fatalf("expected 4 chunks from the surviving sentences, got %d", got)
	}
}

func TestMouthClosedAfterPlayback(t *testing.T) {
	synth := mock.NewSynthesizer(mock.TTSConfig{})
	player := &countPlayer{}
	avatar := &recordAvatar{}
	p := NewPipeline(synth, player, avatar, turn.NewInterrupt(), Config{LipSync: true, PollInterval: time.Millisecond}, nil, nil)

	ctx := context.Background()
	p.Start(ctx)
	if err := p.Speak(ctx, "あ"); err != nil {
		t.Fatalf("speak: %v", err)
	}
	p.CloseInput()
	if err := p.Wait(5 * time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}

	sent := avatar.sent()
	if len(sent) < 2 {
		t.Fatalf("expected lip frames plus mouth-close, got %v", sent)
	}
	if sent[len(sent)-1] != 0 {
		t.Fatalf("mouth should be closed after playback, got %v", sent)
	}
	var opened bool
	for _, v := range sent {
		if v > 0 {
			opened = true
		}
	}
	if !opened {
		t.Fatalf("expected the mouth to open at least once, got %v", sent)
	}
}

func TestWaitTimesOut(t *testing.T) {
	synth := mock.NewSynthesizer(mock.TTSConfig{})
	p := NewPipeline(synth, &countPlayer{}, nil, turn.NewInterrupt(), Config{}, nil, nil)
	p.Start(context.Background())

	err := p.Wait(20 * time.Millisecond)
	if err == nil {
		t.Fatal("expected drain timeout with input still open")
	}
	if !errorsx.HasReason(err, errorsx.ReasonDrainTimeout) {
		t.Fatalf("expected drain timeout reason, got %v", err)
	}
	p.CloseInput()
	if err := p.Wait(5 * time.Second); err != nil {
		t.Fatalf("drain after close: %v", err)
	}
}

func TestGenerateLipFrames(t *testing.T) {
	frames := GenerateLipFrames("ab。")
	if len(frames) != 3 {
		t.Fatalf("expected one frame per rune, got %d", len(frames))
	}
	if frames[0].MouthOpen != 0.8 {
		t.Fatalf("vowel should open wide, got %.2f", frames[0].MouthOpen)
	}
	if frames[1].MouthOpen != 0.2 {
		t.Fatalf("consonant should open slightly, got %.2f", frames[1].MouthOpen)
	}
	if frames[2].MouthOpen != 0.0 {
		t.Fatalf("punctuation should close the mouth, got %.2f", frames[2].MouthOpen)
	}
	if frames[1].Offset != 100*time.Millisecond {
		t.Fatalf("consonant frame should start after the vowel, got %v", frames[1].Offset)
	}
	kana := GenerateLipFrames("か")
	if kana[0].MouthOpen != 0.6 {
		t.Fatalf("kana should count as a vowel-bearing mora, got %.2f", kana[0].MouthOpen)
	}
}
