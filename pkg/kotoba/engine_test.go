package kotoba

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kotoba-live/kotoba/pkg/events"
	"github.com/kotoba-live/kotoba/pkg/metrics"
	"github.com/kotoba-live/kotoba/pkg/persona"
	"github.com/kotoba-live/kotoba/pkg/providers/mock"
)

func testConfig() Config {
	return Config{
		Speech: SpeechConfig{
			QueueSize:      4,
			PollIntervalMS: 1,
			MinSegmentLen:  4,
			MaxSegmentLen:  50,
		},
		Turn: TurnConfig{
			BargeInThresholdMS: 100,
			DrainTimeoutMS:     5000,
			MinTranscriptChars: 3,
		},
		Resilience: ResilienceConfig{
			MaxRetries:        1,
			RetryBackoffMS:    1,
			BreakerThreshold:  3,
			BreakerCooldownMS: 100,
		},
		BasePrompt: "あなたは配信者のペルソナです。",
	}
}

type captureObserver struct {
	mu     sync.Mutex
	events []metrics.MetricsEvent
}

func (o *captureObserver) RecordEvent(ev metrics.MetricsEvent) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

func (o *captureObserver) find(name string) (metrics.MetricsEvent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ev := range o.events {
		if ev.Name == name {
			return ev, true
		}
	}
	return metrics.MetricsEvent{}, false
}

func newTestEngine(t *testing.T, adapter *mock.LLMAdapter, obs *captureObserver) (*Engine, *mock.Synthesizer) {
	t.Helper()
	synth := mock.NewSynthesizer(mock.TTSConfig{})
	opts := EngineOptions{
		Config:      testConfig(),
		Adapter:     adapter,
		Synthesizer: synth,
	}
	if obs != nil {
		opts.Observer = obs
	}
	e, err := NewEngine(opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, synth
}

func TestNewEngineRequiresProviders(t *testing.T) {
	if _, err := NewEngine(EngineOptions{Synthesizer: mock.NewSynthesizer(mock.TTSConfig{})}); err == nil {
		t.Fatal("expected error without llm adapter")
	}
	if _, err := NewEngine(EngineOptions{Adapter: mock.NewLLMAdapter(mock.LLMConfig{})}); err == nil {
		t.Fatal("expected error without tts synthesizer")
	}
}

func TestHandleTranscriptSpeaksResponse(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{ResponseText: "<speak>こんにちは、元気だよ。</speak>"})
	e, synth := newTestEngine(t, adapter, nil)

	if err := e.HandleTranscript(context.Background(), "やっほー、元気？"); err != nil {
		t.Fatalf("handle transcript: %v", err)
	}
	spoken := synth.Spoken()
	if len(spoken) != 1 || spoken[0] != "こんにちは、元気だよ。" {
		t.Fatalf("unexpected speech: %v", spoken)
	}

	msgs := adapter.LastMessages()
	if len(msgs) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(msgs))
	}
	if !strings.Contains(msgs[0].Content, "あなたは配信者のペルソナです。") {
		t.Fatal("system message should carry the base prompt")
	}
	if msgs[1].Content != "やっほー、元気？" {
		t.Fatalf("unexpected user message: %q", msgs[1].Content)
	}
	if opts := adapter.LastOptions(); opts.Directive == "" {
		t.Fatal("reaction should carry a directive")
	}

	e.mu.Lock()
	historyLen := len(e.history)
	e.mu.Unlock()
	if historyLen != 2 {
		t.Fatalf("expected 2 history entries, got %d", historyLen)
	}
}

func TestShortTranscriptIgnored(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{})
	e, _ := newTestEngine(t, adapter, nil)
	if err := e.HandleTranscript(context.Background(), "や"); err != nil {
		t.Fatalf("handle transcript: %v", err)
	}
	if adapter.Calls() != 0 {
		t.Fatal("short transcript must not start a turn")
	}
}

func TestDuplicateTranscriptIgnored(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{ResponseText: "<speak>二回目は無視するよ。</speak>"})
	e, _ := newTestEngine(t, adapter, nil)
	ctx := context.Background()
	if err := e.HandleTranscript(ctx, "同じことを言う"); err != nil {
		t.Fatalf("first transcript: %v", err)
	}
	if err := e.HandleTranscript(ctx, "同じことを言う"); err != nil {
		t.Fatalf("second transcript: %v", err)
	}
	if adapter.Calls() != 1 {
		t.Fatalf("duplicate transcript must not start a turn, got %d calls", adapter.Calls())
	}
}

func TestApologyOnGenerationFailure(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{Err: errors.New("upstream 500")})
	e, synth := newTestEngine(t, adapter, nil)

	if err := e.HandleTranscript(context.Background(), "調子はどう？"); err != nil {
		t.Fatalf("handle transcript: %v", err)
	}
	spoken := synth.Spoken()
	if len(spoken) != 1 || spoken[0] != apologyFragment {
		t.Fatalf("expected the spoken apology, got %v", spoken)
	}
	if adapter.Calls() != 2 {
		t.Fatalf("expected one retry before giving up, got %d calls", adapter.Calls())
	}
}

func TestFollowupVoicesThought(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{Responses: []string{
		"<thought>ラーメンの話がしたい</thought>",
		"<speak>そういえば、ラーメンの話なんだけど。</speak>",
	}})
	e, synth := newTestEngine(t, adapter, nil)

	if err := e.HandleTranscript(context.Background(), "ねえ、何か話して"); err != nil {
		t.Fatalf("handle transcript: %v", err)
	}
	if adapter.Calls() != 2 {
		t.Fatalf("expected one follow-up generation, got %d calls", adapter.Calls())
	}
	spoken := synth.Spoken()
	if len(spoken) != 1 || spoken[0] != "そういえば、ラーメンの話なんだけど。" {
		t.Fatalf("expected the voiced thought, got %v", spoken)
	}
	if opts := adapter.LastOptions(); !strings.Contains(opts.Directive, "声に出して") {
		t.Fatalf("follow-up directive should ask to voice the thought, got %q", opts.Directive)
	}
	msgs := adapter.LastMessages()
	if last := msgs[len(msgs)-1]; !strings.Contains(last.Content, "ラーメンの話がしたい") {
		t.Fatalf("follow-up should carry the unspoken thought, got %q", last.Content)
	}
}

func TestFollowupSkippedAfterToolCall(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{
		ResponseText: `<thought>調べてから話そう</thought><tool name="web_search" args="ねこ"/>`,
	})
	e, synth := newTestEngine(t, adapter, nil)

	if err := e.HandleTranscript(context.Background(), "ねこについて教えて"); err != nil {
		t.Fatalf("handle transcript: %v", err)
	}
	if adapter.Calls() != 1 {
		t.Fatalf("a tool-calling turn must not trigger a follow-up, got %d calls", adapter.Calls())
	}
	if spoken := synth.Spoken(); len(spoken) != 0 {
		t.Fatalf("expected silence while the tool result is pending, got %v", spoken)
	}
}

func TestFollowupFailureEndsSilently(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{
		Responses: []string{"<thought>言いそびれた</thought>"},
		Err:       errors.New("upstream timeout"),
		ErrAfter:  1,
	})
	e, synth := newTestEngine(t, adapter, nil)

	if err := e.HandleTranscript(context.Background(), "どうしたの？"); err != nil {
		t.Fatalf("handle transcript: %v", err)
	}
	if adapter.Calls() != 2 {
		t.Fatalf("expected the follow-up attempt, got %d calls", adapter.Calls())
	}
	if spoken := synth.Spoken(); len(spoken) != 0 {
		t.Fatalf("failed follow-up must end without speech, got %v", spoken)
	}
}

func TestSafetyRejectionAbortsTurn(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{ResponseText: "<speak>まずは普通の話。死ねとか言っちゃだめ。</speak>"})
	obs := &captureObserver{}
	e, synth := newTestEngine(t, adapter, obs)

	if err := e.HandleTranscript(context.Background(), "今日はどうだった？"); err != nil {
		t.Fatalf("handle transcript: %v", err)
	}
	ev, ok := obs.find("turn_complete")
	if !ok {
		t.Fatal("expected a turn_complete metric")
	}
	if ev.Tags["aborted"] != "true" {
		t.Fatalf("expected the turn marked aborted, got %v", ev.Tags)
	}
	for _, s := range synth.Spoken() {
		if strings.Contains(s, "死ね") {
			t.Fatalf("rejected content must never reach synthesis: %q", s)
		}
	}
}

func TestCommentDrivesReaction(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{ResponseText: "<speak>コメントありがとう。</speak>"})
	e, synth := newTestEngine(t, adapter, nil)
	e.ctx = context.Background()

	// Drop sass to zero so the director cannot ignore the comment.
	for i := 0; i < 8; i++ {
		e.state.Update(0, persona.EventGotReaction)
	}
	e.HandleComment("viewer1", "配信楽しい！")
	e.maybeAct()

	deadline := time.Now().Add(5 * time.Second)
	for adapter.Calls() == 0 || e.lock.Held() {
		if time.Now().After(deadline) {
			t.Fatal("reaction turn never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	msgs := adapter.LastMessages()
	last := msgs[len(msgs)-1]
	if !strings.Contains(last.Content, "viewer1") || !strings.Contains(last.Content, "配信楽しい！") {
		t.Fatalf("comment should be the user input, got %q", last.Content)
	}
	spoken := synth.Spoken()
	if len(spoken) != 1 || spoken[0] != "コメントありがとう。" {
		t.Fatalf("unexpected speech: %v", spoken)
	}
	e.mu.Lock()
	pending := len(e.comments)
	e.mu.Unlock()
	if pending != 0 {
		t.Fatalf("comment should be consumed, %d left", pending)
	}
}

func TestCommentEventAppliedOnce(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{ResponseText: "<speak>コメント読んだよ。</speak>"})
	e, _ := newTestEngine(t, adapter, nil)
	e.ctx = context.Background()

	// Build boredom, then bleed sass to zero so the director cannot
	// skip the comment.
	e.state.Update(60*time.Second, "")
	for i := 0; i < 6; i++ {
		e.state.Update(0, persona.EventGotReaction)
	}
	e.HandleComment("viewer2", "ただいま")
	if boredom, _, _, _ := e.state.Snapshot(); math.Abs(boredom-0.1) > 1e-9 {
		t.Fatalf("one comment should drop boredom to 0.1, got %f", boredom)
	}

	e.maybeAct()
	deadline := time.Now().Add(5 * time.Second)
	for adapter.Calls() == 0 || e.lock.Held() {
		if time.Now().After(deadline) {
			t.Fatal("reaction turn never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	boredom, _, _, _ := e.state.Snapshot()
	if math.Abs(boredom-0.05) > 1e-9 {
		t.Fatalf("reacting must not apply the comment event again, got boredom %f", boredom)
	}
}

func TestAssembleContextRecallsMemoryAndTools(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{})
	e, _ := newTestEngine(t, adapter, nil)
	ctx := context.Background()

	if err := e.store.AddTurn(ctx, "ねこを飼い始めた", "いいなあ、ねこ"); err != nil {
		t.Fatalf("add turn: %v", err)
	}
	e.dispatcher.Dispatch(ctx, events.ToolCall{Name: "missing_tool"})

	msgs := e.assembleContext(ctx, "ねこの名前を決めたよ")
	system := msgs[0].Content
	if !strings.Contains(system, "関連する記憶:") {
		t.Fatalf("expected recalled memory in system prompt, got %q", system)
	}
	if !strings.Contains(system, "ツールの実行結果:") {
		t.Fatalf("expected tool output in system prompt, got %q", system)
	}
	if msgs[len(msgs)-1].Content != "ねこの名前を決めたよ" {
		t.Fatal("user input should close the message list")
	}
	if e.dispatcher.Pending() {
		t.Fatal("assembling context should drain tool output")
	}
}

func TestHistoryBounded(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{ResponseText: "<speak>わかったよ。</speak>"})
	e, _ := newTestEngine(t, adapter, nil)
	ctx := context.Background()
	for i := 0; i < maxHistory; i++ {
		plan := persona.Plan{Mode: persona.ActionReact, MaxTokens: 50}
		e.executeTurn(ctx, "また話しかける", plan)
	}
	e.mu.Lock()
	historyLen := len(e.history)
	e.mu.Unlock()
	if historyLen != maxHistory {
		t.Fatalf("history should cap at %d, got %d", maxHistory, historyLen)
	}
}
