package kotoba

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kotoba-live/kotoba/pkg/adapters/stt"
	"github.com/kotoba-live/kotoba/pkg/adapters/tts"
	"github.com/kotoba-live/kotoba/pkg/errorsx"
	"github.com/kotoba-live/kotoba/pkg/events"
	"github.com/kotoba-live/kotoba/pkg/gate"
	"github.com/kotoba-live/kotoba/pkg/llm"
	"github.com/kotoba-live/kotoba/pkg/logging"
	"github.com/kotoba-live/kotoba/pkg/memory"
	"github.com/kotoba-live/kotoba/pkg/metrics"
	"github.com/kotoba-live/kotoba/pkg/parser"
	"github.com/kotoba-live/kotoba/pkg/persona"
	"github.com/kotoba-live/kotoba/pkg/resilience"
	"github.com/kotoba-live/kotoba/pkg/runner"
	"github.com/kotoba-live/kotoba/pkg/segment"
	"github.com/kotoba-live/kotoba/pkg/speech"
	"github.com/kotoba-live/kotoba/pkg/tools"
	"github.com/kotoba-live/kotoba/pkg/turn"
)

const (
	maxHistory        = 24
	apologyFragment   = "ごめん、ちょっと調子悪いかも。"
	maxWaitSeconds    = 10.0
	followupDirective = "さっき心の中で考えてたことを、そのまま声に出して話して。"
)

// Comment is one viewer chat message waiting for a reaction.
type Comment struct {
	User string
	Text string
}

// EngineOptions wires the engine's collaborators. Adapter and
// Synthesizer are required; everything else degrades gracefully when
// absent.
type EngineOptions struct {
	Config      Config
	Adapter     llm.StreamAdapter
	Synthesizer tts.Synthesizer
	Recognizer  stt.Recognizer
	Player      speech.Player
	Avatar      speech.AvatarChannel
	Memory      memory.Store
	Tools       *tools.Registry
	Observer    metrics.Observer
}

// Engine runs the autonomous speaking loop: it watches the persona
// state, asks the director what to do, generates a response, parses
// the tagged stream and speaks it sentence by sentence. Exactly one
// turn runs at a time; user speech interrupts the current one.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	adapter llm.StreamAdapter
	synth   tts.Synthesizer
	stt     stt.Recognizer
	player  speech.Player
	avatar  speech.AvatarChannel

	safety      *gate.SafetyGate
	personaGate *gate.PersonaGate
	state       *persona.State
	director    *persona.Director

	store      memory.Store
	summarizer *memory.Summarizer
	registry   *tools.Registry
	dispatcher *tools.Dispatcher

	lock      *turn.Lock
	interrupt *turn.Interrupt
	fsm       *turn.Machine
	obs       metrics.Observer
	breaker   *resilience.CircuitBreaker
	retry     resilience.RetryPolicy

	mu             sync.Mutex
	history        []llm.Message
	comments       []Comment
	lastTranscript string
	lastSpokeAt    time.Time
	lastUpdate     time.Time
	runState       runner.State

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("kotoba: llm adapter is required")
	}
	if opts.Synthesizer == nil {
		return nil, fmt.Errorf("kotoba: tts synthesizer is required")
	}
	cfg := opts.Config
	logging.SetDefault(cfg.LogLevel, cfg.LogFormat)
	logger := logging.NewComponentLogger(slog.Default(), "engine")

	obs := opts.Observer
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	store := opts.Memory
	if store == nil {
		store = memory.NewVectorStore(nil)
	}
	registry := opts.Tools
	if registry == nil {
		registry = tools.NewRegistry()
	}

	interrupt := turn.NewInterrupt()
	e := &Engine{
		cfg:         cfg,
		logger:      logger,
		adapter:     opts.Adapter,
		synth:       opts.Synthesizer,
		stt:         opts.Recognizer,
		player:      opts.Player,
		avatar:      opts.Avatar,
		safety:      gate.NewSafetyGate(nil, slog.Default()),
		personaGate: gate.NewPersonaGate(slog.Default()),
		state:       persona.NewState(),
		director:    persona.NewDirector(),
		store:       store,
		registry:    registry,
		lock:        turn.NewLock(),
		interrupt:   interrupt,
		fsm:         turn.NewMachine(time.Duration(cfg.Turn.BargeInThresholdMS)*time.Millisecond, interrupt),
		obs:         obs,
		lastSpokeAt: time.Now(),
		lastUpdate:  time.Now(),
		runState:    runner.StateNew,
		done:        make(chan struct{}),
	}
	e.breaker = resilience.NewCircuitBreaker(cfg.Resilience.BreakerThreshold,
		time.Duration(cfg.Resilience.BreakerCooldownMS)*time.Millisecond)
	e.retry = resilience.NewRetryPolicy(cfg.Resilience.MaxRetries,
		time.Duration(cfg.Resilience.RetryBackoffMS)*time.Millisecond)
	e.dispatcher = tools.NewDispatcher(registry, store, obs)
	if cfg.Memory.SummaryEnabled {
		e.summarizer = memory.NewSummarizer(opts.Adapter, store)
	}
	return e, nil
}

// Run drives the idle loop until the context is cancelled. When
// nothing else is happening the director decides what the persona
// does next.
func (e *Engine) Run(ctx context.Context) error {
	e.setRunState(runner.StateStarting)
	e.ctx, e.cancel = context.WithCancel(ctx)
	defer close(e.done)

	e.logger.Info("engine started",
		slog.String("llm_provider", e.adapter.Name()),
		slog.String("tts_provider", e.synth.Name()))
	e.setRunState(runner.StateRunning)

	poll := time.Duration(e.cfg.Persona.IdlePollMS) * time.Millisecond
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			e.setRunState(runner.StateStopped)
			return e.ctx.Err()
		case <-ticker.C:
			e.tickPersona()
			e.maybeAct()
		}
	}
}

func (e *Engine) Stop() error {
	e.setRunState(runner.StateDraining)
	if e.cancel != nil {
		e.cancel()
	}
	select {
	case <-e.done:
	case <-time.After(e.drainTimeout()):
	}
	e.setRunState(runner.StateStopped)
	return nil
}

func (e *Engine) State() runner.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runState
}

func (e *Engine) setRunState(s runner.State) {
	e.mu.Lock()
	e.runState = s
	e.mu.Unlock()
}

// tickPersona applies time drift to the internal state.
func (e *Engine) tickPersona() {
	e.mu.Lock()
	elapsed := time.Since(e.lastUpdate)
	e.lastUpdate = time.Now()
	e.mu.Unlock()
	e.state.Update(elapsed, "")
}

// maybeAct asks the director for a plan and executes it if the turn
// lock is free. A busy lock means a turn is already running; the
// director gets another chance on the next tick.
func (e *Engine) maybeAct() {
	// Autonomous turns back off while the provider is rate limited;
	// reactive turns still go through so the persona stays responsive.
	if !e.breaker.Allow() {
		return
	}
	if !e.lock.TryAcquire() {
		return
	}
	release := true
	defer func() {
		if release {
			e.lock.Release()
		}
	}()

	e.mu.Lock()
	pending := len(e.comments)
	idle := time.Since(e.lastSpokeAt)
	e.mu.Unlock()

	plan := e.director.DecideAction(e.state, persona.TurnContext{
		HasComments:  pending > 0,
		CommentCount: pending,
		IdleTime:     idle,
	})
	if plan.Mode == persona.ActionWait {
		return
	}
	e.director.RecordAction(plan)

	input := ""
	if plan.Mode == persona.ActionReact {
		// The comment event already hit the state when it was queued.
		if c, ok := e.popComment(); ok {
			input = fmt.Sprintf("%s: %s", c.User, c.Text)
		}
	}
	if plan.TopicHint != "" {
		e.state.ChangeTopic(plan.TopicHint)
	}

	release = false
	go func() {
		defer e.lock.Release()
		e.executeTurn(e.ctx, input, plan)
	}()
}

// HandleTranscript reacts to recognized user speech. It interrupts
// any turn in flight, waits for the lock and answers.
func (e *Engine) HandleTranscript(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if len([]rune(text)) < e.minTranscriptChars() {
		e.logger.Debug("transcript too short, ignoring", slog.String("text", text))
		return nil
	}
	e.mu.Lock()
	if text == e.lastTranscript {
		e.mu.Unlock()
		e.logger.Debug("duplicate transcript, ignoring", slog.String("text", text))
		return nil
	}
	e.lastTranscript = text
	e.mu.Unlock()

	// Barge-in: stop the current turn before answering.
	e.fsm.OnUserSpeech(time.Duration(e.cfg.Turn.BargeInThresholdMS+1) * time.Millisecond)
	if err := e.lock.Acquire(ctx); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTurnBusy)
	}
	defer e.lock.Release()

	e.state.Update(0, persona.EventCommentReceived)
	plan := persona.Plan{
		Mode:        persona.ActionReact,
		Directive:   "ユーザーの発言に自然に返事して。",
		Temperature: 0.7 + e.state.TemperatureModifier(),
		MaxTokens:   150,
	}
	e.executeTurn(ctx, text, plan)
	return nil
}

// HandleAudio transcribes captured PCM and feeds the transcript in.
func (e *Engine) HandleAudio(ctx context.Context, pcm []byte) error {
	if e.stt == nil {
		return fmt.Errorf("kotoba: no recognizer configured")
	}
	text, err := e.stt.Transcribe(ctx, pcm)
	if err != nil {
		return err
	}
	return e.HandleTranscript(ctx, text)
}

// HandleComment queues a viewer comment for the director to react to.
func (e *Engine) HandleComment(user, text string) {
	e.mu.Lock()
	e.comments = append(e.comments, Comment{User: user, Text: text})
	e.mu.Unlock()
	e.state.Update(0, persona.EventCommentReceived)
}

func (e *Engine) popComment() (Comment, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.comments) == 0 {
		return Comment{}, false
	}
	c := e.comments[0]
	e.comments = e.comments[1:]
	return c, true
}

// executeTurn runs one full generation: assemble context, stream the
// model output through the parser, speak the segments and settle the
// persona state afterwards. The caller must hold the turn lock.
func (e *Engine) executeTurn(ctx context.Context, input string, plan persona.Plan) {
	turnID := uuid.NewString()
	logger := e.logger.With(slog.String("turn_id", turnID), slog.String("mode", string(plan.Mode)))
	start := time.Now()

	e.interrupt.Clear()
	_ = e.fsm.Transition(turn.StateThinking, "turn_start")

	pipe := speech.NewPipeline(e.synth, e.player, e.avatar, e.interrupt, speech.Config{
		QueueSize:    e.cfg.Speech.QueueSize,
		PollInterval: time.Duration(e.cfg.Speech.PollIntervalMS) * time.Millisecond,
		LipSync:      e.cfg.Speech.LipSync,
	}, e.obs, slog.Default())
	pipe.Start(ctx)

	messages := e.assembleContext(ctx, input)
	p := parser.New(segment.Config{
		MinLen: e.cfg.Speech.MinSegmentLen,
		MaxLen: e.cfg.Speech.MaxSegmentLen,
	}, e.safety, e.personaGate, slog.Default())

	result := e.streamTurn(ctx, logger, pipe, p, messages, plan)

	// Thought with no speech and no tool call: the persona trailed off
	// thinking. Ask it once to say the thought out loud.
	if !result.aborted && !result.failed && !result.sawSpeech && result.sawThought && !result.sawTool {
		logger.Info("turn produced thought but no speech, requesting follow-up")
		e.followUp(ctx, logger, pipe, messages, plan, result)
	}

	pipe.CloseInput()
	if err := pipe.Wait(e.drainTimeout()); err != nil {
		logger.Warn("playback drain incomplete", slog.String("error", err.Error()))
	}
	_ = e.fsm.Transition(turn.StateIdle, "turn_end")

	e.settleTurn(ctx, input, plan, result)

	e.obs.RecordEvent(metrics.MetricsEvent{
		Name:  "turn_complete",
		Time:  time.Now(),
		Value: time.Since(start).Seconds(),
		Tags: map[string]string{
			"turn_id": turnID,
			"mode":    string(plan.Mode),
			"aborted": fmt.Sprintf("%t", result.aborted),
		},
	})
}

type turnResult struct {
	response    strings.Builder
	lastThought string
	sawSpeech   bool
	sawThought  bool
	sawTool     bool
	aborted     bool
	failed      bool
}

func (e *Engine) streamTurn(ctx context.Context, logger *slog.Logger, pipe *speech.Pipeline, p *parser.Parser, messages []llm.Message, plan persona.Plan) *turnResult {
	res := &turnResult{}

	var stream <-chan string
	err := e.retry.Do(func() error {
		var streamErr error
		stream, streamErr = e.adapter.Stream(ctx, messages, llm.Options{
			Directive:   plan.Directive,
			Temperature: plan.Temperature,
			MaxTokens:   plan.MaxTokens,
		})
		return streamErr
	})
	if err != nil {
		e.breaker.OnError(err)
		logger.Error("generation failed", slog.String("error", err.Error()))
		res.failed = true
		// The apology is spoken as a normal utterance; the show goes on.
		if speakErr := pipe.Speak(ctx, apologyFragment); speakErr == nil {
			res.sawSpeech = true
		}
		return res
	}
	e.breaker.OnSuccess()

	_ = e.fsm.Transition(turn.StateSpeaking, "stream_open")
	e.consumeStream(ctx, logger, pipe, p, stream, res)
	return res
}

// followUp issues one corrective generation asking the persona to
// voice its unspoken thought. A failure here is logged and the turn
// ends without speech.
func (e *Engine) followUp(ctx context.Context, logger *slog.Logger, pipe *speech.Pipeline, messages []llm.Message, plan persona.Plan, res *turnResult) {
	followMessages := make([]llm.Message, len(messages), len(messages)+1)
	copy(followMessages, messages)
	followMessages = append(followMessages, llm.Message{
		Role:    llm.RoleAssistant,
		Content: fmt.Sprintf("（心の中で: %s）", res.lastThought),
	})

	stream, err := e.adapter.Stream(ctx, followMessages, llm.Options{
		Directive:   followupDirective,
		Temperature: plan.Temperature,
		MaxTokens:   plan.MaxTokens,
	})
	if err != nil {
		logger.Warn("follow-up generation failed", slog.String("error", err.Error()))
		return
	}
	p := parser.New(segment.Config{
		MinLen: e.cfg.Speech.MinSegmentLen,
		MaxLen: e.cfg.Speech.MaxSegmentLen,
	}, e.safety, e.personaGate, slog.Default())
	e.consumeStream(ctx, logger, pipe, p, stream, res)
}

// consumeStream pushes the model output through the parser until the
// stream closes or the turn aborts.
func (e *Engine) consumeStream(ctx context.Context, logger *slog.Logger, pipe *speech.Pipeline, p *parser.Parser, stream <-chan string, res *turnResult) {
	for chunk := range stream {
		if e.interrupt.IsSet() {
			logger.Info("turn interrupted mid-stream")
			res.aborted = true
			// Drain the remaining chunks so the adapter goroutine exits.
			for range stream {
			}
			return
		}
		evs, err := p.Feed(chunk)
		if !e.handleEvents(ctx, logger, pipe, evs, res) {
			res.aborted = true
			for range stream {
			}
			return
		}
		if err != nil {
			if errors.Is(err, parser.ErrSafetyReject) {
				logger.Warn("turn aborted by safety gate", slog.String("error", err.Error()))
				e.interrupt.Set()
				res.aborted = true
				for range stream {
				}
				return
			}
			logger.Error("parse error", slog.String("error", err.Error()))
		}
	}

	evs, err := p.Close()
	if err != nil && errors.Is(err, parser.ErrSafetyReject) {
		logger.Warn("turn aborted by safety gate at close")
		e.interrupt.Set()
		res.aborted = true
		return
	}
	e.handleEvents(ctx, logger, pipe, evs, res)
}

// handleEvents dispatches parsed events. Returns false when the turn
// should stop.
func (e *Engine) handleEvents(ctx context.Context, logger *slog.Logger, pipe *speech.Pipeline, evs []events.Event, res *turnResult) bool {
	for _, ev := range evs {
		switch v := ev.(type) {
		case events.SpeechSegment:
			res.response.WriteString(v.Text)
			if err := pipe.Speak(ctx, v.Text); err != nil {
				logger.Warn("speak failed", slog.String("error", err.Error()))
				return false
			}
			res.sawSpeech = true
		case events.Thought:
			res.sawThought = true
			res.lastThought = v.Text
			logger.Debug("thought", slog.String("text", v.Text))
		case events.Wait:
			secs := v.Seconds
			if secs > maxWaitSeconds {
				secs = maxWaitSeconds
			}
			select {
			case <-time.After(time.Duration(secs * float64(time.Second))):
			case <-ctx.Done():
				return false
			}
		case events.ToolCall:
			res.sawTool = true
			e.dispatcher.Dispatch(ctx, v)
		case events.End:
		}
		if e.interrupt.IsSet() {
			return false
		}
	}
	return true
}

// assembleContext builds the message list: base prompt with the
// persona hint, recalled memories, pending tool output, then rolling
// history and finally the user input.
func (e *Engine) assembleContext(ctx context.Context, input string) []llm.Message {
	var system strings.Builder
	system.WriteString(e.cfg.BasePrompt)
	if hint := e.state.PromptHint(); hint != "" {
		system.WriteString("\n\n今の気分: ")
		system.WriteString(hint)
	}

	query := input
	if query == "" {
		query = e.state.CurrentTopic()
	}
	if query != "" {
		k := e.cfg.Memory.SearchResults
		if k <= 0 {
			k = 3
		}
		if recalled, err := e.store.Search(ctx, query, k); err == nil && recalled != "" {
			system.WriteString("\n\n関連する記憶:\n- ")
			system.WriteString(recalled)
		}
	}
	if outputs := e.dispatcher.Drain(); len(outputs) > 0 {
		system.WriteString("\n\nツールの実行結果:\n")
		for _, out := range outputs {
			system.WriteString("- ")
			system.WriteString(out)
			system.WriteString("\n")
		}
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: system.String()}}
	e.mu.Lock()
	messages = append(messages, e.history...)
	e.mu.Unlock()
	if input != "" {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: input})
	}
	return messages
}

// settleTurn records what happened into history, memory and the
// persona state.
func (e *Engine) settleTurn(ctx context.Context, input string, plan persona.Plan, res *turnResult) {
	response := strings.TrimSpace(res.response.String())

	if res.sawSpeech {
		e.mu.Lock()
		e.lastSpokeAt = time.Now()
		e.mu.Unlock()
		e.state.Update(0, persona.EventSpoke)
	}
	switch plan.Mode {
	case persona.ActionBoke:
		e.state.Update(0, persona.EventBoke)
	case persona.ActionMonologue:
		e.state.Update(0, persona.EventMonologue)
	}

	if response == "" {
		return
	}
	e.mu.Lock()
	if input != "" {
		e.history = append(e.history, llm.Message{Role: llm.RoleUser, Content: input})
	}
	e.history = append(e.history, llm.Message{Role: llm.RoleAssistant, Content: response})
	if len(e.history) > maxHistory {
		e.history = e.history[len(e.history)-maxHistory:]
	}
	e.mu.Unlock()

	if input != "" {
		if err := e.store.AddTurn(ctx, input, response); err != nil {
			e.logger.Warn("memory write failed", slog.String("error", err.Error()))
		}
	}
	if e.summarizer != nil {
		if input != "" {
			e.summarizer.Observe(ctx, llm.Message{Role: llm.RoleUser, Content: input})
		}
		e.summarizer.Observe(ctx, llm.Message{Role: llm.RoleAssistant, Content: response})
	}
}

func (e *Engine) drainTimeout() time.Duration {
	if e.cfg.Turn.DrainTimeoutMS > 0 {
		return time.Duration(e.cfg.Turn.DrainTimeoutMS) * time.Millisecond
	}
	return 30 * time.Second
}

func (e *Engine) minTranscriptChars() int {
	if e.cfg.Turn.MinTranscriptChars > 0 {
		return e.cfg.Turn.MinTranscriptChars
	}
	return 3
}

var _ runner.Runner = (*Engine)(nil)
