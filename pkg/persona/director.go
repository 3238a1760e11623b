package persona

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// ActionMode is the kind of behavior the director picked for the next
// turn.
type ActionMode string

const (
	ActionReact     ActionMode = "react"
	ActionMonologue ActionMode = "monologue"
	ActionBoke      ActionMode = "boke"
	ActionTease     ActionMode = "tease"
	ActionWait      ActionMode = "wait"
)

// Plan carries the director's decision plus the generation settings
// the turn should use.
type Plan struct {
	Mode        ActionMode
	Directive   string
	Temperature float64
	MaxTokens   int
	Priority    int
	TopicHint   string
}

// TurnContext is the external situation the director weighs.
type TurnContext struct {
	HasComments  bool
	CommentCount int
	IdleTime     time.Duration
}

var bokePatterns = []string{
	"突然全く関係ない疑問を口に出す",
	"さっき言ったことと矛盾することを自信満々に言う",
	"明らかに間違った豆知識を披露する",
	"急に哲学的なことを言い出す",
	"唐突に自分の失敗談を思い出す",
	"何かを思い出しかけて忘れる",
}

var teasePatterns = []string{
	"視聴者が少ないことをいじる",
	"コメントの内容に突っ込む",
	"視聴者に無茶振りする",
	"自分の方が詳しいアピールをする（でも間違ってる）",
}

var monologueSeeds = []string{
	"最近ハマってること",
	"昨日見た夢の話",
	"今欲しいものの話",
	"最近気づいたこと",
	"ふと思い出した昔の話",
	"今の気分",
	"さっき食べたもの/これから食べたいもの",
	"推しの話",
	"最近見たコンテンツの感想",
}

const maxRecentActions = 10

// Director turns the persona's state and the stream context into the
// next action. Decision order: react to comments (unless sass makes
// it ignore them), boke when overdue, tease when sassy, wait when the
// last utterance was recent, change topic when stale, else monologue.
type Director struct {
	mu            sync.Mutex
	recentActions []ActionMode
	lastAction    time.Time

	now func() time.Time
	rng *rand.Rand
}

func NewDirector() *Director {
	return newDirector(time.Now, rand.New(rand.NewSource(time.Now().UnixNano())))
}

func newDirector(now func() time.Time, rng *rand.Rand) *Director {
	return &Director{now: now, rng: rng, lastAction: now()}
}

func (d *Director) DecideAction(state *State, tc TurnContext) Plan {
	d.mu.Lock()
	rng := d.rng
	d.mu.Unlock()

	if tc.HasComments {
		_, _, sass, _ := state.Snapshot()
		// High sass occasionally ignores the chat on purpose; at zero
		// sass the comment is never skipped.
		if rng.Float64() >= sass*0.3 {
			return d.planReact(state)
		}
	}
	if state.ShouldBoke() {
		return d.planBoke(rng)
	}
	if state.Mood() == MoodSassy && rng.Float64() < 0.4 {
		return d.planTease(rng)
	}
	if tc.IdleTime < 5*time.Second {
		return Plan{Mode: ActionWait, Priority: -1}
	}
	if state.ShouldChangeTopic() {
		return d.planTopicChange(state, rng)
	}
	return d.planMonologue(state)
}

func (d *Director) planReact(state *State) Plan {
	var directive string
	temperature := 0.7
	switch state.Mood() {
	case MoodSassy:
		directive = "コメントに反応。ちょっとだけいじりつつ返事して。"
		temperature = 0.8
	case MoodBored:
		directive = "コメントに反応。ダルそうに、でも嬉しそうに。"
	case MoodEnergetic:
		directive = "コメントに反応！テンション高めでリアクション！"
		temperature = 0.8
	default:
		directive = "コメントに自然に反応して。"
	}
	return Plan{
		Mode:        ActionReact,
		Directive:   directive,
		Temperature: temperature + state.TemperatureModifier(),
		MaxTokens:   100,
		Priority:    10,
	}
}

func (d *Director) planBoke(rng *rand.Rand) Plan {
	pattern := bokePatterns[rng.Intn(len(bokePatterns))]
	return Plan{
		Mode:        ActionBoke,
		Directive:   fmt.Sprintf("[ボケモード] %s。脈絡なくていい。", pattern),
		Temperature: 0.95,
		MaxTokens:   80,
		Priority:    5,
	}
}

func (d *Director) planTease(rng *rand.Rand) Plan {
	pattern := teasePatterns[rng.Intn(len(teasePatterns))]
	return Plan{
		Mode:        ActionTease,
		Directive:   fmt.Sprintf("[いじりモード] %s。でも愛を持って。", pattern),
		Temperature: 0.85,
		MaxTokens:   100,
		Priority:    3,
	}
}

func (d *Director) planTopicChange(state *State, rng *rand.Rand) Plan {
	recent := state.recentTopics(3)
	var available []string
	for _, seed := range monologueSeeds {
		if !contains(recent, seed) {
			available = append(available, seed)
		}
	}
	if len(available) == 0 {
		available = monologueSeeds
	}
	seed := available[rng.Intn(len(available))]
	return Plan{
		Mode:        ActionMonologue,
		Directive:   fmt.Sprintf("「%s」について急に話し始める。前の話題からの繋がりは不要。", seed),
		Temperature: 0.75 + state.TemperatureModifier(),
		MaxTokens:   150,
		Priority:    4,
		TopicHint:   seed,
	}
}

func (d *Director) planMonologue(state *State) Plan {
	var base string
	switch state.Mood() {
	case MoodBored:
		base = "何か話したいけど特に話題がない。暇を持て余してる感じで。"
	case MoodEnergetic:
		base = "何か楽しいことを話したい！テンション高めで。"
	case MoodCurious:
		base = "何か気になることを深掘りする。"
	default:
		base = "自然に何か話す。"
	}
	directive := base
	if topic := state.CurrentTopic(); topic != "" {
		directive = fmt.Sprintf("%s今の話題「%s」に関連して。", base, topic)
	}
	if hint := state.PromptHint(); hint != "" {
		directive += fmt.Sprintf(" (内心: %s)", hint)
	}
	return Plan{
		Mode:        ActionMonologue,
		Directive:   directive,
		Temperature: 0.7 + state.TemperatureModifier(),
		MaxTokens:   150,
		Priority:    1,
	}
}

// RecordAction remembers what was done, bounding the history.
func (d *Director) RecordAction(plan Plan) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recentActions = append(d.recentActions, plan.Mode)
	if len(d.recentActions) > maxRecentActions {
		d.recentActions = d.recentActions[1:]
	}
	d.lastAction = d.now()
}

// VarietyScore reports how varied the last few actions were, 0 to 1.
func (d *Director) VarietyScore() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.recentActions) < 3 {
		return 1.0
	}
	window := d.recentActions
	if len(window) > 5 {
		window = window[len(window)-5:]
	}
	unique := make(map[ActionMode]struct{}, len(window))
	for _, a := range window {
		unique[a] = struct{}{}
	}
	return float64(len(unique)) / 5.0
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
