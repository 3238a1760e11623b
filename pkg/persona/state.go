package persona

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Mood is the coarse emotional register derived from the core state
// values. It shifts speech patterns and the director's choices.
type Mood string

const (
	MoodEnergetic Mood = "energetic"
	MoodChill     Mood = "chill"
	MoodSassy     Mood = "sassy"
	MoodBored     Mood = "bored"
	MoodCurious   Mood = "curious"
)

// Event marks something that happened to the persona and nudges the
// core state values.
type Event string

const (
	EventCommentReceived Event = "comment_received"
	EventSpoke           Event = "spoke"
	EventBoke            Event = "boke"
	EventTopicChange     Event = "topic_change"
	EventGotReaction     Event = "got_reaction"
	EventMonologue       Event = "monologue"
)

const maxRememberedTopics = 10

// State tracks the persona's internal condition: boredom, energy,
// sass and focus, each clamped to [0,1] (energy and focus keep a
// floor so the persona never fully flatlines). Time passing and
// events move the values; Mood is recomputed after every update.
type State struct {
	mu sync.Mutex

	boredom float64
	energy  float64
	sass    float64
	focus   float64
	mood    Mood

	currentTopic    string
	topicStart      time.Time
	topicsDiscussed []string

	lastBoke            time.Time
	lastInteraction     time.Time
	lastCommentReaction time.Time

	consecutiveMonologues int

	now func() time.Time
	rng *rand.Rand
}

func NewState() *State {
	return newState(time.Now, rand.New(rand.NewSource(time.Now().UnixNano())))
}

func newState(now func() time.Time, rng *rand.Rand) *State {
	return &State{
		boredom:         0.0,
		energy:          0.7,
		sass:            0.3,
		focus:           0.5,
		mood:            MoodChill,
		topicStart:      now(),
		lastInteraction: now(),
		now:             now,
		rng:             rng,
	}
}

// Update applies natural drift for the elapsed time, then the event
// if any, then recomputes the mood.
func (s *State) Update(elapsed time.Duration, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secs := elapsed.Seconds()
	s.boredom = min1(s.boredom + secs*0.005)
	s.energy = maxf(0.2, s.energy-secs*0.002)
	s.focus = maxf(0.1, s.focus-secs*0.003)

	// Staying on one topic too long breeds boredom.
	if s.now().Sub(s.topicStart) > 2*time.Minute {
		s.boredom = min1(s.boredom + 0.1)
		s.focus = maxf(0.1, s.focus-0.1)
	}

	if event != "" {
		s.handleEvent(event)
	}
	s.updateMood()
}

func (s *State) handleEvent(event Event) {
	switch event {
	case EventCommentReceived:
		s.energy = min1(s.energy + 0.15)
		s.boredom = maxf(0, s.boredom-0.2)
		s.lastCommentReaction = s.now()
		s.consecutiveMonologues = 0
	case EventSpoke:
		s.boredom = maxf(0, s.boredom-0.05)
		s.lastInteraction = s.now()
	case EventBoke:
		s.energy = min1(s.energy + 0.2)
		s.boredom = maxf(0, s.boredom-0.3)
		s.lastBoke = s.now()
		s.sass = min1(s.sass + 0.1)
	case EventTopicChange:
		s.focus = min1(s.focus + 0.3)
		s.boredom = maxf(0, s.boredom-0.15)
		s.topicStart = s.now()
	case EventGotReaction:
		s.energy = min1(s.energy + 0.1)
		s.sass = maxf(0, s.sass-0.05)
	case EventMonologue:
		s.consecutiveMonologues++
		if s.consecutiveMonologues > 3 {
			s.boredom = min1(s.boredom + 0.2)
		}
	}
}

// Mood resolution order matters: boredom dominates, then sass, then
// energy, then focus.
func (s *State) updateMood() {
	switch {
	case s.boredom > 0.7:
		s.mood = MoodBored
	case s.sass > 0.6:
		s.mood = MoodSassy
	case s.energy > 0.7:
		s.mood = MoodEnergetic
	case s.focus > 0.6:
		s.mood = MoodCurious
	default:
		s.mood = MoodChill
	}
}

// ChangeTopic switches the current topic, remembering the old one in
// a bounded history.
func (s *State) ChangeTopic(topic string) {
	s.mu.Lock()
	if s.currentTopic != "" && s.currentTopic != topic {
		s.topicsDiscussed = append(s.topicsDiscussed, s.currentTopic)
		if len(s.topicsDiscussed) > maxRememberedTopics {
			s.topicsDiscussed = s.topicsDiscussed[1:]
		}
	}
	s.currentTopic = topic
	s.topicStart = s.now()
	s.handleEvent(EventTopicChange)
	s.updateMood()
	s.mu.Unlock()
}

// ShouldBoke decides whether a spontaneous gag is due. Never within
// 30 seconds of the previous one; otherwise the chance grows with
// boredom and with loss of focus.
func (s *State) ShouldBoke() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.now().Sub(s.lastBoke) < 30*time.Second {
		return false
	}
	chance := s.boredom*0.4 + (1-s.focus)*0.3
	return s.rng.Float64() < chance
}

func (s *State) ShouldChangeTopic() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.now().Sub(s.topicStart) > 2*time.Minute {
		return true
	}
	if s.focus < 0.3 && s.boredom > 0.5 {
		return s.rng.Float64() < 0.3
	}
	return false
}

// TemperatureModifier shifts the sampling temperature: boredom raises
// it, focus lowers it, low energy raises it slightly.
func (s *State) TemperatureModifier() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.temperatureModifierLocked()
}

func (s *State) temperatureModifierLocked() float64 {
	return s.boredom*0.2 - s.focus*0.1 + (1-s.energy)*0.1
}

func (s *State) Mood() Mood {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mood
}

func (s *State) CurrentTopic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTopic
}

// Snapshot returns the core values for logging and tests.
func (s *State) Snapshot() (boredom, energy, sass, focus float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boredom, s.energy, s.sass, s.focus
}

func (s *State) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("[State] mood=%s, boredom=%.2f, energy=%.2f, sass=%.2f, focus=%.2f",
		s.mood, s.boredom, s.energy, s.sass, s.focus)
}

// PromptHint renders the internal state as a short Japanese hint for
// the model.
func (s *State) PromptHint() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hints []string
	switch s.mood {
	case MoodBored:
		hints = append(hints, "今かなり暇。何か面白いことしたい")
	case MoodSassy:
		hints = append(hints, "ちょっとイジワル気分")
	case MoodEnergetic:
		hints = append(hints, "テンション高め")
	case MoodCurious:
		hints = append(hints, "何かに興味津々")
	}
	if s.consecutiveMonologues > 2 {
		hints = append(hints, "独り言が続いてる。誰かと話したい")
	}
	if s.boredom > 0.6 {
		hints = append(hints, "同じ話題に飽きてきた")
	}
	return strings.Join(hints, "、")
}

func (s *State) recentTopics(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.topicsDiscussed) <= n {
		out := make([]string, len(s.topicsDiscussed))
		copy(out, s.topicsDiscussed)
		return out
	}
	out := make([]string, n)
	copy(out, s.topicsDiscussed[len(s.topicsDiscussed)-n:])
	return out
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

func maxf(floor, v float64) float64 {
	if v < floor {
		return floor
	}
	return v
}
