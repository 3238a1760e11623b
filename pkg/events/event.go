package events

// Type identifies the variant of a stream event.
type Type string

const (
	TypeSpeech  Type = "speech"
	TypeThought Type = "thought"
	TypeWait    Type = "wait"
	TypeTool    Type = "tool"
	TypeEnd     Type = "end"
)

// Event is one typed action decoded from the model's tagged output stream.
// Events are produced in stream order; exactly one End is emitted per turn.
type Event interface {
	Type() Type
}

// SpeechSegment is a single speakable sentence extracted from <speak> content.
type SpeechSegment struct {
	Text string
}

func (SpeechSegment) Type() Type { return TypeSpeech }

// Thought is internal monologue the persona keeps to itself.
type Thought struct {
	Text string
}

func (Thought) Type() Type { return TypeThought }

// Wait asks the executor to stay silent for a number of seconds.
type Wait struct {
	Seconds float64
}

func (Wait) Type() Type { return TypeWait }

// ToolCall requests execution of a registered tool with free-form args.
type ToolCall struct {
	Name string
	Args string
}

func (ToolCall) Type() Type { return TypeTool }

// End terminates the event stream for a turn.
type End struct{}

func (End) Type() Type { return TypeEnd }
