package parser

import (
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/kotoba-live/kotoba/pkg/errorsx"
	"github.com/kotoba-live/kotoba/pkg/events"
	"github.com/kotoba-live/kotoba/pkg/gate"
	"github.com/kotoba-live/kotoba/pkg/logging"
	"github.com/kotoba-live/kotoba/pkg/segment"
)

// state is the parser's position in the tag grammar.
type state int

const (
	stateScanning state = iota
	stateInSpeak
	stateInThought
	stateInTool
	stateInWait
)

// maxTagLen bounds how long an unterminated "<" is held back before being
// treated as plain content. Keeps a stray angle bracket from stalling the
// stream forever.
const maxTagLen = 128

var attrPattern = regexp.MustCompile(`(\w+)\s*=\s*"([^"]*)"`)

// ErrSafetyReject aborts the whole turn, not just the offending segment.
var ErrSafetyReject = errors.New("speech segment rejected by safety gate")

// Parser incrementally classifies a model token stream into typed events
// using the four-tag grammar (speak, thought, wait, tool). Fragments may
// arrive at arbitrary granularity; a tag split across fragments is still
// recognized. Text outside any tag is silently dropped.
//
// Inside <speak>, complete sentences are emitted as soon as a boundary
// appears, without waiting for the closing tag. Each sentence passes the
// safety gate (a rejection fails the Feed call) and the persona gate
// (logged only).
type Parser struct {
	st        state
	buf       string
	openAttrs map[string]string
	content   strings.Builder
	splitter  *segment.StreamSplitter

	segCfg  segment.Config
	safety  *gate.SafetyGate
	persona *gate.PersonaGate
	logger  *slog.Logger
	done    bool
}

func New(segCfg segment.Config, safety *gate.SafetyGate, persona *gate.PersonaGate, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		st:      stateScanning,
		segCfg:  segCfg,
		safety:  safety,
		persona: persona,
		logger:  logging.NewComponentLogger(logger, "stream_parser"),
	}
}

// Feed consumes one fragment and returns every event completed by it, in
// stream order. A safety rejection returns ErrSafetyReject (wrapped with
// the gate's reason); the caller must abort the turn.
func (p *Parser) Feed(fragment string) ([]events.Event, error) {
	if p.done {
		return nil, nil
	}
	p.buf += fragment
	var out []events.Event
	for {
		progressed, evs, err := p.step()
		out = append(out, evs...)
		if err != nil {
			return out, err
		}
		if !progressed {
			return out, nil
		}
	}
}

// Close flushes whatever the stream left open and emits the terminal End.
func (p *Parser) Close() ([]events.Event, error) {
	if p.done {
		return nil, nil
	}
	p.done = true
	var out []events.Event
	// A held-back partial tag is plain content once the stream ends; a
	// dangling closer is still structure and stays dropped.
	if p.st != stateScanning && p.buf != "" && !strings.HasPrefix(p.buf, "</") {
		evs, err := p.consume(p.buf)
		p.buf = ""
		out = append(out, evs...)
		if err != nil {
			return out, err
		}
	}
	switch p.st {
	case stateInSpeak:
		evs, err := p.flushSpeak()
		out = append(out, evs...)
		if err != nil {
			return out, err
		}
	case stateInThought:
		if text := strings.TrimSpace(p.content.String()); text != "" {
			out = append(out, events.Thought{Text: text})
		}
	case stateInTool, stateInWait:
		p.logger.Debug("unterminated tag discarded at end of stream")
	}
	out = append(out, events.End{})
	return out, nil
}

// step makes at most one unit of progress against the buffer.
func (p *Parser) step() (bool, []events.Event, error) {
	if p.st == stateScanning {
		return p.scanTag()
	}
	return p.scanContent()
}

// scanTag looks for the next tag marker. Free text before it is dropped:
// the grammar assumes no text outside tags.
func (p *Parser) scanTag() (bool, []events.Event, error) {
	i := strings.IndexByte(p.buf, '<')
	if i < 0 {
		p.buf = ""
		return false, nil, nil
	}
	if i > 0 {
		p.buf = p.buf[i:]
	}
	j := strings.IndexByte(p.buf, '>')
	if j < 0 {
		if len(p.buf) > maxTagLen {
			p.buf = p.buf[1:]
			return true, nil, nil
		}
		return false, nil, nil
	}

	body := strings.TrimSpace(p.buf[1:j])
	p.buf = p.buf[j+1:]

	selfClosing := strings.HasSuffix(body, "/")
	if selfClosing {
		body = strings.TrimSpace(strings.TrimSuffix(body, "/"))
	}
	if strings.HasPrefix(body, "/") {
		// Stray closer with nothing open: structure already discarded.
		return true, nil, nil
	}

	name, attrText, _ := strings.Cut(body, " ")
	name = strings.ToLower(name)
	attrs := parseAttrs(attrText)

	switch name {
	case "wait":
		if selfClosing {
			return true, waitEvent(attrs), nil
		}
		p.open(stateInWait, attrs)
	case "tool":
		if selfClosing {
			return true, []events.Event{events.ToolCall{Name: attrs["name"], Args: attrs["args"]}}, nil
		}
		p.open(stateInTool, attrs)
	case "speak":
		p.open(stateInSpeak, attrs)
		p.splitter = segment.NewStreamSplitter(p.segCfg)
	case "thought":
		p.open(stateInThought, attrs)
	default:
		p.logger.Debug("unknown tag dropped", slog.String("tag", name))
	}
	return true, nil, nil
}

// scanContent consumes content of the open tag up to the next closer.
// Any closing tag forces the open tag shut, matched or not.
func (p *Parser) scanContent() (bool, []events.Event, error) {
	k := strings.IndexByte(p.buf, '<')
	if k < 0 {
		if p.buf == "" {
			return false, nil, nil
		}
		evs, err := p.consume(p.buf)
		p.buf = ""
		return false, evs, err
	}
	if k > 0 {
		evs, err := p.consume(p.buf[:k])
		p.buf = p.buf[k:]
		if err != nil {
			return false, evs, err
		}
		return true, evs, nil
	}

	j := strings.IndexByte(p.buf, '>')
	if j < 0 {
		if len(p.buf) > maxTagLen {
			evs, err := p.consume("<")
			p.buf = p.buf[1:]
			return true, evs, err
		}
		return false, nil, nil
	}

	body := strings.TrimSpace(p.buf[1:j])
	if !strings.HasPrefix(body, "/") {
		// An opening tag inside content is not part of the grammar;
		// treat the bracket as plain content and move on.
		evs, err := p.consume("<")
		p.buf = p.buf[1:]
		return true, evs, err
	}

	closer := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(body, "/")))
	if closer != p.openName() {
		p.logger.Warn("mismatched closing tag, forcing close",
			slog.String("open", p.openName()),
			slog.String("closer", closer))
	}
	p.buf = p.buf[j+1:]
	evs, err := p.closeCurrent()
	return true, evs, err
}

// consume routes raw content to the open tag's accumulator. Speak content
// goes straight into the streaming splitter so sentences surface early.
func (p *Parser) consume(text string) ([]events.Event, error) {
	if p.st == stateInSpeak {
		return p.emitSegments(p.splitter.Feed(text))
	}
	p.content.WriteString(text)
	return nil, nil
}

func (p *Parser) closeCurrent() ([]events.Event, error) {
	st := p.st
	attrs := p.openAttrs
	content := strings.TrimSpace(p.content.String())
	p.st = stateScanning
	p.openAttrs = nil
	p.content.Reset()

	switch st {
	case stateInSpeak:
		return p.flushSpeak()
	case stateInThought:
		if content == "" {
			return nil, nil
		}
		return []events.Event{events.Thought{Text: content}}, nil
	case stateInTool:
		args := attrs["args"]
		if args == "" {
			args = content
		}
		return []events.Event{events.ToolCall{Name: attrs["name"], Args: args}}, nil
	case stateInWait:
		return waitEvent(attrs), nil
	}
	return nil, nil
}

func (p *Parser) flushSpeak() ([]events.Event, error) {
	rest := p.splitter.Flush()
	p.splitter = nil
	p.st = stateScanning
	return p.emitSegments(rest)
}

func (p *Parser) emitSegments(sentences []string) ([]events.Event, error) {
	var out []events.Event
	for _, s := range sentences {
		if allowed, reason := p.safety.Check(s); !allowed {
			return out, errorsx.Wrap(
				&rejectError{reason: reason},
				errorsx.ReasonSafetyReject,
			)
		}
		if p.persona != nil {
			p.persona.Log(p.persona.Analyze(s), s)
		}
		out = append(out, events.SpeechSegment{Text: s})
	}
	return out, nil
}

func (p *Parser) open(st state, attrs map[string]string) {
	p.st = st
	p.openAttrs = attrs
	p.content.Reset()
}

func (p *Parser) openName() string {
	switch p.st {
	case stateInSpeak:
		return "speak"
	case stateInThought:
		return "thought"
	case stateInTool:
		return "tool"
	case stateInWait:
		return "wait"
	}
	return ""
}

// waitEvent builds a Wait from tag attributes. A wait with no usable time
// attribute is a no-op, not an error.
func waitEvent(attrs map[string]string) []events.Event {
	raw, ok := attrs["time"]
	if !ok {
		return nil
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || seconds < 0 {
		return nil
	}
	return []events.Event{events.Wait{Seconds: seconds}}
}

func parseAttrs(text string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrPattern.FindAllStringSubmatch(text, -1) {
		attrs[strings.ToLower(m[1])] = m[2]
	}
	return attrs
}

type rejectError struct {
	reason string
}

func (e *rejectError) Error() string { return e.reason }

func (e *rejectError) Is(target error) bool { return target == ErrSafetyReject }
