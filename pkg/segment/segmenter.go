package segment

import "strings"

// Config bounds the speakable chunks produced by the segmenter.
type Config struct {
	MinLen int
	MaxLen int
}

// DefaultConfig mirrors the chunk sizing used by the synthesis stage.
func DefaultConfig() Config {
	return Config{MinLen: 4, MaxLen: 50}
}

func (c Config) withDefaults() Config {
	if c.MinLen <= 0 {
		c.MinLen = 4
	}
	if c.MaxLen <= c.MinLen {
		c.MaxLen = c.MinLen + 46
	}
	return c
}

// Split divides text into speakable chunks of [MinLen, MaxLen] runes,
// preferring major sentence punctuation and falling back to minor
// punctuation only when a chunk would otherwise exceed MaxLen. Trailing
// punctuation stays attached to the chunk it terminates. Only the final
// trailing remainder may fall below MinLen.
func Split(text string, cfg Config) []string {
	s := NewStreamSplitter(cfg)
	out := s.Feed(text)
	out = append(out, s.Flush()...)
	return out
}

// StreamSplitter extracts chunks incrementally as text arrives. Feeding the
// same total input in any fragmentation yields the same chunks as Split.
type StreamSplitter struct {
	cfg Config
	buf []rune
}

func NewStreamSplitter(cfg Config) *StreamSplitter {
	return &StreamSplitter{cfg: cfg.withDefaults()}
}

// Feed appends a fragment and returns every chunk that is now complete.
func (s *StreamSplitter) Feed(fragment string) []string {
	s.buf = append(s.buf, []rune(fragment)...)
	var out []string
	for {
		chunk, ok := s.next()
		if !ok {
			return out
		}
		if chunk != "" {
			out = append(out, chunk)
		}
	}
}

// Flush drains whatever remains in the buffer, including a trailing
// remainder shorter than MinLen.
func (s *StreamSplitter) Flush() []string {
	var out []string
	for len(s.buf) > s.cfg.MaxLen {
		if chunk := s.carve(); chunk != "" {
			out = append(out, chunk)
		}
	}
	rest := strings.TrimSpace(string(s.buf))
	s.buf = s.buf[:0]
	if rest != "" {
		out = append(out, rest)
	}
	return out
}

// next emits at most one chunk. It returns ok=false when no further
// progress is possible without more input.
func (s *StreamSplitter) next() (string, bool) {
	s.skipLeadingSpace()
	if len(s.buf) == 0 {
		return "", false
	}
	// Grow a candidate across major boundaries until it reaches MinLen.
	for i, r := range s.buf {
		if !isMajor(r) {
			continue
		}
		if i+1 > s.cfg.MaxLen {
			break
		}
		if i+1 >= s.cfg.MinLen {
			return s.take(i + 1), true
		}
	}
	if len(s.buf) > s.cfg.MaxLen {
		return s.carve(), true
	}
	// A short candidate waits for more input; Flush picks it up otherwise.
	return "", false
}

// carve cuts a chunk out of an over-long buffer: at the last minor or major
// punctuation inside the MaxLen window when one lands past MinLen, at the
// window edge otherwise.
func (s *StreamSplitter) carve() string {
	window := s.buf
	if len(window) > s.cfg.MaxLen {
		window = window[:s.cfg.MaxLen]
	}
	cut := len(window)
	for i := len(window) - 1; i >= 0; i-- {
		if i+1 < s.cfg.MinLen {
			break
		}
		if isMajor(window[i]) || isMinor(window[i]) {
			cut = i + 1
			break
		}
	}
	return s.take(cut)
}

func (s *StreamSplitter) take(n int) string {
	chunk := strings.TrimSpace(string(s.buf[:n]))
	s.buf = s.buf[n:]
	s.skipLeadingSpace()
	return chunk
}

func (s *StreamSplitter) skipLeadingSpace() {
	i := 0
	for i < len(s.buf) && isSpace(s.buf[i]) {
		i++
	}
	if i > 0 {
		s.buf = s.buf[i:]
	}
}

func isMajor(r rune) bool {
	switch r {
	case '。', '．', '！', '？', '!', '?', '.', '\n':
		return true
	}
	return false
}

func isMinor(r rune) bool {
	switch r {
	case '、', '，', ',', '；', ';', '：', ':', '…':
		return true
	}
	return false
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '　':
		return true
	}
	return false
}
