package speech

import (
	"time"
	"unicode"
)

// LipFrame is one mouth position at a relative offset from playback start.
type LipFrame struct {
	Offset    time.Duration
	MouthOpen float64
}

// GenerateLipFrames derives a mouth movement sequence from the text being
// spoken. Vowels hold the mouth open longer and wider than consonants;
// kana count as vowel-bearing morae; punctuation closes the mouth.
func GenerateLipFrames(text string) []LipFrame {
	var frames []LipFrame
	offset := time.Duration(0)
	for _, r := range text {
		r = unicode.ToLower(r)
		var dur time.Duration
		var open float64
		switch {
		case isVowel(r):
			dur, open = 100*time.Millisecond, 0.8
		case isMora(r):
			dur, open = 120*time.Millisecond, 0.6
		case r >= 'a' && r <= 'z':
			dur, open = 50*time.Millisecond, 0.2
		default:
			dur, open = 50*time.Millisecond, 0.0
		}
		frames = append(frames, LipFrame{Offset: offset, MouthOpen: open})
		offset += dur
	}
	return frames
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

func isMora(r rune) bool {
	return unicode.In(r, unicode.Hiragana, unicode.Katakana) || unicode.Is(unicode.Han, r)
}
