package segment

import (
	"strings"
	"testing"
)

func TestSplitMajorBoundaries(t *testing.T) {
	got := Split("こんにちは。今日はいい天気だね！配信始めるよ？", DefaultConfig())
	want := []string{"こんにちは。", "今日はいい天気だね！", "配信始めるよ？"}
	if len(got) != len(want) {
		t.Fatalf("expected %d segments, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("segment %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSplitConcatenationReproducesInput(t *testing.T) {
	in := "あーそうだ、昨日ゲームやっててさ。めっちゃ難しいボスいたんだよね！結局三時間かかった…もうやだ。"
	segs := Split(in, DefaultConfig())
	joined := strings.Join(segs, "")
	// Leading spaces between sentences may be skipped, nothing else.
	if strings.Join(strings.Fields(joined), "") != strings.Join(strings.Fields(in), "") {
		t.Fatalf("concatenation mismatch:\n in: %q\nout: %q", in, joined)
	}
}

func TestSplitRespectsBounds(t *testing.T) {
	cfg := Config{MinLen: 4, MaxLen: 20}
	long := strings.Repeat("あ", 95) + "。"
	segs := Split(long, cfg)
	if len(segs) == 0 {
		t.Fatalf("expected segments")
	}
	for i, s := range segs {
		n := len([]rune(s))
		if n > cfg.MaxLen {
			t.Fatalf("segment %d exceeds max length: %d > %d", i, n, cfg.MaxLen)
		}
		if i < len(segs)-1 && n < cfg.MinLen {
			t.Fatalf("non-final segment %d below min length: %d < %d", i, n, cfg.MinLen)
		}
	}
}

func TestShortFinalRemainderAllowed(t *testing.T) {
	segs := Split("長めの文がひとつあります。ん。", DefaultConfig())
	if len(segs) == 0 {
		t.Fatalf("expected segments")
	}
	last := segs[len(segs)-1]
	if !strings.HasSuffix(last, "ん。") {
		t.Fatalf("expected short remainder kept at the end, got %q", last)
	}
}

func TestStreamingMatchesWholeText(t *testing.T) {
	inputs := []string{
		"こんにちは。今日はいい天気だね！さて何しよう？",
		"短い。けどこれは結構長い文になっているはずだよ、多分ね。うん。",
		strings.Repeat("フラグメント化のテストだよ。", 10),
	}
	for _, in := range inputs {
		whole := Split(in, DefaultConfig())

		s := NewStreamSplitter(DefaultConfig())
		var streamed []string
		for _, r := range in {
			streamed = append(streamed, s.Feed(string(r))...)
		}
		streamed = append(streamed, s.Flush()...)

		if len(whole) != len(streamed) {
			t.Fatalf("input %q: whole=%v streamed=%v", in, whole, streamed)
		}
		for i := range whole {
			if whole[i] != streamed[i] {
				t.Fatalf("input %q segment %d: whole=%q streamed=%q", in, i, whole[i], streamed[i])
			}
		}
	}
}

func TestMinorPunctuationFallbackOnOverflow(t *testing.T) {
	cfg := Config{MinLen: 4, MaxLen: 15}
	in := "これは読点で、区切れるはずの、長い長い長い文です。"
	segs := Split(in, cfg)
	if len(segs) < 2 {
		t.Fatalf("expected a carve at minor punctuation, got %v", segs)
	}
	for i, s := range segs {
		if n := len([]rune(s)); n > cfg.MaxLen {
			t.Fatalf("segment %d too long: %d", i, n)
		}
	}
}
