package gate

import (
	"log/slog"
	"regexp"

	"github.com/kotoba-live/kotoba/pkg/logging"
)

// Category is an ordered group of patterns sharing one rejection reason.
type Category struct {
	Name     string
	Patterns []*regexp.Regexp
	Reason   string
}

// SafetyGate rejects text that must never reach synthesis. Categories are
// evaluated in order and the first matching pattern supplies the reason.
type SafetyGate struct {
	categories []Category
	logger     *slog.Logger
}

func NewSafetyGate(categories []Category, logger *slog.Logger) *SafetyGate {
	if categories == nil {
		categories = DefaultSafetyCategories()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SafetyGate{
		categories: categories,
		logger:     logging.NewComponentLogger(logger, "safety_gate"),
	}
}

// Check reports whether text may be spoken. It runs synchronously before
// any synthesis is requested; synthesis is far cheaper to not start than
// to cancel.
func (g *SafetyGate) Check(text string) (bool, string) {
	if text == "" {
		return true, ""
	}
	for _, cat := range g.categories {
		for _, p := range cat.Patterns {
			if p.MatchString(text) {
				g.logger.Warn("speech blocked",
					slog.String("category", cat.Name),
					slog.String("pattern", p.String()))
				return false, cat.Reason
			}
		}
	}
	return true, ""
}

// DefaultSafetyCategories returns the stock rule set: disallowed content
// first, then meta narration and unnatural topic pivots.
func DefaultSafetyCategories() []Category {
	return []Category{
		{
			Name: "disallowed",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(死ね|殺す|殺したい|馬鹿|アホ|クズ|ゴミ|変態|エッチ|セックス|やりたい|オナニー)`),
			},
			Reason: "不適切な表現（暴言・卑猥な言葉など）が含まれています。より健全で明るい表現に修正してください。",
		},
		{
			Name: "meta",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`^(今日は|さて、今日は|話題を変えて、?|次は|それでは|ところで|話は変わるけど)、?.*(話そう|話したい|紹介しよう|お話しします|考えてみます|についてです|語ろう)`),
				regexp.MustCompile(`(話題を変えて|別の話を|トレンドを調べて|この話題|話し合おう|提案|魅力がある|生き物がある)`),
				regexp.MustCompile(`^[ぁ-んァ-ン一-龠]+(について|に関して).*(話そう|話すね|調べてみる|どうかな|紹介する|語ろう)`),
				regexp.MustCompile(`(いいじゃない|いい話題|面白い記事|エーアイ|AIだから|私はAI|あるわよね|さっきの話から|広げて|連想)`),
			},
			Reason: "メタ発言（「話そう」「紹介する」等の進行発言）や、話題の不自然な転換が含まれています。いきなり本題から自然に話してください。",
		},
	}
}
