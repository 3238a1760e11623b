package gate

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kotoba-live/kotoba/pkg/logging"
)

// Verdict is the result of a persona analysis. It never blocks a turn;
// callers log it and move on.
type Verdict struct {
	Valid      bool
	Violations []string
	Severity   int
	Suggestion string
}

// PersonaGate flags phrasing that breaks the persona's casual register:
// assistant-speak, servile patterns, polite-ending overuse, and question
// pileups. Severity accumulates per category and clamps at 10.
type PersonaGate struct {
	banned   []string
	patterns []*regexp.Regexp
	warnings []string
	good     []string
	logger   *slog.Logger

	politeEndings *regexp.Regexp
	questionMarks *regexp.Regexp
}

func NewPersonaGate(logger *slog.Logger) *PersonaGate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &PersonaGate{
		banned:   bannedPhrases,
		warnings: warningPhrases,
		good:     goodExamples,
		logger:   logging.NewComponentLogger(logger, "persona_gate"),

		politeEndings: regexp.MustCompile(`(です|ます)[。！!？?\n]`),
		questionMarks: regexp.MustCompile(`[？?]`),
	}
	for _, p := range bannedPatterns {
		g.patterns = append(g.patterns, regexp.MustCompile(p))
	}
	return g
}

// Analyze scores text against the persona rules.
func (g *PersonaGate) Analyze(text string) Verdict {
	var violations []string
	severity := 0

	for _, phrase := range g.banned {
		if strings.Contains(text, phrase) {
			violations = append(violations, fmt.Sprintf("禁止フレーズ「%s」", phrase))
			severity += 3
		}
	}
	for i, p := range g.patterns {
		if p.MatchString(text) {
			violations = append(violations, fmt.Sprintf("禁止パターン「%s」", bannedPatterns[i]))
			severity += 2
		}
	}

	warningCount := 0
	for _, phrase := range g.warnings {
		warningCount += strings.Count(text, phrase)
	}
	if warningCount >= 2 {
		violations = append(violations, fmt.Sprintf("警告フレーズ多用(%d回)", warningCount))
		severity++
	}

	if polite := len(g.politeEndings.FindAllString(text, -1)); polite >= 3 {
		violations = append(violations, fmt.Sprintf("丁寧語多用(%d回)", polite))
		severity += 2
	}
	if questions := len(g.questionMarks.FindAllString(text, -1)); questions >= 3 {
		violations = append(violations, fmt.Sprintf("質問過多(%d個)", questions))
		severity++
	}

	v := Verdict{
		Valid:      len(violations) == 0,
		Violations: violations,
		Severity:   min(severity, 10),
	}
	if !v.Valid {
		v.Suggestion = suggest(violations)
	}
	return v
}

// Log records a verdict without blocking anything.
func (g *PersonaGate) Log(v Verdict, text string) {
	if v.Valid {
		return
	}
	g.logger.Info("persona drift",
		slog.Int("severity", v.Severity),
		slog.String("violations", strings.Join(v.Violations, "; ")),
		slog.String("suggestion", v.Suggestion),
		slog.Int("text_length", len(text)))
}

// QuickFix mechanically rewrites a few known formal endings to informal
// equivalents. Never call it on text the safety gate already rejected.
func (g *PersonaGate) QuickFix(text string) string {
	for _, r := range quickFixes {
		text = r.pattern.ReplaceAllString(text, r.replacement)
	}
	return text
}

// Naturalness scores text in [0,1]; higher reads more in-character. Exposed
// for offline analysis only.
func (g *PersonaGate) Naturalness(text string) float64 {
	report := g.Analyze(text)
	penalty := float64(report.Severity) * 0.1

	goodCount := 0
	for _, phrase := range g.good {
		if strings.Contains(text, phrase) {
			goodCount++
		}
	}
	bonus := float64(goodCount) * 0.05
	if bonus > 0.2 {
		bonus = 0.2
	}

	score := 1.0 - penalty + bonus
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func suggest(violations []string) string {
	for _, v := range violations {
		if strings.Contains(v, "禁止フレーズ") {
			return "もっとフランクに。敬語禁止。"
		}
	}
	for _, v := range violations {
		if strings.Contains(v, "丁寧語") {
			return "「です」「ます」を減らして。タメ口で。"
		}
	}
	for _, v := range violations {
		if strings.Contains(v, "質問過多") {
			return "質問じゃなくて自分の意見を言って。"
		}
	}
	return "もっと自然に、友達に話すみたいに。"
}

type rewriteRule struct {
	pattern     *regexp.Regexp
	replacement string
}

var quickFixes = []rewriteRule{
	{regexp.MustCompile(`ですね([。！!])`), "だね$1"},
	{regexp.MustCompile(`ますね([。！!])`), "るね$1"},
	{regexp.MustCompile(`ですよ([。！!])`), "だよ$1"},
	{regexp.MustCompile(`ますよ([。！!])`), "るよ$1"},
	{regexp.MustCompile(`です([。！!])`), "だよ$1"},
	{regexp.MustCompile(`ます([。！!])`), "るよ$1"},
	{regexp.MustCompile(`でしょうか([。？?])`), "かな$1"},
	{regexp.MustCompile(`ありがとうございます`), "ありがとね"},
}

var bannedPhrases = []string{
	"ありがとうございます",
	"承知しました",
	"かしこまりました",
	"ございます",
	"いただき",
	"させていただ",
	"存じます",
	"何かあれば",
	"何かありましたら",
	"お手伝い",
	"お役に立",
	"ご質問",
	"ご不明",
	"サポート",
	"アシスト",
	"教えてください",
	"聞かせてください",
	"どうぞ",
	"遠慮なく",
	"何でも聞いて",
	"話題を変え",
	"提案します",
	"アドバイス",
	"おすすめ",
	"AIとして",
	"プログラム",
	"設定",
	"キャラクター",
}

var bannedPatterns = []string{
	`何か.*ありますか[？?]?`,
	`お役に立てれば`,
	`〜して(あげ|さしあげ)(ます|る)`,
	`(ご|お).*ください`,
	`いかがでしょうか`,
	`よろしければ`,
	`(何|なに)でも(言|い)って`,
	`力になれ(れば|たら)`,
	`お(手伝い|力)`,
	`(する|やる)ことができます`,
	`私(は|が)AI`,
}

var warningPhrases = []string{
	"！！！",
	"ですね！",
	"ますね！",
	"嬉しいです",
	"楽しいです",
}

var goodExamples = []string{
	"あー暇",
	"マジで？",
	"嘘でしょ",
	"知らんけど",
	"ところでさ",
	"やばくない？",
	"それな",
	"草",
	"わかるわー",
	"ていうかさ",
}
