package session

import (
	"strings"
	"unicode"

	"github.com/loqalabs/loqa-listen/internal/config"
)

// Filter rules reported in verdicts.
const (
	RulePhrase     = "phrase"
	RuleStandalone = "standalone"
)

// defaultPhrases are artifacts recognition models emit on silence or noise,
// mostly captioning credits learned from subtitled training data. Matched as
// case-insensitive substrings.
var defaultPhrases = []string{
	"υπότιτλοι",
	"authorwave",
	"subtitles",
	"subtitle",
	"closed captions",
	"captioning",
	"transcription",
	"transcript",
	"audio",
	"music",
	"[music]",
	"[sound]",
	"[noise]",
	"[silence]",
	"[inaudible]",
	"[blank_audio]",
	"thank you",
	"thanks for watching",
	"subscribe",
	"like and subscribe",
	"www.",
	".com",
	"http",
	"https",
	"undertekster",
	"ai-media",
	"ai media",
	"undertekst",
	"tekster",
	"untertitel",
	"sous-titres",
	"legendas",
	"sottotitoli",
}

// defaultStandalone are rejected only when they make up the whole segment
// once punctuation and whitespace are removed.
var defaultStandalone = []string{
	"thankyou",
	"thankyouforwatching",
	"thanks",
	"thanksforwatching",
	"subscribe",
	"likeandsubscribe",
	"pleasesubscribe",
}

// Verdict is the filter decision for one recognized segment.
type Verdict struct {
	Text     string
	Accepted bool
	Rule     string
	Match    string
}

type HallucinationFilter struct {
	phrases    []string
	standalone map[string]struct{}
}

// NewHallucinationFilter builds a filter from the built-in lists plus the
// configured extras.
func NewHallucinationFilter(cfg config.FilterConfig) *HallucinationFilter {
	f := &HallucinationFilter{standalone: make(map[string]struct{})}
	for _, p := range append(append([]string{}, defaultPhrases...), cfg.ExtraPhrases...) {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			f.phrases = append(f.phrases, p)
		}
	}
	for _, s := range append(append([]string{}, defaultStandalone...), cfg.ExtraStandalone...) {
		if s = squash(s); s != "" {
			f.standalone[s] = struct{}{}
		}
	}
	return f
}

func (f *HallucinationFilter) Check(segment string) Verdict {
	text := strings.TrimSpace(segment)
	lower := strings.ToLower(text)
	for _, p := range f.phrases {
		if strings.Contains(lower, p) {
			return Verdict{Text: text, Rule: RulePhrase, Match: p}
		}
	}
	if key := squash(lower); key != "" {
		if _, ok := f.standalone[key]; ok {
			return Verdict{Text: text, Rule: RuleStandalone, Match: key}
		}
	}
	return Verdict{Text: text, Accepted: true}
}

// squash lowercases s and drops punctuation and whitespace.
func squash(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsPunct(r) || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
