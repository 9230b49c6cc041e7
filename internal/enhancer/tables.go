package enhancer

import (
	"regexp"
)

// replacementPair maps a misrecognized form to its canonical form
type replacementPair struct {
	from string
	to   string
}

// ligatures decomposes single-codepoint presentation ligatures
var ligatures = [...]struct {
	r  rune
	to string
}{
	{'\uFEFB', "لا"}, // LAM WITH ALEF isolated
	{'\uFEFC', "لا"}, // LAM WITH ALEF final
	{'\uFEF5', "لآ"}, // LAM WITH ALEF WITH MADDA ABOVE
	{'\uFEF6', "لآ"},
	{'\uFEF7', "لأ"}, // LAM WITH ALEF WITH HAMZA ABOVE
	{'\uFEF8', "لأ"},
	{'\uFEF9', "لإ"}, // LAM WITH ALEF WITH HAMZA BELOW
	{'\uFEFA', "لإ"},
	{'\uFDF2', "الله"}, // ALLAH ligature
}

// commonErrors lists whole words that recognizers frequently get wrong:
// proper nouns, religious and geographic terms
var commonErrors = [...]replacementPair{
	{"اللة", "الله"},
	{"الرحمان", "الرحمن"},
	{"القران", "القرآن"},
	{"الاسلام", "الإسلام"},
	{"الاسلامية", "الإسلامية"},
	{"ابراهيم", "إبراهيم"},
	{"اسماعيل", "إسماعيل"},
	{"المملكه", "المملكة"},
	{"السعوديه", "السعودية"},
	{"الرياص", "الرياض"},
	{"جده", "جدة"},
	{"مكه", "مكة"},
	{"المكرمه", "المكرمة"},
	{"المدينه", "المدينة"},
	{"المنوره", "المنورة"},
	{"الامارات", "الإمارات"},
	{"الكويث", "الكويت"},
	{"الدوحه", "الدوحة"},
	{"القاهره", "القاهرة"},
}

// commonErrorIndex is built once from commonErrors and only read afterwards
var commonErrorIndex = func() map[string]string {
	m := make(map[string]string, len(commonErrors))
	for _, p := range commonErrors {
		m[p.from] = p.to
	}
	return m
}()

const dictionaryConfidence = 0.8

// contextRule fixes a two-letter preposition misread in context. Group 2 of
// pattern is the span that is replaced; groups 1 and 3 are the context.
type contextRule struct {
	name       string
	pattern    *regexp.Regexp
	to         string
	confidence float64
}

var contextRules = [...]contextRule{
	{
		name:       "fi_alef_maksura",
		pattern:    regexp.MustCompile(`(^|[^\p{L}\p{M}])(فى)([^\p{L}\p{M}]|$)`),
		to:         "في",
		confidence: 0.9,
	},
	{
		name:       "ila_missing_hamza",
		pattern:    regexp.MustCompile(`(^|[^\p{L}\p{M}])(الى)([^\p{L}\p{M}]|$)`),
		to:         "إلى",
		confidence: 0.85,
	},
	{
		name:       "ala_before_article",
		pattern:    regexp.MustCompile(`(^|[^\p{L}\p{M}])(علي)(\s+ال)`),
		to:         "على",
		confidence: 0.7,
	},
	{
		name:       "an_dotted_ain",
		pattern:    regexp.MustCompile(`(^|[^\p{L}\p{M}])(غن)(\s+ال)`),
		to:         "عن",
		confidence: 0.6,
	},
}

// Bidi embedding marks wrapped around Arabic runs
const (
	rle = '\u202B' // RIGHT-TO-LEFT EMBEDDING
	pdf = '\u202C' // POP DIRECTIONAL FORMATTING
)

// correctionWeight drives the overall confidence score
func correctionWeight(t CorrectionType) float64 {
	switch t {
	case CorrectionDiacritic:
		return 0.1
	case CorrectionCharacter:
		return 0.3
	case CorrectionNumber:
		return 0.05
	case CorrectionLayout:
		return 0.1
	case CorrectionCommonError:
		return 0.5
	}
	return 0
}

func ligatureFor(r rune) (string, bool) {
	for _, l := range ligatures {
		if l.r == r {
			return l.to, true
		}
	}
	return "", false
}

// isPresentationForm covers Arabic Presentation Forms-A and -B
func isPresentationForm(r rune) bool {
	return (r >= 0xFB50 && r <= 0xFDFF) || (r >= 0xFE70 && r <= 0xFEFF)
}

// isDiacritic covers the Arabic vocalization marks and the superscript alef
func isDiacritic(r rune) bool {
	return (r >= 0x064B && r <= 0x065F) || r == 0x0670
}

// digitValue maps Arabic-Indic and Extended Arabic-Indic digits to ASCII
func digitValue(r rune) (rune, bool) {
	switch {
	case r >= 0x0660 && r <= 0x0669:
		return '0' + (r - 0x0660), true
	case r >= 0x06F0 && r <= 0x06F9:
		return '0' + (r - 0x06F0), true
	}
	return 0, false
}
