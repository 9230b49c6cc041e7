package enhancer

import (
	"unicode"

	"golang.org/x/text/unicode/bidi"
)

// Direction of a text segment
type Direction string

const (
	DirectionRTL Direction = "rtl"
	DirectionLTR Direction = "ltr"
)

// Language tag of a text segment
type Language string

const (
	LanguageArabic  Language = "arabic"
	LanguageEnglish Language = "english"
	LanguageMixed   Language = "mixed"
	LanguageOther   Language = "other"
	LanguageNeutral Language = "neutral"
)

// Segment is a maximal run of one direction. Start and End are rune offsets
// into the text the segment was computed from, End exclusive.
type Segment struct {
	Text      string    `json:"text"`
	Start     int       `json:"start"`
	End       int       `json:"end"`
	Direction Direction `json:"direction"`
	Language  Language  `json:"language"`
}

// AnalyzeSegments partitions text into direction runs. The segment texts
// concatenated in order always equal text.
func AnalyzeSegments(text string) []Segment {
	return segmentRunes([]rune(text))
}

func segmentRunes(runes []rune) []Segment {
	if len(runes) == 0 {
		return nil
	}

	current := DirectionLTR
	for _, r := range runes {
		if d, ok := strongDirection(r); ok {
			current = d
			break
		}
	}

	var (
		segments []Segment
		scripts  scriptSet
		start    int
	)
	for i, r := range runes {
		if d, ok := strongDirection(r); ok && d != current {
			segments = append(segments, newSegment(runes, start, i, current, scripts))
			start, current, scripts = i, d, scriptSet{}
		}
		scripts.add(r)
	}
	return append(segments, newSegment(runes, start, len(runes), current, scripts))
}

func newSegment(runes []rune, start, end int, dir Direction, scripts scriptSet) Segment {
	return Segment{
		Text:      string(runes[start:end]),
		Start:     start,
		End:       end,
		Direction: dir,
		Language:  scripts.language(),
	}
}

// strongDirection reports the direction a rune forces. Inheriting runes such
// as digits, punctuation and whitespace return false. An RLE mark opens an RTL
// run so that it stays with the segment it embeds.
func strongDirection(r rune) (Direction, bool) {
	if r == rle {
		return DirectionRTL, true
	}
	props, _ := bidi.LookupRune(r)
	switch props.Class() {
	case bidi.AL, bidi.R:
		return DirectionRTL, true
	case bidi.L:
		return DirectionLTR, true
	}
	return "", false
}

// scriptSet tracks which strong scripts a segment has seen
type scriptSet struct {
	arabic bool
	latin  bool
	other  bool
}

func (s *scriptSet) add(r rune) {
	if r == rle {
		return
	}
	if _, ok := strongDirection(r); !ok {
		return
	}
	switch {
	case unicode.Is(unicode.Arabic, r):
		s.arabic = true
	case unicode.Is(unicode.Latin, r):
		s.latin = true
	default:
		s.other = true
	}
}

func (s scriptSet) language() Language {
	switch {
	case s.arabic && (s.latin || s.other):
		return LanguageMixed
	case s.arabic:
		return LanguageArabic
	case s.latin && !s.other:
		return LanguageEnglish
	case s.latin || s.other:
		return LanguageOther
	}
	return LanguageNeutral
}
