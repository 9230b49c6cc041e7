package enhancer

import (
	"sort"
	"unicode"
	"unicode/utf8"
)

// workText is the text being enhanced plus, for every rune, the index of the
// rune in the original text it came from. Correction positions are read from
// the origin map so they always index the original input.
type workText struct {
	runes       []rune
	origin      []int
	originalLen int
}

// edit replaces runes[start:end] with repl
type edit struct {
	start, end int
	repl       []rune
}

func newWorkText(s string) *workText {
	runes := []rune(s)
	origin := make([]int, len(runes))
	for i := range origin {
		origin[i] = i
	}
	return &workText{runes: runes, origin: origin, originalLen: len(runes)}
}

func (w *workText) String() string {
	return string(w.runes)
}

// originAt returns the original position of the rune at i; positions past the end map to the original length
func (w *workText) originAt(i int) int {
	if i < len(w.origin) {
		return w.origin[i]
	}
	return w.originalLen
}

// apply performs non-overlapping edits. Inserted runes inherit the origin of
// the first rune they replace.
func (w *workText) apply(edits []edit) {
	if len(edits) == 0 {
		return
	}
	sort.SliceStable(edits, func(i, j int) bool { return edits[i].start < edits[j].start })

	runes := make([]rune, 0, len(w.runes))
	origin := make([]int, 0, len(w.origin))
	cursor := 0
	for _, e := range edits {
		if e.start < cursor {
			continue
		}
		runes = append(runes, w.runes[cursor:e.start]...)
		origin = append(origin, w.origin[cursor:e.start]...)

		o := w.originAt(e.start)
		for _, r := range e.repl {
			runes = append(runes, r)
			origin = append(origin, o)
		}
		cursor = e.end
	}
	runes = append(runes, w.runes[cursor:]...)
	origin = append(origin, w.origin[cursor:]...)

	w.runes = runes
	w.origin = origin
}

// wordSpan is a maximal run of Arabic letters and marks
type wordSpan struct {
	start, end int
}

// arabicWords finds Arabic word spans in the current text
func (w *workText) arabicWords() []wordSpan {
	var spans []wordSpan
	start := -1
	for i, r := range w.runes {
		if isArabicWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			spans = append(spans, wordSpan{start, i})
			start = -1
		}
	}
	if start >= 0 {
		spans = append(spans, wordSpan{start, len(w.runes)})
	}
	return spans
}

func isArabicWordRune(r rune) bool {
	return unicode.Is(unicode.Arabic, r) && (unicode.IsLetter(r) || unicode.IsMark(r))
}

// byteToRuneIndex converts byte offsets of s into rune offsets
func byteToRuneIndex(s string) []int {
	idx := make([]int, len(s)+1)
	n := 0
	for b := 0; b < len(s); b++ {
		idx[b] = n
		if b+1 == len(s) || utf8.RuneStart(s[b+1]) {
			n++
		}
	}
	idx[len(s)] = n
	return idx
}
