package enhancer

import (
	"golang.org/x/text/unicode/norm"
)

const (
	ligatureConfidence     = 0.9
	presentationConfidence = 0.8
	stripConfidence        = 0.95
	canonicalConfidence    = 0.9
	digitConfidence        = 0.99
	layoutConfidence       = 0.85
)

// fixCharacterShaping decomposes Lam-Alif ligatures and folds the remaining
// presentation forms to their nominal letters
func fixCharacterShaping(w *workText) []Correction {
	var (
		edits       []edit
		corrections []Correction
	)
	for i, r := range w.runes {
		if !isPresentationForm(r) {
			continue
		}
		to, ok := ligatureFor(r)
		conf := ligatureConfidence
		if !ok {
			to = norm.NFKC.String(string(r))
			conf = presentationConfidence
			if to == string(r) {
				continue
			}
		}
		edits = append(edits, edit{start: i, end: i + 1, repl: []rune(to)})
		corrections = append(corrections, Correction{
			Type:       CorrectionCharacter,
			Original:   string(r),
			Corrected:  to,
			Position:   w.originAt(i),
			Confidence: conf,
		})
	}
	w.apply(edits)
	return corrections
}

// correctCommonErrors applies the whole-word dictionary and then the
// contextual preposition rules
func correctCommonErrors(w *workText) []Correction {
	var (
		edits       []edit
		corrections []Correction
	)
	for _, span := range w.arabicWords() {
		word := string(w.runes[span.start:span.end])
		to, ok := commonErrorIndex[word]
		if !ok {
			continue
		}
		edits = append(edits, edit{start: span.start, end: span.end, repl: []rune(to)})
		corrections = append(corrections, Correction{
			Type:       CorrectionCommonError,
			Original:   word,
			Corrected:  to,
			Position:   w.originAt(span.start),
			Confidence: dictionaryConfidence,
		})
	}
	w.apply(edits)

	for _, rule := range contextRules {
		corrections = append(corrections, applyContextRule(w, rule)...)
	}
	return corrections
}

// applyContextRule repeats the rule until it stops matching, since adjacent
// matches share their separator and FindAll only sees every other one
func applyContextRule(w *workText, rule contextRule) []Correction {
	var corrections []Correction
	for {
		s := w.String()
		matches := rule.pattern.FindAllStringSubmatchIndex(s, -1)
		if len(matches) == 0 {
			return corrections
		}
		runeAt := byteToRuneIndex(s)
		edits := make([]edit, 0, len(matches))
		for _, m := range matches {
			start, end := runeAt[m[4]], runeAt[m[5]]
			edits = append(edits, edit{start: start, end: end, repl: []rune(rule.to)})
			corrections = append(corrections, Correction{
				Type:       CorrectionCommonError,
				Original:   s[m[4]:m[5]],
				Corrected:  rule.to,
				Position:   w.originAt(start),
				Confidence: rule.confidence,
			})
		}
		w.apply(edits)
	}
}

// stripDiacritics removes every run of vocalization marks
func stripDiacritics(w *workText) []Correction {
	var (
		edits       []edit
		corrections []Correction
	)
	for i := 0; i < len(w.runes); {
		if !isDiacritic(w.runes[i]) {
			i++
			continue
		}
		j := i
		for j < len(w.runes) && isDiacritic(w.runes[j]) {
			j++
		}
		edits = append(edits, edit{start: i, end: j})
		corrections = append(corrections, Correction{
			Type:       CorrectionDiacritic,
			Original:   string(w.runes[i:j]),
			Corrected:  "",
			Position:   w.originAt(i),
			Confidence: stripConfidence,
		})
		i = j
	}
	w.apply(edits)
	return corrections
}

// canonicalizeDiacritics keeps the marks but brings each word to NFC, which
// puts stacked marks in canonical order
func canonicalizeDiacritics(w *workText) []Correction {
	var (
		edits       []edit
		corrections []Correction
	)
	for _, span := range w.arabicWords() {
		word := string(w.runes[span.start:span.end])
		canonical := norm.NFC.String(word)
		if canonical == word {
			continue
		}
		edits = append(edits, edit{start: span.start, end: span.end, repl: []rune(canonical)})
		corrections = append(corrections, Correction{
			Type:       CorrectionDiacritic,
			Original:   word,
			Corrected:  canonical,
			Position:   w.originAt(span.start),
			Confidence: canonicalConfidence,
		})
	}
	w.apply(edits)
	return corrections
}

// normalizeDigits maps Arabic-Indic and Persian digits to ASCII in place
func normalizeDigits(w *workText) []Correction {
	var corrections []Correction
	for i, r := range w.runes {
		d, ok := digitValue(r)
		if !ok {
			continue
		}
		w.runes[i] = d
		corrections = append(corrections, Correction{
			Type:       CorrectionNumber,
			Original:   string(r),
			Corrected:  string(d),
			Position:   w.originAt(i),
			Confidence: digitConfidence,
		})
	}
	return corrections
}

// wrapRTLSegments surrounds every Arabic RTL segment with RLE/PDF and then
// drops repeated marks
func wrapRTLSegments(w *workText) []Correction {
	var (
		edits       []edit
		corrections []Correction
	)
	for _, seg := range segmentRunes(w.runes) {
		if seg.Direction != DirectionRTL || (seg.Language != LanguageArabic && seg.Language != LanguageMixed) {
			continue
		}
		if w.runes[seg.Start] == rle && w.runes[seg.End-1] == pdf {
			continue
		}
		edits = append(edits,
			edit{start: seg.Start, end: seg.Start, repl: []rune{rle}},
			edit{start: seg.End, end: seg.End, repl: []rune{pdf}},
		)
		corrections = append(corrections, Correction{
			Type:       CorrectionLayout,
			Original:   seg.Text,
			Corrected:  string(rle) + seg.Text + string(pdf),
			Position:   w.originAt(seg.Start),
			Confidence: layoutConfidence,
		})
	}
	w.apply(edits)
	dedupeMarks(w)
	return corrections
}

// dedupeMarks removes an embedding mark that repeats the one right before it
func dedupeMarks(w *workText) {
	var edits []edit
	for i := 1; i < len(w.runes); i++ {
		r := w.runes[i]
		if (r == rle || r == pdf) && w.runes[i-1] == r {
			edits = append(edits, edit{start: i, end: i + 1})
		}
	}
	w.apply(edits)
}
