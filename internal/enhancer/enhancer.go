/**
 * Arabic Text Enhancer
 *
 * Post-processes raw recognized text in five fixed steps:
 * - Ligature and presentation-form repair
 * - Dictionary and contextual common-error correction
 * - Diacritic stripping or canonical normalization
 * - Arabic-Indic digit normalization
 * - RTL/LTR segment analysis with optional embedding marks
 *
 * Every correction records its rune position in the original text.
 */

package enhancer

import (
	"strings"
	"time"
)

// CorrectionType classifies a single correction
type CorrectionType string

const (
	CorrectionDiacritic   CorrectionType = "diacritic"
	CorrectionCharacter   CorrectionType = "character"
	CorrectionNumber      CorrectionType = "number"
	CorrectionLayout      CorrectionType = "layout"
	CorrectionCommonError CorrectionType = "common_error"
)

// Options toggles the enhancement steps. A zero Options disables every step;
// use DefaultOptions for the usual configuration.
type Options struct {
	NormalizeDiacritics bool `json:"normalizeDiacritics"`
	PreserveDiacritics  bool `json:"preserveDiacritics"`
	CorrectCommonErrors bool `json:"correctCommonErrors"`
	EnhanceRTLLayout    bool `json:"enhanceRTLLayout"`
	FixCharacterShaping bool `json:"fixCharacterShaping"`
	NormalizeNumbers    bool `json:"normalizeNumbers"`
}

// DefaultOptions enables every step except diacritic preservation
func DefaultOptions() Options {
	return Options{
		NormalizeDiacritics: true,
		PreserveDiacritics:  false,
		CorrectCommonErrors: true,
		EnhanceRTLLayout:    true,
		FixCharacterShaping: true,
		NormalizeNumbers:    true,
	}
}

// Correction is one change applied to the text. Position is the rune index
// in the original text.
type Correction struct {
	Type       CorrectionType `json:"type"`
	Original   string         `json:"original"`
	Corrected  string         `json:"corrected"`
	Position   int            `json:"position"`
	Confidence float64        `json:"confidence"`
}

// Metadata summarizes an enhancement run
type Metadata struct {
	OriginalLength  int           `json:"originalLength"`
	EnhancedLength  int           `json:"enhancedLength"`
	CorrectionCount int           `json:"correctionCount"`
	ConfidenceScore float64       `json:"confidenceScore"`
	ProcessingTime  time.Duration `json:"processingTime"`
}

// Result is the enhanced text with its corrections and direction segments
type Result struct {
	OriginalText string       `json:"originalText"`
	EnhancedText string       `json:"enhancedText"`
	Corrections  []Correction `json:"corrections"`
	RTLSegments  []Segment    `json:"rtlSegments"`
	Metadata     Metadata     `json:"metadata"`
}

// HasRTL reports whether any segment runs right to left
func (r *Result) HasRTL() bool {
	for _, s := range r.RTLSegments {
		if s.Direction == DirectionRTL {
			return true
		}
	}
	return false
}

// PlainText is the enhanced text without the RTL embedding marks, for
// consumers that match on words and line starts
func (r *Result) PlainText() string {
	return strings.Map(func(c rune) rune {
		if c == rle || c == pdf {
			return -1
		}
		return c
	}, r.EnhancedText)
}

// EnhanceText runs the enabled steps over text. It never fails: empty or
// non-Arabic input comes back unchanged with a confidence of 1.0.
func EnhanceText(text string, opts Options) *Result {
	start := time.Now()
	w := newWorkText(text)

	var corrections []Correction
	if opts.FixCharacterShaping {
		corrections = append(corrections, fixCharacterShaping(w)...)
	}
	if opts.CorrectCommonErrors {
		corrections = append(corrections, correctCommonErrors(w)...)
	}
	if opts.NormalizeDiacritics {
		if opts.PreserveDiacritics {
			corrections = append(corrections, canonicalizeDiacritics(w)...)
		} else {
			corrections = append(corrections, stripDiacritics(w)...)
		}
	}
	if opts.NormalizeNumbers {
		corrections = append(corrections, normalizeDigits(w)...)
	}
	if opts.EnhanceRTLLayout {
		corrections = append(corrections, wrapRTLSegments(w)...)
	}

	enhanced := w.String()
	return &Result{
		OriginalText: text,
		EnhancedText: enhanced,
		Corrections:  corrections,
		RTLSegments:  AnalyzeSegments(enhanced),
		Metadata: Metadata{
			OriginalLength:  w.originalLen,
			EnhancedLength:  len(w.runes),
			CorrectionCount: len(corrections),
			ConfidenceScore: confidenceScore(corrections),
			ProcessingTime:  time.Since(start),
		},
	}
}

// confidenceScore is the type-weighted mean of the correction confidences
func confidenceScore(corrections []Correction) float64 {
	var sum, weights float64
	for _, c := range corrections {
		w := correctionWeight(c.Type)
		sum += w * c.Confidence
		weights += w
	}
	if weights == 0 {
		return 1.0
	}
	score := sum / weights
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
