package classifier

import (
	"strings"
	"unicode"

	"gonum.org/v1/gonum/stat"
)

// Handwriting indicator types
const (
	IndicatorIrregularCharacters = "irregular_characters"
	IndicatorFragmentedWords     = "fragmented_words"
	IndicatorInconsistentSpacing = "inconsistent_spacing"
)

const (
	irregularDensityThreshold = 0.05
	fragmentRatioThreshold    = 0.4
	spacingCVThreshold        = 0.6

	minWordsForFragments = 5
	minGapsForSpacing    = 4
)

// HandwritingIndicator is a heuristic that fired above its threshold
type HandwritingIndicator struct {
	Type        string  `json:"type"`
	Score       float64 `json:"score"`
	Threshold   float64 `json:"threshold"`
	Description string  `json:"description"`
}

// DetectHandwriting runs the three independent heuristics. An indicator is
// returned only when its measure exceeds the threshold.
func DetectHandwriting(text string) []HandwritingIndicator {
	var indicators []HandwritingIndicator

	if d := irregularDensity(text); d > irregularDensityThreshold {
		indicators = append(indicators, HandwritingIndicator{
			Type:        IndicatorIrregularCharacters,
			Score:       clamp01(d),
			Threshold:   irregularDensityThreshold,
			Description: "Repeated or stray characters typical of handwriting recognition",
		})
	}

	if r, ok := fragmentRatio(text); ok && r > fragmentRatioThreshold {
		indicators = append(indicators, HandwritingIndicator{
			Type:        IndicatorFragmentedWords,
			Score:       clamp01(r),
			Threshold:   fragmentRatioThreshold,
			Description: "High share of very short word fragments",
		})
	}

	if cv, ok := spacingVariation(text); ok && cv > spacingCVThreshold {
		indicators = append(indicators, HandwritingIndicator{
			Type:        IndicatorInconsistentSpacing,
			Score:       clamp01(cv),
			Threshold:   spacingCVThreshold,
			Description: "Irregular spacing between words",
		})
	}

	return indicators
}

// irregularDensity counts runs of one letter repeated 3+ times and isolated
// symbols, per non-space rune
func irregularDensity(text string) float64 {
	runes := []rune(text)
	var total, irregular int
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if unicode.IsSpace(r) {
			continue
		}
		total++

		if unicode.IsLetter(r) {
			j := i
			for j+1 < len(runes) && runes[j+1] == r {
				j++
			}
			if j-i+1 >= 3 {
				irregular++
				total += j - i
				i = j
			}
			continue
		}

		if isStraySymbol(r) && isolated(runes, i) {
			irregular++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(irregular) / float64(total)
}

func isStraySymbol(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) {
		return false
	}
	switch r {
	case '.', ',', '،', ':', ';', '؛', '?', '؟', '!', '-', '(', ')', '/', '"', '\'', '%':
		return false
	}
	return true
}

func isolated(runes []rune, i int) bool {
	before := i == 0 || unicode.IsSpace(runes[i-1])
	after := i == len(runes)-1 || unicode.IsSpace(runes[i+1])
	return before && after
}

// fragmentRatio is the share of words with at most two runes
func fragmentRatio(text string) (float64, bool) {
	words := strings.Fields(text)
	if len(words) < minWordsForFragments {
		return 0, false
	}
	short := 0
	for _, w := range words {
		if len([]rune(strings.TrimFunc(w, unicode.IsPunct))) <= 2 {
			short++
		}
	}
	return float64(short) / float64(len(words)), true
}

// spacingVariation is the coefficient of variation of the whitespace gaps
// between words on the same line
func spacingVariation(text string) (float64, bool) {
	var gaps []float64
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		width := 0
		for _, r := range line {
			switch {
			case r == '\t':
				width += 4
			case unicode.IsSpace(r):
				width++
			default:
				if width > 0 {
					gaps = append(gaps, float64(width))
					width = 0
				}
			}
		}
	}
	if len(gaps) < minGapsForSpacing {
		return 0, false
	}
	mean := stat.Mean(gaps, nil)
	if mean == 0 {
		return 0, false
	}
	return stat.StdDev(gaps, nil) / mean, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
