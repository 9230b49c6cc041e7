/**
 * Document Classifier
 *
 * Scores recognized text against every catalog document type:
 *   confidence = 0.4*keyword + 0.3*structure + 0.2*layout + 0.1*language
 *
 * The best score is the document type and the next three are alternatives.
 * Handwriting indicators are reported alongside but never change a score.
 */

package classifier

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/adverant/nexus/docintel-worker/internal/ocr"
)

// Score weights. These are calibration constants carried over unchanged;
// tune them only against labeled data.
const (
	KeywordWeight   = 0.4
	StructureWeight = 0.3
	LayoutWeight    = 0.2
	LanguageWeight  = 0.1
)

const (
	neutralScore        = 0.5
	structureTypeMatch  = 0.7
	structureCountBonus = 0.3
	maxAlternatives     = 3
)

// ScoreBreakdown is the per-factor score of one type
type ScoreBreakdown struct {
	Keyword   float64 `json:"keyword"`
	Structure float64 `json:"structure"`
	Layout    float64 `json:"layout"`
	Language  float64 `json:"language"`
}

// TypeScore is a scored catalog type
type TypeScore struct {
	DocumentType DocumentType   `json:"documentType"`
	Confidence   float64        `json:"confidence"`
	Breakdown    ScoreBreakdown `json:"breakdown"`
}

// LayoutFeature is a detected region reduced to its matching key
type LayoutFeature struct {
	Type     string `json:"type"`
	Position string `json:"position"`
}

// StructureFeature is a detector that matched at least once
type StructureFeature struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// ExtractedFeatures are the signals the winning type was scored on
type ExtractedFeatures struct {
	Keywords              []string               `json:"keywords"`
	Layout                []LayoutFeature        `json:"layout"`
	Structure             []StructureFeature     `json:"structure"`
	HandwritingIndicators []HandwritingIndicator `json:"handwritingIndicators"`
}

// Metadata describes a classification run
type Metadata struct {
	ProcessingTime time.Duration      `json:"processingTime"`
	TextLength     int                `json:"textLength"`
	ArabicRatio    float64            `json:"arabicRatio"`
	EnglishRatio   float64            `json:"englishRatio"`
	ScoredTypes    int                `json:"scoredTypes"`
	ImageMetadata  *ocr.ImageMetadata `json:"imageMetadata,omitempty"`
}

// Result is the outcome of ClassifyDocument
type Result struct {
	DocumentType      DocumentType      `json:"documentType"`
	Confidence        float64           `json:"confidence"`
	Breakdown         ScoreBreakdown    `json:"breakdown"`
	AlternativeTypes  []TypeScore       `json:"alternativeTypes"`
	ExtractedFeatures ExtractedFeatures `json:"extractedFeatures"`
	Metadata          Metadata          `json:"metadata"`
}

// Classifier scores text against a catalog
type Classifier struct {
	catalog *Catalog
}

// NewClassifier creates a classifier over catalog, or the built-in catalog when nil
func NewClassifier(catalog *Catalog) *Classifier {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Classifier{catalog: catalog}
}

// Catalog returns the catalog in use
func (c *Classifier) Catalog() *Catalog {
	return c.catalog
}

// ClassifyDocument scores text against every type. When layout is nil it is
// derived from the text. image is recorded in the metadata only.
func (c *Classifier) ClassifyDocument(text string, layout *LayoutAnalysis, image *ocr.ImageMetadata) *Result {
	start := time.Now()

	if layout == nil {
		layout = AnalyzeLayout(text)
	}
	lower := strings.ToLower(text)
	structure := DetectStructure(text)
	arabic, english := scriptRatios(text)

	scores := make([]TypeScore, 0, len(c.catalog.types))
	for _, t := range c.catalog.types {
		b := ScoreBreakdown{
			Keyword:   keywordScore(lower, t.Patterns),
			Structure: structureScore(structure, t.Patterns.Structure),
			Layout:    layoutScore(layout, t.Patterns.Layout),
			Language:  languageScore(arabic, english, t.Metadata.Language),
		}
		scores = append(scores, TypeScore{
			DocumentType: t,
			Confidence:   clamp01(KeywordWeight*b.Keyword + StructureWeight*b.Structure + LayoutWeight*b.Layout + LanguageWeight*b.Language),
			Breakdown:    b,
		})
	}

	// stable sort keeps catalog order among equal scores
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Confidence > scores[j].Confidence })

	best := scores[0]
	alternatives := scores[1:]
	if len(alternatives) > maxAlternatives {
		alternatives = alternatives[:maxAlternatives]
	}
	alts := make([]TypeScore, len(alternatives))
	for i, a := range alternatives {
		a.DocumentType = a.DocumentType.clone()
		alts[i] = a
	}

	return &Result{
		DocumentType:     best.DocumentType.clone(),
		Confidence:       best.Confidence,
		Breakdown:        best.Breakdown,
		AlternativeTypes: alts,
		ExtractedFeatures: ExtractedFeatures{
			Keywords:              matchedKeywords(lower, best.DocumentType.Patterns),
			Layout:                layoutFeatures(layout),
			Structure:             structureFeatures(structure),
			HandwritingIndicators: DetectHandwriting(text),
		},
		Metadata: Metadata{
			ProcessingTime: time.Since(start),
			TextLength:     len([]rune(text)),
			ArabicRatio:    arabic,
			EnglishRatio:   english,
			ScoredTypes:    len(scores),
			ImageMetadata:  image,
		},
	}
}

// keywordScore is the share of the type's keywords, in either language,
// found as substrings of the lower-cased text
func keywordScore(lower string, p Patterns) float64 {
	total := len(p.Keywords) + len(p.KeywordsAr)
	if total == 0 {
		return 0
	}
	return float64(len(matchedKeywords(lower, p))) / float64(total)
}

func matchedKeywords(lower string, p Patterns) []string {
	var found []string
	for _, list := range [][]string{p.Keywords, p.KeywordsAr} {
		for _, kw := range list {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				found = append(found, kw)
			}
		}
	}
	return found
}

// structureScore weights each declared pattern by how well the detected
// count matches the expected one
func structureScore(counts StructureCounts, patterns []StructurePattern) float64 {
	if len(patterns) == 0 {
		return neutralScore
	}
	var sum, weights float64
	for _, p := range patterns {
		weights += p.Weight
		found := counts[p.Type]
		if found == 0 {
			continue
		}
		per := structureTypeMatch
		if expected := p.Count; expected > 0 {
			hi := found
			if expected > hi {
				hi = expected
			}
			per += structureCountBonus * (1 - float64(abs(expected-found))/float64(hi))
		} else {
			per += structureCountBonus
		}
		sum += per * p.Weight
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

// layoutScore is the weighted share of declared (type, position) pairs present
func layoutScore(layout *LayoutAnalysis, patterns []LayoutPattern) float64 {
	if len(patterns) == 0 {
		return neutralScore
	}
	var sum, weights float64
	for _, p := range patterns {
		weights += p.Weight
		if layout.HasRegion(p.Type, p.Position) {
			sum += p.Weight
		}
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

func languageScore(arabic, english float64, language string) float64 {
	switch language {
	case "arabic":
		return arabic
	case "english":
		return english
	case "bilingual":
		if s := arabic + english; s < 1 {
			return s
		}
		return 1
	}
	return 0
}

// scriptRatios returns the Arabic and Latin shares of the letters in text
func scriptRatios(text string) (arabic, english float64) {
	var ar, en, letters int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		switch {
		case unicode.Is(unicode.Arabic, r):
			ar++
		case unicode.Is(unicode.Latin, r):
			en++
		}
	}
	if letters == 0 {
		return 0, 0
	}
	return float64(ar) / float64(letters), float64(en) / float64(letters)
}

func layoutFeatures(layout *LayoutAnalysis) []LayoutFeature {
	features := make([]LayoutFeature, 0, len(layout.Regions))
	for _, r := range layout.Regions {
		features = append(features, LayoutFeature{Type: r.Type, Position: r.Position})
	}
	return features
}

func structureFeatures(counts StructureCounts) []StructureFeature {
	var features []StructureFeature
	for _, name := range []string{StructureNumberedList, StructureBulletPoints, StructureArticleHeaders, StructureFormFields, StructureParagraphs} {
		if n := counts[name]; n > 0 {
			features = append(features, StructureFeature{Type: name, Count: n})
		}
	}
	return features
}
