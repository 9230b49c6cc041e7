/**
 * Quality Assessor
 *
 * Scores a recognized document on five dimensions:
 * - Text clarity
 * - Structural integrity
 * - Language consistency
 * - Content completeness
 * - Engine confidence
 *
 * Each dimension starts from a base score and loses points for every issue
 * it detects. The mean of the five drives the letter grade and, with the
 * issue severities, the manual review decision.
 */

package quality

import (
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"gonum.org/v1/gonum/stat"

	"github.com/adverant/nexus/docintel-worker/internal/classifier"
	"github.com/adverant/nexus/docintel-worker/internal/enhancer"
	"github.com/adverant/nexus/docintel-worker/internal/ocr"
)

const (
	baseScore = 0.8

	minContentRunes        = 50
	shortContentRunes      = 200
	longDocumentRunes      = 1000
	shortLineRunes         = 10
	minLinesForShortCheck  = 5
	shortFragmentRunes     = 10
	minSentencesForCheck   = 3
	lowWordConfidence      = 0.6
	criticalConfidence     = 0.5
	highConfidence         = 0.7
	confidenceStdDevLimit  = 0.3
	minimumContentScore    = 0.1
	manualReviewOverall    = 0.6
	manualReviewConfidence = 0.5
)

var (
	tenDigitRun    = regexp.MustCompile(`[0-9٠-٩۰-۹]{10}`)
	decimalAmount  = regexp.MustCompile(`[0-9٠-٩]+[.,٫][0-9٠-٩]{2}`)
	sentencePiece  = regexp.MustCompile(`[^.!?؟\n]+[.!?؟]`)
	paragraphBreak = regexp.MustCompile(`\n\s*\n`)
)

// an employment contract carries at least minEmploymentElements of these
var employmentElements = []string{"عقد", "راتب", "مهام", "إنهاء", "مدة", "الطرف"}

const minEmploymentElements = 3

// document is the shared view every dimension reads
type document struct {
	text       string
	runes      int
	words      []string
	wordConfs  []float64
	engineConf float64
	docType    string
	enh        *enhancer.Result
}

// AssessQuality scores a recognized document. Every argument may be nil;
// missing input degrades to minimum scores and explanatory issues.
func AssessQuality(result *ocr.Result, cls *classifier.Result, enh *enhancer.Result, image []byte) *Result {
	start := time.Now()
	doc := newDocument(result, cls, enh)

	assessment := &Result{}
	scores := &assessment.OverallQuality

	scores.TextClarity = assessment.score(assessTextClarity(doc))
	scores.StructuralIntegrity = assessment.score(assessStructure(doc))
	scores.LanguageConsistency = assessment.score(assessLanguage(doc))
	scores.ContentCompleteness = assessment.score(assessCompleteness(doc))
	scores.Confidence = assessment.score(assessConfidence(doc))
	scores.Overall = (scores.TextClarity + scores.StructuralIntegrity + scores.LanguageConsistency +
		scores.ContentCompleteness + scores.Confidence) / 5

	assessment.QualityGrade = GradeFor(scores.Overall)
	assessment.NeedsManualReview = needsManualReview(assessment)
	assessment.Recommendations = recommend(assessment, cls)

	assessment.ProcessingMetadata = ProcessingMetadata{
		ProcessingTime: time.Since(start),
		TextLength:     doc.runes,
		WordCount:      len(doc.words),
		ImageSizeBytes: len(image),
		DocumentType:   doc.docType,
	}
	if result != nil {
		assessment.ProcessingMetadata.EngineUsed = result.Metadata.EngineUsed
	}
	return assessment
}

func newDocument(result *ocr.Result, cls *classifier.Result, enh *enhancer.Result) *document {
	doc := &document{enh: enh}
	if result != nil {
		doc.text = result.Text
		doc.engineConf = clamp01(result.Confidence)
		for _, w := range result.Words {
			doc.wordConfs = append(doc.wordConfs, clamp01(w.Confidence))
		}
	}
	if cls != nil {
		doc.docType = cls.DocumentType.ID
	}
	doc.runes = utf8.RuneCountInString(strings.TrimSpace(doc.text))
	doc.words = strings.Fields(doc.text)
	return doc
}

// score records the issues and returns the clamped score
func (r *Result) score(score float64, issues []Issue) float64 {
	r.Issues = append(r.Issues, issues...)
	return clamp01(score)
}

// GradeFor maps an overall score to a letter grade
func GradeFor(overall float64) Grade {
	switch {
	case overall >= GradeAThreshold:
		return GradeA
	case overall >= GradeBThreshold:
		return GradeB
	case overall >= GradeCThreshold:
		return GradeC
	case overall >= GradeDThreshold:
		return GradeD
	}
	return GradeF
}

func needsManualReview(r *Result) bool {
	return r.countSeverity(SeverityCritical) > 0 ||
		r.OverallQuality.Overall < manualReviewOverall ||
		r.countSeverity(SeverityHigh) >= 2 ||
		r.OverallQuality.Confidence < manualReviewConfidence
}

func assessTextClarity(doc *document) (float64, []Issue) {
	score := baseScore
	var issues []Issue

	if len(doc.words) > 0 {
		single := 0
		for _, w := range doc.words {
			if utf8.RuneCountInString(strings.TrimFunc(w, unicode.IsPunct)) == 1 {
				single++
			}
		}
		if ratio := float64(single) / float64(len(doc.words)); ratio > 0.3 {
			score -= 0.2
			issues = append(issues, Issue{
				Type:         IssueFragmentedText,
				Severity:     SeverityMedium,
				Dimension:    DimensionTextClarity,
				Description:  "Many single-character words suggest broken character recognition",
				Confidence:   clamp01(ratio),
				SuggestedFix: "Rescan at a higher resolution",
			})
		}
	}

	var visible, unusual int
	for _, r := range doc.text {
		if unicode.IsSpace(r) {
			continue
		}
		visible++
		if !isExpectedRune(r) {
			unusual++
		}
	}
	if visible > 0 {
		if ratio := float64(unusual) / float64(visible); ratio > 0.1 {
			score -= 0.2
			issues = append(issues, Issue{
				Type:        IssueUnusualCharacters,
				Severity:    SeverityMedium,
				Dimension:   DimensionTextClarity,
				Description: "Text contains many characters outside the Arabic and Latin alphabets",
				Confidence:  clamp01(ratio),
			})
		}
	}

	if len(doc.wordConfs) > 0 {
		low := 0
		for _, c := range doc.wordConfs {
			if c < lowWordConfidence {
				low++
			}
		}
		if ratio := float64(low) / float64(len(doc.wordConfs)); ratio > 0.3 {
			score -= 0.2
			severity := SeverityMedium
			if ratio > 0.5 {
				severity = SeverityHigh
			}
			issues = append(issues, Issue{
				Type:         IssueLowWordConfidence,
				Severity:     severity,
				Dimension:    DimensionTextClarity,
				Description:  "A large share of words were recognized with low confidence",
				Confidence:   clamp01(ratio),
				SuggestedFix: "Enhance image contrast before recognition",
			})
		}
	}

	return score, issues
}

func isExpectedRune(r rune) bool {
	return unicode.Is(unicode.Arabic, r) || unicode.Is(unicode.Latin, r) ||
		unicode.IsDigit(r) || unicode.IsPunct(r) || unicode.IsMark(r) || unicode.Is(unicode.Cf, r)
}

func assessStructure(doc *document) (float64, []Issue) {
	score := baseScore
	var issues []Issue

	if doc.runes > longDocumentRunes && len(paragraphBreak.Split(strings.TrimSpace(doc.text), -1)) == 1 {
		score -= 0.15
		issues = append(issues, Issue{
			Type:         IssueSingleParagraph,
			Severity:     SeverityLow,
			Dimension:    DimensionStructuralIntegrity,
			Description:  "Long document recognized as a single paragraph",
			Confidence:   0.7,
			SuggestedFix: "Enable layout preservation",
		})
	}

	var lines, short int
	for _, l := range strings.Split(doc.text, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		lines++
		if utf8.RuneCountInString(l) < shortLineRunes {
			short++
		}
	}
	if lines >= minLinesForShortCheck && float64(short)/float64(lines) > 0.5 {
		score -= 0.15
		issues = append(issues, Issue{
			Type:        IssueShortLines,
			Severity:    SeverityMedium,
			Dimension:   DimensionStructuralIntegrity,
			Description: "Most lines are very short, the layout may be broken",
			Confidence:  clamp01(float64(short) / float64(lines)),
		})
	}

	if issue, penalty, ok := checkTypeElements(doc); ok {
		score -= penalty
		issues = append(issues, issue)
	}

	return score, issues
}

// checkTypeElements verifies elements every document of the classified type carries
func checkTypeElements(doc *document) (Issue, float64, bool) {
	missing := func(severity Severity, description string) Issue {
		return Issue{
			Type:         IssueMissingTypeElements,
			Severity:     severity,
			Dimension:    DimensionStructuralIntegrity,
			Description:  description,
			Confidence:   0.8,
			SuggestedFix: "Confirm the document type or rescan missing pages",
		}
	}

	switch doc.docType {
	case "employment_contract":
		found := 0
		for _, kw := range employmentElements {
			if strings.Contains(doc.text, kw) {
				found++
			}
		}
		if found < minEmploymentElements {
			return missing(SeverityHigh, "Employment contract lacks its expected clauses"), 0.2, true
		}
	case "national_id":
		if !tenDigitRun.MatchString(doc.text) {
			return missing(SeverityHigh, "National ID has no 10-digit identity number"), 0.2, true
		}
	case "bank_statement":
		if !decimalAmount.MatchString(doc.text) {
			return missing(SeverityMedium, "Bank statement has no monetary amounts"), 0.15, true
		}
	}
	return Issue{}, 0, false
}

func assessLanguage(doc *document) (float64, []Issue) {
	var arabic, latin int
	for _, r := range doc.text {
		switch {
		case unicode.Is(unicode.Arabic, r) && unicode.IsLetter(r):
			arabic++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}
	if arabic+latin == 0 {
		return 0, []Issue{{
			Type:        IssueNoReadableText,
			Severity:    SeverityCritical,
			Dimension:   DimensionLanguageConsistency,
			Description: "No Arabic or Latin text was recognized",
			Confidence:  1.0,
		}}
	}

	score := baseScore
	var issues []Issue

	if arabic > 0 && doc.enh != nil && !doc.enh.HasRTL() {
		score -= 0.2
		issues = append(issues, Issue{
			Type:         IssueMissingRTLSegments,
			Severity:     SeverityMedium,
			Dimension:    DimensionLanguageConsistency,
			Description:  "Arabic text present but no right-to-left segment was detected",
			Confidence:   0.7,
			SuggestedFix: "Enable RTL layout enhancement",
		})
	}

	var lettered, alternating int
	for _, w := range doc.words {
		switches, hasLetters := scriptSwitches(w)
		if !hasLetters {
			continue
		}
		lettered++
		if switches > 0 {
			alternating++
		}
	}
	if lettered > 0 {
		if ratio := float64(alternating) / float64(lettered); ratio > 0.1 {
			score -= 0.15
			issues = append(issues, Issue{
				Type:        IssueScriptAlternation,
				Severity:    SeverityMedium,
				Dimension:   DimensionLanguageConsistency,
				Description: "Arabic and Latin characters alternate inside words",
				Confidence:  clamp01(ratio),
			})
		}
	}

	return score, issues
}

// scriptSwitches counts Arabic/Latin changes between consecutive letters of a word
func scriptSwitches(word string) (int, bool) {
	const (
		none = iota
		arabic
		latin
	)
	prev, switches, letters := none, 0, 0
	for _, r := range word {
		cur := none
		switch {
		case unicode.Is(unicode.Arabic, r) && unicode.IsLetter(r):
			cur = arabic
		case unicode.Is(unicode.Latin, r):
			cur = latin
		default:
			continue
		}
		letters++
		if prev != none && cur != prev {
			switches++
		}
		prev = cur
	}
	return switches, letters > 0
}

func assessCompleteness(doc *document) (float64, []Issue) {
	score := baseScore
	var issues []Issue

	switch {
	case doc.runes < minContentRunes:
		score = minimumContentScore
		issues = append(issues, Issue{
			Type:         IssueMissingContent,
			Severity:     SeverityCritical,
			Dimension:    DimensionContentCompleteness,
			Description:  "Recognized text is too short to be a complete document",
			Confidence:   0.9,
			SuggestedFix: "Verify the image contains the full document",
		})
	case doc.runes < shortContentRunes:
		score -= 0.2
		issues = append(issues, Issue{
			Type:        IssueInsufficientContent,
			Severity:    SeverityMedium,
			Dimension:   DimensionContentCompleteness,
			Description: "Recognized text is shorter than expected",
			Confidence:  0.7,
		})
	}

	if len(doc.words) > 0 {
		incomplete := 0
		for _, w := range doc.words {
			if isIncompleteWord(w) {
				incomplete++
			}
		}
		if ratio := float64(incomplete) / float64(len(doc.words)); ratio > 0.2 {
			score -= 0.15
			issues = append(issues, Issue{
				Type:        IssueIncompleteWords,
				Severity:    SeverityMedium,
				Dimension:   DimensionContentCompleteness,
				Description: "Many words appear cut off",
				Confidence:  clamp01(ratio),
			})
		}
	}

	sentences := sentencePiece.FindAllString(doc.text, -1)
	if len(sentences) >= minSentencesForCheck {
		short := 0
		for _, s := range sentences {
			if utf8.RuneCountInString(strings.TrimSpace(s)) < shortFragmentRunes {
				short++
			}
		}
		if ratio := float64(short) / float64(len(sentences)); ratio > 0.3 {
			score -= 0.1
			issues = append(issues, Issue{
				Type:        IssueFragmentedSentences,
				Severity:    SeverityLow,
				Dimension:   DimensionContentCompleteness,
				Description: "Many sentences are short fragments",
				Confidence:  clamp01(ratio),
			})
		}
	}

	return score, issues
}

// isIncompleteWord flags words cut at a hyphen or tatweel, or holding a
// replacement character
func isIncompleteWord(w string) bool {
	if strings.ContainsRune(w, utf8.RuneError) {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(w)
	return utf8.RuneCountInString(w) > 1 && (last == '-' || last == 'ـ')
}

func assessConfidence(doc *document) (float64, []Issue) {
	score := doc.engineConf
	var issues []Issue

	switch {
	case doc.engineConf < criticalConfidence:
		score -= 0.3
		issues = append(issues, Issue{
			Type:         IssueLowConfidence,
			Severity:     SeverityCritical,
			Dimension:    DimensionConfidence,
			Description:  "OCR engine confidence is critically low",
			Confidence:   1 - doc.engineConf,
			SuggestedFix: "Retry with another engine or an enhanced image",
		})
	case doc.engineConf < highConfidence:
		score -= 0.15
		issues = append(issues, Issue{
			Type:         IssueLowConfidence,
			Severity:     SeverityHigh,
			Dimension:    DimensionConfidence,
			Description:  "OCR engine confidence is low",
			Confidence:   1 - doc.engineConf,
			SuggestedFix: "Retry with another engine or an enhanced image",
		})
	}

	if len(doc.wordConfs) >= 2 {
		if sd := stat.StdDev(doc.wordConfs, nil); sd > confidenceStdDevLimit {
			score -= 0.1
			issues = append(issues, Issue{
				Type:        IssueInconsistentConfidence,
				Severity:    SeverityMedium,
				Dimension:   DimensionConfidence,
				Description: "Word confidences vary widely across the page",
				Confidence:  clamp01(sd),
			})
		}
	}

	return score, issues
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
