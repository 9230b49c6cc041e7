package quality

import (
	"time"
)

// Severity of a quality issue
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IssueType names a detected quality problem
type IssueType string

const (
	IssueFragmentedText         IssueType = "fragmented_text"
	IssueUnusualCharacters      IssueType = "unusual_characters"
	IssueLowWordConfidence      IssueType = "low_word_confidence"
	IssueSingleParagraph        IssueType = "single_paragraph"
	IssueShortLines             IssueType = "short_lines"
	IssueMissingTypeElements    IssueType = "missing_type_elements"
	IssueNoReadableText         IssueType = "no_readable_text"
	IssueMissingRTLSegments     IssueType = "missing_rtl_segments"
	IssueScriptAlternation      IssueType = "script_alternation"
	IssueMissingContent         IssueType = "missing_content"
	IssueInsufficientContent    IssueType = "insufficient_content"
	IssueIncompleteWords        IssueType = "incomplete_words"
	IssueFragmentedSentences    IssueType = "fragmented_sentences"
	IssueLowConfidence          IssueType = "low_confidence"
	IssueInconsistentConfidence IssueType = "inconsistent_confidence"
)

// Dimension names, used to tag issues
const (
	DimensionTextClarity         = "text_clarity"
	DimensionStructuralIntegrity = "structural_integrity"
	DimensionLanguageConsistency = "language_consistency"
	DimensionContentCompleteness = "content_completeness"
	DimensionConfidence          = "confidence"
)

// Issue is one detected problem
type Issue struct {
	Type         IssueType `json:"type"`
	Severity     Severity  `json:"severity"`
	Dimension    string    `json:"dimension"`
	Description  string    `json:"description"`
	Confidence   float64   `json:"confidence"`
	SuggestedFix string    `json:"suggestedFix,omitempty"`
}

// Scores holds the five dimensions and their mean
type Scores struct {
	TextClarity         float64 `json:"textClarity"`
	StructuralIntegrity float64 `json:"structuralIntegrity"`
	LanguageConsistency float64 `json:"languageConsistency"`
	ContentCompleteness float64 `json:"contentCompleteness"`
	Confidence          float64 `json:"confidence"`
	Overall             float64 `json:"overall"`
}

// Grade is the letter grade of an assessment
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// Grade thresholds on the overall score. Calibration constants carried over
// unchanged; tune them only against labeled data.
const (
	GradeAThreshold = 0.90
	GradeBThreshold = 0.80
	GradeCThreshold = 0.70
	GradeDThreshold = 0.60
)

// ProcessingMetadata describes an assessment run
type ProcessingMetadata struct {
	ProcessingTime time.Duration `json:"processingTime"`
	TextLength     int           `json:"textLength"`
	WordCount      int           `json:"wordCount"`
	ImageSizeBytes int           `json:"imageSizeBytes"`
	EngineUsed     string        `json:"engineUsed,omitempty"`
	DocumentType   string        `json:"documentType,omitempty"`
}

// Result is the outcome of AssessQuality
type Result struct {
	OverallQuality     Scores             `json:"overallQuality"`
	Issues             []Issue            `json:"issues"`
	Recommendations    []string           `json:"recommendations"`
	NeedsManualReview  bool               `json:"needsManualReview"`
	QualityGrade       Grade              `json:"qualityGrade"`
	ProcessingMetadata ProcessingMetadata `json:"processingMetadata"`
}

// HasIssue reports whether an issue of the given type was raised
func (r *Result) HasIssue(t IssueType) bool {
	for _, i := range r.Issues {
		if i.Type == t {
			return true
		}
	}
	return false
}

func (r *Result) countSeverity(s Severity) int {
	n := 0
	for _, i := range r.Issues {
		if i.Severity == s {
			n++
		}
	}
	return n
}
