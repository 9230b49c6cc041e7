package quality

import (
	"github.com/adverant/nexus/docintel-worker/internal/classifier"
)

// DefaultRecommendation is returned when no rule fires
const DefaultRecommendation = "Document quality is acceptable for automated processing"

const weakDimension = 0.6

type recommendationRule struct {
	applies func(r *Result, cls *classifier.Result) bool
	text    string
}

var recommendationRules = []recommendationRule{
	{
		applies: func(r *Result, _ *classifier.Result) bool { return r.OverallQuality.TextClarity < weakDimension },
		text:    "Rescan the document at 300 DPI or higher to improve character clarity",
	},
	{
		applies: func(r *Result, _ *classifier.Result) bool { return r.OverallQuality.StructuralIntegrity < weakDimension },
		text:    "Check page order and enable layout preservation during recognition",
	},
	{
		applies: func(r *Result, _ *classifier.Result) bool { return r.OverallQuality.LanguageConsistency < weakDimension },
		text:    "Verify the recognition language is set to Arabic and English (ara+eng)",
	},
	{
		applies: func(r *Result, _ *classifier.Result) bool { return r.OverallQuality.ContentCompleteness < weakDimension },
		text:    "Make sure the whole page is captured; the recognized content looks incomplete",
	},
	{
		applies: func(r *Result, _ *classifier.Result) bool { return r.OverallQuality.Confidence < weakDimension },
		text:    "Retry with another OCR engine or enable image enhancement",
	},
	{
		applies: func(r *Result, _ *classifier.Result) bool { return r.HasIssue(IssueMissingTypeElements) },
		text:    "Confirm the document type; elements expected for this type are missing",
	},
	{
		applies: func(r *Result, _ *classifier.Result) bool { return r.HasIssue(IssueInconsistentConfidence) },
		text:    "Review the low-confidence regions of the page manually",
	},
	{
		applies: func(r *Result, _ *classifier.Result) bool { return r.HasIssue(IssueMissingRTLSegments) },
		text:    "Enable RTL layout enhancement for Arabic content",
	},
	{
		applies: func(_ *Result, cls *classifier.Result) bool {
			return cls != nil && len(cls.ExtractedFeatures.HandwritingIndicators) > 0
		},
		text: "Handwriting detected; route the document to manual transcription review",
	},
	{
		applies: func(r *Result, _ *classifier.Result) bool { return r.NeedsManualReview },
		text:    "Hold the document for manual review before downstream use",
	},
}

func recommend(r *Result, cls *classifier.Result) []string {
	var out []string
	for _, rule := range recommendationRules {
		if rule.applies(r, cls) {
			out = append(out, rule.text)
		}
	}
	if len(out) == 0 {
		return []string{DefaultRecommendation}
	}
	return out
}
