package classifier

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Structure detector names, as used in catalog structure patterns
const (
	StructureNumberedList   = "numbered_list"
	StructureBulletPoints   = "bullet_points"
	StructureArticleHeaders = "article_headers"
	StructureFormFields     = "form_fields"
	StructureParagraphs     = "paragraphs"
)

// minParagraphRunes is the size a blank-line separated block needs to count
// as a paragraph
const minParagraphRunes = 60

var blankLine = regexp.MustCompile(`\n\s*\n`)

var lineDetectors = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{StructureNumberedList, regexp.MustCompile(`^\s*(\d{1,3}|[٠-٩]{1,3}|[a-zA-Z])\s*[.)\-]\s*\S`)},
	{StructureBulletPoints, regexp.MustCompile(`^\s*[•\-*▪○◦·]\s+\S`)},
	{StructureArticleHeaders, regexp.MustCompile(`(?i)^\s*(article|section|clause|المادة|البند|الفقرة)(\s|$|[:(])`)},
	{StructureFormFields, regexp.MustCompile(`^\s*[^:：\s][^:：]{0,39}[:：]`)},
}

// StructureCounts maps a detector name to the number of matches
type StructureCounts map[string]int

// DetectStructure runs every structural detector over text
func DetectStructure(text string) StructureCounts {
	counts := StructureCounts{
		StructureNumberedList:   0,
		StructureBulletPoints:   0,
		StructureArticleHeaders: 0,
		StructureFormFields:     0,
		StructureParagraphs:     0,
	}

	for _, line := range strings.Split(text, "\n") {
		for _, d := range lineDetectors {
			if d.pattern.MatchString(line) {
				counts[d.name]++
			}
		}
	}
	counts[StructureParagraphs] = countParagraphs(text)
	return counts
}

// countParagraphs counts blank-line separated blocks long enough to be prose
func countParagraphs(text string) int {
	n := 0
	for _, block := range blankLine.Split(text, -1) {
		if utf8.RuneCountInString(strings.TrimSpace(block)) >= minParagraphRunes {
			n++
		}
	}
	return n
}
