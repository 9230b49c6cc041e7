/**
 * Text Layout Analyzer
 *
 * Derives coarse layout regions from recognized text when no visual layout
 * is supplied:
 * - Header, body and footer regions by line position
 * - Delimiter-based tables (pipes, tabs, commas)
 * - Signature and stamp blocks by their captions
 *
 * Regions are tagged top, middle or bottom by their place among the lines.
 */

package classifier

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Region types
const (
	RegionHeader    = "header"
	RegionBody      = "body"
	RegionFooter    = "footer"
	RegionTable     = "table"
	RegionSignature = "signature"
	RegionStamp     = "stamp"
)

// Region positions
const (
	PositionTop    = "top"
	PositionMiddle = "middle"
	PositionBottom = "bottom"
)

// LayoutAnalysis is the set of regions found in a document
type LayoutAnalysis struct {
	Confidence float64        `json:"confidence"`
	Regions    []LayoutRegion `json:"regions"`
	Tables     []Table        `json:"tables"`
}

// LayoutRegion is a run of lines sharing a type and position
type LayoutRegion struct {
	ID         int     `json:"id"`
	Type       string  `json:"type"`
	Position   string  `json:"position"`
	Confidence float64 `json:"confidence"`
	Content    string  `json:"content"`
	StartLine  int     `json:"startLine"`
	EndLine    int     `json:"endLine"`
}

// Table is a delimiter-separated block of rows
type Table struct {
	ID         int        `json:"id"`
	Delimiter  string     `json:"delimiter"`
	Rows       [][]string `json:"rows"`
	Confidence float64    `json:"confidence"`
}

// heuristicLayoutConfidence is lower than a visual analysis would report
const heuristicLayoutConfidence = 0.70

const maxHeaderRunes = 80

var (
	signaturePattern = regexp.MustCompile(`(?i)(التوقيع|توقيع|signature|signed by)`)
	stampPattern     = regexp.MustCompile(`(?i)(الختم|ختم|stamp|seal)`)
	footerPattern    = regexp.MustCompile(`(?i)(صفحة\s*\d+|page\s*\d+|\d+\s*/\s*\d+$|www\.|@|هاتف|tel[:.]?)`)
)

// AnalyzeLayout derives layout regions from plain text
func AnalyzeLayout(text string) *LayoutAnalysis {
	lines := splitIntoLines(text)
	analysis := &LayoutAnalysis{Confidence: heuristicLayoutConfidence}
	if len(lines) == 0 {
		analysis.Confidence = 0
		return analysis
	}

	tableRegions := detectTableRegions(lines)
	inTable := make([]bool, len(lines))
	for id, tr := range tableRegions {
		for i := tr.startLine; i <= tr.endLine; i++ {
			inTable[i] = true
		}
		analysis.Tables = append(analysis.Tables, tableFromRegion(id, tr))
	}

	var current *LayoutRegion
	for i, line := range lines {
		regionType := classifyLine(i, len(lines), line, inTable[i])
		position := linePosition(i, len(lines))

		if current != nil && current.Type == regionType && current.Position == position {
			current.Content += "\n" + line
			current.EndLine = i
			continue
		}
		analysis.Regions = append(analysis.Regions, LayoutRegion{
			ID:         len(analysis.Regions),
			Type:       regionType,
			Position:   position,
			Confidence: heuristicLayoutConfidence,
			Content:    line,
			StartLine:  i,
			EndLine:    i,
		})
		current = &analysis.Regions[len(analysis.Regions)-1]
	}

	return analysis
}

// HasRegion reports whether a (type, position) region was found
func (l *LayoutAnalysis) HasRegion(regionType, position string) bool {
	if l == nil {
		return false
	}
	for _, r := range l.Regions {
		if r.Type == regionType && r.Position == position {
			return true
		}
	}
	return false
}

func classifyLine(i, n int, line string, inTable bool) string {
	switch {
	case inTable:
		return RegionTable
	case signaturePattern.MatchString(line):
		return RegionSignature
	case stampPattern.MatchString(line):
		return RegionStamp
	case i == 0 && n > 1 && utf8.RuneCountInString(line) <= maxHeaderRunes:
		return RegionHeader
	case i == n-1 && n > 2 && footerPattern.MatchString(line):
		return RegionFooter
	}
	return RegionBody
}

// linePosition places line i of n by the center of its slot
func linePosition(i, n int) string {
	f := (float64(i) + 0.5) / float64(n)
	switch {
	case f < 0.2:
		return PositionTop
	case f >= 0.8:
		return PositionBottom
	}
	return PositionMiddle
}

type tableRegion struct {
	startLine int
	endLine   int
	delimiter string
	lines     []string
}

// detectTableRegions finds runs of 2+ lines sharing a delimiter with a
// column count that varies by at most one
func detectTableRegions(lines []string) []tableRegion {
	var regions []tableRegion

	i := 0
	for i < len(lines) {
		delimiter := detectDelimiter(lines[i])
		if delimiter == "" {
			i++
			continue
		}

		start := i
		regionLines := []string{lines[i]}
		expectedCols := strings.Count(lines[i], delimiter)

		i++
		for i < len(lines) && detectDelimiter(lines[i]) == delimiter {
			if abs(strings.Count(lines[i], delimiter)-expectedCols) > 1 {
				break
			}
			regionLines = append(regionLines, lines[i])
			i++
		}

		if len(regionLines) >= 2 {
			regions = append(regions, tableRegion{
				startLine: start,
				endLine:   i - 1,
				delimiter: delimiter,
				lines:     regionLines,
			})
		}
	}

	return regions
}

func tableFromRegion(id int, region tableRegion) Table {
	rows := make([][]string, 0, len(region.lines))
	for _, line := range region.lines {
		cells := strings.Split(line, region.delimiter)
		if region.delimiter == "|" {
			// leading and trailing pipes leave empty edge cells
			if len(cells) > 0 && strings.TrimSpace(cells[0]) == "" {
				cells = cells[1:]
			}
			if len(cells) > 0 && strings.TrimSpace(cells[len(cells)-1]) == "" {
				cells = cells[:len(cells)-1]
			}
		}
		for j := range cells {
			cells[j] = strings.TrimSpace(cells[j])
		}
		rows = append(rows, cells)
	}
	return Table{ID: id, Delimiter: region.delimiter, Rows: rows, Confidence: 0.60}
}

// detectDelimiter returns the first delimiter appearing at least twice.
// Arabic comma counts as a comma.
func detectDelimiter(line string) string {
	for _, delim := range []string{"|", "\t", ",", "،"} {
		if strings.Count(line, delim) >= 2 {
			return delim
		}
	}
	return ""
}

// splitIntoLines returns the trimmed non-empty lines
func splitIntoLines(text string) []string {
	var lines []string
	for _, l := range strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' }) {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
