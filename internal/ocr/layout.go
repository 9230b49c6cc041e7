package ocr

import (
	"bytes"
	"sort"
	"strings"
	"unicode"
)

// LineClusterThreshold is the default maximum vertical-center distance, in
// pixels, for two words to share a line.
const LineClusterThreshold = 10

// ClusterLines groups a flat word list into lines. Words are visited in order
// of vertical center; a word joins the current line while its center is
// within threshold of the line's running center. Every word lands in exactly
// one line.
func ClusterLines(words []Word, threshold int) []Line {
	if len(words) == 0 {
		return nil
	}
	if threshold <= 0 {
		threshold = LineClusterThreshold
	}

	sorted := make([]Word, len(words))
	copy(sorted, words)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].BBox.CenterY() < sorted[j].BBox.CenterY()
	})

	var groups [][]Word
	var current []Word
	var centerSum float64

	for _, w := range sorted {
		if len(current) > 0 {
			center := centerSum / float64(len(current))
			if abs(w.BBox.CenterY()-center) >= float64(threshold) {
				groups = append(groups, current)
				current = nil
				centerSum = 0
			}
		}
		current = append(current, w)
		centerSum += w.BBox.CenterY()
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}

	lines := make([]Line, 0, len(groups))
	for _, g := range groups {
		lines = append(lines, newLine(g))
	}
	return lines
}

// newLine orders words in reading order and derives the line text, box and confidence.
// Predominantly Arabic lines read right to left.
func newLine(words []Word) Line {
	rtl := isMostlyArabic(words)
	sort.SliceStable(words, func(i, j int) bool {
		if rtl {
			return words[i].BBox.X1 > words[j].BBox.X1
		}
		return words[i].BBox.X0 < words[j].BBox.X0
	})

	texts := make([]string, 0, len(words))
	box := words[0].BBox
	var confSum float64
	for _, w := range words {
		texts = append(texts, w.Text)
		box = box.Union(w.BBox)
		confSum += w.Confidence
	}

	return Line{
		Text:       strings.Join(texts, " "),
		Confidence: clamp01(confSum / float64(len(words))),
		BBox:       box,
		Words:      words,
	}
}

// GroupBlocks splits lines into blocks wherever the vertical gap between
// consecutive lines exceeds gap pixels. Lines are assumed to be in top-to-bottom order.
func GroupBlocks(lines []Line, gap int) []Block {
	if len(lines) == 0 {
		return nil
	}
	if gap <= 0 {
		gap = 2 * LineClusterThreshold
	}

	var blocks []Block
	start := 0
	for i := 1; i <= len(lines); i++ {
		if i < len(lines) && lines[i].BBox.Y0-lines[i-1].BBox.Y1 <= gap {
			continue
		}
		blocks = append(blocks, newBlock(lines[start:i]))
		start = i
	}
	return blocks
}

func newBlock(lines []Line) Block {
	owned := make([]Line, len(lines))
	copy(owned, lines)

	texts := make([]string, 0, len(owned))
	box := owned[0].BBox
	var confSum float64
	for _, l := range owned {
		texts = append(texts, l.Text)
		box = box.Union(l.BBox)
		confSum += l.Confidence
	}

	return Block{
		Text:       strings.Join(texts, "\n"),
		Confidence: clamp01(confSum / float64(len(owned))),
		BBox:       box,
		Lines:      owned,
	}
}

// assembleLayout fills Lines, Blocks and the flat Words view from lines
func assembleLayout(result *Result, lines []Line, blockGap int) {
	result.Lines = lines
	result.Blocks = GroupBlocks(lines, blockGap)
	result.Words = flattenWords(lines)
}

func flattenWords(lines []Line) []Word {
	var words []Word
	for _, l := range lines {
		words = append(words, l.Words...)
	}
	return words
}

// linesText joins line texts with newlines
func linesText(lines []Line) string {
	texts := make([]string, 0, len(lines))
	for _, l := range lines {
		texts = append(texts, l.Text)
	}
	return strings.Join(texts, "\n")
}

// meanWordConfidence averages word confidences; ok is false for an empty list
func meanWordConfidence(words []Word) (float64, bool) {
	if len(words) == 0 {
		return 0, false
	}
	var sum float64
	for _, w := range words {
		sum += w.Confidence
	}
	return clamp01(sum / float64(len(words))), true
}

// detectLanguages reports which scripts appear in text, Arabic first
func detectLanguages(text string) []string {
	var arabic, latin bool
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Arabic, r) && unicode.IsLetter(r):
			arabic = true
		case r < unicode.MaxASCII && unicode.IsLetter(r):
			latin = true
		}
		if arabic && latin {
			break
		}
	}
	var langs []string
	if arabic {
		langs = append(langs, "ar")
	}
	if latin {
		langs = append(langs, "en")
	}
	return langs
}

func isMostlyArabic(words []Word) bool {
	var arabic, other int
	for _, w := range words {
		for _, r := range w.Text {
			if !unicode.IsLetter(r) {
				continue
			}
			if unicode.Is(unicode.Arabic, r) {
				arabic++
			} else {
				other++
			}
		}
	}
	return arabic > other
}

// DetectMimeType sniffs the image container from magic bytes
func DetectMimeType(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	// PDF: %PDF-
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return "application/pdf"
	}

	// PNG: 0x89 'P' 'N' 'G' 0x0D 0x0A 0x1A 0x0A
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return "image/png"
	}

	// JPEG: 0xFF 0xD8 0xFF
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return "image/jpeg"
	}

	// GIF87a / GIF89a
	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return "image/gif"
	}

	// WebP: 'R' 'I' 'F' 'F' .... 'W' 'E' 'B' 'P'
	if len(data) > 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}

	// TIFF little-endian or big-endian
	if bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}) {
		return "image/tiff"
	}

	// BMP: 'B' 'M'
	if bytes.HasPrefix(data, []byte("BM")) {
		return "image/bmp"
	}

	return ""
}

// IsRecognizableImage reports whether the engines accept the given MIME type
func IsRecognizableImage(mimeType string) bool {
	switch mimeType {
	case "image/png", "image/jpeg", "image/gif", "image/webp", "image/tiff", "image/bmp":
		return true
	}
	return false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
