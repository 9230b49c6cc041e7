package storage

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// TrigramDimensions is the size of the similarity vectors
const TrigramDimensions = 256

// TrigramVector hashes the character trigrams of text into a fixed-size,
// L2-normalized vector. Letters and digits are kept, every other run of
// characters collapses to one space, so the same document recognized twice
// with small OCR differences lands close in cosine distance. Text with fewer
// than three characters yields nil.
func TrigramVector(text string, dims int) []float32 {
	if dims <= 0 {
		dims = TrigramDimensions
	}

	runes := normalizeForTrigrams(text)
	if len(runes) < 3 {
		return nil
	}

	vec := make([]float64, dims)
	h := fnv.New32a()
	for i := 0; i+3 <= len(runes); i++ {
		h.Reset()
		h.Write([]byte(string(runes[i : i+3])))
		vec[h.Sum32()%uint32(dims)]++
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, dims)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func normalizeForTrigrams(text string) []rune {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteRune(' ')
			space = true
		}
	}
	return []rune(strings.TrimSpace(b.String()))
}
