package quality

import (
	"strings"

	"github.com/arbovm/levenshtein"
	"github.com/codycollier/wer"
)

// DiffType classifies a difference span
type DiffType string

const (
	DiffModified DiffType = "modified"
	DiffDeleted  DiffType = "deleted"
	DiffInserted DiffType = "inserted"
)

// Difference is a run of consecutive words sharing a diff type. Indexes are
// word offsets in each text.
type Difference struct {
	Type          DiffType `json:"type"`
	Original      string   `json:"original,omitempty"`
	Revised       string   `json:"revised,omitempty"`
	OriginalIndex int      `json:"originalIndex"`
	RevisedIndex  int      `json:"revisedIndex"`
	Words         int      `json:"words"`
}

// DiffSummary counts words per outcome
type DiffSummary struct {
	Matched  int `json:"matched"`
	Modified int `json:"modified"`
	Deleted  int `json:"deleted"`
	Inserted int `json:"inserted"`
}

// Comparison is the outcome of CompareTextVersions
type Comparison struct {
	Similarity        float64      `json:"similarity"`
	Differences       []Difference `json:"differences"`
	Summary           DiffSummary  `json:"summary"`
	ImprovementScore  float64      `json:"improvementScore"`
	CharacterDistance int          `json:"characterDistance"`
	WordErrorRate     float64      `json:"wordErrorRate"`
}

const (
	improvementBase        = 0.5
	maxAdditionBonus       = 0.3
	modificationPenalty    = 0.2
	modificationRatioLimit = 0.2
)

// CompareTextVersions compares two versions of a text word by word. The diff
// is a two-pointer walk with one word of lookahead, not a minimal alignment.
func CompareTextVersions(original, revised string) *Comparison {
	a := strings.Fields(original)
	b := strings.Fields(revised)

	cmp := &Comparison{
		Similarity:        jaccard(a, b),
		CharacterDistance: levenshtein.Distance(original, revised),
	}
	cmp.Differences, cmp.Summary = diffWords(a, b)
	cmp.ImprovementScore = improvementScore(len(a), cmp.Summary)

	if len(a) > 0 {
		rate, _ := wer.WER(a, b)
		cmp.WordErrorRate = rate
	} else if len(b) > 0 {
		cmp.WordErrorRate = 1
	}
	return cmp
}

// jaccard is the similarity of the two word sets; two empty texts are identical
func jaccard(a, b []string) float64 {
	setA := make(map[string]struct{}, len(a))
	for _, w := range a {
		setA[w] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, w := range b {
		setB[w] = struct{}{}
	}
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}

	inter := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func diffWords(a, b []string) ([]Difference, DiffSummary) {
	var (
		diffs   []Difference
		summary DiffSummary
	)

	// record extends the previous span when it continues with the same type
	record := func(t DiffType, i, j int, orig, rev string) {
		if n := len(diffs); n > 0 {
			last := &diffs[n-1]
			if last.Type == t && continues(last, t, i, j) {
				last.Original = joinWord(last.Original, orig)
				last.Revised = joinWord(last.Revised, rev)
				last.Words++
				return
			}
		}
		diffs = append(diffs, Difference{Type: t, Original: orig, Revised: rev, OriginalIndex: i, RevisedIndex: j, Words: 1})
	}

	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			summary.Matched++
			i++
			j++
		case j+1 < len(b) && b[j+1] == a[i]:
			record(DiffInserted, i, j, "", b[j])
			summary.Inserted++
			j++
		case i+1 < len(a) && a[i+1] == b[j]:
			record(DiffDeleted, i, j, a[i], "")
			summary.Deleted++
			i++
		default:
			record(DiffModified, i, j, a[i], b[j])
			summary.Modified++
			i++
			j++
		}
	}
	for ; i < len(a); i++ {
		record(DiffDeleted, i, j, a[i], "")
		summary.Deleted++
	}
	for ; j < len(b); j++ {
		record(DiffInserted, i, j, "", b[j])
		summary.Inserted++
	}

	return diffs, summary
}

// continues reports whether position (i, j) directly follows span last
func continues(last *Difference, t DiffType, i, j int) bool {
	switch t {
	case DiffInserted:
		return last.OriginalIndex == i && last.RevisedIndex+last.Words == j
	case DiffDeleted:
		return last.RevisedIndex == j && last.OriginalIndex+last.Words == i
	}
	return last.OriginalIndex+last.Words == i && last.RevisedIndex+last.Words == j
}

func joinWord(span, word string) string {
	if word == "" {
		return span
	}
	if span == "" {
		return word
	}
	return span + " " + word
}

// improvementScore rewards added words and penalizes rewriting more than a
// fifth of the original
func improvementScore(originalWords int, s DiffSummary) float64 {
	score := improvementBase
	base := originalWords
	if base == 0 {
		base = 1
	}
	if s.Inserted > 0 {
		bonus := float64(s.Inserted) / float64(base)
		if bonus > 1 {
			bonus = 1
		}
		score += maxAdditionBonus * bonus
	}
	if float64(s.Modified)/float64(base) > modificationRatioLimit {
		score -= modificationPenalty
	}
	return clamp01(score)
}
