package dedup

import (
	"strings"
	"unicode"

	"DramaForge/server/internal/models"
)

// Similarity weights: names dominate, descriptions refine.
const (
	nameWeight = 0.7
	descWeight = 0.3
)

// Score computes the overall similarity between two assets of the same type.
// The result is in [0,1]; comparing assets of different types is not
// meaningful and callers must not do it. Pure function: symmetric, and
// reflexive up to float rounding.
func Score(a, b *models.Asset) float64 {
	return nameWeight*NameSimilarity(a.Name, b.Name) +
		descWeight*DescriptionSimilarity(a.Description, b.Description)
}

// NameSimilarity compares two names after case-folding and stripping all
// whitespace, using a Ratcliff-Obershelp sequence ratio. Identical
// normalized names score 1.0; an empty name on either side scores 0.0.
func NameSimilarity(name1, name2 string) float64 {
	n1 := normalizeName(name1)
	n2 := normalizeName(name2)

	if len(n1) == 0 || len(n2) == 0 {
		return 0.0
	}
	if string(n1) == string(n2) {
		return 1.0
	}

	return sequenceRatio(n1, n2)
}

// DescriptionSimilarity compares two descriptions as token sets using the
// Jaccard index. 0.0 if either token set is empty.
func DescriptionSimilarity(desc1, desc2 string) float64 {
	t1 := tokenSet(desc1)
	t2 := tokenSet(desc2)

	if len(t1) == 0 || len(t2) == 0 {
		return 0.0
	}

	intersection := 0
	for tok := range t1 {
		if _, ok := t2[tok]; ok {
			intersection++
		}
	}
	union := len(t1) + len(t2) - intersection

	return float64(intersection) / float64(union)
}

func normalizeName(name string) []rune {
	var out []rune
	for _, r := range strings.ToLower(name) {
		if unicode.IsSpace(r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// tokenSet splits a description into maximal runs of Han ideographs or
// maximal runs of other word characters, case-folded. Duplicates collapse.
func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	var cur []rune
	curHan := false

	flush := func() {
		if len(cur) > 0 {
			set[string(cur)] = struct{}{}
			cur = cur[:0]
		}
	}

	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.Is(unicode.Han, r):
			if !curHan {
				flush()
			}
			curHan = true
			cur = append(cur, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			if curHan {
				flush()
			}
			curHan = false
			cur = append(cur, r)
		default:
			flush()
		}
	}
	flush()

	return set
}

// sequenceRatio is the Ratcliff-Obershelp similarity: twice the total length
// of matching contiguous subsequences divided by the combined length.
func sequenceRatio(a, b []rune) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	return 2.0 * float64(matchTotal(a, b)) / float64(len(a)+len(b))
}

// matchTotal sums matching characters: find the longest common substring,
// then recurse into the unmatched pieces on either side of it.
func matchTotal(a, b []rune) int {
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	return size + matchTotal(a[:ai], b[:bi]) + matchTotal(a[ai+size:], b[bi+size:])
}

func longestCommonSubstring(a, b []rune) (ai, bi, size int) {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > size {
					size = cur[j]
					ai = i - size
					bi = j - size
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return ai, bi, size
}
