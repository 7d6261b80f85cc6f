package validate

import (
	"regexp"
	"strings"

	"script-studio/types"
)

// sentences shorter than this are treated as noise
const minSentenceLen = 20

var (
	nonSentenceChars = regexp.MustCompile(`[^a-z0-9\s.!?]`)
	spaceRun         = regexp.MustCompile(`\s+`)
	terminators      = regexp.MustCompile(`[.!?]+`)
)

func normalize(s string) string {
	s = strings.ToLower(s)
	s = nonSentenceChars.ReplaceAllString(s, " ")
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func sentenceSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, sent := range terminators.Split(normalize(s), -1) {
		sent = strings.TrimSpace(sent)
		if len(sent) < minSentenceLen {
			continue
		}
		set[sent] = struct{}{}
	}
	return set
}

// Overlap is the share of qualifying sentences two texts have in common,
// measured against the smaller of the two sentence sets.
func Overlap(a, b string) float64 {
	sa, sb := sentenceSet(a), sentenceSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	if len(sb) < len(sa) {
		sa, sb = sb, sa
	}
	inter := 0
	for s := range sa {
		if _, ok := sb[s]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(sa))
}

// Repetition fails when any adjacent pair of parts overlaps by more than limit.
func Repetition(parts []types.Part, limit float64) error {
	for i := 1; i < len(parts); i++ {
		ratio := Overlap(parts[i-1].Content, parts[i].Content)
		if ratio > limit {
			return fail(RuleRepetition, "repetitive content detected between part %d and %d (overlap %.2f)", i, i+1, ratio)
		}
	}
	return nil
}
