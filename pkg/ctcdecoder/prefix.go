package ctcdecoder

import (
	"strconv"
	"strings"
)

// prefixEntry is one tracked label-sequence hypothesis within a beam
// (spec.md §3 PrefixEntry). Composite score is logAdd(ScoreBlank,
// ScoreNonBlank).
type prefixEntry struct {
	Tokens        []int
	ScoreBlank    float64
	ScoreNonBlank float64
	ContextState  int
	TimesBlank    []int
	TimesNonBlank []int
}

// composite returns the entry's total path score.
func (e *prefixEntry) composite() float64 {
	return logAdd(e.ScoreBlank, e.ScoreNonBlank)
}

// key returns a string uniquely identifying this entry's token sequence,
// suitable for use as a beam map key.
func key(tokens []int) string {
	if len(tokens) == 0 {
		return ""
	}
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(t))
	}
	return b.String()
}

// emptyPrefix returns the root prefix entry a beam is reset to: an empty
// token sequence with ScoreBlank = 0 (certainty of having emitted nothing
// so far) and ScoreNonBlank = -inf (impossible to have emitted a non-blank
// token with zero tokens).
func emptyPrefix() *prefixEntry {
	return &prefixEntry{ScoreBlank: 0, ScoreNonBlank: negInf}
}

// clone returns a value copy of e with its own backing slices, so callers
// can safely extend Tokens/TimesNonBlank without aliasing.
func (e *prefixEntry) clone() *prefixEntry {
	c := *e
	c.Tokens = append([]int(nil), e.Tokens...)
	c.TimesBlank = append([]int(nil), e.TimesBlank...)
	c.TimesNonBlank = append([]int(nil), e.TimesNonBlank...)
	return &c
}
