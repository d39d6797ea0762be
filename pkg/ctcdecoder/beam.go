package ctcdecoder

import "sort"

// beam is a mapping from token_sequence to prefixEntry, truncated to
// beamSize by composite score after every frame (spec.md §3 Beam). The map
// itself holds no order; pruneTo and Searcher.Finalize sort on demand.
type beam struct {
	entries map[string]*prefixEntry
}

func newBeam() *beam {
	return &beam{entries: map[string]*prefixEntry{emptyKey: emptyPrefix()}}
}

const emptyKey = ""

// list returns the beam's entries in no particular order.
func (b *beam) list() []*prefixEntry {
	out := make([]*prefixEntry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	return out
}

// addBlank merges a contribution to e's ScoreBlank for the prefix keyed by
// k, creating the entry from a template if it doesn't yet exist in the
// accumulating next-frame beam.
func (b *beam) addBlank(k string, template *prefixEntry, contribution float64) {
	e, ok := b.entries[k]
	if !ok {
		e = template
		e.ScoreBlank = negInf
		e.ScoreNonBlank = negInf
		b.entries[k] = e
	}
	e.ScoreBlank = logAdd(e.ScoreBlank, contribution)
}

// addNonBlank merges a contribution to e's ScoreNonBlank for the prefix
// keyed by k, creating the entry from a template if needed.
func (b *beam) addNonBlank(k string, template *prefixEntry, contribution float64) {
	e, ok := b.entries[k]
	if !ok {
		e = template
		e.ScoreBlank = negInf
		e.ScoreNonBlank = negInf
		b.entries[k] = e
	}
	e.ScoreNonBlank = logAdd(e.ScoreNonBlank, contribution)
}

// pruneTo sorts entries by composite score descending and discards all
// but the top beamSize.
func (b *beam) pruneTo(beamSize int) {
	entries := b.list()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].composite() > entries[j].composite()
	})
	if len(entries) > beamSize {
		entries = entries[:beamSize]
	}
	b.entries = make(map[string]*prefixEntry, len(entries))
	for _, e := range entries {
		b.entries[key(e.Tokens)] = e
	}
}

// top returns the single highest-composite-score entry, or nil if the
// beam is empty.
func (b *beam) top() *prefixEntry {
	var best *prefixEntry
	for _, e := range b.entries {
		if best == nil || e.composite() > best.composite() {
			best = e
		}
	}
	return best
}
