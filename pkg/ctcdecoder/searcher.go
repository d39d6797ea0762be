// Package ctcdecoder implements CTC prefix beam search with contextual
// biasing and N-best/timestamp bookkeeping (spec component C4).
package ctcdecoder

import (
	"math"
	"sort"

	"github.com/wenet-go/wenet-go/pkg/contextgraph"
	"github.com/wenet-go/wenet-go/pkg/model"
)

// Config configures a Searcher.
type Config struct {
	BeamSize           int
	FirstBeamSize      int // candidate pool size before pruning
	BlankID            int
	BlankSkipThreshold float64 // probability, not log-probability
}

// Hypothesis is one finalized decoding result: its token sequence,
// composite score, and the frame index at which each token was first
// emitted (spec.md §3 Hypothesis, minus word-level grouping which is a
// dictionary-layer concern outside this package).
type Hypothesis struct {
	Tokens []int
	Score  float64
	Times  []int
}

// Searcher maintains the beam across chunks of one utterance.
type Searcher struct {
	cfg   Config
	graph *contextgraph.Graph
	beam  *beam
}

// New creates a Searcher ready to decode from frame 0. graph may be nil
// (no contextual biasing).
func New(cfg Config, graph *contextgraph.Graph) *Searcher {
	s := &Searcher{cfg: cfg, graph: graph}
	s.Reset()
	return s
}

// Reset clears the beam to a single empty-prefix entry, as required
// between utterances in continuous-decoding mode.
func (s *Searcher) Reset() {
	s.beam = newBeam()
}

// AdvanceChunk feeds one chunk's CTC log-probabilities through the beam,
// frame by frame. timeOffset is added to every frame index recorded into
// a hypothesis's timestamps, so chunk boundaries produce a continuous
// utterance-relative time base.
func (s *Searcher) AdvanceChunk(logp model.CTCLogProbs, timeOffset int) {
	for t := 0; t < logp.TimeSteps; t++ {
		s.advanceFrame(logp.Row(t), timeOffset+t)
	}
}

func (s *Searcher) advanceFrame(row []float32, frameIdx int) {
	maxLogp := row[0]
	argmax := 0
	for v, lp := range row {
		if lp > maxLogp {
			maxLogp = lp
			argmax = v
		}
	}
	if argmax == s.cfg.BlankID && math.Exp(float64(maxLogp)) > s.cfg.BlankSkipThreshold {
		return // blank-skip: no beam update this frame, time still advances
	}

	candidates := topKIndices(row, s.cfg.FirstBeamSize)

	next := &beam{entries: map[string]*prefixEntry{}}

	for _, old := range s.beam.list() {
		oldKey := key(old.Tokens)
		lastTok := -1
		if len(old.Tokens) > 0 {
			lastTok = old.Tokens[len(old.Tokens)-1]
		}

		for _, tok := range candidates {
			logp := float64(row[tok])

			switch {
			case tok == s.cfg.BlankID:
				contribution := logAdd(old.ScoreBlank+logp, old.ScoreNonBlank+logp)
				next.addBlank(oldKey, old.clone(), contribution)
				appendBlankTime(next, oldKey, frameIdx)

			case tok == lastTok:
				// (a) repeat label merges into the same prefix.
				next.addNonBlank(oldKey, old.clone(), old.ScoreNonBlank+logp)

				// (b) a separating blank makes this a genuinely new
				// emission, extending the prefix.
				extended := old.clone()
				extended.Tokens = append(extended.Tokens, tok)
				extended.TimesNonBlank = append(extended.TimesNonBlank, frameIdx)
				newKey := key(extended.Tokens)
				next.addNonBlank(newKey, extended, old.ScoreBlank+logp)

			default:
				extended := old.clone()
				extended.Tokens = append(extended.Tokens, tok)
				extended.TimesNonBlank = append(extended.TimesNonBlank, frameIdx)
				contextDelta := 0.0
				if s.graph != nil {
					nextState, delta := s.graph.Query(old.ContextState, tok)
					extended.ContextState = nextState
					contextDelta = delta
				}
				contribution := logAdd(old.ScoreBlank+logp, old.ScoreNonBlank+logp) + contextDelta
				newKey := key(extended.Tokens)
				next.addNonBlank(newKey, extended, contribution)
			}
		}
	}

	next.pruneTo(s.cfg.BeamSize)
	s.beam = next
}

// appendBlankTime records a blank-path frame against the (unchanged)
// prefix in the accumulating next-frame beam, if that entry already
// exists (it always will, since addBlank is called immediately before).
func appendBlankTime(b *beam, k string, frameIdx int) {
	if e, ok := b.entries[k]; ok {
		e.TimesBlank = append(e.TimesBlank, frameIdx)
	}
}

// topKIndices returns up to k label indices sorted by descending logp.
func topKIndices(row []float32, k int) []int {
	idx := make([]int, len(row))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return row[idx[i]] > row[idx[j]] })
	if k < len(idx) {
		idx = idx[:k]
	}
	return idx
}

// Finalize returns up to nbest hypotheses sorted by composite score. It
// does not mutate the beam, so partial results may keep streaming after a
// Finalize call (e.g. for mid-utterance diagnostics).
func (s *Searcher) Finalize(nbest int) []Hypothesis {
	entries := s.beam.list()
	sort.Slice(entries, func(i, j int) bool { return entries[i].composite() > entries[j].composite() })
	if nbest < len(entries) {
		entries = entries[:nbest]
	}

	out := make([]Hypothesis, len(entries))
	for i, e := range entries {
		out[i] = Hypothesis{
			Tokens: append([]int(nil), e.Tokens...),
			Score:  e.composite(),
			Times:  append([]int(nil), e.TimesNonBlank...),
		}
	}
	return out
}

// Top returns the current best partial hypothesis without finalizing.
func (s *Searcher) Top() Hypothesis {
	e := s.beam.top()
	if e == nil {
		return Hypothesis{}
	}
	return Hypothesis{
		Tokens: append([]int(nil), e.Tokens...),
		Score:  e.composite(),
		Times:  append([]int(nil), e.TimesNonBlank...),
	}
}
