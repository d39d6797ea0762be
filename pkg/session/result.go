package session

import (
	"github.com/wenet-go/wenet-go/pkg/ctcdecoder"
)

// frameDuration returns the wall-clock duration, in seconds, of one CTC
// output frame: the acoustic frame shift scaled by the model's
// subsampling rate.
func frameDuration(frameShiftMillis, subsamplingRate int) float64 {
	return float64(frameShiftMillis*subsamplingRate) / 1000.0
}

// toNBest converts a decoder's Hypothesis list into the wire nbest shape,
// optionally attaching per-token timestamps.
func toNBest(hyps []ctcdecoder.Hypothesis, table *SymbolTable, frameShiftMillis, subsamplingRate int, withTimestamps bool) []NBestEntry {
	out := make([]NBestEntry, len(hyps))
	dur := frameDuration(frameShiftMillis, subsamplingRate)

	for i, h := range hyps {
		entry := NBestEntry{Sentence: table.Sentence(h.Tokens)}
		if withTimestamps {
			entry.WordPieces = make([]WordPiece, len(h.Tokens))
			for j, tok := range h.Tokens {
				start := float64(h.Times[j]) * dur
				entry.WordPieces[j] = WordPiece{
					Word:  table.Word(tok),
					Start: start,
					End:   start + dur,
				}
			}
		}
		out[i] = entry
	}
	return out
}
