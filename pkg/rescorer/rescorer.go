// Package rescorer implements attention rescoring (spec component C6):
// re-ranking a CTC N-best list by an autoregressive decoder's likelihood of
// each hypothesis given the retained encoder output, with optional
// left-to-right / right-to-left score fusion.
package rescorer

import (
	"context"
	"fmt"
	"sort"

	"github.com/wenet-go/wenet-go/pkg/ctcdecoder"
	"github.com/wenet-go/wenet-go/pkg/model"
)

// Config configures a Rescorer.
type Config struct {
	CTCWeight float64 // final = CTCWeight*ctc_score + (1-CTCWeight)*combined
}

// Rescorer fuses CTC hypotheses with attention-decoder scores using a
// shared model.Executor.
type Rescorer struct {
	cfg  Config
	exec model.Executor
}

// New creates a Rescorer over exec.
func New(cfg Config, exec model.Executor) *Rescorer {
	return &Rescorer{cfg: cfg, exec: exec}
}

// Rescore implements streaming.Rescorer and the identical contract spec.md
// §4.7 needs from the batch path: it returns a new slice holding the same
// hypotheses with Score replaced by the fused CTC/attention value, sorted
// by that score, descending. hyps itself is not modified.
func (r *Rescorer) Rescore(ctx context.Context, hyps []ctcdecoder.Hypothesis, enc model.EncoderOutput, reverseWeight float64) ([]ctcdecoder.Hypothesis, error) {
	if len(hyps) == 0 {
		return hyps, nil
	}

	meta := r.exec.Metadata()

	maxLen := 0
	for _, h := range hyps {
		if len(h.Tokens)+1 > maxLen { // +1 for the prepended sos
			maxLen = len(h.Tokens) + 1
		}
	}

	padded := make([][]int, len(hyps))
	lens := make([]int, len(hyps))
	for i, h := range hyps {
		row := make([]int, maxLen)
		row[0] = meta.SosID
		copy(row[1:], h.Tokens)
		for j := len(h.Tokens) + 1; j < maxLen; j++ {
			row[j] = meta.EosID
		}
		padded[i] = row
		lens[i] = len(h.Tokens) + 1
	}

	res, err := r.exec.ForwardAttentionDecoder(ctx, model.AttentionRequest{
		HypsPadded:    padded,
		HypsLens:      lens,
		Encoder:       enc,
		ReverseWeight: reverseWeight,
	})
	if err != nil {
		return nil, fmt.Errorf("rescorer: forward attention decoder: %w", err)
	}

	useR2L := meta.IsBidirectionalDecoder && reverseWeight > 0 && res.LogProbsR2L != nil

	out := make([]ctcdecoder.Hypothesis, len(hyps))
	for i, h := range hyps {
		scoreL2R := sequenceScore(res.LogProbsL2R[i], h.Tokens, meta.EosID)

		combined := scoreL2R
		if useR2L {
			reversed := reverseTokens(h.Tokens)
			scoreR2L := sequenceScore(res.LogProbsR2L[i], reversed, meta.EosID)
			combined = (1-reverseWeight)*scoreL2R + reverseWeight*scoreR2L
		}

		final := r.cfg.CTCWeight*h.Score + (1-r.cfg.CTCWeight)*combined

		out[i] = ctcdecoder.Hypothesis{
			Tokens: h.Tokens,
			Times:  h.Times,
			Score:  final,
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// sequenceScore implements spec.md §4.6 step 3: score_L2R = sum over j of
// logp[j][tokens[j+1]] plus logp[K][eos]. logProbs is indexed [position][vocab]
// for one hypothesis, where position j's distribution predicts the token
// that follows position j in the padded (sos-prefixed) sequence.
func sequenceScore(logProbs [][]float32, tokens []int, eosID int) float64 {
	score := 0.0
	for j, tok := range tokens {
		score += float64(logProbs[j][tok])
	}
	score += float64(logProbs[len(tokens)][eosID])
	return score
}

func reverseTokens(tokens []int) []int {
	out := make([]int, len(tokens))
	for i, t := range tokens {
		out[len(tokens)-1-i] = t
	}
	return out
}
