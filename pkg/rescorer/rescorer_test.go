package rescorer

import (
	"context"
	"math"
	"testing"

	"github.com/matryer/is"

	"github.com/wenet-go/wenet-go/pkg/ctcdecoder"
	"github.com/wenet-go/wenet-go/pkg/model"
	"github.com/wenet-go/wenet-go/pkg/model/fake"
)

func TestRescore_PrefersHypothesisTheAttentionDecoderFavors(t *testing.T) {
	is := is.New(t)
	meta := model.Metadata{SosID: 1, EosID: 2}
	exec := fake.New(meta)

	// AttentionScorer gives every position a uniform distribution, except
	// that hypothesis 0 gets near-certain mass on its own tokens and eos, so
	// with a pure attention score it must outrank hypothesis 1 despite its
	// worse CTC score.
	exec.AttentionScorer = func(req model.AttentionRequest) model.AttentionResult {
		vocab := 8
		l2r := make([][][]float32, len(req.HypsPadded))
		for i, hyp := range req.HypsPadded {
			rows := make([][]float32, len(hyp))
			for j := range rows {
				row := make([]float32, vocab)
				for v := range row {
					row[v] = float32(math.Log(1.0 / float64(vocab)))
				}
				rows[j] = row
			}
			// Hypothesis 0 gets a strong attention boost on its own
			// tokens; hypothesis 1 does not.
			if i == 0 {
				for j := 1; j < len(hyp); j++ {
					rows[j-1][hyp[j]] = 0
				}
				rows[len(hyp)-1][meta.EosID] = 0
			}
			l2r[i] = rows
		}
		return model.AttentionResult{LogProbsL2R: l2r}
	}

	r := New(Config{CTCWeight: 0}, exec) // pure attention score for this test
	hyps := []ctcdecoder.Hypothesis{
		{Tokens: []int{3, 4}, Score: -1.0}, // worse CTC score but boosted by attention
		{Tokens: []int{5, 6}, Score: -0.1}, // better CTC score, no attention boost
	}

	out, err := r.Rescore(context.Background(), hyps, model.EncoderOutput{TimeSteps: 2, Hidden: 4}, 0)
	is.NoErr(err)
	is.Equal(len(out), 2)
	is.Equal(out[0].Tokens[0], 3) // attention-boosted hypothesis now ranks first
}

func TestRescore_ReturnsUnchangedOnEmptyInput(t *testing.T) {
	is := is.New(t)
	exec := fake.New(model.Metadata{SosID: 1, EosID: 2})
	r := New(Config{CTCWeight: 0.5}, exec)

	out, err := r.Rescore(context.Background(), nil, model.EncoderOutput{}, 0)
	is.NoErr(err)
	is.Equal(len(out), 0)
}

func TestRescore_R2LSkippedWhenReverseWeightZero(t *testing.T) {
	is := is.New(t)
	meta := model.Metadata{SosID: 1, EosID: 2, IsBidirectionalDecoder: true}
	exec := fake.New(meta)

	r := New(Config{CTCWeight: 0}, exec)
	hyps := []ctcdecoder.Hypothesis{{Tokens: []int{3, 4}, Score: 0}}

	out, err := r.Rescore(context.Background(), hyps, model.EncoderOutput{TimeSteps: 2, Hidden: 4}, 0)
	is.NoErr(err)
	is.Equal(len(out), 1)
}

func TestSequenceScore_SumsPerPositionLogProbsPlusEOS(t *testing.T) {
	is := is.New(t)
	logProbs := [][]float32{
		{0, -1, -2}, // position 0 predicts token 1 with logp -1
		{0, -1, -2}, // position 1 predicts token 2 (eos) with logp -2
	}
	got := sequenceScore(logProbs, []int{1}, 2)
	want := -1.0 + -2.0
	is.True(math.Abs(got-want) < 1e-9)
}
