package batch

import (
	"context"
	"testing"

	"github.com/matryer/is"

	"github.com/wenet-go/wenet-go/pkg/ctcdecoder"
	"github.com/wenet-go/wenet-go/pkg/model"
	"github.com/wenet-go/wenet-go/pkg/model/fake"
)

// rescorerFunc adapts a plain function to the Rescorer interface, so tests
// can inspect call arguments without a scripted struct.
type rescorerFunc func(ctx context.Context, hyps []ctcdecoder.Hypothesis, enc model.EncoderOutput, reverseWeight float64) ([]ctcdecoder.Hypothesis, error)

func (f rescorerFunc) Rescore(ctx context.Context, hyps []ctcdecoder.Hypothesis, enc model.EncoderOutput, reverseWeight float64) ([]ctcdecoder.Hypothesis, error) {
	return f(ctx, hyps, enc, reverseWeight)
}

func TestRecognize_ReturnsOneHypothesisListPerUtterance(t *testing.T) {
	is := is.New(t)
	exec := fake.New(model.Metadata{SubsamplingRate: 1, FeatureDim: 2})

	r := New(Config{NBest: 2, BeamSize: 4, FirstBeamSize: 4, BlankID: 0, BlankSkipThreshold: 2.0}, exec, nil)

	utterances := []Utterance{
		{Feats: make([]float32, 3*2), NumFrames: 3, FeatDim: 2},
		{Feats: make([]float32, 5*2), NumFrames: 5, FeatDim: 2},
	}

	out, err := r.Recognize(context.Background(), utterances)
	is.NoErr(err)
	is.Equal(len(out), 2)
	for _, hyps := range out {
		is.True(len(hyps) > 0)
	}
}

func TestRecognize_EmptyBatchReturnsNil(t *testing.T) {
	is := is.New(t)
	exec := fake.New(model.Metadata{SubsamplingRate: 1, FeatureDim: 2})
	r := New(Config{NBest: 1}, exec, nil)

	out, err := r.Recognize(context.Background(), nil)
	is.NoErr(err)
	is.Equal(len(out), 0)
}

func TestRecognize_RescorerReceivesPerUtteranceEncoderOutput(t *testing.T) {
	is := is.New(t)
	exec := fake.New(model.Metadata{SubsamplingRate: 1, FeatureDim: 2, SosID: 1, EosID: 2})

	type call struct {
		timeSteps int
	}
	calls := make(chan call, 4)
	resc := rescorerFunc(func(ctx context.Context, hyps []ctcdecoder.Hypothesis, enc model.EncoderOutput, reverseWeight float64) ([]ctcdecoder.Hypothesis, error) {
		calls <- call{timeSteps: enc.TimeSteps}
		return hyps, nil
	})

	r := New(Config{NBest: 1, BeamSize: 4, FirstBeamSize: 4, BlankID: 0, BlankSkipThreshold: 2.0}, exec, resc)

	utterances := []Utterance{
		{Feats: make([]float32, 4*2), NumFrames: 4, FeatDim: 2},
		{Feats: make([]float32, 6*2), NumFrames: 6, FeatDim: 2},
	}

	_, err := r.Recognize(context.Background(), utterances)
	is.NoErr(err)
	close(calls)

	seen := map[int]bool{}
	for c := range calls {
		seen[c.timeSteps] = true
	}
	is.True(seen[4])
	is.True(seen[6])
}
