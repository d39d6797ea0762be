package streaming

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/wenet-go/wenet-go/pkg/frontend"
	"github.com/wenet-go/wenet-go/pkg/model"
	"github.com/wenet-go/wenet-go/pkg/model/fake"
)

// passthroughExtractor treats each int16 sample as a single one-dimensional
// feature frame, so tests can control frame counts directly via PCM length.
type passthroughExtractor struct{}

func (passthroughExtractor) FrameSize() (window, hop int) { return 1, 1 }
func (passthroughExtractor) Extract(samples []int16) frontend.Frame {
	return frontend.Frame{Data: []float32{float32(samples[0])}}
}

func logp(vals ...float64) []float32 {
	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = float32(math.Log(v))
	}
	return out
}

func ctcFrames(rows ...[]float32) model.CTCLogProbs {
	vocab := len(rows[0])
	data := make([]float32, 0, len(rows)*vocab)
	for _, r := range rows {
		data = append(data, r...)
	}
	return model.CTCLogProbs{Data: data, TimeSteps: len(rows), Vocab: vocab}
}

func testConfig() Config {
	return Config{
		ChunkSize:             2,
		NBest:                 1,
		TrailingSilenceFrames: 3,
		MaxSilenceDuration:    0, // disabled, use frame-count rule only
		BeamSize:              4,
		FirstBeamSize:         4,
		BlankID:               0,
		BlankSkipThreshold:    2.0,
	}
}

func newHarness(t *testing.T, script []model.CTCLogProbs, cfg Config) (*Decoder, *frontend.Pipeline) {
	t.Helper()
	pipeline := frontend.NewPipeline(frontend.Config{SampleRate: 16000, FeatureDim: 1, Extractor: passthroughExtractor{}})
	exec := fake.New(model.Metadata{SubsamplingRate: 1, RightContext: 0, FeatureDim: 1, ChunkSize: cfg.ChunkSize})
	exec.Script = script
	d := New(cfg, pipeline, exec, nil)
	return d, pipeline
}

func TestDecoder_EmitsFinalOnInputFinishedWithNoEndpoint(t *testing.T) {
	is := is.New(t)
	cfg := testConfig()
	cfg.TrailingSilenceFrames = 100 // never trips on its own

	script := []model.CTCLogProbs{
		ctcFrames(logp(0.05, 0.9, 0.02, 0.03), logp(0.9, 0.03, 0.02, 0.05)),
	}
	d, pipeline := newHarness(t, script, cfg)

	pcm := make([]int16, cfg.ChunkSize)
	pipeline.AcceptWaveform(pcm)
	pipeline.SetInputFinished()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var final *Event
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	for ev := range d.Events() {
		e := ev
		if e.Type == EventFinal {
			final = &e
		}
	}
	is.NoErr(<-done)
	is.True(final != nil)
	is.True(len(final.Hypotheses) > 0)
	is.True(len(final.Hypotheses[0].Tokens) > 0)
}

func TestDecoder_EndpointFromTrailingBlanks(t *testing.T) {
	is := is.New(t)
	cfg := testConfig()
	cfg.TrailingSilenceFrames = 1

	// Frame 0 non-blank, frames 1-3 blank: trailing blank count exceeds 1
	// after the second chunk, so the decoder reaches an endpoint without
	// waiting for input_finished.
	script := []model.CTCLogProbs{
		ctcFrames(logp(0.05, 0.9, 0.02, 0.03), logp(0.9, 0.03, 0.02, 0.05)),
		ctcFrames(logp(0.95, 0.02, 0.02, 0.01), logp(0.95, 0.02, 0.02, 0.01)),
	}
	d, pipeline := newHarness(t, script, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	go func() {
		pipeline.AcceptWaveform(make([]int16, cfg.ChunkSize))
		time.Sleep(10 * time.Millisecond)
		pipeline.AcceptWaveform(make([]int16, cfg.ChunkSize))
	}()

	sawFinal := false
	for ev := range d.Events() {
		if ev.Type == EventFinal {
			sawFinal = true
		}
	}
	is.NoErr(<-done)
	is.True(sawFinal)
	is.Equal(d.State(), StateTerminated)
}

func TestDecoder_ContinuousDecodingRearmsAfterEndpoint(t *testing.T) {
	is := is.New(t)
	cfg := testConfig()
	cfg.ContinuousDecoding = true
	cfg.TrailingSilenceFrames = 1

	utterance := ctcFrames(logp(0.05, 0.9, 0.02, 0.03), logp(0.9, 0.03, 0.02, 0.05))
	silence := ctcFrames(logp(0.95, 0.02, 0.02, 0.01), logp(0.95, 0.02, 0.02, 0.01))
	script := []model.CTCLogProbs{utterance, silence, utterance, silence}
	d, pipeline := newHarness(t, script, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	go func() {
		for i := 0; i < 4; i++ {
			pipeline.AcceptWaveform(make([]int16, cfg.ChunkSize))
			time.Sleep(10 * time.Millisecond)
		}
		cancel()
	}()

	finals := 0
	for ev := range d.Events() {
		if ev.Type == EventFinal {
			finals++
		}
	}
	<-done
	is.True(finals >= 2)
}

func TestDecoder_PartialSuppressedWhenTopHypothesisUnchanged(t *testing.T) {
	is := is.New(t)
	cfg := testConfig()
	cfg.TrailingSilenceFrames = 100

	// Both chunks decode to the same blank-dominant frame, so the top
	// hypothesis (empty) never changes across the two decodeChunk calls.
	blank := ctcFrames(logp(0.98, 0.01, 0.005, 0.005), logp(0.98, 0.01, 0.005, 0.005))
	script := []model.CTCLogProbs{blank, blank}
	d, pipeline := newHarness(t, script, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	go func() {
		pipeline.AcceptWaveform(make([]int16, cfg.ChunkSize))
		time.Sleep(10 * time.Millisecond)
		pipeline.AcceptWaveform(make([]int16, cfg.ChunkSize))
		time.Sleep(10 * time.Millisecond)
		pipeline.SetInputFinished()
	}()

	partials := 0
	for ev := range d.Events() {
		if ev.Type == EventPartial {
			partials++
		}
	}
	is.NoErr(<-done)
	is.True(partials <= 1)
}

func TestState_String(t *testing.T) {
	is := is.New(t)
	is.Equal(StateWaitingFeats.String(), "WaitingFeats")
	is.Equal(StateDecoding.String(), "Decoding")
	is.Equal(StateEndpointReached.String(), "EndpointReached")
	is.Equal(StateTerminated.String(), "Terminated")
}
