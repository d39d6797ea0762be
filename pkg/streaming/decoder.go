// Package streaming implements the streaming decoder state machine (spec
// component C5): it coordinates the feature pipeline (C1), the model
// executor (C2), and the CTC prefix beam searcher (C4), driving the chunked
// encoder-forward loop, detecting endpoints, and emitting partial and final
// results.
package streaming

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wenet-go/wenet-go/pkg/contextgraph"
	"github.com/wenet-go/wenet-go/pkg/ctcdecoder"
	"github.com/wenet-go/wenet-go/pkg/frontend"
	"github.com/wenet-go/wenet-go/pkg/model"
)

// Rescorer fuses CTC hypotheses with attention-decoder scores (spec
// component C6). It is an interface here, not a concrete import of
// pkg/rescorer, so the decoder can run CTC-only (nil Rescorer) in tests and
// low-latency configurations.
type Rescorer interface {
	Rescore(ctx context.Context, hyps []ctcdecoder.Hypothesis, enc model.EncoderOutput, reverseWeight float64) ([]ctcdecoder.Hypothesis, error)
}

// EventType distinguishes a partial (in-progress) result from a final one.
type EventType int

const (
	EventPartial EventType = iota
	EventFinal
)

// Event is published on a Decoder's Events channel, mirroring the
// teacher's stt.STTStream.Events() shape.
type Event struct {
	Type        EventType
	Hypotheses  []ctcdecoder.Hypothesis // nbest, best first
	UtteranceID int                     // increments on every continuous-decoding reset
}

// Config configures a Decoder. All frame counts are in post-subsampling
// (CTC-output) units unless noted otherwise.
type Config struct {
	ChunkSize             int // spec.md §4.5: chunk_size frames of encoder output per step
	ContinuousDecoding    bool
	NBest                 int
	TrailingSilenceFrames int           // endpoint: consecutive trailing blank frames
	MaxSilenceDuration    time.Duration // endpoint: elapsed time since last non-blank token
	FrameShiftMillis      int           // acoustic frame shift before subsampling, default 10ms
	ReverseWeight         float64       // L2R/R2L fusion weight passed to Rescorer

	BeamSize           int
	FirstBeamSize      int
	BlankID            int
	BlankSkipThreshold float64
	ContextGraph       *contextgraph.Graph
}

func (c Config) frameShiftMillis() int {
	if c.FrameShiftMillis > 0 {
		return c.FrameShiftMillis
	}
	return 10
}

// EncoderCache holds the conformer/transformer streaming caches that must
// be carried from one chunk to the next within an utterance (spec.md
// §4.2/§5: session-private, never shared across sessions).
type EncoderCache struct {
	AttCache []float32
	CnnCache []float32
}

// Decoder drives one session's streaming decode loop. It is not safe for
// concurrent use; exactly one goroutine should call Run.
type Decoder struct {
	cfg      Config
	pipeline *frontend.Pipeline
	exec     model.Executor
	meta     model.Metadata
	rescorer Rescorer

	state atomic.Int32

	searcher *ctcdecoder.Searcher
	cache    EncoderCache
	enc      model.EncoderOutput // accumulated encoder output for the current utterance

	consumedFeatFrames int    // input feature frames consumed so far this utterance
	ctcFrameOffset     int    // output CTC frames produced so far this utterance
	lastNonBlankFrame  int    // -1 until the first non-blank token is emitted
	lastEmittedKey     string

	utteranceID int
	events      chan Event
}

// New creates a Decoder ready to run. rescorer may be nil, in which case
// final results carry CTC-only scores (no attention rescoring pass).
func New(cfg Config, pipeline *frontend.Pipeline, exec model.Executor, rescorer Rescorer) *Decoder {
	d := &Decoder{
		cfg:      cfg,
		pipeline: pipeline,
		exec:     exec,
		meta:     exec.Metadata(),
		rescorer: rescorer,
		events:   make(chan Event, 16),
	}
	d.resetUtterance()
	return d
}

// Events returns the channel Run publishes partial and final results on. It
// is closed when Run returns.
func (d *Decoder) Events() <-chan Event {
	return d.events
}

// State returns the decoder's current lifecycle stage.
func (d *Decoder) State() State {
	return State(d.state.Load())
}

func (d *Decoder) setState(s State) {
	d.state.Store(int32(s))
}

func (d *Decoder) resetUtterance() {
	d.pipeline.Reset()
	d.searcher = ctcdecoder.New(ctcdecoder.Config{
		BeamSize:           d.cfg.BeamSize,
		FirstBeamSize:      d.cfg.FirstBeamSize,
		BlankID:            d.cfg.BlankID,
		BlankSkipThreshold: d.cfg.BlankSkipThreshold,
	}, d.cfg.ContextGraph)
	d.cache = EncoderCache{}
	d.enc = model.EncoderOutput{Hidden: 0}
	d.consumedFeatFrames = 0
	d.ctcFrameOffset = 0
	d.lastNonBlankFrame = -1
	d.lastEmittedKey = ""
	d.setState(StateWaitingFeats)
}

// windowFrames returns the number of raw feature frames to read per chunk,
// per spec.md §4.5: chunk_size * subsampling_rate + right_context.
func (d *Decoder) windowFrames() int {
	return d.cfg.ChunkSize*d.meta.SubsamplingRate + d.meta.RightContext
}

// Run drives the state machine until the utterance (or session, in
// continuous mode) reaches kTerminated or ctx is cancelled. It closes the
// Events channel before returning.
func (d *Decoder) Run(ctx context.Context) error {
	defer close(d.events)

	for {
		switch d.State() {
		case StateWaitingFeats:
			frames, ok := d.pipeline.Read(ctx, d.windowFrames())
			if err := ctx.Err(); err != nil {
				d.setState(StateTerminated)
				return err
			}
			if !ok {
				// Input finished (or buffer drained under cancellation)
				// before a full chunk ever arrived.
				d.setState(StateEndpointReached)
				continue
			}
			if err := d.decodeChunk(ctx, frames); err != nil {
				d.setState(StateTerminated)
				return err
			}
			d.setState(StateDecoding)

		case StateDecoding:
			frames, ok := d.pipeline.Read(ctx, d.windowFrames())
			if err := ctx.Err(); err != nil {
				d.setState(StateTerminated)
				return err
			}
			if ok {
				if err := d.decodeChunk(ctx, frames); err != nil {
					d.setState(StateTerminated)
					return err
				}
			}
			if d.endpointReached() || !ok {
				d.setState(StateEndpointReached)
			}

		case StateEndpointReached:
			if err := d.finalizeUtterance(ctx); err != nil {
				d.setState(StateTerminated)
				return err
			}
			if d.cfg.ContinuousDecoding {
				d.utteranceID++
				d.resetUtterance()
				continue
			}
			d.setState(StateTerminated)

		case StateTerminated:
			return nil
		}
	}
}

// decodeChunk runs one chunked encoder-forward + CTC activation + beam
// advance, and publishes a partial result if the top hypothesis changed.
func (d *Decoder) decodeChunk(ctx context.Context, frames []frontend.Frame) error {
	if len(frames) == 0 {
		return nil
	}

	feats := make([]float32, 0, len(frames)*d.meta.FeatureDim)
	for _, f := range frames {
		feats = append(feats, f.Data...)
	}

	chunkResult, err := d.exec.ForwardEncoderChunk(ctx, model.Chunk{
		Feats:     feats,
		NumFrames: len(frames),
		FeatDim:   d.meta.FeatureDim,
		AttCache:  d.cache.AttCache,
		CnnCache:  d.cache.CnnCache,
		Offset:    d.consumedFeatFrames,
	})
	if err != nil {
		return fmt.Errorf("streaming: forward encoder chunk: %w", err)
	}
	d.consumedFeatFrames += len(frames)
	d.cache.AttCache = chunkResult.NewAttCache
	d.cache.CnnCache = chunkResult.NewCnnCache
	d.appendEncoderOutput(chunkResult.Enc)

	ctcLogp, err := d.exec.CTCActivation(ctx, chunkResult.Enc)
	if err != nil {
		return fmt.Errorf("streaming: ctc activation: %w", err)
	}

	d.searcher.AdvanceChunk(ctcLogp, d.ctcFrameOffset)
	d.trackLastNonBlank()
	d.ctcFrameOffset += ctcLogp.TimeSteps

	d.emitPartial()
	return nil
}

// appendEncoderOutput concatenates a chunk's encoder output onto the
// utterance-level accumulator the attention rescorer needs.
func (d *Decoder) appendEncoderOutput(chunk model.EncoderOutput) {
	if d.enc.Hidden == 0 {
		d.enc.Hidden = chunk.Hidden
	}
	d.enc.Data = append(d.enc.Data, chunk.Data...)
	d.enc.TimeSteps += chunk.TimeSteps
}

func (d *Decoder) trackLastNonBlank() {
	top := d.searcher.Top()
	if len(top.Times) > 0 {
		d.lastNonBlankFrame = top.Times[len(top.Times)-1]
	}
}

// endpointReached implements spec.md §4.5's endpoint rule: the top prefix
// must have emitted at least one non-blank token, and either the
// consecutive trailing blank frames or the elapsed time since the last
// non-blank token must exceed their configured thresholds.
func (d *Decoder) endpointReached() bool {
	if d.lastNonBlankFrame < 0 {
		return false
	}
	trailingBlanks := (d.ctcFrameOffset - 1) - d.lastNonBlankFrame
	if d.cfg.TrailingSilenceFrames > 0 && trailingBlanks > d.cfg.TrailingSilenceFrames {
		return true
	}
	if d.cfg.MaxSilenceDuration > 0 {
		frameShift := time.Duration(d.cfg.frameShiftMillis()*d.meta.SubsamplingRate) * time.Millisecond
		elapsed := time.Duration(trailingBlanks) * frameShift
		if elapsed > d.cfg.MaxSilenceDuration {
			return true
		}
	}
	return false
}

// emitPartial publishes the current top hypothesis as a partial result,
// unless it is identical to the last one emitted (spec.md §8: partial
// results never retract, so an unchanged top hypothesis is suppressed
// rather than re-sent).
func (d *Decoder) emitPartial() {
	top := d.searcher.Top()
	k := tokenKey(top.Tokens)
	if k == d.lastEmittedKey {
		return
	}
	d.lastEmittedKey = k
	d.events <- Event{
		Type:        EventPartial,
		Hypotheses:  []ctcdecoder.Hypothesis{top},
		UtteranceID: d.utteranceID,
	}
}

// finalizeUtterance runs attention rescoring (if configured) over the
// searcher's final n-best list and publishes the result.
func (d *Decoder) finalizeUtterance(ctx context.Context) error {
	hyps := d.searcher.Finalize(d.cfg.NBest)

	if d.rescorer != nil && len(hyps) > 0 {
		rescored, err := d.rescorer.Rescore(ctx, hyps, d.enc, d.cfg.ReverseWeight)
		if err != nil {
			return fmt.Errorf("streaming: rescore: %w", err)
		}
		hyps = rescored
	}

	d.events <- Event{
		Type:        EventFinal,
		Hypotheses:  hyps,
		UtteranceID: d.utteranceID,
	}
	return nil
}

func tokenKey(tokens []int) string {
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
