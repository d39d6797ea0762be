// Package fake provides a deterministic, dependency-free model.Executor
// fixture for unit tests that must not require a real ONNX model file on
// disk, mirroring the teacher's pkg/ai/stt/fake test-double pattern.
package fake

import (
	"context"
	"math"

	"github.com/wenet-go/wenet-go/pkg/model"
)

// Executor is a scripted model.Executor: it yields the CTC log-probability
// frames and attention-decoder scores supplied at construction time,
// regardless of the actual feature content it is handed.
type Executor struct {
	meta model.Metadata

	// Script, if set, is consulted by CTCActivation: Script[i] is
	// returned for the i-th call (wrapping around if exhausted).
	Script []model.CTCLogProbs

	// AttentionScorer optionally overrides ForwardAttentionDecoder's
	// default (uniform log-probability) behavior for tests that need to
	// steer rescoring deterministically.
	AttentionScorer func(req model.AttentionRequest) model.AttentionResult

	callIdx int
}

// New creates an Executor with the given metadata.
func New(meta model.Metadata) *Executor {
	return &Executor{meta: meta}
}

// Metadata implements model.Executor.
func (e *Executor) Metadata() model.Metadata { return e.meta }

// ForwardEncoderChunk implements model.Executor. The fake encoder is the
// identity function over the feature frames: hidden dim equals feature
// dim, and caches pass through unchanged, so tests can reason about T'
// purely from the subsampling rate.
func (e *Executor) ForwardEncoderChunk(ctx context.Context, chunk model.Chunk) (model.ChunkResult, error) {
	sub := e.meta.SubsamplingRate
	if sub < 1 {
		sub = 1
	}
	outT := chunk.NumFrames / sub
	enc := model.EncoderOutput{
		Data:      make([]float32, outT*chunk.FeatDim),
		TimeSteps: outT,
		Hidden:    chunk.FeatDim,
	}
	for t := 0; t < outT; t++ {
		srcRow := t * sub * chunk.FeatDim
		copy(enc.Data[t*chunk.FeatDim:(t+1)*chunk.FeatDim], chunk.Feats[srcRow:srcRow+chunk.FeatDim])
	}
	return model.ChunkResult{Enc: enc, NewAttCache: chunk.AttCache, NewCnnCache: chunk.CnnCache}, nil
}

// CTCActivation implements model.Executor by replaying Script in order.
// If Script is empty, it returns, for every frame, a log-softmax
// distribution with 0.98 on the blank label and the remaining mass spread
// evenly over the other labels.
func (e *Executor) CTCActivation(ctx context.Context, enc model.EncoderOutput) (model.CTCLogProbs, error) {
	if len(e.Script) > 0 {
		out := e.Script[e.callIdx%len(e.Script)]
		e.callIdx++
		return out, nil
	}

	vocab := 32
	logp := make([]float32, enc.TimeSteps*vocab)
	blankLogp := float32(math.Log(0.98))
	other := float32(math.Log(0.02 / float64(vocab-1)))
	for t := 0; t < enc.TimeSteps; t++ {
		for v := 0; v < vocab; v++ {
			if v == 0 {
				logp[t*vocab+v] = blankLogp
			} else {
				logp[t*vocab+v] = other
			}
		}
	}
	return model.CTCLogProbs{Data: logp, TimeSteps: enc.TimeSteps, Vocab: vocab}, nil
}

// ForwardAttentionDecoder implements model.Executor.
func (e *Executor) ForwardAttentionDecoder(ctx context.Context, req model.AttentionRequest) (model.AttentionResult, error) {
	if e.AttentionScorer != nil {
		return e.AttentionScorer(req), nil
	}

	vocab := 32
	maxLen := 0
	for _, h := range req.HypsPadded {
		if len(h) > maxLen {
			maxLen = len(h)
		}
	}

	l2r := make([][][]float32, len(req.HypsPadded))
	for i, hyp := range req.HypsPadded {
		rows := make([][]float32, maxLen)
		uniform := float32(math.Log(1.0 / float64(vocab)))
		for j := 0; j < maxLen; j++ {
			row := make([]float32, vocab)
			for v := range row {
				row[v] = uniform
			}
			if j < len(hyp) {
				tok := hyp[j]
				if tok >= 0 && tok < vocab {
					row[tok] = 0 // near-certain on the scripted token
				}
			}
			rows[j] = row
		}
		l2r[i] = rows
	}

	var r2l [][][]float32
	if e.meta.IsBidirectionalDecoder && req.ReverseWeight > 0 {
		r2l = l2r
	}

	return model.AttentionResult{LogProbsL2R: l2r, LogProbsR2L: r2l}, nil
}

// BatchForwardEncoder implements model.Executor by running the same
// per-utterance chunk-forward and CTC-activation logic used for the
// streaming path over each padded row of the batch independently.
func (e *Executor) BatchForwardEncoder(ctx context.Context, req model.BatchRequest) (model.BatchResult, error) {
	res := model.BatchResult{
		Enc:     make([]model.EncoderOutput, len(req.Feats)),
		EncLens: make([]int, len(req.Feats)),
		CTCLogp: make([]model.CTCLogProbs, len(req.Feats)),
	}
	sub := e.meta.SubsamplingRate
	if sub < 1 {
		sub = 1
	}
	for i, feats := range req.Feats {
		trueLen := req.FeatsLens[i]
		chunk := model.Chunk{Feats: feats, NumFrames: trueLen, FeatDim: req.FeatDim}
		chunkRes, err := e.ForwardEncoderChunk(ctx, chunk)
		if err != nil {
			return model.BatchResult{}, err
		}
		logp, err := e.CTCActivation(ctx, chunkRes.Enc)
		if err != nil {
			return model.BatchResult{}, err
		}
		res.Enc[i] = chunkRes.Enc
		res.EncLens[i] = chunkRes.Enc.TimeSteps
		res.CTCLogp[i] = logp
	}
	return res, nil
}
