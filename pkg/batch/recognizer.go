// Package batch implements the non-streaming Batch Recognizer (spec
// component C7): a whole batch of utterances is run through one batched
// encoder forward pass, then each utterance's CTC search and attention
// rescoring runs independently and concurrently.
package batch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/wenet-go/wenet-go/pkg/contextgraph"
	"github.com/wenet-go/wenet-go/pkg/ctcdecoder"
	"github.com/wenet-go/wenet-go/pkg/model"
)

// Utterance is one batch member's feature frames, already extracted (spec
// component C1 is a streaming concern; the batch path is handed complete
// feature tensors).
type Utterance struct {
	Feats     []float32 // (T, D) flattened row-major
	NumFrames int
	FeatDim   int
}

// Rescorer matches pkg/rescorer.Rescorer's signature without importing it
// directly, avoiding a hard dependency for callers that want CTC-only batch
// decoding.
type Rescorer interface {
	Rescore(ctx context.Context, hyps []ctcdecoder.Hypothesis, enc model.EncoderOutput, reverseWeight float64) ([]ctcdecoder.Hypothesis, error)
}

// Config configures a Recognizer.
type Config struct {
	NBest              int
	ReverseWeight      float64
	MaxConcurrency     int // bounds concurrent per-utterance searches; 0 means unbounded
	BeamSize           int
	FirstBeamSize      int
	BlankID            int
	BlankSkipThreshold float64
	ContextGraph       *contextgraph.Graph
}

// Recognizer decodes batches of complete utterances.
type Recognizer struct {
	cfg      Config
	exec     model.Executor
	rescorer Rescorer
}

// New creates a Recognizer. rescorer may be nil for CTC-only decoding.
func New(cfg Config, exec model.Executor, rescorer Rescorer) *Recognizer {
	return &Recognizer{cfg: cfg, exec: exec, rescorer: rescorer}
}

// Recognize passes every utterance's features, unpadded and with its true
// frame count in FeatsLens, to one BatchForwardEncoder call, then fans out
// one CTC search plus attention rescore per utterance, bounded by
// cfg.MaxConcurrency. No padding to the batch's max frame count is done
// here. It returns one N-best list per utterance, in input order.
func (r *Recognizer) Recognize(ctx context.Context, utterances []Utterance) ([][]ctcdecoder.Hypothesis, error) {
	if len(utterances) == 0 {
		return nil, nil
	}

	req := model.BatchRequest{
		Feats:     make([][]float32, len(utterances)),
		FeatsLens: make([]int, len(utterances)),
	}
	for i, u := range utterances {
		req.Feats[i] = u.Feats
		req.FeatsLens[i] = u.NumFrames
		req.FeatDim = u.FeatDim
	}

	batchRes, err := r.exec.BatchForwardEncoder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("batch: forward encoder: %w", err)
	}

	results := make([][]ctcdecoder.Hypothesis, len(utterances))

	eg, egCtx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, r.concurrencyLimit(len(utterances)))

	for i := range utterances {
		i := i
		eg.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-egCtx.Done():
				return egCtx.Err()
			}
			defer func() { <-sem }()

			hyps, err := r.decodeOne(egCtx, batchRes, i)
			if err != nil {
				return fmt.Errorf("batch: utterance %d: %w", i, err)
			}
			results[i] = hyps
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Recognizer) decodeOne(ctx context.Context, batchRes model.BatchResult, i int) ([]ctcdecoder.Hypothesis, error) {
	searcher := ctcdecoder.New(ctcdecoder.Config{
		BeamSize:           r.cfg.BeamSize,
		FirstBeamSize:      r.cfg.FirstBeamSize,
		BlankID:            r.cfg.BlankID,
		BlankSkipThreshold: r.cfg.BlankSkipThreshold,
	}, r.cfg.ContextGraph)

	searcher.AdvanceChunk(batchRes.CTCLogp[i], 0)
	hyps := searcher.Finalize(r.cfg.NBest)

	if r.rescorer != nil && len(hyps) > 0 {
		rescored, err := r.rescorer.Rescore(ctx, hyps, batchRes.Enc[i], r.cfg.ReverseWeight)
		if err != nil {
			return nil, err
		}
		return rescored, nil
	}
	return hyps, nil
}

func (r *Recognizer) concurrencyLimit(n int) int {
	if r.cfg.MaxConcurrency <= 0 || r.cfg.MaxConcurrency > n {
		return n
	}
	return r.cfg.MaxConcurrency
}
