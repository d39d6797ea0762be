// Package model defines the Model Executor contract (spec component C2):
// the five opaque neural inference operations a decoding core drives, and
// the immutable metadata describing the loaded acoustic model. Concrete
// adapters (onnx, fake) live in subpackages.
package model

import "context"

// Metadata describes the immutable properties of a loaded acoustic model.
type Metadata struct {
	SubsamplingRate       int
	RightContext          int
	SosID                 int
	EosID                 int
	IsBidirectionalDecoder bool
	FeatureDim            int
	ChunkSize             int
}

// EncoderOutput is a (T', H) tensor of encoder hidden states, flattened
// row-major. Retained by the caller until rescoring for the utterance
// completes.
type EncoderOutput struct {
	Data      []float32
	TimeSteps int
	Hidden    int
}

// CTCLogProbs is a (T', V) tensor of log-softmax CTC label probabilities,
// flattened row-major.
type CTCLogProbs struct {
	Data      []float32
	TimeSteps int
	Vocab     int
}

// Row returns the V log-probabilities for frame t without copying.
func (p CTCLogProbs) Row(t int) []float32 {
	return p.Data[t*p.Vocab : (t+1)*p.Vocab]
}

// Chunk is one streaming encoder-forward call's input: a window of
// feature frames plus the caller-owned conformer/transformer caches and
// the absolute frame offset of this chunk within the utterance.
type Chunk struct {
	Feats     []float32 // (N, D) flattened row-major
	NumFrames int
	FeatDim   int
	AttCache  []float32
	CnnCache  []float32
	Offset    int
}

// ChunkResult is the output of ForwardEncoderChunk.
type ChunkResult struct {
	Enc         EncoderOutput
	NewAttCache []float32
	NewCnnCache []float32
}

// AttentionRequest is the input to ForwardAttentionDecoder: N padded
// hypotheses (each already prefixed with sos), their true lengths, the
// utterance's retained encoder output, and the L2R/R2L fusion weight.
type AttentionRequest struct {
	HypsPadded    [][]int // N hypotheses, each padded to MaxLen with EosID
	HypsLens      []int
	Encoder       EncoderOutput
	ReverseWeight float64
}

// AttentionResult holds per-token log-probabilities for each hypothesis.
// LogProbsR2L is nil when the executor is not bidirectional or
// ReverseWeight was 0.
type AttentionResult struct {
	LogProbsL2R [][][]float32 // [N][L][V]
	LogProbsR2L [][][]float32
}

// BatchRequest is the input to BatchForwardEncoder: B utterances, each at
// its own length (FeatsLens[i] frames).
type BatchRequest struct {
	Feats     [][]float32 // B utterances, each (T, D) flattened row-major
	FeatsLens []int
	FeatDim   int
}

// BatchResult is the output of BatchForwardEncoder: per-utterance encoder
// output, true output lengths, and per-utterance CTC log-probabilities.
type BatchResult struct {
	Enc       []EncoderOutput
	EncLens   []int
	CTCLogp   []CTCLogProbs
}

// Executor is the model-executor contract (spec.md §6). A single instance
// is shared, read-only, across sessions; it carries no per-session mutable
// state — callers own and pass in their own cache tensors.
type Executor interface {
	Metadata() Metadata
	ForwardEncoderChunk(ctx context.Context, chunk Chunk) (ChunkResult, error)
	CTCActivation(ctx context.Context, enc EncoderOutput) (CTCLogProbs, error)
	ForwardAttentionDecoder(ctx context.Context, req AttentionRequest) (AttentionResult, error)
	BatchForwardEncoder(ctx context.Context, req BatchRequest) (BatchResult, error)
}
