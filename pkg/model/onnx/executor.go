// Package onnx implements model.Executor over ONNX Runtime sessions,
// adapted from the teacher's pkg/turn ONNXDetector: lazy sync.Once session
// construction, a process-wide once-initialized runtime environment, and
// explicit intra/inter-op thread configuration.
package onnx

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/wenet-go/wenet-go/pkg/model"
	"github.com/wenet-go/wenet-go/pkg/wenetserrors"
)

// Config configures an Executor.
type Config struct {
	ModelDir   string // directory holding encoder.onnx, ctc.onnx, decoder.onnx
	NumThreads int    // intra-op thread count; 0 picks runtime.NumCPU()/2
	Metadata   model.Metadata
}

// Executor is a model.Executor backed by three ONNX Runtime sessions: the
// streaming/batch encoder, the CTC projection, and the attention decoder.
// Each session is shared read-only across sessions (spec.md §5); all
// tensors are caller-supplied per call, so no executor-held cache state is
// ever mutated concurrently.
type Executor struct {
	cfg Config

	encoderOnce    sync.Once
	encoderSession *ort.DynamicAdvancedSession
	encoderErr     error

	ctcOnce    sync.Once
	ctcSession *ort.DynamicAdvancedSession
	ctcErr     error

	decoderOnce    sync.Once
	decoderSession *ort.DynamicAdvancedSession
	decoderErr     error
}

// New creates an Executor for the given config. Sessions are loaded
// lazily on first use, not at construction time, matching the teacher's
// loadSession() pattern.
func New(cfg Config) (*Executor, error) {
	if cfg.ModelDir == "" {
		return nil, fmt.Errorf("%w: model dir is required", wenetserrors.ErrConfigInvalid)
	}
	if cfg.NumThreads <= 0 {
		cfg.NumThreads = max(1, runtime.NumCPU()/2)
	}
	return &Executor{cfg: cfg}, nil
}

// Metadata implements model.Executor.
func (e *Executor) Metadata() model.Metadata { return e.cfg.Metadata }

func (e *Executor) sessionOptions() (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	if err := opts.SetIntraOpNumThreads(e.cfg.NumThreads); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("set intra-op threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("set inter-op threads: %w", err)
	}
	return opts, nil
}

func (e *Executor) loadEncoder() error {
	e.encoderOnce.Do(func() {
		if err := ensureRuntime(); err != nil {
			e.encoderErr = fmt.Errorf("%w: %v", wenetserrors.ErrModelLoad, err)
			return
		}
		opts, err := e.sessionOptions()
		if err != nil {
			e.encoderErr = fmt.Errorf("%w: %v", wenetserrors.ErrModelLoad, err)
			return
		}
		defer opts.Destroy()

		session, err := ort.NewDynamicAdvancedSession(
			filepath.Join(e.cfg.ModelDir, "encoder.onnx"),
			[]string{"chunk_feats", "att_cache", "cnn_cache", "offset"},
			[]string{"output", "r_att_cache", "r_cnn_cache"},
			opts,
		)
		if err != nil {
			e.encoderErr = fmt.Errorf("%w: load encoder.onnx: %v", wenetserrors.ErrModelLoad, err)
			return
		}
		e.encoderSession = session
	})
	return e.encoderErr
}

func (e *Executor) loadCTC() error {
	e.ctcOnce.Do(func() {
		if err := ensureRuntime(); err != nil {
			e.ctcErr = fmt.Errorf("%w: %v", wenetserrors.ErrModelLoad, err)
			return
		}
		opts, err := e.sessionOptions()
		if err != nil {
			e.ctcErr = fmt.Errorf("%w: %v", wenetserrors.ErrModelLoad, err)
			return
		}
		defer opts.Destroy()

		session, err := ort.NewDynamicAdvancedSession(
			filepath.Join(e.cfg.ModelDir, "ctc.onnx"),
			[]string{"hidden"},
			[]string{"probs"},
			opts,
		)
		if err != nil {
			e.ctcErr = fmt.Errorf("%w: load ctc.onnx: %v", wenetserrors.ErrModelLoad, err)
			return
		}
		e.ctcSession = session
	})
	return e.ctcErr
}

func (e *Executor) loadDecoder() error {
	e.decoderOnce.Do(func() {
		if err := ensureRuntime(); err != nil {
			e.decoderErr = fmt.Errorf("%w: %v", wenetserrors.ErrModelLoad, err)
			return
		}
		opts, err := e.sessionOptions()
		if err != nil {
			e.decoderErr = fmt.Errorf("%w: %v", wenetserrors.ErrModelLoad, err)
			return
		}
		defer opts.Destroy()

		session, err := ort.NewDynamicAdvancedSession(
			filepath.Join(e.cfg.ModelDir, "decoder.onnx"),
			[]string{"hyps_pad_sos", "hyps_lens_sos", "encoder_out", "reverse_weight"},
			[]string{"decoder_out", "r_decoder_out"},
			opts,
		)
		if err != nil {
			e.decoderErr = fmt.Errorf("%w: load decoder.onnx: %v", wenetserrors.ErrModelLoad, err)
			return
		}
		e.decoderSession = session
	})
	return e.decoderErr
}

// ForwardEncoderChunk implements model.Executor.
func (e *Executor) ForwardEncoderChunk(ctx context.Context, chunk model.Chunk) (model.ChunkResult, error) {
	if err := e.loadEncoder(); err != nil {
		return model.ChunkResult{}, err
	}

	feats, err := ort.NewTensor(ort.NewShape(1, int64(chunk.NumFrames), int64(chunk.FeatDim)), chunk.Feats)
	if err != nil {
		return model.ChunkResult{}, fmt.Errorf("%w: encoder input tensor: %v", wenetserrors.ErrDecodeFailed, err)
	}
	defer feats.Destroy()

	attCache, err := floatCacheTensor(chunk.AttCache)
	if err != nil {
		return model.ChunkResult{}, err
	}
	defer attCache.Destroy()

	cnnCache, err := floatCacheTensor(chunk.CnnCache)
	if err != nil {
		return model.ChunkResult{}, err
	}
	defer cnnCache.Destroy()

	offset, err := ort.NewTensor(ort.NewShape(1), []int64{int64(chunk.Offset)})
	if err != nil {
		return model.ChunkResult{}, fmt.Errorf("%w: offset tensor: %v", wenetserrors.ErrDecodeFailed, err)
	}
	defer offset.Destroy()

	outputs := make([]ort.Value, 3)
	if err := e.encoderSession.Run([]ort.Value{feats, attCache, cnnCache, offset}, outputs); err != nil {
		return model.ChunkResult{}, fmt.Errorf("%w: encoder run: %v", wenetserrors.ErrDecodeFailed, err)
	}
	defer destroyAll(outputs)

	encOut, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return model.ChunkResult{}, fmt.Errorf("%w: unexpected encoder output tensor type", wenetserrors.ErrDecodeFailed)
	}
	shape := encOut.GetShape()
	timeSteps := int(shape[1])
	hidden := int(shape[2])

	newAtt := tensorData[float32](outputs[1])
	newCnn := tensorData[float32](outputs[2])

	return model.ChunkResult{
		Enc:         model.EncoderOutput{Data: append([]float32(nil), encOut.GetData()...), TimeSteps: timeSteps, Hidden: hidden},
		NewAttCache: newAtt,
		NewCnnCache: newCnn,
	}, nil
}

// CTCActivation implements model.Executor.
func (e *Executor) CTCActivation(ctx context.Context, enc model.EncoderOutput) (model.CTCLogProbs, error) {
	if err := e.loadCTC(); err != nil {
		return model.CTCLogProbs{}, err
	}

	hidden, err := ort.NewTensor(ort.NewShape(1, int64(enc.TimeSteps), int64(enc.Hidden)), enc.Data)
	if err != nil {
		return model.CTCLogProbs{}, fmt.Errorf("%w: ctc input tensor: %v", wenetserrors.ErrDecodeFailed, err)
	}
	defer hidden.Destroy()

	outputs := make([]ort.Value, 1)
	if err := e.ctcSession.Run([]ort.Value{hidden}, outputs); err != nil {
		return model.CTCLogProbs{}, fmt.Errorf("%w: ctc run: %v", wenetserrors.ErrDecodeFailed, err)
	}
	defer destroyAll(outputs)

	probs, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return model.CTCLogProbs{}, fmt.Errorf("%w: unexpected ctc output tensor type", wenetserrors.ErrDecodeFailed)
	}
	shape := probs.GetShape()
	return model.CTCLogProbs{
		Data:      append([]float32(nil), probs.GetData()...),
		TimeSteps: int(shape[1]),
		Vocab:     int(shape[2]),
	}, nil
}

// ForwardAttentionDecoder implements model.Executor.
func (e *Executor) ForwardAttentionDecoder(ctx context.Context, req model.AttentionRequest) (model.AttentionResult, error) {
	if err := e.loadDecoder(); err != nil {
		return model.AttentionResult{}, err
	}

	n := len(req.HypsPadded)
	if n == 0 {
		return model.AttentionResult{}, nil
	}
	maxLen := len(req.HypsPadded[0])

	hypsFlat := make([]int64, 0, n*maxLen)
	for _, h := range req.HypsPadded {
		for _, tok := range h {
			hypsFlat = append(hypsFlat, int64(tok))
		}
	}
	hypsPad, err := ort.NewTensor(ort.NewShape(int64(n), int64(maxLen)), hypsFlat)
	if err != nil {
		return model.AttentionResult{}, fmt.Errorf("%w: hyps_pad tensor: %v", wenetserrors.ErrDecodeFailed, err)
	}
	defer hypsPad.Destroy()

	lens := make([]int64, n)
	for i, l := range req.HypsLens {
		lens[i] = int64(l)
	}
	hypsLens, err := ort.NewTensor(ort.NewShape(int64(n)), lens)
	if err != nil {
		return model.AttentionResult{}, fmt.Errorf("%w: hyps_lens tensor: %v", wenetserrors.ErrDecodeFailed, err)
	}
	defer hypsLens.Destroy()

	encTensor, err := ort.NewTensor(ort.NewShape(1, int64(req.Encoder.TimeSteps), int64(req.Encoder.Hidden)), req.Encoder.Data)
	if err != nil {
		return model.AttentionResult{}, fmt.Errorf("%w: encoder_out tensor: %v", wenetserrors.ErrDecodeFailed, err)
	}
	defer encTensor.Destroy()

	reverse, err := ort.NewTensor(ort.NewShape(1), []float32{float32(req.ReverseWeight)})
	if err != nil {
		return model.AttentionResult{}, fmt.Errorf("%w: reverse_weight tensor: %v", wenetserrors.ErrDecodeFailed, err)
	}
	defer reverse.Destroy()

	outputs := make([]ort.Value, 2)
	if err := e.decoderSession.Run([]ort.Value{hypsPad, hypsLens, encTensor, reverse}, outputs); err != nil {
		return model.AttentionResult{}, fmt.Errorf("%w: decoder run: %v", wenetserrors.ErrDecodeFailed, err)
	}
	defer destroyAll(outputs)

	vocab := e.cfg.Metadata.FeatureDim // placeholder until shape known below
	l2r, err := reshape3D(outputs[0], n, maxLen, &vocab)
	if err != nil {
		return model.AttentionResult{}, err
	}

	var r2l [][][]float32
	if e.cfg.Metadata.IsBidirectionalDecoder && req.ReverseWeight > 0 {
		r2l, err = reshape3D(outputs[1], n, maxLen, &vocab)
		if err != nil {
			return model.AttentionResult{}, err
		}
	}

	return model.AttentionResult{LogProbsL2R: l2r, LogProbsR2L: r2l}, nil
}

// BatchForwardEncoder implements model.Executor. It runs the encoder and
// then CTCActivation once per utterance, each at its own true length
// (FeatsLens[i]); it does not pad the batch and does not make a single
// batched encoder call.
func (e *Executor) BatchForwardEncoder(ctx context.Context, req model.BatchRequest) (model.BatchResult, error) {
	if err := e.loadEncoder(); err != nil {
		return model.BatchResult{}, err
	}

	b := len(req.Feats)
	res := model.BatchResult{
		Enc:     make([]model.EncoderOutput, b),
		EncLens: make([]int, b),
		CTCLogp: make([]model.CTCLogProbs, b),
	}
	for i := 0; i < b; i++ {
		chunk := model.Chunk{Feats: req.Feats[i], NumFrames: req.FeatsLens[i], FeatDim: req.FeatDim}
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

// Close releases the underlying ONNX Runtime sessions.
func (e *Executor) Close() error {
	if e.encoderSession != nil {
		e.encoderSession.Destroy()
	}
	if e.ctcSession != nil {
		e.ctcSession.Destroy()
	}
	if e.decoderSession != nil {
		e.decoderSession.Destroy()
	}
	return nil
}

func floatCacheTensor(data []float32) (*ort.Tensor[float32], error) {
	if len(data) == 0 {
		return ort.NewEmptyTensor[float32](ort.NewShape(0))
	}
	return ort.NewTensor(ort.NewShape(int64(len(data))), data)
}

func destroyAll(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}

func tensorData[T ort.TensorData](v ort.Value) []T {
	t, ok := v.(*ort.Tensor[T])
	if !ok {
		return nil
	}
	return append([]T(nil), t.GetData()...)
}

func reshape3D(v ort.Value, n, l int, vocab *int) ([][][]float32, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: unexpected attention output tensor type", wenetserrors.ErrDecodeFailed)
	}
	shape := t.GetShape()
	*vocab = int(shape[2])
	data := t.GetData()
	out := make([][][]float32, n)
	for i := 0; i < n; i++ {
		out[i] = make([][]float32, l)
		for j := 0; j < l; j++ {
			start := (i*l + j) * *vocab
			out[i][j] = append([]float32(nil), data[start:start+*vocab]...)
		}
	}
	return out, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
