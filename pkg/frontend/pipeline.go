// Package frontend implements the buffered producer/consumer feature
// pipeline (spec component C1): the audio-frontend thread appends frames
// as PCM arrives, and the decoder thread reads them back in order.
package frontend

import (
	"context"
	"sync"
)

// Frame is one extracted acoustic feature vector at a fixed dimension,
// indexed by its monotonic position in the utterance.
type Frame struct {
	Data  []float32
	Index int
}

// Config configures a Pipeline.
type Config struct {
	SampleRate int // 16-bit PCM samples per second, e.g. 16000
	FeatureDim int // dimensionality of each extracted Frame
	Extractor  FeatureExtractor
}

// FeatureExtractor turns buffered PCM samples into feature frames. It is
// the seam through which a real log-mel filterbank (or any other acoustic
// frontend) plugs in; the pipeline itself is frontend-agnostic.
type FeatureExtractor interface {
	// FrameSize returns the number of PCM samples consumed to produce one
	// Frame, and the hop (stride) between consecutive frames in samples.
	FrameSize() (window, hop int)

	// Extract computes a Frame from a window of PCM samples. samples has
	// exactly the window length returned by FrameSize.
	Extract(samples []int16) Frame
}

// Pipeline is the C1 Feature Pipeline: a single-producer, single-reader
// buffer of Frames with end-of-stream signalling. Concurrent readers are
// not supported; exactly one goroutine may call Read at a time.
type Pipeline struct {
	cfg Config

	mu           sync.Mutex
	cond         *sync.Cond
	pcm          []int16 // unconsumed raw samples awaiting a full window
	frames       []Frame
	numConsumed  int
	inputFinished bool
}

// NewPipeline creates an empty Pipeline for the given configuration.
func NewPipeline(cfg Config) *Pipeline {
	p := &Pipeline{cfg: cfg}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// AcceptWaveform appends little-endian 16-bit PCM samples to the internal
// buffer, extracts as many complete frames as the buffer allows, appends
// them to the frame sequence, and wakes any blocked reader.
func (p *Pipeline) AcceptWaveform(pcm []int16) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inputFinished {
		return
	}

	p.pcm = append(p.pcm, pcm...)

	window, hop := p.cfg.Extractor.FrameSize()
	for len(p.pcm) >= window {
		frame := p.cfg.Extractor.Extract(p.pcm[:window])
		frame.Index = len(p.frames)
		p.frames = append(p.frames, frame)
		if hop >= len(p.pcm) {
			p.pcm = p.pcm[:0]
			break
		}
		p.pcm = p.pcm[hop:]
	}

	p.cond.Broadcast()
}

// SetInputFinished marks that no further PCM will arrive and wakes all
// waiters. Any samples left in the PCM tail that do not fill a full window
// are dropped, matching the reference decoder's end-of-stream behavior.
func (p *Pipeline) SetInputFinished() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputFinished = true
	p.cond.Broadcast()
}

// Read blocks until either n frames are available past the frames already
// consumed, or input is finished, or ctx is cancelled. It returns up to n
// frames; ok is false iff the buffer is drained and input is finished (or
// ctx was cancelled before any frame became available).
func (p *Pipeline) Read(ctx context.Context, n int) (frames []Frame, ok bool) {
	done := ctx.Done()

	p.mu.Lock()
	defer p.mu.Unlock()

	// A goroutine parked in cond.Wait does not observe ctx cancellation
	// directly, so a watcher goroutine broadcasts on our behalf.
	if done != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-done:
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			case <-stop:
			}
		}()
	}

	for {
		available := len(p.frames) - p.numConsumed
		if available >= n || p.inputFinished {
			if available == 0 {
				return nil, false
			}
			take := n
			if available < take {
				take = available
			}
			out := make([]Frame, take)
			copy(out, p.frames[p.numConsumed:p.numConsumed+take])
			p.numConsumed += take
			return out, true
		}

		select {
		case <-done:
			return nil, false
		default:
		}

		p.cond.Wait()

		select {
		case <-done:
			return nil, false
		default:
		}
	}
}

// Reset discards remaining frames, clears input_finished, and rewinds
// num_consumed. Called between utterances in continuous-decoding mode.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = nil
	p.pcm = p.pcm[:0]
	p.numConsumed = 0
	p.inputFinished = false
}

// NumFramesProduced returns the total number of frames appended so far.
func (p *Pipeline) NumFramesProduced() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}
