package frontend

import (
	"context"
	"testing"
	"time"

	"github.com/matryer/is"
)

// fixedExtractor produces one frame per window samples, no overlap, with
// the frame's data set to the mean of the window (enough to exercise the
// pipeline's buffering logic without a real fbank).
type fixedExtractor struct{ window int }

func (f fixedExtractor) FrameSize() (int, int) { return f.window, f.window }
func (f fixedExtractor) Extract(samples []int16) Frame {
	var sum float32
	for _, s := range samples {
		sum += float32(s)
	}
	return Frame{Data: []float32{sum / float32(len(samples))}}
}

func TestPipeline_AcceptWaveformProducesFrames(t *testing.T) {
	is := is.New(t)
	p := NewPipeline(Config{SampleRate: 16000, FeatureDim: 1, Extractor: fixedExtractor{window: 4}})

	p.AcceptWaveform([]int16{1, 2, 3, 4, 5, 6, 7, 8})
	is.Equal(p.NumFramesProduced(), 2) // two full windows of 4 samples each
}

func TestPipeline_ReadBlocksUntilAvailable(t *testing.T) {
	is := is.New(t)
	p := NewPipeline(Config{SampleRate: 16000, FeatureDim: 1, Extractor: fixedExtractor{window: 2}})

	type result struct {
		frames []Frame
		ok     bool
	}
	done := make(chan result, 1)
	go func() {
		ctx := context.Background()
		frames, ok := p.Read(ctx, 2)
		done <- result{frames, ok}
	}()

	select {
	case <-done:
		t.Fatal("Read returned before frames were available")
	case <-time.After(20 * time.Millisecond):
	}

	p.AcceptWaveform([]int16{10, 20, 30, 40})

	select {
	case r := <-done:
		is.True(r.ok)
		is.Equal(len(r.frames), 2)
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock after frames became available")
	}
}

func TestPipeline_ReadReturnsFalseOnInputFinished(t *testing.T) {
	is := is.New(t)
	p := NewPipeline(Config{SampleRate: 16000, FeatureDim: 1, Extractor: fixedExtractor{window: 2}})
	p.SetInputFinished()

	frames, ok := p.Read(context.Background(), 5)
	is.True(!ok)
	is.Equal(len(frames), 0)
}

func TestPipeline_ReadDrainsThenSignalsEOF(t *testing.T) {
	is := is.New(t)
	p := NewPipeline(Config{SampleRate: 16000, FeatureDim: 1, Extractor: fixedExtractor{window: 2}})
	p.AcceptWaveform([]int16{1, 2, 3, 4})
	p.SetInputFinished()

	frames, ok := p.Read(context.Background(), 10)
	is.True(ok)
	is.Equal(len(frames), 2)

	frames, ok = p.Read(context.Background(), 10)
	is.True(!ok)
	is.Equal(len(frames), 0)
}

func TestPipeline_ReadRespectsContextCancellation(t *testing.T) {
	is := is.New(t)
	p := NewPipeline(Config{SampleRate: 16000, FeatureDim: 1, Extractor: fixedExtractor{window: 2}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := p.Read(ctx, 100)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		is.True(!ok)
	case <-time.After(time.Second):
		t.Fatal("Read did not observe context cancellation")
	}
}

func TestPipeline_ReadWaitsForFullChunkAcrossMultipleAcceptWaveformCalls(t *testing.T) {
	is := is.New(t)
	p := NewPipeline(Config{SampleRate: 16000, FeatureDim: 1, Extractor: fixedExtractor{window: 1}})

	type result struct {
		frames []Frame
		ok     bool
	}
	done := make(chan result, 1)
	go func() {
		frames, ok := p.Read(context.Background(), 3)
		done <- result{frames, ok}
	}()

	// Each call delivers one frame's worth of samples; a pending Read for 3
	// frames must not return until the third call, even though frames
	// become available one at a time in between.
	p.AcceptWaveform([]int16{1})
	select {
	case <-done:
		t.Fatal("Read returned after 1 of 3 frames became available")
	case <-time.After(20 * time.Millisecond):
	}

	p.AcceptWaveform([]int16{2})
	select {
	case <-done:
		t.Fatal("Read returned after 2 of 3 frames became available")
	case <-time.After(20 * time.Millisecond):
	}

	p.AcceptWaveform([]int16{3})
	select {
	case r := <-done:
		is.True(r.ok)
		is.Equal(len(r.frames), 3)
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock once all 3 frames became available")
	}
}

func TestPipeline_Reset(t *testing.T) {
	is := is.New(t)
	p := NewPipeline(Config{SampleRate: 16000, FeatureDim: 1, Extractor: fixedExtractor{window: 2}})
	p.AcceptWaveform([]int16{1, 2, 3, 4})
	p.SetInputFinished()

	p.Reset()
	is.Equal(p.NumFramesProduced(), 0)

	// input_finished was cleared by Reset, so a bounded-context Read
	// blocks (times out) rather than observing EOF.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	frames, ok := p.Read(ctx, 1)
	is.Equal(len(frames), 0)
	is.True(!ok)
}

func TestPipeline_ConsumedFramesMatchAppended(t *testing.T) {
	is := is.New(t)
	p := NewPipeline(Config{SampleRate: 16000, FeatureDim: 1, Extractor: fixedExtractor{window: 1}})

	p.AcceptWaveform([]int16{1, 2, 3, 4, 5})
	p.SetInputFinished()

	total := 0
	for {
		frames, ok := p.Read(context.Background(), 2)
		total += len(frames)
		if !ok {
			break
		}
	}
	is.Equal(total, p.NumFramesProduced())
}
