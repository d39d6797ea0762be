// Package fbank implements a log-mel filterbank acoustic frontend, the
// default frontend.FeatureExtractor. Feature extraction is out of scope
// for the decoding core (spec.md §1), but the extractor seam needs a real
// implementation so the feature pipeline runs end to end in tests.
package fbank

import (
	"math"

	"github.com/wenet-go/wenet-go/pkg/frontend"
)

// Config configures the filterbank.
type Config struct {
	SampleRate  int // samples per second, e.g. 16000
	NumFilters  int // mel filterbank channels, e.g. 80
	FrameLenMs  int // analysis window length in milliseconds, e.g. 25
	FrameHopMs  int // hop between windows in milliseconds, e.g. 10
	LowFreqHz   float64
	HighFreqHz  float64 // 0 means Nyquist
}

// Extractor computes log-mel filterbank features from 16-bit PCM.
type Extractor struct {
	cfg     Config
	window  int
	hop     int
	hamming []float64
	filters [][]float64 // [NumFilters][window/2+1]
}

// New builds an Extractor for cfg, precomputing the analysis window and
// the triangular mel filters.
func New(cfg Config) *Extractor {
	if cfg.HighFreqHz == 0 {
		cfg.HighFreqHz = float64(cfg.SampleRate) / 2
	}
	window := cfg.SampleRate * cfg.FrameLenMs / 1000
	hop := cfg.SampleRate * cfg.FrameHopMs / 1000

	e := &Extractor{cfg: cfg, window: window, hop: hop}
	e.hamming = make([]float64, window)
	for i := range e.hamming {
		e.hamming[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(window-1))
	}
	e.filters = buildMelFilters(cfg.NumFilters, window, cfg.SampleRate, cfg.LowFreqHz, cfg.HighFreqHz)
	return e
}

// FrameSize implements frontend.FeatureExtractor.
func (e *Extractor) FrameSize() (window, hop int) {
	return e.window, e.hop
}

// Extract implements frontend.FeatureExtractor. It computes a windowed
// power spectrum via a direct (O(window*bins)) DFT magnitude and projects
// it through the mel filterbank, taking the natural log of each channel.
func (e *Extractor) Extract(samples []int16) frontend.Frame {
	return frontend.Frame{Data: e.LogMel(samples)}
}

// NumFilters returns the filterbank channel count (the feature dimension).
func (e *Extractor) NumFilters() int { return e.cfg.NumFilters }

// powerSpectrum computes |DFT(windowed)|^2 for bins 0..window/2.
func (e *Extractor) powerSpectrum(samples []int16) []float64 {
	n := e.window
	windowed := make([]float64, n)
	for i := 0; i < n && i < len(samples); i++ {
		windowed[i] = float64(samples[i]) * e.hamming[i]
	}

	nBins := n/2 + 1
	power := make([]float64, nBins)
	for k := 0; k < nBins; k++ {
		var re, im float64
		angleStep := -2 * math.Pi * float64(k) / float64(n)
		for t := 0; t < n; t++ {
			angle := angleStep * float64(t)
			re += windowed[t] * math.Cos(angle)
			im += windowed[t] * math.Sin(angle)
		}
		power[k] = re*re + im*im
	}
	return power
}

// LogMel computes the NumFilters-dimensional log-mel energies for one
// window of raw PCM samples.
func (e *Extractor) LogMel(samples []int16) []float32 {
	power := e.powerSpectrum(samples)
	out := make([]float32, len(e.filters))
	for i, filt := range e.filters {
		var energy float64
		for k, coeff := range filt {
			if coeff == 0 {
				continue
			}
			energy += coeff * power[k]
		}
		if energy < 1e-10 {
			energy = 1e-10
		}
		out[i] = float32(math.Log(energy))
	}
	return out
}

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

// buildMelFilters constructs NumFilters triangular filters over the
// window/2+1 power-spectrum bins, spaced evenly on the mel scale between
// lowFreq and highFreq.
func buildMelFilters(numFilters, window, sampleRate int, lowFreq, highFreq float64) [][]float64 {
	nBins := window/2 + 1
	lowMel := hzToMel(lowFreq)
	highMel := hzToMel(highFreq)

	points := make([]float64, numFilters+2)
	step := (highMel - lowMel) / float64(numFilters+1)
	for i := range points {
		points[i] = lowMel + float64(i)*step
	}

	bin := make([]int, numFilters+2)
	for i, m := range points {
		freq := melToHz(m)
		bin[i] = int(math.Floor(freq * float64(window+1) / float64(sampleRate)))
	}

	filters := make([][]float64, numFilters)
	for i := 0; i < numFilters; i++ {
		filters[i] = make([]float64, nBins)
		left, center, right := bin[i], bin[i+1], bin[i+2]
		for j := left; j < center && j < nBins; j++ {
			if center != left && j >= 0 {
				filters[i][j] = float64(j-left) / float64(center-left)
			}
		}
		for j := center; j <= right && j < nBins; j++ {
			if right != center && j >= 0 {
				filters[i][j] = float64(right-j) / float64(right-center)
			}
		}
	}
	return filters
}
