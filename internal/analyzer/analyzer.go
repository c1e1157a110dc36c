// Package analyzer implements the per-channel windowed RMS/peak accumulator
// described in spec.md §4.6: a 3-second non-overlapping window over one
// channel's sample stream, plus a whole-track primary/secondary peak
// tracker that feeds the peak-selection policy in internal/peakselect.
package analyzer

import "math"

// WindowRecord is one closed window's RMS and peak.
type WindowRecord struct {
	RMS  float64
	Peak float64
}

// ChannelData holds the whole-track peak and RMS state for one channel,
// independent of window boundaries.
type ChannelData struct {
	RMSAccumulator float64 // f64 sum of squares over every sample seen
	PeakPrimary    float64
	PeakSecondary  float64
	SampleCount    int64
	lastSample     float64
}

// processSample updates the primary/secondary peak tracker per spec.md
// §4.6 step 2: a new maximum bumps the old primary down to secondary.
func (c *ChannelData) processSample(s float64) {
	a := math.Abs(s)
	if a > c.PeakPrimary {
		c.PeakSecondary = c.PeakPrimary
		c.PeakPrimary = a
	} else if a > c.PeakSecondary {
		c.PeakSecondary = a
	}
	c.RMSAccumulator += s * s
	c.SampleCount++
	c.lastSample = s
}

// GlobalPeak is the raw sample peak over the whole track (spec.md §4.8).
func (c *ChannelData) GlobalPeak() float64 { return c.PeakPrimary }

// GlobalRMS is sqrt(rms_accumulator / sample_count) over the whole track.
func (c *ChannelData) GlobalRMS() float64 {
	if c.SampleCount == 0 {
		return 0
	}
	return math.Sqrt(c.RMSAccumulator / float64(c.SampleCount))
}

// TailPolicy controls what happens to a partial final window at end of
// stream. EmitIfHalfFull is the spec's chosen default (spec.md §4.6,
// §9 open question): emit when N >= ceil(W/2), else discard.
type TailPolicy int

const (
	EmitIfHalfFull TailPolicy = iota
	AlwaysDiscard
	AlwaysEmit
)

// Analyzer accumulates one channel's windowed RMS/peak records plus the
// whole-track ChannelData. It is not safe for concurrent use by more than
// one goroutine; spec.md §5 gives each channel its own analyzer instance
// so they can run in parallel across channels with no shared state.
type Analyzer struct {
	windowSize int64 // W = round(sample_rate * 3)
	policy     TailPolicy

	sumSqWindow     float64
	peakWindow      float64
	samplesInWindow int64

	windows []WindowRecord
	data    ChannelData
}

// WindowSamples returns W = round(sampleRate * 3), the canonical window
// length in samples, per spec.md §4.6.
func WindowSamples(sampleRate int) int64 {
	return int64(math.Round(float64(sampleRate) * 3.0))
}

// New creates an Analyzer for a channel sampled at sampleRate Hz.
func New(sampleRate int) *Analyzer {
	return NewWithPolicy(sampleRate, EmitIfHalfFull)
}

// NewWithPolicy creates an Analyzer with an explicit tail-window policy.
func NewWithPolicy(sampleRate int, policy TailPolicy) *Analyzer {
	return &Analyzer{
		windowSize: WindowSamples(sampleRate),
		policy:     policy,
	}
}

// Push feeds one sample into the analyzer, per spec.md §4.6's per-sample
// update: peak tracking, f64 accumulation, then window-close detection.
func (a *Analyzer) Push(sample float64) {
	a.data.processSample(sample)

	abs := math.Abs(sample)
	a.sumSqWindow += sample * sample
	if abs > a.peakWindow {
		a.peakWindow = abs
	}
	a.samplesInWindow++

	if a.samplesInWindow == a.windowSize {
		a.closeWindow(a.windowSize)
	}
}

// PushAll feeds a slice of samples in order.
func (a *Analyzer) PushAll(samples []float64) {
	for _, s := range samples {
		a.Push(s)
	}
}

func (a *Analyzer) closeWindow(n int64) {
	rms := math.Sqrt(a.sumSqWindow / float64(n))
	a.windows = append(a.windows, WindowRecord{RMS: rms, Peak: a.peakWindow})
	a.sumSqWindow = 0
	a.peakWindow = 0
	a.samplesInWindow = 0
}

// Finish closes out the stream: applies the tail-window policy to any
// partial trailing window and returns the finished window list plus the
// whole-track ChannelData. The Analyzer must not be reused afterward.
func (a *Analyzer) Finish() ([]WindowRecord, ChannelData) {
	if a.samplesInWindow > 0 {
		half := (a.windowSize + 1) / 2 // ceil(W/2)
		switch a.policy {
		case AlwaysEmit:
			a.closeWindow(a.samplesInWindow)
		case AlwaysDiscard:
			// drop the partial window
		default: // EmitIfHalfFull
			if a.samplesInWindow >= half {
				a.closeWindow(a.samplesInWindow)
			}
		}
	}
	return a.windows, a.data
}
