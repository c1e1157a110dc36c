package analyzer

import (
	"math"
	"testing"
)

func approxEqual(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func TestConstantAmplitudeWindow(t *testing.T) {
	sampleRate := 44100
	w := WindowSamples(sampleRate)

	a := New(sampleRate)
	for i := int64(0); i < w; i++ {
		a.Push(0.5)
	}
	windows, data := a.Finish()

	if len(windows) != 1 {
		t.Fatalf("expected exactly one window, got %d", len(windows))
	}
	if !approxEqual(windows[0].RMS, 0.5, 1e-9) {
		t.Errorf("rms = %v, want 0.5", windows[0].RMS)
	}
	if !approxEqual(windows[0].Peak, 0.5, 1e-9) {
		t.Errorf("peak = %v, want 0.5", windows[0].Peak)
	}
	if data.PeakPrimary != 0.5 {
		t.Errorf("peak_primary = %v, want 0.5", data.PeakPrimary)
	}
}

func TestPrimarySecondaryPeakOrdering(t *testing.T) {
	a := New(1000)
	for _, s := range []float64{0.1, 0.9, 0.5, 0.95, 0.3} {
		a.Push(s)
	}
	_, data := a.Finish()
	if data.PeakPrimary != 0.95 {
		t.Errorf("primary = %v, want 0.95", data.PeakPrimary)
	}
	if data.PeakSecondary != 0.9 {
		t.Errorf("secondary = %v, want 0.9", data.PeakSecondary)
	}
}

func TestTailPolicyEmitIfHalfFull(t *testing.T) {
	sampleRate := 10
	w := WindowSamples(sampleRate) // 30 samples

	a := NewWithPolicy(sampleRate, EmitIfHalfFull)
	half := int((w + 1) / 2)
	for i := 0; i < half; i++ {
		a.Push(0.25)
	}
	windows, _ := a.Finish()
	if len(windows) != 1 {
		t.Fatalf("half-full tail should be emitted, got %d windows", len(windows))
	}

	b := NewWithPolicy(sampleRate, EmitIfHalfFull)
	for i := 0; i < half-1; i++ {
		b.Push(0.25)
	}
	windows2, _ := b.Finish()
	if len(windows2) != 0 {
		t.Fatalf("sub-half tail should be discarded, got %d windows", len(windows2))
	}
}

func TestTailPolicyAlwaysEmitAndDiscard(t *testing.T) {
	a := NewWithPolicy(100, AlwaysEmit)
	a.Push(0.1)
	windows, _ := a.Finish()
	if len(windows) != 1 {
		t.Fatalf("AlwaysEmit should emit a single-sample tail window, got %d", len(windows))
	}

	b := NewWithPolicy(100, AlwaysDiscard)
	b.Push(0.1)
	windows2, _ := b.Finish()
	if len(windows2) != 0 {
		t.Fatalf("AlwaysDiscard should drop any partial tail, got %d", len(windows2))
	}
}

func TestGlobalRMSAndPeak(t *testing.T) {
	a := New(1000)
	samples := []float64{1.0, -1.0, 0.5, -0.5}
	a.PushAll(samples)
	_, data := a.Finish()

	wantSumSq := 1.0 + 1.0 + 0.25 + 0.25
	wantRMS := math.Sqrt(wantSumSq / 4)
	if !approxEqual(data.GlobalRMS(), wantRMS, 1e-9) {
		t.Errorf("global rms = %v, want %v", data.GlobalRMS(), wantRMS)
	}
	if data.GlobalPeak() != 1.0 {
		t.Errorf("global peak = %v, want 1.0", data.GlobalPeak())
	}
}

func TestSilenceYieldsZeroWindows(t *testing.T) {
	sampleRate := 44100
	w := WindowSamples(sampleRate)
	a := New(sampleRate)
	for i := int64(0); i < w*2; i++ {
		a.Push(0.0)
	}
	windows, data := a.Finish()
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(windows))
	}
	for _, rec := range windows {
		if rec.RMS != 0 || rec.Peak != 0 {
			t.Errorf("silent window not zero: %+v", rec)
		}
	}
	if data.GlobalRMS() != 0 || data.GlobalPeak() != 0 {
		t.Errorf("silent channel data not zero: %+v", data)
	}
}

func TestEmptyStreamProducesNoWindows(t *testing.T) {
	a := New(44100)
	windows, _ := a.Finish()
	if len(windows) != 0 {
		t.Fatalf("expected no windows from empty stream, got %d", len(windows))
	}
}
