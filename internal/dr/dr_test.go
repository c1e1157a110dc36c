package dr

import (
	"math"
	"testing"

	"github.com/linuxmatters/drmeter/internal/analyzer"
	"github.com/linuxmatters/drmeter/internal/peakselect"
)

func approxEqual(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func constantWindows(n int, rms, peak float64) []analyzer.WindowRecord {
	out := make([]analyzer.WindowRecord, n)
	for i := range out {
		out[i] = analyzer.WindowRecord{RMS: rms, Peak: peak}
	}
	return out
}

func TestConstantSignalZeroDR(t *testing.T) {
	// spec.md §8 scenario S1: constant amplitude, rms == pk_2nd -> DR == 0.
	windows := constantWindows(1, 0.5, 0.5)
	data := analyzer.ChannelData{PeakPrimary: 0.5, PeakSecondary: 0.5, RMSAccumulator: 0.25, SampleCount: 1}

	result, err := ComputeChannel(0, windows, data, peakselect.PreferSecondary)
	if err != nil {
		t.Fatalf("ComputeChannel: %v", err)
	}
	if !approxEqual(result.DRValue, 0.0, 1e-6) {
		t.Errorf("dr = %v, want 0", result.DRValue)
	}
}

func TestSilentChannelYieldsZeroDR(t *testing.T) {
	// spec.md §8 invariant #7 / scenario S3: an all-zero track reports
	// DR == 0 per channel, never CalculationError.
	windows := constantWindows(2, 0, 0)
	data := analyzer.ChannelData{PeakPrimary: 0, PeakSecondary: 0, RMSAccumulator: 0, SampleCount: 1000}

	result, err := ComputeChannel(0, windows, data, peakselect.PreferSecondary)
	if err != nil {
		t.Fatalf("ComputeChannel on silence: %v", err)
	}
	if !approxEqual(result.DRValue, 0.0, 1e-6) {
		t.Errorf("dr = %v, want 0", result.DRValue)
	}
}

func TestAggregateAllSilentYieldsOfficialZero(t *testing.T) {
	results := []Result{
		{ChannelIndex: 0, DRValue: 0, RMS: 0, Peak: 0},
		{ChannelIndex: 1, DRValue: 0, RMS: 0, Peak: 0},
	}
	agg := AggregateResults(results, nil)
	if agg.NoValid {
		t.Fatal("all-silent track should still report Official DR, not NoValid")
	}
	if agg.OfficialDR != 0 {
		t.Errorf("official dr = %v, want 0", agg.OfficialDR)
	}
}

func TestEmptyWindowListIsCalculationError(t *testing.T) {
	_, err := ComputeChannel(0, nil, analyzer.ChannelData{}, peakselect.PreferSecondary)
	if err == nil {
		t.Fatal("expected CalculationError for empty window list")
	}
}

func TestSecondLargestPeakUsedInFormula(t *testing.T) {
	windows := []analyzer.WindowRecord{
		{RMS: 0.4, Peak: 1.0},
		{RMS: 0.3, Peak: 0.8},
		{RMS: 0.2, Peak: 0.5},
	}
	data := analyzer.ChannelData{PeakPrimary: 1.0, PeakSecondary: 0.8, RMSAccumulator: 1, SampleCount: 1}

	result, err := ComputeChannel(0, windows, data, peakselect.PreferSecondary)
	if err != nil {
		t.Fatalf("ComputeChannel: %v", err)
	}

	k := 1 // round(3*0.2) clamped to >=1
	_ = k
	wantRMS20 := 0.4
	wantPk2nd := 0.8
	wantDR := -20 * math.Log10(wantRMS20/wantPk2nd)
	if !approxEqual(result.DRValue, wantDR, 1e-9) {
		t.Errorf("dr = %v, want %v", result.DRValue, wantDR)
	}
	if result.RMS != wantRMS20 {
		t.Errorf("rms20 = %v, want %v", result.RMS, wantRMS20)
	}
}

func TestAggregateExcludesLFE(t *testing.T) {
	// spec.md §8 invariant #9: 6-channel file, lfe at index 5.
	results := make([]Result, 6)
	for i := range results {
		results[i] = Result{ChannelIndex: i, DRValue: float64(10 + i), RMS: 0.1, Peak: 0.5}
	}
	results[5].DRValue = 999 // would skew the mean if not excluded

	agg := AggregateResults(results, map[int]struct{}{5: {}})
	if agg.NoValid {
		t.Fatal("expected valid aggregate")
	}

	var sum float64
	for i := 0; i < 5; i++ {
		sum += results[i].DRValue
	}
	want := sum / 5
	if !approxEqual(agg.PreciseDR, want, 1e-9) {
		t.Errorf("precise dr = %v, want %v", agg.PreciseDR, want)
	}
}

func TestAggregateExcludesSilentChannels(t *testing.T) {
	results := []Result{
		{ChannelIndex: 0, DRValue: 10, RMS: 0.1, Peak: 0.5},
		{ChannelIndex: 1, DRValue: 20, RMS: 0, Peak: 0}, // silent
	}
	agg := AggregateResults(results, nil)
	if agg.NoValid {
		t.Fatal("expected one valid channel")
	}
	if agg.PreciseDR != 10 {
		t.Errorf("precise dr = %v, want 10 (silent channel excluded)", agg.PreciseDR)
	}
}

func TestAggregateNoValidChannels(t *testing.T) {
	// The only channel is LFE, so nothing is eligible. (A track whose
	// channels are all silent is not this case: it reports Official DR 0,
	// see TestAggregateAllSilentYieldsOfficialZero.)
	results := []Result{{ChannelIndex: 0, DRValue: 10, RMS: 0, Peak: 0}}
	agg := AggregateResults(results, map[int]struct{}{0: {}})
	if !agg.NoValid {
		t.Fatal("expected NoValid when every channel is excluded")
	}
}

func TestBoundaryFlag(t *testing.T) {
	// spec.md §8 invariant #10: Precise DR 11.50 +/- 0.05 sets the flag.
	results := []Result{
		{ChannelIndex: 0, DRValue: 11.5, RMS: 0.1, Peak: 0.5},
	}
	agg := AggregateResults(results, nil)
	if !agg.BoundaryHit {
		t.Fatalf("expected boundary flag for precise=%v official=%v", agg.PreciseDR, agg.OfficialDR)
	}
}

func TestNoBoundaryFlagFarFromHalf(t *testing.T) {
	results := []Result{
		{ChannelIndex: 0, DRValue: 11.0, RMS: 0.1, Peak: 0.5},
	}
	agg := AggregateResults(results, nil)
	if agg.BoundaryHit {
		t.Fatalf("did not expect boundary flag for precise=%v", agg.PreciseDR)
	}
}
