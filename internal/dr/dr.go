// Package dr implements the DR aggregator from spec.md §4.8: per-channel
// DR computation from a closed window list, plus the cross-channel
// Official DR rollup with LFE and silent-channel exclusion.
package dr

import (
	"math"
	"sort"

	"github.com/linuxmatters/drmeter/internal/analyzer"
	"github.com/linuxmatters/drmeter/internal/drerrors"
	"github.com/linuxmatters/drmeter/internal/peakselect"
)

// Result is one channel's DR measurement, per spec.md §3's DrResult.
type Result struct {
	ChannelIndex int
	DRValue      float64 // dB
	RMS          float64 // the 20%-window RMS
	Peak         float64 // display peak chosen by the peak-selection strategy; the DR formula uses pk_2nd instead
	GlobalPeak   float64
	GlobalRMS    float64
	SampleCount  int64
}

// BoundaryEpsilon is how close |Precise DR - Official DR| must be to 0.5
// to flag the boundary-rounding warning (spec.md §4.8, §8 invariant #10).
const BoundaryEpsilon = 0.05

// Aggregate is the cross-channel rollup: the Official DR integer plus
// the per-channel results it was computed from.
type Aggregate struct {
	Results     []Result
	PreciseDR   float64
	OfficialDR  int
	BoundaryHit bool
	NoValid     bool
}

// ComputeChannel applies spec.md §4.8 steps 1-8 to one channel's window
// list and whole-track ChannelData, using strategy to pick the display
// peak. The DR formula itself always uses pk_2nd from the window-peak
// list (step 6), never the display peak.
func ComputeChannel(channelIndex int, windows []analyzer.WindowRecord, data analyzer.ChannelData, strategy peakselect.Strategy) (Result, error) {
	n := len(windows)
	if n == 0 {
		// A digitally silent channel too short to close a single window
		// still reports DR == 0, like the silence carve-out below.
		if data.SampleCount > 0 && data.PeakPrimary == 0 {
			return Result{ChannelIndex: channelIndex, SampleCount: data.SampleCount}, nil
		}
		return Result{}, drerrors.New(drerrors.CalculationError, "empty window list")
	}

	byRMS := make([]analyzer.WindowRecord, n)
	copy(byRMS, windows)
	sort.Slice(byRMS, func(i, j int) bool { return byRMS[i].RMS > byRMS[j].RMS })

	k := int(math.Round(float64(n) * 0.2))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}

	var sumSq float64
	for i := 0; i < k; i++ {
		sumSq += byRMS[i].RMS * byRMS[i].RMS
	}
	rms20 := math.Sqrt(sumSq / float64(k))

	byPeak := make([]analyzer.WindowRecord, n)
	copy(byPeak, windows)
	sort.Slice(byPeak, func(i, j int) bool { return byPeak[i].Peak > byPeak[j].Peak })

	var pk2nd float64
	if n >= 2 {
		pk2nd = byPeak[1].Peak
	} else {
		pk2nd = byPeak[0].Peak
	}

	displayPeak := peakselect.Select(strategy, data.PeakPrimary, data.PeakSecondary)

	// spec.md §8 invariant #7 / scenario S3: a digitally silent channel
	// (every window's rms and peak are exactly zero) reports DR == 0
	// rather than CalculationError. The rms20 <= pk2nd <= 0 check below
	// would otherwise fire on the silence case, so it's carved out first.
	if rms20 == 0 && pk2nd == 0 {
		return Result{
			ChannelIndex: channelIndex,
			DRValue:      0,
			RMS:          0,
			Peak:         0,
			GlobalPeak:   data.GlobalPeak(),
			GlobalRMS:    data.GlobalRMS(),
			SampleCount:  data.SampleCount,
		}, nil
	}

	// A constant-amplitude window has rms20 == pk2nd in exact arithmetic;
	// f64 accumulation over a full window can leave rms20 a few ulps above
	// pk2nd, which is rounding noise, not an invalid relationship.
	if rms20 > pk2nd && rms20-pk2nd <= 1e-9*pk2nd {
		rms20 = pk2nd
	}

	if rms20 <= 0 || pk2nd <= 0 || rms20 > pk2nd {
		return Result{}, drerrors.New(drerrors.CalculationError, "invalid rms/peak relationship")
	}

	drValue := -20.0 * math.Log10(rms20/pk2nd)
	if math.IsNaN(drValue) || math.IsInf(drValue, 0) || drValue < 0 || drValue > 100 {
		return Result{}, drerrors.New(drerrors.CalculationError, "dr value out of range")
	}

	return Result{
		ChannelIndex: channelIndex,
		DRValue:      drValue,
		RMS:          rms20,
		Peak:         displayPeak,
		GlobalPeak:   data.GlobalPeak(),
		GlobalRMS:    data.GlobalRMS(),
		SampleCount:  data.SampleCount,
	}, nil
}

// AggregateResults rolls up per-channel results into the Official DR,
// excluding LFE channels (by index) and silent channels (peak<=0 or
// rms<=0), per spec.md §4.8.
func AggregateResults(results []Result, lfeIndices map[int]struct{}) Aggregate {
	// A whole-track digital silence (spec.md §8 invariant #7) must still
	// report Official DR == 0, not "no valid channels" — so the
	// silent-channel exclusion only applies when at least one sibling
	// non-LFE channel actually carries signal. When every non-LFE channel
	// is silent, treat them all as eligible with DR == 0.
	var anySignal bool
	for _, r := range results {
		if _, isLFE := lfeIndices[r.ChannelIndex]; isLFE {
			continue
		}
		if r.Peak > 0 && r.RMS > 0 {
			anySignal = true
		}
	}

	var sum float64
	var count int
	for _, r := range results {
		if _, isLFE := lfeIndices[r.ChannelIndex]; isLFE {
			continue
		}
		if anySignal && (r.Peak <= 0 || r.RMS <= 0) {
			continue
		}
		sum += r.DRValue
		count++
	}

	if count == 0 {
		return Aggregate{Results: results, NoValid: true}
	}

	precise := sum / float64(count)
	official := int(math.Round(precise))
	boundary := math.Abs(math.Abs(precise-float64(official)) - 0.5) <= BoundaryEpsilon

	return Aggregate{
		Results:     results,
		PreciseDR:   precise,
		OfficialDR:  official,
		BoundaryHit: boundary,
	}
}
