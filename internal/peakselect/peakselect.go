// Package peakselect implements the clipping-aware peak selection policy
// from spec.md §4.7: given a channel's whole-track primary and secondary
// peaks, decide which one is reported for display.
package peakselect

// ClippingThreshold is the fixed amplitude above which a sample is
// considered clipped, shared by every "is this peak clipped?" check
// in the pipeline (spec.md §4.7, §8 invariant #8).
const ClippingThreshold = 0.99999

// Strategy names the peak-selection policy applied once per track.
type Strategy int

const (
	// PreferSecondary is the default: use peak_secondary when it is
	// present (> 0), otherwise fall back to peak_primary.
	PreferSecondary Strategy = iota
	// ClippingAware falls back to peak_secondary only when peak_primary
	// looks clipped; otherwise uses peak_primary directly.
	ClippingAware
	// AlwaysPrimary always reports peak_primary.
	AlwaysPrimary
	// AlwaysSecondary behaves identically to PreferSecondary (spec.md §4.7).
	AlwaysSecondary
)

// Select applies strategy to (primary, secondary) and returns the peak
// value used for display, per spec.md §4.7.
func Select(strategy Strategy, primary, secondary float64) float64 {
	switch strategy {
	case ClippingAware:
		if primary >= ClippingThreshold && secondary > 0 {
			return secondary
		}
		return primary
	case AlwaysPrimary:
		return primary
	case PreferSecondary, AlwaysSecondary:
		fallthrough
	default:
		if secondary > 0 {
			return secondary
		}
		return primary
	}
}
