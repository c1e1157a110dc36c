package peakselect

import "testing"

func TestStrategiesSpecExample(t *testing.T) {
	// spec.md §8 invariant #8: (primary=1.0, secondary=0.7)
	cases := []struct {
		name     string
		strategy Strategy
		want     float64
	}{
		{"ClippingAware", ClippingAware, 0.7},
		{"AlwaysPrimary", AlwaysPrimary, 1.0},
		{"PreferSecondary", PreferSecondary, 0.7},
		{"AlwaysSecondary", AlwaysSecondary, 0.7},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Select(c.strategy, 1.0, 0.7)
			if got != c.want {
				t.Errorf("Select(%v, 1.0, 0.7) = %v, want %v", c.name, got, c.want)
			}
		})
	}
}

func TestClippingAwareBelowThreshold(t *testing.T) {
	got := Select(ClippingAware, 0.99, 0.5)
	if got != 0.99 {
		t.Errorf("below threshold should return primary, got %v", got)
	}
}

func TestClippingAwareAtThreshold(t *testing.T) {
	got := Select(ClippingAware, ClippingThreshold, 0.5)
	if got != 0.5 {
		t.Errorf("at threshold should fall back to secondary, got %v", got)
	}
}

func TestPreferSecondaryWithZeroSecondary(t *testing.T) {
	got := Select(PreferSecondary, 0.8, 0.0)
	if got != 0.8 {
		t.Errorf("zero secondary should fall back to primary, got %v", got)
	}
}
