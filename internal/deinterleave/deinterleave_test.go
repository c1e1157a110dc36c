package deinterleave

import (
	"math/rand"
	"testing"
)

func TestRoundTripReconstructsInterleaveOrder(t *testing.T) {
	for _, c := range []int{1, 2, 3, 4, 6} {
		for _, frames := range []int{0, 1, 2, 3, 7, 16, 37} {
			samples := make([]float32, frames*c)
			rng := rand.New(rand.NewSource(int64(c*1000 + frames)))
			for i := range samples {
				samples[i] = rng.Float32()
			}

			perChannel := make([][]float32, c)
			for ch := 0; ch < c; ch++ {
				out, err := Extract(samples, ch, c)
				if err != nil {
					t.Fatalf("Extract(ch=%d,c=%d): %v", ch, c, err)
				}
				perChannel[ch] = out
			}

			rebuilt := make([]float32, 0, len(samples))
			for f := 0; f < frames; f++ {
				for ch := 0; ch < c; ch++ {
					rebuilt = append(rebuilt, perChannel[ch][f])
				}
			}

			if len(rebuilt) != len(samples) {
				t.Fatalf("c=%d frames=%d: rebuilt length %d != %d", c, frames, len(rebuilt), len(samples))
			}
			for i := range samples {
				if rebuilt[i] != samples[i] {
					t.Fatalf("c=%d frames=%d: mismatch at %d: got %v want %v", c, frames, i, rebuilt[i], samples[i])
				}
			}
		}
	}
}

func TestMonoFastPath(t *testing.T) {
	samples := []float32{0.1, 0.2, 0.3}
	out, err := Extract(samples, 0, 1)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(out) != 3 || out[0] != 0.1 || out[2] != 0.3 {
		t.Fatalf("mono passthrough wrong: %v", out)
	}
}

// TestStereoOddLengthNoPanic covers an interleaved stereo buffer with an odd
// total sample count -- a dangling left sample with no matching right
// sample. The vectorized lane loop in extractStereo must never read past
// samples' end while reconstructing the lane-aligned frames that precede it.
func TestStereoOddLengthNoPanic(t *testing.T) {
	for _, n := range []int{1, 3, 5, 7, 9, 11, 13, 15, 17, 23, 31} {
		samples := make([]float32, n)
		for i := range samples {
			samples[i] = float32(i + 1)
		}
		for _, ch := range []int{0, 1} {
			out, err := Extract(samples, ch, 2)
			if err != nil {
				t.Fatalf("n=%d ch=%d: %v", n, ch, err)
			}
			wantFrames := (n + 1) / 2
			if len(out) != wantFrames {
				t.Fatalf("n=%d ch=%d: len(out)=%d want %d", n, ch, len(out), wantFrames)
			}
			for f := 0; f < wantFrames; f++ {
				pos := f*2 + ch
				if pos >= n {
					continue
				}
				if out[f] != samples[pos] {
					t.Fatalf("n=%d ch=%d: out[%d]=%v want %v", n, ch, f, out[f], samples[pos])
				}
			}
		}
	}
}

func TestInvalidArgs(t *testing.T) {
	if _, err := Extract(nil, 0, 0); err == nil {
		t.Fatal("expected error for channelCount 0")
	}
	if _, err := Extract([]float32{1, 2}, 2, 2); err == nil {
		t.Fatal("expected error for out-of-range channelIdx")
	}
}
