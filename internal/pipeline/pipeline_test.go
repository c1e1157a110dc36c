package pipeline

import (
	"math"
	"math/rand"
	"testing"

	"github.com/linuxmatters/drmeter/internal/audioformat"
)

// fakeDecoder replays a fixed sequence of chunks, matching the
// decode.Decoder contract closely enough to drive the pipeline without an
// encoded file on disk.
type fakeDecoder struct {
	format audioformat.Format
	chunks [][]float32
	pos    int
	closed bool
}

func (f *fakeDecoder) NextChunk() ([]float32, error) {
	if f.pos >= len(f.chunks) {
		return nil, nil
	}
	c := f.chunks[f.pos]
	f.pos++
	return c, nil
}

func (f *fakeDecoder) Progress() float64 {
	if len(f.chunks) == 0 {
		return 0
	}
	return float64(f.pos) / float64(len(f.chunks))
}

func (f *fakeDecoder) Format() audioformat.Format { return f.format }

func (f *fakeDecoder) Reset() error {
	f.pos = 0
	return nil
}

func (f *fakeDecoder) Close() error {
	f.closed = true
	return nil
}

func constantStereoChunks(amplitude float32, sampleRate, seconds int) [][]float32 {
	total := sampleRate * seconds
	const chunkFrames = 4096
	var chunks [][]float32
	for start := 0; start < total; start += chunkFrames {
		n := chunkFrames
		if start+n > total {
			n = total - start
		}
		chunk := make([]float32, n*2)
		for i := 0; i < n; i++ {
			chunk[i*2] = amplitude
			chunk[i*2+1] = amplitude
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func TestMeasureConstantSignalZeroDR(t *testing.T) {
	// spec.md §8 scenario S1: stereo, constant 0.5 amplitude, 3s.
	d := &fakeDecoder{
		format: audioformat.Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16, CodecTag: "pcm"},
		chunks: constantStereoChunks(0.5, 44100, 3),
	}

	result, err := measureDecoder(d, DefaultOptions())
	if err != nil {
		t.Fatalf("measureDecoder: %v", err)
	}
	if len(result.DR.Results) != 2 {
		t.Fatalf("got %d channel results, want 2", len(result.DR.Results))
	}
	for _, r := range result.DR.Results {
		if math.Abs(r.DRValue) > 1e-6 {
			t.Errorf("channel %d dr = %v, want ~0", r.ChannelIndex, r.DRValue)
		}
	}
	if result.DR.OfficialDR != 0 {
		t.Errorf("official dr = %d, want 0", result.DR.OfficialDR)
	}
}

func TestMeasureSilenceYieldsZeroOfficialDR(t *testing.T) {
	d := &fakeDecoder{
		format: audioformat.Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16, CodecTag: "pcm"},
		chunks: constantStereoChunks(0, 44100, 1),
	}
	result, err := measureDecoder(d, DefaultOptions())
	if err != nil {
		t.Fatalf("measureDecoder: %v", err)
	}
	if result.DR.NoValid {
		t.Fatal("silence should still produce an Official DR of 0, not NoValid")
	}
	if result.DR.OfficialDR != 0 {
		t.Errorf("official dr = %d, want 0", result.DR.OfficialDR)
	}
}

func TestParallelDecodingMatchesSerial(t *testing.T) {
	// spec.md §8 invariant #3: parallel_decoding on/off must be
	// byte-identical.
	newDecoder := func() *fakeDecoder {
		return &fakeDecoder{
			format: audioformat.Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16, CodecTag: "pcm"},
			chunks: constantStereoChunks(0.7, 44100, 4),
		}
	}

	serialOpts := DefaultOptions()
	parallelOpts := DefaultOptions()
	parallelOpts.ParallelDecoding = true

	serial, err := measureDecoder(newDecoder(), serialOpts)
	if err != nil {
		t.Fatalf("serial measureDecoder: %v", err)
	}
	parallel, err := measureDecoder(newDecoder(), parallelOpts)
	if err != nil {
		t.Fatalf("parallel measureDecoder: %v", err)
	}

	if len(serial.DR.Results) != len(parallel.DR.Results) {
		t.Fatalf("channel count mismatch: %d vs %d", len(serial.DR.Results), len(parallel.DR.Results))
	}
	for i := range serial.DR.Results {
		a, b := serial.DR.Results[i], parallel.DR.Results[i]
		if a.DRValue != b.DRValue || a.RMS != b.RMS || a.Peak != b.Peak {
			t.Errorf("channel %d differs: serial=%+v parallel=%+v", i, a, b)
		}
	}
	if serial.DR.OfficialDR != parallel.DR.OfficialDR {
		t.Errorf("official dr differs: serial=%d parallel=%d", serial.DR.OfficialDR, parallel.DR.OfficialDR)
	}
}

func TestLFEExclusion(t *testing.T) {
	// spec.md §8 invariant #9: 6-channel file with lfe at the native/raw
	// layout's index 5. Earlier versions of this test used the same
	// constant-amplitude tone on every channel, which made the assertion
	// pass regardless of which channel actually got excluded -- DR is
	// scale- and level-invariant for a constant-amplitude signal, so
	// excluding the wrong channel wouldn't have changed PreciseDR at all.
	// Here every front/surround channel gets a distinct bursty envelope
	// (different crest factor, hence different DR per channel), and LFE
	// gets a flat full-scale tone whose DR sits far from the others, so
	// excluding the wrong index would visibly shift PreciseDR.
	sampleRate := 44100
	frames := sampleRate * 3
	chunk := make([]float32, frames*6)

	burstPeriod := [5]int{389, 521, 733, 911, 1187}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < frames; i++ {
		for c := 0; c < 5; c++ {
			amp := float32(0.04)
			if i%burstPeriod[c] < burstPeriod[c]/8 {
				amp = 0.85
			}
			amp *= 0.9 + 0.2*rng.Float32() // avoid a perfectly periodic envelope
			chunk[i*6+c] = amp
		}
		chunk[i*6+5] = 0.95 // LFE: flat tone, RMS ~= peak, DR far from the bursty channels
	}

	d := &fakeDecoder{
		format: audioformat.Format{
			SampleRate: sampleRate, Channels: 6, BitsPerSample: 24, CodecTag: "pcm",
			ChannelLayout: audioformat.StandardLayout(6),
		},
		chunks: [][]float32{chunk},
	}

	result, err := measureDecoder(d, DefaultOptions())
	if err != nil {
		t.Fatalf("measureDecoder: %v", err)
	}
	if len(result.DR.Results) != 6 {
		t.Fatalf("got %d results, want 6", len(result.DR.Results))
	}

	lfeDR := result.DR.Results[5].DRValue
	var sum, sumAll float64
	for i := 0; i < 5; i++ {
		sum += result.DR.Results[i].DRValue
	}
	sumAll = sum + lfeDR
	want := sum / 5
	wantIfLFEIncluded := sumAll / 6

	if math.Abs(lfeDR-want) < 0.5 {
		t.Fatalf("fixture is not distinguishing: LFE DR %v too close to the other channels' mean %v", lfeDR, want)
	}
	if math.Abs(wantIfLFEIncluded-want) < 0.5 {
		t.Fatalf("fixture is not distinguishing: mean-with-LFE %v too close to mean-without-LFE %v", wantIfLFEIncluded, want)
	}
	if math.Abs(result.DR.PreciseDR-want) > 1e-6 {
		t.Errorf("precise dr = %v, want %v (LFE channel 5 should be excluded)", result.DR.PreciseDR, want)
	}
	if math.Abs(result.DR.PreciseDR-wantIfLFEIncluded) < 0.5 {
		t.Errorf("precise dr = %v looks like LFE was included in the average, not excluded", result.DR.PreciseDR)
	}
}
