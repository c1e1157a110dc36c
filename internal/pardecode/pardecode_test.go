package pardecode

import (
	"fmt"
	"testing"
	"time"
)

// TestOrderingSurvivesReversedCompletionTimes is the determinism check
// spec.md §8 invariant #3 asks for: packets that finish decoding out of
// order (here, deliberately reversed via sleep) must still be returned
// in submission order.
func TestOrderingSurvivesReversedCompletionTimes(t *testing.T) {
	const n = 20
	d := New(func() DecodeFunc {
		return func(raw []byte) ([]float32, error) {
			seq := int(raw[0])
			// Later-submitted packets sleep less, so they tend to finish first.
			time.Sleep(time.Duration(n-seq) * time.Millisecond)
			return []float32{float32(seq)}, nil
		}
	}, 0)

	for i := 0; i < n; i++ {
		d.AddPacket([]byte{byte(i)})
	}

	out, err := d.DrainAllSamples()
	if err != nil {
		t.Fatalf("DrainAllSamples: %v", err)
	}
	if len(out) != n {
		t.Fatalf("got %d samples, want %d", len(out), n)
	}
	for i, v := range out {
		if v != float32(i) {
			t.Fatalf("out[%d] = %v, want %v (order not preserved)", i, v, i)
		}
	}
}

func TestDrainAllSamplesStopsAtFirstError(t *testing.T) {
	d := New(func() DecodeFunc {
		return func(raw []byte) ([]float32, error) {
			seq := int(raw[0])
			if seq == 2 {
				return nil, fmt.Errorf("packet %d corrupt", seq)
			}
			return []float32{float32(seq)}, nil
		}
	}, 0)

	for i := 0; i < 5; i++ {
		d.AddPacket([]byte{byte(i)})
	}

	out, err := d.DrainAllSamples()
	if err == nil {
		t.Fatal("expected an error at packet 2")
	}
	want := []float32{0, 1}
	if len(out) != len(want) {
		t.Fatalf("out = %v, want samples up through packet 1 only", out)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestNextSamplesReportsNotReadyThenReady(t *testing.T) {
	release := make(chan struct{})
	d := New(func() DecodeFunc {
		return func(raw []byte) ([]float32, error) {
			<-release
			return []float32{1, 2}, nil
		}
	}, 0)

	d.AddPacket([]byte{0})

	if _, _, ok := d.NextSamples(); ok {
		t.Fatal("NextSamples() ok=true before worker finished")
	}

	close(release)
	d.FlushRemaining()

	samples, err, ok := d.NextSamples()
	if !ok || err != nil {
		t.Fatalf("NextSamples() after flush: samples=%v err=%v ok=%v", samples, err, ok)
	}
	if len(samples) != 2 {
		t.Fatalf("samples = %v, want length 2", samples)
	}
}

func TestQueueCapacityBoundsInFlightDecodes(t *testing.T) {
	const capacity = 3
	inFlight := make(chan struct{}, 100)
	release := make(chan struct{})

	d := New(func() DecodeFunc {
		return func(raw []byte) ([]float32, error) {
			inFlight <- struct{}{}
			<-release
			return nil, nil
		}
	}, capacity)

	for i := 0; i < capacity; i++ {
		d.AddPacket([]byte{byte(i)})
	}

	// Give the pool a moment to dispatch up to capacity, then confirm a
	// further submission blocks rather than exceeding it.
	time.Sleep(20 * time.Millisecond)
	if len(inFlight) != capacity {
		t.Fatalf("in-flight = %d, want %d before saturating the queue", len(inFlight), capacity)
	}

	done := make(chan struct{})
	go func() {
		d.AddPacket([]byte{byte(capacity)})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("AddPacket returned before the queue had capacity")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-done
	d.FlushRemaining()
}
