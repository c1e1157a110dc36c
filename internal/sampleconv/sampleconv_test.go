package sampleconv

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestI16DBFSMapping(t *testing.T) {
	c := NewWithCapabilities(Capabilities{})
	src := make([]byte, 4)
	binary.LittleEndian.PutUint16(src[0:2], uint16(int16(32767)))
	binary.LittleEndian.PutUint16(src[2:4], uint16(int16(-32768)))

	out, stats, err := c.Convert(src, I16)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if stats.UsedSIMD() {
		t.Fatalf("expected scalar-only path with no capabilities")
	}
	if want := float32(0.999969482); math.Abs(float64(out[0]-want)) > 1e-6 {
		t.Errorf("i16 max = %v, want %v", out[0], want)
	}
	if out[1] != -1.0 {
		t.Errorf("i16 min = %v, want -1.0", out[1])
	}
}

func TestVectorAndScalarPathsAgree(t *testing.T) {
	n := 257 // deliberately not a multiple of laneWidth
	src := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(src[i*2:i*2+2], uint16(int16((i*977)%65536-32768)))
	}

	scalarConv := NewWithCapabilities(Capabilities{})
	vectorConv := NewWithCapabilities(Capabilities{SSE2: true})

	scalarOut, scalarStats, err := scalarConv.Convert(src, I16)
	if err != nil {
		t.Fatalf("scalar Convert: %v", err)
	}
	vectorOut, vectorStats, err := vectorConv.Convert(src, I16)
	if err != nil {
		t.Fatalf("vector Convert: %v", err)
	}

	if vectorStats.SIMDSamples == 0 {
		t.Fatalf("expected vector path to process some samples via SIMD")
	}
	if scalarStats.SIMDSamples != 0 {
		t.Fatalf("expected scalar-capability converter never to report SIMD samples")
	}
	if len(scalarOut) != len(vectorOut) {
		t.Fatalf("output length mismatch: %d vs %d", len(scalarOut), len(vectorOut))
	}
	for i := range scalarOut {
		if scalarOut[i] != vectorOut[i] {
			t.Fatalf("sample %d differs: scalar=%v vector=%v", i, scalarOut[i], vectorOut[i])
		}
	}
}

func TestUnsignedFormats(t *testing.T) {
	c := NewWithCapabilities(Capabilities{})

	u8, _, err := c.Convert([]byte{0, 128, 255}, U8)
	if err != nil {
		t.Fatalf("Convert U8: %v", err)
	}
	if u8[0] != -1.0 || u8[1] != 0.0 {
		t.Errorf("u8 = %v, want [-1 0 ~0.992]", u8)
	}

	u16 := make([]byte, 4)
	binary.LittleEndian.PutUint16(u16[0:2], 0)
	binary.LittleEndian.PutUint16(u16[2:4], 32768)
	out, _, err := c.Convert(u16, U16)
	if err != nil {
		t.Fatalf("Convert U16: %v", err)
	}
	if out[0] != -1.0 || out[1] != 0.0 {
		t.Errorf("u16 = %v, want [-1 0]", out)
	}
}

func TestF64Cast(t *testing.T) {
	c := NewWithCapabilities(Capabilities{})
	src := make([]byte, 8)
	binary.LittleEndian.PutUint64(src, math.Float64bits(0.5))
	out, _, err := c.Convert(src, F64)
	if err != nil {
		t.Fatalf("Convert F64: %v", err)
	}
	if out[0] != 0.5 {
		t.Errorf("f64 cast = %v, want 0.5", out[0])
	}
}

func TestInvalidLength(t *testing.T) {
	c := New()
	_, _, err := c.Convert([]byte{0, 1, 2}, I16)
	if err == nil {
		t.Fatal("expected error for misaligned buffer")
	}
}
