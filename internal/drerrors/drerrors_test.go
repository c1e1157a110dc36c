package drerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestOf(t *testing.T) {
	err := Wrap(FormatError, "bad header", fmt.Errorf("truncated"))
	if !Of(err, FormatError) {
		t.Fatalf("Of(err, FormatError) = false, want true")
	}
	if Of(err, IoError) {
		t.Fatalf("Of(err, IoError) = true, want false")
	}
}

func TestWrappedUnwrap(t *testing.T) {
	cause := errors.New("disk gone")
	err := Wrap(IoError, "open failed", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is(err, cause) = false, want true")
	}
}

func TestIsMatchesSameKindOnly(t *testing.T) {
	a := New(CalculationError, "empty window list")
	b := New(CalculationError, "nan rms")
	c := New(IoError, "whatever")

	if !errors.Is(a, b) {
		t.Fatalf("expected same-kind errors to match via errors.Is")
	}
	if errors.Is(a, c) {
		t.Fatalf("expected different-kind errors not to match")
	}
}
