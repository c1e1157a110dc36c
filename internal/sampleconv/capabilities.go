package sampleconv

import "golang.org/x/sys/cpu"

// Capabilities records which vector instruction set, if any, this process
// may use for sample conversion. It is computed once per process the way
// spec.md §9 asks ("SimdCapabilities... chosen once per process") and is
// safe to share across goroutines since it never changes after Detect.
type Capabilities struct {
	SSE2 bool
	NEON bool
}

// HasVector reports whether any vector path is available.
func (c Capabilities) HasVector() bool { return c.SSE2 || c.NEON }

var detected = detect()

// Detect returns the process-wide capability set.
func Detect() Capabilities { return detected }

func detect() Capabilities {
	return Capabilities{
		SSE2: cpu.X86.HasSSE2,
		NEON: cpu.ARM64.HasASIMD,
	}
}
