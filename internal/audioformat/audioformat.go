// Package audioformat holds the value types that describe a decoded audio
// stream: sample rate, channel count and layout, bit depth, and the flags a
// decoder sets when it has to recover from corrupted packets.
package audioformat

import (
	"fmt"
	"strings"

	"github.com/linuxmatters/drmeter/internal/drerrors"
)

// ChannelRole names the speaker position a channel carries. Only LFE
// actually changes pipeline behavior (it's excluded from DR aggregation);
// the rest exist so explicit layout tokens round-trip.
type ChannelRole string

const (
	RoleFL  ChannelRole = "FL"
	RoleFR  ChannelRole = "FR"
	RoleFC  ChannelRole = "FC"
	RoleLFE ChannelRole = "LFE"
	RoleBL  ChannelRole = "BL"
	RoleBR  ChannelRole = "BR"
	RoleSL  ChannelRole = "SL"
	RoleSR  ChannelRole = "SR"
	RoleUnk ChannelRole = ""
)

// ChannelLayout is an ordered list of channel roles, one per audio channel.
type ChannelLayout []ChannelRole

// LFEIndices returns the indices of channels carrying the LFE role.
func (l ChannelLayout) LFEIndices() []int {
	var idx []int
	for i, r := range l {
		if r == RoleLFE {
			idx = append(idx, i)
		}
	}
	return idx
}

// standardLayouts maps a channel count to the native/raw-stream layout
// spec.md §4.1 names as the default: 5.1 and 7.1 put LFE at index 5.
// MP4-container 5.1 is the one documented exception (index 3, MP4FiveOne
// below) and must be selected explicitly by a caller that knows it's
// reading an MP4/M4A track, not by this generic table.
var standardLayouts = map[int]ChannelLayout{
	1: {RoleFC},
	2: {RoleFL, RoleFR},
	6: {RoleFL, RoleFR, RoleFC, RoleBL, RoleBR, RoleLFE}, // 5.1, LFE@5 (native/raw-stream convention)
	8: {RoleFL, RoleFR, RoleFC, RoleBL, RoleBR, RoleLFE, RoleSL, RoleSR}, // 7.1, LFE@5
}

// MP4FiveOne is the 5.1 layout used inside MP4/M4A containers, where LFE
// sits at index 3 per the ISO BMFF channel ordering instead of the raw
// bitstream's index 5.
var MP4FiveOne = ChannelLayout{RoleFL, RoleFR, RoleFC, RoleLFE, RoleBL, RoleBR}

// EAC3RawFiveOne is the layout used by a raw (E-)AC-3 elementary stream,
// where LFE sits at index 5.
var EAC3RawFiveOne = ChannelLayout{RoleFL, RoleFR, RoleFC, RoleBL, RoleBR, RoleLFE}

// StandardLayout returns the conventional native/raw-stream layout for a
// channel count, or nil if none is known. Callers should prefer ParseTokens
// when an explicit layout string is available, and MP4Layout/EAC3RawLayout
// when the container convention is known to differ (see spec.md §4.1, §9).
func StandardLayout(channels int) ChannelLayout {
	if l, ok := standardLayouts[channels]; ok {
		return append(ChannelLayout(nil), l...)
	}
	return nil
}

// MP4Layout returns the conventional layout for channels decoded from an
// MP4/M4A container, where 5.1 content places LFE at index 3 (MP4FiveOne)
// rather than StandardLayout's native-stream index 5. Channel counts other
// than 5.1 have no documented MP4-specific convention, so this falls back
// to StandardLayout.
func MP4Layout(channels int) ChannelLayout {
	if channels == len(MP4FiveOne) {
		return append(ChannelLayout(nil), MP4FiveOne...)
	}
	return StandardLayout(channels)
}

// EAC3RawLayout returns the conventional layout for channels decoded from a
// raw (E-)AC-3 elementary stream, where 5.1 content places LFE at index 5
// (EAC3RawFiveOne) per spec.md §4.1's explicit rule for this container.
// Named distinctly from StandardLayout so call sites document which
// container convention they're relying on even though the two currently
// agree on the index.
func EAC3RawLayout(channels int) ChannelLayout {
	if channels == len(EAC3RawFiveOne) {
		return append(ChannelLayout(nil), EAC3RawFiveOne...)
	}
	return StandardLayout(channels)
}

// ParseTokens parses an explicit layout description like "FL+FR+FC+LFE+BL+BR"
// (the form FFmpeg's av_channel_layout_describe produces) into a
// ChannelLayout. Unknown tokens map to RoleUnk rather than failing, since an
// unrecognized speaker position still occupies a channel slot.
func ParseTokens(desc string) ChannelLayout {
	parts := strings.Split(desc, "+")
	layout := make(ChannelLayout, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		switch ChannelRole(p) {
		case RoleFL, RoleFR, RoleFC, RoleLFE, RoleBL, RoleBR, RoleSL, RoleSR:
			layout = append(layout, ChannelRole(p))
		default:
			layout = append(layout, RoleUnk)
		}
	}
	return layout
}

// Format describes a decoded audio stream. It is immutable once a probe
// returns it, except for the fields a streaming decoder updates as it
// progresses (SampleCount via Format(), IsPartial/SkippedPackets at EOF).
type Format struct {
	SampleRate    int   // Hz
	Channels      int
	BitsPerSample int   // informational; 1 for DSD
	SampleCount   int64 // total frames per channel; 0 when unknown
	CodecTag      string

	ChannelLayout ChannelLayout // optional; nil when not determined

	// ProcessedSampleRate is set when a transcoding step (DSD -> PCM)
	// changes the effective rate fed into the analyzer. Zero means
	// "same as SampleRate".
	ProcessedSampleRate int

	IsPartial      bool
	SkippedPackets int
}

// EffectiveSampleRate returns ProcessedSampleRate when set, else SampleRate.
func (f Format) EffectiveSampleRate() int {
	if f.ProcessedSampleRate > 0 {
		return f.ProcessedSampleRate
	}
	return f.SampleRate
}

// LFEIndices returns the channel indices excluded from DR aggregation,
// taken from ChannelLayout. It returns nil when ChannelLayout is nil; it
// does not fall back to StandardLayout, so decoders set ChannelLayout
// themselves (StandardLayout, MP4Layout or EAC3RawLayout as fits).
func (f Format) LFEIndices() []int {
	if f.ChannelLayout != nil {
		return f.ChannelLayout.LFEIndices()
	}
	return nil
}

// Validate checks the invariants spec.md §3 requires of a probed format.
func (f Format) Validate() error {
	if f.Channels < 1 {
		return drerrors.New(drerrors.FormatError, fmt.Sprintf("channels must be >= 1, got %d", f.Channels))
	}
	if f.SampleRate < 8000 {
		return drerrors.New(drerrors.FormatError, fmt.Sprintf("sample_rate must be >= 8000, got %d", f.SampleRate))
	}
	switch f.BitsPerSample {
	case 1, 8, 16, 24, 32, 64:
	default:
		return drerrors.New(drerrors.FormatError, fmt.Sprintf("unsupported bits_per_sample %d", f.BitsPerSample))
	}
	return nil
}
