// Package decode implements the streaming multi-format decoder contract of
// spec.md §4.1-4.2: a format probe/factory that picks a native backend or
// the FFmpeg subprocess bridge, and a pull-based Decoder interface that
// yields interleaved f32 chunks.
package decode

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/linuxmatters/drmeter/internal/audioformat"
	"github.com/linuxmatters/drmeter/internal/drerrors"
)

// Decoder is the streaming contract every backend implements (spec.md §4.2).
// NextChunk returns (nil, nil) at clean end of stream, never io.EOF, so
// callers don't have to special-case error-vs-sentinel handling.
type Decoder interface {
	// NextChunk returns the next interleaved f32 chunk, or (nil, nil) at
	// end of stream. Length is always a multiple of Format().Channels.
	NextChunk() ([]float32, error)

	// Progress estimates completion in [0.0, 1.0]; 0 when total is unknown.
	Progress() float64

	// Format snapshots the current AudioFormat, with SampleCount updated
	// to samples emitted so far.
	Format() audioformat.Format

	// Reset re-opens the backend and rewinds to sample 0.
	Reset() error

	// Close releases any backend resource (file handle, subprocess).
	Close() error
}

// Open probes path and returns a ready-to-pull Decoder, choosing the
// native in-process backend or the FFmpeg bridge per spec.md §4.1.
func Open(path string) (Decoder, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".wav":
		return openWAV(path)
	case ".aiff", ".aif":
		return openAIFF(path)
	case ".flac":
		return openFLAC(path)
	case ".mp3":
		return openMP3(path)
	case ".m4a":
		return openM4A(path)
	case ".alac":
		return openALAC(path)
	case ".aac":
		return openAAC(path)
	case ".ogg", ".oga":
		return openVorbis(path)
	case ".opus":
		return openOpus(path)
	case ".ac3", ".eac3", ".dts", ".dsf", ".dff":
		return NewFFmpegDecoder(path, nil)
	default:
		return nil, drerrors.New(drerrors.FormatError, "unsupported container: "+ext)
	}
}

// openM4A probes the MP4 box tree to tell which codec a ".m4a" file
// actually holds before picking a backend. SPEC_FULL.md §4.1.x requires
// both ALAC-in-M4A and AAC-in-M4A to decode, and the extension alone can't
// distinguish them -- the overwhelmingly common case (AAC) used to be
// routed straight to the ALAC backend and fail every time.
func openM4A(path string) (Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, drerrors.Wrap(drerrors.IoError, "opening M4A file", err)
	}
	track, err := probeMP4AudioTrack(f)
	f.Close()
	if err != nil {
		return nil, err
	}

	switch track.Codec {
	case "alac":
		return openALAC(path)
	case "mp4a":
		return openAACFromM4A(path, track)
	default:
		return nil, drerrors.New(drerrors.FormatError, "unsupported MP4 audio codec: "+track.Codec)
	}
}

// readAllChunks is a small test/verification helper: pulls NextChunk until
// end of stream and concatenates every chunk (spec.md §8 invariant #4 uses
// this shape to compare two passes for reset idempotence).
func readAllChunks(d Decoder) ([]float32, error) {
	var out []float32
	for {
		chunk, err := d.NextChunk()
		if err != nil {
			if err == io.EOF {
				break
			}
			return out, err
		}
		if chunk == nil {
			break
		}
		out = append(out, chunk...)
	}
	return out, nil
}
