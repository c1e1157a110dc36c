package decode

import (
	"io"
	"os"

	"github.com/mewkiz/flac"

	"github.com/linuxmatters/drmeter/internal/audioformat"
	"github.com/linuxmatters/drmeter/internal/drerrors"
)

type flacDecoder struct {
	path   string
	file   *os.File
	stream *flac.Stream
	format audioformat.Format

	emitted       int64
	skippedFrames int
	stats         *ChunkSizeStats
}

func openFLAC(path string) (Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, drerrors.Wrap(drerrors.IoError, "opening FLAC file", err)
	}
	stream, err := flac.NewSeek(f)
	if err != nil {
		f.Close()
		return nil, drerrors.Wrap(drerrors.FormatError, "parsing FLAC stream", err)
	}

	info := stream.Info
	format := audioformat.Format{
		SampleRate:    int(info.SampleRate),
		Channels:      int(info.NChannels),
		BitsPerSample: int(info.BitsPerSample),
		SampleCount:   int64(info.NSamples),
		CodecTag:      "flac",
	}
	if err := format.Validate(); err != nil {
		f.Close()
		return nil, err
	}
	format.ChannelLayout = audioformat.StandardLayout(format.Channels)

	return &flacDecoder{
		path:   path,
		file:   f,
		stream: stream,
		format: format,
		stats:  NewChunkSizeStats(),
	}, nil
}

// NextChunk decodes one FLAC frame and interleaves its per-subframe i32
// samples into f32, normalizing by the stream's bit depth. A single
// corrupt frame is swallowed per spec.md §4.2's recoverable-corruption
// rule: the skip counter increments and decoding continues.
func (d *flacDecoder) NextChunk() ([]float32, error) {
	frame, err := d.stream.ParseNext()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		d.skippedFrames++
		return []float32{}, nil
	}

	channels := len(frame.Subframes)
	if channels == 0 {
		return []float32{}, nil
	}
	frameLen := len(frame.Subframes[0].Samples)
	scale := float32(int64(1) << uint(d.format.BitsPerSample-1))

	out := make([]float32, frameLen*channels)
	for c, sub := range frame.Subframes {
		for i, s := range sub.Samples {
			out[i*channels+c] = float32(s) / scale
		}
	}

	d.emitted += int64(frameLen)
	d.stats.Observe(len(out))
	return out, nil
}

func (d *flacDecoder) Progress() float64 {
	if d.format.SampleCount <= 0 {
		return 0
	}
	return float64(d.emitted) / float64(d.format.SampleCount)
}

func (d *flacDecoder) Format() audioformat.Format {
	f := d.format
	f.SampleCount = d.emitted
	f.SkippedPackets = d.skippedFrames
	f.IsPartial = d.skippedFrames > 0
	return f
}

func (d *flacDecoder) Reset() error {
	d.stream.Close()
	if _, err := d.file.Seek(0, io.SeekStart); err != nil {
		return drerrors.Wrap(drerrors.IoError, "rewinding FLAC file", err)
	}
	stream, err := flac.NewSeek(d.file)
	if err != nil {
		return drerrors.Wrap(drerrors.FormatError, "re-parsing FLAC stream", err)
	}
	d.stream = stream
	d.emitted = 0
	d.skippedFrames = 0
	d.stats.Reset()
	return nil
}

func (d *flacDecoder) Close() error {
	d.stream.Close()
	return d.file.Close()
}
