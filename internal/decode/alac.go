package decode

import (
	"io"
	"os"

	alac "github.com/mycophonic/saprobe-alac"

	"github.com/linuxmatters/drmeter/internal/audioformat"
	"github.com/linuxmatters/drmeter/internal/drerrors"
	"github.com/linuxmatters/drmeter/internal/sampleconv"
)

const alacReadBudget = 16 * 1024

type alacDecoder struct {
	file   *os.File
	dec    *alac.Decoder
	format audioformat.Format
	conv   *sampleconv.Converter

	emitted int64
	stats   *ChunkSizeStats
}

func openALAC(path string) (Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, drerrors.Wrap(drerrors.IoError, "opening ALAC file", err)
	}
	dec, err := alac.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, drerrors.Wrap(drerrors.FormatError, "parsing ALAC container", err)
	}

	pcmFormat := dec.Format()
	format := audioformat.Format{
		SampleRate:    pcmFormat.SampleRate,
		Channels:      pcmFormat.NumChannels,
		BitsPerSample: pcmFormat.BitDepth,
		CodecTag:      "alac",
	}
	if err := format.Validate(); err != nil {
		f.Close()
		return nil, err
	}
	// ALAC only appears inside an MP4/M4A container, so its 5.1 LFE index
	// follows the MP4 convention (index 3), not the native/raw-stream
	// default (index 5) StandardLayout reports.
	format.ChannelLayout = audioformat.MP4Layout(format.Channels)

	return &alacDecoder{
		file:   f,
		dec:    dec,
		format: format,
		conv:   sampleconv.New(),
		stats:  NewChunkSizeStats(),
	}, nil
}

func (d *alacDecoder) sourceFormat() (sampleconv.SourceFormat, error) {
	switch d.format.BitsPerSample {
	case 16:
		return sampleconv.I16, nil
	case 24:
		return sampleconv.I24, nil
	case 32:
		return sampleconv.I32, nil
	default:
		return 0, drerrors.New(drerrors.FormatError, "unsupported ALAC bit depth")
	}
}

func (d *alacDecoder) NextChunk() ([]float32, error) {
	raw := make([]byte, alacReadBudget)
	n, err := d.dec.Read(raw)
	if err != nil && err != io.EOF {
		return nil, drerrors.Wrap(drerrors.DecodingError, "decoding ALAC", err)
	}
	if n == 0 {
		return nil, nil
	}
	bytesPer := d.format.BitsPerSample / 8
	raw = raw[:n-n%bytesPer]

	srcFmt, err := d.sourceFormat()
	if err != nil {
		return nil, err
	}
	samples, _, err := d.conv.Convert(raw, srcFmt)
	if err != nil {
		return nil, err
	}
	d.emitted += int64(len(samples) / d.format.Channels)
	d.stats.Observe(len(samples))
	return samples, nil
}

func (d *alacDecoder) Progress() float64 {
	if d.format.SampleCount <= 0 {
		return 0
	}
	return float64(d.emitted) / float64(d.format.SampleCount)
}

func (d *alacDecoder) Format() audioformat.Format {
	f := d.format
	f.SampleCount = d.emitted
	return f
}

func (d *alacDecoder) Reset() error {
	if _, err := d.dec.Seek(0); err != nil {
		return drerrors.Wrap(drerrors.IoError, "rewinding ALAC stream", err)
	}
	d.emitted = 0
	d.stats.Reset()
	return nil
}

func (d *alacDecoder) Close() error {
	return d.file.Close()
}
