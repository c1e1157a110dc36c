package decode

import (
	"io"
	"os"

	waveaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/linuxmatters/drmeter/internal/audioformat"
	"github.com/linuxmatters/drmeter/internal/drerrors"
	"github.com/linuxmatters/drmeter/internal/sampleconv"
)

// wavFrameBudget is the number of interleaved samples pulled per PCMBuffer
// call; it does not need to line up with anything else in the pipeline
// since the analyzer never assumes chunk-aligned windows (spec.md §4.2).
const wavFrameBudget = 8192

type wavDecoder struct {
	path   string
	file   *os.File
	dec    *wav.Decoder
	format audioformat.Format
	conv   *sampleconv.Converter

	emitted int64
	stats   *ChunkSizeStats
}

func openWAV(path string) (Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, drerrors.Wrap(drerrors.IoError, "opening wav file", err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, drerrors.New(drerrors.FormatError, "not a valid WAV file")
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, drerrors.Wrap(drerrors.FormatError, "seeking to WAV data chunk", err)
	}

	format := audioformat.Format{
		SampleRate:    int(dec.SampleRate),
		Channels:      int(dec.NumChans),
		BitsPerSample: int(dec.BitDepth),
		CodecTag:      "pcm",
	}
	if err := format.Validate(); err != nil {
		f.Close()
		return nil, err
	}
	srcFrameSize := int64(format.Channels) * int64(format.BitsPerSample) / 8
	if srcFrameSize > 0 {
		format.SampleCount = dec.PCMLen() / srcFrameSize
	}
	format.ChannelLayout = audioformat.StandardLayout(format.Channels)

	return &wavDecoder{
		path:   path,
		file:   f,
		dec:    dec,
		format: format,
		conv:   sampleconv.New(),
		stats:  NewChunkSizeStats(),
	}, nil
}

func (d *wavDecoder) sourceFormat() (sampleconv.SourceFormat, error) {
	switch d.format.BitsPerSample {
	case 8:
		return sampleconv.U8, nil
	case 16:
		return sampleconv.I16, nil
	case 24:
		return sampleconv.I24, nil
	case 32:
		return sampleconv.I32, nil
	default:
		return 0, drerrors.New(drerrors.FormatError, "unsupported WAV bit depth")
	}
}

func (d *wavDecoder) NextChunk() ([]float32, error) {
	buf := &waveaudio.IntBuffer{
		Format: &waveaudio.Format{NumChannels: d.format.Channels, SampleRate: d.format.SampleRate},
		Data:   make([]int, wavFrameBudget),
	}
	n, err := d.dec.PCMBuffer(buf)
	if err != nil && err != io.EOF {
		return nil, drerrors.Wrap(drerrors.DecodingError, "reading WAV PCM", err)
	}
	if n == 0 || len(buf.Data) == 0 {
		return nil, nil
	}

	srcFmt, err := d.sourceFormat()
	if err != nil {
		return nil, err
	}
	bytesPer := sampleconv.BytesPerSample(srcFmt)
	raw := make([]byte, len(buf.Data)*bytesPer)
	for i, v := range buf.Data {
		putLE(raw[i*bytesPer:], int32(v), bytesPer)
	}

	samples, _, err := d.conv.Convert(raw, srcFmt)
	if err != nil {
		return nil, err
	}
	d.emitted += int64(len(samples) / d.format.Channels)
	d.stats.Observe(len(samples))
	return samples, nil
}

func putLE(b []byte, v int32, n int) {
	for i := 0; i < n; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func (d *wavDecoder) Progress() float64 {
	if d.format.SampleCount <= 0 {
		return 0
	}
	return float64(d.emitted) / float64(d.format.SampleCount)
}

func (d *wavDecoder) Format() audioformat.Format {
	f := d.format
	f.SampleCount = d.emitted
	return f
}

func (d *wavDecoder) Reset() error {
	if _, err := d.file.Seek(0, io.SeekStart); err != nil {
		return drerrors.Wrap(drerrors.IoError, "rewinding WAV file", err)
	}
	d.dec = wav.NewDecoder(d.file)
	if err := d.dec.FwdToPCM(); err != nil {
		return drerrors.Wrap(drerrors.FormatError, "seeking to WAV data chunk", err)
	}
	d.emitted = 0
	d.stats.Reset()
	return nil
}

func (d *wavDecoder) Close() error {
	return d.file.Close()
}
