package decode

import (
	"io"
	"os"

	"github.com/jfreymuth/oggvorbis"

	"github.com/linuxmatters/drmeter/internal/audioformat"
	"github.com/linuxmatters/drmeter/internal/drerrors"
)

const vorbisFrameBudget = 4096

type vorbisDecoder struct {
	file   *os.File
	reader *oggvorbis.Reader
	format audioformat.Format

	emitted int64
	stats   *ChunkSizeStats
}

func openVorbis(path string) (Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, drerrors.Wrap(drerrors.IoError, "opening Ogg Vorbis file", err)
	}
	reader, err := oggvorbis.NewReader(f)
	if err != nil {
		f.Close()
		return nil, drerrors.Wrap(drerrors.FormatError, "parsing Ogg Vorbis stream", err)
	}

	format := audioformat.Format{
		SampleRate:    reader.SampleRate(),
		Channels:      reader.Channels(),
		BitsPerSample: 32, // oggvorbis decodes to f32 internally
		SampleCount:   reader.Length(),
		CodecTag:      "vorbis",
	}
	if err := format.Validate(); err != nil {
		f.Close()
		return nil, err
	}
	format.ChannelLayout = audioformat.StandardLayout(format.Channels)

	return &vorbisDecoder{
		file:   f,
		reader: reader,
		format: format,
		stats:  NewChunkSizeStats(),
	}, nil
}

func (d *vorbisDecoder) NextChunk() ([]float32, error) {
	buf := make([]float32, vorbisFrameBudget*d.format.Channels)
	n, err := d.reader.Read(buf)
	if err != nil && err != io.EOF {
		return nil, drerrors.Wrap(drerrors.DecodingError, "decoding Ogg Vorbis", err)
	}
	if n == 0 {
		return nil, nil
	}
	out := buf[:n]
	d.emitted += int64(n / d.format.Channels)
	d.stats.Observe(n)
	return out, nil
}

func (d *vorbisDecoder) Progress() float64 {
	if d.format.SampleCount <= 0 {
		return 0
	}
	return float64(d.emitted) / float64(d.format.SampleCount)
}

func (d *vorbisDecoder) Format() audioformat.Format {
	f := d.format
	f.SampleCount = d.emitted
	return f
}

func (d *vorbisDecoder) Reset() error {
	if _, err := d.file.Seek(0, io.SeekStart); err != nil {
		return drerrors.Wrap(drerrors.IoError, "rewinding Ogg Vorbis file", err)
	}
	reader, err := oggvorbis.NewReader(d.file)
	if err != nil {
		return drerrors.Wrap(drerrors.FormatError, "re-parsing Ogg Vorbis stream", err)
	}
	d.reader = reader
	d.emitted = 0
	d.stats.Reset()
	return nil
}

func (d *vorbisDecoder) Close() error {
	return d.file.Close()
}
