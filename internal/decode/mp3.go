package decode

import (
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"

	"github.com/linuxmatters/drmeter/internal/audioformat"
	"github.com/linuxmatters/drmeter/internal/drerrors"
	"github.com/linuxmatters/drmeter/internal/sampleconv"
)

// go-mp3 always decodes to 16-bit stereo PCM regardless of source layout,
// so the format probe reports 2 channels and 16 bits for every MP3.
const mp3ReadBudget = 16 * 1024

type mp3Decoder struct {
	file   *os.File
	dec    *mp3.Decoder
	format audioformat.Format
	conv   *sampleconv.Converter

	emitted int64
	stats   *ChunkSizeStats
}

func openMP3(path string) (Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, drerrors.Wrap(drerrors.IoError, "opening MP3 file", err)
	}
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, drerrors.Wrap(drerrors.FormatError, "starting MP3 decoder", err)
	}

	format := audioformat.Format{
		SampleRate:    dec.SampleRate(),
		Channels:      2,
		BitsPerSample: 16,
		CodecTag:      "mp3",
	}
	if err := format.Validate(); err != nil {
		f.Close()
		return nil, err
	}
	format.SampleCount = dec.Length() / 4 // 4 bytes per stereo 16-bit frame
	format.ChannelLayout = audioformat.StandardLayout(2)

	return &mp3Decoder{
		file:   f,
		dec:    dec,
		format: format,
		conv:   sampleconv.New(),
		stats:  NewChunkSizeStats(),
	}, nil
}

func (d *mp3Decoder) NextChunk() ([]float32, error) {
	raw := make([]byte, mp3ReadBudget)
	n, err := d.dec.Read(raw)
	if err != nil && err != io.EOF {
		return nil, drerrors.Wrap(drerrors.DecodingError, "decoding MP3", err)
	}
	if n == 0 {
		return nil, nil
	}
	raw = raw[:n-n%4]

	samples, _, err := d.conv.Convert(raw, sampleconv.I16)
	if err != nil {
		return nil, err
	}
	d.emitted += int64(len(samples) / 2)
	d.stats.Observe(len(samples))
	return samples, nil
}

func (d *mp3Decoder) Progress() float64 {
	if d.format.SampleCount <= 0 {
		return 0
	}
	return float64(d.emitted) / float64(d.format.SampleCount)
}

func (d *mp3Decoder) Format() audioformat.Format {
	f := d.format
	f.SampleCount = d.emitted
	return f
}

func (d *mp3Decoder) Reset() error {
	if _, err := d.file.Seek(0, io.SeekStart); err != nil {
		return drerrors.Wrap(drerrors.IoError, "rewinding MP3 file", err)
	}
	dec, err := mp3.NewDecoder(d.file)
	if err != nil {
		return drerrors.Wrap(drerrors.FormatError, "restarting MP3 decoder", err)
	}
	d.dec = dec
	d.emitted = 0
	d.stats.Reset()
	return nil
}

func (d *mp3Decoder) Close() error {
	return d.file.Close()
}
