package decode

import (
	"io"
	"os"

	aac "github.com/llehouerou/go-aac"

	"github.com/linuxmatters/drmeter/internal/audioformat"
	"github.com/linuxmatters/drmeter/internal/drerrors"
)

// aacReadBudget is the raw-byte chunk fed to Decode per call; the decoder
// consumes only FrameInfo.BytesConsumed of it and the remainder is
// retained for the next call, since AAC frame boundaries don't align to
// arbitrary byte windows.
const aacReadBudget = 8192

type aacDecoder struct {
	file   *os.File
	dec    *aac.Decoder
	format audioformat.Format

	pending []byte
	eof     bool

	emitted       int64
	skippedFrames int
	stats         *ChunkSizeStats
}

func openAAC(path string) (Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, drerrors.Wrap(drerrors.IoError, "opening AAC file", err)
	}

	dec := aac.NewDecoder()
	dec.SetConfiguration(aac.Config{OutputFormat: aac.OutputFormatFloat})

	d := &aacDecoder{file: f, dec: dec, stats: NewChunkSizeStats()}
	if err := d.primeFormat(); err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

// primeFormat decodes the first frame to learn sample rate and channel
// count, since AAC (raw ADTS) carries no separate format header.
func (d *aacDecoder) primeFormat() error {
	buf := make([]byte, aacReadBudget)
	n, err := d.file.Read(buf)
	if err != nil && err != io.EOF {
		return drerrors.Wrap(drerrors.IoError, "reading AAC stream", err)
	}
	d.pending = buf[:n]
	if n == 0 {
		return drerrors.New(drerrors.FormatError, "empty AAC stream")
	}

	_, info, err := d.dec.Decode(d.pending)
	if err != nil {
		return drerrors.Wrap(drerrors.FormatError, "probing AAC stream", err)
	}
	d.pending = d.pending[info.BytesConsumed:]

	d.format = audioformat.Format{
		SampleRate:    int(info.SampleRate),
		Channels:      int(info.Channels),
		BitsPerSample: 32,
		CodecTag:      "aac",
	}
	if err := d.format.Validate(); err != nil {
		return err
	}
	d.format.ChannelLayout = audioformat.StandardLayout(d.format.Channels)
	return nil
}

func (d *aacDecoder) fill() error {
	if d.eof || len(d.pending) >= aacReadBudget {
		return nil
	}
	buf := make([]byte, aacReadBudget)
	n, err := d.file.Read(buf)
	if err != nil && err != io.EOF {
		return drerrors.Wrap(drerrors.IoError, "reading AAC stream", err)
	}
	if n > 0 {
		d.pending = append(d.pending, buf[:n]...)
	}
	if err == io.EOF {
		d.eof = true
	}
	return nil
}

func (d *aacDecoder) NextChunk() ([]float32, error) {
	if err := d.fill(); err != nil {
		return nil, err
	}
	if len(d.pending) == 0 {
		return nil, nil
	}

	samples, info, err := d.dec.Decode(d.pending)
	if err != nil {
		// Spec.md §4.2: swallow a single-packet corruption, count it,
		// and keep going rather than aborting the whole track.
		d.skippedFrames++
		if len(d.pending) > aacReadBudget {
			d.pending = nil
		} else {
			d.pending = d.pending[len(d.pending):]
		}
		return []float32{}, nil
	}
	d.pending = d.pending[info.BytesConsumed:]

	f32, ok := samples.([]float32)
	if !ok {
		return nil, drerrors.New(drerrors.DecodingError, "unexpected AAC sample type")
	}
	d.emitted += int64(len(f32)) / int64(d.format.Channels)
	d.stats.Observe(len(f32))
	return f32, nil
}

func (d *aacDecoder) Progress() float64 { return 0 } // total sample count unknown for raw AAC

func (d *aacDecoder) Format() audioformat.Format {
	f := d.format
	f.SampleCount = d.emitted
	f.SkippedPackets = d.skippedFrames
	f.IsPartial = d.skippedFrames > 0
	return f
}

func (d *aacDecoder) Reset() error {
	if _, err := d.file.Seek(0, io.SeekStart); err != nil {
		return drerrors.Wrap(drerrors.IoError, "rewinding AAC file", err)
	}
	d.dec.Close()
	d.dec = aac.NewDecoder()
	d.dec.SetConfiguration(aac.Config{OutputFormat: aac.OutputFormatFloat})
	d.pending = nil
	d.eof = false
	d.emitted = 0
	d.skippedFrames = 0
	d.stats.Reset()
	return d.primeFormat()
}

func (d *aacDecoder) Close() error {
	d.dec.Close()
	return d.file.Close()
}
