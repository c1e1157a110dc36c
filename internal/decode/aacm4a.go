package decode

import (
	"os"

	aac "github.com/llehouerou/go-aac"

	"github.com/linuxmatters/drmeter/internal/audioformat"
	"github.com/linuxmatters/drmeter/internal/drerrors"
)

// aacM4ADecoder decodes AAC audio demuxed from an MP4/M4A container. Each
// MP4 "sample" located by probeMP4AudioTrack's sample table is one raw AAC
// access unit with no ADTS sync header, fed straight into go-aac's frame
// decoder -- the MP4 container already supplies the framing that aac.go's
// ADTS path has to recover from the bitstream itself.
type aacM4ADecoder struct {
	file    *os.File
	dec     *aac.Decoder
	format  audioformat.Format
	samples []mp4Sample
	idx     int

	emitted       int64
	skippedFrames int
	stats         *ChunkSizeStats
}

// openAACFromM4A builds a decoder over an already-probed "mp4a" track,
// letting Open's single probeMP4AudioTrack call serve both codec dispatch
// and sample-table lookup instead of re-parsing the box tree twice.
func openAACFromM4A(path string, track mp4Track) (Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, drerrors.Wrap(drerrors.IoError, "opening M4A file", err)
	}

	dec := aac.NewDecoder()
	dec.SetConfiguration(aac.Config{OutputFormat: aac.OutputFormatFloat})

	d := &aacM4ADecoder{
		file:    f,
		dec:     dec,
		samples: track.Samples,
		stats:   NewChunkSizeStats(),
	}
	if err := d.primeFormat(); err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

func (d *aacM4ADecoder) readSample(i int) ([]byte, error) {
	s := d.samples[i]
	buf := make([]byte, s.Size)
	if _, err := d.file.ReadAt(buf, s.Offset); err != nil {
		return nil, drerrors.Wrap(drerrors.IoError, "reading MP4 AAC sample", err)
	}
	return buf, nil
}

// primeFormat decodes the track's first access unit to learn sample rate
// and channel count, the same way aac.go's ADTS path primes itself -- an
// MP4 "mp4a" sample entry describes a container-level audio format too,
// but go-aac derives the same information from the bitstream's own
// AudioSpecificConfig, so there's no need to parse the esds box as well.
func (d *aacM4ADecoder) primeFormat() error {
	if len(d.samples) == 0 {
		return drerrors.New(drerrors.FormatError, "MP4 AAC track has no samples")
	}
	raw, err := d.readSample(0)
	if err != nil {
		return err
	}
	_, info, err := d.dec.Decode(raw)
	if err != nil {
		return drerrors.Wrap(drerrors.FormatError, "probing MP4 AAC stream", err)
	}
	d.idx = 1

	d.format = audioformat.Format{
		SampleRate:    int(info.SampleRate),
		Channels:      int(info.Channels),
		BitsPerSample: 32,
		CodecTag:      "aac",
	}
	if err := d.format.Validate(); err != nil {
		return err
	}
	d.format.ChannelLayout = audioformat.MP4Layout(d.format.Channels)
	return nil
}

func (d *aacM4ADecoder) NextChunk() ([]float32, error) {
	if d.idx >= len(d.samples) {
		return nil, nil
	}

	raw, err := d.readSample(d.idx)
	if err != nil {
		return nil, err
	}
	d.idx++

	samples, _, err := d.dec.Decode(raw)
	if err != nil {
		// spec.md §4.2: swallow a single access-unit's corruption, count
		// it, and keep going rather than aborting the whole track.
		d.skippedFrames++
		return []float32{}, nil
	}

	f32, ok := samples.([]float32)
	if !ok {
		return nil, drerrors.New(drerrors.DecodingError, "unexpected AAC sample type")
	}
	if len(f32) > 0 {
		d.emitted += int64(len(f32)) / int64(d.format.Channels)
	}
	d.stats.Observe(len(f32))
	return f32, nil
}

// Progress estimates completion from the MP4 sample-table position, since
// the total decoded PCM frame count (unlike a FLAC/WAV header's exact
// sample count) isn't known until every access unit has been decoded.
func (d *aacM4ADecoder) Progress() float64 {
	if len(d.samples) == 0 {
		return 0
	}
	return float64(d.idx) / float64(len(d.samples))
}

func (d *aacM4ADecoder) Format() audioformat.Format {
	f := d.format
	f.SampleCount = d.emitted
	f.SkippedPackets = d.skippedFrames
	f.IsPartial = d.skippedFrames > 0
	return f
}

func (d *aacM4ADecoder) Reset() error {
	d.dec.Close()
	dec := aac.NewDecoder()
	dec.SetConfiguration(aac.Config{OutputFormat: aac.OutputFormatFloat})
	d.dec = dec
	d.idx = 0
	d.emitted = 0
	d.skippedFrames = 0
	d.stats.Reset()
	return d.primeFormat()
}

func (d *aacM4ADecoder) Close() error {
	d.dec.Close()
	return d.file.Close()
}
