package decode

import (
	"encoding/binary"
	"io"
	"os"

	opus "gopkg.in/hraban/opus.v2"

	"github.com/linuxmatters/drmeter/internal/audioformat"
	"github.com/linuxmatters/drmeter/internal/drerrors"
	"github.com/linuxmatters/drmeter/internal/sampleconv"
)

// Opus always decodes at 48 kHz regardless of the original input rate
// recorded in the OpusHead packet (RFC 7845 §2).
const opusDecodeRate = 48000

// maxOpusFrameSamples bounds the per-call PCM buffer; 120ms at 48kHz is
// the longest frame Opus defines.
const maxOpusFrameSamples = 48000 * 120 / 1000

type opusDecoder struct {
	file    *os.File
	pages   *oggPageReader
	dec     *opus.Decoder
	format  audioformat.Format
	conv    *sampleconv.Converter
	preSkip int

	emitted       int64
	skippedFrames int
	stats         *ChunkSizeStats
}

func openOpus(path string) (Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, drerrors.Wrap(drerrors.IoError, "opening Opus file", err)
	}
	d := &opusDecoder{file: f, conv: sampleconv.New(), stats: NewChunkSizeStats()}
	if err := d.init(); err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

func (d *opusDecoder) init() error {
	d.pages = newOggPageReader(d.file)

	head, err := d.pages.nextPacket()
	if err != nil {
		return drerrors.Wrap(drerrors.FormatError, "reading OpusHead packet", err)
	}
	if len(head) < 19 || string(head[0:8]) != "OpusHead" {
		return drerrors.New(drerrors.FormatError, "missing OpusHead packet")
	}
	channels := int(head[9])
	d.preSkip = int(binary.LittleEndian.Uint16(head[10:12]))

	if _, err := d.pages.nextPacket(); err != nil { // OpusTags, discarded
		return drerrors.Wrap(drerrors.FormatError, "reading OpusTags packet", err)
	}

	dec, err := opus.NewDecoder(opusDecodeRate, channels)
	if err != nil {
		return drerrors.Wrap(drerrors.DecodingError, "constructing Opus decoder", err)
	}
	d.dec = dec

	d.format = audioformat.Format{
		SampleRate:    opusDecodeRate,
		Channels:      channels,
		BitsPerSample: 16,
		CodecTag:      "opus",
	}
	if err := d.format.Validate(); err != nil {
		return err
	}
	d.format.ChannelLayout = audioformat.StandardLayout(channels)
	return nil
}

func (d *opusDecoder) NextChunk() ([]float32, error) {
	packet, err := d.pages.nextPacket()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, drerrors.Wrap(drerrors.DecodingError, "reading Opus page", err)
	}

	pcm := make([]int16, maxOpusFrameSamples*d.format.Channels)
	n, err := d.dec.Decode(packet, pcm)
	if err != nil {
		d.skippedFrames++
		return []float32{}, nil
	}
	pcm = pcm[:n*d.format.Channels]

	raw := make([]byte, len(pcm)*2)
	for i, v := range pcm {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(v))
	}
	samples, _, err := d.conv.Convert(raw, sampleconv.I16)
	if err != nil {
		return nil, err
	}

	if d.preSkip > 0 {
		skipFrames := d.preSkip
		if skipFrames > n {
			skipFrames = n
		}
		samples = samples[skipFrames*d.format.Channels:]
		d.preSkip -= skipFrames
	}

	d.emitted += int64(len(samples) / d.format.Channels)
	d.stats.Observe(len(samples))
	return samples, nil
}

func (d *opusDecoder) Progress() float64 { return 0 } // total sample count unknown without a full page scan

func (d *opusDecoder) Format() audioformat.Format {
	f := d.format
	f.SampleCount = d.emitted
	f.SkippedPackets = d.skippedFrames
	f.IsPartial = d.skippedFrames > 0
	return f
}

func (d *opusDecoder) Reset() error {
	if _, err := d.file.Seek(0, io.SeekStart); err != nil {
		return drerrors.Wrap(drerrors.IoError, "rewinding Opus file", err)
	}
	d.emitted = 0
	d.skippedFrames = 0
	d.stats.Reset()
	return d.init()
}

func (d *opusDecoder) Close() error {
	return d.file.Close()
}
