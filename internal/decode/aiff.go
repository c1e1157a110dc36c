package decode

import (
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/linuxmatters/drmeter/internal/audioformat"
	"github.com/linuxmatters/drmeter/internal/drerrors"
	"github.com/linuxmatters/drmeter/internal/sampleconv"
)

// No example in this corpus carries an AIFF library (go-audio ships wav,
// not aiff), so this backend is a direct IFF chunk walk over the standard
// library, parsing just the two chunks the measurement pipeline needs:
// COMM (format) and SSND (sample data, big-endian signed PCM).
type aiffDecoder struct {
	file   *os.File
	format audioformat.Format
	conv   *sampleconv.Converter

	dataStart int64
	dataSize  int64
	pos       int64

	emitted int64
	stats   *ChunkSizeStats
}

func openAIFF(path string) (Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, drerrors.Wrap(drerrors.IoError, "opening AIFF file", err)
	}

	d := &aiffDecoder{file: f, conv: sampleconv.New(), stats: NewChunkSizeStats()}
	if err := d.parseHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

func (d *aiffDecoder) parseHeader() error {
	var form [12]byte
	if _, err := io.ReadFull(d.file, form[:]); err != nil {
		return drerrors.Wrap(drerrors.FormatError, "reading AIFF header", err)
	}
	if string(form[0:4]) != "FORM" || (string(form[8:12]) != "AIFF" && string(form[8:12]) != "AIFC") {
		return drerrors.New(drerrors.FormatError, "not an AIFF/AIFC file")
	}

	var haveCOMM bool
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(d.file, hdr[:]); err != nil {
			if err == io.EOF {
				break
			}
			return drerrors.Wrap(drerrors.FormatError, "reading AIFF chunk header", err)
		}
		id := string(hdr[0:4])
		size := int64(binary.BigEndian.Uint32(hdr[4:8]))

		switch id {
		case "COMM":
			buf := make([]byte, size)
			if _, err := io.ReadFull(d.file, buf); err != nil {
				return drerrors.Wrap(drerrors.FormatError, "reading AIFF COMM chunk", err)
			}
			channels := int(binary.BigEndian.Uint16(buf[0:2]))
			numFrames := int64(binary.BigEndian.Uint32(buf[2:6]))
			bits := int(binary.BigEndian.Uint16(buf[6:8]))
			sampleRate := int(extendedToFloat64(buf[8:18]))

			d.format = audioformat.Format{
				SampleRate:    sampleRate,
				Channels:      channels,
				BitsPerSample: bits,
				SampleCount:   numFrames,
				CodecTag:      "pcm_be",
			}
			if err := d.format.Validate(); err != nil {
				return err
			}
			d.format.ChannelLayout = audioformat.StandardLayout(channels)
			haveCOMM = true
		case "SSND":
			var ssndHdr [8]byte
			if _, err := io.ReadFull(d.file, ssndHdr[:]); err != nil {
				return drerrors.Wrap(drerrors.FormatError, "reading AIFF SSND header", err)
			}
			offset, err := d.file.Seek(0, io.SeekCurrent)
			if err != nil {
				return drerrors.Wrap(drerrors.IoError, "seeking AIFF data", err)
			}
			d.dataStart = offset
			d.dataSize = size - 8
			if _, err := d.file.Seek(d.dataSize, io.SeekCurrent); err != nil {
				return drerrors.Wrap(drerrors.IoError, "skipping AIFF data", err)
			}
		default:
			if size%2 == 1 {
				size++ // chunks are word-aligned
			}
			if _, err := d.file.Seek(size, io.SeekCurrent); err != nil {
				if err == io.EOF {
					break
				}
				return drerrors.Wrap(drerrors.FormatError, "skipping AIFF chunk", err)
			}
		}
	}

	if !haveCOMM || d.dataStart == 0 {
		return drerrors.New(drerrors.FormatError, "AIFF file missing COMM or SSND chunk")
	}
	if _, err := d.file.Seek(d.dataStart, io.SeekStart); err != nil {
		return drerrors.Wrap(drerrors.IoError, "seeking to AIFF sample data", err)
	}
	return nil
}

// extendedToFloat64 decodes an 80-bit IEEE 754 extended float (AIFF's COMM
// sample-rate encoding) into a float64.
func extendedToFloat64(b []byte) float64 {
	sign := 1.0
	if b[0]&0x80 != 0 {
		sign = -1.0
	}
	exp := int(binary.BigEndian.Uint16(b[0:2]) & 0x7fff)
	mantissa := binary.BigEndian.Uint64(b[2:10])
	if exp == 0 && mantissa == 0 {
		return 0
	}
	f := float64(mantissa) * math.Pow(2, float64(exp-16383-63))
	return sign * f
}

func (d *aiffDecoder) sourceFormat() (sampleconv.SourceFormat, error) {
	switch d.format.BitsPerSample {
	case 8:
		return sampleconv.I8, nil
	case 16:
		return sampleconv.I16, nil
	case 24:
		return sampleconv.I24, nil
	case 32:
		return sampleconv.I32, nil
	default:
		return 0, drerrors.New(drerrors.FormatError, "unsupported AIFF bit depth")
	}
}

const aiffReadBudget = 32 * 1024

func (d *aiffDecoder) NextChunk() ([]float32, error) {
	remaining := d.dataSize - d.pos
	if remaining <= 0 {
		return nil, nil
	}
	want := int64(aiffReadBudget)
	if want > remaining {
		want = remaining
	}
	bytesPerSample := d.format.BitsPerSample / 8
	frameSize := int64(bytesPerSample * d.format.Channels)
	want -= want % frameSize
	if want <= 0 {
		return nil, nil
	}

	raw := make([]byte, want)
	n, err := io.ReadFull(d.file, raw)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, drerrors.Wrap(drerrors.IoError, "reading AIFF sample data", err)
	}
	raw = raw[:n]
	d.pos += int64(n)

	beRaw := toLittleEndianSamples(raw, bytesPerSample)

	srcFmt, err := d.sourceFormat()
	if err != nil {
		return nil, err
	}
	samples, _, err := d.conv.Convert(beRaw, srcFmt)
	if err != nil {
		return nil, err
	}
	d.emitted += int64(len(samples) / d.format.Channels)
	d.stats.Observe(len(samples))
	return samples, nil
}

// toLittleEndianSamples reverses byte order within each sample so the
// shared sampleconv.Converter (which assumes little-endian, per wav.go and
// the rest of the decoders) can be reused for AIFF's big-endian PCM.
func toLittleEndianSamples(raw []byte, bytesPerSample int) []byte {
	out := make([]byte, len(raw))
	for i := 0; i < len(raw); i += bytesPerSample {
		for j := 0; j < bytesPerSample; j++ {
			out[i+j] = raw[i+bytesPerSample-1-j]
		}
	}
	return out
}

func (d *aiffDecoder) Progress() float64 {
	if d.dataSize <= 0 {
		return 0
	}
	return float64(d.pos) / float64(d.dataSize)
}

func (d *aiffDecoder) Format() audioformat.Format {
	f := d.format
	f.SampleCount = d.emitted
	return f
}

func (d *aiffDecoder) Reset() error {
	if _, err := d.file.Seek(d.dataStart, io.SeekStart); err != nil {
		return drerrors.Wrap(drerrors.IoError, "rewinding AIFF file", err)
	}
	d.pos = 0
	d.emitted = 0
	d.stats.Reset()
	return nil
}

func (d *aiffDecoder) Close() error {
	return d.file.Close()
}
