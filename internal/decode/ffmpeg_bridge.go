package decode

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/linuxmatters/drmeter/internal/audioformat"
	"github.com/linuxmatters/drmeter/internal/drerrors"
)

// ffmpegInstallGuide is surfaced whenever ffmpeg can't be located, so a
// missing-dependency failure tells the user how to fix it instead of just
// naming the symptom.
const ffmpegInstallGuide = `ffmpeg is required for AC-3/E-AC-3/DTS/DSD support.

  macOS:   brew install ffmpeg
  Debian:  sudo apt install ffmpeg
  Fedora:  sudo dnf install ffmpeg
  Arch:    sudo pacman -S ffmpeg

See https://ffmpeg.org/download.html, or set DRMETER_FFMPEG_PATH to an
existing binary.`

// pipeBufferSize sizes the bufio.Reader wrapping ffmpeg's stdout pipe.
const pipeBufferSize = 128 * 1024

const (
	minChunkBytes = 64 * 1024
	maxChunkBytes = 16 * 1024 * 1024
)

// dsdPCMRateDefault avoids the fractional resampling a 384kHz target would
// need: 352.8kHz is an integer multiple of the DSD bit clock.
const dsdPCMRateDefault = 352800

// FFmpegOptions configures the DSD downsampling path. A zero value applies
// the defaults spec.md §4.1 specifies.
type FFmpegOptions struct {
	DSDTargetRate int     // Hz; 0 means dsdPCMRateDefault
	DSDGainDB     float64 // 0 means the 6dB default; applied whether or not DSDFilterOff is set
	DSDFilterOff  bool    // true disables the low-pass filter entirely
}

type ffmpegDecoder struct {
	cmd        *exec.Cmd
	stdout     io.ReadCloser
	stdoutBuf  *bufio.Reader
	ffmpegPath string
	args       []string

	format  audioformat.Format
	emitted int64
	eof     bool
	stats   *ChunkSizeStats
}

// NewFFmpegDecoder shells out to ffmpeg for containers this module has no
// native decoder for: AC-3, E-AC-3, DTS, and DSD (.dsf/.dff). It probes the
// format with ffprobe first, then launches ffmpeg to stream raw f32le PCM
// over stdout.
func NewFFmpegDecoder(path string, opts *FFmpegOptions) (Decoder, error) {
	if opts == nil {
		opts = &FFmpegOptions{}
	}

	ffmpegPath := locateFFmpeg(realRunner)
	if ffmpegPath == "" {
		return nil, drerrors.New(drerrors.FormatError, ffmpegInstallGuide)
	}

	format, err := probeFormat(path)
	if err != nil {
		return nil, err
	}

	isDSD := isDSDExtension(path)
	args := buildFFmpegArgs(path, isDSD, &format, opts)

	cmd := exec.Command(ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, drerrors.Wrap(drerrors.DecodingError, "creating ffmpeg stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, drerrors.Wrap(drerrors.DecodingError, "creating ffmpeg stderr pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, drerrors.Wrap(drerrors.DecodingError, "starting ffmpeg", err)
	}
	go drainStderr(stderr)

	return &ffmpegDecoder{
		cmd:        cmd,
		stdout:     stdout,
		stdoutBuf:  bufio.NewReaderSize(stdout, pipeBufferSize),
		ffmpegPath: ffmpegPath,
		args:       args,
		format:     format,
		stats:      NewChunkSizeStats(),
	}, nil
}

// drainStderr discards ffmpeg's stderr so the pipe never backs up and
// blocks the subprocess. Because stderr is discarded, ffmpeg's exit status
// and error text are not mapped to IoError or FormatError: NextChunk stops
// at end of stdout without checking the exit status, and Close returns
// cmd.Wait's error unwrapped.
func drainStderr(r io.Reader) {
	io.Copy(io.Discard, r)
}

func isDSDExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".dsf" || ext == ".dff"
}

func buildFFmpegArgs(path string, isDSD bool, format *audioformat.Format, opts *FFmpegOptions) []string {
	args := []string{
		"-hide_banner", "-nostdin", "-v", "error",
		"-vn", "-sn", "-dn",
		"-i", path,
	}

	if isDSD {
		targetRate := opts.DSDTargetRate
		if targetRate <= 0 {
			targetRate = dsdPCMRateDefault
		}
		gainDB := opts.DSDGainDB
		if gainDB == 0 {
			gainDB = 6.0
		}

		var filterChain []string
		if !opts.DSDFilterOff {
			fc := dsdLowPassCutoff(format.SampleRate, targetRate)
			filterChain = append(filterChain, fmt.Sprintf("lowpass=f=%.0f", fc))
		}
		if gainDB != 0 {
			filterChain = append(filterChain, fmt.Sprintf("volume=%gdB", gainDB))
		}
		if len(filterChain) > 0 {
			args = append(args, "-af", strings.Join(filterChain, ","))
		}
		args = append(args, "-ar", strconv.Itoa(targetRate))
		format.ProcessedSampleRate = targetRate
		format.BitsPerSample = 1
	}

	args = append(args, "-f", "f32le", "-acodec", "pcm_f32le", "-")
	return args
}

// dsdLowPassCutoff implements the TEAC-mode filter spec.md §4.1 describes:
// fc scales with the DSD multiple relative to DSD64, clamped so it never
// exceeds 45% of the PCM target rate (Nyquist headroom).
func dsdLowPassCutoff(probedBitRate, targetRate int) float64 {
	mul := 64.0
	if probedBitRate > 0 {
		m := math.Round(float64(probedBitRate) / 44100.0)
		mul = nearestDSDMultiple(m)
	}
	fc := 39000.0 * (mul / 64.0)
	limit := float64(targetRate) * 0.45
	if fc > limit {
		fc = limit
	}
	return fc
}

func nearestDSDMultiple(m float64) float64 {
	candidates := []float64{64, 128, 256, 512, 1024}
	best := candidates[0]
	bestDiff := math.Abs(m - best)
	for _, c := range candidates[1:] {
		if d := math.Abs(m - c); d < bestDiff {
			best, bestDiff = c, d
		}
	}
	return best
}

// probeFormat runs ffprobe to learn sample rate, channel count, and
// duration, since ffmpeg's stdout stream carries no header ffmpeg-decode
// can attach a total sample count to.
func probeFormat(path string) (audioformat.Format, error) {
	ffprobePath := locateFFprobe(realRunner)
	if ffprobePath == "" {
		return audioformat.Format{}, drerrors.New(drerrors.FormatError, "ffprobe not found; "+ffmpegInstallGuide)
	}

	cmd := exec.Command(ffprobePath,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_name,sample_rate,channels,duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return audioformat.Format{}, drerrors.Wrap(drerrors.IoError, "running ffprobe", err)
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) < 3 {
		return audioformat.Format{}, drerrors.New(drerrors.FormatError, "incomplete ffprobe output")
	}

	codecTag := strings.TrimSpace(lines[0])
	sampleRate, err := strconv.Atoi(strings.TrimSpace(lines[1]))
	if err != nil {
		return audioformat.Format{}, drerrors.Wrap(drerrors.FormatError, "parsing sample rate", err)
	}
	channels, err := strconv.Atoi(strings.TrimSpace(lines[2]))
	if err != nil {
		return audioformat.Format{}, drerrors.Wrap(drerrors.FormatError, "parsing channel count", err)
	}

	var sampleCount int64
	if len(lines) > 3 {
		if duration, err := strconv.ParseFloat(strings.TrimSpace(lines[3]), 64); err == nil && duration > 0 {
			sampleCount = int64(duration * float64(sampleRate))
		}
	}

	format := audioformat.Format{
		SampleRate:    sampleRate,
		Channels:      channels,
		BitsPerSample: 16,
		SampleCount:   sampleCount,
		CodecTag:      codecTag,
	}
	if err := format.Validate(); err != nil {
		return audioformat.Format{}, err
	}
	// This bridge only ever decodes raw elementary/container streams
	// (AC-3, E-AC-3, DTS, DSD) -- never MP4 -- so the 5.1 LFE convention is
	// always the raw-stream one spec.md §4.1 calls out explicitly for
	// E-AC-3 (index 5), not the MP4-specific index 3.
	format.ChannelLayout = audioformat.EAC3RawLayout(channels)
	return format, nil
}

// chunkByteBudget is the default 16MB-per-pull target spec.md §4.2 specifies,
// clamped to at least minChunkBytes and rounded down to a whole-frame
// boundary so leftover bytes never split a frame across NextChunk calls.
func chunkByteBudget(format audioformat.Format) int {
	const bytesPerSample = 4 // f32le
	frameBytes := format.Channels * bytesPerSample
	budget := maxChunkBytes
	if budget < minChunkBytes {
		budget = minChunkBytes
	}
	return (budget / frameBytes) * frameBytes
}

func (d *ffmpegDecoder) NextChunk() ([]float32, error) {
	if d.eof {
		return nil, nil
	}

	budget := chunkByteBudget(d.format)
	buf := make([]byte, budget)
	n, err := io.ReadFull(d.stdoutBuf, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, drerrors.Wrap(drerrors.IoError, "reading ffmpeg stdout", err)
	}
	if n == 0 {
		d.eof = true
		return nil, nil
	}
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		d.eof = true
	}

	frameBytes := d.format.Channels * 4
	n -= n % frameBytes
	if n == 0 {
		return []float32{}, nil
	}
	raw := buf[:n]

	// ffmpeg's pcm_f32le output is already normalized to [-1.0, 1.0], so
	// this is a byte reinterpretation rather than a sampleconv path (that
	// package converts native integer PCM, which ffmpeg never hands back).
	samples := make([]float32, n/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	d.emitted += int64(len(samples) / d.format.Channels)
	d.stats.Observe(len(samples))
	return samples, nil
}

func (d *ffmpegDecoder) Progress() float64 {
	if d.format.SampleCount <= 0 {
		return 0
	}
	return float64(d.emitted) / float64(d.format.SampleCount)
}

func (d *ffmpegDecoder) Format() audioformat.Format {
	f := d.format
	f.SampleCount = d.emitted
	return f
}

// Reset kills the running ffmpeg process and respawns it with the same
// arguments, since ffmpeg's stdout pipe has no seek semantics.
func (d *ffmpegDecoder) Reset() error {
	if d.cmd.Process != nil {
		d.cmd.Process.Kill()
		d.cmd.Wait()
	}

	cmd := exec.Command(d.ffmpegPath, d.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return drerrors.Wrap(drerrors.DecodingError, "recreating ffmpeg stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return drerrors.Wrap(drerrors.DecodingError, "recreating ffmpeg stderr pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return drerrors.Wrap(drerrors.DecodingError, "restarting ffmpeg", err)
	}
	go drainStderr(stderr)

	d.cmd = cmd
	d.stdout = stdout
	d.stdoutBuf = bufio.NewReaderSize(stdout, pipeBufferSize)
	d.emitted = 0
	d.eof = false
	d.stats.Reset()
	return nil
}

func (d *ffmpegDecoder) Close() error {
	if d.cmd.Process != nil {
		d.cmd.Process.Kill()
		return d.cmd.Wait()
	}
	return nil
}
