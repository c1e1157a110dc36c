package decode

import (
	"encoding/binary"
	"io"

	"github.com/linuxmatters/drmeter/internal/drerrors"
)

// mp4Sample is one timed sample (access unit) in an MP4 track: its absolute
// file byte offset and size.
type mp4Sample struct {
	Offset int64
	Size   uint32
}

// mp4Track is the minimal sample-table view this package needs from an MP4
// file: which codec its first audio track uses, and where its samples live.
type mp4Track struct {
	Codec   string // four-character code, e.g. "mp4a" or "alac"
	Samples []mp4Sample
}

// boxHeader is one parsed ISO/IEC 14496-12 box: the four-character type and
// the absolute file offsets of its payload and its end.
type boxHeader struct {
	typ       string
	bodyStart int64
	end       int64
}

// readBoxHeader reads the box at pos (size+type, plus the 64-bit extended
// size when size==1). A size of 0 means "extends to the end of its
// container"; the caller resolves that against containerEnd.
func readBoxHeader(r io.ReadSeeker, pos int64) (boxHeader, error) {
	if _, err := r.Seek(pos, io.SeekStart); err != nil {
		return boxHeader{}, err
	}
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return boxHeader{}, err
	}
	size := int64(binary.BigEndian.Uint32(hdr[0:4]))
	typ := string(hdr[4:8])
	bodyStart := pos + 8

	switch size {
	case 1:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return boxHeader{}, err
		}
		size = int64(binary.BigEndian.Uint64(ext[:]))
		bodyStart = pos + 16
	case 0:
		return boxHeader{typ: typ, bodyStart: bodyStart, end: -1}, nil
	}
	return boxHeader{typ: typ, bodyStart: bodyStart, end: pos + size}, nil
}

// forEachChildBox walks the sibling boxes starting at start up to
// containerEnd, calling fn once per box. A box whose encoded size is 0
// (extends to end of container) is resolved to containerEnd.
func forEachChildBox(r io.ReadSeeker, start, containerEnd int64, fn func(h boxHeader) error) error {
	pos := start
	for pos < containerEnd {
		h, err := readBoxHeader(r, pos)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return drerrors.Wrap(drerrors.FormatError, "reading MP4 box header", err)
		}
		if h.end < 0 {
			h.end = containerEnd
		}
		if h.end <= h.bodyStart-8 || h.end > containerEnd {
			return drerrors.New(drerrors.FormatError, "invalid MP4 box size")
		}
		if err := fn(h); err != nil {
			return err
		}
		pos = h.end
	}
	return nil
}

// findChildBox returns the first direct child of [start, containerEnd) with
// the given type.
func findChildBox(r io.ReadSeeker, start, containerEnd int64, want string) (boxHeader, bool, error) {
	var found boxHeader
	ok := false
	err := forEachChildBox(r, start, containerEnd, func(h boxHeader) error {
		if !ok && h.typ == want {
			found = h
			ok = true
		}
		return nil
	})
	return found, ok, err
}

// probeMP4AudioTrack walks just enough of path's box tree to report which
// codec its first audio track holds and where its sample table lives, so
// Open can dispatch ".m4a" between the ALAC and AAC-in-MP4 backends instead
// of guessing from the extension alone (spec.md §4.1, §9: probe the
// container rather than assume).
func probeMP4AudioTrack(r io.ReadSeeker) (mp4Track, error) {
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return mp4Track{}, drerrors.Wrap(drerrors.IoError, "seeking MP4 file", err)
	}

	moov, ok, err := findChildBox(r, 0, end, "moov")
	if err != nil {
		return mp4Track{}, err
	}
	if !ok {
		return mp4Track{}, drerrors.New(drerrors.FormatError, "MP4 file has no moov box")
	}

	var (
		result  mp4Track
		found   bool
		lastErr error
	)
	err = forEachChildBox(r, moov.bodyStart, moov.end, func(trak boxHeader) error {
		if found || trak.typ != "trak" {
			return nil
		}
		track, ok, terr := readTrakAudio(r, trak)
		if terr != nil {
			lastErr = terr
			return nil
		}
		if ok {
			result, found = track, true
		}
		return nil
	})
	if err != nil {
		return mp4Track{}, err
	}
	if !found {
		if lastErr != nil {
			return mp4Track{}, lastErr
		}
		return mp4Track{}, drerrors.New(drerrors.FormatError, "no supported audio track found in MP4 file")
	}
	return result, nil
}

// readTrakAudio descends trak -> mdia -> minf -> stbl and reports the
// track's sample table when its codec is one this module decodes. ok is
// false (with a nil error) when trak is a non-audio track, e.g. video.
func readTrakAudio(r io.ReadSeeker, trak boxHeader) (mp4Track, bool, error) {
	mdia, ok, err := findChildBox(r, trak.bodyStart, trak.end, "mdia")
	if err != nil || !ok {
		return mp4Track{}, false, err
	}
	minf, ok, err := findChildBox(r, mdia.bodyStart, mdia.end, "minf")
	if err != nil || !ok {
		return mp4Track{}, false, err
	}
	stbl, ok, err := findChildBox(r, minf.bodyStart, minf.end, "stbl")
	if err != nil || !ok {
		return mp4Track{}, false, err
	}

	codec, err := readStsdCodec(r, stbl)
	if err != nil {
		return mp4Track{}, false, err
	}
	if codec != "mp4a" && codec != "alac" {
		return mp4Track{}, false, nil
	}

	samples, err := readSampleTable(r, stbl)
	if err != nil {
		return mp4Track{}, false, err
	}
	return mp4Track{Codec: codec, Samples: samples}, true, nil
}

// readStsdCodec reads the four-character format of an stbl's first sample
// description entry (the codec fourcc, e.g. "mp4a" or "alac").
func readStsdCodec(r io.ReadSeeker, stbl boxHeader) (string, error) {
	stsd, ok, err := findChildBox(r, stbl.bodyStart, stbl.end, "stsd")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", drerrors.New(drerrors.FormatError, "MP4 track missing stsd box")
	}
	// FullBox header (version+flags, 4 bytes) + entry_count (4 bytes),
	// then the first sample entry's size (4 bytes) + format fourcc.
	if _, err := r.Seek(stsd.bodyStart+8, io.SeekStart); err != nil {
		return "", drerrors.Wrap(drerrors.IoError, "seeking stsd entry", err)
	}
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return "", drerrors.Wrap(drerrors.FormatError, "reading stsd sample entry", err)
	}
	return string(buf[4:8]), nil
}

func readSampleTable(r io.ReadSeeker, stbl boxHeader) ([]mp4Sample, error) {
	sizes, err := readStsz(r, stbl)
	if err != nil {
		return nil, err
	}
	chunkOffsets, err := readChunkOffsets(r, stbl)
	if err != nil {
		return nil, err
	}
	stsc, err := readStsc(r, stbl)
	if err != nil {
		return nil, err
	}
	return buildSampleOffsets(sizes, chunkOffsets, stsc)
}

// readStsz reads the per-sample byte sizes from stbl's stsz box. When the
// box specifies a single uniform sample_size, that value is replicated
// sample_count times so callers never special-case the uniform case.
func readStsz(r io.ReadSeeker, stbl boxHeader) ([]uint32, error) {
	box, ok, err := findChildBox(r, stbl.bodyStart, stbl.end, "stsz")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, drerrors.New(drerrors.FormatError, "MP4 track missing stsz box")
	}
	if _, err := r.Seek(box.bodyStart, io.SeekStart); err != nil {
		return nil, drerrors.Wrap(drerrors.IoError, "seeking stsz", err)
	}
	var hdr [12]byte // version+flags(4) + sample_size(4) + sample_count(4)
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, drerrors.Wrap(drerrors.FormatError, "reading stsz header", err)
	}
	sampleSize := binary.BigEndian.Uint32(hdr[4:8])
	sampleCount := binary.BigEndian.Uint32(hdr[8:12])

	sizes := make([]uint32, sampleCount)
	if sampleSize != 0 {
		for i := range sizes {
			sizes[i] = sampleSize
		}
		return sizes, nil
	}
	raw := make([]byte, int(sampleCount)*4)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, drerrors.Wrap(drerrors.FormatError, "reading stsz sample sizes", err)
	}
	for i := range sizes {
		sizes[i] = binary.BigEndian.Uint32(raw[i*4:])
	}
	return sizes, nil
}

// readChunkOffsets reads the chunk-to-file-offset table from stbl's stco
// (32-bit) or co64 (64-bit) box, whichever is present.
func readChunkOffsets(r io.ReadSeeker, stbl boxHeader) ([]int64, error) {
	if box, ok, err := findChildBox(r, stbl.bodyStart, stbl.end, "stco"); err != nil {
		return nil, err
	} else if ok {
		return readOffsetTable(r, box, 4)
	}
	if box, ok, err := findChildBox(r, stbl.bodyStart, stbl.end, "co64"); err != nil {
		return nil, err
	} else if ok {
		return readOffsetTable(r, box, 8)
	}
	return nil, drerrors.New(drerrors.FormatError, "MP4 track missing stco/co64 box")
}

func readOffsetTable(r io.ReadSeeker, box boxHeader, width int) ([]int64, error) {
	if _, err := r.Seek(box.bodyStart, io.SeekStart); err != nil {
		return nil, drerrors.Wrap(drerrors.IoError, "seeking chunk offset table", err)
	}
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, drerrors.Wrap(drerrors.FormatError, "reading chunk offset header", err)
	}
	count := binary.BigEndian.Uint32(hdr[4:8])
	raw := make([]byte, int(count)*width)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, drerrors.Wrap(drerrors.FormatError, "reading chunk offsets", err)
	}
	offsets := make([]int64, count)
	for i := range offsets {
		if width == 4 {
			offsets[i] = int64(binary.BigEndian.Uint32(raw[i*4:]))
		} else {
			offsets[i] = int64(binary.BigEndian.Uint64(raw[i*8:]))
		}
	}
	return offsets, nil
}

// stscEntry is one run from an stsc box: every chunk numbered >= firstChunk
// (until the next entry's firstChunk) holds samplesPerChunk samples.
type stscEntry struct {
	firstChunk      uint32
	samplesPerChunk uint32
}

func readStsc(r io.ReadSeeker, stbl boxHeader) ([]stscEntry, error) {
	box, ok, err := findChildBox(r, stbl.bodyStart, stbl.end, "stsc")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, drerrors.New(drerrors.FormatError, "MP4 track missing stsc box")
	}
	if _, err := r.Seek(box.bodyStart, io.SeekStart); err != nil {
		return nil, drerrors.Wrap(drerrors.IoError, "seeking stsc", err)
	}
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, drerrors.Wrap(drerrors.FormatError, "reading stsc header", err)
	}
	count := binary.BigEndian.Uint32(hdr[4:8])
	entries := make([]stscEntry, count)
	var raw [12]byte
	for i := range entries {
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return nil, drerrors.Wrap(drerrors.FormatError, "reading stsc entry", err)
		}
		entries[i] = stscEntry{
			firstChunk:      binary.BigEndian.Uint32(raw[0:4]),
			samplesPerChunk: binary.BigEndian.Uint32(raw[4:8]),
		}
	}
	if len(entries) == 0 {
		return nil, drerrors.New(drerrors.FormatError, "empty stsc table")
	}
	return entries, nil
}

// buildSampleOffsets reconstructs each sample's absolute file offset from
// the chunk offset table and the stsc run-length mapping of chunks to
// per-chunk sample counts (ISO/IEC 14496-12 §8.7.4's documented algorithm).
func buildSampleOffsets(sizes []uint32, chunkOffsets []int64, stsc []stscEntry) ([]mp4Sample, error) {
	samples := make([]mp4Sample, 0, len(sizes))
	sampleIdx := 0
	for chunkIdx := 0; chunkIdx < len(chunkOffsets) && sampleIdx < len(sizes); chunkIdx++ {
		chunkNum := uint32(chunkIdx + 1)
		samplesInChunk := samplesPerChunkFor(stsc, chunkNum)
		offset := chunkOffsets[chunkIdx]
		for i := uint32(0); i < samplesInChunk && sampleIdx < len(sizes); i++ {
			samples = append(samples, mp4Sample{Offset: offset, Size: sizes[sampleIdx]})
			offset += int64(sizes[sampleIdx])
			sampleIdx++
		}
	}
	if sampleIdx != len(sizes) {
		return nil, drerrors.New(drerrors.FormatError, "MP4 sample table chunk/size mismatch")
	}
	return samples, nil
}

func samplesPerChunkFor(entries []stscEntry, chunkNum uint32) uint32 {
	result := entries[0].samplesPerChunk
	for _, e := range entries {
		if e.firstChunk > chunkNum {
			break
		}
		result = e.samplesPerChunk
	}
	return result
}
