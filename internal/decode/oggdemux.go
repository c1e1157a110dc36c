package decode

import (
	"io"

	"github.com/linuxmatters/drmeter/internal/drerrors"
)

// No library in this corpus demuxes an Ogg-Opus container (jfreymuth's Ogg
// demuxer is internal to its Vorbis decoder); this is a minimal standard-
// library reader for the Ogg page format (RFC 3533) good enough to pull
// raw Opus packets out in order, which is all opus.go needs.
type oggPageReader struct {
	r       io.Reader
	pending []byte // partial packet spanning multiple pages
}

func newOggPageReader(r io.Reader) *oggPageReader {
	return &oggPageReader{r: r}
}

// nextPacket returns the next complete Ogg packet's payload, or (nil, io.EOF)
// at end of stream.
func (o *oggPageReader) nextPacket() ([]byte, error) {
	for {
		if len(o.pending) > 0 {
			p := o.pending
			o.pending = nil
			return p, nil
		}
		page, segments, err := o.readPage()
		if err != nil {
			return nil, err
		}
		o.splitSegments(page, segments)
		if len(o.pending) > 0 {
			p := o.pending
			o.pending = nil
			return p, nil
		}
	}
}

// readPage reads one Ogg page and returns its payload bytes plus the
// lacing-value segment table.
func (o *oggPageReader) readPage() ([]byte, []byte, error) {
	var hdr [27]byte
	if _, err := io.ReadFull(o.r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, nil, io.EOF
		}
		return nil, nil, err
	}
	if string(hdr[0:4]) != "OggS" {
		return nil, nil, drerrors.New(drerrors.FormatError, "invalid Ogg page capture pattern")
	}
	segCount := int(hdr[26])
	segTable := make([]byte, segCount)
	if _, err := io.ReadFull(o.r, segTable); err != nil {
		return nil, nil, drerrors.Wrap(drerrors.FormatError, "reading Ogg segment table", err)
	}
	total := 0
	for _, s := range segTable {
		total += int(s)
	}
	payload := make([]byte, total)
	if _, err := io.ReadFull(o.r, payload); err != nil {
		return nil, nil, drerrors.Wrap(drerrors.FormatError, "reading Ogg page payload", err)
	}
	return payload, segTable, nil
}

// splitSegments walks the lacing table, concatenating 255-byte segments
// into one packet (a packet ends at the first segment shorter than 255),
// and queues the last assembled packet into o.pending.
func (o *oggPageReader) splitSegments(payload []byte, segments []byte) {
	off := 0
	var current []byte
	for _, seg := range segments {
		n := int(seg)
		current = append(current, payload[off:off+n]...)
		off += n
		if n < 255 {
			o.pending = current
			current = nil
		}
	}
}
