// Package distribution implements the QUIC-based viewer delivery layer:
// a per-stream fan-out relay fed by the demux pipeline, a varint-framed
// wire codec for track and packet records, and the QUIC server that ties
// them together.
package distribution

import (
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"

	"github.com/linky00/psrelay/media"
	"github.com/linky00/psrelay/mpegps"
)

// Wire record types. Each record on a viewer stream starts with a varint
// type, followed by type-specific varint fields.
const (
	recAddTrack uint64 = 1
	recDelTrack uint64 = 2
	recClock    uint64 = 3
	recPacket   uint64 = 4
)

// Discontinuity flag on packet records.
const packetFlagDiscontinuity uint64 = 0x1

// Record is one decoded wire record. Exactly the fields for its Type are
// meaningful.
type Record struct {
	Type    uint64
	TrackID uint64

	// AddTrack
	Codec    string
	Category string

	// Clock / Packet timing, microseconds. 0 means unset.
	PTS uint64
	DTS uint64

	// Packet
	Discontinuity bool
	Payload       []byte
}

func appendString(b []byte, s string) []byte {
	b = quicvarint.Append(b, uint64(len(s)))
	return append(b, s...)
}

// encodeAddTrack frames a track announcement: id, codec, category.
func encodeAddTrack(trackID uint64, f mpegps.Format) []byte {
	var b []byte
	b = quicvarint.Append(b, recAddTrack)
	b = quicvarint.Append(b, trackID)
	b = appendString(b, f.Codec)
	b = appendString(b, f.Category.String())
	return b
}

// encodeDelTrack frames a track removal.
func encodeDelTrack(trackID uint64) []byte {
	var b []byte
	b = quicvarint.Append(b, recDelTrack)
	b = quicvarint.Append(b, trackID)
	return b
}

// encodeClock frames a program clock sample.
func encodeClock(pts int64) []byte {
	var b []byte
	b = quicvarint.Append(b, recClock)
	b = quicvarint.Append(b, uint64(pts))
	return b
}

// encodePacket frames one elementary packet: id, flags, PTS, DTS, payload.
func encodePacket(trackID uint64, p *media.Packet) []byte {
	var flags uint64
	if p.Discontinuity {
		flags |= packetFlagDiscontinuity
	}
	b := make([]byte, 0, len(p.Data)+32)
	b = quicvarint.Append(b, recPacket)
	b = quicvarint.Append(b, trackID)
	b = quicvarint.Append(b, flags)
	b = quicvarint.Append(b, uint64(max64(p.PTS, 0)))
	b = quicvarint.Append(b, uint64(max64(p.DTS, 0)))
	b = quicvarint.Append(b, uint64(len(p.Data)))
	return append(b, p.Data...)
}

func max64(v, floor int64) int64 {
	if v < floor {
		return floor
	}
	return v
}

// maxPayloadSize caps the declared payload length a reader will accept,
// bounding allocation on a corrupt or hostile stream.
const maxPayloadSize = 1 << 22

func readString(r quicvarint.Reader) (string, error) {
	n, err := quicvarint.Read(r)
	if err != nil {
		return "", err
	}
	if n > 256 {
		return "", fmt.Errorf("distribution: string field too long: %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// ReadRecord decodes the next record from a viewer stream. It is the
// client-side counterpart of the relay's framing and returns io.EOF at a
// clean record boundary.
func ReadRecord(r quicvarint.Reader) (Record, error) {
	var rec Record
	typ, err := quicvarint.Read(r)
	if err != nil {
		return rec, err
	}
	rec.Type = typ

	switch typ {
	case recAddTrack:
		if rec.TrackID, err = quicvarint.Read(r); err != nil {
			return rec, err
		}
		if rec.Codec, err = readString(r); err != nil {
			return rec, err
		}
		if rec.Category, err = readString(r); err != nil {
			return rec, err
		}

	case recDelTrack:
		if rec.TrackID, err = quicvarint.Read(r); err != nil {
			return rec, err
		}

	case recClock:
		if rec.PTS, err = quicvarint.Read(r); err != nil {
			return rec, err
		}

	case recPacket:
		if rec.TrackID, err = quicvarint.Read(r); err != nil {
			return rec, err
		}
		flags, err := quicvarint.Read(r)
		if err != nil {
			return rec, err
		}
		rec.Discontinuity = flags&packetFlagDiscontinuity != 0
		if rec.PTS, err = quicvarint.Read(r); err != nil {
			return rec, err
		}
		if rec.DTS, err = quicvarint.Read(r); err != nil {
			return rec, err
		}
		n, err := quicvarint.Read(r)
		if err != nil {
			return rec, err
		}
		if n > maxPayloadSize {
			return rec, fmt.Errorf("distribution: payload too large: %d", n)
		}
		rec.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, rec.Payload); err != nil {
			return rec, err
		}

	default:
		return rec, fmt.Errorf("distribution: unknown record type %d", typ)
	}
	return rec, nil
}
