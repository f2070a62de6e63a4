package mpegps

import (
	"bytes"

	"github.com/linky00/psrelay/media"
)

// ts5 encodes a 33-bit 90kHz timestamp in the 5-byte marker layout used by
// PES headers and MPEG-1 packets. prefix supplies the top nibble.
func ts5(prefix byte, v int64) []byte {
	return []byte{
		prefix&0xF0 | byte(v>>30&0x07)<<1 | 1,
		byte(v >> 22),
		byte(v>>15&0x7F)<<1 | 1,
		byte(v >> 7),
		byte(v&0x7F)<<1 | 1,
	}
}

// packMPEG2 builds a 14-byte MPEG-2 pack header carrying a 90kHz SCR base
// and a mux rate in units of 50 bytes/s.
func packMPEG2(scr90 int64, muxRate int) []byte {
	b := make([]byte, 14)
	b[0], b[1], b[2], b[3] = 0x00, 0x00, 0x01, StreamIDPack
	b[4] = 0x44 | byte(scr90>>30&0x07)<<3 | byte(scr90>>28&0x03)
	b[5] = byte(scr90 >> 20)
	b[6] = 0x04 | byte(scr90>>15&0x1F)<<3 | byte(scr90>>13&0x03)
	b[7] = byte(scr90 >> 5)
	b[8] = byte(scr90&0x1F)<<3 | 0x04
	b[9] = 0x01
	b[10] = byte(muxRate >> 14)
	b[11] = byte(muxRate >> 6)
	b[12] = byte(muxRate&0x3F)<<2 | 0x03
	b[13] = 0xF8
	return b
}

// pesMPEG2 builds an MPEG-2 PES packet. Pass pts90 (and dts90) as -1 to
// omit the timestamp.
func pesMPEG2(id byte, pts90, dts90 int64, payload []byte) []byte {
	var flags byte
	var hdr []byte
	if pts90 >= 0 && dts90 >= 0 {
		flags = 0xC0
		hdr = append(ts5(0x30, pts90), ts5(0x10, dts90)...)
	} else if pts90 >= 0 {
		flags = 0x80
		hdr = ts5(0x20, pts90)
	}
	n := 3 + len(hdr) + len(payload)
	b := []byte{0x00, 0x00, 0x01, id, byte(n >> 8), byte(n), 0x80, flags, byte(len(hdr))}
	b = append(b, hdr...)
	return append(b, payload...)
}

// pesPrivate1 builds a private-stream-1 PES packet whose payload starts
// with the sub-stream id.
func pesPrivate1(sub byte, pts90 int64, payload []byte) []byte {
	body := append([]byte{sub}, payload...)
	return pesMPEG2(StreamIDPrivate1, pts90, -1, body)
}

// systemHeader builds a system header advertising the given stream ids.
func systemHeader(ids ...byte) []byte {
	body := []byte{0x80, 0x00, 0x01, 0x04, 0xA1, 0x7F}
	for _, id := range ids {
		body = append(body, id, 0xC0, 0x20)
	}
	pkt := []byte{0x00, 0x00, 0x01, StreamIDSystem, byte(len(body) >> 8), byte(len(body))}
	return append(pkt, body...)
}

// psmPacket builds a program stream map with the given stream_type-per-id
// entries and a trailing CRC placeholder.
func psmPacket(version byte, entries [][2]byte) []byte {
	var es []byte
	for _, e := range entries {
		es = append(es, e[1], e[0], 0x00, 0x00)
	}
	body := []byte{0x80 | version&0x1F, 0xFF, 0x00, 0x00}
	body = append(body, byte(len(es)>>8), byte(len(es)))
	body = append(body, es...)
	body = append(body, 0x00, 0x00, 0x00, 0x00)
	pkt := []byte{0x00, 0x00, 0x01, StreamIDMap, byte(len(body) >> 8), byte(len(body))}
	return append(pkt, body...)
}

func concat(parts ...[]byte) []byte {
	var b bytes.Buffer
	for _, p := range parts {
		b.Write(p)
	}
	return b.Bytes()
}

// sinkTrack records everything delivered for one added track.
type sinkTrack struct {
	fmt     Format
	packets []*media.Packet
	deleted bool
}

// testSink is an in-memory Output capturing track adds, packets, and clock
// samples.
type testSink struct {
	tracks []*sinkTrack
	clocks []int64
}

func (s *testSink) Add(f Format) (TrackHandle, error) {
	st := &sinkTrack{fmt: f}
	s.tracks = append(s.tracks, st)
	return st, nil
}

func (s *testSink) Send(h TrackHandle, p *media.Packet) {
	h.(*sinkTrack).packets = append(h.(*sinkTrack).packets, p)
}

func (s *testSink) IsSelected(TrackHandle) bool { return true }

func (s *testSink) Del(h TrackHandle) {
	h.(*sinkTrack).deleted = true
}

func (s *testSink) SetClock(pts int64) {
	s.clocks = append(s.clocks, pts)
}

// byCodec returns the first live track added with the given codec.
func (s *testSink) byCodec(codec string) *sinkTrack {
	for _, t := range s.tracks {
		if t.fmt.Codec == codec && !t.deleted {
			return t
		}
	}
	return nil
}
