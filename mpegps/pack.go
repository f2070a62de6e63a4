package mpegps

import "errors"

var errPackHeader = errors.New("mpegps: malformed pack header")

// parsePackHeader extracts the SCR (microseconds, no epoch offset) and the
// multiplex rate (units of 50 bytes/s) from a pack header. Both the MPEG-2
// layout ('01' marker, 14+ bytes) and the MPEG-1 layout ('0010' marker,
// 12 bytes) are handled. The 27MHz SCR extension is ignored; the 90kHz
// base is enough for clock reconciliation.
func parsePackHeader(p []byte) (scr int64, muxRate int, err error) {
	if len(p) >= 14 && p[4]>>6 == 0x01 {
		base := int64(p[4]>>3&0x07)<<30 |
			int64(p[4]&0x03)<<28 |
			int64(p[5])<<20 |
			int64(p[6]>>3&0x1F)<<15 |
			int64(p[6]&0x03)<<13 |
			int64(p[7])<<5 |
			int64(p[8]>>3)
		muxRate = int(p[10])<<14 | int(p[11])<<6 | int(p[12])>>2
		return base * 100 / 9, muxRate, nil
	}
	if len(p) >= 12 && p[4]>>4 == 0x02 {
		base := int64(p[4]>>1&0x07)<<30 |
			int64(p[5])<<22 |
			int64(p[6]>>1&0x7F)<<15 |
			int64(p[7])<<7 |
			int64(p[8]>>1)
		muxRate = int(p[9]&0x7F)<<15 | int(p[10])<<7 | int(p[11])>>1
		return base * 100 / 9, muxRate, nil
	}
	return 0, 0, errPackHeader
}

// parseSystemHeader walks the per-stream entries of a system header and
// pre-registers format hints for any elementary track it advertises. It
// does not mark tracks seen and does not create sinks; the dispatcher does
// that for tracks that already have payload.
func parseSystemHeader(p []byte, tk *[trackCount]track, m *streamMap) error {
	if len(p) < 12 {
		return errPackHeader
	}
	// 6-byte packet header plus 6 bytes of rate/bound fields, then
	// 3-byte stream entries flagged by the high bit.
	for i := 12; i+3 <= len(p) && p[i]&0x80 != 0; i += 3 {
		id := int(p[i])
		if id < 0xC0 || id > 0xEF {
			continue
		}
		idx := trackIndex(id)
		if idx < 0 {
			continue
		}
		t := &tk[idx]
		if t.fmt.Category == CategoryUnknown {
			if err := trackFill(t, m, id); err != nil {
				continue
			}
		}
	}
	return nil
}
