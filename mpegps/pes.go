package mpegps

import "errors"

var errPESHeader = errors.New("mpegps: malformed PES header")

// ptsUS decodes the 33-bit 90kHz timestamp spread over 5 bytes and returns
// it in microseconds, offset by the clock epoch.
func ptsUS(b []byte) int64 {
	v := int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1&0x7F)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1)
	return clockEpoch + v*100/9
}

// parsePESHeader parses the PES header at the start of p, handling both
// the MPEG-2 layout (flag bytes plus explicit header length) and the
// MPEG-1 layout (stuffing run, optional STD buffer field, then inline
// timestamp markers). It returns the decoded timestamps (0 when absent)
// and the byte offset where the payload begins.
func parsePESHeader(p []byte) (pts, dts int64, skip int, err error) {
	if len(p) < 7 {
		return 0, 0, 0, errPESHeader
	}

	if p[6]&0xC0 == 0x80 {
		// MPEG-2
		if len(p) < 9 {
			return 0, 0, 0, errPESHeader
		}
		skip = 9 + int(p[8])
		flags := p[7] >> 6
		if flags&0x2 != 0 && len(p) >= 14 {
			pts = ptsUS(p[9:14])
		}
		if flags == 0x3 && len(p) >= 19 {
			dts = ptsUS(p[14:19])
		}
		return pts, dts, skip, nil
	}

	// MPEG-1
	skip = 6
	for skip < 23 && skip < len(p) && p[skip] == 0xFF {
		skip++
	}
	if skip == 23 || skip >= len(p) {
		return 0, 0, 0, errPESHeader
	}
	if p[skip]&0xC0 == 0x40 {
		skip += 2
		if skip >= len(p) {
			return 0, 0, 0, errPESHeader
		}
	}
	switch {
	case p[skip]&0xF0 == 0x20:
		if len(p) < skip+5 {
			return 0, 0, 0, errPESHeader
		}
		pts = ptsUS(p[skip : skip+5])
		skip += 5
	case p[skip]&0xF0 == 0x30:
		if len(p) < skip+10 {
			return 0, 0, 0, errPESHeader
		}
		pts = ptsUS(p[skip : skip+5])
		dts = ptsUS(p[skip+5 : skip+10])
		skip += 10
	case p[skip] == 0x0F:
		skip++
	default:
		return 0, 0, 0, errPESHeader
	}
	return pts, dts, skip, nil
}
