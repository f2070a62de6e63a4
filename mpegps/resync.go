package mpegps

import (
	"bytes"
	"io"
)

// resyncWindow bounds how many bytes one resynchronization attempt may
// scan, keeping recovery cost fixed under pure garbage input.
const resyncWindow = 512

type syncStatus int

const (
	// syncFound: the cursor now sits at a qualifying start code.
	syncFound syncStatus = iota
	// syncLost: the whole window was garbage; it has been consumed and
	// the caller should retry.
	syncLost
)

// cdxaSyncSignature follows a 20-zero-byte run at the head of a CDXA
// sector padding block.
var cdxaSyncSignature = []byte{
	0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00,
}

// cdxaPadding reports the size of the CDXA padding+CRC block at the start
// of win, or 0. These blocks emulate start codes with bogus PES sizes, so
// the resynchronizer skips them whole instead of treating them as garbage.
func cdxaPadding(win []byte) int {
	if len(win) < 48 {
		return 0
	}
	i := 0
	for i < 24 && win[i] == 0 {
		i++
	}
	if i != 20 {
		return 0
	}
	if !bytes.Equal(win[24:36], cdxaSyncSignature) {
		return 0
	}
	return 48
}

// resynch advances the source to the next qualifying start code. With
// requirePack set, only a pack header start code qualifies (used right
// after the first pack is established, so mid-packet emulations of other
// codes cannot hijack the stream). It never scans more than resyncWindow
// bytes per call; io.EOF means not enough bytes remain to ever match.
func (d *Demuxer) resynch(requirePack bool) (syncStatus, error) {
	peek, err := d.src.Peek(4)
	if err != nil {
		return 0, err
	}
	if len(peek) < 4 {
		return 0, io.EOF
	}
	if peek[0] == 0x00 && peek[1] == 0x00 && peek[2] == 0x01 && peek[3] >= StreamIDEnd {
		return syncFound, nil
	}

	win, err := d.src.Peek(resyncWindow)
	if err != nil {
		return 0, err
	}
	if len(win) < 4 {
		return 0, io.EOF
	}

	total := len(win)
	skip := 0
	for len(win) >= 4 {
		if skip == 0 && d.padPrecheck != nil {
			if n := d.padPrecheck(win); n > 0 {
				win = win[n:]
				skip += n
				continue
			}
		}
		if win[0] == 0x00 && win[1] == 0x00 && win[2] == 0x01 && win[3] >= StreamIDEnd &&
			(!requirePack || win[3] == StreamIDPack) {
			if n, err := d.src.Skip(skip); err != nil || n != skip {
				return 0, io.EOF
			}
			return syncFound, nil
		}
		win = win[1:]
		skip++
	}

	// Window exhausted: consume all of it and report no progress.
	if n, err := d.src.Skip(total); err != nil || n != total {
		return 0, io.EOF
	}
	return syncLost, nil
}
