package mpegps

import "io"

// pktSize returns the declared byte length of the packet whose header
// starts at p, or -1 if the header bytes available cannot determine it.
// Pack headers are self-sized (MPEG-2: 14 plus stuffing, MPEG-1: 12);
// everything else carries a 16-bit length after the start code.
func pktSize(p []byte) int {
	if len(p) < 4 {
		return -1
	}
	switch p[3] {
	case StreamIDEnd:
		return 4
	case StreamIDPack:
		if len(p) >= 14 && p[4]>>6 == 0x01 {
			return 14 + int(p[13]&0x07)
		}
		if len(p) >= 5 && p[4]>>4 == 0x02 {
			return 12
		}
		return -1
	default:
		if len(p) >= 6 {
			return 6 + (int(p[4])<<8 | int(p[5]))
		}
		return -1
	}
}

// AOB audio ids used by the MLP detection hysteresis. The placeholder id
// is produced by the private-stream extension mapping below; the
// overlapping id is the raw private-stream-1 sub-id it can masquerade as.
const (
	aobMLPPlaceholderID = 0xA001
	aobMLPOverlapID     = 0xBDA1
	aobMLPCountMax      = 500
)

// pktID resolves the logical track id of an elementary packet. One-byte
// ids are returned as-is. Private stream 1 carries its real sub-stream id
// in the first payload byte after the PES header (returned as 0xBD00|sub);
// AOB audio wraps LPCM/MLP in an extension whose sub-ids 0xC0-0xCF map to
// 0xA000|(sub&0x1F). Malformed private packets resolve to -1.
func pktID(p []byte) int {
	if len(p) < 4 {
		return -1
	}
	if p[3] != StreamIDPrivate1 {
		return int(p[3])
	}
	if len(p) < 9 || len(p) <= 9+int(p[8]) {
		return -1
	}
	sub := int(p[9+int(p[8])])
	if sub >= 0xC0 && sub <= 0xCF {
		return 0xA000 | (sub & 0x1F)
	}
	return 0xBD00 | sub
}

// readPacket extracts one complete packet from the source, which must sit
// at a valid start code. Packets declaring no usable length (legacy MPEG-1
// system streams) are sized by scanning forward for the next start code in
// growing windows.
func (d *Demuxer) readPacket() ([]byte, error) {
	peek, err := d.src.Peek(14)
	if err != nil {
		return nil, err
	}
	if len(peek) < 4 {
		return nil, io.EOF
	}

	size := pktSize(peek)
	if size <= 6 && peek[3] > StreamIDPack {
		// No usable declared length: the payload runs to the next
		// start code.
		size = 6
		for {
			win, err := d.src.Peek(size + 1024)
			if err != nil {
				return nil, err
			}
			if len(win) <= size+4 {
				return nil, io.EOF
			}
			for size <= len(win)-4 {
				if win[size] == 0x00 && win[size+1] == 0x00 &&
					win[size+2] == 0x01 && win[size+3] >= StreamIDEnd {
					return d.src.ReadBlock(size)
				}
				size++
			}
		}
	}

	if size < 4 {
		return nil, io.EOF
	}
	blk, err := d.src.ReadBlock(size)
	if err != nil {
		return nil, io.EOF
	}
	return blk, nil
}
