package mpegps

import "errors"

var errMalformedPSM = errors.New("mpegps: malformed program stream map")

// psmVersionUnseen marks a stream map that has never been received; real
// versions occupy 5 bits.
const psmVersionUnseen = 0xFFFF

// streamMap holds the in-band program-stream-map table: per elementary
// stream id, the declared stream_type used as a format hint.
type streamMap struct {
	version int
	types   map[byte]byte
}

func newStreamMap() streamMap {
	return streamMap{
		version: psmVersionUnseen,
		types:   make(map[byte]byte),
	}
}

// streamType returns the declared stream_type for an id, or 0.
func (m *streamMap) streamType(id byte) byte {
	return m.types[id]
}

// fill parses a program-stream-map packet into the table. A map whose
// version matches the current one is ignored; a version change replaces
// the table wholesale.
func (m *streamMap) fill(p []byte) error {
	if len(p) < 16 {
		return errMalformedPSM
	}
	if p[6]&0x80 == 0 {
		// current_next_indicator clear: the map is not yet applicable.
		return nil
	}
	version := int(p[6] & 0x1F)
	if version == m.version {
		return nil
	}

	psiLen := int(p[8])<<8 | int(p[9])
	o := 10 + psiLen
	if o+2 > len(p) {
		return errMalformedPSM
	}
	esLen := int(p[o])<<8 | int(p[o+1])
	o += 2
	end := o + esLen
	if end > len(p)-4 {
		// The 4 trailing bytes are the map's CRC32.
		end = len(p) - 4
	}

	types := make(map[byte]byte)
	for o+4 <= end {
		streamType, id := p[o], p[o+1]
		infoLen := int(p[o+2])<<8 | int(p[o+3])
		types[id] = streamType
		o += 4 + infoLen
	}

	m.types = types
	m.version = version
	return nil
}

// applyMap feeds a map packet to the table and re-resolves every seen
// track whose format the new hints change, recreating its sink so the
// downstream side observes the format switch.
func (d *Demuxer) applyMap(raw []byte) {
	if err := d.psm.fill(raw); err != nil {
		return
	}
	for i := range d.tk {
		tk := &d.tk[i]
		if !tk.seen || tk.id == 0 {
			continue
		}
		prev := tk.fmt
		if err := trackFill(tk, &d.psm, tk.id); err != nil {
			tk.fmt = prev
			continue
		}
		if tk.fmt.Codec == prev.Codec {
			continue
		}
		if tk.es != nil {
			d.out.Del(tk.es)
			tk.es = nil
		}
		if es, err := d.out.Add(tk.fmt); err == nil {
			tk.es = es
		}
	}
}
