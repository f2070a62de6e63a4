package mpegps

import "fmt"

// Length-estimation bounds: a short replay at the stream head anchors each
// track's first timestamp, a longer replay over a bounded tail window finds
// the maxima. Fixed constants, matching the reference behavior.
const (
	lengthHeadSteps  = 40
	lengthTailSteps  = 400
	lengthTailWindow = 200000
)

// scanStep is the reduced advance step used by the length estimator: same
// resynchronization and extraction as Step, but the only state it touches
// is per-track timing (first timestamps in head mode, maxima in tail mode)
// and the have-pack flag. Nothing is delivered to sinks.
func (d *Demuxer) scanStep(tail bool) error {
	st, err := d.resynch(d.havePack)
	if err != nil {
		return err
	}
	if st == syncLost {
		if !d.lostSync {
			d.log.Warn("garbage at input, trying to resync", "offset", d.src.Tell())
		}
		d.lostSync = true
		return nil
	}
	if d.lostSync {
		d.log.Warn("found sync code")
		d.lostSync = false
	}

	raw, err := d.readPacket()
	if err != nil {
		return err
	}

	if id := pktID(raw); id >= 0xC0 {
		if idx := trackIndex(id); idx >= 0 {
			tk := &d.tk[idx]
			pts, _, skip, perr := parsePESHeader(raw)
			if perr == nil && skip+tk.skip <= len(raw) && pts > 0 {
				if tail && pts > tk.lastPTS {
					tk.lastPTS = pts
				} else if tk.firstPTS < 0 {
					tk.firstPTS = pts
				}
			}
		}
	}
	if len(raw) >= 4 && raw[3] == StreamIDPack {
		d.havePack = true
	}
	return nil
}

// findLength derives the stream duration from embedded timestamps. It runs
// once; the result (≥0) is cached for the session. With timestamp trust
// disabled it succeeds immediately, leaving the length unknown so control
// queries fall back to mux-rate arithmetic. A failed seek or restore is a
// hard failure of the calling step.
func (d *Demuxer) findLength() error {
	if !d.trustTimestamps {
		return nil
	}
	if d.length >= 0 {
		return nil
	}
	d.length = 0

	pos := d.src.Tell()
	for i := 0; i < lengthHeadSteps; i++ {
		if d.scanStep(false) != nil {
			break
		}
	}

	size := d.src.Size()
	tail := size
	if tail > lengthTailWindow {
		tail = lengthTailWindow
	}
	if tail < 0 {
		tail = 0
	}
	if err := d.src.Seek(size - tail); err != nil {
		return fmt.Errorf("mpegps: length scan seek: %w", err)
	}
	for i := 0; i < lengthTailSteps; i++ {
		if d.scanStep(true) != nil {
			break
		}
	}
	if err := d.src.Seek(pos); err != nil {
		return fmt.Errorf("mpegps: length scan restore: %w", err)
	}

	for i := range d.tk {
		tk := &d.tk[i]
		if tk.lastPTS > 0 && tk.lastPTS > tk.firstPTS {
			if span := tk.lastPTS - tk.firstPTS; span > d.length {
				d.length = span
				d.timeTrack = i
				d.log.Debug("found stream length", "seconds", span/clockFreq)
			}
		}
	}
	return nil
}
