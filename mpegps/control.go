package mpegps

import (
	"fmt"

	"github.com/linky00/psrelay/source"
)

// CanSeek reports whether the session supports position and time seeking.
func (d *Demuxer) CanSeek() bool {
	return d.seekable
}

// Position returns the normalized byte position in [0,1], or 0 when the
// stream size is unknown.
func (d *Demuxer) Position() float64 {
	size := d.src.Size()
	if size <= 0 {
		return 0.0
	}
	return float64(d.src.Tell()) / float64(size)
}

// SetPosition seeks to fraction × size. Clock state is reset and every
// selected track is flagged for a discontinuity on success.
func (d *Demuxer) SetPosition(fraction float64) error {
	size := d.src.Size()
	d.currentPTS = 0
	d.lastSCR = clockInvalid

	if err := d.src.Seek(int64(float64(size) * fraction)); err != nil {
		return err
	}
	d.notifyDiscontinuity()
	return nil
}

// Time returns the elapsed presentation time in microseconds: high-water
// time relative to the anchor track when one exists, else a mux-rate
// estimate from the byte offset, else 0.
func (d *Demuxer) Time() int64 {
	if d.timeTrack >= 0 && d.currentPTS > 0 {
		return d.currentPTS - d.tk[d.timeTrack].firstPTS
	}
	if d.muxRate > 0 {
		return clockFreq * (d.src.Tell() / 50) / int64(d.muxRate)
	}
	return 0
}

// Length returns the stream duration in microseconds: the cached estimate
// when one was derived, else a mux-rate estimate from the total size,
// else 0.
func (d *Demuxer) Length() int64 {
	if d.length > 0 {
		return d.length
	}
	if d.muxRate > 0 && d.src.Size() > 0 {
		return clockFreq * (d.src.Size() / 50) / int64(d.muxRate)
	}
	return 0
}

// SetTime seeks to the byte offset proportional to target over the elapsed
// time. Without a timing anchor, or with zero elapsed time and a nonzero
// target, the request fails.
func (d *Demuxer) SetTime(target int64) error {
	if d.timeTrack < 0 || d.currentPTS <= 0 {
		return ErrUnsupported
	}
	now := d.currentPTS - d.tk[d.timeTrack].firstPTS
	if now == 0 {
		if target == 0 {
			return nil
		}
		return fmt.Errorf("mpegps: no elapsed time to scale from")
	}

	pos := d.src.Tell()
	d.currentPTS = 0
	d.lastSCR = clockInvalid

	if err := d.src.Seek(int64(float64(pos) * float64(target) / float64(now))); err != nil {
		return err
	}
	d.notifyDiscontinuity()
	return nil
}

// TitleInfo passes through to the source's title facility.
func (d *Demuxer) TitleInfo() ([]source.Title, error) {
	if t, ok := d.src.(source.Titled); ok {
		return t.TitleInfo()
	}
	return nil, ErrUnsupported
}

// SetTitle passes through to the source's title facility.
func (d *Demuxer) SetTitle(title int) error {
	if t, ok := d.src.(source.Titled); ok {
		return t.SetTitle(title)
	}
	return ErrUnsupported
}

// SetSeekpoint passes through to the source's title facility.
func (d *Demuxer) SetSeekpoint(seekpoint int) error {
	if t, ok := d.src.(source.Titled); ok {
		return t.SetSeekpoint(seekpoint)
	}
	return ErrUnsupported
}

// Metadata passes through to the source's metadata facility.
func (d *Demuxer) Metadata() (map[string]string, error) {
	if t, ok := d.src.(source.Titled); ok {
		return t.Metadata()
	}
	return nil, ErrUnsupported
}
