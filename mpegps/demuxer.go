package mpegps

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/linky00/psrelay/media"
	"github.com/linky00/psrelay/source"
)

// packetProbeCount is how many consecutive well-formed packet headers the
// open-time probe requires before accepting the input.
const packetProbeCount = 3

// Demuxer is one Program Stream demux session. It is pull-driven: the
// consumer repeatedly calls Step, each call performing at most one
// resynchronization attempt or one full packet dispatch. The session is
// not reentrant; concurrent Step calls must be serialized by the caller.
type Demuxer struct {
	log *slog.Logger
	src source.Source
	out Output

	psm streamMap
	tk  [trackCount]track

	// scr is the pending pack-header clock for the next elementary
	// packet; it is forwarded at most once and cleared afterward.
	scr        int64
	lastSCR    int64
	muxRate    int
	length     int64
	timeTrack  int
	currentPTS int64

	aobMLPCount int

	lostSync bool
	havePack bool
	badSCR   bool
	seekable bool
	cdxa     bool

	force           bool
	trustTimestamps bool

	padPrecheck func(win []byte) int
}

// DemuxerOptForce skips the open-time probe, accepting input that does not
// look like a Program Stream.
func DemuxerOptForce() func(*Demuxer) {
	return func(d *Demuxer) {
		d.force = true
	}
}

// DemuxerOptTrustTimestamps controls whether embedded timestamps drive
// duration and position (default true). Disabled, the session falls back
// to mux-rate arithmetic.
func DemuxerOptTrustTimestamps(trust bool) func(*Demuxer) {
	return func(d *Demuxer) {
		d.trustTimestamps = trust
	}
}

// DemuxerOptLogger sets the session logger. Defaults to slog.Default().
func DemuxerOptLogger(log *slog.Logger) func(*Demuxer) {
	return func(d *Demuxer) {
		d.log = log
	}
}

// NewDemuxer probes src and creates a demux session delivering elementary
// packets to out. The probe peeks a RIFF/CDXA signature (enabling the CDXA
// padding pre-check) or requires packetProbeCount consecutive well-formed
// packet headers; DemuxerOptForce skips it.
func NewDemuxer(src source.Source, out Output, opts ...func(*Demuxer)) (*Demuxer, error) {
	d := &Demuxer{
		log:             slog.Default(),
		src:             src,
		out:             out,
		psm:             newStreamMap(),
		scr:             clockInvalid,
		lastSCR:         clockInvalid,
		length:          -1,
		timeTrack:       -1,
		trustTimestamps: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With("component", "ps-demuxer")
	for i := range d.tk {
		d.tk[i].firstPTS = clockInvalid
		d.tk[i].lastPTS = clockInvalid
	}

	peek, err := src.Peek(16)
	if err != nil {
		return nil, fmt.Errorf("mpegps: peek: %w", err)
	}
	if len(peek) < 16 {
		return nil, fmt.Errorf("mpegps: cannot peek stream header")
	}

	switch {
	case bytes.Equal(peek[0:4], []byte("RIFF")) && bytes.Equal(peek[8:12], []byte("CDXA")):
		d.cdxa = true
		d.padPrecheck = cdxaPadding
		d.log.Info("detected CDXA-PS")
	case d.force:
		d.log.Warn("this does not look like an MPEG PS stream, continuing anyway")
	default:
		offset := 0
		for i := 0; i < packetProbeCount; i++ {
			if len(peek) < offset+16 {
				peek, err = src.Peek(offset + 16)
				if err != nil || len(peek) < offset+16 {
					return nil, ErrNotProgramStream
				}
			}
			h := peek[offset:]
			if h[0] != 0x00 || h[1] != 0x00 || h[2] != 0x01 || !probeID(h[3]) {
				return nil, ErrNotProgramStream
			}
			size := pktSize(h)
			if size < 5 {
				return nil, ErrNotProgramStream
			}
			offset += size
		}
	}

	d.seekable = src.Seekable()
	return d, nil
}

// probeID accepts the system ids (0xB9-0xBF), elementary ids, and the
// directory id as plausible first packets.
func probeID(id byte) bool {
	return id&0xB0 == 0xB0 || (id >= 0xC0 && id <= 0xEF) || id == 0xFF
}

// Close releases every seen track's sink. The session must not be stepped
// afterward.
func (d *Demuxer) Close() {
	for i := range d.tk {
		tk := &d.tk[i]
		if tk.seen && tk.es != nil {
			d.out.Del(tk.es)
			tk.es = nil
		}
	}
}

// Step advances the session by one resynchronization attempt or one packet
// dispatch. It returns io.EOF when the stream is exhausted; a nil return
// means progress was made (possibly only garbage consumption).
func (d *Demuxer) Step() error {
	st, err := d.resynch(d.havePack)
	if err != nil {
		return err
	}
	if st == syncLost {
		if !d.lostSync {
			d.log.Warn("garbage at input, trying to resync", "offset", d.src.Tell())
			d.notifyDiscontinuity()
		}
		d.lostSync = true
		return nil
	}
	if d.lostSync {
		d.log.Warn("found sync code")
		d.lostSync = false
	}

	if d.length < 0 && d.seekable {
		if err := d.findLength(); err != nil {
			return err
		}
	}

	raw, err := d.readPacket()
	if err != nil {
		return err
	}
	if len(raw) < 4 {
		return nil
	}

	switch id := raw[3]; id {
	case StreamIDEnd:
		// No state change.

	case StreamIDPack:
		if scr, rate, err := parsePackHeader(raw); err == nil {
			d.scr = scr
			d.lastSCR = scr
			d.havePack = true
			// Clock propagation is deferred to the elementary path
			// to tolerate muxers that emit pack headers out of
			// order relative to payload.
			if rate > 0 {
				d.muxRate = rate
			}
		}

	case StreamIDSystem:
		if err := parseSystemHeader(raw, &d.tk, &d.psm); err == nil {
			for i := range d.tk {
				tk := &d.tk[i]
				if tk.seen && tk.es == nil && tk.fmt.Category != CategoryUnknown {
					if es, err := d.out.Add(tk.fmt); err == nil {
						tk.es = es
					}
				}
			}
		}

	case StreamIDMap:
		if d.psm.version == psmVersionUnseen {
			d.log.Debug("contains a PSM")
		}
		d.applyMap(raw)

	default:
		if (id >= 0xC0 && id <= 0xEF) || id == StreamIDPrivate1 {
			d.handleElementary(raw)
		}
	}
	return nil
}

// handleElementary runs the elementary-stream path: logical-id derivation,
// lazy track/sink setup, clock reconciliation, PES parse, and delivery.
func (d *Demuxer) handleElementary(raw []byte) {
	id := pktID(raw)

	// MLP from AOB discs appears under an id overlapping a regular
	// private sub-stream. Sustained sightings of the placeholder id bias
	// the overlap toward MLP; contradictory evidence decays the bias.
	// Best-effort compatibility heuristic, not a protocol rule.
	if id == aobMLPPlaceholderID && d.aobMLPCount < aobMLPCountMax {
		d.aobMLPCount++
	} else if id == aobMLPOverlapID && d.aobMLPCount > 0 {
		d.aobMLPCount--
		id = aobMLPPlaceholderID
	}

	idx := trackIndex(id)
	if idx < 0 {
		return
	}
	tk := &d.tk[idx]

	isNew := false
	if !tk.seen {
		if err := trackFill(tk, &d.psm, id); err == nil {
			if es, err := d.out.Add(tk.fmt); err == nil {
				tk.es = es
				isNew = true
			}
		} else {
			d.log.Debug("es format unknown", "id", fmt.Sprintf("0x%x", id))
		}
		tk.seen = true
	}

	// The popular VCD/SVCD subtitling tool WinSubMux does not renumber
	// SCRs when merging subtitles into the PES; never trust the clock on
	// these streams.
	if tk.fmt.Codec == CodecCVD || tk.fmt.Codec == CodecOGT {
		d.scr = clockInvalid
		d.lastSCR = clockInvalid
	}

	if d.scr >= 0 && !d.badSCR {
		if (tk.fmt.Category == CategoryAudio || tk.fmt.Category == CategoryVideo) &&
			tk.firstPTS > 0 && tk.firstPTS-d.scr > clockFreq {
			d.log.Warn("incorrect SCR timing offset, disabling",
				"offset_ms", (tk.firstPTS-d.scr)/1000)
			d.badSCR = true
		} else {
			d.out.SetClock(clockEpoch + d.scr)
		}
	}

	pts, dts, skip, perr := parsePESHeader(raw)
	total := skip + tk.skip
	if tk.es != nil && perr == nil && total < len(raw) {
		if (tk.fmt.Category == CategoryAudio || tk.fmt.Category == CategoryVideo) &&
			!d.badSCR && d.scr > 0 && pts > 0 && d.scr > pts+clockFreq/4 {
			d.log.Warn("incorrect SCR timing in advance, disabling",
				"advance_ms", (d.scr-pts)/1000)
			d.badSCR = true
		}

		if ((!isNew && !d.havePack) || d.badSCR) &&
			tk.fmt.Category == CategoryAudio && pts > 0 {
			// Keeps A/V loosely synced on raw PES files that carry
			// no pack headers at all.
			d.log.Debug("force SCR", "pts", pts)
			d.out.SetClock(pts)
		}

		if tk.fmt.Codec == CodecTeletext && pts <= 0 && d.lastSCR >= 0 {
			// Teletext may omit the PTS (ETSI EN 300 472 Annex A);
			// synthesize from the last SCR plus one 25Hz frame.
			pts = clockEpoch + d.lastSCR + 40_000
		}

		if pts > d.currentPTS {
			d.currentPTS = pts
		}

		p := &media.Packet{Data: raw[total:], PTS: pts, DTS: dts}
		if tk.nextDiscontinuity {
			p.Discontinuity = true
			tk.nextDiscontinuity = false
		}
		d.out.Send(tk.es, p)
	}

	d.scr = clockInvalid
}

// notifyDiscontinuity flags every selected track so its next delivered
// packet carries the discontinuity marker.
func (d *Demuxer) notifyDiscontinuity() {
	for i := range d.tk {
		tk := &d.tk[i]
		if tk.seen && tk.es != nil && d.out.IsSelected(tk.es) {
			tk.nextDiscontinuity = true
		}
	}
}

// TrackInfo is a read-only snapshot of one seen track.
type TrackInfo struct {
	Format   Format
	FirstPTS int64
	LastPTS  int64
}

// Tracks returns a snapshot of every track that has been observed.
func (d *Demuxer) Tracks() []TrackInfo {
	var out []TrackInfo
	for i := range d.tk {
		tk := &d.tk[i]
		if !tk.seen && tk.firstPTS < 0 && tk.lastPTS < 0 {
			continue
		}
		out = append(out, TrackInfo{
			Format:   tk.fmt,
			FirstPTS: tk.firstPTS,
			LastPTS:  tk.lastPTS,
		})
	}
	return out
}
