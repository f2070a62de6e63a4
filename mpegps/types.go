// Package mpegps demuxes an MPEG Program Stream into elementary-stream
// packets with reconciled presentation timing. It resynchronizes on start
// codes after garbage, extracts packets, dispatches pack/system/map headers,
// tracks elementary streams in a fixed arena, validates the container clock
// against per-stream timestamps, and estimates stream length from a bounded
// head/tail scan.
package mpegps

import (
	"errors"

	"github.com/linky00/psrelay/media"
)

// System-level stream ids, the 4th byte of a start code.
const (
	StreamIDEnd       = 0xB9
	StreamIDPack      = 0xBA
	StreamIDSystem    = 0xBB
	StreamIDMap       = 0xBC
	StreamIDPrivate1  = 0xBD
	StreamIDPadding   = 0xBE
	StreamIDPrivate2  = 0xBF
	StreamIDExtended  = 0xFD
	StreamIDDirectory = 0xFF
)

// clockFreq is one second in the microsecond clock domain.
const clockFreq = 1_000_000

// clockEpoch offsets all valid timestamps so that 0 stays the "no
// timestamp" sentinel in derived arithmetic.
const clockEpoch = 1

// clockInvalid marks an SCR register holding no value.
const clockInvalid = -1

// Category classifies an elementary stream.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryAudio
	CategoryVideo
	CategorySubtitle
)

func (c Category) String() string {
	switch c {
	case CategoryAudio:
		return "audio"
	case CategoryVideo:
		return "video"
	case CategorySubtitle:
		return "subtitle"
	}
	return "unknown"
}

// Codec names carried in Format. Plain strings, matching the wire catalog.
const (
	CodecMPGV     = "mpgv"
	CodecMP4V     = "mp4v"
	CodecH264     = "h264"
	CodecHEVC     = "hevc"
	CodecMPGA     = "mpga"
	CodecAAC      = "aac"
	CodecA52      = "a52"
	CodecDTS      = "dts"
	CodecLPCM     = "lpcm"
	CodecMLP      = "mlp"
	CodecSPU      = "spu"
	CodecCVD      = "cvd"
	CodecOGT      = "ogt"
	CodecTeletext = "teletext"
)

// Format describes one elementary stream as resolved from its id and the
// current stream-map hints.
type Format struct {
	ID       int
	Codec    string
	Category Category
}

// TrackHandle is the opaque per-track handle returned by an Output.
type TrackHandle any

// Output is the sink a demux session delivers to. Add is called lazily,
// once per track, when its format first resolves; SetClock forwards the
// reconciled presentation clock at most once per elementary packet.
type Output interface {
	Add(f Format) (TrackHandle, error)
	Send(h TrackHandle, p *media.Packet)
	IsSelected(h TrackHandle) bool
	Del(h TrackHandle)
	SetClock(pts int64)
}

var (
	// ErrNotProgramStream is returned by NewDemuxer when the open-time
	// probe rejects the input.
	ErrNotProgramStream = errors.New("mpegps: not a program stream")

	// ErrUnsupported is returned by control queries the session or its
	// source cannot serve.
	ErrUnsupported = errors.New("mpegps: unsupported query")
)
