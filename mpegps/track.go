package mpegps

import "errors"

var errUnknownFormat = errors.New("mpegps: unknown stream format")

// trackCount sizes the track arena: 64 slots for one-byte ids plus 256
// slots shared by all two-byte ids.
const trackCount = 512

// trackIndex maps a logical stream id to its arena slot. One-byte ids
// (0xC0-0xFF) occupy slots 0-63; two-byte ids (0xBDxx, 0xA0xx) collapse by
// their low byte into slots 196-451, so distinct prefixes with equal low
// bytes share a slot. The collapse reproduces the reference layout and
// keeps lookup O(1) on a fixed arena. Returns -1 for ids outside either
// range.
func trackIndex(id int) int {
	if id < 0 {
		return -1
	}
	if id <= 0xFF {
		if id < 0xC0 {
			return -1
		}
		return id - 0xC0
	}
	return (id & 0xFF) + (256 - 0xC0)
}

// track is one elementary-stream slot. firstPTS is set at most once (by
// the head scan of the length estimator); lastPTS only rises, and only
// during the tail scan.
type track struct {
	id   int
	fmt  Format
	es   TrackHandle
	seen bool
	// skip is the extra payload offset past the PES header: sub-stream
	// id and codec framing bytes for private-stream formats.
	skip              int
	firstPTS          int64
	lastPTS           int64
	nextDiscontinuity bool
}

// PSM stream_type values that refine the default id-based resolution.
const (
	streamTypeMPEG1Video = 0x01
	streamTypeMPEG2Video = 0x02
	streamTypeMPEG1Audio = 0x03
	streamTypeMPEG2Audio = 0x04
	streamTypeAAC        = 0x0F
	streamTypeMPEG4V     = 0x10
	streamTypeLATM       = 0x11
	streamTypeH264       = 0x1B
	streamTypeHEVC       = 0x24
	streamTypeAC3        = 0x81
	streamTypeDTS        = 0x82
)

// trackFill resolves a logical id to a format descriptor using the current
// stream-map hints, and records the payload skip offset for its codec
// framing. The track's timing state is left untouched.
func trackFill(tk *track, m *streamMap, id int) error {
	tk.id = id
	tk.skip = 0

	switch {
	case id >= 0xE0 && id <= 0xEF:
		codec := CodecMPGV
		switch m.streamType(byte(id)) {
		case streamTypeH264:
			codec = CodecH264
		case streamTypeHEVC:
			codec = CodecHEVC
		case streamTypeMPEG4V:
			codec = CodecMP4V
		}
		tk.fmt = Format{ID: id, Codec: codec, Category: CategoryVideo}

	case id >= 0xC0 && id <= 0xDF:
		codec := CodecMPGA
		switch m.streamType(byte(id)) {
		case streamTypeAAC, streamTypeLATM:
			codec = CodecAAC
		}
		tk.fmt = Format{ID: id, Codec: codec, Category: CategoryAudio}

	case id>>8 == 0xA0:
		// AOB audio: the MLP placeholder id, everything else LPCM.
		// Payload carries a 4-byte extension after the PES header.
		codec := CodecLPCM
		if id == aobMLPPlaceholderID {
			codec = CodecMLP
		}
		tk.fmt = Format{ID: id, Codec: codec, Category: CategoryAudio}
		tk.skip = 4

	case id>>8 == 0xBD:
		return fillPrivate1(tk, id)

	default:
		tk.fmt = Format{ID: id}
		return errUnknownFormat
	}
	return nil
}

// fillPrivate1 resolves a private-stream-1 sub-id. The sub-id byte itself
// is part of the payload skip, plus codec framing: 3 more bytes for AC-3
// and DTS, 6 more for DVD LPCM.
func fillPrivate1(tk *track, id int) error {
	sub := id & 0xFF
	switch {
	case sub <= 0x0F:
		tk.fmt = Format{ID: id, Codec: CodecCVD, Category: CategorySubtitle}
		tk.skip = 1
	case sub >= 0x10 && sub <= 0x1F:
		tk.fmt = Format{ID: id, Codec: CodecTeletext, Category: CategorySubtitle}
		tk.skip = 1
	case sub >= 0x20 && sub <= 0x3F:
		tk.fmt = Format{ID: id, Codec: CodecSPU, Category: CategorySubtitle}
		tk.skip = 1
	case sub >= 0x70 && sub <= 0x7F:
		tk.fmt = Format{ID: id, Codec: CodecOGT, Category: CategorySubtitle}
		tk.skip = 1
	case sub >= 0x80 && sub <= 0x87:
		tk.fmt = Format{ID: id, Codec: CodecA52, Category: CategoryAudio}
		tk.skip = 4
	case sub >= 0x88 && sub <= 0x8F:
		tk.fmt = Format{ID: id, Codec: CodecDTS, Category: CategoryAudio}
		tk.skip = 4
	case sub >= 0xA0 && sub <= 0xAF:
		tk.fmt = Format{ID: id, Codec: CodecLPCM, Category: CategoryAudio}
		tk.skip = 7
	default:
		tk.fmt = Format{ID: id}
		return errUnknownFormat
	}
	return nil
}
