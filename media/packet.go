// Package media defines the elementary-stream packet type that flows from
// the Program Stream demuxer to the distribution relay.
package media

// ESBufferSize is the per-viewer record channel depth used by the relay to
// decouple demuxing from viewer delivery. PS elementary packets are small
// (≤64 KiB), so a few hundred entries absorb several seconds of jitter.
const ESBufferSize = 256

// Packet is one demuxed elementary-stream payload. Timestamps are in
// microseconds offset by a 1µs epoch; 0 means the packet carried none.
type Packet struct {
	Data          []byte
	PTS           int64
	DTS           int64
	Discontinuity bool
}
