package distribution

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/linky00/psrelay/media"
	"github.com/linky00/psrelay/mpegps"
)

// Compile-time interface check.
var _ mpegps.Output = (*Relay)(nil)

// ViewerStats captures delivery metrics for one connected viewer.
type ViewerStats struct {
	ID        string `json:"id"`
	Delivered int64  `json:"delivered"`
	Dropped   int64  `json:"dropped"`
}

// viewer is one connected session's delivery queue. Frames are pre-encoded
// once by the relay and fanned out by reference; a full queue drops.
type viewer struct {
	id string
	ch chan []byte

	delivered atomic.Int64
	dropped   atomic.Int64
}

// trackState is the relay-side record of one announced track, kept so
// late-joining viewers receive the current catalog before live records.
type trackState struct {
	id  uint64
	fmt mpegps.Format
}

// Relay is the fan-out hub for a single stream. It implements the demuxer's
// output interface: track announcements, clock samples, and elementary
// packets are framed once and broadcast to every connected viewer. Viewers
// that fall behind drop records rather than stall the pipeline.
type Relay struct {
	log *slog.Logger

	mu      sync.RWMutex
	viewers map[string]*viewer
	tracks  []*trackState
	nextID  uint64

	packets atomic.Int64
}

// NewRelay creates a Relay with no viewers.
func NewRelay() *Relay {
	return &Relay{
		log:     slog.With("component", "relay"),
		viewers: make(map[string]*viewer),
	}
}

// Add announces a new track and returns its handle.
func (r *Relay) Add(f mpegps.Format) (mpegps.TrackHandle, error) {
	r.mu.Lock()
	r.nextID++
	ts := &trackState{id: r.nextID, fmt: f}
	r.tracks = append(r.tracks, ts)
	frame := encodeAddTrack(ts.id, f)
	r.broadcastLocked(frame)
	r.mu.Unlock()

	r.log.Info("track added", "track", ts.id, "codec", f.Codec, "category", f.Category.String())
	return ts.id, nil
}

// Send broadcasts one elementary packet on a track.
func (r *Relay) Send(h mpegps.TrackHandle, p *media.Packet) {
	id, ok := h.(uint64)
	if !ok {
		return
	}
	r.packets.Add(1)
	frame := encodePacket(id, p)

	r.mu.RLock()
	r.broadcastLocked(frame)
	r.mu.RUnlock()
}

// IsSelected reports whether a track handle is live. All announced tracks
// are considered selected: viewers may join at any time.
func (r *Relay) IsSelected(h mpegps.TrackHandle) bool {
	_, ok := h.(uint64)
	return ok
}

// Del retracts a track announcement.
func (r *Relay) Del(h mpegps.TrackHandle) {
	id, ok := h.(uint64)
	if !ok {
		return
	}

	r.mu.Lock()
	for i, ts := range r.tracks {
		if ts.id == id {
			r.tracks = append(r.tracks[:i], r.tracks[i+1:]...)
			break
		}
	}
	r.broadcastLocked(encodeDelTrack(id))
	r.mu.Unlock()

	r.log.Info("track removed", "track", id)
}

// SetClock broadcasts a program clock sample.
func (r *Relay) SetClock(pts int64) {
	frame := encodeClock(pts)
	r.mu.RLock()
	r.broadcastLocked(frame)
	r.mu.RUnlock()
}

// broadcastLocked queues a framed record on every viewer; callers hold
// r.mu in at least read mode.
func (r *Relay) broadcastLocked(frame []byte) {
	for _, v := range r.viewers {
		select {
		case v.ch <- frame:
			v.delivered.Add(1)
		default:
			v.dropped.Add(1)
		}
	}
}

// AddViewer registers a delivery queue for a session and returns its record
// channel. The current track catalog is queued ahead of registration so a
// late joiner always sees announcements before packets.
func (r *Relay) AddViewer(id string) <-chan []byte {
	v := &viewer{id: id, ch: make(chan []byte, media.ESBufferSize)}

	r.mu.Lock()
	for _, ts := range r.tracks {
		v.ch <- encodeAddTrack(ts.id, ts.fmt)
	}
	r.viewers[id] = v
	r.mu.Unlock()

	r.log.Info("viewer added", "session", id, "viewers", r.ViewerCount())
	return v.ch
}

// RemoveViewer unregisters a viewer by ID.
func (r *Relay) RemoveViewer(id string) {
	r.mu.Lock()
	delete(r.viewers, id)
	r.mu.Unlock()

	r.log.Info("viewer removed", "session", id, "viewers", r.ViewerCount())
}

// ViewerCount returns the number of currently connected viewers.
func (r *Relay) ViewerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.viewers)
}

// PacketCount returns the number of packets relayed so far.
func (r *Relay) PacketCount() int64 {
	return r.packets.Load()
}

// ViewerStatsAll returns delivery metrics for every connected viewer.
func (r *Relay) ViewerStatsAll() []ViewerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make([]ViewerStats, 0, len(r.viewers))
	for _, v := range r.viewers {
		stats = append(stats, ViewerStats{
			ID:        v.id,
			Delivered: v.delivered.Load(),
			Dropped:   v.dropped.Load(),
		})
	}
	return stats
}
