// Package source provides the byte-source abstraction the Program Stream
// demuxer reads from: bounded non-consuming peeks, exact reads, skips, and
// optional seeking over files or live byte streams.
package source

import "errors"

// ErrNotSeekable is returned by Seek on sources that cannot reposition.
var ErrNotSeekable = errors.New("source: not seekable")

// SizeUnknown is returned by Size when the total stream length cannot be
// determined (live ingest).
const SizeUnknown int64 = -1

// Source is the byte stream a demux session consumes. Peek never consumes;
// Skip and ReadBlock advance the logical position reported by Tell.
type Source interface {
	// Peek returns up to n bytes at the current position without consuming
	// them. A shorter slice means the stream ends within n bytes. The
	// returned slice is only valid until the next call on the source.
	Peek(n int) ([]byte, error)

	// Skip discards up to n bytes, returning how many were consumed.
	Skip(n int) (int, error)

	// ReadBlock consumes and returns exactly n bytes, or an error if the
	// stream ends first.
	ReadBlock(n int) ([]byte, error)

	// Tell reports the logical byte offset of the next unconsumed byte.
	Tell() int64

	// Size reports the total stream length, or SizeUnknown.
	Size() int64

	Seekable() bool

	// Seek repositions to an absolute offset. Non-seekable sources return
	// ErrNotSeekable.
	Seek(offset int64) error
}

// Title describes one title exposed by a source with navigation structure
// (e.g. an optical-media reader).
type Title struct {
	Name       string
	Seekpoints int
}

// Titled is implemented by sources that expose title, seekpoint, and
// metadata facilities. Control queries pass through to it unchanged.
type Titled interface {
	TitleInfo() ([]Title, error)
	SetTitle(title int) error
	SetSeekpoint(seekpoint int) error
	Metadata() (map[string]string, error)
}

// peeker implements the shared peek-buffer bookkeeping: buf holds bytes
// already read from the underlying reader but not yet consumed, and pos is
// the logical offset of buf[0].
type peeker struct {
	buf []byte
	pos int64
}

func (p *peeker) Tell() int64 {
	return p.pos
}

// takeBuffered consumes up to n bytes from the peek buffer.
func (p *peeker) takeBuffered(n int) int {
	k := n
	if k > len(p.buf) {
		k = len(p.buf)
	}
	p.buf = p.buf[k:]
	p.pos += int64(k)
	return k
}
