package source

import (
	"fmt"
	"io"
)

// FileSource is a seekable byte source over an io.ReadSeeker. The size is
// captured once at construction.
type FileSource struct {
	peeker
	r    io.ReadSeeker
	size int64
}

// NewFile wraps a seekable reader. The current position becomes the logical
// origin reported by Tell.
func NewFile(r io.ReadSeeker) (*FileSource, error) {
	cur, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("source: tell: %w", err)
	}
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("source: size: %w", err)
	}
	if _, err := r.Seek(cur, io.SeekStart); err != nil {
		return nil, fmt.Errorf("source: rewind: %w", err)
	}
	s := &FileSource{r: r, size: end}
	s.pos = cur
	return s, nil
}

// fill extends the peek buffer to n bytes if that much input remains.
func (s *FileSource) fill(n int) error {
	for len(s.buf) < n {
		tmp := make([]byte, n-len(s.buf))
		m, err := io.ReadFull(s.r, tmp)
		s.buf = append(s.buf, tmp[:m]...)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *FileSource) Peek(n int) ([]byte, error) {
	if err := s.fill(n); err != nil {
		return nil, err
	}
	if n > len(s.buf) {
		n = len(s.buf)
	}
	return s.buf[:n], nil
}

func (s *FileSource) Skip(n int) (int, error) {
	consumed := s.takeBuffered(n)
	if rem := n - consumed; rem > 0 {
		m, err := s.r.Seek(int64(rem), io.SeekCurrent)
		// Seeking past EOF does not fail; clamp to the known size.
		if m > s.size {
			skipped := int(s.size - s.pos)
			s.pos = s.size
			if _, err := s.r.Seek(s.size, io.SeekStart); err != nil {
				return consumed + skipped, err
			}
			return consumed + skipped, nil
		}
		if err != nil {
			return consumed, err
		}
		s.pos = m
		consumed = n
	}
	return consumed, nil
}

func (s *FileSource) ReadBlock(n int) ([]byte, error) {
	if err := s.fill(n); err != nil {
		return nil, err
	}
	if len(s.buf) < n {
		return nil, io.ErrUnexpectedEOF
	}
	out := make([]byte, n)
	copy(out, s.buf)
	s.takeBuffered(n)
	return out, nil
}

func (s *FileSource) Size() int64 {
	return s.size
}

func (s *FileSource) Seekable() bool {
	return true
}

func (s *FileSource) Seek(offset int64) error {
	if _, err := s.r.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("source: seek to %d: %w", offset, err)
	}
	s.buf = nil
	s.pos = offset
	return nil
}
