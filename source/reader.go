package source

import "io"

// ReaderSource is a non-seekable byte source over an io.Reader, used for
// live ingest (SRT pipes). Size is unknown and Seek always fails.
type ReaderSource struct {
	peeker
	r io.Reader
}

// NewReader wraps a plain reader.
func NewReader(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r}
}

func (s *ReaderSource) fill(n int) error {
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

func (s *ReaderSource) Peek(n int) ([]byte, error) {
	if err := s.fill(n); err != nil {
		return nil, err
	}
	if n > len(s.buf) {
		n = len(s.buf)
	}
	return s.buf[:n], nil
}

func (s *ReaderSource) Skip(n int) (int, error) {
	consumed := s.takeBuffered(n)
	if rem := n - consumed; rem > 0 {
		m, err := io.CopyN(io.Discard, s.r, int64(rem))
		s.pos += m
		consumed += int(m)
		if err == io.EOF {
			return consumed, nil
		}
		if err != nil {
			return consumed, err
		}
	}
	return consumed, nil
}

func (s *ReaderSource) ReadBlock(n int) ([]byte, error) {
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

func (s *ReaderSource) Size() int64 {
	return SizeUnknown
}

func (s *ReaderSource) Seekable() bool {
	return false
}

func (s *ReaderSource) Seek(int64) error {
	return ErrNotSeekable
}
