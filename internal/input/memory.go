// ABOUTME: In-memory stream and windowed section reader
// ABOUTME: Memory streams back archive entries; sections expose embedded tag blocks
package input

import (
	"bytes"
	"errors"
	"io"
)

type memStream struct {
	*bytes.Reader
	uri  string
	mime string
}

// NewMemory wraps data as a seekable stream.
func NewMemory(uri, mime string, data []byte) Stream {
	if mime == "" {
		mime = MIMEForSuffix(Suffix(uri))
	}
	return &memStream{Reader: bytes.NewReader(data), uri: uri, mime: mime}
}

func (s *memStream) Rewind() error {
	_, err := s.Reader.Seek(0, io.SeekStart)
	return err
}

func (s *memStream) Offset() int64 {
	return s.Reader.Size() - int64(s.Reader.Len())
}

func (s *memStream) URI() string  { return s.uri }
func (s *memStream) MIME() string { return s.mime }
func (s *memStream) Close() error { return nil }

// SectionReader is a window [base, base+n) over a seekable reader.
type SectionReader struct {
	r    io.ReadSeeker
	base int64
	n    int64
	pos  int64
}

// Section returns a window of n bytes starting at off. Positions reported
// by the section are relative to off.
func Section(r io.ReadSeeker, off, n int64) *SectionReader {
	return &SectionReader{r: r, base: off, n: n}
}

func (s *SectionReader) Read(p []byte) (int, error) {
	if s.pos >= s.n {
		return 0, io.EOF
	}
	if remain := s.n - s.pos; int64(len(p)) > remain {
		p = p[:remain]
	}
	if _, err := s.r.Seek(s.base+s.pos, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := s.r.Read(p)
	s.pos += int64(n)
	return n, err
}

func (s *SectionReader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekCurrent:
		offset += s.pos
	case io.SeekEnd:
		offset += s.n
	}
	if offset < 0 {
		return 0, errors.New("section: negative position")
	}
	s.pos = offset
	return offset, nil
}

// Size returns the window length.
func (s *SectionReader) Size() int64 { return s.n }
