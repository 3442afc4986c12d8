// ABOUTME: Gunzip filter stream wrapping another input stream
// ABOUTME: Forward seeks skip decompressed bytes, backward seeks restart
package input

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/Resonate-Protocol/resonated/internal/mediaerr"
)

type gzipStream struct {
	inner  Stream
	zr     *gzip.Reader
	offset int64
}

// NewGzip decompresses inner. The stream reports the inner URI without the
// ".gz" suffix and an unknown size.
func NewGzip(inner Stream) (Stream, error) {
	zr, err := gzip.NewReader(inner)
	if err != nil {
		inner.Close()
		return nil, mediaerr.E(mediaerr.KindMalformedContainer, "gunzip", inner.URI(), err)
	}
	return &gzipStream{inner: inner, zr: zr}, nil
}

func (s *gzipStream) Read(p []byte) (int, error) {
	n, err := s.zr.Read(p)
	s.offset += int64(n)
	return n, err
}

func (s *gzipStream) Seek(offset int64, whence int) (int64, error) {
	abs := offset
	switch whence {
	case io.SeekCurrent:
		abs = s.offset + offset
	case io.SeekEnd:
		return 0, errors.New("gzip: seek from end is not supported")
	}
	if abs < 0 {
		return 0, errors.New("gzip: negative seek position")
	}
	if abs < s.offset {
		if err := s.Rewind(); err != nil {
			return 0, err
		}
	}
	if skip := abs - s.offset; skip > 0 {
		n, err := io.CopyN(io.Discard, s.zr, skip)
		s.offset += n
		if err != nil {
			return s.offset, fmt.Errorf("gzip: skip: %w", err)
		}
	}
	return s.offset, nil
}

func (s *gzipStream) Rewind() error {
	if s.offset == 0 {
		return nil
	}
	if err := s.inner.Rewind(); err != nil {
		return err
	}
	if err := s.zr.Reset(s.inner); err != nil {
		return err
	}
	s.offset = 0
	return nil
}

func (s *gzipStream) Offset() int64 { return s.offset }
func (s *gzipStream) Size() int64   { return UnknownSize }
func (s *gzipStream) URI() string   { return StripSuffix(s.inner.URI(), "gz") }
func (s *gzipStream) MIME() string  { return MIMEForSuffix(Suffix(s.URI())) }

func (s *gzipStream) Close() error {
	zerr := s.zr.Close()
	if err := s.inner.Close(); err != nil {
		return err
	}
	return zerr
}

// Copy drains src into dst, used by the gunzip command.
func Copy(dst io.Writer, src Stream) (int64, error) {
	return io.Copy(dst, src)
}
