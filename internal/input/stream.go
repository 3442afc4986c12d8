// ABOUTME: Input stream abstraction for local files, HTTP resources and filters
// ABOUTME: Opener dispatches a URI to the matching stream implementation
package input

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/Resonate-Protocol/resonated/internal/mediaerr"
)

// UnknownSize is returned by Size when the length cannot be determined.
const UnknownSize int64 = -1

// Stream is an open resource handed to decoders and tag scanners.
type Stream interface {
	io.ReadSeeker
	io.Closer
	// Rewind moves back to the first byte.
	Rewind() error
	// Offset returns the current read position.
	Offset() int64
	// Size returns the total length or UnknownSize.
	Size() int64
	URI() string
	MIME() string
}

// Seekable reports whether s can seek to any offset. Streams that do not
// say otherwise can.
func Seekable(s Stream) bool {
	if c, ok := s.(interface{ CanSeek() bool }); ok {
		return c.CanSeek()
	}
	return true
}

// Opener turns URIs into streams.
type Opener struct {
	Client *http.Client
}

// NewOpener returns an opener using the default HTTP client.
func NewOpener() *Opener {
	return &Opener{Client: http.DefaultClient}
}

// Open resolves uri to a stream. Absolute paths and file:// URIs open local
// files; http and https are fetched remotely. A ".gz" suffix adds a gunzip
// filter on top.
func (o *Opener) Open(ctx context.Context, uri string) (Stream, error) {
	var s Stream
	var err error

	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		client := o.Client
		if client == nil {
			client = http.DefaultClient
		}
		s, err = OpenHTTP(ctx, client, uri)
	case strings.HasPrefix(uri, "file://"):
		u, perr := url.Parse(uri)
		if perr != nil {
			return nil, mediaerr.E(mediaerr.KindResourceUnavailable, "open", uri, perr)
		}
		s, err = OpenFile(u.Path)
	default:
		s, err = OpenFile(uri)
	}
	if err != nil {
		return nil, err
	}

	if Suffix(uri) == "gz" {
		return NewGzip(s)
	}
	return s, nil
}

// OpenFile opens a local file as a seekable stream.
func OpenFile(p string) (Stream, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, mediaerr.E(mediaerr.KindResourceUnavailable, "open", p, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, mediaerr.E(mediaerr.KindResourceUnavailable, "stat", p, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, mediaerr.E(mediaerr.KindResourceUnavailable, "open", p, nil)
	}
	return &fileStream{f: f, uri: p, size: info.Size()}, nil
}

type fileStream struct {
	f    *os.File
	uri  string
	size int64
}

func (s *fileStream) Read(p []byte) (int, error) { return s.f.Read(p) }

func (s *fileStream) Seek(offset int64, whence int) (int64, error) {
	return s.f.Seek(offset, whence)
}

func (s *fileStream) Rewind() error {
	_, err := s.f.Seek(0, io.SeekStart)
	return err
}

func (s *fileStream) Offset() int64 {
	off, err := s.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	return off
}

func (s *fileStream) Size() int64  { return s.size }
func (s *fileStream) URI() string  { return s.uri }
func (s *fileStream) MIME() string { return MIMEForSuffix(Suffix(s.uri)) }
func (s *fileStream) Close() error { return s.f.Close() }

// Suffix returns the lower-cased extension of uri without the dot, ignoring
// any query string or fragment.
func Suffix(uri string) string {
	if i := strings.IndexAny(uri, "?#"); i >= 0 && strings.Contains(uri, "://") {
		uri = uri[:i]
	}
	ext := path.Ext(uri)
	if ext == "" {
		return ""
	}
	return strings.ToLower(ext[1:])
}

// StripSuffix drops a trailing ".gz" so dispatch sees the inner format.
func StripSuffix(uri, suffix string) string {
	if strings.HasSuffix(strings.ToLower(uri), "."+suffix) {
		return uri[:len(uri)-len(suffix)-1]
	}
	return uri
}

var suffixMIME = map[string]string{
	"mp3":  "audio/mpeg",
	"flac": "audio/flac",
	"wav":  "audio/wav",
	"ogg":  "audio/ogg",
	"opus": "audio/ogg",
	"mid":  "audio/midi",
	"midi": "audio/midi",
	"gz":   "application/gzip",
}

// MIMEForSuffix maps a known audio suffix to its MIME type.
func MIMEForSuffix(suffix string) string {
	return suffixMIME[suffix]
}
