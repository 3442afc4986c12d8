// ABOUTME: Tag resolution chain: native plugin scan, then embedded and leading tags
// ABOUTME: The first layer that yields a field wins; later layers are skipped
package tagscan

import (
	"io"
	"log/slog"

	"github.com/Resonate-Protocol/resonated/internal/decoder"
	"github.com/Resonate-Protocol/resonated/internal/input"
	"github.com/Resonate-Protocol/resonated/internal/logging"
	"github.com/Resonate-Protocol/resonated/internal/mediaerr"
	"github.com/Resonate-Protocol/resonated/internal/scan"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

// Scanner resolves tags for open streams.
type Scanner struct {
	reg *decoder.Registry
	log *slog.Logger
	// limit bounds the bytes buffered from streams that cannot seek
	limit int
}

func New(logger *slog.Logger, reg *decoder.Registry) *Scanner {
	return &Scanner{reg: reg, log: logging.Or(logger), limit: maxBuffered}
}

// ScanStream runs the native scan of the plugins claiming s. With no
// claimant it does nothing and succeeds. A plugin that declines or finds
// a broken container hands over to the next one; if all of them fail the
// last failure is returned.
func (sc *Scanner) ScanStream(s input.Stream, h tag.Handler) error {
	var last error
	for _, p := range sc.reg.Candidates(s.URI(), s.MIME()) {
		ss, ok := p.(decoder.StreamScanner)
		if !ok {
			continue
		}
		if err := s.Rewind(); err != nil {
			return mediaerr.E(mediaerr.KindIOFailure, "scan", s.URI(), err)
		}

		err := ss.ScanStream(s, h)
		if err == nil {
			return nil
		}
		switch mediaerr.KindOf(err) {
		case mediaerr.KindUnsupportedFormat, mediaerr.KindMalformedContainer:
			sc.log.Debug("native scan declined", "plugin", p.Name(), "uri", s.URI(), "err", err)
			last = err
			continue
		case mediaerr.KindUnknown:
			return mediaerr.E(mediaerr.KindIOFailure, "scan "+p.Name(), s.URI(), err)
		}
		return err
	}
	return last
}

// Scan fills b from s. It fails only when s or its format cannot be read;
// finding no fields is a valid result.
func (sc *Scanner) Scan(s input.Stream, b *tag.Builder) error {
	if err := sc.ScanStream(s, b); err != nil {
		return err
	}
	if b.IsEmpty() {
		return sc.fallback(s, b)
	}
	return nil
}

// ScanFallbackOnly reads embedded and leading tags without involving any
// decoder plugin.
func (sc *Scanner) ScanFallbackOnly(s input.Stream, b *tag.Builder) error {
	return sc.fallback(s, b)
}

// maxBuffered is the default limit of a Scanner.
const maxBuffered = 64 << 20

// fallback runs the embedded and leading tag scanners. Broken tag blocks
// are skipped; read failures abort the scan.
func (sc *Scanner) fallback(s input.Stream, b *tag.Builder) error {
	if err := s.Rewind(); err != nil {
		return mediaerr.E(mediaerr.KindIOFailure, "scan", s.URI(), err)
	}

	var src scan.Source = s
	trailer := true
	if s.Size() == input.UnknownSize || !input.Seekable(s) {
		data, err := io.ReadAll(io.LimitReader(s, int64(sc.limit)+1))
		if err != nil {
			return mediaerr.E(mediaerr.KindIOFailure, "buffer", s.URI(), err)
		}
		if len(data) > sc.limit {
			// the end of the stream is out of reach
			sc.log.Debug("stream too long for a trailer scan", "uri", s.URI(), "limit", sc.limit)
			data = data[:sc.limit]
			trailer = false
		}
		src = input.NewMemory(s.URI(), s.MIME(), data)
	}

	var err error
	if trailer {
		_, err = scan.Fallback(src, b)
	} else {
		_, err = scan.Leading(src, b)
	}
	switch {
	case err == nil:
		return nil
	case mediaerr.KindOf(err) == mediaerr.KindMalformedContainer:
		sc.log.Debug("ignoring malformed tag", "uri", s.URI(), "err", err)
		return nil
	case mediaerr.KindOf(err) == mediaerr.KindUnknown:
		return mediaerr.E(mediaerr.KindIOFailure, "scan", s.URI(), err)
	}
	return err
}
