// ABOUTME: Leading ID3 tag scanner backed by dhowden/tag
// ABOUTME: Reads ID3v2 from the start of a stream, falling back to an ID3v1 trailer
package scan

import (
	"errors"
	"io"
	"strconv"

	id3 "github.com/dhowden/tag"

	"github.com/Resonate-Protocol/resonated/internal/mediaerr"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

// ID3 scans r for an ID3 tag and reports whether any field was emitted.
// A stream without an ID3 tag is not an error; a failing read is.
func ID3(r io.ReadSeeker, h tag.Handler) (bool, error) {
	found, err := Leading(r, h)
	if found || err != nil {
		return found, err
	}

	rec := &readErrs{ReadSeeker: r}
	m, err := id3.ReadID3v1Tags(rec)
	if rec.err != nil {
		return false, mediaerr.E(mediaerr.KindIOFailure, "id3v1", "", rec.err)
	}
	if err != nil {
		return false, nil
	}
	return emitMetadata(m, h), nil
}

// Leading reads only an ID3v2 tag from the start of r. It never looks at
// the end of the stream.
func Leading(r io.ReadSeeker, h tag.Handler) (bool, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return false, mediaerr.E(mediaerr.KindIOFailure, "id3", "", err)
	}
	rec := &readErrs{ReadSeeker: r}
	m, err := id3.ReadID3v2Tags(rec)
	if rec.err != nil {
		return false, mediaerr.E(mediaerr.KindIOFailure, "id3v2", "", rec.err)
	}
	if _, serr := r.Seek(0, io.SeekStart); serr != nil {
		return false, mediaerr.E(mediaerr.KindIOFailure, "id3", "", serr)
	}
	if err != nil {
		return false, nil
	}
	return emitMetadata(m, h), nil
}

// readErrs remembers the first read failure other than the end of the
// stream. dhowden/tag formats the errors it returns, so they cannot be
// told apart from a missing tag afterwards.
type readErrs struct {
	io.ReadSeeker
	err error
}

func (r *readErrs) Read(p []byte) (int, error) {
	n, err := r.ReadSeeker.Read(p)
	if err != nil && r.err == nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		r.err = err
	}
	return n, err
}

// emitMetadata forwards the common fields of a dhowden/tag result.
func emitMetadata(m id3.Metadata, h tag.Handler) bool {
	n := 0
	emit := func(t tag.Type, v string) {
		if v != "" {
			h.OnTag(t, v)
			n++
		}
	}

	emit(tag.Title, m.Title())
	emit(tag.Artist, m.Artist())
	emit(tag.Album, m.Album())
	emit(tag.AlbumArtist, m.AlbumArtist())
	emit(tag.Composer, m.Composer())
	emit(tag.Genre, m.Genre())
	emit(tag.Comment, m.Comment())
	if y := m.Year(); y > 0 {
		emit(tag.Date, strconv.Itoa(y))
	}
	if track, _ := m.Track(); track > 0 {
		emit(tag.Track, strconv.Itoa(track))
	}
	if disc, _ := m.Disc(); disc > 0 {
		emit(tag.Disc, strconv.Itoa(disc))
	}
	return n > 0
}
