// ABOUTME: Plugin-independent tag scan: embedded trailer first, then leading tag
// ABOUTME: Container files are unwrapped to their embedded ID3 block beforehand
package scan

import (
	"io"

	"github.com/Resonate-Protocol/resonated/internal/input"
	"github.com/Resonate-Protocol/resonated/internal/mediaerr"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

// Fallback tries the APE scanner, then the ID3 scanner; the first one that
// emits a field wins. For RIFF and AIFF files both run on the embedded ID3
// chunk. An I/O failure stops the scan at once; a malformed APE tag is only
// reported when the ID3 scanner finds nothing either.
func Fallback(src Source, h tag.Handler) (bool, error) {
	var r io.ReadSeeker = src
	if sec := Unwrap(src); sec != nil {
		r = sec
	}

	found, apeErr := APE(r, h)
	if found {
		return true, nil
	}
	if mediaerr.IsIOFailure(apeErr) {
		return false, apeErr
	}
	found, id3Err := ID3(r, h)
	if found {
		return true, nil
	}
	if id3Err != nil {
		return false, id3Err
	}
	return false, apeErr
}

// Unwrap returns a section covering the ID3 chunk of a RIFF or AIFF file,
// or nil when src is not such a container.
func Unwrap(src Source) *input.SectionReader {
	var magic [4]byte
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil
	}
	if _, err := io.ReadFull(src, magic[:]); err != nil {
		return nil
	}

	var n int64
	switch string(magic[:]) {
	case "RIFF":
		n = SeekRIFFID3(src)
	case "FORM":
		n = SeekAIFFID3(src)
	}
	if n <= 0 {
		return nil
	}
	off, err := src.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil
	}
	return input.Section(src, off, n)
}
