// ABOUTME: APEv1/APEv2 trailer tag scanner
// ABOUTME: Reads the APETAGEX footer at the end of a stream and emits text items
package scan

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Resonate-Protocol/resonated/internal/mediaerr"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

const (
	apeFooterSize = 32
	apeMaxSize    = 1024 * 1024
	id3v1Size     = 128
)

var apePreamble = []byte("APETAGEX")

type apeFooter struct {
	version uint32
	length  uint32
	count   uint32
	flags   uint32
}

// APE scans for an APE tag at the end of r. It reports whether at least one
// recognized field was emitted. A missing tag is not an error.
func APE(r io.ReadSeeker, h tag.Handler) (bool, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return false, mediaerr.E(mediaerr.KindIOFailure, "ape", "", err)
	}
	if size < apeFooterSize {
		return false, nil
	}

	footerAt := size - apeFooterSize
	if size >= id3v1Size+apeFooterSize {
		var marker [3]byte
		if err := readAt(r, size-id3v1Size, marker[:]); err != nil {
			return false, err
		}
		if string(marker[:]) == "TAG" {
			footerAt = size - id3v1Size - apeFooterSize
		}
	}

	var raw [apeFooterSize]byte
	if err := readAt(r, footerAt, raw[:]); err != nil {
		return false, err
	}
	if !bytes.Equal(raw[:8], apePreamble) {
		return false, nil
	}

	f := apeFooter{
		version: binary.LittleEndian.Uint32(raw[8:12]),
		length:  binary.LittleEndian.Uint32(raw[12:16]),
		count:   binary.LittleEndian.Uint32(raw[16:20]),
		flags:   binary.LittleEndian.Uint32(raw[20:24]),
	}
	if f.version != 1000 && f.version != 2000 {
		return false, malformed("unsupported APE version %d", f.version)
	}
	if f.length <= apeFooterSize || f.length > apeMaxSize {
		return false, malformed("bad APE tag length %d", f.length)
	}
	bodyLen := int64(f.length) - apeFooterSize
	if bodyLen > footerAt {
		return false, malformed("APE tag length %d exceeds stream", f.length)
	}

	body := make([]byte, bodyLen)
	if err := readAt(r, footerAt-bodyLen, body); err != nil {
		return false, err
	}
	return parseAPEItems(body, int(f.count), h)
}

func parseAPEItems(body []byte, count int, h tag.Handler) (bool, error) {
	recognized := false
	for i := 0; i < count; i++ {
		if len(body) < 8 {
			break
		}
		valueLen := binary.LittleEndian.Uint32(body[0:4])
		flags := binary.LittleEndian.Uint32(body[4:8])
		body = body[8:]

		nul := bytes.IndexByte(body, 0)
		if nul < 0 {
			return recognized, malformed("unterminated APE item key")
		}
		key := string(body[:nul])
		body = body[nul+1:]

		if uint64(valueLen) > uint64(len(body)) {
			return recognized, malformed("APE item %q overruns tag", key)
		}
		value := body[:valueLen]
		body = body[valueLen:]

		// bits 1-2 select the item type; 0 is UTF-8 text
		if (flags>>1)&0x3 != 0 {
			continue
		}
		t, ok := tag.MapPair(tag.APENames, key)
		if !ok {
			continue
		}
		for _, v := range strings.Split(string(value), "\x00") {
			if v != "" {
				h.OnTag(t, v)
				recognized = true
			}
		}
	}
	return recognized, nil
}

func readAt(r io.ReadSeeker, off int64, p []byte) error {
	if _, err := r.Seek(off, io.SeekStart); err != nil {
		return mediaerr.E(mediaerr.KindIOFailure, "seek", "", err)
	}
	if _, err := io.ReadFull(r, p); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return mediaerr.E(mediaerr.KindMalformedContainer, "read", "", err)
		}
		return mediaerr.E(mediaerr.KindIOFailure, "read", "", err)
	}
	return nil
}

func malformed(format string, args ...any) error {
	return mediaerr.E(mediaerr.KindMalformedContainer, "ape", "", fmt.Errorf(format, args...))
}
