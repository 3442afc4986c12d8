// ABOUTME: Vorbis comment block parser shared by Ogg-based plugins
// ABOUTME: Emits KEY=VALUE pairs to a tag handler with bounds-checked reads
package scan

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/Resonate-Protocol/resonated/internal/mediaerr"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

// VorbisComments parses a vorbis comment block (vendor string, count, then
// length-prefixed "KEY=VALUE" entries, all little-endian).
func VorbisComments(data []byte, h tag.Handler) error {
	next := func() ([]byte, error) {
		if len(data) < 4 {
			return nil, fmt.Errorf("truncated length")
		}
		n := binary.LittleEndian.Uint32(data)
		data = data[4:]
		if uint64(n) > uint64(len(data)) {
			return nil, fmt.Errorf("length %d exceeds block", n)
		}
		v := data[:n]
		data = data[n:]
		return v, nil
	}

	if _, err := next(); err != nil {
		return mediaerr.E(mediaerr.KindMalformedContainer, "vorbis comments", "", err)
	}
	if len(data) < 4 {
		return mediaerr.E(mediaerr.KindMalformedContainer, "vorbis comments", "", fmt.Errorf("missing count"))
	}
	count := binary.LittleEndian.Uint32(data)
	data = data[4:]

	for i := uint32(0); i < count; i++ {
		entry, err := next()
		if err != nil {
			return mediaerr.E(mediaerr.KindMalformedContainer, "vorbis comments", "", err)
		}
		key, value, ok := strings.Cut(string(entry), "=")
		if !ok {
			continue
		}
		h.OnPair(key, value)
	}
	return nil
}
