// ABOUTME: Locates the ID3 block embedded in RIFF and AIFF containers
// ABOUTME: Walks sub-chunk headers and leaves the stream at the tag payload
package scan

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Source is a seekable stream with a known length.
type Source interface {
	io.ReadSeeker
	Size() int64
}

// ContainerHeader is the 12-byte header of RIFF and IFF files.
type ContainerHeader struct {
	ID     [4]byte
	Size   uint32
	Format [4]byte
}

// ReadRIFFHeader reads a little-endian RIFF header from the current position.
func ReadRIFFHeader(r io.Reader) (ContainerHeader, error) {
	return readHeader(r, binary.LittleEndian)
}

func readHeader(r io.Reader, order binary.ByteOrder) (ContainerHeader, error) {
	var b [12]byte
	var h ContainerHeader
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return h, fmt.Errorf("read container header: %w", err)
	}
	copy(h.ID[:], b[0:4])
	h.Size = order.Uint32(b[4:8])
	copy(h.Format[:], b[8:12])
	return h, nil
}

// SeekRIFFID3 finds an "id3 " or "ID3 " chunk inside a RIFF file. On
// success src is positioned at the first byte of the chunk payload and the
// payload length is returned. It returns 0 when src is not a valid RIFF
// file or holds no such chunk.
func SeekRIFFID3(src Source) int64 {
	return seekChunk(src, binary.LittleEndian, "RIFF", "id3 ", "ID3 ")
}

// SeekAIFFID3 is the big-endian counterpart for FORM/AIFF files.
func SeekAIFFID3(src Source) int64 {
	return seekChunk(src, binary.BigEndian, "FORM", "ID3 ")
}

func seekChunk(src Source, order binary.ByteOrder, magic string, ids ...string) int64 {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return 0
	}
	h, err := readHeader(src, order)
	if err != nil || string(h.ID[:]) != magic {
		return 0
	}
	total := src.Size()
	if total < 0 || int64(h.Size) > total {
		return 0
	}

	var b [8]byte
	for {
		if _, err := io.ReadFull(src, b[:]); err != nil {
			return 0
		}
		size := order.Uint32(b[4:8])
		if size > math.MaxInt32 {
			return 0
		}

		id := string(b[0:4])
		for _, want := range ids {
			if id == want {
				return int64(size)
			}
		}

		// chunks are padded to an even length
		skip := int64(size)
		if skip%2 != 0 {
			skip++
		}
		if _, err := src.Seek(skip, io.SeekCurrent); err != nil {
			return 0
		}
	}
}
