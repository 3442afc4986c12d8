// ABOUTME: Minimal Ogg page reader assembling packets of the first logical stream
// ABOUTME: Used to sniff codec headers and to find the final granule position
package plugins

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	oggHeaderSize  = 27
	oggMaxPageSize = oggHeaderSize + 255 + 255*255
	oggFlagBOS     = 0x02
)

var errNotOgg = errors.New("not an ogg stream")

type oggReader struct {
	r       io.Reader
	serial  uint32
	started bool
	partial []byte
	packets [][]byte
	pages   int
}

func newOggReader(r io.Reader) *oggReader {
	return &oggReader{r: r}
}

// Packet returns the next complete packet of the first logical stream.
func (o *oggReader) Packet() ([]byte, error) {
	for len(o.packets) == 0 {
		if err := o.readPage(); err != nil {
			return nil, err
		}
	}
	p := o.packets[0]
	o.packets = o.packets[1:]
	return p, nil
}

func (o *oggReader) readPage() error {
	var h [oggHeaderSize]byte
	if _, err := io.ReadFull(o.r, h[:]); err != nil {
		if o.pages == 0 {
			return errNotOgg
		}
		return err
	}
	if string(h[:4]) != "OggS" || h[4] != 0 {
		return errNotOgg
	}
	o.pages++
	flags := h[5]
	serial := binary.LittleEndian.Uint32(h[14:18])
	lacing := make([]byte, h[26])
	if _, err := io.ReadFull(o.r, lacing); err != nil {
		return err
	}
	total := 0
	for _, l := range lacing {
		total += int(l)
	}
	body := make([]byte, total)
	if _, err := io.ReadFull(o.r, body); err != nil {
		return err
	}

	if !o.started {
		if flags&oggFlagBOS == 0 {
			return fmt.Errorf("first ogg page lacks the start flag")
		}
		o.started = true
		o.serial = serial
	}
	if serial != o.serial {
		return nil
	}

	off := 0
	for _, l := range lacing {
		o.partial = append(o.partial, body[off:off+int(l)]...)
		off += int(l)
		if l < 255 {
			o.packets = append(o.packets, o.partial)
			o.partial = nil
		}
	}
	return nil
}

// lastGranule searches the tail of r for the final page of serial and
// returns its granule position.
func lastGranule(r io.ReadSeeker, size int64, serial uint32) (int64, bool) {
	start := max(size-oggMaxPageSize, 0)
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return 0, false
	}
	tail, err := io.ReadAll(io.LimitReader(r, size-start))
	if err != nil {
		return 0, false
	}
	for i := bytes.LastIndex(tail, []byte("OggS")); i >= 0; i = bytes.LastIndex(tail[:i], []byte("OggS")) {
		if len(tail)-i < oggHeaderSize {
			continue
		}
		page := tail[i:]
		if binary.LittleEndian.Uint32(page[14:18]) != serial {
			continue
		}
		g := int64(binary.LittleEndian.Uint64(page[6:14]))
		if g >= 0 {
			return g, true
		}
	}
	return 0, false
}
