// ABOUTME: Fixed-capacity PCM chunk passed from a decoder to the player
// ABOUTME: Writers reserve a region, fill it, then commit the bytes they used
package pipe

import (
	"time"

	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

// ChunkSize is the payload capacity of one chunk. It holds a whole number
// of frames for 8, 16 and 24-bit stereo as well as common mono layouts.
const ChunkSize = 1020

// Chunk is a unit of decoded PCM. Once handed to a Pipe it must not be
// written again until it has been returned to its Buffer and reallocated.
type Chunk struct {
	// Length is the number of committed bytes in the payload.
	Length int
	// BitRate of the source at this position in kbit/s, 0 if unknown.
	BitRate uint16
	// Time is the position of the first byte within the song.
	Time time.Duration
	// Tag is a metadata change that takes effect at this chunk.
	Tag *tag.Tag

	format audio.Format
	data   [ChunkSize]byte
}

// Format returns the format fixed by the first write, or the zero Format.
func (c *Chunk) Format() audio.Format {
	return c.format
}

// Data returns the committed payload.
func (c *Chunk) Data() []byte {
	return c.data[:c.Length]
}

// IsEmpty reports whether no PCM has been committed and no tag is attached.
func (c *Chunk) IsEmpty() bool {
	return c.Length == 0 && c.Tag == nil
}

// Reserve prepares the chunk for writing and returns the writable region,
// rounded down to whole frames. It returns nil when the chunk is full or
// already holds a different format. On the first write the format,
// timestamp and bit rate are recorded.
func (c *Chunk) Reserve(f audio.Format, t time.Duration, bitRate uint16) []byte {
	frame := f.FrameSize()
	if frame <= 0 {
		return nil
	}

	if c.Length == 0 {
		c.format = f
		c.Time = t
	} else if c.format != f {
		return nil
	}
	c.BitRate = bitRate

	free := (ChunkSize - c.Length) / frame * frame
	if free == 0 {
		return nil
	}
	return c.data[c.Length : c.Length+free]
}

// Commit marks n bytes of the last reserved region as written and reports
// whether the chunk is now full. Committing zero bytes is a no-op.
func (c *Chunk) Commit(f audio.Format, n int) bool {
	if n > 0 {
		c.Length += n
		if c.Length > ChunkSize {
			c.Length = ChunkSize
		}
	}
	frame := f.FrameSize()
	return frame <= 0 || c.Length+frame > ChunkSize
}

// SetTag attaches a tag. It only succeeds on a chunk without PCM and without
// a tag, so a tag always marks the start of its data.
func (c *Chunk) SetTag(t *tag.Tag) bool {
	if c.Length != 0 || c.Tag != nil {
		return false
	}
	c.Tag = t
	return true
}

func (c *Chunk) reset() {
	c.Length = 0
	c.BitRate = 0
	c.Time = 0
	c.Tag = nil
	c.format = audio.Format{}
}
