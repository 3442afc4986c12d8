// ABOUTME: Output sink interface fed by the playback engine
// ABOUTME: Sinks receive PCM chunks in order and metadata changes as they occur
package player

import (
	"github.com/Resonate-Protocol/resonated/internal/pipe"
	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

// Sink consumes decoded audio. Open is called once per song before the
// first Write. Write must not keep c after it returns.
type Sink interface {
	Open(f audio.Format) error
	Write(c *pipe.Chunk) error
	Metadata(t *tag.Tag)
	Close() error
}
