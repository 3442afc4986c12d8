// ABOUTME: Decoder plugin contract and the client API plugins decode into
// ABOUTME: Capabilities are optional interfaces checked at dispatch time
package decoder

import (
	"time"

	"github.com/Resonate-Protocol/resonated/internal/config"
	"github.com/Resonate-Protocol/resonated/internal/input"
	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

// Plugin is a named codec handler. Init runs once per process; a plugin
// whose Init fails stays disabled.
type Plugin interface {
	Name() string
	Init(cfg config.Block) error
	Suffixes() []string
	MIMETypes() []string
}

// StreamDecoder decodes from an open input stream.
type StreamDecoder interface {
	DecodeStream(c Client, s input.Stream) error
}

// FileDecoder decodes a local file by path, for backends that need one.
type FileDecoder interface {
	DecodeFile(c Client, path string) error
}

// StreamScanner reads metadata without decoding audio. It must check the
// codec's magic bytes first and return an UnsupportedFormat error for
// resources it cannot read.
type StreamScanner interface {
	ScanStream(s input.Stream, h tag.Handler) error
}

// Client is the decoder side of a decode session.
type Client interface {
	// Ready announces the PCM format. It must be called exactly once,
	// before any Write. duration is tag.UnknownDuration if not known.
	Ready(f audio.Format, seekable bool, duration time.Duration) error
	// Command returns the pending command. It blocks while paused.
	Command() Command
	// CommandFinished acknowledges the pending command. After a seek it
	// discards everything queued before the new position.
	CommandFinished()
	// SeekTime returns the target of a pending SEEK.
	SeekTime() time.Duration
	// SeekError reports that the pending SEEK could not be performed.
	SeekError()
	// Write copies PCM into chunks. The pending command is checked after
	// every completed chunk and returned early if one arrived.
	Write(data []byte, bitRate uint16) Command
	// SubmitTag starts a new chunk carrying t.
	SubmitTag(t *tag.Tag) Command
}
