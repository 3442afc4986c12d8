// ABOUTME: Client implementation connecting a plugin to the chunk pool and pipe
// ABOUTME: Fills chunks, hands them off whole and checks commands between chunks
package decoder

import (
	"errors"
	"log/slog"
	"time"

	"github.com/Resonate-Protocol/resonated/internal/pipe"
	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

var errAlreadyReady = errors.New("decoder: format already announced")

type bridge struct {
	ctl    *Control
	pipe   *pipe.Pipe
	buffer *pipe.Buffer
	log    *slog.Logger
	// release wakes WaitReady callers
	release func()

	initialized bool
	format      audio.Format
	current     *pipe.Chunk
	// position is base plus the duration of written bytes
	base    time.Duration
	written int
}

func (b *bridge) Ready(f audio.Format, seekable bool, duration time.Duration) error {
	if b.initialized {
		return errAlreadyReady
	}
	if err := f.Validate(); err != nil {
		return err
	}
	b.initialized = true
	b.format = f
	b.ctl.markReady(f, seekable, duration)
	b.release()
	b.log.Debug("decoder ready", "format", f.String(), "seekable", seekable, "duration", duration)
	return nil
}

func (b *bridge) Command() Command {
	return b.ctl.waitCommand()
}

func (b *bridge) CommandFinished() {
	target := b.ctl.seekTarget()
	b.ctl.finishCommand(false, func() {
		b.discard()
		b.pipe.Clear(b.buffer)
		b.base = target
		b.written = 0
	})
}

func (b *bridge) SeekTime() time.Duration {
	return b.ctl.seekTarget()
}

func (b *bridge) SeekError() {
	b.ctl.finishCommand(true, nil)
}

func (b *bridge) Write(data []byte, bitRate uint16) Command {
	if !b.initialized {
		b.log.Error("decoder wrote PCM before announcing a format")
		return CommandStop
	}
	if cmd := b.ctl.waitCommand(); cmd != CommandNone {
		return cmd
	}
	b.ctl.markDecoding()

	for len(data) > 0 {
		c, cmd := b.chunk()
		if c == nil {
			return cmd
		}

		dst := c.Reserve(b.format, b.position(), bitRate)
		if dst == nil {
			b.flush()
			continue
		}
		n := copy(dst, data)
		data = data[n:]
		b.written += n

		if c.Commit(b.format, n) {
			b.flush()
			if cmd := b.ctl.waitCommand(); cmd != CommandNone {
				return cmd
			}
		}
	}
	return CommandNone
}

func (b *bridge) SubmitTag(t *tag.Tag) Command {
	if cmd := b.ctl.waitCommand(); cmd != CommandNone {
		return cmd
	}
	b.flush()
	c, cmd := b.chunk()
	if c == nil {
		return cmd
	}
	c.SetTag(t)
	return CommandNone
}

func (b *bridge) position() time.Duration {
	return b.base + b.format.Duration(b.written)
}

// chunk returns the chunk being filled, allocating one if needed. It gives
// up when a SEEK or STOP arrives while the pool is exhausted.
func (b *bridge) chunk() (*pipe.Chunk, Command) {
	for b.current == nil {
		c, ok := b.buffer.Allocate(b.ctl.interrupt)
		if ok {
			b.current = c
			break
		}
		if cmd := b.ctl.waitCommand(); cmd != CommandNone {
			return nil, cmd
		}
	}
	return b.current, CommandNone
}

// flush hands the current chunk to the consumer.
func (b *bridge) flush() {
	c := b.current
	if c == nil {
		return
	}
	b.current = nil
	if c.IsEmpty() || !b.pipe.Push(c) {
		b.buffer.Return(c)
	}
}

// discard drops the partially filled chunk.
func (b *bridge) discard() {
	if b.current != nil {
		b.buffer.Return(b.current)
		b.current = nil
	}
}
