// ABOUTME: Local speaker sink backed by oto
// ABOUTME: Converts chunks to 16-bit PCM and streams them through one persistent player
package player

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/ebitengine/oto/v3"

	"github.com/Resonate-Protocol/resonated/internal/logging"
	"github.com/Resonate-Protocol/resonated/internal/pipe"
	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

// OtoSink plays through the default audio device. oto allows one context
// per process, so the format of the first song sticks.
type OtoSink struct {
	log    *slog.Logger
	otoCtx *oto.Context
	player *oto.Player
	pr     *io.PipeReader
	pw     *io.PipeWriter
	device audio.Format
	source audio.Format

	samples []int16
	out     []byte
}

func NewOtoSink(logger *slog.Logger) *OtoSink {
	return &OtoSink{log: logging.Or(logger)}
}

func (o *OtoSink) Open(f audio.Format) error {
	o.source = f
	if o.otoCtx != nil {
		if f.SampleRate != o.device.SampleRate || f.Channels != o.device.Channels {
			o.log.Warn("format change not supported by output device, keeping device format",
				"device", o.device, "song", f)
		}
		return nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("create oto context: %w", err)
	}
	<-ready

	o.otoCtx = ctx
	o.device = audio.PCM(f.SampleRate, f.Channels, 16)
	o.pr, o.pw = io.Pipe()
	o.player = ctx.NewPlayer(o.pr)
	o.player.Play()
	o.log.Info("audio output initialized", "format", o.device)
	return nil
}

// Write blocks until the device pipe has taken the chunk.
func (o *OtoSink) Write(c *pipe.Chunk) error {
	if o.pw == nil {
		return fmt.Errorf("output not initialized")
	}
	data := c.Data()
	if o.source.BitDepth != 16 {
		n := len(data) / o.source.SampleSize()
		if cap(o.samples) < n {
			o.samples = make([]int16, n)
			o.out = make([]byte, 2*n)
		}
		n = audio.ToInt16(o.samples[:n], data, o.source.BitDepth)
		for i, s := range o.samples[:n] {
			binary.LittleEndian.PutUint16(o.out[2*i:], uint16(s))
		}
		data = o.out[:2*n]
	}
	if _, err := o.pw.Write(data); err != nil {
		return fmt.Errorf("pipe write failed: %w", err)
	}
	return nil
}

func (o *OtoSink) Metadata(t *tag.Tag) {
	o.log.Info("now playing", "artist", t.Get(tag.Artist), "title", t.Get(tag.Title))
}

func (o *OtoSink) Close() error {
	if o.pw != nil {
		o.pw.Close()
		o.pw = nil
	}
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.pr != nil {
		o.pr.Close()
		o.pr = nil
	}
	if o.otoCtx != nil {
		return o.otoCtx.Suspend()
	}
	return nil
}
