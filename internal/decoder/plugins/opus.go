// ABOUTME: Ogg Opus decoder plugin built on hraban/opus
// ABOUTME: Decodes at 48 kHz 16-bit and scans OpusTags vorbis comments
package plugins

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"time"

	"gopkg.in/hraban/opus.v2"

	"github.com/Resonate-Protocol/resonated/internal/config"
	"github.com/Resonate-Protocol/resonated/internal/decoder"
	"github.com/Resonate-Protocol/resonated/internal/input"
	"github.com/Resonate-Protocol/resonated/internal/logging"
	"github.com/Resonate-Protocol/resonated/internal/mediaerr"
	"github.com/Resonate-Protocol/resonated/internal/scan"
	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

const (
	opusRate = 48000
	// 120 ms, the longest opus packet
	opusMaxFrames = 5760
)

// Opus decodes Ogg Opus files.
type Opus struct {
	log *slog.Logger
}

func NewOpus(logger *slog.Logger) *Opus {
	return &Opus{log: logging.Or(logger)}
}

func (p *Opus) Name() string            { return "opus" }
func (p *Opus) Init(config.Block) error { return nil }
func (p *Opus) Suffixes() []string      { return []string{"opus", "ogg"} }
func (p *Opus) MIMETypes() []string     { return []string{"audio/ogg", "audio/opus"} }

type opusHead struct {
	channels int
	preSkip  int64
	serial   uint32
}

// readOpusHead reads the identification header from the start of s.
func readOpusHead(s input.Stream) (*oggReader, opusHead, error) {
	var head opusHead
	o := newOggReader(s)
	pkt, err := o.Packet()
	if err != nil || len(pkt) < 19 || !bytes.HasPrefix(pkt, []byte("OpusHead")) {
		return nil, head, mediaerr.E(mediaerr.KindUnsupportedFormat, "opus", s.URI(), nil)
	}
	head.channels = int(pkt[9])
	head.preSkip = int64(binary.LittleEndian.Uint16(pkt[10:12]))
	head.serial = o.serial
	if err := audio.CheckChannels(head.channels); err != nil {
		return nil, head, mediaerr.E(mediaerr.KindUnsupportedFormat, "opus", s.URI(), err)
	}
	return o, head, nil
}

func opusDuration(s input.Stream, head opusHead) time.Duration {
	size := s.Size()
	if size == input.UnknownSize {
		return tag.UnknownDuration
	}
	g, ok := lastGranule(s, size, head.serial)
	if !ok || g <= head.preSkip {
		return tag.UnknownDuration
	}
	return time.Duration((g - head.preSkip) * int64(time.Second) / opusRate)
}

func (p *Opus) DecodeStream(c decoder.Client, s input.Stream) error {
	_, head, err := readOpusHead(s)
	if err != nil {
		return err
	}
	duration := opusDuration(s, head)
	if err := s.Rewind(); err != nil {
		return mediaerr.E(mediaerr.KindIOFailure, "opus", s.URI(), err)
	}

	stream, err := opus.NewStream(s)
	if err != nil {
		return mediaerr.E(mediaerr.KindMalformedContainer, "opus", s.URI(), err)
	}
	defer stream.Close()

	f := audio.PCM(opusRate, head.channels, 16)
	if err := c.Ready(f, false, duration); err != nil {
		return err
	}

	pcm := make([]int16, opusMaxFrames*head.channels)
	out := make([]byte, len(pcm)*2)
	for {
		n, err := stream.Read(pcm)
		if n > 0 {
			samples := n * head.channels
			for i, v := range pcm[:samples] {
				binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
			}
			switch c.Write(out[:2*samples], 0) {
			case decoder.CommandStop:
				return nil
			case decoder.CommandSeek:
				c.SeekError()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return mediaerr.E(mediaerr.KindIOFailure, "opus read", s.URI(), err)
		}
		if n == 0 {
			return nil
		}
	}
}

// ScanStream reads OpusTags and the length implied by the last granule.
func (p *Opus) ScanStream(s input.Stream, h tag.Handler) error {
	o, head, err := readOpusHead(s)
	if err != nil {
		return err
	}
	pkt, err := o.Packet()
	if err == nil && bytes.HasPrefix(pkt, []byte("OpusTags")) {
		if err := scan.VorbisComments(pkt[8:], h); err != nil {
			p.log.Debug("bad opus comments", "uri", s.URI(), "err", err)
		}
	}
	if d := opusDuration(s, head); d != tag.UnknownDuration {
		h.OnDuration(d)
	}
	return nil
}
