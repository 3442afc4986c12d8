// ABOUTME: FLAC decoder plugin built on mewkiz/flac
// ABOUTME: Interleaves decoded subframes and reads VORBIS_COMMENT blocks for scans
package plugins

import (
	"io"
	"log/slog"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/meta"

	"github.com/Resonate-Protocol/resonated/internal/config"
	"github.com/Resonate-Protocol/resonated/internal/decoder"
	"github.com/Resonate-Protocol/resonated/internal/input"
	"github.com/Resonate-Protocol/resonated/internal/logging"
	"github.com/Resonate-Protocol/resonated/internal/mediaerr"
	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

// FLAC decodes native FLAC streams.
type FLAC struct {
	log *slog.Logger
}

func NewFLAC(logger *slog.Logger) *FLAC {
	return &FLAC{log: logging.Or(logger)}
}

func (p *FLAC) Name() string            { return "flac" }
func (p *FLAC) Init(config.Block) error { return nil }
func (p *FLAC) Suffixes() []string      { return []string{"flac"} }
func (p *FLAC) MIMETypes() []string     { return []string{"audio/flac", "audio/x-flac"} }

// openFLAC skips a leading ID3v2 tag, checks the signature and parses the
// metadata blocks. The stream is seekable when s has a known size.
func openFLAC(s input.Stream) (*flac.Stream, bool, error) {
	var head [10]byte
	if _, err := io.ReadFull(s, head[:]); err != nil {
		return nil, false, mediaerr.E(mediaerr.KindUnsupportedFormat, "flac", s.URI(), nil)
	}
	skip := id3v2Length(head[:])
	if _, err := s.Seek(skip, io.SeekStart); err != nil {
		return nil, false, mediaerr.E(mediaerr.KindIOFailure, "flac", s.URI(), err)
	}
	var magic [4]byte
	if _, err := io.ReadFull(s, magic[:]); err != nil || string(magic[:]) != "fLaC" {
		return nil, false, mediaerr.E(mediaerr.KindUnsupportedFormat, "flac", s.URI(), nil)
	}
	if _, err := s.Seek(skip, io.SeekStart); err != nil {
		return nil, false, mediaerr.E(mediaerr.KindIOFailure, "flac", s.URI(), err)
	}

	var (
		stream *flac.Stream
		err    error
	)
	seekable := s.Size() != input.UnknownSize
	if seekable {
		stream, err = flac.NewSeek(input.Section(s, skip, s.Size()-skip))
	} else {
		stream, err = flac.Parse(struct{ io.Reader }{s})
	}
	if err != nil {
		return nil, false, mediaerr.E(mediaerr.KindMalformedContainer, "flac", s.URI(), err)
	}
	return stream, seekable, nil
}

func flacDuration(info *meta.StreamInfo) time.Duration {
	if info.NSamples == 0 || info.SampleRate == 0 {
		return tag.UnknownDuration
	}
	rate := uint64(info.SampleRate)
	whole := time.Duration(info.NSamples/rate) * time.Second
	return whole + time.Duration(info.NSamples%rate*uint64(time.Second)/rate)
}

// outputDepth picks the PCM depth for a FLAC sample size. Odd sizes are
// widened to the next supported depth.
func outputDepth(bits int) int {
	switch {
	case bits <= 8:
		return 8
	case bits <= 16:
		return 16
	case bits <= 24:
		return 24
	}
	return 32
}

func (p *FLAC) DecodeStream(c decoder.Client, s input.Stream) error {
	stream, seekable, err := openFLAC(s)
	if err != nil {
		return err
	}
	defer stream.Close()

	info := stream.Info
	bits := int(info.BitsPerSample)
	depth := outputDepth(bits)
	f := audio.PCM(int(info.SampleRate), int(info.NChannels), depth)
	if err := f.Validate(); err != nil {
		return mediaerr.E(mediaerr.KindUnsupportedFormat, "flac", s.URI(), err)
	}
	duration := flacDuration(info)
	if err := c.Ready(f, seekable, duration); err != nil {
		return err
	}

	var bitRate uint16
	if duration > 0 && s.Size() > 0 {
		bitRate = uint16(min(float64(s.Size())*8/duration.Seconds()/1000, 0xFFFF))
	}

	shift := depth - bits
	var out []byte
	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return mediaerr.E(mediaerr.KindIOFailure, "flac frame", s.URI(), err)
		}
		if len(frame.Subframes) != f.Channels {
			return mediaerr.E(mediaerr.KindMalformedContainer, "flac frame", s.URI(), nil)
		}

		n := len(frame.Subframes[0].Samples)
		if need := n * f.FrameSize(); cap(out) < need {
			out = make([]byte, need)
		}
		size := 0
		for i := 0; i < n; i++ {
			for _, sub := range frame.Subframes {
				size += audio.PutSample(out[size:], sub.Samples[i]<<shift, depth)
			}
		}

		switch c.Write(out[:size], bitRate) {
		case decoder.CommandStop:
			return nil
		case decoder.CommandSeek:
			sample := uint64(c.SeekTime()) * uint64(f.SampleRate) / uint64(time.Second)
			if info.NSamples > 0 && sample >= info.NSamples {
				c.SeekError()
				continue
			}
			if _, err := stream.Seek(sample); err != nil {
				p.log.Debug("flac seek failed", "uri", s.URI(), "err", err)
				c.SeekError()
				continue
			}
			c.CommandFinished()
		}
	}
}

// ScanStream reports the STREAMINFO duration and the vorbis comments.
func (p *FLAC) ScanStream(s input.Stream, h tag.Handler) error {
	stream, _, err := openFLAC(s)
	if err != nil {
		return err
	}
	defer stream.Close()

	if d := flacDuration(stream.Info); d != tag.UnknownDuration {
		h.OnDuration(d)
	}
	for _, block := range stream.Blocks {
		vc, ok := block.Body.(*meta.VorbisComment)
		if !ok {
			continue
		}
		for _, kv := range vc.Tags {
			h.OnPair(kv[0], kv[1])
		}
	}
	return nil
}
