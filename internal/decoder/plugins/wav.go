// ABOUTME: RIFF/WAVE decoder plugin built on go-audio/wav
// ABOUTME: Streams integer PCM, seeks inside the data chunk and scans INFO tags
package plugins

import (
	"io"
	"log/slog"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Resonate-Protocol/resonated/internal/config"
	"github.com/Resonate-Protocol/resonated/internal/decoder"
	"github.com/Resonate-Protocol/resonated/internal/input"
	"github.com/Resonate-Protocol/resonated/internal/logging"
	"github.com/Resonate-Protocol/resonated/internal/mediaerr"
	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE

	wavBlockFrames = 1024
)

// WAV decodes uncompressed RIFF/WAVE files.
type WAV struct {
	log *slog.Logger
}

func NewWAV(logger *slog.Logger) *WAV {
	return &WAV{log: logging.Or(logger)}
}

func (p *WAV) Name() string            { return "wav" }
func (p *WAV) Init(config.Block) error { return nil }
func (p *WAV) Suffixes() []string      { return []string{"wav", "wave"} }
func (p *WAV) MIMETypes() []string     { return []string{"audio/wav", "audio/x-wav", "audio/wave"} }

type wavInfo struct {
	format   audio.Format
	dataAt   int64
	dataSize int64
	duration time.Duration
	bitRate  uint16
}

// open parses the headers and leaves s at the first PCM byte.
func (p *WAV) open(s input.Stream) (*wav.Decoder, wavInfo, error) {
	var info wavInfo
	d := wav.NewDecoder(s)
	if !d.IsValidFile() {
		return nil, info, mediaerr.E(mediaerr.KindUnsupportedFormat, "wav", s.URI(), d.Err())
	}
	if d.WavAudioFormat != wavFormatPCM && d.WavAudioFormat != wavFormatExtensible {
		return nil, info, mediaerr.E(mediaerr.KindUnsupportedFormat, "wav", s.URI(), nil)
	}
	if err := d.FwdToPCM(); err != nil {
		return nil, info, mediaerr.E(mediaerr.KindMalformedContainer, "wav", s.URI(), err)
	}
	if d.PCMChunk == nil {
		return nil, info, mediaerr.E(mediaerr.KindMalformedContainer, "wav", s.URI(), d.Err())
	}

	info.format = audio.PCM(int(d.SampleRate), int(d.NumChans), int(d.BitDepth))
	if err := info.format.Validate(); err != nil {
		return nil, info, mediaerr.E(mediaerr.KindUnsupportedFormat, "wav", s.URI(), err)
	}
	info.dataAt = s.Offset()
	info.dataSize = d.PCMLen()
	if size := s.Size(); size != input.UnknownSize && info.dataAt+info.dataSize > size {
		// truncated files play what is there
		info.dataSize = size - info.dataAt
	}
	info.duration = info.format.Duration(int(info.dataSize))
	info.bitRate = uint16(min(info.format.BytesPerSecond()*8/1000, 0xFFFF))
	return d, info, nil
}

func (p *WAV) DecodeStream(c decoder.Client, s input.Stream) error {
	d, info, err := p.open(s)
	if err != nil {
		return err
	}
	f := info.format
	if err := c.Ready(f, true, info.duration); err != nil {
		return err
	}

	d.PCMChunk.R = fullReader{d.PCMChunk.R}
	buf := &goaudio.IntBuffer{Data: make([]int, wavBlockFrames*f.Channels)}
	out := make([]byte, wavBlockFrames*f.FrameSize())
	for {
		n, err := d.PCMBuffer(buf)
		if err != nil {
			return mediaerr.E(mediaerr.KindIOFailure, "wav read", s.URI(), err)
		}
		n -= n % f.Channels
		if n == 0 {
			return nil
		}

		size := 0
		for _, v := range buf.Data[:n] {
			if f.BitDepth == 8 {
				// WAVE stores 8-bit samples unsigned
				v -= 128
			}
			size += audio.PutSample(out[size:], int32(v), f.BitDepth)
		}

		switch c.Write(out[:size], info.bitRate) {
		case decoder.CommandStop:
			return nil
		case decoder.CommandSeek:
			off := f.Bytes(c.SeekTime())
			if off > info.dataSize {
				c.SeekError()
				continue
			}
			if _, err := s.Seek(info.dataAt+off, io.SeekStart); err != nil {
				p.log.Debug("wav seek failed", "uri", s.URI(), "err", err)
				c.SeekError()
				continue
			}
			d.PCMChunk.R = fullReader{io.LimitReader(s, info.dataSize-off)}
			c.CommandFinished()
		}
	}
}

// ScanStream reports the duration and the LIST/INFO fields, wherever the
// LIST chunk sits relative to the data.
func (p *WAV) ScanStream(s input.Stream, h tag.Handler) error {
	d, info, err := p.open(s)
	if err != nil {
		return err
	}
	h.OnDuration(info.duration)

	if d.Metadata == nil {
		end := info.dataAt + info.dataSize + info.dataSize%2
		if _, err := s.Seek(end, io.SeekStart); err == nil {
			d.ReadMetadata()
		}
	}
	if md := d.Metadata; md != nil {
		emit := func(t tag.Type, v string) {
			if v != "" {
				h.OnTag(t, v)
			}
		}
		emit(tag.Title, md.Title)
		emit(tag.Artist, md.Artist)
		emit(tag.Album, md.Product)
		emit(tag.Genre, md.Genre)
		emit(tag.Track, md.TrackNbr)
		emit(tag.Date, md.CreationDate)
		emit(tag.Comment, md.Comments)
	}
	return nil
}

// fullReader keeps PCMBuffer from splitting frames on short network reads.
type fullReader struct {
	r io.Reader
}

func (f fullReader) Read(p []byte) (int, error) {
	n, err := io.ReadFull(f.r, p)
	if err == io.ErrUnexpectedEOF {
		err = nil
	}
	return n, err
}
