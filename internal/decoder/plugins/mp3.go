// ABOUTME: MPEG audio layer III decoder plugin built on go-mp3
// ABOUTME: Always produces 16-bit stereo and seeks by decoded byte offset
package plugins

import (
	"io"
	"log/slog"
	"time"

	"github.com/hajimehoshi/go-mp3"

	"github.com/Resonate-Protocol/resonated/internal/config"
	"github.com/Resonate-Protocol/resonated/internal/decoder"
	"github.com/Resonate-Protocol/resonated/internal/input"
	"github.com/Resonate-Protocol/resonated/internal/logging"
	"github.com/Resonate-Protocol/resonated/internal/mediaerr"
	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

const mp3ReadSize = 4608

// MP3 decodes MPEG-1/2 layer III streams.
type MP3 struct {
	log *slog.Logger
}

func NewMP3(logger *slog.Logger) *MP3 {
	return &MP3{log: logging.Or(logger)}
}

func (p *MP3) Name() string            { return "mp3" }
func (p *MP3) Init(config.Block) error { return nil }
func (p *MP3) Suffixes() []string      { return []string{"mp3"} }
func (p *MP3) MIMETypes() []string     { return []string{"audio/mpeg", "audio/mp3"} }

// id3v2Length returns the size of a leading ID3v2 tag given its 10-byte
// header, or 0 if there is none.
func id3v2Length(h []byte) int64 {
	if len(h) < 10 || string(h[:3]) != "ID3" {
		return 0
	}
	n := int64(h[6]&0x7f)<<21 | int64(h[7]&0x7f)<<14 | int64(h[8]&0x7f)<<7 | int64(h[9]&0x7f)
	n += 10
	if h[5]&0x10 != 0 {
		n += 10
	}
	return n
}

// sniffMP3 checks for a frame sync after any leading ID3v2 tag and
// rewinds s. It returns the tag length.
func sniffMP3(s input.Stream) (int64, bool) {
	var head [10]byte
	if _, err := io.ReadFull(s, head[:]); err != nil {
		return 0, false
	}
	skip := id3v2Length(head[:])
	if _, err := s.Seek(skip, io.SeekStart); err != nil {
		return 0, false
	}
	var sync [2]byte
	if _, err := io.ReadFull(s, sync[:]); err != nil {
		return 0, false
	}
	if s.Rewind() != nil {
		return 0, false
	}
	return skip, sync[0] == 0xFF && sync[1]&0xE0 == 0xE0
}

type mp3Info struct {
	dec      *mp3.Decoder
	format   audio.Format
	length   int64 // decoded bytes, -1 if unknown
	bitRate  uint16
	duration time.Duration
}

func (p *MP3) open(s input.Stream) (*mp3Info, error) {
	tagLen, ok := sniffMP3(s)
	if !ok {
		return nil, mediaerr.E(mediaerr.KindUnsupportedFormat, "mp3", s.URI(), nil)
	}

	var src io.Reader = s
	if s.Size() == input.UnknownSize {
		// without a length go-mp3 would try to index the whole stream
		src = struct{ io.Reader }{s}
	}
	dec, err := mp3.NewDecoder(src)
	if err != nil {
		return nil, mediaerr.E(mediaerr.KindMalformedContainer, "mp3", s.URI(), err)
	}

	info := &mp3Info{
		dec:      dec,
		format:   audio.PCM(dec.SampleRate(), 2, 16),
		length:   dec.Length(),
		duration: tag.UnknownDuration,
	}
	if info.length > 0 {
		info.duration = info.format.Duration(int(info.length))
		if secs := info.duration.Seconds(); secs > 0 && s.Size() > tagLen {
			kbps := float64(s.Size()-tagLen) * 8 / secs / 1000
			info.bitRate = uint16(min(max(kbps, 0), 0xFFFF))
		}
	}
	return info, nil
}

func (p *MP3) DecodeStream(c decoder.Client, s input.Stream) error {
	info, err := p.open(s)
	if err != nil {
		return err
	}
	if err := c.Ready(info.format, info.length > 0, info.duration); err != nil {
		return err
	}

	buf := make([]byte, mp3ReadSize)
	for {
		n, err := io.ReadFull(info.dec, buf)
		if n > 0 {
			switch c.Write(buf[:n], info.bitRate) {
			case decoder.CommandStop:
				return nil
			case decoder.CommandSeek:
				off := info.format.Bytes(c.SeekTime())
				if off >= info.length {
					c.SeekError()
					break
				}
				if _, err := info.dec.Seek(off, io.SeekStart); err != nil {
					p.log.Debug("mp3 seek failed", "uri", s.URI(), "err", err)
					c.SeekError()
					break
				}
				c.CommandFinished()
				continue
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return mediaerr.E(mediaerr.KindIOFailure, "mp3 read", s.URI(), err)
		}
	}
}

// ScanStream reports the duration only. Text tags are left to the ID3 and
// APE scanners.
func (p *MP3) ScanStream(s input.Stream, h tag.Handler) error {
	info, err := p.open(s)
	if err != nil {
		return err
	}
	if info.duration != tag.UnknownDuration {
		h.OnDuration(info.duration)
	}
	return nil
}
