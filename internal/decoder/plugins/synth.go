// ABOUTME: Built-in synthesis backend rendering MIDI notes as sine voices
// ABOUTME: Stands in for a sample-based synthesizer when no native one is linked
package plugins

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/Resonate-Protocol/resonated/internal/scan"
)

// SynthBackend creates synthesizers. A backend may be shared by several
// decode sessions.
type SynthBackend interface {
	NewSynth(sampleRate int) (Synth, error)
}

// Synth renders songs with one loaded sound font.
type Synth interface {
	LoadSoundFont(path string) error
	NewPlayer(song io.Reader) (SongPlayer, error)
	Close() error
}

// SongPlayer renders interleaved S16 stereo frames. Render returns io.EOF
// once the song has ended.
type SongPlayer interface {
	Render(buf []int16) (frames int, err error)
	Close() error
}

// checkSoundFont verifies that path is a readable RIFF "sfbk" file.
func checkSoundFont(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h, err := scan.ReadRIFFHeader(f)
	if err != nil {
		return err
	}
	if string(h.ID[:]) != "RIFF" || string(h.Format[:]) != "sfbk" {
		return fmt.Errorf("%s is not a sound font", path)
	}
	return nil
}

// ToneBackend synthesizes every melodic note as a decaying sine wave.
type ToneBackend struct{}

func (ToneBackend) NewSynth(sampleRate int) (Synth, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	return &toneSynth{rate: sampleRate}, nil
}

type toneSynth struct {
	rate   int
	loaded bool
}

func (s *toneSynth) LoadSoundFont(path string) error {
	if err := checkSoundFont(path); err != nil {
		return err
	}
	s.loaded = true
	return nil
}

func (s *toneSynth) NewPlayer(r io.Reader) (SongPlayer, error) {
	if !s.loaded {
		return nil, fmt.Errorf("no sound font loaded")
	}
	song, err := ParseSMF(r)
	if err != nil {
		return nil, err
	}
	return &tonePlayer{rate: s.rate, song: song, voices: make(map[uint16]*voice)}, nil
}

func (s *toneSynth) Close() error { return nil }

const (
	drumChannel = 9

	// per-voice peak before mixing, leaves headroom for chords
	voiceGain = 0.2

	// release time constant in seconds
	releaseTime = 0.08
)

type voice struct {
	step     float64 // phase increment per frame
	phase    float64
	amp      float64
	released bool
}

type tonePlayer struct {
	rate   int
	song   *Song
	next   int
	frame  int64
	voices map[uint16]*voice
}

func (p *tonePlayer) Render(buf []int16) (int, error) {
	frames := len(buf) / 2
	end := p.song.Duration
	decay := math.Exp(-1 / (releaseTime * float64(p.rate)))

	n := 0
	for ; n < frames; n++ {
		now := frameTime(p.frame, p.rate)
		for p.next < len(p.song.Events) && p.song.Events[p.next].At <= now {
			p.apply(p.song.Events[p.next])
			p.next++
		}
		if now >= end && p.next >= len(p.song.Events) {
			if len(p.voices) == 0 {
				break
			}
			// notes still held at the end of the song fade out
			for _, v := range p.voices {
				v.released = true
			}
		}

		var mix float64
		for id, v := range p.voices {
			mix += v.amp * math.Sin(2*math.Pi*v.phase)
			v.phase += v.step
			if v.phase >= 1 {
				v.phase -= 1
			}
			if v.released {
				v.amp *= decay
				if v.amp < 1e-4 {
					delete(p.voices, id)
				}
			}
		}

		s := int16(math.Max(-1, math.Min(1, mix)) * math.MaxInt16)
		buf[2*n] = s
		buf[2*n+1] = s
		p.frame++
	}

	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (p *tonePlayer) apply(e NoteEvent) {
	if e.Channel == drumChannel {
		return
	}
	id := uint16(e.Channel)<<8 | uint16(e.Key)
	if !e.On {
		if v, ok := p.voices[id]; ok {
			v.released = true
		}
		return
	}
	freq := 440 * math.Pow(2, (float64(e.Key)-69)/12)
	p.voices[id] = &voice{
		step: freq / float64(p.rate),
		amp:  voiceGain * float64(e.Velocity) / 127,
	}
}

func (p *tonePlayer) Close() error {
	p.voices = nil
	return nil
}

func frameTime(frame int64, rate int) time.Duration {
	return time.Duration(frame * int64(time.Second) / int64(rate))
}
