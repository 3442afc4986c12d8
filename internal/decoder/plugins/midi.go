// ABOUTME: MIDI decoder plugin rendering songs through a synthesis backend
// ABOUTME: Validates the sound font at init and renders fixed-size stereo blocks
package plugins

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Resonate-Protocol/resonated/internal/config"
	"github.com/Resonate-Protocol/resonated/internal/decoder"
	"github.com/Resonate-Protocol/resonated/internal/input"
	"github.com/Resonate-Protocol/resonated/internal/logging"
	"github.com/Resonate-Protocol/resonated/internal/mediaerr"
	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

const (
	DefaultMIDISampleRate = 48000
	DefaultSoundFont      = "/usr/share/sounds/sf2/FluidR3_GM.sf2"

	midiBlockFrames = 1024
)

// MIDI synthesizes Standard MIDI Files.
type MIDI struct {
	log     *slog.Logger
	backend SynthBackend

	sampleRate int
	soundFont  string
}

// NewMIDI creates the plugin. A nil backend selects ToneBackend.
func NewMIDI(logger *slog.Logger, backend SynthBackend) *MIDI {
	if backend == nil {
		backend = ToneBackend{}
	}
	return &MIDI{log: logging.Or(logger), backend: backend}
}

func (m *MIDI) Name() string        { return "midi" }
func (m *MIDI) Suffixes() []string  { return []string{"mid", "midi"} }
func (m *MIDI) MIMETypes() []string { return []string{"audio/midi", "audio/x-midi"} }

// Init reads sample_rate and soundfont from the block.
func (m *MIDI) Init(cfg config.Block) error {
	rate, err := cfg.Uint("sample_rate", DefaultMIDISampleRate)
	if err != nil {
		return mediaerr.E(mediaerr.KindBackendInitFailure, "midi init", "", err)
	}
	if err := audio.CheckSampleRate(int(rate)); err != nil {
		return mediaerr.E(mediaerr.KindBackendInitFailure, "midi init", "", err)
	}
	sf, err := cfg.String("soundfont", DefaultSoundFont)
	if err != nil {
		return mediaerr.E(mediaerr.KindBackendInitFailure, "midi init", "", err)
	}
	if err := checkSoundFont(sf); err != nil {
		return mediaerr.E(mediaerr.KindBackendInitFailure, "midi init", sf, err)
	}

	m.sampleRate = int(rate)
	m.soundFont = sf
	m.log.Debug("midi plugin ready", "sample_rate", m.sampleRate, "soundfont", sf)
	return nil
}

// DecodeFile renders path until the song ends or a command arrives.
func (m *MIDI) DecodeFile(c decoder.Client, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return mediaerr.E(mediaerr.KindResourceUnavailable, "midi", path, err)
	}
	if !bytes.HasPrefix(data, []byte("MThd")) {
		return mediaerr.E(mediaerr.KindUnsupportedFormat, "midi", path, nil)
	}
	song, err := ParseSMF(bytes.NewReader(data))
	if err != nil {
		return mediaerr.E(mediaerr.KindMalformedContainer, "midi", path, err)
	}

	synth, err := m.backend.NewSynth(m.sampleRate)
	if err != nil {
		return mediaerr.E(mediaerr.KindBackendInitFailure, "midi synth", path, err)
	}
	defer synth.Close()

	if err := synth.LoadSoundFont(m.soundFont); err != nil {
		return mediaerr.E(mediaerr.KindBackendInitFailure, "midi soundfont", m.soundFont, err)
	}

	player, err := synth.NewPlayer(bytes.NewReader(data))
	if err != nil {
		return mediaerr.E(mediaerr.KindBackendInitFailure, "midi player", path, err)
	}
	defer player.Close()

	if err := c.Ready(audio.PCM(m.sampleRate, 2, 16), false, song.Duration); err != nil {
		return err
	}

	samples := make([]int16, 2*midiBlockFrames)
	out := make([]byte, 4*midiBlockFrames)
	for {
		frames, err := player.Render(samples)
		if frames > 0 {
			n := frames * 2
			for i, s := range samples[:n] {
				binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
			}
			switch c.Write(out[:2*n], 0) {
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
			return mediaerr.E(mediaerr.KindIOFailure, "midi render", path, err)
		}
	}
}

// ScanStream reports the song length. MIDI files carry no text tags we
// read.
func (m *MIDI) ScanStream(s input.Stream, h tag.Handler) error {
	var magic [4]byte
	if _, err := io.ReadFull(s, magic[:]); err != nil || string(magic[:]) != "MThd" {
		return mediaerr.E(mediaerr.KindUnsupportedFormat, "midi scan", s.URI(), nil)
	}
	if err := s.Rewind(); err != nil {
		return mediaerr.E(mediaerr.KindIOFailure, "midi scan", s.URI(), err)
	}
	song, err := ParseSMF(s)
	if err != nil {
		return mediaerr.E(mediaerr.KindMalformedContainer, "midi scan", s.URI(), fmt.Errorf("parse: %w", err))
	}
	h.OnDuration(song.Duration)
	return nil
}
