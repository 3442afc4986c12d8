// ABOUTME: Standard MIDI File reader producing a timed note event list
// ABOUTME: Parsing and tempo maps come from gomidi; notes are flattened into one song
package plugins

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const maxSMFSize = 16 << 20

var errNotSMF = errors.New("not a standard MIDI file")

// NoteEvent is a note on or off at an absolute song time.
type NoteEvent struct {
	At       time.Duration
	Channel  byte
	Key      byte
	Velocity byte
	On       bool
}

// Song is a parsed MIDI file flattened into one time-ordered event list.
type Song struct {
	Format   int
	Tracks   int
	Events   []NoteEvent
	Duration time.Duration
}

type tickedNote struct {
	tick int64
	note NoteEvent
}

// ParseSMF reads a complete Standard MIDI File of format 0 or 1.
func ParseSMF(r io.Reader) (*Song, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSMFSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxSMFSize {
		return nil, fmt.Errorf("midi file larger than %d bytes", maxSMFSize)
	}
	if len(data) < 14 || string(data[:4]) != "MThd" {
		return nil, errNotSMF
	}
	// format 2 tracks are separate patterns, not one song
	format := binary.BigEndian.Uint16(data[8:10])
	if format > 1 {
		return nil, fmt.Errorf("unsupported midi format %d", format)
	}

	file, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var notes []tickedNote
	var end int64
	for _, track := range file.Tracks {
		var tick int64
		for _, ev := range track {
			tick += int64(ev.Delta)
			var ch, key, vel uint8
			msg := midi.Message(ev.Message)
			switch {
			case msg.GetNoteStart(&ch, &key, &vel):
				notes = append(notes, tickedNote{tick, NoteEvent{Channel: ch, Key: key, Velocity: vel, On: true}})
			case msg.GetNoteEnd(&ch, &key):
				notes = append(notes, tickedNote{tick, NoteEvent{Channel: ch, Key: key}})
			}
		}
		end = max(end, tick)
	}
	sort.SliceStable(notes, func(a, b int) bool { return notes[a].tick < notes[b].tick })

	song := &Song{
		Format:   int(format),
		Tracks:   len(file.Tracks),
		Events:   make([]NoteEvent, 0, len(notes)),
		Duration: time.Duration(file.TimeAt(end)) * time.Microsecond,
	}
	for _, n := range notes {
		n.note.At = time.Duration(file.TimeAt(n.tick)) * time.Microsecond
		song.Events = append(song.Events, n.note)
	}
	return song, nil
}
