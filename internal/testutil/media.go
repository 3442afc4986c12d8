// ABOUTME: Builders for small synthetic media files used across package tests
// ABOUTME: Produces ID3, APE, RIFF/WAVE, AIFF, MIDI and SoundFont byte images
package testutil

import (
	"bytes"
	"encoding/binary"
)

// Frame is one ID3v2 text frame, e.g. {"TIT2", "Title"}.
type Frame struct {
	ID   string
	Text string
}

// ID3v23 returns an ID3v2.3 tag holding ISO-8859-1 text frames.
func ID3v23(frames ...Frame) []byte {
	var body bytes.Buffer
	for _, f := range frames {
		payload := append([]byte{0}, f.Text...)
		body.WriteString(f.ID)
		binary.Write(&body, binary.BigEndian, uint32(len(payload)))
		body.Write([]byte{0, 0})
		body.Write(payload)
	}

	var out bytes.Buffer
	out.WriteString("ID3")
	out.Write([]byte{3, 0, 0})
	out.Write(syncsafe(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func syncsafe(n int) []byte {
	return []byte{byte(n>>21) & 0x7f, byte(n>>14) & 0x7f, byte(n>>7) & 0x7f, byte(n) & 0x7f}
}

// ID3v1 returns a 128-byte ID3v1 trailer.
func ID3v1(title, artist, album string) []byte {
	b := make([]byte, 128)
	copy(b, "TAG")
	copy(b[3:33], title)
	copy(b[33:63], artist)
	copy(b[63:93], album)
	b[127] = 255
	return b
}

// APEItem is one APEv2 item. Binary marks a non-text item.
type APEItem struct {
	Key    string
	Value  string
	Binary bool
}

// APEv2 returns an APEv2 tag body followed by its footer.
func APEv2(items ...APEItem) []byte {
	var body bytes.Buffer
	for _, it := range items {
		var flags uint32
		if it.Binary {
			flags = 1 << 1
		}
		binary.Write(&body, binary.LittleEndian, uint32(len(it.Value)))
		binary.Write(&body, binary.LittleEndian, flags)
		body.WriteString(it.Key)
		body.WriteByte(0)
		body.WriteString(it.Value)
	}

	var footer bytes.Buffer
	footer.WriteString("APETAGEX")
	binary.Write(&footer, binary.LittleEndian, uint32(2000))
	binary.Write(&footer, binary.LittleEndian, uint32(body.Len()+32))
	binary.Write(&footer, binary.LittleEndian, uint32(len(items)))
	binary.Write(&footer, binary.LittleEndian, uint32(0))
	footer.Write(make([]byte, 8))

	return append(body.Bytes(), footer.Bytes()...)
}

// Chunk is one RIFF or IFF sub-chunk.
type Chunk struct {
	ID   string
	Data []byte
}

// RIFF builds a little-endian RIFF container of the given form type. Odd
// sized chunks receive a pad byte.
func RIFF(form string, chunks ...Chunk) []byte {
	return container("RIFF", form, binary.LittleEndian, chunks)
}

// AIFF builds a big-endian FORM container.
func AIFF(chunks ...Chunk) []byte {
	return container("FORM", "AIFF", binary.BigEndian, chunks)
}

func container(magic, form string, order binary.ByteOrder, chunks []Chunk) []byte {
	var body bytes.Buffer
	body.WriteString(form)
	for _, c := range chunks {
		body.WriteString(c.ID)
		binary.Write(&body, order, uint32(len(c.Data)))
		body.Write(c.Data)
		if len(c.Data)%2 != 0 {
			body.WriteByte(0)
		}
	}

	var out bytes.Buffer
	out.WriteString(magic)
	binary.Write(&out, order, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

// WAV returns a PCM WAVE file holding the given interleaved 16-bit samples
// plus any extra chunks after the data chunk.
func WAV(sampleRate, channels int, samples []int16, extra ...Chunk) []byte {
	var fmtChunk bytes.Buffer
	blockAlign := channels * 2
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(1))
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(channels))
	binary.Write(&fmtChunk, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&fmtChunk, binary.LittleEndian, uint32(sampleRate*blockAlign))
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(16))

	var data bytes.Buffer
	binary.Write(&data, binary.LittleEndian, samples)

	chunks := []Chunk{{"fmt ", fmtChunk.Bytes()}, {"data", data.Bytes()}}
	return RIFF("WAVE", append(chunks, extra...)...)
}

// InfoList returns a LIST/INFO chunk payload from id/value pairs such as
// "INAM", "Title".
func InfoList(pairs ...string) []byte {
	var b bytes.Buffer
	b.WriteString("INFO")
	for i := 0; i+1 < len(pairs); i += 2 {
		v := append([]byte(pairs[i+1]), 0)
		b.WriteString(pairs[i])
		binary.Write(&b, binary.LittleEndian, uint32(len(v)))
		b.Write(v)
		if len(v)%2 != 0 {
			b.WriteByte(0)
		}
	}
	return b.Bytes()
}

// MIDINote is a note in a single-track test song.
type MIDINote struct {
	Key      byte
	Velocity byte
	// Start and Length are in ticks.
	Start  uint32
	Length uint32
	// Held notes get no note off.
	Held bool
}

// MIDI returns a format 0 Standard MIDI File with 480 ticks per quarter
// note, the given tempo in microseconds per quarter and the notes.
func MIDI(tempo uint32, notes ...MIDINote) []byte {
	type event struct {
		at   uint32
		data []byte
	}
	events := []event{{0, []byte{0xFF, 0x51, 0x03, byte(tempo >> 16), byte(tempo >> 8), byte(tempo)}}}
	for _, n := range notes {
		events = append(events, event{n.Start, []byte{0x90, n.Key, n.Velocity}})
		if !n.Held {
			events = append(events, event{n.Start + n.Length, []byte{0x80, n.Key, 0}})
		}
	}
	// insertion sort keeps equal timestamps in order
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].at < events[j-1].at; j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}

	var track bytes.Buffer
	var now uint32
	for _, e := range events {
		track.Write(vlq(e.at - now))
		track.Write(e.data)
		now = e.at
	}
	track.Write([]byte{0x00, 0xFF, 0x2F, 0x00})

	var out bytes.Buffer
	out.WriteString("MThd")
	binary.Write(&out, binary.BigEndian, uint32(6))
	binary.Write(&out, binary.BigEndian, uint16(0))
	binary.Write(&out, binary.BigEndian, uint16(1))
	binary.Write(&out, binary.BigEndian, uint16(480))
	out.WriteString("MTrk")
	binary.Write(&out, binary.BigEndian, uint32(track.Len()))
	out.Write(track.Bytes())
	return out.Bytes()
}

func vlq(v uint32) []byte {
	out := []byte{byte(v & 0x7f)}
	for v >>= 7; v > 0; v >>= 7 {
		out = append([]byte{byte(v&0x7f) | 0x80}, out...)
	}
	return out
}

// SoundFont returns a minimal RIFF "sfbk" file.
func SoundFont() []byte {
	return RIFF("sfbk", Chunk{"LIST", []byte("INFOifil\x04\x00\x00\x00\x02\x00\x01\x00")})
}
