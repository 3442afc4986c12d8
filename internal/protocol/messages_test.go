// ABOUTME: Tests for the binary audio frame layout
// ABOUTME: Checks header encoding and rejection of malformed frames
package protocol

import (
	"bytes"
	"testing"
)

func TestAudioChunkLayout(t *testing.T) {
	frame := AudioChunk(0x0102030405060708, []byte{0xAA, 0xBB})

	want := []byte{AudioChunkMessageType, 1, 2, 3, 4, 5, 6, 7, 8, 0xAA, 0xBB}
	if !bytes.Equal(frame, want) {
		t.Fatalf("expected %x, got %x", want, frame)
	}

	ts, payload, err := ParseAudioChunk(frame)
	if err != nil {
		t.Fatalf("ParseAudioChunk failed: %v", err)
	}
	if ts != 0x0102030405060708 {
		t.Errorf("unexpected timestamp %x", ts)
	}
	if !bytes.Equal(payload, []byte{0xAA, 0xBB}) {
		t.Errorf("unexpected payload %x", payload)
	}
}

func TestParseAudioChunkRejects(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"empty", nil},
		{"short header", []byte{AudioChunkMessageType, 0, 0}},
		{"wrong type", append([]byte{7}, make([]byte, 8)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseAudioChunk(tt.frame); err != ErrShortFrame {
				t.Errorf("expected ErrShortFrame, got %v", err)
			}
		})
	}
}
