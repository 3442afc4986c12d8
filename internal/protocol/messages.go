// ABOUTME: Stream protocol message definitions shared by the server and its clients
// ABOUTME: JSON control messages plus the binary audio frame layout
package protocol

import (
	"encoding/binary"
	"errors"
)

// Version of the stream protocol.
const Version = 1

// Message types.
const (
	TypeServerHello    = "server/hello"
	TypeClientHello    = "client/hello"
	TypeClientTime     = "client/time"
	TypeServerTime     = "server/time"
	TypeStreamStart    = "stream/start"
	TypeStreamMetadata = "stream/metadata"
	TypeServerError    = "server/error"
)

// Codecs a client may receive.
const (
	CodecPCM  = "pcm"
	CodecOpus = "opus"
)

// AudioChunkMessageType tags binary audio frames.
const AudioChunkMessageType = 1

// audioHeaderSize is the type byte plus the big-endian timestamp.
const audioHeaderSize = 1 + 8

// Message is the top-level wrapper for all JSON messages
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ServerHello is sent right after the websocket upgrade
type ServerHello struct {
	ServerID string `json:"server_id"`
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
}

// ClientHello lets a client name itself
type ClientHello struct {
	Name string `json:"name"`
}

// StreamStart announces the format of the binary frames that follow
type StreamStart struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth"`
}

// StreamMetadata describes the current song. DurationMs is omitted when unknown.
type StreamMetadata struct {
	URI         string `json:"uri,omitempty"`
	Title       string `json:"title,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
	AlbumArtist string `json:"album_artist,omitempty"`
	Track       string `json:"track,omitempty"`
	DurationMs  *int64 `json:"duration_ms,omitempty"`
}

// ClientTime is sent for clock synchronization
type ClientTime struct {
	ClientTransmitted int64 `json:"client_transmitted"` // Client timestamp in microseconds
}

// ServerTime is the response to client/time
type ServerTime struct {
	ClientTransmitted int64 `json:"client_transmitted"`
	ServerReceived    int64 `json:"server_received"`
	ServerTransmitted int64 `json:"server_transmitted"`
}

// Error is the payload of server/error
type Error struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var ErrShortFrame = errors.New("protocol: audio frame too short")

// AudioChunk builds a binary frame: [type:1][timestamp µs:8][payload:N].
func AudioChunk(timestamp int64, payload []byte) []byte {
	chunk := make([]byte, audioHeaderSize+len(payload))
	chunk[0] = AudioChunkMessageType
	binary.BigEndian.PutUint64(chunk[1:audioHeaderSize], uint64(timestamp))
	copy(chunk[audioHeaderSize:], payload)
	return chunk
}

// ParseAudioChunk splits a binary frame into its timestamp and payload.
func ParseAudioChunk(frame []byte) (int64, []byte, error) {
	if len(frame) < audioHeaderSize || frame[0] != AudioChunkMessageType {
		return 0, nil, ErrShortFrame
	}
	return int64(binary.BigEndian.Uint64(frame[1:audioHeaderSize])), frame[audioHeaderSize:], nil
}
