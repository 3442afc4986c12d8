// ABOUTME: Audio type definitions
// ABOUTME: Defines the PCM format carried by chunks and sample packing helpers
package audio

import (
	"fmt"
	"time"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23

	// MaxChannels is the largest channel count a decoder may announce
	MaxChannels = 8
)

// CodecPCM marks decoded, interleaved little-endian PCM.
const CodecPCM = "pcm"

// Format describes an audio stream format. Values are comparable with ==.
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

// PCM returns a decoded PCM format.
func PCM(sampleRate, channels, bitDepth int) Format {
	return Format{Codec: CodecPCM, SampleRate: sampleRate, Channels: channels, BitDepth: bitDepth}
}

// IsDefined reports whether the format has been set.
func (f Format) IsDefined() bool {
	return f.SampleRate > 0 && f.Channels > 0 && f.BitDepth > 0
}

// SampleSize returns the number of bytes per sample (24-bit is packed).
func (f Format) SampleSize() int {
	return f.BitDepth / 8
}

// FrameSize returns the number of bytes for one sample on every channel.
func (f Format) FrameSize() int {
	return f.SampleSize() * f.Channels
}

// BytesPerSecond returns the PCM data rate.
func (f Format) BytesPerSecond() int {
	return f.FrameSize() * f.SampleRate
}

// Duration converts a byte count into playback time.
func (f Format) Duration(nbytes int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(nbytes) * int64(time.Second) / int64(bps))
}

// Bytes converts a playback time into a whole-frame byte offset.
func (f Format) Bytes(d time.Duration) int64 {
	frames := int64(d) * int64(f.SampleRate) / int64(time.Second)
	return frames * int64(f.FrameSize())
}

func (f Format) String() string {
	return fmt.Sprintf("%d:%d:%d", f.SampleRate, f.BitDepth, f.Channels)
}

// Validate checks every field of a PCM format.
func (f Format) Validate() error {
	if err := CheckSampleRate(f.SampleRate); err != nil {
		return err
	}
	if err := CheckBitDepth(f.BitDepth); err != nil {
		return err
	}
	return CheckChannels(f.Channels)
}

// CheckSampleRate rejects zero, negative and absurdly large rates.
func CheckSampleRate(rate int) error {
	if rate <= 0 || rate >= 1<<30 {
		return fmt.Errorf("invalid sample rate: %d", rate)
	}
	return nil
}

// CheckChannels accepts 1 through MaxChannels.
func CheckChannels(n int) error {
	if n < 1 || n > MaxChannels {
		return fmt.Errorf("invalid channel count: %d", n)
	}
	return nil
}

// CheckBitDepth accepts 8, 16, 24 and 32 bits.
func CheckBitDepth(bits int) error {
	switch bits {
	case 8, 16, 24, 32:
		return nil
	}
	return fmt.Errorf("invalid bit depth: %d", bits)
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}

// PutSample writes one sample at its native bit depth, little-endian.
// It returns the number of bytes written.
func PutSample(dst []byte, sample int32, bitDepth int) int {
	switch bitDepth {
	case 8:
		dst[0] = byte(int8(sample))
		return 1
	case 16:
		dst[0] = byte(sample)
		dst[1] = byte(sample >> 8)
		return 2
	case 24:
		b := SampleTo24Bit(sample)
		copy(dst, b[:])
		return 3
	case 32:
		dst[0] = byte(sample)
		dst[1] = byte(sample >> 8)
		dst[2] = byte(sample >> 16)
		dst[3] = byte(sample >> 24)
		return 4
	}
	return 0
}

// Interleave packs per-channel sample slices into dst and returns the
// number of bytes written. Every channel must hold the same sample count.
func Interleave(dst []byte, channels [][]int32, bitDepth int) int {
	if len(channels) == 0 {
		return 0
	}
	n := 0
	for i := range channels[0] {
		for ch := range channels {
			n += PutSample(dst[n:], channels[ch][i], bitDepth)
		}
	}
	return n
}

// ToInt16 converts packed little-endian samples of the given depth to
// 16-bit, keeping the most significant bits. It returns the number of
// samples written, bounded by len(dst).
func ToInt16(dst []int16, src []byte, bitDepth int) int {
	size := bitDepth / 8
	if size == 0 {
		return 0
	}
	n := min(len(src)/size, len(dst))
	for i := 0; i < n; i++ {
		b := src[i*size:]
		switch bitDepth {
		case 8:
			dst[i] = int16(int8(b[0])) << 8
		case 16:
			dst[i] = int16(uint16(b[0]) | uint16(b[1])<<8)
		case 24:
			dst[i] = int16(uint16(b[1]) | uint16(b[2])<<8)
		case 32:
			dst[i] = int16(uint16(b[2]) | uint16(b[3])<<8)
		}
	}
	return n
}
