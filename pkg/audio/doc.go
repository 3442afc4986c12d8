// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines the Format type and sample packing functions
// Package audio provides the PCM format description shared by decoders,
// the chunk pipe and every output.
//
// A decoder announces one Format per song; the chunk pipe refuses to mix
// formats inside a chunk. Samples travel as interleaved little-endian
// integers, 24-bit samples packed into three bytes.
//
// Example:
//
//	format := audio.PCM(48000, 2, 16)
//	if err := format.Validate(); err != nil {
//	    return err
//	}
//	frame := format.FrameSize() // 4 bytes
package audio
