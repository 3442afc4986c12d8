// ABOUTME: Sample rate conversion for interleaved 16-bit PCM
// ABOUTME: Feeds 48 kHz Opus encoders from songs decoded at other rates
// Package resample converts interleaved 16-bit PCM between sample rates.
//
// The stream server uses it to feed 48 kHz Opus encoders from songs
// decoded at other rates. Interpolation is linear and carries the last
// frame of each block into the next one.
//
// Example:
//
//	r := resample.New(44100, 48000, 2)
//	out := make([]int16, r.OutputSamplesNeeded(len(in)))
//	n := r.Resample(in, out)
package resample
