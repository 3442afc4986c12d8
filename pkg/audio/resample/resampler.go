// ABOUTME: Streaming linear resampler for interleaved 16-bit PCM
// ABOUTME: Keeps the last input frame so interpolation is continuous across calls
package resample

import "math"

// Resampler converts interleaved samples from one rate to another. It is
// stateful: feed consecutive blocks of one stream through the same value.
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	// step is the number of input frames per output frame
	step float64
	// pos is the input position of the next output frame; -1 is prev
	pos    float64
	prev   []int16
	primed bool
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		step:       float64(inputRate) / float64(outputRate),
		prev:       make([]int16, channels),
	}
}

func (r *Resampler) InputRate() int  { return r.inputRate }
func (r *Resampler) OutputRate() int { return r.outputRate }

// Resample interpolates input into output and returns the number of
// samples written. output must hold OutputSamplesNeeded(len(input)).
func (r *Resampler) Resample(input, output []int16) int {
	ch := r.channels
	frames := len(input) / ch
	if frames == 0 {
		return 0
	}
	if !r.primed {
		copy(r.prev, input[:ch])
		r.primed = true
	}

	at := func(frame, c int) float64 {
		if frame < 0 {
			return float64(r.prev[c])
		}
		return float64(input[frame*ch+c])
	}

	out := 0
	for r.pos < float64(frames-1) && out+ch <= len(output) {
		i := int(math.Floor(r.pos))
		frac := r.pos - float64(i)
		for c := 0; c < ch; c++ {
			v := at(i, c)*(1-frac) + at(i+1, c)*frac
			output[out+c] = int16(math.Round(v))
		}
		out += ch
		r.pos += r.step
	}

	r.pos -= float64(frames)
	copy(r.prev, input[(frames-1)*ch:frames*ch])
	return out
}

// Reset forgets the stream history.
func (r *Resampler) Reset() {
	r.pos = 0
	r.primed = false
	clear(r.prev)
}

// OutputSamplesNeeded bounds the output produced from inputSamples.
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	frames := inputSamples / r.channels
	return (int(math.Ceil(float64(frames)/r.step)) + 2) * r.channels
}
