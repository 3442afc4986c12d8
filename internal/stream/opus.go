// ABOUTME: Opus encoder for clients that asked for compressed frames
// ABOUTME: Resamples to 48kHz, buffers 20ms frames and encodes them with libopus
package stream

import (
	"fmt"
	"log/slog"

	"gopkg.in/hraban/opus.v2"

	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/audio/resample"
)

const (
	opusSampleRate = 48000
	// 20ms at 48kHz
	opusFrameSize = 960
	// libopus never produces a larger packet
	maxOpusPacket = 4000
)

// opusSupported reports whether f can be sent as opus. Other rates are
// resampled to 48kHz first.
func opusSupported(f audio.Format) bool {
	return f.IsDefined() && f.Channels <= 2
}

type opusEncoder struct {
	enc      *opus.Encoder
	channels int
	// rs is nil when the source is already 48kHz
	rs        *resample.Resampler
	resampled []int16
	pending   []int16
	// timestamp of the first pending sample in µs
	startTS int64
	out     []byte
}

func newOpusEncoder(log *slog.Logger, f audio.Format) (*opusEncoder, error) {
	channels := f.Channels
	enc, err := opus.NewEncoder(opusSampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	if err := enc.SetBitrate(64000 * channels); err != nil {
		log.Warn("failed to set opus bitrate", "err", err)
	}
	e := &opusEncoder{
		enc:      enc,
		channels: channels,
		pending:  make([]int16, 0, opusFrameSize*channels),
		out:      make([]byte, maxOpusPacket),
	}
	if f.SampleRate != opusSampleRate {
		e.rs = resample.New(f.SampleRate, opusSampleRate, channels)
	}
	return e, nil
}

// sourceRate is the sample rate the encoder accepts.
func (e *opusEncoder) sourceRate() int {
	if e.rs == nil {
		return opusSampleRate
	}
	return e.rs.InputRate()
}

// write resamples pcm if needed and pushes it.
func (e *opusEncoder) write(ts int64, pcm []int16, emit func(ts int64, packet []byte)) error {
	if e.rs != nil {
		need := e.rs.OutputSamplesNeeded(len(pcm))
		if cap(e.resampled) < need {
			e.resampled = make([]int16, need)
		}
		n := e.rs.Resample(pcm, e.resampled[:need])
		pcm = e.resampled[:n]
	}
	return e.push(ts, pcm, emit)
}

// push adds samples starting at ts and calls emit for every complete frame.
func (e *opusEncoder) push(ts int64, pcm []int16, emit func(ts int64, packet []byte)) error {
	frame := opusFrameSize * e.channels
	perSample := float64(1e6) / float64(opusSampleRate*e.channels)
	for len(pcm) > 0 {
		if len(e.pending) == 0 {
			e.startTS = ts
		}
		n := min(frame-len(e.pending), len(pcm))
		e.pending = append(e.pending, pcm[:n]...)
		pcm = pcm[n:]
		ts += int64(float64(n) * perSample)

		if len(e.pending) < frame {
			continue
		}
		size, err := e.enc.Encode(e.pending, e.out)
		if err != nil {
			e.pending = e.pending[:0]
			return fmt.Errorf("opus encode failed: %w", err)
		}
		emit(e.startTS, append([]byte(nil), e.out[:size]...))
		e.pending = e.pending[:0]
	}
	return nil
}

// reset drops a partial frame, used when a new song starts.
func (e *opusEncoder) reset() {
	e.pending = e.pending[:0]
	if e.rs != nil {
		e.rs.Reset()
	}
}
