// ABOUTME: Playback engine: drives a decode session and fans chunks out to sinks
// ABOUTME: Paces output in real time with a fixed buffer-ahead window
package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonated/internal/decoder"
	"github.com/Resonate-Protocol/resonated/internal/input"
	"github.com/Resonate-Protocol/resonated/internal/logging"
	"github.com/Resonate-Protocol/resonated/internal/pipe"
	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

// BufferAhead is how far output may run ahead of the wall clock.
const BufferAhead = 500 * time.Millisecond

// PlayState of the engine.
type PlayState int

const (
	Stopped PlayState = iota
	Playing
	Paused
)

func (s PlayState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("playstate(%d)", int(s))
}

// Status is a snapshot of the engine.
type Status struct {
	URI      string
	State    PlayState
	Format   audio.Format
	Position time.Duration
	Duration time.Duration
	Chunks   int
	Tag      *tag.Tag
	Err      error
}

// Engine plays one song at a time.
type Engine struct {
	log      *slog.Logger
	control  *decoder.Control
	realtime bool

	mu     sync.Mutex
	sinks  []Sink
	status Status
	paused bool
	resync bool
	resume chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

// NewEngine creates an engine decoding into buf. With realtime false chunks
// are delivered as fast as the sinks accept them.
func NewEngine(logger *slog.Logger, reg *decoder.Registry, opener *input.Opener, buf *pipe.Buffer, realtime bool) *Engine {
	logger = logging.Or(logger)
	return &Engine{
		log:      logger,
		control:  decoder.NewControl(logger, reg, opener, buf),
		realtime: realtime,
		status:   Status{Duration: tag.UnknownDuration},
	}
}

// AddSink registers a sink for the next song.
func (e *Engine) AddSink(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

// Play stops the current song and starts uri. t is the catalog tag, if
// any, announced to the sinks before the first chunk.
func (e *Engine) Play(ctx context.Context, uri string, t *tag.Tag) error {
	e.Stop()

	if err := e.control.Start(ctx, uri); err != nil {
		return err
	}
	f, err := e.control.WaitReady(ctx)
	if err != nil {
		e.control.Stop()
		e.mu.Lock()
		e.status = Status{URI: uri, Duration: tag.UnknownDuration, Err: err}
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	var sinks []Sink
	for _, s := range e.sinks {
		if err := s.Open(f); err != nil {
			e.log.Warn("sink rejected song", "uri", uri, "format", f, "err", err)
			continue
		}
		if t != nil {
			s.Metadata(t)
		}
		sinks = append(sinks, s)
	}
	e.status = Status{
		URI:      uri,
		State:    Playing,
		Format:   f,
		Duration: e.control.Duration(),
		Tag:      t,
	}
	e.paused = false
	e.resync = false
	e.resume = make(chan struct{})
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	stop, done := e.stop, e.done
	e.mu.Unlock()

	e.log.Info("playing", "uri", uri, "format", f, "sinks", len(sinks))
	go e.consume(e.control.Pipe(), f, sinks, stop, done)
	return nil
}

func (e *Engine) consume(p *pipe.Pipe, f audio.Format, sinks []Sink, stop, done chan struct{}) {
	defer close(done)
	buf := e.control.Buffer()

	start := time.Now()
	var played time.Duration
	for c := range p.C() {
		if !e.waitWhilePaused(stop, &start) {
			buf.Return(c)
			return
		}

		if c.Tag != nil {
			for _, s := range sinks {
				s.Metadata(c.Tag)
			}
		}
		if c.Length > 0 {
			live := sinks[:0]
			for _, s := range sinks {
				if err := s.Write(c); err != nil {
					e.log.Warn("dropping sink after write error", "err", err)
					continue
				}
				live = append(live, s)
			}
			sinks = live
		}

		length := f.Duration(c.Length)
		e.mu.Lock()
		if e.resync {
			e.resync = false
			start = time.Now()
			played = 0
		}
		if c.Tag != nil {
			e.status.Tag = c.Tag
		}
		e.status.Position = c.Time + length
		e.status.Chunks++
		e.mu.Unlock()
		buf.Return(c)

		if !e.realtime {
			continue
		}
		played += length
		if wait := played - time.Since(start) - BufferAhead; wait > 0 {
			select {
			case <-time.After(wait):
			case <-stop:
				return
			}
		}
	}

	e.mu.Lock()
	e.status.State = Stopped
	e.status.Err = e.control.Err()
	uri, chunks := e.status.URI, e.status.Chunks
	e.mu.Unlock()
	e.log.Info("song finished", "uri", uri, "chunks", chunks)
}

// waitWhilePaused blocks while the engine is paused. It reports false once
// playback has been stopped.
func (e *Engine) waitWhilePaused(stop chan struct{}, start *time.Time) bool {
	for {
		select {
		case <-stop:
			return false
		default:
		}
		e.mu.Lock()
		paused, resume := e.paused, e.resume
		e.mu.Unlock()
		if !paused {
			return true
		}

		since := time.Now()
		select {
		case <-resume:
			*start = start.Add(time.Since(since))
		case <-stop:
			return false
		}
	}
}

// Stop ends the current song and waits until every chunk is back in the
// pool.
func (e *Engine) Stop() {
	e.mu.Lock()
	stop, done := e.stop, e.done
	e.stop = nil
	e.mu.Unlock()
	if stop == nil {
		return
	}

	close(stop)
	e.control.Stop()
	<-done
	e.control.Pipe().Clear(e.control.Buffer())

	e.mu.Lock()
	e.status.State = Stopped
	e.paused = false
	e.mu.Unlock()
}

// Seek moves playback of the current song to t.
func (e *Engine) Seek(t time.Duration) error {
	if err := e.control.Seek(t); err != nil {
		return err
	}
	e.mu.Lock()
	e.status.Position = t
	e.resync = true
	e.mu.Unlock()
	return nil
}

// Pause holds output and lets the decoder idle at its next chunk.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.State != Playing {
		return
	}
	e.control.Pause()
	e.paused = true
	e.resume = make(chan struct{})
	e.status.State = Paused
}

func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.State != Paused {
		return
	}
	e.control.Resume()
	e.paused = false
	close(e.resume)
	e.status.State = Playing
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.status
	if st.State != Stopped {
		st.Duration = e.control.Duration()
	}
	return st
}

// Done is closed when the current song has been fully delivered or
// stopped. It is nil before the first Play.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Close stops playback and closes every sink.
func (e *Engine) Close() error {
	e.Stop()
	e.mu.Lock()
	sinks := e.sinks
	e.sinks = nil
	e.mu.Unlock()

	var first error
	for _, s := range sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
