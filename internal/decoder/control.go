// ABOUTME: Decode session control: state machine and single-slot command queue
// ABOUTME: Runs one decoder worker per song and hands chunks to the consumer pipe
package decoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Resonate-Protocol/resonated/internal/input"
	"github.com/Resonate-Protocol/resonated/internal/logging"
	"github.com/Resonate-Protocol/resonated/internal/mediaerr"
	"github.com/Resonate-Protocol/resonated/internal/pipe"
	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

// State of a decode session.
type State int

const (
	StateIdle State = iota
	StateUninitialized
	StateReady
	StateDecoding
	StateSeeking
	StateStopping
	StateStopped
	StateError
)

var stateNames = [...]string{"idle", "uninitialized", "ready", "decoding", "seeking", "stopping", "stopped", "error"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Command sent from the consumer to the decoder.
type Command int

const (
	CommandNone Command = iota
	CommandSeek
	CommandStop
	CommandPause
)

func (c Command) String() string {
	switch c {
	case CommandNone:
		return "none"
	case CommandSeek:
		return "seek"
	case CommandStop:
		return "stop"
	case CommandPause:
		return "pause"
	}
	return fmt.Sprintf("command(%d)", int(c))
}

var (
	ErrNotRunning  = errors.New("decoder: no active session")
	ErrRunning     = errors.New("decoder: session already active")
	ErrNotSeekable = errors.New("decoder: song is not seekable")
	ErrSeekFailed  = errors.New("decoder: seek failed")
)

// Control owns one decode session at a time.
type Control struct {
	log    *slog.Logger
	reg    *Registry
	opener *input.Opener
	buffer *pipe.Buffer

	mu       sync.Mutex
	cond     *sync.Cond
	state    State
	command  Command
	seekTo   time.Duration
	seekErr  bool
	err      error
	format   audio.Format
	seekable bool
	duration time.Duration
	uri      string
	id       uuid.UUID
	pipe     *pipe.Pipe

	// interrupt wakes a producer blocked on an exhausted pool
	interrupt chan struct{}
	ready     chan struct{}
	done      chan struct{}
}

// NewControl creates a control that decodes into buf.
func NewControl(logger *slog.Logger, reg *Registry, opener *input.Opener, buf *pipe.Buffer) *Control {
	c := &Control{
		log:       logging.Or(logger),
		reg:       reg,
		opener:    opener,
		buffer:    buf,
		interrupt: make(chan struct{}, 1),
		duration:  tag.UnknownDuration,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Start begins decoding uri in a new worker. Cancelling ctx stops it.
func (c *Control) Start(ctx context.Context, uri string) error {
	c.mu.Lock()
	if c.done != nil {
		select {
		case <-c.done:
		default:
			c.mu.Unlock()
			return ErrRunning
		}
	}

	c.state = StateUninitialized
	c.command = CommandNone
	c.seekErr = false
	c.err = nil
	c.format = audio.Format{}
	c.seekable = false
	c.duration = tag.UnknownDuration
	c.uri = uri
	c.id = uuid.New()
	c.pipe = pipe.New(c.buffer)
	c.ready = make(chan struct{})
	c.done = make(chan struct{})
	p, done, ready := c.pipe, c.done, c.ready
	once := &sync.Once{}
	c.drainInterrupt()
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			c.requestStop()
		case <-done:
		}
	}()
	go c.run(ctx, uri, p, done, func() { once.Do(func() { close(ready) }) })
	return nil
}

// Pipe returns the chunk pipe of the current session.
func (c *Control) Pipe() *pipe.Pipe {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pipe
}

// Buffer returns the chunk pool the decoder allocates from.
func (c *Control) Buffer() *pipe.Buffer {
	return c.buffer
}

// ID identifies the current session in logs.
func (c *Control) ID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// State returns the current state.
func (c *Control) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns why the last session ended, nil on success.
func (c *Control) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Duration returns the song length announced by the decoder.
func (c *Control) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// Done is closed when the current worker exits.
func (c *Control) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// WaitReady blocks until the decoder announces its format or gives up.
func (c *Control) WaitReady(ctx context.Context) (audio.Format, error) {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()
	if ready == nil {
		return audio.Format{}, ErrNotRunning
	}

	select {
	case <-ready:
	case <-ctx.Done():
		return audio.Format{}, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.format.IsDefined() {
		if c.err != nil {
			return audio.Format{}, c.err
		}
		return audio.Format{}, mediaerr.E(mediaerr.KindUnsupportedFormat, "decode", c.uri, nil)
	}
	return c.format, nil
}

// Seek asks the decoder to continue from t and waits for the answer. On
// success every chunk queued before the seek has been discarded.
func (c *Control) Seek(t time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.activeLocked() {
		return ErrNotRunning
	}
	if c.state != StateReady && c.state != StateDecoding {
		return fmt.Errorf("decoder: cannot seek in state %s", c.state)
	}
	if !c.seekable {
		return ErrNotSeekable
	}

	c.command = CommandSeek
	c.seekTo = t
	c.seekErr = false
	c.state = StateSeeking
	c.signalLocked()

	for c.command == CommandSeek && c.activeLocked() {
		c.cond.Wait()
	}
	if c.seekErr || c.command == CommandSeek {
		return ErrSeekFailed
	}
	return nil
}

// Pause suspends production at the next chunk boundary without releasing
// decoder resources.
func (c *Control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeLocked() && c.command == CommandNone {
		c.command = CommandPause
		c.signalLocked()
	}
}

// Resume continues after Pause.
func (c *Control) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.command == CommandPause {
		c.command = CommandNone
		c.cond.Broadcast()
	}
}

// Paused reports whether a pause is in effect.
func (c *Control) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.command == CommandPause
}

// Stop ends the session, waits for the worker to release its resources
// and returns every queued chunk to the pool.
func (c *Control) Stop() {
	c.requestStop()

	c.mu.Lock()
	done, p := c.done, c.pipe
	c.mu.Unlock()
	if done == nil {
		return
	}
	<-done
	p.Clear(c.buffer)
}

func (c *Control) requestStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.activeLocked() {
		return
	}
	c.command = CommandStop
	c.state = StateStopping
	c.signalLocked()
}

func (c *Control) activeLocked() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *Control) signalLocked() {
	select {
	case c.interrupt <- struct{}{}:
	default:
	}
	c.cond.Broadcast()
}

func (c *Control) drainInterrupt() {
	select {
	case <-c.interrupt:
	default:
	}
}

// waitCommand returns the pending command, blocking while paused.
func (c *Control) waitCommand() Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.command == CommandPause {
		c.cond.Wait()
	}
	return c.command
}

func (c *Control) markReady(f audio.Format, seekable bool, duration time.Duration) {
	c.mu.Lock()
	c.format = f
	c.seekable = seekable
	c.duration = duration
	if c.state == StateUninitialized {
		c.state = StateReady
	}
	c.mu.Unlock()
}

func (c *Control) markDecoding() {
	c.mu.Lock()
	if c.state == StateReady {
		c.state = StateDecoding
	}
	c.mu.Unlock()
}

// finishCommand clears the pending command. flush runs under the lock so
// a seek's discard happens before the consumer is released.
func (c *Control) finishCommand(failed bool, flush func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.command == CommandSeek {
		if flush != nil && !failed {
			flush()
		}
		c.seekErr = failed
		c.state = StateDecoding
	}
	if c.command != CommandStop {
		c.command = CommandNone
	}
	c.cond.Broadcast()
}

func (c *Control) seekTarget() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seekTo
}

func (c *Control) run(ctx context.Context, uri string, p *pipe.Pipe, done chan struct{}, release func()) {
	b := &bridge{ctl: c, pipe: p, buffer: c.buffer, log: c.log, release: release}
	err := c.decode(ctx, uri, b)

	c.mu.Lock()
	stopped := c.command == CommandStop
	c.mu.Unlock()

	if stopped {
		b.discard()
	} else {
		b.flush()
	}
	p.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case stopped:
		c.state = StateStopped
		c.err = mediaerr.E(mediaerr.KindCancelled, "decode", uri, nil)
		c.log.Debug("decode stopped", "session", c.id, "uri", uri)
	case err != nil:
		c.state = StateError
		c.err = err
		c.log.Warn("decode failed", "session", c.id, "uri", uri, "err", err)
	default:
		c.state = StateStopped
	}
	release()
	close(done)
	c.cond.Broadcast()
}

func (c *Control) decode(ctx context.Context, uri string, b *bridge) error {
	s, err := c.opener.Open(ctx, uri)
	if err != nil {
		return err
	}
	defer s.Close()

	candidates := c.reg.Candidates(s.URI(), s.MIME())
	tried := false
	for _, p := range candidates {
		var err error
		switch d := p.(type) {
		case StreamDecoder:
			if rerr := s.Rewind(); rerr != nil {
				return mediaerr.E(mediaerr.KindIOFailure, "rewind", uri, rerr)
			}
			tried = true
			err = d.DecodeStream(b, s)
		case FileDecoder:
			if !isLocal(uri) || input.Suffix(uri) == "gz" {
				continue
			}
			tried = true
			err = d.DecodeFile(b, uri)
		default:
			continue
		}

		if err == nil {
			return nil
		}
		if mediaerr.IsUnsupportedFormat(err) && !b.initialized {
			c.log.Debug("decoder declined", "plugin", p.Name(), "uri", uri)
			continue
		}
		return fmt.Errorf("%s: %w", p.Name(), err)
	}

	if !tried {
		return mediaerr.E(mediaerr.KindUnsupportedFormat, "decode", uri, errors.New("no plugin claims this resource"))
	}
	return mediaerr.E(mediaerr.KindUnsupportedFormat, "decode", uri, errors.New("every candidate declined"))
}

func isLocal(uri string) bool {
	return len(uri) > 0 && uri[0] == '/'
}
