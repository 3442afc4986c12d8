// ABOUTME: The serve command: catalog update, stream server, mDNS and playback queue
// ABOUTME: Runs until interrupted or until the status screen quits
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/resonated/internal/catalog"
	"github.com/Resonate-Protocol/resonated/internal/discovery"
	"github.com/Resonate-Protocol/resonated/internal/pipe"
	"github.com/Resonate-Protocol/resonated/internal/player"
	"github.com/Resonate-Protocol/resonated/internal/stream"
	"github.com/Resonate-Protocol/resonated/internal/ui"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

var _ player.Sink = (*stream.Server)(nil)

type ServeCmd struct {
	Songs    []string `arg:"" optional:"" help:"Songs to play, catalog-relative or absolute paths and URLs."`
	All      bool     `help:"Queue the whole catalog after the given songs."`
	Loop     bool     `help:"Start over when the queue is exhausted."`
	TUI      bool     `help:"Show the status screen." name:"tui"`
	NoUpdate bool     `help:"Skip the catalog update on startup." name:"no-update"`
	Port     int      `help:"Override the stream server port."`
}

// queued is one song in the playback queue.
type queued struct {
	uri string
	tag *tag.Tag
}

// daemon holds the running pieces the status screen polls.
type daemon struct {
	env     *env
	engine  *player.Engine
	server  *stream.Server
	mu      sync.Mutex
	catalog string
}

func (c *ServeCmd) Run(g *Globals) error {
	e, err := g.setup(c.TUI)
	if err != nil {
		return err
	}
	defer e.Close()
	if c.Port != 0 {
		e.cfg.Stream.Port = c.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := catalog.OpenStore(ctx, e.cfg.DBFile)
	if err != nil {
		return err
	}
	defer store.Close()
	root, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	refresher, err := e.refresher()
	if err != nil {
		return err
	}

	d := &daemon{
		env:    e,
		engine: player.NewEngine(e.log, e.registry, e.opener, pipe.NewBuffer(e.cfg.BufferChunks), *e.cfg.Player.Realtime),
		server: stream.New(e.log, stream.Config{Port: e.cfg.Stream.Port, Name: e.cfg.Stream.Name}),
	}
	d.engine.AddSink(d.server)
	if e.cfg.Output.Enabled {
		d.engine.AddSink(player.NewOtoSink(e.log))
	}
	defer d.engine.Close()
	d.server.SetStatus(func() any { return statusJSON(d.engine.Status()) })

	if *e.cfg.Stream.MDNS {
		mgr := discovery.NewManager(e.log, discovery.Config{ServiceName: e.cfg.Stream.Name, Port: e.cfg.Stream.Port})
		if err := mgr.Advertise(); err != nil {
			e.log.Warn("mDNS advertisement failed", "err", err)
		}
		defer mgr.Stop()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g2, gctx := errgroup.WithContext(ctx)

	g2.Go(func() error { return d.server.Run(gctx) })

	// the catalog update finishes before the queue is built so --all sees it
	g2.Go(func() error {
		if !c.NoUpdate {
			d.setCatalog("updating")
			updater := catalog.NewUpdater(e.log, refresher, store, e.cfg.UpdateWorkers)
			stats, err := updater.Run(gctx, root)
			if err != nil && !errors.Is(err, context.Canceled) {
				e.log.Error("catalog update failed", "err", err)
			}
			d.setCatalog(stats.String())
		}
		return d.play(gctx, c.queue(e, root), c.Loop)
	})

	if c.TUI {
		g2.Go(func() error {
			err := ui.Run(gctx, d.snapshot, ui.Actions{TogglePause: d.togglePause})
			cancel()
			return err
		})
	}

	err = g2.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// queue resolves the command line songs and, with --all, the catalog.
func (c *ServeCmd) queue(e *env, root *catalog.Directory) []queued {
	var q []queued
	for _, s := range c.Songs {
		if song := root.LookupSong(s); song != nil {
			q = append(q, queued{uri: filepath.Join(e.cfg.MusicDirectory, song.URI()), tag: song.Tag()})
			continue
		}
		q = append(q, queued{uri: s})
	}
	if c.All {
		root.Walk(func(s *catalog.Song) {
			if s.Parent != nil && s.Parent.InArchive {
				// archive entries have no stream URI the decoder can open
				return
			}
			q = append(q, queued{uri: filepath.Join(e.cfg.MusicDirectory, s.URI()), tag: s.Tag()})
		})
	}
	return q
}

// play works through the queue until ctx ends. With nothing to play it
// just waits, leaving the stream server up for clients.
func (d *daemon) play(ctx context.Context, q []queued, loop bool) error {
	for {
		played := 0
		for _, item := range q {
			if err := d.engine.Play(ctx, item.uri, item.tag); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.env.log.Warn("skipping song", "uri", item.uri, "err", err)
				continue
			}
			played++
			select {
			case <-d.engine.Done():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if !loop || played == 0 {
			break
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (d *daemon) togglePause() {
	switch d.engine.Status().State {
	case player.Playing:
		d.engine.Pause()
	case player.Paused:
		d.engine.Resume()
	}
}

func (d *daemon) setCatalog(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.catalog = s
}

func (d *daemon) snapshot() ui.Snapshot {
	st := d.engine.Status()
	snap := ui.Snapshot{
		Name:     d.env.cfg.Stream.Name,
		Port:     d.env.cfg.Stream.Port,
		State:    st.State.String(),
		URI:      st.URI,
		Format:   st.Format.String(),
		Position: st.Position,
		Duration: st.Duration,
		Chunks:   st.Chunks,
	}
	if st.Tag != nil {
		snap.Title = st.Tag.Get(tag.Title)
		snap.Artist = st.Tag.Get(tag.Artist)
	}
	for _, c := range d.server.Clients() {
		snap.Clients = append(snap.Clients, ui.Client{Name: c.Name, Codec: c.Codec, Remote: c.Remote})
	}
	for _, p := range d.env.registry.Enabled() {
		snap.Plugins = append(snap.Plugins, p.Name())
	}
	d.mu.Lock()
	snap.Catalog = d.catalog
	d.mu.Unlock()
	return snap
}

// statusJSON shapes the player status for the /status endpoint.
func statusJSON(st player.Status) map[string]any {
	out := map[string]any{
		"state":       st.State.String(),
		"uri":         st.URI,
		"position_ms": st.Position.Milliseconds(),
		"chunks":      st.Chunks,
	}
	if st.Format.IsDefined() {
		out["format"] = st.Format.String()
	}
	if st.Duration >= 0 {
		out["duration_ms"] = st.Duration.Milliseconds()
	}
	if st.Tag != nil {
		for _, t := range []tag.Type{tag.Title, tag.Artist, tag.Album} {
			if v := st.Tag.Get(t); v != "" {
				out[strings.ToLower(t.String())] = v
			}
		}
	}
	if st.Err != nil {
		out["error"] = st.Err.Error()
	}
	return out
}
