// ABOUTME: One-shot commands: update, scan, decode, gunzip, plugins, discover, version
// ABOUTME: Each builds what it needs from the shared environment and exits
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/Resonate-Protocol/resonated/internal/catalog"
	"github.com/Resonate-Protocol/resonated/internal/decoder"
	"github.com/Resonate-Protocol/resonated/internal/discovery"
	"github.com/Resonate-Protocol/resonated/internal/input"
	"github.com/Resonate-Protocol/resonated/internal/pipe"
	"github.com/Resonate-Protocol/resonated/internal/version"
)

type UpdateCmd struct{}

func (c *UpdateCmd) Run(g *Globals) error {
	e, err := g.setup(false)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
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

	stats, err := catalog.NewUpdater(e.log, refresher, store, e.cfg.UpdateWorkers).Run(ctx, root)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s (%d songs)\n", labelStyle.Render("catalog:"), stats, root.CountSongs())
	return nil
}

type ScanCmd struct {
	URI string `arg:"" help:"Absolute path, file:// or http(s) URL, or a path relative to the music directory."`
}

func (c *ScanCmd) Run(g *Globals) error {
	e, err := g.setup(false)
	if err != nil {
		return err
	}
	defer e.Close()

	uri := c.URI
	if !strings.Contains(uri, "://") && !filepath.IsAbs(uri) {
		uri = filepath.Join(e.cfg.MusicDirectory, uri)
	}
	refresher, err := e.refresher()
	if err != nil {
		return err
	}
	song := catalog.NewDetachedSong(uri)
	if err := refresher.UpdateDetached(context.Background(), song); err != nil {
		return err
	}

	t := song.Tag()
	fmt.Printf("%s %s\n", labelStyle.Render("uri:"), song.URI())
	fmt.Printf("%s %s\n", labelStyle.Render("mtime:"), song.MTime())
	if t.HasDuration() {
		fmt.Printf("%s %s\n", labelStyle.Render("duration:"), t.Duration.Round(time.Millisecond))
	} else {
		fmt.Printf("%s unknown\n", labelStyle.Render("duration:"))
	}
	for _, it := range t.Items {
		fmt.Printf("%s %s\n", labelStyle.Render(it.Type.String()+":"), it.Value)
	}
	return nil
}

type DecodeCmd struct {
	URI    string        `arg:"" help:"Song to decode."`
	Output string        `help:"Write PCM here instead of stdout." short:"o" type:"path"`
	Start  time.Duration `help:"Seek to this position before decoding."`
}

func (c *DecodeCmd) Run(g *Globals) error {
	e, err := g.setup(false)
	if err != nil {
		return err
	}
	defer e.Close()

	var w io.Writer = os.Stdout
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ctl := decoder.NewControl(e.log, e.registry, e.opener, pipe.NewBuffer(e.cfg.BufferChunks))
	if err := ctl.Start(ctx, c.URI); err != nil {
		return err
	}
	defer ctl.Stop()
	f, err := ctl.WaitReady(ctx)
	if err != nil {
		return err
	}
	if c.Start > 0 {
		if err := ctl.Seek(c.Start); err != nil {
			return fmt.Errorf("seek to %s: %w", c.Start, err)
		}
	}
	fmt.Fprintf(os.Stderr, "%s %s (%d-bit little-endian PCM)\n", labelStyle.Render("format:"), f, f.BitDepth)

	var written int64
	for ch := range ctl.Pipe().C() {
		n, werr := w.Write(ch.Data())
		written += int64(n)
		ctl.Buffer().Return(ch)
		if werr != nil {
			return werr
		}
	}
	<-ctl.Done()
	if err := ctl.Err(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s %d bytes, %s\n", labelStyle.Render("decoded:"), written, f.Duration(int(written)).Round(time.Millisecond))
	return nil
}

type GunzipCmd struct {
	Path   string `arg:"" help:"Compressed file ending in .gz." type:"path"`
	Output string `help:"Write here instead of stdout." short:"o" type:"path"`
}

func (c *GunzipCmd) Run(g *Globals) error {
	if input.Suffix(c.Path) != "gz" {
		return fmt.Errorf("%s does not end in .gz", c.Path)
	}
	s, err := input.NewOpener().Open(context.Background(), c.Path)
	if err != nil {
		return err
	}
	defer s.Close()

	var w io.Writer = os.Stdout
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	_, err = input.Copy(w, s)
	return err
}

type PluginsCmd struct{}

func (c *PluginsCmd) Run(g *Globals) error {
	e, err := g.setup(false)
	if err != nil {
		return err
	}
	defer e.Close()

	for _, p := range e.registry.Enabled() {
		var caps []string
		if _, ok := p.(decoder.StreamDecoder); ok {
			caps = append(caps, "stream")
		}
		if _, ok := p.(decoder.FileDecoder); ok {
			caps = append(caps, "file")
		}
		if _, ok := p.(decoder.StreamScanner); ok {
			caps = append(caps, "scan")
		}
		fmt.Printf("%-8s %-24s %-16s %s\n", labelStyle.Render(p.Name()),
			strings.Join(p.Suffixes(), ","), strings.Join(caps, ","), strings.Join(p.MIMETypes(), ","))
	}
	return nil
}

type DiscoverCmd struct {
	Timeout time.Duration `help:"How long to wait for answers." default:"3s"`
}

func (c *DiscoverCmd) Run(g *Globals) error {
	e, err := g.setup(false)
	if err != nil {
		return err
	}
	defer e.Close()

	mgr := discovery.NewManager(e.log, discovery.Config{})
	defer mgr.Stop()
	servers, err := mgr.Browse(c.Timeout)
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		fmt.Println("no servers found")
		return nil
	}
	for _, s := range servers {
		fmt.Printf("%s ws://%s:%d%s\n", labelStyle.Render(s.Name), s.Host, s.Port, s.Path)
	}
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	fmt.Printf("%s (%s)\n", version.String(), version.Manufacturer)
	return nil
}
