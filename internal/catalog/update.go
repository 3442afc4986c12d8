// ABOUTME: Catalog update: walks storage and zip archives, refreshing changed songs
// ABOUTME: Refreshes run on a bounded errgroup; failed songs are pruned
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/resonated/internal/archive"
	"github.com/Resonate-Protocol/resonated/internal/input"
	"github.com/Resonate-Protocol/resonated/internal/logging"
)

// Stats summarizes one update run.
type Stats struct {
	Added     int
	Updated   int
	Unchanged int
	Removed   int
	Failed    int
}

func (s Stats) String() string {
	return fmt.Sprintf("added=%d updated=%d unchanged=%d removed=%d failed=%d",
		s.Added, s.Updated, s.Unchanged, s.Removed, s.Failed)
}

// Updater brings a catalog tree in line with storage.
type Updater struct {
	Refresher *Refresher
	// Store is optional; without it the tree is only updated in memory.
	Store   *Store
	Workers int
	log     *slog.Logger
}

func NewUpdater(logger *slog.Logger, r *Refresher, store *Store, workers int) *Updater {
	if workers < 1 {
		workers = 1
	}
	return &Updater{Refresher: r, Store: store, Workers: workers, log: logging.Or(logger)}
}

type job struct {
	name   string
	parent *Directory
	// existing is nil for songs not yet in the catalog.
	existing *Song
	mtime    MTime

	song *Song
	err  error
}

type walkState struct {
	jobs         []*job
	removedSongs []string
	removedDirs  []string
	archiveDirs  []*Directory
}

// Run updates root from storage. Per-song failures are counted, not
// returned; an error means the walk or the store failed.
func (u *Updater) Run(ctx context.Context, root *Directory) (Stats, error) {
	var stats Stats
	st := &walkState{}
	if err := u.walk(ctx, root, st, &stats); err != nil {
		return stats, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.Workers)
	for _, j := range st.jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if j.existing != nil {
				j.err = u.Refresher.Update(gctx, j.existing)
				j.song = j.existing
			} else {
				j.song, j.err = u.Refresher.LoadFile(gctx, j.name, j.parent)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	for _, j := range st.jobs {
		switch {
		case j.err != nil && j.existing != nil:
			u.log.Info("removing song that failed to refresh", "uri", j.existing.URI(), "err", j.err)
			j.parent.RemoveSong(j.name)
			st.removedSongs = append(st.removedSongs, j.existing.URI())
			stats.Failed++
			stats.Removed++
		case j.err != nil:
			u.log.Debug("skipping unreadable file", "uri", j.parent.ChildPath(j.name), "err", j.err)
			stats.Failed++
		case j.existing != nil:
			stats.Updated++
		default:
			if j.parent.InArchive {
				j.song.commit(j.song.Tag(), j.mtime, true)
			}
			j.parent.AddSong(j.song)
			stats.Added++
		}
	}

	if err := u.persist(ctx, st); err != nil {
		return stats, err
	}
	u.log.Info("catalog update finished", "stats", stats.String())
	return stats, nil
}

func (u *Updater) persist(ctx context.Context, st *walkState) error {
	if u.Store == nil {
		return nil
	}
	for _, p := range st.removedDirs {
		if err := u.Store.DeleteDirectory(ctx, p); err != nil {
			return err
		}
	}
	for _, uri := range st.removedSongs {
		if err := u.Store.DeleteSong(ctx, uri); err != nil {
			return err
		}
	}
	for _, d := range st.archiveDirs {
		if err := u.Store.SaveDirectory(ctx, d); err != nil {
			return err
		}
	}
	for _, j := range st.jobs {
		if j.err != nil {
			continue
		}
		if err := u.Store.SaveSong(ctx, j.song); err != nil {
			return err
		}
	}
	return nil
}

func (u *Updater) walk(ctx context.Context, dir *Directory, st *walkState, stats *Stats) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := u.Refresher.Storage.ReadDir(dir.Path)
	if err != nil {
		if dir.IsRoot() {
			return err
		}
		// keep what we know about a directory we cannot list right now
		u.log.Warn("cannot list directory", "uri", dir.Path, "err", err)
		return nil
	}

	seenDirs := make(map[string]bool)
	seenSongs := make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		info, err := u.Refresher.Storage.GetInfo(dir.ChildPath(name), true)
		if err != nil {
			u.log.Debug("cannot stat entry", "uri", dir.ChildPath(name), "err", err)
			continue
		}

		switch {
		case info.IsDir:
			seenDirs[name] = true
			if err := u.walk(ctx, dir.MakeChild(name), st, stats); err != nil {
				return err
			}
		case info.IsRegular && archive.IsArchive(name):
			seenDirs[name] = true
			u.walkArchive(dir, name, info.MTime, st, stats)
		case info.IsRegular && u.supported(name):
			seenSongs[name] = true
			existing := dir.Song(name)
			if existing != nil && existing.MTime().Equal(info.MTime) {
				stats.Unchanged++
				continue
			}
			st.jobs = append(st.jobs, &job{name: name, parent: dir, existing: existing})
		}
	}

	for _, s := range dir.Songs() {
		if !seenSongs[s.Name] {
			dir.RemoveSong(s.Name)
			st.removedSongs = append(st.removedSongs, s.URI())
			stats.Removed++
		}
	}
	for _, c := range dir.Children() {
		if !seenDirs[c.Name] {
			stats.Removed += c.CountSongs()
			dir.RemoveChild(c.Name)
			st.removedDirs = append(st.removedDirs, c.Path)
		}
	}
	return nil
}

// walkArchive rebuilds the directory of an archive whose mtime changed.
func (u *Updater) walkArchive(dir *Directory, name string, mtime MTime, st *walkState, stats *Stats) {
	if old := dir.Child(name); old != nil {
		if old.InArchive && old.MTime.Equal(mtime) {
			stats.Unchanged += old.CountSongs()
			return
		}
		stats.Removed += old.CountSongs()
		dir.RemoveChild(name)
		st.removedDirs = append(st.removedDirs, old.Path)
	}

	pathFS := u.Refresher.Storage.MapChildFS(dir.Path, name)
	entries, err := u.Refresher.Archives.List(pathFS)
	if err != nil {
		u.log.Warn("cannot read archive", "path", pathFS, "err", err)
		return
	}

	arc := dir.MakeChild(name)
	arc.InArchive = true
	arc.MTime = mtime
	st.archiveDirs = append(st.archiveDirs, arc)
	for _, e := range entries {
		if !u.supported(e.Name) {
			continue
		}
		parent := arc
		parts := strings.Split(e.Name, "/")
		for _, p := range parts[:len(parts)-1] {
			parent = parent.MakeChild(p)
		}
		st.jobs = append(st.jobs, &job{name: parts[len(parts)-1], parent: parent, mtime: mtime})
	}
}

func (u *Updater) supported(name string) bool {
	suffix := input.Suffix(input.StripSuffix(name, "gz"))
	return suffix != "" && u.Refresher.Registry.SupportsSuffix(suffix)
}
