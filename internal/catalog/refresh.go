// ABOUTME: Song refresh: re-reads a song's tag and mtime from its backing resource
// ABOUTME: Plain files, archive entries and detached resources each take their own path
package catalog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Resonate-Protocol/resonated/internal/archive"
	"github.com/Resonate-Protocol/resonated/internal/decoder"
	"github.com/Resonate-Protocol/resonated/internal/input"
	"github.com/Resonate-Protocol/resonated/internal/logging"
	"github.com/Resonate-Protocol/resonated/internal/mediaerr"
	"github.com/Resonate-Protocol/resonated/internal/tagscan"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

// Refresher updates songs from storage. A failed refresh never touches the
// song's tag or mtime.
type Refresher struct {
	Storage  Storage
	Scanner  *tagscan.Scanner
	Registry *decoder.Registry
	Opener   *input.Opener
	Archives *archive.Mapper
	log      *slog.Logger
}

func NewRefresher(logger *slog.Logger, storage Storage, reg *decoder.Registry, opener *input.Opener, archives *archive.Mapper) *Refresher {
	logger = logging.Or(logger)
	return &Refresher{
		Storage:  storage,
		Scanner:  tagscan.New(logger, reg),
		Registry: reg,
		Opener:   opener,
		Archives: archives,
		log:      logger,
	}
}

// Update refreshes song using the archive path when its parent lies
// inside an archive.
func (r *Refresher) Update(ctx context.Context, song *Song) error {
	if song.Parent != nil && song.Parent.InArchive {
		return r.UpdateFileInArchive(ctx, song)
	}
	return r.UpdateFile(ctx, song)
}

// UpdateFile refreshes a plain storage-relative file.
func (r *Refresher) UpdateFile(ctx context.Context, song *Song) error {
	song.refresh.Lock()
	defer song.refresh.Unlock()

	uri := song.URI()
	info, err := r.Storage.GetInfo(uri, true)
	if err != nil {
		return err
	}
	if !info.IsRegular {
		return mediaerr.E(mediaerr.KindResourceUnavailable, "refresh", uri, nil)
	}

	t, err := r.scanURI(ctx, r.Storage.MapFS(uri))
	if err != nil {
		return err
	}
	song.commit(t, info.MTime, true)
	r.log.Debug("song refreshed", "uri", uri, "fields", len(t.Items), "mtime", info.MTime)
	return nil
}

// UpdateFileInArchive refreshes a song stored inside an archive. Only the
// tag is replaced; archive entries carry the archive file's mtime.
func (r *Refresher) UpdateFileInArchive(ctx context.Context, song *Song) error {
	song.refresh.Lock()
	defer song.refresh.Unlock()

	uri := song.URI()
	if song.Parent == nil {
		return mediaerr.E(mediaerr.KindResourceUnavailable, "refresh", uri, nil)
	}
	suffix := input.Suffix(song.Name)
	if suffix == "" || !r.Registry.SupportsSuffix(suffix) {
		return mediaerr.E(mediaerr.KindUnsupportedFormat, "refresh", uri, nil)
	}

	var pathFS string
	if song.Parent.IsRoot() {
		pathFS = r.Storage.MapFS(song.Name)
	} else {
		pathFS = r.Storage.MapChildFS(song.Parent.Path, song.Name)
	}
	if pathFS == "" {
		return mediaerr.E(mediaerr.KindResourceUnavailable, "refresh", uri, nil)
	}
	archivePath, name, ok := archive.Split(pathFS)
	if !ok {
		return mediaerr.E(mediaerr.KindResourceUnavailable, "refresh", uri, nil)
	}

	s, err := r.Archives.Open(archivePath, name)
	if err != nil {
		return err
	}
	defer s.Close()

	b := tag.NewBuilder()
	if err := r.Scanner.ScanFallbackOnly(s, b); err != nil {
		return err
	}
	t := b.Commit()
	song.commit(t, UnknownMTime, false)
	r.log.Debug("archive song refreshed", "uri", uri, "fields", len(t.Items))
	return nil
}

// UpdateDetached refreshes a song outside the catalog. Local paths take
// their mtime from the filesystem; remote resources get UnknownMTime.
func (r *Refresher) UpdateDetached(ctx context.Context, d *DetachedSong) error {
	d.refresh.Lock()
	defer d.refresh.Unlock()

	uri := d.URI()
	mtime := UnknownMTime
	if p, ok := localPath(uri); ok {
		fi, err := os.Stat(p)
		if err != nil {
			return mediaerr.E(mediaerr.KindResourceUnavailable, "refresh", uri, err)
		}
		if !fi.Mode().IsRegular() {
			return mediaerr.E(mediaerr.KindResourceUnavailable, "refresh", uri, nil)
		}
		mtime = KnownMTime(fi.ModTime())
	}

	t, err := r.scanURI(ctx, uri)
	if err != nil {
		return err
	}
	d.commit(t, mtime, true)
	return nil
}

// LoadFile creates a song named name below parent and refreshes it. On
// failure the new song is discarded. The song is not added to parent.
func (r *Refresher) LoadFile(ctx context.Context, name string, parent *Directory) (*Song, error) {
	song := NewSong(name, parent)
	if err := r.Update(ctx, song); err != nil {
		return nil, err
	}
	return song, nil
}

func (r *Refresher) scanURI(ctx context.Context, uri string) (*tag.Tag, error) {
	s, err := r.Opener.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	b := tag.NewBuilder()
	if err := r.Scanner.Scan(s, b); err != nil {
		return nil, err
	}
	return b.Commit(), nil
}

func localPath(uri string) (string, bool) {
	if p, ok := strings.CutPrefix(uri, "file://"); ok {
		return p, true
	}
	if filepath.IsAbs(uri) {
		return uri, true
	}
	return "", false
}
