// ABOUTME: Tests for song refresh, the catalog store and the update walk
// ABOUTME: Builds a music directory of generated WAV files and zip archives
package catalog

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonated/internal/archive"
	"github.com/Resonate-Protocol/resonated/internal/decoder"
	"github.com/Resonate-Protocol/resonated/internal/decoder/plugins"
	"github.com/Resonate-Protocol/resonated/internal/input"
	"github.com/Resonate-Protocol/resonated/internal/logging"
	"github.com/Resonate-Protocol/resonated/internal/mediaerr"
	"github.com/Resonate-Protocol/resonated/internal/testutil"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newRefresher(t *testing.T, root string) *Refresher {
	t.Helper()
	reg := decoder.NewRegistry(logging.Discard(),
		plugins.NewWAV(logging.Discard()),
		plugins.NewMP3(logging.Discard()),
	)
	reg.Init(nil)
	storage, err := NewLocalStorage(root)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return NewRefresher(logging.Discard(), storage, reg, input.NewOpener(), archive.NewMapper(logging.Discard()))
}

func titledWAV(title string, seconds int) []byte {
	return testutil.WAV(8000, 1, make([]int16, 8000*seconds),
		testutil.Chunk{ID: "LIST", Data: testutil.InfoList("INAM", title, "IART", "Artist")})
}

func put(t *testing.T, root, rel string, data []byte, mtime time.Time) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(p, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	return p
}

func putZip(t *testing.T, root, rel string, files map[string][]byte, mtime time.Time) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	put(t, root, rel, buf.Bytes(), mtime)
}

func taggedMP3(title string) []byte {
	return append(testutil.ID3v23(testutil.Frame{ID: "TIT2", Text: title}), make([]byte, 256)...)
}

func TestMTime(t *testing.T) {
	if UnknownMTime.IsKnown() {
		t.Fatal("unknown mtime reports known")
	}
	epoch := KnownMTime(time.Unix(0, 0))
	if !epoch.IsKnown() || epoch.Equal(UnknownMTime) {
		t.Fatal("the epoch must stay distinct from unknown")
	}
	if !KnownMTime(baseTime.Add(300 * time.Millisecond)).Equal(KnownMTime(baseTime)) {
		t.Error("sub-second differences should be ignored")
	}

	v, err := UnknownMTime.Value()
	if err != nil || v != nil {
		t.Errorf("unknown should store as NULL, got %v, %v", v, err)
	}
	var m MTime
	if err := m.Scan(baseTime.Unix()); err != nil || !m.Equal(KnownMTime(baseTime)) {
		t.Errorf("scan round trip failed: %v %v", m, err)
	}
	if err := m.Scan(nil); err != nil || m.IsKnown() {
		t.Errorf("NULL should scan as unknown: %v %v", m, err)
	}
}

func TestLoadFile(t *testing.T) {
	root := t.TempDir()
	put(t, root, "rock/song.wav", titledWAV("First", 2), baseTime)
	r := newRefresher(t, root)

	dir := NewRoot().MakeChild("rock")
	song, err := r.LoadFile(context.Background(), "song.wav", dir)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if song.URI() != "rock/song.wav" {
		t.Errorf("unexpected uri %q", song.URI())
	}
	if got := song.Tag().Get(tag.Title); got != "First" {
		t.Errorf("expected title First, got %q", got)
	}
	if song.Tag().Duration != 2*time.Second {
		t.Errorf("expected 2s, got %v", song.Tag().Duration)
	}
	if !song.MTime().Equal(KnownMTime(baseTime)) {
		t.Errorf("expected mtime %v, got %v", baseTime, song.MTime())
	}
	if dir.Song("song.wav") != nil {
		t.Error("LoadFile must not attach the song")
	}

	if _, err := r.LoadFile(context.Background(), "missing.wav", dir); !mediaerr.IsResourceUnavailable(err) {
		t.Errorf("expected ResourceUnavailable for a missing file, got %v", err)
	}
}

func TestRefreshDeletedFileKeepsState(t *testing.T) {
	root := t.TempDir()
	p := put(t, root, "song.wav", titledWAV("Kept", 1), baseTime)
	r := newRefresher(t, root)

	song, err := r.LoadFile(context.Background(), "song.wav", NewRoot())
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	before, mtime := song.Tag(), song.MTime()

	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}
	err = r.UpdateFile(context.Background(), song)
	if !mediaerr.IsResourceUnavailable(err) {
		t.Fatalf("expected ResourceUnavailable, got %v", err)
	}
	if song.Tag() != before {
		t.Error("tag changed after a failed refresh")
	}
	if !song.MTime().Equal(mtime) {
		t.Errorf("mtime changed after a failed refresh: %v", song.MTime())
	}
}

func TestRefreshUnreadableFileKeepsState(t *testing.T) {
	root := t.TempDir()
	put(t, root, "song.wav", titledWAV("Kept", 1), baseTime)
	r := newRefresher(t, root)

	song, err := r.LoadFile(context.Background(), "song.wav", NewRoot())
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	before := song.Tag()

	put(t, root, "song.wav", []byte("this is not a wave file"), baseTime.Add(time.Hour))
	if err := r.UpdateFile(context.Background(), song); !mediaerr.IsUnsupportedFormat(err) {
		t.Fatalf("expected UnsupportedFormat, got %v", err)
	}
	if song.Tag() != before || !song.MTime().Equal(KnownMTime(baseTime)) {
		t.Error("failed refresh modified the song")
	}
}

func TestRefreshReplacesWholeTag(t *testing.T) {
	root := t.TempDir()
	put(t, root, "song.wav", titledWAV("Old", 1), baseTime)
	r := newRefresher(t, root)

	song, err := r.LoadFile(context.Background(), "song.wav", NewRoot())
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	put(t, root, "song.wav", testutil.WAV(8000, 1, make([]int16, 4000),
		testutil.Chunk{ID: "LIST", Data: testutil.InfoList("INAM", "New")}), baseTime.Add(time.Hour))
	if err := r.UpdateFile(context.Background(), song); err != nil {
		t.Fatalf("UpdateFile failed: %v", err)
	}

	got := song.Tag()
	if got.Get(tag.Title) != "New" || got.Get(tag.Artist) != "" {
		t.Errorf("expected the old tag to be replaced entirely, got %+v", got.Items)
	}
	if !song.MTime().Equal(KnownMTime(baseTime.Add(time.Hour))) {
		t.Errorf("mtime not updated: %v", song.MTime())
	}
}

func TestConcurrentRefreshOfOneSong(t *testing.T) {
	root := t.TempDir()
	put(t, root, "song.wav", titledWAV("Same", 1), baseTime)
	r := newRefresher(t, root)
	song, err := r.LoadFile(context.Background(), "song.wav", NewRoot())
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.UpdateFile(context.Background(), song)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("refresh failed: %v", err)
		}
	}
	if song.Tag().Get(tag.Title) != "Same" || len(song.Tag().Items) != 2 {
		t.Errorf("unexpected tag after concurrent refreshes: %+v", song.Tag().Items)
	}
}

func TestUpdateFileInArchive(t *testing.T) {
	root := t.TempDir()
	putZip(t, root, "sets/live.zip", map[string][]byte{"disc1/opener.mp3": taggedMP3("Opener")}, baseTime)
	r := newRefresher(t, root)

	arc := NewRoot().MakeChild("sets").MakeChild("live.zip")
	arc.InArchive = true
	disc := arc.MakeChild("disc1")

	song, err := r.LoadFile(context.Background(), "opener.mp3", disc)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if got := song.Tag().Get(tag.Title); got != "Opener" {
		t.Errorf("expected title Opener, got %q", got)
	}
	if song.MTime().IsKnown() {
		t.Errorf("archive refresh should not set an mtime, got %v", song.MTime())
	}
}

func TestUpdateFileInArchiveRejectsUnknownSuffix(t *testing.T) {
	r := newRefresher(t, t.TempDir())

	// the archive does not exist, so reaching it would report
	// ResourceUnavailable instead
	arc := NewRoot().MakeChild("nowhere.zip")
	arc.InArchive = true
	for _, name := range []string{"notes.txt", "README"} {
		err := r.UpdateFileInArchive(context.Background(), NewSong(name, arc))
		if !mediaerr.IsUnsupportedFormat(err) {
			t.Errorf("%s: expected UnsupportedFormat, got %v", name, err)
		}
	}
}

func TestUpdateFileInArchiveWithoutParent(t *testing.T) {
	r := newRefresher(t, t.TempDir())
	song := NewSong("box.zip/one.wav", nil)
	if err := r.UpdateFileInArchive(context.Background(), song); !mediaerr.IsResourceUnavailable(err) {
		t.Errorf("expected ResourceUnavailable, got %v", err)
	}
	if song.Tag() != nil {
		t.Error("failed refresh set a tag")
	}
}

func TestRefreshReadFailureKeepsState(t *testing.T) {
	body := taggedMP3("Remote")
	var broken atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if broken.Load() && req.Header.Get("Range") != "" {
			http.Error(w, "disk error", http.StatusInternalServerError)
			return
		}
		http.ServeContent(w, req, "stream.raw", baseTime, bytes.NewReader(body))
	}))
	defer srv.Close()

	r := newRefresher(t, t.TempDir())
	d := NewDetachedSong(srv.URL + "/stream.raw")
	if err := r.UpdateDetached(context.Background(), d); err != nil {
		t.Fatalf("UpdateDetached failed: %v", err)
	}
	before, mtime := d.Tag(), d.MTime()

	// the trailer scan seeks with a range request, which now fails
	broken.Store(true)
	err := r.UpdateDetached(context.Background(), d)
	if !mediaerr.IsIOFailure(err) {
		t.Fatalf("expected IOFailure, got %v", err)
	}
	if d.Tag() != before || d.Tag().Get(tag.Title) != "Remote" {
		t.Errorf("tag changed after a failed refresh: %+v", d.Tag())
	}
	if !d.MTime().Equal(mtime) {
		t.Errorf("mtime changed after a failed refresh: %v", d.MTime())
	}
}

func TestUpdateDetached(t *testing.T) {
	root := t.TempDir()
	p := put(t, root, "loose.wav", titledWAV("Loose", 1), baseTime)
	r := newRefresher(t, root)

	d := NewDetachedSong(p)
	if err := r.UpdateDetached(context.Background(), d); err != nil {
		t.Fatalf("UpdateDetached failed: %v", err)
	}
	if d.Tag().Get(tag.Title) != "Loose" || !d.MTime().Equal(KnownMTime(baseTime)) {
		t.Errorf("unexpected detached state: %v %v", d.Tag().Items, d.MTime())
	}

	if err := r.UpdateDetached(context.Background(), NewDetachedSong(root)); !mediaerr.IsResourceUnavailable(err) {
		t.Errorf("a directory should be rejected, got %v", err)
	}
}

func TestUpdateDetachedRemoteHasUnknownMTime(t *testing.T) {
	body := taggedMP3("Remote")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.ServeContent(w, req, "stream.raw", baseTime, bytes.NewReader(body))
	}))
	defer srv.Close()

	r := newRefresher(t, t.TempDir())
	d := NewDetachedSong(srv.URL + "/stream.raw")
	if err := r.UpdateDetached(context.Background(), d); err != nil {
		t.Fatalf("UpdateDetached failed: %v", err)
	}
	if d.MTime().IsKnown() {
		t.Errorf("remote mtime should be unknown, got %v", d.MTime())
	}
	if got := d.Tag().Get(tag.Title); got != "Remote" {
		t.Errorf("expected title Remote, got %q", got)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := OpenStore(ctx, filepath.Join(t.TempDir(), "db", "catalog.db"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer store.Close()

	root := NewRoot()
	known := NewSong("a.wav", root.MakeChild("x").MakeChild("y"))
	known.Restore(&tag.Tag{Duration: 1500 * time.Millisecond, Items: []tag.Item{
		{Type: tag.Title, Value: "A"}, {Type: tag.Artist, Value: "One"}, {Type: tag.Artist, Value: "Two"},
	}}, KnownMTime(baseTime))
	unknown := NewSong("b.wav", root)
	unknown.Restore(&tag.Tag{Duration: tag.UnknownDuration}, UnknownMTime)

	for _, s := range []*Song{known, unknown} {
		if err := store.SaveSong(ctx, s); err != nil {
			t.Fatalf("SaveSong failed: %v", err)
		}
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.CountSongs() != 2 {
		t.Fatalf("expected 2 songs, got %d", loaded.CountSongs())
	}
	a := loaded.LookupSong("x/y/a.wav")
	if a == nil {
		t.Fatal("song x/y/a.wav not restored")
	}
	if a.Tag().Duration != 1500*time.Millisecond || !a.MTime().Equal(KnownMTime(baseTime)) {
		t.Errorf("unexpected restored state: %v %v", a.Tag().Duration, a.MTime())
	}
	if got := a.Tag().Values(tag.Artist); len(got) != 2 || got[0] != "One" || got[1] != "Two" {
		t.Errorf("tag items out of order: %v", got)
	}
	b := loaded.LookupSong("b.wav")
	if b == nil || b.MTime().IsKnown() || b.Tag().HasDuration() {
		t.Errorf("unknown values should survive as unknown: %+v", b)
	}

	if err := store.DeleteDirectory(ctx, "x"); err != nil {
		t.Fatalf("DeleteDirectory failed: %v", err)
	}
	loaded, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.CountSongs() != 1 || loaded.Lookup("x") != nil {
		t.Errorf("subtree not deleted: %d songs", loaded.CountSongs())
	}
}

func TestUpdaterRun(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	put(t, root, "a.wav", titledWAV("A", 1), baseTime)
	put(t, root, "sub/b.wav", titledWAV("B", 1), baseTime)
	put(t, root, "sub/notes.txt", []byte("ignored"), baseTime)
	put(t, root, ".hidden/c.wav", titledWAV("C", 1), baseTime)
	putZip(t, root, "live.zip", map[string][]byte{
		"one.mp3":   taggedMP3("One"),
		"cover.jpg": []byte("jpeg"),
	}, baseTime)

	store, err := OpenStore(ctx, filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer store.Close()

	u := NewUpdater(logging.Discard(), newRefresher(t, root), store, 2)
	tree := NewRoot()
	stats, err := u.Run(ctx, tree)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Added != 3 || stats.Failed != 0 {
		t.Fatalf("unexpected first run stats: %s", stats)
	}
	one := tree.LookupSong("live.zip/one.mp3")
	if one == nil || one.Tag().Get(tag.Title) != "One" {
		t.Fatalf("archive song missing or untagged: %+v", one)
	}
	if !one.MTime().Equal(KnownMTime(baseTime)) {
		t.Errorf("archive songs should carry the archive mtime, got %v", one.MTime())
	}

	stats, err = u.Run(ctx, tree)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if stats.Unchanged != 3 || stats.Added+stats.Updated+stats.Removed != 0 {
		t.Errorf("unexpected second run stats: %s", stats)
	}

	// change a, delete b, corrupt nothing yet
	put(t, root, "a.wav", titledWAV("A2", 1), baseTime.Add(time.Hour))
	if err := os.RemoveAll(filepath.Join(root, "sub")); err != nil {
		t.Fatal(err)
	}
	stats, err = u.Run(ctx, tree)
	if err != nil {
		t.Fatalf("third Run failed: %v", err)
	}
	if stats.Updated != 1 || stats.Removed != 1 {
		t.Errorf("unexpected third run stats: %s", stats)
	}
	if got := tree.LookupSong("a.wav").Tag().Get(tag.Title); got != "A2" {
		t.Errorf("expected refreshed title, got %q", got)
	}

	// a song that no longer reads is pruned
	put(t, root, "a.wav", []byte("garbage"), baseTime.Add(2*time.Hour))
	stats, err = u.Run(ctx, tree)
	if err != nil {
		t.Fatalf("fourth Run failed: %v", err)
	}
	if stats.Failed != 1 || tree.LookupSong("a.wav") != nil {
		t.Errorf("unreadable song not pruned: %s", stats)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.CountSongs() != 1 || loaded.LookupSong("live.zip/one.mp3") == nil {
		t.Errorf("store out of sync: %d songs", loaded.CountSongs())
	}
	if arc := loaded.Lookup("live.zip"); arc == nil || !arc.InArchive || !arc.MTime.Equal(KnownMTime(baseTime)) {
		t.Errorf("archive directory not persisted: %+v", arc)
	}
}
