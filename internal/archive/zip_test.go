// ABOUTME: Tests for zip path splitting, entry listing and entry loading
// ABOUTME: Archives are written to a temp dir with archive/zip
package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/Resonate-Protocol/resonated/internal/logging"
	"github.com/Resonate-Protocol/resonated/internal/mediaerr"
)

func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "album.zip")
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("failed to add %s: %v", name, err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to finish archive: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close archive: %v", err)
	}
	return p
}

func TestSplit(t *testing.T) {
	tests := []struct {
		in      string
		archive string
		entry   string
		ok      bool
	}{
		{"/music/a.zip/disc1/x.mp3", "/music/a.zip", "disc1/x.mp3", true},
		{"a.zip/x.wav", "a.zip", "x.wav", true},
		{"/music/plain/x.mp3", "", "", false},
		{"/music/a.zip", "", "", false},
		{"/music/a.zip/", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			archive, entry, ok := Split(tt.in)
			if ok != tt.ok || filepath.ToSlash(archive) != tt.archive || entry != tt.entry {
				t.Errorf("Split(%q) = %q, %q, %v", tt.in, archive, entry, ok)
			}
		})
	}
}

func TestListAndOpen(t *testing.T) {
	p := writeZip(t, map[string]string{
		"b.mp3":       "second",
		"a/track.wav": "first",
	})
	m := NewMapper(logging.Discard())

	entries, err := m.List(p)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Name != "a/track.wav" || entries[1].Name != "b.mp3" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	s, err := m.Open(p, "a/track.wav")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
	data, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != "first" {
		t.Errorf("unexpected entry body %q", data)
	}
	if s.Size() != 5 {
		t.Errorf("expected size 5, got %d", s.Size())
	}
	if s.URI() != filepath.ToSlash(p)+"/a/track.wav" {
		t.Errorf("unexpected uri %q", s.URI())
	}
	if s.MIME() != "audio/wav" {
		t.Errorf("unexpected mime %q", s.MIME())
	}
}

func TestOpenErrors(t *testing.T) {
	p := writeZip(t, map[string]string{"x.mp3": "x"})
	m := NewMapper(logging.Discard())

	if _, err := m.Open(p, "missing.mp3"); !mediaerr.IsResourceUnavailable(err) {
		t.Errorf("missing entry: expected ResourceUnavailable, got %v", err)
	}
	if _, err := m.Open(filepath.Join(t.TempDir(), "gone.zip"), "x.mp3"); !mediaerr.IsResourceUnavailable(err) {
		t.Errorf("missing archive: expected ResourceUnavailable, got %v", err)
	}

	bogus := filepath.Join(t.TempDir(), "bogus.zip")
	if err := os.WriteFile(bogus, []byte("not a zip at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.List(bogus); !mediaerr.IsMalformedContainer(err) {
		t.Errorf("corrupt archive: expected MalformedContainer, got %v", err)
	}

	m.MaxEntrySize = 0
	if _, err := m.Open(p, "x.mp3"); err != nil {
		t.Errorf("a zero limit disables the cap: %v", err)
	}
}
