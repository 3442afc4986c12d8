// ABOUTME: Tests for the tag resolution chain ordering and failure handling
// ABOUTME: Uses a fake native scanner alongside real APE, ID3 and RIFF images
package tagscan

import (
	"bytes"
	"errors"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonated/internal/config"
	"github.com/Resonate-Protocol/resonated/internal/decoder"
	"github.com/Resonate-Protocol/resonated/internal/decoder/plugins"
	"github.com/Resonate-Protocol/resonated/internal/input"
	"github.com/Resonate-Protocol/resonated/internal/logging"
	"github.com/Resonate-Protocol/resonated/internal/mediaerr"
	"github.com/Resonate-Protocol/resonated/internal/testutil"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

// native claims ".nat" files starting with its magic and reports a title.
type native struct {
	magic string
	title string
	err   error
	calls int
}

func (p *native) Name() string            { return "native" }
func (p *native) Init(config.Block) error { return nil }
func (p *native) Suffixes() []string      { return []string{"nat"} }
func (p *native) MIMETypes() []string     { return nil }

func (p *native) ScanStream(s input.Stream, h tag.Handler) error {
	p.calls++
	if p.err != nil {
		return p.err
	}
	head := make([]byte, len(p.magic))
	if _, err := io.ReadFull(s, head); err != nil || string(head) != p.magic {
		return mediaerr.E(mediaerr.KindUnsupportedFormat, "native", s.URI(), nil)
	}
	h.OnDuration(3 * time.Second)
	if p.title != "" {
		h.OnTag(tag.Title, p.title)
	}
	return nil
}

func newScanner(plugins ...decoder.Plugin) *Scanner {
	reg := decoder.NewRegistry(logging.Discard(), plugins...)
	reg.Init(nil)
	return New(logging.Discard(), reg)
}

func join(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func TestNativeScanWins(t *testing.T) {
	p := &native{magic: "NATV", title: "From Plugin"}
	sc := newScanner(p)

	data := join([]byte("NATV"), make([]byte, 64), testutil.ID3v1("From ID3v1", "Someone", ""))
	b := tag.NewBuilder()
	if err := sc.Scan(input.NewMemory("song.nat", "", data), b); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	got := b.Commit()

	if got.Get(tag.Title) != "From Plugin" {
		t.Errorf("expected native title, got %q", got.Get(tag.Title))
	}
	if got.Get(tag.Artist) != "" {
		t.Errorf("fallback should not run after a native hit, got artist %q", got.Get(tag.Artist))
	}
	if got.Duration != 3*time.Second {
		t.Errorf("expected duration 3s, got %v", got.Duration)
	}
}

func TestFallbackAfterEmptyNativeScan(t *testing.T) {
	p := &native{magic: "NATV"}
	sc := newScanner(p)

	data := join([]byte("NATV"), make([]byte, 64), testutil.APEv2(testutil.APEItem{Key: "Title", Value: "From APE"}))
	b := tag.NewBuilder()
	if err := sc.Scan(input.NewMemory("song.nat", "", data), b); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	got := b.Commit()

	if p.calls != 1 {
		t.Fatalf("expected one native call, got %d", p.calls)
	}
	if got.Get(tag.Title) != "From APE" {
		t.Errorf("expected APE title, got %q", got.Get(tag.Title))
	}
	// a duration alone leaves the builder empty but is kept
	if got.Duration != 3*time.Second {
		t.Errorf("expected native duration to survive, got %v", got.Duration)
	}
}

func TestEmbeddedBeforeLeading(t *testing.T) {
	sc := newScanner()

	data := join(
		testutil.ID3v23(testutil.Frame{ID: "TIT2", Text: "Leading Title"}, testutil.Frame{ID: "TPE1", Text: "Leading Artist"}),
		make([]byte, 256),
		testutil.APEv2(testutil.APEItem{Key: "Title", Value: "Embedded Title"}),
	)
	b := tag.NewBuilder()
	if err := sc.Scan(input.NewMemory("song.raw", "", data), b); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	got := b.Commit()

	if got.Get(tag.Title) != "Embedded Title" {
		t.Errorf("expected APE title, got %q", got.Get(tag.Title))
	}
	if got.Get(tag.Artist) != "" {
		t.Errorf("ID3 should be skipped once APE yields fields, got artist %q", got.Get(tag.Artist))
	}
}

func TestLeadingTagWhenNoTrailer(t *testing.T) {
	sc := newScanner()

	data := join(
		testutil.ID3v23(testutil.Frame{ID: "TIT2", Text: "Leading Title"}, testutil.Frame{ID: "TPE1", Text: "Leading Artist"}),
		make([]byte, 256),
	)
	b := tag.NewBuilder()
	if err := sc.Scan(input.NewMemory("song.raw", "", data), b); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	got := b.Commit()

	if got.Get(tag.Title) != "Leading Title" || got.Get(tag.Artist) != "Leading Artist" {
		t.Errorf("unexpected ID3 result: %+v", got.Items)
	}
}

func TestRIFFWrappedID3(t *testing.T) {
	sc := newScanner()

	id3 := testutil.ID3v23(testutil.Frame{ID: "TIT2", Text: "Wrapped"})
	data := testutil.WAV(8000, 1, make([]int16, 100), testutil.Chunk{ID: "id3 ", Data: id3})
	b := tag.NewBuilder()
	if err := sc.Scan(input.NewMemory("song.wav", "", data), b); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if got := b.Commit().Get(tag.Title); got != "Wrapped" {
		t.Errorf("expected title from the id3 chunk, got %q", got)
	}
}

func TestWAVInfoBeatsEmbeddedID3(t *testing.T) {
	sc := newScanner(plugins.NewWAV(logging.Discard()))

	id3 := testutil.ID3v23(testutil.Frame{ID: "TIT2", Text: "Wrapped"}, testutil.Frame{ID: "TPE1", Text: "ID3 Artist"})
	data := testutil.WAV(8000, 1, make([]int16, 8000),
		testutil.Chunk{ID: "LIST", Data: testutil.InfoList("INAM", "Info Title")},
		testutil.Chunk{ID: "id3 ", Data: id3},
	)
	b := tag.NewBuilder()
	if err := sc.Scan(input.NewMemory("song.wav", "", data), b); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	got := b.Commit()

	if got.Get(tag.Title) != "Info Title" {
		t.Errorf("expected INFO title, got %q", got.Get(tag.Title))
	}
	if got.Get(tag.Artist) != "" {
		t.Errorf("embedded ID3 should not be merged, got artist %q", got.Get(tag.Artist))
	}
	if got.Duration != time.Second {
		t.Errorf("expected 1s, got %v", got.Duration)
	}
}

func TestEmptyResultIsSuccess(t *testing.T) {
	sc := newScanner()

	b := tag.NewBuilder()
	if err := sc.Scan(input.NewMemory("song.raw", "", make([]byte, 512)), b); err != nil {
		t.Fatalf("an untagged file should scan cleanly: %v", err)
	}
	got := b.Commit()
	if !got.IsEmpty() || got.HasDuration() {
		t.Errorf("expected an empty tag, got %+v", got)
	}
}

func TestAllClaimantsDecline(t *testing.T) {
	p := &native{magic: "NATV"}
	sc := newScanner(p)

	b := tag.NewBuilder()
	err := sc.Scan(input.NewMemory("song.nat", "", []byte("garbage garbage")), b)
	if !mediaerr.IsUnsupportedFormat(err) {
		t.Fatalf("expected UnsupportedFormat, got %v", err)
	}
}

func TestNativeIOFailureAborts(t *testing.T) {
	p := &native{err: errors.New("device gone")}
	sc := newScanner(p)

	b := tag.NewBuilder()
	err := sc.Scan(input.NewMemory("song.nat", "", testutil.ID3v1("T", "A", "")), b)
	if !mediaerr.IsIOFailure(err) {
		t.Fatalf("expected IOFailure, got %v", err)
	}
	if !b.IsEmpty() {
		t.Error("fallback must not run after a failed native scan")
	}
}

func TestFallbackOnlySkipsPlugins(t *testing.T) {
	p := &native{magic: "NATV", title: "From Plugin"}
	sc := newScanner(p)

	data := join([]byte("NATV"), testutil.ID3v1("Trailer", "Artist", "Album"))
	b := tag.NewBuilder()
	if err := sc.ScanFallbackOnly(input.NewMemory("song.nat", "", data), b); err != nil {
		t.Fatalf("ScanFallbackOnly failed: %v", err)
	}
	if p.calls != 0 {
		t.Errorf("plugin scanned %d times", p.calls)
	}
	if got := b.Commit().Get(tag.Album); got != "Album" {
		t.Errorf("expected ID3v1 album, got %q", got)
	}
}

func TestUnsizedStreamIsBuffered(t *testing.T) {
	sc := newScanner()

	data := join(make([]byte, 100), testutil.APEv2(testutil.APEItem{Key: "Artist", Value: "Buffered"}))
	b := tag.NewBuilder()
	if err := sc.Scan(unsized{input.NewMemory("song.raw", "", data)}, b); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if got := b.Commit().Get(tag.Artist); got != "Buffered" {
		t.Errorf("expected APE artist, got %q", got)
	}
}

type unsized struct{ input.Stream }

func (unsized) Size() int64 { return input.UnknownSize }

// failingAfter returns EIO for every read past the first n bytes.
type failingAfter struct {
	input.Stream
	n int64
}

func (s failingAfter) Read(p []byte) (int, error) {
	off := s.Stream.Offset()
	if off >= s.n {
		return 0, syscall.EIO
	}
	if int64(len(p)) > s.n-off {
		p = p[:s.n-off]
	}
	return s.Stream.Read(p)
}

func TestFallbackReadFailureAborts(t *testing.T) {
	sc := newScanner()

	data := join(make([]byte, 512), testutil.ID3v1("Unreachable", "Artist", ""))
	b := tag.NewBuilder()
	err := sc.Scan(failingAfter{input.NewMemory("song.mp3", "", data), 16}, b)
	if !mediaerr.IsIOFailure(err) {
		t.Fatalf("expected IOFailure, got %v", err)
	}
	if !errors.Is(err, syscall.EIO) {
		t.Errorf("expected the read error to be kept, got %v", err)
	}

	err = sc.ScanFallbackOnly(failingAfter{input.NewMemory("song.mp3", "", data), 16}, tag.NewBuilder())
	if !mediaerr.IsIOFailure(err) {
		t.Errorf("expected IOFailure without plugins too, got %v", err)
	}
}

func TestUnsizedStreamReadFailureAborts(t *testing.T) {
	sc := newScanner()

	// the stream breaks while it is buffered for the trailer scan
	data := join(testutil.ID3v23(testutil.Frame{ID: "TIT2", Text: "Cut Off"}), make([]byte, 64))
	err := sc.Scan(unsized{failingAfter{input.NewMemory("song.raw", "", data), 12}}, tag.NewBuilder())
	if !mediaerr.IsIOFailure(err) {
		t.Fatalf("expected IOFailure while buffering, got %v", err)
	}
}

func TestLongUnsizedStreamSkipsTrailer(t *testing.T) {
	sc := newScanner()
	sc.limit = 1024

	// an APE tag ends exactly at the buffer limit, looking like a trailer
	lead := testutil.ID3v23(testutil.Frame{ID: "TIT2", Text: "Leading"})
	ape := testutil.APEv2(testutil.APEItem{Key: "Title", Value: "Middle"})
	data := join(lead, make([]byte, 1024-len(lead)-len(ape)), ape, make([]byte, 4096))

	b := tag.NewBuilder()
	if err := sc.Scan(unsized{input.NewMemory("song.raw", "", data)}, b); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if got := b.Commit().Get(tag.Title); got != "Leading" {
		t.Errorf("expected the leading tag of a truncated stream, got %q", got)
	}
}
