// ABOUTME: Tests for the container-unwrap, APE, ID3 and vorbis comment scanners
// ABOUTME: Uses synthetic files from testutil to cover edge cases of each format
package scan

import (
	"bytes"
	"encoding/binary"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonated/internal/mediaerr"
	"github.com/Resonate-Protocol/resonated/internal/testutil"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

// recorder counts handler calls.
type recorder struct {
	tags  []tag.Item
	pairs int
}

func (r *recorder) OnDuration(time.Duration) {}
func (r *recorder) OnTag(t tag.Type, v string) {
	r.tags = append(r.tags, tag.Item{Type: t, Value: v})
}
func (r *recorder) OnPair(string, string) { r.pairs++ }

func (r *recorder) get(t tag.Type) string {
	for _, it := range r.tags {
		if it.Type == t {
			return it.Value
		}
	}
	return ""
}

func TestSeekRIFFID3(t *testing.T) {
	id3Block := testutil.ID3v23(testutil.Frame{ID: "TIT2", Text: "Inside"})
	file := testutil.RIFF("WAVE",
		testutil.Chunk{ID: "fmt ", Data: make([]byte, 16)},
		testutil.Chunk{ID: "LIST", Data: []byte("odd")},
		testutil.Chunk{ID: "id3 ", Data: id3Block},
	)
	r := bytes.NewReader(file)

	n := SeekRIFFID3(r)
	if n != int64(len(id3Block)) {
		t.Fatalf("expected size %d, got %d", len(id3Block), n)
	}
	got := make([]byte, n)
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatalf("failed to read payload: %v", err)
	}
	if !bytes.Equal(got, id3Block) {
		t.Error("stream not positioned at the id3 payload")
	}
}

func TestSeekRIFFID3Invalid(t *testing.T) {
	valid := testutil.RIFF("WAVE", testutil.Chunk{ID: "ID3 ", Data: []byte("xx")})

	oversized := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint32(oversized[4:8], uint32(len(valid)+1))

	huge := testutil.RIFF("WAVE", testutil.Chunk{ID: "junk", Data: nil})
	binary.LittleEndian.PutUint32(huge[16:20], 0x80000000)

	tests := []struct {
		name string
		data []byte
	}{
		{"wrong magic", append([]byte("RIFX"), valid[4:]...)},
		{"declared size beyond stream", oversized},
		{"chunk size beyond int range", huge},
		{"no id3 chunk", testutil.RIFF("WAVE", testutil.Chunk{ID: "data", Data: make([]byte, 7)})},
		{"truncated header", []byte("RIFF")},
		{"empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if n := SeekRIFFID3(bytes.NewReader(tt.data)); n != 0 {
				t.Errorf("expected 0, got %d", n)
			}
		})
	}

	if n := SeekRIFFID3(bytes.NewReader(valid)); n != 2 {
		t.Errorf("uppercase ID3 chunk should be found, got %d", n)
	}
}

func TestSeekAIFFID3(t *testing.T) {
	block := testutil.ID3v23(testutil.Frame{ID: "TPE1", Text: "Artist"})
	file := testutil.AIFF(
		testutil.Chunk{ID: "COMM", Data: make([]byte, 18)},
		testutil.Chunk{ID: "ID3 ", Data: block},
	)
	if n := SeekAIFFID3(bytes.NewReader(file)); n != int64(len(block)) {
		t.Errorf("expected %d, got %d", len(block), n)
	}
	if n := SeekRIFFID3(bytes.NewReader(file)); n != 0 {
		t.Error("AIFF file should not be accepted as RIFF")
	}
}

func TestAPE(t *testing.T) {
	tagData := testutil.APEv2(
		testutil.APEItem{Key: "Title", Value: "Song"},
		testutil.APEItem{Key: "Artist", Value: "One\x00Two"},
		testutil.APEItem{Key: "Cover Art (Front)", Value: "binary", Binary: true},
		testutil.APEItem{Key: "Year", Value: "1999"},
	)
	audioData := bytes.Repeat([]byte{0xAA}, 64)

	tests := []struct {
		name string
		data []byte
	}{
		{"at end", append(append([]byte(nil), audioData...), tagData...)},
		{"before id3v1", append(append(append([]byte(nil), audioData...), tagData...), testutil.ID3v1("x", "y", "z")...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			found, err := APE(bytes.NewReader(tt.data), rec)
			if err != nil || !found {
				t.Fatalf("expected tag, found=%v err=%v", found, err)
			}
			if rec.get(tag.Title) != "Song" || rec.get(tag.Date) != "1999" {
				t.Errorf("unexpected fields %+v", rec.tags)
			}
			artists := 0
			for _, it := range rec.tags {
				if it.Type == tag.Artist {
					artists++
				}
			}
			if artists != 2 {
				t.Errorf("expected two artist values, got %d", artists)
			}
			if len(rec.tags) != 4 {
				t.Errorf("binary item should be skipped, got %d fields", len(rec.tags))
			}
		})
	}
}

func TestAPEMissingAndMalformed(t *testing.T) {
	rec := &recorder{}
	found, err := APE(bytes.NewReader(bytes.Repeat([]byte{1}, 100)), rec)
	if found || err != nil {
		t.Errorf("plain data should yield no tag and no error, got %v %v", found, err)
	}

	bad := testutil.APEv2(testutil.APEItem{Key: "Title", Value: "x"})
	binary.LittleEndian.PutUint32(bad[len(bad)-20:], 1<<21)
	found, err = APE(bytes.NewReader(bad), rec)
	if found || !mediaerr.IsMalformedContainer(err) {
		t.Errorf("expected malformed container, got %v %v", found, err)
	}
}

func TestID3Leading(t *testing.T) {
	data := append(testutil.ID3v23(
		testutil.Frame{ID: "TIT2", Text: "Lead"},
		testutil.Frame{ID: "TPE1", Text: "Singer"},
		testutil.Frame{ID: "TRCK", Text: "3/12"},
	), bytes.Repeat([]byte{0xFF, 0xFB}, 32)...)

	rec := &recorder{}
	found, err := ID3(bytes.NewReader(data), rec)
	if err != nil || !found {
		t.Fatalf("expected tag, found=%v err=%v", found, err)
	}
	if rec.get(tag.Title) != "Lead" || rec.get(tag.Artist) != "Singer" {
		t.Errorf("unexpected fields %+v", rec.tags)
	}
	if rec.get(tag.Track) != "3" {
		t.Errorf("expected track 3, got %q", rec.get(tag.Track))
	}
}

// brokenReader fails every read at or past off.
type brokenReader struct {
	*bytes.Reader
	off int64
}

func (r *brokenReader) Read(p []byte) (int, error) {
	pos := r.Size() - int64(r.Len())
	if pos >= r.off {
		return 0, syscall.EIO
	}
	if int64(len(p)) > r.off-pos {
		p = p[:r.off-pos]
	}
	return r.Reader.Read(p)
}

func TestID3ReadFailure(t *testing.T) {
	data := append(testutil.ID3v23(testutil.Frame{ID: "TIT2", Text: "Lost"}), make([]byte, 64)...)

	// the header is readable, the frames are not
	found, err := ID3(&brokenReader{bytes.NewReader(data), 12}, &recorder{})
	if found || !mediaerr.IsIOFailure(err) {
		t.Fatalf("expected IOFailure, found=%v err=%v", found, err)
	}

	// a tagless stream that fails is not mistaken for one without a tag
	found, err = Fallback(&brokenReader{bytes.NewReader(make([]byte, 512)), 16}, &recorder{})
	if found || !mediaerr.IsIOFailure(err) {
		t.Errorf("expected IOFailure from the fallback, found=%v err=%v", found, err)
	}
}

func TestID3v1Trailer(t *testing.T) {
	data := append(bytes.Repeat([]byte{0}, 200), testutil.ID3v1("Old", "Timer", "Classics")...)
	rec := &recorder{}
	found, err := ID3(bytes.NewReader(data), rec)
	if err != nil || !found {
		t.Fatalf("expected v1 tag, found=%v err=%v", found, err)
	}
	if rec.get(tag.Album) != "Classics" {
		t.Errorf("unexpected album %q", rec.get(tag.Album))
	}
}

func TestFallbackPrefersEmbedded(t *testing.T) {
	data := append(testutil.ID3v23(testutil.Frame{ID: "TIT2", Text: "From ID3"}), make([]byte, 40)...)
	data = append(data, testutil.APEv2(testutil.APEItem{Key: "Title", Value: "From APE"})...)

	rec := &recorder{}
	found, err := Fallback(bytes.NewReader(data), rec)
	if !found || err != nil {
		t.Fatalf("expected success, got %v %v", found, err)
	}
	if len(rec.tags) != 1 || rec.tags[0].Value != "From APE" {
		t.Errorf("embedded scanner should win alone, got %+v", rec.tags)
	}
}

func TestFallbackUnwrapsRIFF(t *testing.T) {
	file := testutil.WAV(8000, 1, make([]int16, 9),
		testutil.Chunk{ID: "id3 ", Data: testutil.ID3v23(testutil.Frame{ID: "TALB", Text: "Wrapped"})})

	rec := &recorder{}
	found, err := Fallback(bytes.NewReader(file), rec)
	if !found || err != nil {
		t.Fatalf("expected success, got %v %v", found, err)
	}
	if rec.get(tag.Album) != "Wrapped" {
		t.Errorf("unexpected fields %+v", rec.tags)
	}
}

func TestFallbackNothing(t *testing.T) {
	rec := &recorder{}
	found, err := Fallback(bytes.NewReader([]byte("just some bytes that are not tags")), rec)
	if found || err != nil {
		t.Errorf("expected no tag and no error, got %v %v", found, err)
	}
}

func TestVorbisComments(t *testing.T) {
	var b bytes.Buffer
	writeString := func(s string) {
		binary.Write(&b, binary.LittleEndian, uint32(len(s)))
		b.WriteString(s)
	}
	writeString("vendor")
	binary.Write(&b, binary.LittleEndian, uint32(3))
	writeString("TITLE=Hello")
	writeString("noequals")
	writeString("ARTIST=World")

	rec := &recorder{}
	if err := VorbisComments(b.Bytes(), rec); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if rec.pairs != 2 {
		t.Errorf("expected 2 pairs, got %d", rec.pairs)
	}

	if err := VorbisComments(b.Bytes()[:b.Len()-3], rec); !mediaerr.IsMalformedContainer(err) {
		t.Errorf("expected malformed error for truncated block, got %v", err)
	}
}
