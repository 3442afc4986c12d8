// ABOUTME: Tests for the serve command helpers
// ABOUTME: Covers queue resolution against the catalog and the status JSON shape
package main

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonated/internal/catalog"
	"github.com/Resonate-Protocol/resonated/internal/config"
	"github.com/Resonate-Protocol/resonated/internal/player"
	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

func TestQueueResolvesCatalogSongs(t *testing.T) {
	root := catalog.NewRoot()
	album := root.MakeChild("album")
	song := catalog.NewSong("one.flac", album)
	titled := &tag.Tag{Duration: tag.UnknownDuration, Items: []tag.Item{{Type: tag.Title, Value: "One"}}}
	song.Restore(titled, catalog.UnknownMTime)
	album.AddSong(song)

	arc := root.MakeChild("box.zip")
	arc.InArchive = true
	arc.AddSong(catalog.NewSong("two.wav", arc))

	e := &env{cfg: &config.Config{MusicDirectory: "/music"}}
	cmd := &ServeCmd{Songs: []string{"album/one.flac", "http://radio.example/stream.mp3"}, All: true}
	q := cmd.queue(e, root)

	if len(q) != 3 {
		t.Fatalf("expected 3 queued songs, got %d: %+v", len(q), q)
	}
	if q[0].uri != filepath.Join("/music", "album/one.flac") || q[0].tag != titled {
		t.Errorf("catalog song not resolved: %+v", q[0])
	}
	if q[1].uri != "http://radio.example/stream.mp3" || q[1].tag != nil {
		t.Errorf("remote song should pass through: %+v", q[1])
	}
	if q[2].uri != filepath.Join("/music", "album/one.flac") {
		t.Errorf("expected --all to add the catalog song and skip archive entries, got %+v", q[2])
	}
}

func TestStatusJSON(t *testing.T) {
	st := player.Status{
		URI:      "/music/a.wav",
		State:    player.Playing,
		Format:   audio.PCM(44100, 2, 16),
		Position: 1500 * time.Millisecond,
		Duration: tag.UnknownDuration,
		Chunks:   7,
		Tag:      &tag.Tag{Items: []tag.Item{{Type: tag.Artist, Value: "Band"}}},
		Err:      errors.New("boom"),
	}
	out := statusJSON(st)

	if out["state"] != "playing" || out["position_ms"] != int64(1500) || out["chunks"] != 7 {
		t.Errorf("unexpected status %v", out)
	}
	if _, ok := out["duration_ms"]; ok {
		t.Error("unknown duration should be omitted")
	}
	if out["artist"] != "Band" || out["format"] != "44100:16:2" || out["error"] != "boom" {
		t.Errorf("unexpected status %v", out)
	}
	if _, ok := out["title"]; ok {
		t.Error("empty title should be omitted")
	}
}
