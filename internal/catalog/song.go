// ABOUTME: Catalog tree: directories, songs and detached songs
// ABOUTME: Each song carries its tag snapshot and mtime behind a refresh lock
package catalog

import (
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

// entry is the refreshable state shared by catalog and detached songs.
type entry struct {
	// refresh is held for the whole of a refresh so two refreshes of the
	// same song never interleave.
	refresh sync.Mutex

	mu    sync.RWMutex
	mtime MTime
	tag   *tag.Tag
}

// Tag returns the current snapshot. Snapshots are never modified after
// they are committed, so the result is safe to keep.
func (e *entry) Tag() *tag.Tag {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tag
}

func (e *entry) MTime() MTime {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mtime
}

// commit replaces the tag, and the mtime when setMTime is true, in one step.
func (e *entry) commit(t *tag.Tag, m MTime, setMTime bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tag = t
	if setMTime {
		e.mtime = m
	}
}

// Song is a file in the catalog. Name is relative to Parent.
type Song struct {
	entry
	Name   string
	Parent *Directory
}

// NewSong returns a song without tag and with an unknown mtime. It is not
// added to parent.
func NewSong(name string, parent *Directory) *Song {
	return &Song{Name: name, Parent: parent}
}

// URI returns the storage-relative path of the song.
func (s *Song) URI() string {
	if s.Parent == nil {
		return s.Name
	}
	return s.Parent.ChildPath(s.Name)
}

// Restore sets state read back from persistent storage.
func (s *Song) Restore(t *tag.Tag, m MTime) {
	s.commit(t, m, true)
}

// DetachedSong is a playable resource outside the catalog, either an
// absolute local path or a remote URI.
type DetachedSong struct {
	entry
	uri string
}

func NewDetachedSong(uri string) *DetachedSong {
	return &DetachedSong{uri: uri}
}

func (d *DetachedSong) URI() string { return d.uri }

// Directory is a node of the catalog tree. InArchive marks an archive file
// and everything below it.
type Directory struct {
	Name      string
	Path      string
	Parent    *Directory
	InArchive bool
	// MTime of the archive file for archive roots, unknown otherwise.
	MTime MTime

	children map[string]*Directory
	songs    map[string]*Song
}

func NewRoot() *Directory {
	return &Directory{
		children: make(map[string]*Directory),
		songs:    make(map[string]*Song),
	}
}

func (d *Directory) IsRoot() bool { return d.Parent == nil }

// ChildPath joins name onto the directory path.
func (d *Directory) ChildPath(name string) string {
	if d.Path == "" {
		return name
	}
	return d.Path + "/" + name
}

func (d *Directory) Child(name string) *Directory {
	return d.children[name]
}

// MakeChild returns the named subdirectory, creating it if needed. New
// children inherit InArchive.
func (d *Directory) MakeChild(name string) *Directory {
	if c, ok := d.children[name]; ok {
		return c
	}
	c := NewRoot()
	c.Name = name
	c.Path = d.ChildPath(name)
	c.Parent = d
	c.InArchive = d.InArchive
	d.children[name] = c
	return c
}

func (d *Directory) RemoveChild(name string) {
	delete(d.children, name)
}

// Children returns the subdirectories sorted by name.
func (d *Directory) Children() []*Directory {
	out := make([]*Directory, 0, len(d.children))
	for _, c := range d.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (d *Directory) Song(name string) *Song {
	return d.songs[name]
}

// AddSong attaches s to d, replacing any song of the same name.
func (d *Directory) AddSong(s *Song) {
	s.Parent = d
	d.songs[s.Name] = s
}

func (d *Directory) RemoveSong(name string) {
	delete(d.songs, name)
}

// Songs returns the songs sorted by name.
func (d *Directory) Songs() []*Song {
	out := make([]*Song, 0, len(d.songs))
	for _, s := range d.songs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup finds the directory at a relative path, or nil.
func (d *Directory) Lookup(p string) *Directory {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return d
	}
	cur := d
	for _, name := range strings.Split(p, "/") {
		cur = cur.children[name]
		if cur == nil {
			return nil
		}
	}
	return cur
}

// LookupSong finds a song by its storage-relative URI.
func (d *Directory) LookupSong(uri string) *Song {
	dir, name := path.Split(uri)
	parent := d.Lookup(dir)
	if parent == nil {
		return nil
	}
	return parent.songs[name]
}

// Walk calls fn for every song below d, depth first in name order.
func (d *Directory) Walk(fn func(*Song)) {
	for _, s := range d.Songs() {
		fn(s)
	}
	for _, c := range d.Children() {
		c.Walk(fn)
	}
}

// CountSongs returns the number of songs below d.
func (d *Directory) CountSongs() int {
	n := len(d.songs)
	for _, c := range d.children {
		n += c.CountSongs()
	}
	return n
}
