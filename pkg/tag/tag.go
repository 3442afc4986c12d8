// ABOUTME: Song metadata snapshot and the builder scanners fill in
// ABOUTME: Tags are immutable once committed; builders are append-only
package tag

import (
	"fmt"
	"strings"
	"time"
)

// Type names one metadata field.
type Type int

const (
	Artist Type = iota
	Album
	AlbumArtist
	Title
	Track
	Name
	Genre
	Date
	Composer
	Performer
	Comment
	Disc
	numTypes
)

var typeNames = [numTypes]string{
	Artist:      "Artist",
	Album:       "Album",
	AlbumArtist: "AlbumArtist",
	Title:       "Title",
	Track:       "Track",
	Name:        "Name",
	Genre:       "Genre",
	Date:        "Date",
	Composer:    "Composer",
	Performer:   "Performer",
	Comment:     "Comment",
	Disc:        "Disc",
}

func (t Type) String() string {
	if t < 0 || t >= numTypes {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// ParseType looks up a type by its name, ignoring case.
func ParseType(name string) (Type, bool) {
	for i, n := range typeNames {
		if strings.EqualFold(n, name) {
			return Type(i), true
		}
	}
	return 0, false
}

// Item is one field value. A type may appear more than once.
type Item struct {
	Type  Type
	Value string
}

// UnknownDuration marks a tag whose song length is not known.
const UnknownDuration time.Duration = -1

// Tag is an immutable metadata snapshot. Share it by pointer; never modify
// a Tag after it has been committed.
type Tag struct {
	Duration time.Duration
	Items    []Item
}

// HasDuration reports whether the song length is known.
func (t *Tag) HasDuration() bool {
	return t.Duration >= 0
}

// IsEmpty reports whether the tag has no fields.
func (t *Tag) IsEmpty() bool {
	return t == nil || len(t.Items) == 0
}

// Get returns the first value of the given type.
func (t *Tag) Get(typ Type) string {
	if t == nil {
		return ""
	}
	for _, it := range t.Items {
		if it.Type == typ {
			return it.Value
		}
	}
	return ""
}

// Values returns every value of the given type in order.
func (t *Tag) Values(typ Type) []string {
	if t == nil {
		return nil
	}
	var out []string
	for _, it := range t.Items {
		if it.Type == typ {
			out = append(out, it.Value)
		}
	}
	return out
}

// Clone returns a deep copy.
func (t *Tag) Clone() *Tag {
	if t == nil {
		return nil
	}
	c := &Tag{Duration: t.Duration, Items: make([]Item, len(t.Items))}
	copy(c.Items, t.Items)
	return c
}

// Handler receives metadata from scanners.
type Handler interface {
	OnDuration(d time.Duration)
	OnTag(t Type, value string)
	// OnPair receives a raw name/value pair in vorbis comment naming.
	OnPair(name, value string)
}

// Builder accumulates fields until Commit produces a Tag.
type Builder struct {
	duration time.Duration
	items    []Item
}

// NewBuilder returns a builder with an unknown duration.
func NewBuilder() *Builder {
	return &Builder{duration: UnknownDuration}
}

func (b *Builder) OnDuration(d time.Duration) {
	if d >= 0 {
		b.duration = d
	}
}

func (b *Builder) OnTag(t Type, value string) {
	value = clean(value)
	if value == "" || t < 0 || t >= numTypes {
		return
	}
	b.items = append(b.items, Item{Type: t, Value: value})
}

func (b *Builder) OnPair(name, value string) {
	if t, ok := MapPair(VorbisNames, name); ok {
		b.OnTag(t, value)
	}
}

// Len returns the number of fields collected so far.
func (b *Builder) Len() int {
	return len(b.items)
}

// IsEmpty reports whether no field has been added. A duration alone does
// not count.
func (b *Builder) IsEmpty() bool {
	return len(b.items) == 0
}

// Reset discards everything collected.
func (b *Builder) Reset() {
	b.duration = UnknownDuration
	b.items = nil
}

// Commit returns the collected fields as a new Tag and resets the builder.
func (b *Builder) Commit() *Tag {
	t := &Tag{Duration: b.duration, Items: b.items}
	b.Reset()
	return t
}

// clean drops control characters and surrounding whitespace.
func clean(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
