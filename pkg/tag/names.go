// ABOUTME: Field name tables for vorbis comments and APE items
// ABOUTME: Maps container-specific keys onto tag Types
package tag

import "strings"

// NameTable maps an upper-cased container key to a Type.
type NameTable map[string]Type

// VorbisNames covers vorbis comments (FLAC, Ogg) and RIFF INFO fallbacks.
var VorbisNames = NameTable{
	"ARTIST":      Artist,
	"ALBUM":       Album,
	"ALBUMARTIST": AlbumArtist,
	"TITLE":       Title,
	"TRACKNUMBER": Track,
	"NAME":        Name,
	"GENRE":       Genre,
	"DATE":        Date,
	"COMPOSER":    Composer,
	"PERFORMER":   Performer,
	"COMMENT":     Comment,
	"DISCNUMBER":  Disc,
}

// APENames covers APEv1/APEv2 item keys.
var APENames = NameTable{
	"ARTIST":       Artist,
	"ALBUM":        Album,
	"ALBUM ARTIST": AlbumArtist,
	"TITLE":        Title,
	"TRACK":        Track,
	"NAME":         Name,
	"GENRE":        Genre,
	"YEAR":         Date,
	"COMPOSER":     Composer,
	"PERFORMER":    Performer,
	"COMMENT":      Comment,
	"DISC":         Disc,
}

// MapPair resolves a container key through the table, ignoring case.
func MapPair(table NameTable, name string) (Type, bool) {
	t, ok := table[strings.ToUpper(strings.TrimSpace(name))]
	return t, ok
}
