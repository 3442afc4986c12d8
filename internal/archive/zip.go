// ABOUTME: Zip archive access: splits archive paths, lists entries and opens them
// ABOUTME: Entries are read fully into memory so scanners can seek freely
package archive

import (
	"archive/zip"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Resonate-Protocol/resonated/internal/input"
	"github.com/Resonate-Protocol/resonated/internal/logging"
	"github.com/Resonate-Protocol/resonated/internal/mediaerr"
)

// Suffix is the archive type handled by Mapper.
const Suffix = "zip"

// DefaultMaxEntrySize caps how much of a single entry is loaded.
const DefaultMaxEntrySize = 256 << 20

// Entry describes one regular file inside an archive.
type Entry struct {
	Name     string
	Size     int64
	Modified time.Time
}

// Mapper opens entries of zip archives on the local filesystem.
type Mapper struct {
	MaxEntrySize int64
	log          *slog.Logger
}

func NewMapper(logger *slog.Logger) *Mapper {
	return &Mapper{MaxEntrySize: DefaultMaxEntrySize, log: logging.Or(logger)}
}

// IsArchive reports whether name has the archive suffix.
func IsArchive(name string) bool {
	return input.Suffix(name) == Suffix
}

// Split cuts p at its first archive component, so that
// "/music/a.zip/disc1/x.mp3" gives "/music/a.zip" and "disc1/x.mp3".
func Split(p string) (archivePath, entry string, ok bool) {
	p = filepath.ToSlash(p)
	rest := p
	off := 0
	for {
		i := strings.Index(rest, "."+Suffix+"/")
		if i < 0 {
			return "", "", false
		}
		end := off + i + len(Suffix) + 1
		if e := p[end+1:]; e != "" {
			return filepath.FromSlash(p[:end]), e, true
		}
		off = end + 1
		rest = p[off:]
	}
}

func (m *Mapper) open(archivePath string) (*zip.ReadCloser, error) {
	zr, err := zip.OpenReader(archivePath)
	switch {
	case err == nil:
		return zr, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, mediaerr.E(mediaerr.KindResourceUnavailable, "archive", archivePath, err)
	case errors.Is(err, zip.ErrFormat), errors.Is(err, zip.ErrAlgorithm):
		return nil, mediaerr.E(mediaerr.KindMalformedContainer, "archive", archivePath, err)
	}
	return nil, mediaerr.E(mediaerr.KindIOFailure, "archive", archivePath, err)
}

// List returns the regular entries of the archive sorted by name.
func (m *Mapper) List(archivePath string) ([]Entry, error) {
	zr, err := m.open(archivePath)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var out []Entry
	for _, f := range zr.File {
		if !f.Mode().IsRegular() {
			continue
		}
		name := path.Clean(f.Name)
		if strings.HasPrefix(name, "../") || path.IsAbs(name) {
			m.log.Warn("skipping unsafe archive entry", "archive", archivePath, "entry", f.Name)
			continue
		}
		out = append(out, Entry{Name: name, Size: int64(f.UncompressedSize64), Modified: f.Modified})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Open loads entry from the archive into a memory stream whose URI is the
// full archive path of the entry.
func (m *Mapper) Open(archivePath, entry string) (input.Stream, error) {
	zr, err := m.open(archivePath)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	uri := filepath.ToSlash(archivePath) + "/" + entry
	for _, f := range zr.File {
		if path.Clean(f.Name) != entry || !f.Mode().IsRegular() {
			continue
		}
		if limit := m.MaxEntrySize; limit > 0 && f.UncompressedSize64 > uint64(limit) {
			return nil, mediaerr.E(mediaerr.KindResourceUnavailable, "archive", uri, errors.New("entry too large"))
		}
		rc, err := f.Open()
		if err != nil {
			return nil, mediaerr.E(mediaerr.KindMalformedContainer, "archive", uri, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, mediaerr.E(mediaerr.KindMalformedContainer, "archive", uri, err)
		}
		return input.NewMemory(uri, "", data), nil
	}
	return nil, mediaerr.E(mediaerr.KindResourceUnavailable, "archive", uri, fs.ErrNotExist)
}
