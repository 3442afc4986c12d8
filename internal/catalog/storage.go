// ABOUTME: Storage collaborator mapping catalog URIs onto the music directory
// ABOUTME: LocalStorage answers file info queries and directory listings
package catalog

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Resonate-Protocol/resonated/internal/mediaerr"
)

// FileInfo is what storage reports about a URI.
type FileInfo struct {
	IsRegular bool
	IsDir     bool
	MTime     MTime
	Size      int64
}

// Storage resolves storage-relative URIs. Relative URIs use forward slashes
// and the root directory is "".
type Storage interface {
	GetInfo(uri string, followSymlink bool) (FileInfo, error)
	ReadDir(uri string) ([]fs.DirEntry, error)
	// MapFS returns the local path of uri, or "" if it has none.
	MapFS(uri string) string
	MapChildFS(dir, name string) string
	Root() string
}

// LocalStorage is a Storage over a directory of the local filesystem.
type LocalStorage struct {
	root string
}

func NewLocalStorage(root string) (*LocalStorage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &LocalStorage{root: abs}, nil
}

func (s *LocalStorage) Root() string { return s.root }

func (s *LocalStorage) MapFS(uri string) string {
	clean := path.Clean("/" + uri)
	if clean == "/" {
		return s.root
	}
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
}

func (s *LocalStorage) MapChildFS(dir, name string) string {
	return s.MapFS(path.Join(dir, name))
}

func (s *LocalStorage) GetInfo(uri string, followSymlink bool) (FileInfo, error) {
	p := s.MapFS(uri)
	stat := os.Lstat
	if followSymlink {
		stat = os.Stat
	}
	fi, err := stat(p)
	if err != nil {
		return FileInfo{}, mediaerr.E(mediaerr.KindResourceUnavailable, "stat", uri, err)
	}
	return FileInfo{
		IsRegular: fi.Mode().IsRegular(),
		IsDir:     fi.IsDir(),
		MTime:     KnownMTime(fi.ModTime()),
		Size:      fi.Size(),
	}, nil
}

func (s *LocalStorage) ReadDir(uri string) ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(s.MapFS(uri))
	if err != nil {
		return nil, mediaerr.E(mediaerr.KindResourceUnavailable, "readdir", uri, err)
	}
	return entries, nil
}
