// ABOUTME: SQLite persistence for the catalog tree, songs and their tag items
// ABOUTME: Unknown mtimes and durations are stored as NULL
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

// Store keeps the catalog in a SQLite database.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the database at p and migrates its schema.
func OpenStore(ctx context.Context, p string) (*Store, error) {
	if p != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	// one connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	schema := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS directories (path TEXT PRIMARY KEY, parent TEXT, in_archive INTEGER NOT NULL DEFAULT 0, mtime INTEGER);`,
		`CREATE TABLE IF NOT EXISTS songs (uri TEXT PRIMARY KEY, directory TEXT NOT NULL, name TEXT NOT NULL, mtime INTEGER, duration_ms INTEGER, FOREIGN KEY(directory) REFERENCES directories(path) ON DELETE CASCADE);`,
		`CREATE TABLE IF NOT EXISTS tag_items (song_uri TEXT NOT NULL, position INTEGER NOT NULL, type TEXT NOT NULL, value TEXT NOT NULL, PRIMARY KEY(song_uri, position), FOREIGN KEY(song_uri) REFERENCES songs(uri) ON DELETE CASCADE);`,
		`CREATE INDEX IF NOT EXISTS idx_songs_directory ON songs(directory, name);`,
		`INSERT OR IGNORE INTO directories(path, parent, in_archive, mtime) VALUES('', NULL, 0, NULL);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

// SaveDirectory records d and its ancestors.
func (s *Store) SaveDirectory(ctx context.Context, d *Directory) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := saveDirectory(ctx, tx, d); err != nil {
		return err
	}
	return tx.Commit()
}

func saveDirectory(ctx context.Context, tx *sql.Tx, d *Directory) error {
	var chain []*Directory
	for cur := d; cur != nil && !cur.IsRoot(); cur = cur.Parent {
		chain = append(chain, cur)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		c := chain[i]
		_, err := tx.ExecContext(ctx,
			`INSERT INTO directories(path, parent, in_archive, mtime) VALUES(?,?,?,?)
			 ON CONFLICT(path) DO UPDATE SET in_archive=excluded.in_archive, mtime=excluded.mtime`,
			c.Path, c.Parent.Path, c.InArchive, c.MTime)
		if err != nil {
			return fmt.Errorf("save directory %s: %w", c.Path, err)
		}
	}
	return nil
}

// SaveSong writes the song and replaces its tag items.
func (s *Store) SaveSong(ctx context.Context, song *Song) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if song.Parent != nil {
		if err := saveDirectory(ctx, tx, song.Parent); err != nil {
			return err
		}
	}
	dir := ""
	if song.Parent != nil {
		dir = song.Parent.Path
	}

	t := song.Tag()
	var duration sql.NullInt64
	if t != nil && t.HasDuration() {
		duration = sql.NullInt64{Int64: t.Duration.Milliseconds(), Valid: true}
	}
	uri := song.URI()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO songs(uri, directory, name, mtime, duration_ms) VALUES(?,?,?,?,?)
		 ON CONFLICT(uri) DO UPDATE SET mtime=excluded.mtime, duration_ms=excluded.duration_ms`,
		uri, dir, song.Name, song.MTime(), duration); err != nil {
		return fmt.Errorf("save song %s: %w", uri, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tag_items WHERE song_uri=?`, uri); err != nil {
		return fmt.Errorf("clear tag items: %w", err)
	}
	if t != nil {
		insert, err := tx.PrepareContext(ctx, `INSERT INTO tag_items(song_uri, position, type, value) VALUES(?,?,?,?)`)
		if err != nil {
			return err
		}
		defer insert.Close()
		for i, it := range t.Items {
			if _, err := insert.ExecContext(ctx, uri, i, it.Type.String(), it.Value); err != nil {
				return fmt.Errorf("save tag item: %w", err)
			}
		}
	}
	return tx.Commit()
}

// DeleteSong removes a song and its tag items.
func (s *Store) DeleteSong(ctx context.Context, uri string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM songs WHERE uri=?`, uri); err != nil {
		return fmt.Errorf("delete song %s: %w", uri, err)
	}
	return nil
}

// DeleteDirectory removes a directory with everything below it.
func (s *Store) DeleteDirectory(ctx context.Context, p string) error {
	if p == "" {
		return fmt.Errorf("refusing to delete the root directory")
	}
	// '0' sorts right after '/', so the range covers exactly the subtree
	_, err := s.db.ExecContext(ctx, `DELETE FROM directories WHERE path=? OR (path >= ? AND path < ?)`, p, p+"/", p+"0")
	if err != nil {
		return fmt.Errorf("delete directory %s: %w", p, err)
	}
	return nil
}

// Load rebuilds the catalog tree.
func (s *Store) Load(ctx context.Context) (*Directory, error) {
	root := NewRoot()

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, in_archive, mtime FROM directories WHERE path <> '' ORDER BY length(path), path`)
	if err != nil {
		return nil, fmt.Errorf("load directories: %w", err)
	}
	for rows.Next() {
		var p string
		var inArchive bool
		var mtime MTime
		if err := rows.Scan(&p, &inArchive, &mtime); err != nil {
			rows.Close()
			return nil, err
		}
		parentPath, name := path.Split(p)
		parent := root.Lookup(parentPath)
		if parent == nil {
			rows.Close()
			return nil, fmt.Errorf("directory %s has no parent", p)
		}
		d := parent.MakeChild(name)
		d.InArchive = inArchive
		d.MTime = mtime
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := s.loadItems(ctx)
	if err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT uri, directory, name, mtime, duration_ms FROM songs ORDER BY directory, name`)
	if err != nil {
		return nil, fmt.Errorf("load songs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var uri, dir, name string
		var mtime MTime
		var duration sql.NullInt64
		if err := rows.Scan(&uri, &dir, &name, &mtime, &duration); err != nil {
			return nil, err
		}
		parent := root.Lookup(dir)
		if parent == nil {
			return nil, fmt.Errorf("song %s has no directory", uri)
		}
		t := &tag.Tag{Duration: tag.UnknownDuration, Items: items[uri]}
		if duration.Valid {
			t.Duration = time.Duration(duration.Int64) * time.Millisecond
		}
		song := NewSong(name, parent)
		song.Restore(t, mtime)
		parent.AddSong(song)
	}
	return root, rows.Err()
}

func (s *Store) loadItems(ctx context.Context) (map[string][]tag.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT song_uri, type, value FROM tag_items ORDER BY song_uri, position`)
	if err != nil {
		return nil, fmt.Errorf("load tag items: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]tag.Item)
	for rows.Next() {
		var uri, typ, value string
		if err := rows.Scan(&uri, &typ, &value); err != nil {
			return nil, err
		}
		t, ok := tag.ParseType(typ)
		if !ok {
			continue
		}
		out[uri] = append(out[uri], tag.Item{Type: t, Value: value})
	}
	return out, rows.Err()
}
