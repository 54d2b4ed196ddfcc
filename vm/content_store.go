package vm

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tliron/commonlog"
)

var cacheLog = commonlog.GetLogger("briar.cache")

// ---------------------------------------------------------------------------
// ContentStore: content-addressed compile cache
// ---------------------------------------------------------------------------

// ContentStore persists compiled images keyed by the hash of the source
// text that produced them, so unchanged scripts skip compilation on later
// runs.
type ContentStore struct {
	db   *sql.DB
	path string
}

// HashSource returns the content key for a source text.
func HashSource(source []byte) [32]byte {
	return sha256.Sum256(source)
}

// OpenContentStore opens (creating if necessary) the cache database at
// path. Parent directories are created as needed.
func OpenContentStore(path string) (*ContentStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS images (
			hash    TEXT PRIMARY KEY,
			session TEXT NOT NULL,
			created INTEGER NOT NULL,
			image   BLOB NOT NULL
		);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: create schema: %w", err)
	}

	return &ContentStore{db: db, path: path}, nil
}

// Close releases the underlying database.
func (cs *ContentStore) Close() error {
	return cs.db.Close()
}

// Path returns the database file path.
func (cs *ContentStore) Path() string {
	return cs.path
}

// Get returns the cached image for a source hash, or found=false on a
// miss.
func (cs *ContentStore) Get(hash [32]byte) (image []byte, found bool, err error) {
	key := hex.EncodeToString(hash[:])
	row := cs.db.QueryRow(`SELECT image FROM images WHERE hash = ?`, key)
	if err := row.Scan(&image); err != nil {
		if err == sql.ErrNoRows {
			cacheLog.Debugf("miss %s", key[:12])
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: lookup %s: %w", key, err)
	}
	cacheLog.Debugf("hit %s (%d bytes)", key[:12], len(image))
	return image, true, nil
}

// Put stores (or replaces) the image for a source hash, stamped with the
// session that compiled it.
func (cs *ContentStore) Put(hash [32]byte, session string, created int64, image []byte) error {
	key := hex.EncodeToString(hash[:])
	_, err := cs.db.Exec(
		`INSERT INTO images (hash, session, created, image) VALUES (?, ?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET session = excluded.session,
		                                 created = excluded.created,
		                                 image   = excluded.image`,
		key, session, created, image)
	if err != nil {
		return fmt.Errorf("cache: store %s: %w", key, err)
	}
	cacheLog.Debugf("stored %s (%d bytes, session %s)", key[:12], len(image), session)
	return nil
}

// Count returns the number of cached images.
func (cs *ContentStore) Count() (int, error) {
	var n int
	if err := cs.db.QueryRow(`SELECT COUNT(*) FROM images`).Scan(&n); err != nil {
		return 0, fmt.Errorf("cache: count: %w", err)
	}
	return n, nil
}
