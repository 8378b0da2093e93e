package resume

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	// modernc.org/sqlite registers the "sqlite" driver; chosen because it
	// is a pure-Go driver requiring no cgo toolchain, the same
	// consideration onedrive-go's persistence layer was built around.
	_ "modernc.org/sqlite"
)

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %s", path)
	}
	return nil
}

const cacheFileName = ".sy-cache.db"

// Cache is the signature/digest cache named but left undefined by
// spec §6's mention of `--use-cache`/`--clear-cache`: a small sqlite
// table keyed by (path, size, mtime) so unchanged files aren't
// re-hashed across invocations, consulted by the Planner's checksum
// comparison mode only; post-transfer verification always re-hashes.
type Cache struct {
	db   *sql.DB
	path string
}

// OpenCache opens (creating if absent) the cache database at
// <destinationRoot>/.sy-cache.db.
func OpenCache(destinationRoot string) (*Cache, error) {
	path := filepath.Join(destinationRoot, cacheFileName)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS digests (
	path TEXT NOT NULL,
	size INTEGER NOT NULL,
	mtime INTEGER NOT NULL,
	fast_digest INTEGER NOT NULL,
	strong_digest TEXT NOT NULL,
	PRIMARY KEY (path, size, mtime)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create digests schema")
	}
	return &Cache{db: db, path: path}, nil
}

// Clear drops every row, implementing --clear-cache.
func (c *Cache) Clear() error {
	_, err := c.db.Exec(`DELETE FROM digests`)
	return errors.Wrap(err, "clear digest cache")
}

func (c *Cache) Close() error { return c.db.Close() }

// Lookup returns the cached digests for (path, size, mtime), or
// ok=false on a cache miss (including any row whose mtime no longer
// matches, which counts as invalidated rather than stale-but-usable).
func (c *Cache) Lookup(relPath string, size int64, modTime time.Time) (fastDigest uint64, strongDigest string, ok bool, err error) {
	row := c.db.QueryRow(
		`SELECT fast_digest, strong_digest FROM digests WHERE path = ? AND size = ? AND mtime = ?`,
		relPath, size, modTime.Unix())
	if scanErr := row.Scan(&fastDigest, &strongDigest); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return 0, "", false, nil
		}
		return 0, "", false, errors.Wrap(scanErr, "lookup digest cache")
	}
	return fastDigest, strongDigest, true, nil
}

// Store records a freshly-computed digest pair, replacing any stale row
// for the same path.
func (c *Cache) Store(relPath string, size int64, modTime time.Time, fastDigest uint64, strongDigest string) error {
	if _, err := c.db.Exec(`DELETE FROM digests WHERE path = ?`, relPath); err != nil {
		return errors.Wrap(err, "store digest cache")
	}
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO digests (path, size, mtime, fast_digest, strong_digest) VALUES (?, ?, ?, ?, ?)`,
		relPath, size, modTime.Unix(), fastDigest, strongDigest)
	return errors.Wrap(err, "store digest cache")
}

// ClearCacheFile removes the cache database outright, used when
// --clear-cache is requested before the cache has been opened.
func ClearCacheFile(destinationRoot string) error {
	path := filepath.Join(destinationRoot, cacheFileName)
	if err := removeIfExists(path); err != nil {
		return err
	}
	return nil
}
