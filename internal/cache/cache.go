// Package cache persists extraction results keyed by file content hash.
//
// The on-disk layout is a bbolt index mapping source paths to
// {hash, lastProcessed} plus one lz4-compressed JSON blob per distinct
// content hash under blobs/. Anything unreadable is treated as a miss.
package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"

	"github.com/Someblueman/codexdoc/internal/extract"
	"github.com/Someblueman/codexdoc/internal/logging"
)

// formatVersion invalidates every entry when the serialized result shape changes.
const formatVersion = 1

const (
	indexFileName = "index.db"
	blobDirName   = "blobs"
	blobSuffix    = ".lz4"
)

var bucketEntries = []byte("entries")

// DefaultMaxAge matches the default sweep horizon.
const DefaultMaxAge = 7 * 24 * time.Hour

type entry struct {
	Hash          string    `json:"hash"`
	LastProcessed time.Time `json:"lastProcessed"`
	Version       int       `json:"version"`
}

// Cache is safe for concurrent use. bbolt serializes index writers and blobs
// are content addressed, so concurrent Puts for different files never conflict.
type Cache struct {
	dir    string
	db     *bbolt.DB
	now    func() time.Time
	logger logrus.FieldLogger
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for miss diagnostics.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Open creates dir if needed and opens its index.
func Open(dir string, opts ...Option) (*Cache, error) {
	if err := os.MkdirAll(filepath.Join(dir, blobDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dir, indexFileName), 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache index: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache bucket: %w", err)
	}

	c := &Cache{
		dir:    dir,
		db:     db,
		now:    time.Now,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the index file.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// HashContent returns the hex sha256 of content.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached result for path when the stored hash matches content.
// Blobs are shared between files with identical content, so every path in the
// decoded result is rewritten to path.
func (c *Cache) Get(path string, content []byte) (extract.Result, bool) {
	hash := HashContent(content)

	e, ok, err := c.lookup(path)
	if err != nil {
		c.logger.WithError(err).WithField("path", path).Debug("cache index read failed")
		return extract.Result{}, false
	}
	if !ok || e.Version != formatVersion || e.Hash != hash {
		return extract.Result{}, false
	}

	res, err := c.readBlob(hash)
	if err != nil {
		c.logger.WithError(err).WithField("path", path).Debug("cache blob unreadable")
		return extract.Result{}, false
	}
	res.Path = path
	for i := range res.Declarations {
		res.Declarations[i].Record.FilePath = path
	}
	return res, true
}

// Put records result as the extraction of content at path.
func (c *Cache) Put(path string, content []byte, result extract.Result) error {
	hash := HashContent(content)
	if err := c.writeBlob(hash, result); err != nil {
		return fmt.Errorf("write cache blob for %s: %w", path, err)
	}

	data, err := json.Marshal(entry{Hash: hash, LastProcessed: c.now().UTC(), Version: formatVersion})
	if err != nil {
		return err
	}
	if err := c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).Put([]byte(path), data)
	}); err != nil {
		return fmt.Errorf("update cache index for %s: %w", path, err)
	}
	return nil
}

// Sweep removes entries last processed before now-maxAge, together with any
// blob no surviving entry references. It returns the number of entries removed.
func (c *Cache) Sweep(maxAge time.Duration) (int, error) {
	cutoff := c.now().Add(-maxAge)
	removed := 0
	var orphaned []string

	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		live := make(map[string]bool)
		candidates := make(map[string]bool)
		var stale [][]byte

		if err := b.ForEach(func(k, v []byte) error {
			var e entry
			if err := json.Unmarshal(v, &e); err != nil || e.LastProcessed.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
				if err == nil {
					candidates[e.Hash] = true
				}
				return nil
			}
			live[e.Hash] = true
			return nil
		}); err != nil {
			return err
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		for hash := range candidates {
			if !live[hash] {
				orphaned = append(orphaned, hash)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep cache index: %w", err)
	}

	var errs []error
	for _, hash := range orphaned {
		if err := os.Remove(c.blobPath(hash)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}

// Stats reports the number of index entries and blob files.
func (c *Cache) Stats() (entries int, blobs int, err error) {
	if err := c.db.View(func(tx *bbolt.Tx) error {
		entries = tx.Bucket(bucketEntries).Stats().KeyN
		return nil
	}); err != nil {
		return 0, 0, err
	}
	files, err := os.ReadDir(filepath.Join(c.dir, blobDirName))
	if err != nil {
		return entries, 0, err
	}
	for _, f := range files {
		if !f.IsDir() && filepath.Ext(f.Name()) == blobSuffix {
			blobs++
		}
	}
	return entries, blobs, nil
}

func (c *Cache) lookup(path string) (entry, bool, error) {
	var e entry
	var found bool
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketEntries).Get([]byte(path))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		found = true
		return nil
	})
	return e, found, err
}

func (c *Cache) blobPath(hash string) string {
	return filepath.Join(c.dir, blobDirName, hash+blobSuffix)
}

func (c *Cache) readBlob(hash string) (extract.Result, error) {
	f, err := os.Open(c.blobPath(hash))
	if err != nil {
		return extract.Result{}, err
	}
	defer f.Close()

	var res extract.Result
	if err := json.NewDecoder(lz4.NewReader(f)).Decode(&res); err != nil {
		return extract.Result{}, fmt.Errorf("decode blob: %w", err)
	}
	return res, nil
}

func (c *Cache) writeBlob(hash string, result extract.Result) error {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(result); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	path := c.blobPath(hash)
	tmp, err := os.CreateTemp(filepath.Dir(path), hash+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, &buf); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
