package digest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kapnodes/kapimage/pkg/logger"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Database buckets
const (
	// BucketDigests stores file digests keyed by algorithm and absolute path
	BucketDigests = "digests"
)

// Cache remembers file digests keyed by path, invalidated by size and modification time.
// The backing file is recreated on Open and removed on Close so nothing outlives the process.
type Cache struct {
	db      *bolt.DB
	path    string
	logger  *zap.Logger
	mu      sync.RWMutex
	isOpen  bool
	timeout time.Duration
	hits    int64
	misses  int64
}

type cacheRecord struct {
	Size    int64  `json:"size"`
	ModTime int64  `json:"mod_time"`
	Digest  string `json:"digest"`
}

// NewCache creates a cache backed by a bbolt file at path
func NewCache(path string) *Cache {
	return &Cache{
		path:    path,
		logger:  logger.Get(),
		timeout: 1 * time.Second,
	}
}

// Open creates a fresh database file, discarding leftovers from an earlier process
func (c *Cache) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isOpen {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create digest cache directory: %w", err)
	}
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to reset digest cache: %w", err)
	}

	db, err := bolt.Open(c.path, 0600, &bolt.Options{Timeout: c.timeout})
	if err != nil {
		return fmt.Errorf("failed to open digest cache: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketDigests))
		return err
	}); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize buckets: %w", err)
	}

	c.db = db
	c.isOpen = true
	c.logger.Debug("Digest cache opened", zap.String("path", c.path))
	return nil
}

// Close closes the database and removes its file
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isOpen || c.db == nil {
		return nil
	}

	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close digest cache: %w", err)
	}
	c.isOpen = false

	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove digest cache: %w", err)
	}
	c.logger.Debug("Digest cache closed",
		zap.Int64("hits", c.hits),
		zap.Int64("misses", c.misses),
	)
	return nil
}

// IsOpen checks if the cache is open
func (c *Cache) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isOpen
}

// FileDigest returns the digest of path, reusing a cached value while the file's size
// and modification time are unchanged. A nil or closed cache hashes directly.
func (c *Cache) FileDigest(alg Algorithm, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	if c == nil || !c.IsOpen() {
		return File(alg, path)
	}

	key := []byte(string(alg) + ":" + path)
	var rec cacheRecord
	found := false
	err = c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(BucketDigests)).Get(key)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil
		}
		found = rec.Size == info.Size() && rec.ModTime == info.ModTime().UnixNano()
		return nil
	})
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if found {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()

	if found {
		return rec.Digest, nil
	}

	sum, err := File(alg, path)
	if err != nil {
		return "", err
	}

	rec = cacheRecord{Size: info.Size(), ModTime: info.ModTime().UnixNano(), Digest: sum}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(BucketDigests)).Put(key, data)
	}); err != nil {
		c.logger.Warn("Failed to store digest", zap.String("path", path), zap.Error(err))
	}
	return sum, nil
}

// Forget drops every cached digest for path
func (c *Cache) Forget(path string) error {
	if c == nil || !c.IsOpen() {
		return nil
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(BucketDigests))
		for _, alg := range []Algorithm{SHA256, MD5, XXHash} {
			if err := b.Delete([]byte(string(alg) + ":" + path)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stats returns hit and miss counters
func (c *Cache) Stats() map[string]interface{} {
	if c == nil {
		return map[string]interface{}{"open": false, "entries": 0, "hits": int64(0), "misses": int64(0)}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	if c.isOpen {
		_ = c.db.View(func(tx *bolt.Tx) error {
			count = tx.Bucket([]byte(BucketDigests)).Stats().KeyN
			return nil
		})
	}
	return map[string]interface{}{
		"open":    c.isOpen,
		"entries": count,
		"hits":    c.hits,
		"misses":  c.misses,
	}
}
