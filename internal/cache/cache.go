// Package cache keeps model completions on disk so repeated prompts do not
// hit the generation backend again.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kyleking/text2sql-router/internal/config"
	"github.com/kyleking/text2sql-router/internal/logging"
)

// ErrMiss is returned by Get when the key is absent or expired
var ErrMiss = errors.New("cache miss")

// Cache defines the interface for local file caching operations
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Cleanup(ctx context.Context) (int, error)
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

// Entry is the metadata stored next to each cached payload
type Entry struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Size      int64     `json:"size"`
}

// Stats represents cache statistics
type Stats struct {
	TotalEntries int64   `json:"total_entries"`
	TotalSize    int64   `json:"total_size"`
	HitRate      float64 `json:"hit_rate"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
}

// FileCache stores each entry as a .data payload and a .meta JSON file
type FileCache struct {
	directory   string
	maxBytes    int64
	defaultTTL  time.Duration
	mu          sync.Mutex
	hits        int64
	misses      int64
	stopCleanup chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
}

// NewFileCache creates the directory if needed and starts a background sweep
// of expired entries every cleanupFreq. A zero cleanupFreq disables the sweep.
func NewFileCache(directory string, maxSizeMB int, defaultTTL, cleanupFreq time.Duration) (*FileCache, error) {
	directory = config.ExpandPath(directory)

	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &FileCache{
		directory:   directory,
		maxBytes:    int64(maxSizeMB) * 1024 * 1024,
		defaultTTL:  defaultTTL,
		stopCleanup: make(chan struct{}),
		done:        make(chan struct{}),
	}

	if cleanupFreq > 0 {
		go c.backgroundCleanup(cleanupFreq)
	} else {
		close(c.done)
	}

	return c, nil
}

// Get returns the payload stored under key, or ErrMiss
func (c *FileCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.readMeta(c.metaPath(key))
	if err != nil {
		c.misses++
		return nil, ErrMiss
	}

	if time.Now().After(entry.ExpiresAt) {
		c.misses++
		c.remove(c.hashKey(key))

		return nil, ErrMiss
	}

	data, err := os.ReadFile(c.dataPath(key))
	if err != nil {
		c.misses++
		return nil, ErrMiss
	}

	c.hits++

	return data, nil
}

// Set stores data under key. A zero ttl uses the cache default.
func (c *FileCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl == 0 {
		ttl = c.defaultTTL
	}

	now := time.Now()
	entry := Entry{
		Key:       key,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Size:      int64(len(data)),
	}

	if err := c.enforceSize(entry.Size); err != nil {
		return fmt.Errorf("failed to enforce cache size: %w", err)
	}

	if err := os.WriteFile(c.dataPath(key), data, 0o600); err != nil {
		return fmt.Errorf("failed to write cache data: %w", err)
	}

	meta, err := json.Marshal(entry)
	if err != nil {
		c.remove(c.hashKey(key))
		return fmt.Errorf("failed to marshal cache metadata: %w", err)
	}

	if err := os.WriteFile(c.metaPath(key), meta, 0o600); err != nil {
		c.remove(c.hashKey(key))
		return fmt.Errorf("failed to write cache metadata: %w", err)
	}

	return nil
}

// Delete removes an entry; deleting a missing key is not an error
func (c *FileCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.remove(c.hashKey(key))

	return nil
}

// Clear removes every entry and resets the hit counters
func (c *FileCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.directory)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			_ = os.Remove(filepath.Join(c.directory, entry.Name()))
		}
	}

	c.hits, c.misses = 0, 0

	return nil
}

// Cleanup removes expired entries and reports how many were removed
func (c *FileCache) Cleanup(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.directory)
	if err != nil {
		return 0, fmt.Errorf("failed to read cache directory: %w", err)
	}

	now := time.Now()
	removed := 0

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".meta") {
			continue
		}

		entry, err := c.readMeta(filepath.Join(c.directory, e.Name()))
		if err != nil || now.After(entry.ExpiresAt) {
			c.remove(strings.TrimSuffix(e.Name(), ".meta"))
			removed++
		}
	}

	return removed, nil
}

// GetStats returns entry counts, total payload size and hit rate
func (c *FileCache) GetStats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	size, count, err := c.usage()
	if err != nil {
		return nil, err
	}

	stats := &Stats{TotalEntries: count, TotalSize: size, Hits: c.hits, Misses: c.misses}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}

	return stats, nil
}

// Close stops the background sweep and waits for it to exit
func (c *FileCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCleanup)
	})

	<-c.done

	return nil
}

func (c *FileCache) dataPath(key string) string {
	return filepath.Join(c.directory, c.hashKey(key)+".data")
}

func (c *FileCache) metaPath(key string) string {
	return filepath.Join(c.directory, c.hashKey(key)+".meta")
}

// hashKey creates a safe filename from a cache key
func (c *FileCache) hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

func (c *FileCache) remove(name string) {
	_ = os.Remove(filepath.Join(c.directory, name+".data"))
	_ = os.Remove(filepath.Join(c.directory, name+".meta"))
}

func (c *FileCache) readMeta(path string) (Entry, error) {
	var entry Entry

	data, err := os.ReadFile(path)
	if err != nil {
		return entry, err
	}

	err = json.Unmarshal(data, &entry)

	return entry, err
}

// enforceSize evicts the oldest entries until newSize fits. Callers hold mu.
func (c *FileCache) enforceSize(newSize int64) error {
	if c.maxBytes <= 0 {
		return nil
	}

	current, _, err := c.usage()
	if err != nil {
		return err
	}

	if current+newSize <= c.maxBytes {
		return nil
	}

	type candidate struct {
		name    string
		created time.Time
		size    int64
	}

	entries, err := os.ReadDir(c.directory)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	var candidates []candidate

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".meta") {
			continue
		}

		entry, err := c.readMeta(filepath.Join(c.directory, e.Name()))
		if err != nil {
			continue
		}

		candidates = append(candidates, candidate{
			name:    strings.TrimSuffix(e.Name(), ".meta"),
			created: entry.CreatedAt,
			size:    entry.Size,
		})
	}

	slices.SortFunc(candidates, func(a, b candidate) int {
		return a.created.Compare(b.created)
	})

	needed := current + newSize - c.maxBytes

	var freed int64

	for _, cand := range candidates {
		if freed >= needed {
			break
		}

		c.remove(cand.name)
		freed += cand.size
	}

	return nil
}

// usage sums payload sizes. Callers hold mu.
func (c *FileCache) usage() (int64, int64, error) {
	var size, count int64

	err := filepath.WalkDir(c.directory, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !strings.HasSuffix(path, ".data") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		size += info.Size()
		count++

		return nil
	})

	return size, count, err
}

func (c *FileCache) backgroundCleanup(freq time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(freq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n, err := c.Cleanup(context.Background()); err != nil {
				logging.WithError(err).Warn("Completion cache cleanup failed")
			} else if n > 0 {
				logging.WithField("removed", n).Debug("Removed expired completions")
			}
		case <-c.stopCleanup:
			return
		}
	}
}
