// Package cache implements a content-addressed response cache keyed by
// request method, target and a fixed set of headers. It is a standalone
// component, available for a future dispatch path to call, but nothing in
// this repository wires it into the proxy: the worker always dispatches
// upstream.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/nullstream/adaptivelb/internal/blob"
	"github.com/nullstream/adaptivelb/internal/errs"
)

// VaryHeaders lists the request headers folded into a cache key, beyond
// method and target.
var VaryHeaders = []string{"Accept", "Accept-Encoding", "Authorization"}

// Key computes the cache key for a request: sha256 of the UTF-8 bytes of
// method, target and the sorted VaryHeaders values, colon-joined. The key
// always hashes the UTF-8 byte representation explicitly, never the
// platform's default string encoding.
func Key(method, target string, headers map[string]string) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(':')
	b.WriteString(target)

	names := append([]string(nil), VaryHeaders...)
	sort.Strings(names)
	for _, name := range names {
		b.WriteByte(':')
		b.WriteString(headers[name])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// FileCache stores cached values as files under dir, named by their key,
// for durability across process restarts. Each entry also keeps a
// *blob.Blob in memory as a hot-path cache of the same bytes; a value
// under blob.DefaultMemoryLimit is served straight out of RAM, a larger
// one spills to the blob's own scratch file rather than holding the full
// value resident, so one huge cached response can't balloon the
// process's memory.
type FileCache struct {
	dir string

	mu      sync.RWMutex
	entries map[string]*blob.Blob
}

// NewFileCache returns a FileCache persisting entries under dir. dir is
// created if it does not exist.
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.NewIOError("cache_mkdir", err)
	}
	return &FileCache{dir: dir, entries: make(map[string]*blob.Blob)}, nil
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, key)
}

// Has reports whether key is present.
func (c *FileCache) Has(key string) bool {
	c.mu.RLock()
	_, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return true
	}
	_, err := os.Stat(c.path(key))
	return err == nil
}

// Get returns the cached value for key, or ok=false if absent.
func (c *FileCache) Get(key string) (data []byte, ok bool, err error) {
	c.mu.RLock()
	b, inMem := c.entries[key]
	c.mu.RUnlock()
	if inMem {
		r, err := b.Reader()
		if err != nil {
			return nil, false, err
		}
		defer r.Close()
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, false, errs.NewIOError("cache_get", err)
		}
		return raw, true, nil
	}

	raw, readErr := os.ReadFile(c.path(key))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, false, nil
		}
		return nil, false, errs.NewIOError("cache_get", readErr)
	}
	return raw, true, nil
}

// Set stores data under key, both in memory and on disk. The in-memory
// copy is written through blob.Blob.Write rather than held as a single
// slice, so a value larger than blob.DefaultMemoryLimit spills to its own
// scratch file instead of staying fully resident.
func (c *FileCache) Set(key string, data []byte) error {
	if err := os.WriteFile(c.path(key), data, 0o644); err != nil {
		return errs.NewIOError("cache_set", err)
	}

	b := blob.New(blob.DefaultMemoryLimit)
	if _, err := b.Write(data); err != nil {
		return err
	}

	c.mu.Lock()
	old, hadOld := c.entries[key]
	c.entries[key] = b
	c.mu.Unlock()
	if hadOld {
		old.Close()
	}
	return nil
}

// Remove evicts key from memory and disk. Removing an absent key is not
// an error.
func (c *FileCache) Remove(key string) error {
	c.mu.Lock()
	b, inMem := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()
	if inMem {
		b.Close()
	}

	if err := os.Remove(c.path(key)); err != nil && !os.IsNotExist(err) {
		return errs.NewIOError("cache_remove", err)
	}
	return nil
}
