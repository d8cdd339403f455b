package solvers

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/google/renameio"
)

// cacheFileMode is the FileMode used when persisting the scan cache.
const cacheFileMode = 0644

// loadCache creates a cache instance backed by the passed file. A missing or
// corrupt file is treated as an empty cache; the cache is advisory and safe
// to delete.
func loadCache(path string) *cache {
	c := &cache{
		mutex:   new(sync.Mutex),
		path:    path,
		entries: make(map[string]string),
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	if err := json.Unmarshal(b, &c.entries); err != nil {
		logger.Warnf("corrupt scan cache ignored; path: %s, error: %s", path, err)
		c.entries = make(map[string]string)
	}
	return c
}

// cache memoises PATH-scan results as a solver name to absolute executable
// path mapping.
type cache struct {
	mutex *sync.Mutex

	path    string
	entries map[string]string
	dirty   bool
}

// lookup retrieves a cached executable path. Entries whose target is no
// longer executable are evicted rather than returned.
func (c *cache) lookup(name string) (string, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	path, ok := c.entries[name]
	if !ok {
		return "", false
	}
	if err := checkExecutable(path); err != nil {
		delete(c.entries, name)
		c.dirty = true
		return "", false
	}
	return path, true
}

// store records a resolved executable path.
func (c *cache) store(name, path string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.entries[name] == path {
		return
	}
	c.entries[name] = path
	c.dirty = true
}

// flush persists the cache if it has changed since load. The write is
// atomic; readers never observe a truncated cache file.
func (c *cache) flush() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.dirty {
		return nil
	}

	b, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	if err := renameio.WriteFile(c.path, b, cacheFileMode); err != nil {
		return errors.Wrapf(err, "write scan cache; path: %s", c.path)
	}
	c.dirty = false
	return nil
}

// checkExecutable reports whether path names a regular file with an execute
// bit set.
func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() || info.Mode()&0111 == 0 {
		return errors.Errorf("not executable; path: %s", path)
	}
	return nil
}
