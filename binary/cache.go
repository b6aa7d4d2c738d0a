// Package binary hashes executables seen in process spawn events and
// keeps one copy of each on disk for later inspection.
package binary

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru"
)

// Cache deduplicates captured executables by content hash, with LRU
// eviction on the in-memory presence set.
type Cache struct {
	cache   *lru.Cache
	binsDir string
}

// NewCache creates a size-constrained cache storing binaries under
// binsDir.
func NewCache(size int, binsDir string) (*Cache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(binsDir, 0755); err != nil {
		return nil, err
	}
	return &Cache{
		cache:   cache,
		binsDir: binsDir,
	}, nil
}

// HashFile returns the md5 of a file's contents as a hex string.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Interesting reports whether an executable path is worth capturing.
// Pseudo-filesystems churn and never hold real binaries.
func Interesting(exePath string) bool {
	if exePath == "" {
		return false
	}
	for _, prefix := range []string{"/proc/", "/dev/", "/sys/"} {
		if strings.HasPrefix(exePath, prefix) {
			return false
		}
	}
	return true
}

// Remember hashes the executable and stores a copy if it has not been
// seen before. Returns the hash.
func (c *Cache) Remember(exePath string) (string, error) {
	hash, err := HashFile(exePath)
	if err != nil {
		return "", err
	}
	if _, seen := c.cache.Get(hash); seen {
		return hash, nil
	}
	if err := c.store(exePath, hash); err != nil {
		return hash, fmt.Errorf("failed to store binary %s: %v", exePath, err)
	}
	c.cache.Add(hash, struct{}{})
	return hash, nil
}

// Path returns where a binary with the given hash is stored.
func (c *Cache) Path(hash string) string {
	return filepath.Join(c.binsDir, hash[:2], hash+".bin")
}

func (c *Cache) store(sourcePath, hash string) error {
	src, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer src.Close()

	destPath := c.Path(hash)
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}

	dst, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	if err := dst.Chmod(0444); err != nil {
		return err
	}

	_, err = io.Copy(dst, src)
	return err
}
