// Package diskcache stores network-sourced image bytes on disk, keyed by URI.
//
// Entries are zstd-compressed files named after a hash of their URI. The tile
// engine never reads through the cache; it is consulted to open images that
// were imported earlier and to report disk usage in diagnostics.
package diskcache

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/zstd"
)

// ErrNotCached is returned when a URI has no entry.
var ErrNotCached = errors.New("diskcache: not cached")

const entryExt = ".zst"

// Cache is a directory of compressed entries. It is safe for concurrent use;
// concurrent writers to the same URI leave one complete entry.
type Cache struct {
	dir string
}

// Entry describes one cached image.
type Entry struct {
	URI string `json:"uri"`

	// Path is the compressed file backing the entry.
	Path string `json:"path"`

	// Size is the number of bytes the entry occupies on disk.
	Size int64 `json:"size"`
}

// New opens the cache rooted at dir, creating the directory if needed.
func New(dir string) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory not set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Put stores everything read from r under uri, replacing any earlier entry.
// The entry becomes visible only once it is completely written.
func (c *Cache) Put(uri string, r io.Reader) (*Entry, error) {
	tmp, err := os.CreateTemp(c.dir, "put-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	if _, err := io.Copy(enc, r); err != nil {
		enc.Close()
		tmp.Close()
		return nil, fmt.Errorf("failed to write cache entry for %s: %w", uri, err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to finish cache entry for %s: %w", uri, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close cache file: %w", err)
	}

	path := c.path(uri)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("failed to install cache entry: %w", err)
	}

	entry, ok := c.Get(uri)
	if !ok {
		return nil, fmt.Errorf("cache entry for %s vanished", uri)
	}
	return entry, nil
}

// Get looks up the entry for uri.
func (c *Cache) Get(uri string) (*Entry, bool) {
	path := c.path(uri)
	stat, err := os.Stat(path)
	if err != nil || !stat.Mode().IsRegular() {
		return nil, false
	}
	return &Entry{URI: uri, Path: path, Size: stat.Size()}, true
}

// ReadAll returns the decompressed bytes stored under uri.
func (c *Cache) ReadAll(uri string) ([]byte, error) {
	entry, ok := c.Get(uri)
	if !ok {
		return nil, fmt.Errorf("%s: %w", uri, ErrNotCached)
	}
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry for %s: %w", uri, err)
	}
	return data, nil
}

// Remove deletes the entry for uri. Removing a missing entry is not an error.
func (c *Cache) Remove(uri string) error {
	err := os.Remove(c.path(uri))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cache entry: %w", err)
	}
	return nil
}

func (c *Cache) path(uri string) string {
	h := fnv.New64a()
	h.Write([]byte(uri))
	return filepath.Join(c.dir, strconv.FormatUint(h.Sum64(), 16)+entryExt)
}

// Open returns a reader over the decompressed entry. The caller must close it.
func (e *Entry) Open() (io.ReadCloser, error) {
	f, err := os.Open(e.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache entry: %w", err)
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	return &entryReader{dec: dec, f: f}, nil
}

type entryReader struct {
	dec *zstd.Decoder
	f   *os.File
}

func (r *entryReader) Read(p []byte) (int, error) {
	return r.dec.Read(p)
}

func (r *entryReader) Close() error {
	r.dec.Close()
	return r.f.Close()
}
