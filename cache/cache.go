// Package cache persists serialized artifacts on a filesystem, keyed by
// the hash of the bytecode they were compiled from, so hosts skip
// recompilation across processes.
//
// A cache is deliberately forgiving: entries that fail to deserialize,
// whether corrupt, produced for another machine or written by an older
// format version, are evicted and reported as misses. A cache problem
// must never block recompiling from source.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/vlakreeh/wasmer/artifact"
)

// ErrNotFound reports that no usable entry exists under a key.
var ErrNotFound = errors.New("cache: entry not found")

// Key identifies a cache entry. Keys are derived from module bytecode,
// so the same source always maps to the same entry.
type Key uint64

// KeyOf hashes module bytecode into a cache key.
func KeyOf(bytecode []byte) Key {
	return Key(xxhash.Sum64(bytecode))
}

func (k Key) String() string {
	return fmt.Sprintf("%016x", uint64(k))
}

// Engine is the slice of the engine surface the cache needs. Both
// backends satisfy it.
type Engine interface {
	Serialize(a *artifact.Artifact) ([]byte, error)
	Deserialize(data []byte) (*artifact.Artifact, error)
}

// FileSystem stores one serialized artifact per key under a directory.
// It is safe for concurrent use by processes sharing the directory;
// entries are written whole and never modified in place.
type FileSystem struct {
	fs  afero.Fs
	dir string
	log *zap.Logger
}

// New opens a cache rooted at dir on the host filesystem, creating the
// directory if needed.
func New(dir string) (*FileSystem, error) {
	return NewWithFs(afero.NewOsFs(), dir)
}

// NewWithFs opens a cache on an explicit filesystem.
func NewWithFs(fs afero.Fs, dir string) (*FileSystem, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache: empty directory")
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create %s: %w", dir, err)
	}
	return &FileSystem{
		fs:  fs,
		dir: dir,
		log: Logger().With(zap.String("cache_dir", dir)),
	}, nil
}

func (c *FileSystem) path(key Key) string {
	return filepath.Join(c.dir, key.String()+".wasmer")
}

// Contains reports whether an entry exists under key. It does not check
// that the entry is usable.
func (c *FileSystem) Contains(key Key) bool {
	_, err := c.fs.Stat(c.path(key))
	return err == nil
}

// Store serializes the artifact through the engine and writes it under
// key, replacing any previous entry.
func (c *FileSystem) Store(e Engine, key Key, a *artifact.Artifact) error {
	data, err := e.Serialize(a)
	if err != nil {
		return fmt.Errorf("cache: serialize %s: %w", key, err)
	}
	if err := afero.WriteFile(c.fs, c.path(key), data, 0o644); err != nil {
		return fmt.Errorf("cache: write %s: %w", key, err)
	}
	c.log.Debug("artifact stored", zap.Stringer("key", key), zap.Int("size", len(data)))
	return nil
}

// Load reads the entry under key and deserializes it through the
// engine. A missing entry returns ErrNotFound. An entry the engine
// rejects is evicted and also returns ErrNotFound; the caller
// recompiles and overwrites it.
func (c *FileSystem) Load(e Engine, key Key) (*artifact.Artifact, error) {
	data, err := afero.ReadFile(c.fs, c.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("cache: read %s: %w", key, err)
	}

	a, err := e.Deserialize(data)
	if err != nil {
		c.log.Warn("evicting unusable cache entry",
			zap.Stringer("key", key),
			zap.Error(err))
		if rmErr := c.Evict(key); rmErr != nil {
			c.log.Warn("evict failed", zap.Stringer("key", key), zap.Error(rmErr))
		}
		return nil, ErrNotFound
	}
	c.log.Debug("artifact loaded", zap.Stringer("key", key), zap.Int("size", len(data)))
	return a, nil
}

// Evict removes the entry under key. Evicting a missing entry is not an
// error.
func (c *FileSystem) Evict(key Key) error {
	if err := c.fs.Remove(c.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cache: remove %s: %w", key, err)
	}
	return nil
}
