package changelog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"dirsync/internal/logging"
	"dirsync/internal/record"
)

// Registry maps changelog directories to their unique Log instance and
// reference-counts openers, so every caller in the process shares one Log
// per directory. All registry operations are serialized under one lock; the
// lock is never held across an operation on a Log.
type Registry[K, V any] struct {
	logger *logging.Logger

	mu   sync.Mutex
	logs map[string]*registryEntry[K, V]
}

type registryEntry[K, V any] struct {
	log  *Log[K, V]
	refs int
}

// NewRegistry constructs an empty registry. The logger may be nil; it is
// shared with every Log the registry creates.
func NewRegistry[K, V any](logger *logging.Logger) *Registry[K, V] {
	return &Registry[K, V]{logger: logger, logs: make(map[string]*registryEntry[K, V])}
}

// Open returns the Log for dir, creating it on first use and incrementing
// its reference count otherwise. The first opener wins: when the directory
// is already open, the supplied parser and size limit are ignored in favor
// of the ones the log was created with. Every successful Open must be paired
// with a Close on the returned log.
func (r *Registry[K, V]) Open(dir string, parser record.Parser[K, V], sizeLimit int64) (*Log[K, V], error) {
	if dir == "" {
		return nil, errors.New("changelog: empty directory")
	}
	if parser == nil {
		return nil, errors.New("changelog: parser is required")
	}
	if sizeLimit <= 0 {
		return nil, fmt.Errorf("changelog: invalid size limit %d", sizeLimit)
	}

	abs, err := normalizePath(dir)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.logs[abs]; ok {
		e.refs++
		return e.log, nil
	}

	log, err := openLog(abs, parser, sizeLimit, r.logger, r)
	if err != nil {
		return nil, err
	}
	r.logs[abs] = &registryEntry[K, V]{log: log, refs: 1}
	return log, nil
}

// release drops one reference to dir's log. The 1 -> 0 transition removes
// the entry and performs the real shutdown, outside the registry lock.
// Releasing an unknown path is logged but not fatal.
func (r *Registry[K, V]) release(dir string) {
	r.mu.Lock()
	e, ok := r.logs[dir]
	if !ok {
		r.mu.Unlock()
		if r.logger != nil {
			r.logger.Warnf("changelog: release of unknown directory %q", dir)
		}
		return
	}
	if e.refs > 1 {
		e.refs--
		r.mu.Unlock()
		return
	}
	delete(r.logs, dir)
	r.mu.Unlock()

	e.log.doClose()
}

// normalizePath cleans and absolutizes a directory path so that differently
// spelled paths to the same directory share one Log.
func normalizePath(path string) (string, error) {
	abs := path
	if !filepath.IsAbs(abs) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("changelog: resolve %q: %w", path, err)
		}
		abs = filepath.Join(cwd, abs)
	}
	return filepath.Clean(abs), nil
}
