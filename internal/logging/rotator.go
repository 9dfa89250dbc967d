// Package logging provides the diagnostic logging framework for the dirsync
// daemon: a size-based rotating file writer and a small leveled logger on top
// of it. These are the server's own operational logs, not the replication
// changelog itself.
//
// The package is safe for concurrent use from multiple goroutines.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Rotator handles diagnostic log rotation based on size and the number of
// backup files, so the server's own logs cannot grow without bound. It is
// safe for concurrent use.
type Rotator struct {
	dir        string
	baseName   string
	maxSize    int64
	maxBackups int

	file *os.File
	mux  sync.Mutex
}

// NewRotator creates a rotator writing to baseName inside dir, rotating when
// a write would push the file past maxSize and keeping at most maxBackups
// archived files.
func NewRotator(dir, baseName string, maxSize int64, maxBackups int) (*Rotator, error) {
	if dir == "" {
		return nil, fmt.Errorf("logging: directory is required")
	}
	if baseName == "" {
		baseName = "dirsync.log"
	}
	if maxSize <= 0 {
		maxSize = 10 * 1024 * 1024
	}
	if maxBackups <= 0 {
		maxBackups = 5
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create dir: %w", err)
	}

	rotator := &Rotator{dir: dir, baseName: baseName, maxSize: maxSize, maxBackups: maxBackups}
	if err := rotator.openFile(); err != nil {
		return nil, err
	}
	return rotator, nil
}

func (r *Rotator) openFile() error {
	path := filepath.Join(r.dir, r.baseName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	r.file = file
	return nil
}

// Write appends p to the current log file, rotating first when the write
// would exceed the size limit. Safe for concurrent use.
func (r *Rotator) Write(p []byte) (int, error) {
	r.mux.Lock()
	defer r.mux.Unlock()

	if r.file == nil {
		if err := r.openFile(); err != nil {
			return 0, err
		}
	}

	info, err := r.file.Stat()
	if err == nil && info.Size()+int64(len(p)) > r.maxSize {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}

	return r.file.Write(p)
}

func (r *Rotator) rotate() error {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}

	timestamp := time.Now().UTC().Format("20060102-150405")
	archivedName := fmt.Sprintf("%s.%s", r.baseName, timestamp)
	oldPath := filepath.Join(r.dir, r.baseName)
	newPath := filepath.Join(r.dir, archivedName)
	if err := os.Rename(oldPath, newPath); err != nil {
		return err
	}

	entries, err := filepath.Glob(filepath.Join(r.dir, fmt.Sprintf("%s.*", r.baseName)))
	if err == nil && len(entries) > r.maxBackups {
		sort.Strings(entries)
		for _, stale := range entries[:len(entries)-r.maxBackups] {
			os.Remove(stale)
		}
	}

	return r.openFile()
}

// Path returns the full path to the active log file.
func (r *Rotator) Path() string {
	return filepath.Join(r.dir, r.baseName)
}

// Close closes the current log file.
func (r *Rotator) Close() error {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// NewLogger returns a standard log.Logger writing through the rotator, for
// code that expects the stdlib interface.
func NewLogger(rotator *Rotator) *log.Logger {
	return log.New(rotator, "", log.LstdFlags|log.LUTC)
}
