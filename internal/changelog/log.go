// Package changelog implements the multi-file append-only keyed log a
// replication domain records its changes in. A changelog directory holds one
// writable head file plus zero or more immutable rotated files named by the
// key range they contain; the package manages that inventory, rotates the
// head when it outgrows a size threshold, serves concurrent readers through
// cursors that survive rotation, and purges whole files below a key boundary.
//
// A Log instance is shared across openers of the same directory through a
// reference-counting Registry; all mutating operations take the log's
// exclusive lock, while cursor and read operations take the shared lock.
package changelog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"dirsync/internal/logfile"
	"dirsync/internal/logging"
	"dirsync/internal/record"
)

const (
	// headName is the writable head file present in every changelog directory.
	headName = "head.log"
	// fileSuffix is shared by the head and every rotated file.
	fileSuffix = ".log"
	// rangeSeparator splits the low and high key in a rotated file name. Key
	// string encodings must never contain it.
	rangeSeparator = "_"
)

// entry pairs a log file with its partition key: the highest key a rotated
// file contains, or the parser's max-key sentinel for the head. The file that
// should hold key k is the first entry whose partition key is >= k.
type entry[K, V any] struct {
	partition K
	file      *logfile.File[K, V]
}

// Log manages one changelog directory. Obtain instances through a Registry;
// Log methods are safe for concurrent use.
type Log[K, V any] struct {
	dir       string
	parser    record.Parser[K, V]
	sizeLimit int64
	logger    *logging.Logger
	registry  *Registry[K, V]

	// mu is exclusive for append, sync, rotate, purge, clear and shutdown;
	// shared for cursor operations and read accessors.
	mu     sync.RWMutex
	closed bool
	// files is the inventory in ascending partition-key order. The head is
	// always last, indexed under the max-key sentinel.
	files []entry[K, V]

	// cursorsMu guards the list of registered cursors independently of mu:
	// the list is read during rotation (exclusive lock held) and written on
	// cursor registration and close (shared lock held).
	cursorsMu sync.Mutex
	cursors   []*logCursor[K, V]
}

// openLog builds a Log from the directory's contents. The name of each
// rotated file is the sole source of truth for its key range; the head is
// created empty when absent. On any failure everything opened so far is
// closed again.
func openLog[K, V any](dir string, parser record.Parser[K, V], sizeLimit int64, logger *logging.Logger, registry *Registry[K, V]) (*Log[K, V], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("changelog: create directory %q: %w", dir, err)
	}

	listing, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("changelog: list directory %q: %w", dir, err)
	}

	l := &Log[K, V]{dir: dir, parser: parser, sizeLimit: sizeLimit, logger: logger, registry: registry}
	closeOpened := func() {
		for _, e := range l.files {
			e.file.Close()
		}
	}

	for _, dirent := range listing {
		name := dirent.Name()
		if dirent.IsDir() || name == headName || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		high, err := parseRotatedName[K, V](parser, name)
		if err != nil {
			closeOpened()
			return nil, err
		}
		file, err := logfile.OpenReadOnly(filepath.Join(dir, name), parser)
		if err != nil {
			closeOpened()
			return nil, fmt.Errorf("changelog: open rotated file: %w", err)
		}
		l.files = append(l.files, entry[K, V]{partition: high, file: file})
	}

	sort.Slice(l.files, func(i, j int) bool {
		return parser.CompareKeys(l.files[i].partition, l.files[j].partition) < 0
	})

	head, err := logfile.OpenAppendable(filepath.Join(dir, headName), parser)
	if err != nil {
		closeOpened()
		return nil, fmt.Errorf("changelog: open head: %w", err)
	}
	l.files = append(l.files, entry[K, V]{partition: parser.MaxKey(), file: head})
	return l, nil
}

// parseRotatedName extracts the high key from a <low>_<high>.log name. Both
// bounds must decode; only the high key indexes the inventory.
func parseRotatedName[K, V any](parser record.Parser[K, V], name string) (K, error) {
	var zero K
	base := strings.TrimSuffix(name, fileSuffix)
	parts := strings.Split(base, rangeSeparator)
	if len(parts) != 2 {
		return zero, fmt.Errorf("changelog: malformed rotated file name %q", name)
	}
	if _, err := parser.DecodeKeyFromString(parts[0]); err != nil {
		return zero, fmt.Errorf("changelog: low key of %q: %w", name, err)
	}
	high, err := parser.DecodeKeyFromString(parts[1])
	if err != nil {
		return zero, fmt.Errorf("changelog: high key of %q: %w", name, err)
	}
	return high, nil
}

// Dir returns the changelog's directory.
func (l *Log[K, V]) Dir() string { return l.dir }

// Append writes rec to the head, rotating first when the head already
// exceeds the size limit. Keys must not regress: rec's key must be >= the
// newest key in the log. A single record larger than the size limit is
// accepted; the head may exceed the limit after the write. On a closed log
// the call is a no-op.
func (l *Log[K, V]) Append(rec record.Record[K, V]) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}

	if newest := l.newestLocked(); newest != nil && l.parser.CompareKeys(rec.Key, newest.Key) < 0 {
		return fmt.Errorf("changelog: append key %s below newest key %s",
			l.parser.EncodeKeyToString(rec.Key), l.parser.EncodeKeyToString(newest.Key))
	}

	if l.headLocked().file.SizeInBytes() > l.sizeLimit {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}
	return l.headLocked().file.Append(rec)
}

// Sync forces the head to durable storage. Only records appended before a
// successful return are guaranteed durable.
func (l *Log[K, V]) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	return l.headLocked().file.Sync()
}

// rotateLocked renames the head to its range-encoded name, inserts it into
// the inventory as a read-only file, installs a fresh head, and re-attaches
// live cursors that were reading the old head. Callers hold the exclusive
// lock. An empty head is left in place.
func (l *Log[K, V]) rotateLocked() error {
	head := l.headLocked()
	oldest, newest := head.file.OldestRecord(), head.file.NewestRecord()
	if oldest == nil {
		return nil
	}

	rotatedName := l.parser.EncodeKeyToString(oldest.Key) + rangeSeparator +
		l.parser.EncodeKeyToString(newest.Key) + fileSuffix
	oldPath := head.file.Path()
	newPath := filepath.Join(l.dir, rotatedName)

	if err := head.file.Close(); err != nil {
		return fmt.Errorf("changelog: rotate %q: %w", l.dir, err)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		// The old head stays the head; it keeps growing until the next
		// rotation attempt succeeds.
		if rerr := head.file.Reopen(); rerr != nil {
			return fmt.Errorf("changelog: rotate %q: %w", l.dir, errors.Join(err, rerr))
		}
		return fmt.Errorf("changelog: rotate %q: %w", l.dir, err)
	}

	rotated, err := logfile.OpenReadOnly(newPath, l.parser)
	if err != nil {
		return fmt.Errorf("changelog: rotate %q: %w", l.dir, err)
	}

	headIdx := len(l.files) - 1
	oldHeadFile := l.files[headIdx].file
	l.files[headIdx] = entry[K, V]{partition: newest.Key, file: rotated}

	newHead, err := logfile.OpenAppendable(filepath.Join(l.dir, headName), l.parser)
	if err != nil {
		return fmt.Errorf("changelog: rotate %q: open new head: %w", l.dir, err)
	}
	l.files = append(l.files, entry[K, V]{partition: l.parser.MaxKey(), file: newHead})

	// Hand live cursors on the old head over to the rotated file. The bytes
	// are unchanged by the rename, so byte offsets remain valid.
	l.cursorsMu.Lock()
	for _, c := range l.cursors {
		if c.file == oldHeadFile {
			c.handOff(rotated)
		}
	}
	l.cursorsMu.Unlock()
	return nil
}

// PurgeUpTo deletes every file whose partition key is strictly below
// boundary. Surviving files keep all their records even when some are below
// the boundary; the head is never purged. Files that fail to delete remain
// in the inventory and are reported together in a single error. Cursors
// positioned in a purged file are invalidated. The returned record is the
// oldest record of the post-purge log, possibly nil.
func (l *Log[K, V]) PurgeUpTo(boundary K) (*record.Record[K, V], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, nil
	}

	var errs []error
	kept := make([]entry[K, V], 0, len(l.files))
	for _, e := range l.files {
		if l.parser.CompareKeys(e.partition, boundary) >= 0 {
			kept = append(kept, e)
			continue
		}
		if err := e.file.Close(); err != nil {
			errs = append(errs, err)
			kept = append(kept, e)
			continue
		}
		if err := e.file.Delete(); err != nil {
			errs = append(errs, err)
			kept = append(kept, e)
			continue
		}
		l.invalidateCursorsOn(e.file)
	}
	l.files = kept

	var err error
	if len(errs) > 0 {
		err = fmt.Errorf("changelog: purge %q: %w", l.dir, errors.Join(errs...))
	}
	return l.oldestLocked(), err
}

// Clear deletes every file, head included, and reopens a fresh empty head.
// Open cursors are invalidated and a warning is logged when any exist.
// Failure to reopen the head leaves the log closed and unusable.
func (l *Log[K, V]) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}

	l.cursorsMu.Lock()
	if open := len(l.cursors); open > 0 {
		if l.logger != nil {
			l.logger.Warnf("changelog: clearing %q with %d open cursors", l.dir, open)
		}
		for _, c := range l.cursors {
			c.invalidate()
		}
	}
	l.cursorsMu.Unlock()

	var errs []error
	for _, e := range l.files {
		if err := e.file.Close(); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := e.file.Delete(); err != nil {
			errs = append(errs, err)
		}
	}
	l.files = nil

	head, err := logfile.OpenAppendable(filepath.Join(l.dir, headName), l.parser)
	if err != nil {
		l.closed = true
		return fmt.Errorf("changelog: clear %q: reopen head: %w", l.dir, err)
	}
	l.files = []entry[K, V]{{partition: l.parser.MaxKey(), file: head}}

	if len(errs) > 0 {
		return fmt.Errorf("changelog: clear %q: %w", l.dir, errors.Join(errs...))
	}
	return nil
}

// OldestRecord returns the first record of the log in key order, or nil when
// the log is empty or closed.
func (l *Log[K, V]) OldestRecord() *record.Record[K, V] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil
	}
	return l.oldestLocked()
}

// NewestRecord returns the last record of the log in key order, or nil when
// the log is empty or closed.
func (l *Log[K, V]) NewestRecord() *record.Record[K, V] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil
	}
	return l.newestLocked()
}

// NumberOfRecords returns the total record count across all files.
func (l *Log[K, V]) NumberOfRecords() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0
	}
	total := 0
	for _, e := range l.files {
		total += e.file.NumberOfRecords()
	}
	return total
}

// Close releases this opener's reference. The log shuts down for real when
// the last reference is released. Close never fails.
func (l *Log[K, V]) Close() {
	if l.registry != nil {
		l.registry.release(l.dir)
		return
	}
	l.doClose()
}

// doClose performs the real shutdown: the inventory is closed and every
// subsequent operation becomes a no-op.
func (l *Log[K, V]) doClose() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for _, e := range l.files {
		if err := e.file.Close(); err != nil && l.logger != nil {
			l.logger.Error(err, "changelog: close file")
		}
	}
}

func (l *Log[K, V]) headLocked() entry[K, V] {
	return l.files[len(l.files)-1]
}

// ceilingLocked returns the inventory entry whose partition key is the
// smallest one >= key: the file that would contain key. The head's sentinel
// partition key guarantees a match for any real key.
func (l *Log[K, V]) ceilingLocked(key K) entry[K, V] {
	i := sort.Search(len(l.files), func(i int) bool {
		return l.parser.CompareKeys(l.files[i].partition, key) >= 0
	})
	if i == len(l.files) {
		return l.headLocked()
	}
	return l.files[i]
}

// nextFileLocked returns the file following f in partition-key order, or nil
// when f is the last (the head).
func (l *Log[K, V]) nextFileLocked(f *logfile.File[K, V]) *logfile.File[K, V] {
	for i, e := range l.files {
		if e.file == f {
			if i+1 < len(l.files) {
				return l.files[i+1].file
			}
			return nil
		}
	}
	return nil
}

func (l *Log[K, V]) oldestLocked() *record.Record[K, V] {
	for _, e := range l.files {
		if rec := e.file.OldestRecord(); rec != nil {
			return rec
		}
	}
	return nil
}

func (l *Log[K, V]) newestLocked() *record.Record[K, V] {
	for i := len(l.files) - 1; i >= 0; i-- {
		if rec := l.files[i].file.NewestRecord(); rec != nil {
			return rec
		}
	}
	return nil
}

func (l *Log[K, V]) registerCursor(c *logCursor[K, V]) {
	l.cursorsMu.Lock()
	l.cursors = append(l.cursors, c)
	l.cursorsMu.Unlock()
}

func (l *Log[K, V]) deregisterCursor(c *logCursor[K, V]) {
	l.cursorsMu.Lock()
	for i, registered := range l.cursors {
		if registered == c {
			l.cursors = append(l.cursors[:i], l.cursors[i+1:]...)
			break
		}
	}
	l.cursorsMu.Unlock()
}

// invalidateCursorsOn marks every cursor reading file as invalid. Called with
// the exclusive lock held.
func (l *Log[K, V]) invalidateCursorsOn(file *logfile.File[K, V]) {
	l.cursorsMu.Lock()
	for _, c := range l.cursors {
		if c.file == file {
			c.invalidate()
		}
	}
	l.cursorsMu.Unlock()
}
