package changelog

import (
	"dirsync/internal/logfile"
	"dirsync/internal/record"
)

// Cursor iterates a changelog's records in ascending key order, crossing
// file boundaries transparently and keeping its position through a rotation
// of the head. A cursor belongs to one reader; it must not be shared between
// goroutines.
type Cursor[K, V any] interface {
	// Record returns the record the cursor currently rests on, or nil.
	Record() *record.Record[K, V]
	// Next advances to the following record in key order, reporting whether
	// one is available.
	Next() bool
	// PositionTo moves the cursor to key. With findNearest the cursor lands
	// on the first record whose key is >= key; otherwise only an exact match
	// counts. It reports whether a record is now available.
	PositionTo(key K, findNearest bool) bool
	// Close deregisters the cursor and releases its resources.
	Close() error
}

// Cursor returns a cursor positioned before the oldest record, or an empty
// cursor when the log is closed.
func (l *Log[K, V]) Cursor() Cursor[K, V] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return emptyCursor[K, V]{}
	}

	first := l.files[0]
	fileCursor, err := first.file.Cursor()
	if err != nil {
		return emptyCursor[K, V]{}
	}
	c := &logCursor[K, V]{log: l, file: first.file, fileCursor: fileCursor}
	l.registerCursor(c)
	return c
}

// CursorAt returns a cursor resting on the record with exactly the given
// key, or an empty cursor when no such record exists or the log is closed.
func (l *Log[K, V]) CursorAt(key K) Cursor[K, V] {
	return l.positionedCursor(key, false)
}

// NearestCursor returns a cursor resting on the first record whose key is
// >= key, or an empty cursor when the log holds no such record or is closed.
func (l *Log[K, V]) NearestCursor(key K) Cursor[K, V] {
	return l.positionedCursor(key, true)
}

func (l *Log[K, V]) positionedCursor(key K, findNearest bool) Cursor[K, V] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return emptyCursor[K, V]{}
	}

	c := &logCursor[K, V]{log: l}
	if !c.positionToLocked(key, findNearest) {
		if c.fileCursor != nil {
			c.fileCursor.Close()
		}
		return emptyCursor[K, V]{}
	}
	l.registerCursor(c)
	return c
}

// logCursor is the live cursor implementation. It tracks the file it is
// reading and a file-level cursor within it. All mutation of the two fields
// happens either under the log's shared lock (reader-driven moves) or under
// the exclusive lock (rotation hand-off and invalidation), so a cursor
// operation can never observe a half-rotated state.
type logCursor[K, V any] struct {
	log        *Log[K, V]
	file       *logfile.File[K, V]
	fileCursor *logfile.Cursor[K, V]

	// invalid is set when the cursor's file was purged, the log was cleared,
	// or a rotation hand-off failed. An invalid cursor behaves like the
	// empty cursor from then on.
	invalid bool
}

func (c *logCursor[K, V]) Record() *record.Record[K, V] {
	c.log.mu.RLock()
	defer c.log.mu.RUnlock()
	if c.invalid || c.fileCursor == nil {
		return nil
	}
	return c.fileCursor.Record()
}

func (c *logCursor[K, V]) Next() bool {
	c.log.mu.RLock()
	defer c.log.mu.RUnlock()
	if c.invalid || c.log.closed {
		return false
	}
	return c.nextLocked()
}

func (c *logCursor[K, V]) nextLocked() bool {
	if c.fileCursor == nil {
		return false
	}
	if c.fileCursor.Next() {
		return true
	}

	next := c.log.nextFileLocked(c.file)
	if next == nil {
		return false
	}
	nextCursor, err := next.Cursor()
	if err != nil {
		return false
	}
	nextCursor.Next()

	c.fileCursor.Close()
	c.file = next
	c.fileCursor = nextCursor
	return nextCursor.Record() != nil
}

func (c *logCursor[K, V]) PositionTo(key K, findNearest bool) bool {
	c.log.mu.RLock()
	defer c.log.mu.RUnlock()
	if c.invalid || c.log.closed {
		return false
	}
	return c.positionToLocked(key, findNearest)
}

func (c *logCursor[K, V]) positionToLocked(key K, findNearest bool) bool {
	target := c.log.ceilingLocked(key)
	if target.file != c.file || c.fileCursor == nil {
		if c.fileCursor != nil {
			c.fileCursor.Close()
			c.fileCursor = nil
		}
		fileCursor, err := target.file.Cursor()
		if err != nil {
			return false
		}
		c.file = target.file
		c.fileCursor = fileCursor
	}

	ok := c.fileCursor.PositionTo(key, findNearest)
	if ok && c.fileCursor.Record() == nil {
		// The key sorts past every record of the containing file; the record
		// sought lives at the start of the next file.
		return c.nextLocked()
	}
	return ok && c.fileCursor.Record() != nil
}

func (c *logCursor[K, V]) Close() error {
	c.log.mu.RLock()
	if c.fileCursor != nil {
		c.fileCursor.Close()
		c.fileCursor = nil
	}
	c.log.mu.RUnlock()

	c.log.deregisterCursor(c)
	return nil
}

// handOff re-attaches the cursor to the freshly rotated file at the same
// byte offset with the same current record. Called during rotation with the
// exclusive lock held.
func (c *logCursor[K, V]) handOff(rotated *logfile.File[K, V]) {
	if c.invalid || c.fileCursor == nil {
		return
	}
	pos := c.fileCursor.Position()
	cur := c.fileCursor.Record()
	replacement, err := rotated.CursorAt(cur, pos)
	if err != nil {
		c.invalidate()
		return
	}
	c.fileCursor.Close()
	c.file = rotated
	c.fileCursor = replacement
}

// invalidate turns the cursor into a permanent empty cursor. Called with the
// exclusive lock held.
func (c *logCursor[K, V]) invalidate() {
	c.invalid = true
	if c.fileCursor != nil {
		c.fileCursor.Close()
		c.fileCursor = nil
	}
}

// emptyCursor is the null-object cursor handed out by a closed log and by
// exact-match positioning misses.
type emptyCursor[K, V any] struct{}

func (emptyCursor[K, V]) Record() *record.Record[K, V] { return nil }
func (emptyCursor[K, V]) Next() bool                   { return false }
func (emptyCursor[K, V]) PositionTo(K, bool) bool      { return false }
func (emptyCursor[K, V]) Close() error                 { return nil }
