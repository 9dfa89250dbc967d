package logfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"dirsync/internal/record"
)

// Cursor reads a file's records in order. Each cursor owns an independent
// read-only descriptor, so cursors never disturb the append handle and keep
// working across a rename of the underlying file. A cursor is owned by a
// single reader; it is not safe for concurrent use.
type Cursor[K, V any] struct {
	file   *File[K, V]
	reader *os.File

	// pos is the offset of the next entry to read; cur is the record the
	// cursor currently rests on, just before pos.
	pos int64
	cur *record.Record[K, V]
	err error
}

// Cursor opens a cursor positioned before the file's first record.
func (f *File[K, V]) Cursor() (*Cursor[K, V], error) {
	reader, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("logfile: open cursor on %q: %w", f.path, err)
	}
	return &Cursor[K, V]{file: f, reader: reader}, nil
}

// CursorAt opens a cursor resting on cur with the next read at pos. This is
// the rotation hand-off primitive: because rotation renames rather than
// copies, a byte offset taken against the head remains valid against the
// rotated file.
func (f *File[K, V]) CursorAt(cur *record.Record[K, V], pos int64) (*Cursor[K, V], error) {
	cursor, err := f.Cursor()
	if err != nil {
		return nil, err
	}
	cursor.cur = cur
	cursor.pos = pos
	return cursor, nil
}

// Record returns the record the cursor rests on, or nil before the first
// Next and after the cursor is exhausted or fails.
func (c *Cursor[K, V]) Record() *record.Record[K, V] { return c.cur }

// Position returns the byte offset at which the next read occurs.
func (c *Cursor[K, V]) Position() int64 { return c.pos }

// Err returns the first I/O or decode error the cursor encountered, if any.
func (c *Cursor[K, V]) Err() error { return c.err }

// Next advances to the following record. It returns false at the end of the
// file's valid prefix or on error, leaving Record nil.
func (c *Cursor[K, V]) Next() bool {
	if c.reader == nil || c.err != nil {
		return false
	}
	if c.pos >= c.file.size {
		c.cur = nil
		return false
	}

	var header [headerLen]byte
	if _, err := c.reader.ReadAt(header[:], c.pos); err != nil {
		c.fail(err)
		return false
	}
	payloadLen := binary.BigEndian.Uint32(header[0:4])
	wantCRC := binary.BigEndian.Uint32(header[4:8])
	if payloadLen > maxPayloadLen {
		c.fail(errors.New("corrupt entry header"))
		return false
	}

	payload := make([]byte, payloadLen)
	if _, err := c.reader.ReadAt(payload, c.pos+headerLen); err != nil {
		c.fail(err)
		return false
	}
	if crc32.ChecksumIEEE(payload) != wantCRC {
		c.fail(errors.New("entry checksum mismatch"))
		return false
	}

	rec, err := decodePayload(c.file.parser, payload)
	if err != nil {
		c.fail(err)
		return false
	}
	c.cur = rec
	c.pos += headerLen + int64(payloadLen)
	return true
}

// PositionTo scans from the start of the file for key. With findNearest it
// rests on the first record whose key is >= key; otherwise only an exact
// match counts. The return value reports whether key belongs to this file:
// a true result with a nil Record means the key sorts past every record here
// and the caller should continue in the following file.
func (c *Cursor[K, V]) PositionTo(key K, findNearest bool) bool {
	if c.reader == nil {
		return false
	}
	c.pos = 0
	c.cur = nil
	c.err = nil

	compare := c.file.parser.CompareKeys
	for c.Next() {
		switch diff := compare(c.cur.Key, key); {
		case diff == 0:
			return true
		case diff > 0:
			if findNearest {
				return true
			}
			c.cur = nil
			return false
		}
	}
	if c.err != nil {
		return false
	}
	c.cur = nil
	return findNearest
}

// Close releases the cursor's descriptor. It is safe to call more than once.
func (c *Cursor[K, V]) Close() error {
	if c.reader == nil {
		return nil
	}
	err := c.reader.Close()
	c.reader = nil
	if err != nil {
		return fmt.Errorf("logfile: close cursor on %q: %w", c.file.path, err)
	}
	return nil
}

func (c *Cursor[K, V]) fail(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		// The valid prefix ended mid-entry; treat as exhaustion.
		c.cur = nil
		return
	}
	c.cur = nil
	c.err = fmt.Errorf("logfile: read %q: %w", c.file.path, err)
}
