package logfile

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"dirsync/internal/record"
)

// seqParser is a minimal parser over uint64 keys for tests.
type seqParser struct{}

func (seqParser) CompareKeys(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (seqParser) MaxKey() uint64 { return ^uint64(0) }

func (seqParser) EncodeKeyToString(key uint64) string { return fmt.Sprintf("%020d", key) }

func (seqParser) DecodeKeyFromString(s string) (uint64, error) {
	var key uint64
	_, err := fmt.Sscanf(s, "%d", &key)
	return key, err
}

func (seqParser) EncodeKey(key uint64) ([]byte, error) {
	return binary.BigEndian.AppendUint64(nil, key), nil
}

func (seqParser) DecodeKey(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid key length %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

func (seqParser) EncodeValue(value []byte) ([]byte, error) {
	return append([]byte(nil), value...), nil
}

func (seqParser) DecodeValue(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

func rec(key uint64) record.Record[uint64, []byte] {
	return record.Record[uint64, []byte]{Key: key, Value: []byte(fmt.Sprintf("v%d", key))}
}

func TestAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "head.log")

	file, err := OpenAppendable(path, seqParser{})
	if err != nil {
		t.Fatalf("open appendable: %v", err)
	}
	for key := uint64(1); key <= 5; key++ {
		if err := file.Append(rec(key)); err != nil {
			t.Fatalf("append %d: %v", key, err)
		}
	}
	if file.NumberOfRecords() != 5 {
		t.Fatalf("expected 5 records, got %d", file.NumberOfRecords())
	}
	if err := file.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	size := file.SizeInBytes()
	if err := file.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenAppendable(path, seqParser{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.SizeInBytes() != size {
		t.Fatalf("expected replayed size %d, got %d", size, reopened.SizeInBytes())
	}
	if reopened.NumberOfRecords() != 5 {
		t.Fatalf("expected 5 replayed records, got %d", reopened.NumberOfRecords())
	}
	if oldest := reopened.OldestRecord(); oldest == nil || oldest.Key != 1 {
		t.Fatalf("unexpected oldest record: %+v", oldest)
	}
	if newest := reopened.NewestRecord(); newest == nil || newest.Key != 5 {
		t.Fatalf("unexpected newest record: %+v", newest)
	}
}

func TestReplayTruncatesTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "head.log")

	file, err := OpenAppendable(path, seqParser{})
	if err != nil {
		t.Fatalf("open appendable: %v", err)
	}
	for key := uint64(1); key <= 3; key++ {
		if err := file.Append(rec(key)); err != nil {
			t.Fatalf("append %d: %v", key, err)
		}
	}
	validSize := file.SizeInBytes()
	if err := file.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Simulate a crash mid-append by writing half an entry header.
	handle, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	if _, err := handle.Write([]byte{0, 0, 0}); err != nil {
		t.Fatalf("write torn tail: %v", err)
	}
	handle.Close()

	reopened, err := OpenAppendable(path, seqParser{})
	if err != nil {
		t.Fatalf("reopen after corruption: %v", err)
	}
	defer reopened.Close()

	if reopened.NumberOfRecords() != 3 {
		t.Fatalf("expected 3 records after torn tail, got %d", reopened.NumberOfRecords())
	}
	if reopened.SizeInBytes() != validSize {
		t.Fatalf("expected size %d after truncation, got %d", validSize, reopened.SizeInBytes())
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != validSize {
		t.Fatalf("expected torn bytes removed from disk, size=%d want %d", info.Size(), validSize)
	}

	// The file must accept appends again after recovery.
	if err := reopened.Append(rec(4)); err != nil {
		t.Fatalf("append after recovery: %v", err)
	}
	if reopened.NumberOfRecords() != 4 {
		t.Fatalf("expected 4 records, got %d", reopened.NumberOfRecords())
	}
}

func TestCursorTraversal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "head.log")

	file, err := OpenAppendable(path, seqParser{})
	if err != nil {
		t.Fatalf("open appendable: %v", err)
	}
	defer file.Close()
	for key := uint64(1); key <= 4; key++ {
		if err := file.Append(rec(key)); err != nil {
			t.Fatalf("append %d: %v", key, err)
		}
	}

	cursor, err := file.Cursor()
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	defer cursor.Close()

	var keys []uint64
	for cursor.Next() {
		keys = append(keys, cursor.Record().Key)
	}
	if cursor.Err() != nil {
		t.Fatalf("cursor error: %v", cursor.Err())
	}
	if len(keys) != 4 {
		t.Fatalf("expected 4 records, got %v", keys)
	}
	for i, key := range keys {
		if key != uint64(i+1) {
			t.Fatalf("unexpected order: %v", keys)
		}
	}

	// A cursor sees records appended after it was opened.
	if err := file.Append(rec(5)); err != nil {
		t.Fatalf("append 5: %v", err)
	}
	if !cursor.Next() {
		t.Fatalf("expected cursor to observe the new record")
	}
	if cursor.Record().Key != 5 {
		t.Fatalf("expected key 5, got %d", cursor.Record().Key)
	}
}

func TestCursorAtRestoresPosition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "head.log")

	file, err := OpenAppendable(path, seqParser{})
	if err != nil {
		t.Fatalf("open appendable: %v", err)
	}
	defer file.Close()
	for key := uint64(1); key <= 4; key++ {
		if err := file.Append(rec(key)); err != nil {
			t.Fatalf("append %d: %v", key, err)
		}
	}

	cursor, err := file.Cursor()
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	cursor.Next()
	cursor.Next() // resting on key 2
	pos, cur := cursor.Position(), cursor.Record()
	cursor.Close()

	restored, err := file.CursorAt(cur, pos)
	if err != nil {
		t.Fatalf("cursor at: %v", err)
	}
	defer restored.Close()

	if restored.Record().Key != 2 {
		t.Fatalf("expected restored record 2, got %d", restored.Record().Key)
	}
	if !restored.Next() || restored.Record().Key != 3 {
		t.Fatalf("expected next record 3, got %+v", restored.Record())
	}
}

func TestCursorPositionTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "head.log")

	file, err := OpenAppendable(path, seqParser{})
	if err != nil {
		t.Fatalf("open appendable: %v", err)
	}
	defer file.Close()
	for _, key := range []uint64{1, 2, 5, 6} {
		if err := file.Append(rec(key)); err != nil {
			t.Fatalf("append %d: %v", key, err)
		}
	}

	cursor, err := file.Cursor()
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	defer cursor.Close()

	if !cursor.PositionTo(2, false) || cursor.Record().Key != 2 {
		t.Fatalf("exact position to 2 failed: %+v", cursor.Record())
	}
	if cursor.PositionTo(3, false) {
		t.Fatalf("exact position to missing key must fail")
	}
	if !cursor.PositionTo(3, true) || cursor.Record().Key != 5 {
		t.Fatalf("nearest position to 3 should land on 5: %+v", cursor.Record())
	}
	// Past every record: the key belongs to a later file.
	if !cursor.PositionTo(9, true) {
		t.Fatalf("nearest position past the end should report continuation")
	}
	if cursor.Record() != nil {
		t.Fatalf("expected no record after past-the-end positioning")
	}
	if cursor.PositionTo(9, false) {
		t.Fatalf("exact position past the end must fail")
	}
}

func TestOpenReadOnlyRejectsAppend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00000000000000000001_00000000000000000002.log")

	writable, err := OpenAppendable(path, seqParser{})
	if err != nil {
		t.Fatalf("open appendable: %v", err)
	}
	writable.Append(rec(1))
	writable.Append(rec(2))
	writable.Close()

	readOnly, err := OpenReadOnly(path, seqParser{})
	if err != nil {
		t.Fatalf("open read only: %v", err)
	}
	if err := readOnly.Append(rec(3)); err == nil {
		t.Fatalf("expected append to read-only file to fail")
	}
	if readOnly.NumberOfRecords() != 2 {
		t.Fatalf("expected 2 records, got %d", readOnly.NumberOfRecords())
	}
}
