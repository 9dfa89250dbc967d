package changelog

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"testing"

	"dirsync/internal/record"
)

// seqParser is a uint64-keyed parser for tests. Keys encode as fixed-width
// decimal so names collate numerically.
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

// testValue pads values so one framed entry occupies exactly 114 bytes:
// 8 header + 4 key length + 8 key + 4 value length + 90 value.
func testValue(key uint64) []byte {
	value := make([]byte, 90)
	copy(value, fmt.Sprintf("v%d", key))
	return value
}

func testRec(key uint64) record.Record[uint64, []byte] {
	return record.Record[uint64, []byte]{Key: key, Value: testValue(key)}
}

func openTestLog(t *testing.T, dir string, sizeLimit int64) (*Registry[uint64, []byte], *Log[uint64, []byte]) {
	t.Helper()
	registry := NewRegistry[uint64, []byte](nil)
	log, err := registry.Open(dir, seqParser{}, sizeLimit)
	if err != nil {
		t.Fatalf("open changelog: %v", err)
	}
	return registry, log
}

func appendKeys(t *testing.T, log *Log[uint64, []byte], from, to uint64) {
	t.Helper()
	for key := from; key <= to; key++ {
		if err := log.Append(testRec(key)); err != nil {
			t.Fatalf("append %d: %v", key, err)
		}
	}
}

func collectKeys(c Cursor[uint64, []byte]) []uint64 {
	var keys []uint64
	if rec := c.Record(); rec != nil {
		keys = append(keys, rec.Key)
	}
	for c.Next() {
		keys = append(keys, c.Record().Key)
	}
	return keys
}

func listLogFiles(t *testing.T, dir string) []string {
	t.Helper()
	listing, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, dirent := range listing {
		names = append(names, dirent.Name())
	}
	sort.Strings(names)
	return names
}

func rotatedName(low, high uint64) string {
	parser := seqParser{}
	return parser.EncodeKeyToString(low) + "_" + parser.EncodeKeyToString(high) + ".log"
}
