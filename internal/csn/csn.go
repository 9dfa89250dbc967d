// Package csn implements change sequence numbers, the keys under which a
// replication domain's changes are totally ordered. A CSN combines a
// millisecond timestamp, a per-millisecond sequence counter, and the
// originating replica identifier; comparison considers the fields in that
// order so that changes sort by time first and ties break deterministically.
package csn

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"
)

// stringLen is the length of the fixed-width hex encoding: 16 hex digits of
// timestamp, 8 of sequence number, 4 of replica id.
const stringLen = 28

// CSN identifies a single change within a replication topology.
type CSN struct {
	// TimestampMillis is the change time in milliseconds since the Unix epoch.
	TimestampMillis int64
	// SeqNum disambiguates changes generated within the same millisecond.
	SeqNum uint32
	// ReplicaID identifies the server that generated the change.
	ReplicaID uint16
}

// Max sorts strictly after every CSN a replica can generate.
var Max = CSN{TimestampMillis: math.MaxInt64, SeqNum: math.MaxUint32, ReplicaID: math.MaxUint16}

// New builds a CSN from a wall-clock time, a sequence number, and a replica id.
func New(t time.Time, seq uint32, replica uint16) CSN {
	return CSN{TimestampMillis: t.UnixMilli(), SeqNum: seq, ReplicaID: replica}
}

// Compare orders CSNs by timestamp, then sequence number, then replica id.
func (c CSN) Compare(other CSN) int {
	switch {
	case c.TimestampMillis < other.TimestampMillis:
		return -1
	case c.TimestampMillis > other.TimestampMillis:
		return 1
	case c.SeqNum < other.SeqNum:
		return -1
	case c.SeqNum > other.SeqNum:
		return 1
	case c.ReplicaID < other.ReplicaID:
		return -1
	case c.ReplicaID > other.ReplicaID:
		return 1
	default:
		return 0
	}
}

// String renders the CSN as fixed-width lowercase hex. The encoding contains
// no underscores or dots and collates in CSN order, which makes it safe to
// embed in rotated changelog file names.
func (c CSN) String() string {
	return fmt.Sprintf("%016x%08x%04x", uint64(c.TimestampMillis), c.SeqNum, c.ReplicaID)
}

// Parse decodes the fixed-width hex form produced by String.
func Parse(s string) (CSN, error) {
	if len(s) != stringLen {
		return CSN{}, fmt.Errorf("csn: invalid length %d for %q", len(s), s)
	}
	ts, err := strconv.ParseUint(s[:16], 16, 64)
	if err != nil {
		return CSN{}, fmt.Errorf("csn: parse timestamp of %q: %w", s, err)
	}
	seq, err := strconv.ParseUint(s[16:24], 16, 32)
	if err != nil {
		return CSN{}, fmt.Errorf("csn: parse sequence of %q: %w", s, err)
	}
	replica, err := strconv.ParseUint(s[24:], 16, 16)
	if err != nil {
		return CSN{}, fmt.Errorf("csn: parse replica id of %q: %w", s, err)
	}
	return CSN{TimestampMillis: int64(ts), SeqNum: uint32(seq), ReplicaID: uint16(replica)}, nil
}

// Time returns the CSN's timestamp as a wall-clock time in UTC.
func (c CSN) Time() time.Time {
	return time.UnixMilli(c.TimestampMillis).UTC()
}

// binaryLen is the on-disk key size: 8 bytes timestamp, 4 sequence, 2 replica.
const binaryLen = 14

// Parser implements the record parser contract for CSN-keyed changelogs with
// opaque byte values. The zero value is ready to use.
type Parser struct{}

func (Parser) CompareKeys(a, b CSN) int { return a.Compare(b) }

func (Parser) MaxKey() CSN { return Max }

func (Parser) EncodeKeyToString(key CSN) string { return key.String() }

func (Parser) DecodeKeyFromString(s string) (CSN, error) { return Parse(s) }

// EncodeKey packs the CSN big-endian so byte order matches CSN order.
func (Parser) EncodeKey(key CSN) ([]byte, error) {
	buf := make([]byte, binaryLen)
	binary.BigEndian.PutUint64(buf[0:8], uint64(key.TimestampMillis))
	binary.BigEndian.PutUint32(buf[8:12], key.SeqNum)
	binary.BigEndian.PutUint16(buf[12:14], key.ReplicaID)
	return buf, nil
}

func (Parser) DecodeKey(data []byte) (CSN, error) {
	if len(data) != binaryLen {
		return CSN{}, fmt.Errorf("csn: invalid key length %d", len(data))
	}
	return CSN{
		TimestampMillis: int64(binary.BigEndian.Uint64(data[0:8])),
		SeqNum:          binary.BigEndian.Uint32(data[8:12]),
		ReplicaID:       binary.BigEndian.Uint16(data[12:14]),
	}, nil
}

func (Parser) EncodeValue(value []byte) ([]byte, error) {
	return append([]byte(nil), value...), nil
}

func (Parser) DecodeValue(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}
