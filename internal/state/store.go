// Package state persists the replication server's operational state: the set
// of replication domains it serves and the purge watermark each domain's
// changelog has been trimmed to. State lives in a single bbolt database so
// updates are atomic and survive unclean shutdowns.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	domainsBucket    = []byte("domains")
	watermarksBucket = []byte("watermarks")
)

// DomainRecord is the persisted description of one replication domain.
type DomainRecord struct {
	BaseDN       string    `json:"base_dn"`
	ChangelogDir string    `json:"changelog_dir"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store wraps the bbolt database holding server state. It is safe for
// concurrent use.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the state database at path, creating parent
// directories and the schema buckets as needed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("state: empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("state: create directory for %q: %w", path, err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("state: open %q: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(domainsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(watermarksBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("state: initialize %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.db.Path()
}

// SaveDomain upserts a domain record keyed by its base DN.
func (s *Store) SaveDomain(rec DomainRecord) error {
	if rec.BaseDN == "" {
		return errors.New("state: domain record needs a base DN")
	}
	rec.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("state: encode domain %q: %w", rec.BaseDN, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(domainsBucket).Put([]byte(rec.BaseDN), data)
	})
	if err != nil {
		return fmt.Errorf("state: save domain %q: %w", rec.BaseDN, err)
	}
	return nil
}

// Domains returns all persisted domain records in base-DN order.
func (s *Store) Domains() ([]DomainRecord, error) {
	var records []DomainRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(domainsBucket).ForEach(func(_, v []byte) error {
			var rec DomainRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("state: list domains: %w", err)
	}
	return records, nil
}

// RemoveDomain deletes a domain record and its watermark.
func (s *Store) RemoveDomain(baseDN string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(domainsBucket).Delete([]byte(baseDN)); err != nil {
			return err
		}
		return tx.Bucket(watermarksBucket).Delete([]byte(baseDN))
	})
	if err != nil {
		return fmt.Errorf("state: remove domain %q: %w", baseDN, err)
	}
	return nil
}

// SetPurgeWatermark records the key boundary a domain's changelog was last
// purged up to, in its string encoding.
func (s *Store) SetPurgeWatermark(baseDN, watermark string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(watermarksBucket).Put([]byte(baseDN), []byte(watermark))
	})
	if err != nil {
		return fmt.Errorf("state: save watermark for %q: %w", baseDN, err)
	}
	return nil
}

// PurgeWatermark returns a domain's last purge boundary, if one was saved.
func (s *Store) PurgeWatermark(baseDN string) (string, bool, error) {
	var watermark []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(watermarksBucket).Get([]byte(baseDN))
		if value != nil {
			watermark = append([]byte(nil), value...)
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("state: read watermark for %q: %w", baseDN, err)
	}
	return string(watermark), watermark != nil, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DefaultStateDir determines the platform-specific directory for the server's
// state database, following the XDG Base Directory Specification on Linux.
func DefaultStateDir() (string, error) {
	if custom := os.Getenv("XDG_STATE_HOME"); custom != "" {
		return filepath.Join(custom, "dirsync"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("state: resolve home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "dirsync"), nil
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "dirsync"), nil
		}
		return filepath.Join(home, "AppData", "Local", "dirsync"), nil
	default:
		return filepath.Join(home, ".local", "state", "dirsync"), nil
	}
}
