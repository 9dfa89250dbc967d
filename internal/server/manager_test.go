package server

import (
	"path/filepath"
	"testing"
	"time"

	"dirsync/internal/csn"
	"dirsync/internal/record"
	"dirsync/internal/state"
	"dirsync/pkg/config"
)

func testManifest(t *testing.T) *config.Manifest {
	t.Helper()
	base := t.TempDir()
	manifest, err := config.BuildManifestFromArgs(base, []config.Domain{
		{BaseDN: "dc=example,dc=com", ChangelogDir: "example", SizeLimit: 1024 * 1024, Retention: "1h"},
	})
	if err != nil {
		t.Fatalf("build manifest: %v", err)
	}
	return manifest
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	manager, err := NewManager(store, testManifest(t))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(nil, &config.Manifest{}); err == nil {
		t.Fatalf("expected error for nil store")
	}
	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if _, err := NewManager(store, nil); err == nil {
		t.Fatalf("expected error for nil manifest")
	}
}

func TestManagerAppendAndStatus(t *testing.T) {
	manager := newTestManager(t)
	if err := manager.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer manager.Stop()

	now := time.Now()
	for seq := uint32(0); seq < 3; seq++ {
		rec := record.Record[csn.CSN, []byte]{
			Key:   csn.New(now, seq, 1),
			Value: []byte("change"),
		}
		if err := manager.Append("dc=example,dc=com", rec); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}
	if err := manager.Sync("dc=example,dc=com"); err != nil {
		t.Fatalf("sync: %v", err)
	}

	status := manager.Status()
	if !status.Running {
		t.Fatalf("expected running status")
	}
	if len(status.Domains) != 1 {
		t.Fatalf("expected 1 domain, got %d", len(status.Domains))
	}
	domain := status.Domains[0]
	if domain.Records != 3 {
		t.Fatalf("expected 3 records, got %d", domain.Records)
	}
	if domain.OldestKey == "" || domain.NewestKey == "" {
		t.Fatalf("expected key bounds in status: %+v", domain)
	}
	if status.Summary.TotalEvents != 3 {
		t.Fatalf("expected 3 aggregated events, got %d", status.Summary.TotalEvents)
	}
}

func TestManagerRejectsUnknownDomain(t *testing.T) {
	manager := newTestManager(t)
	if err := manager.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer manager.Stop()

	rec := record.Record[csn.CSN, []byte]{Key: csn.New(time.Now(), 0, 1)}
	if err := manager.Append("dc=unknown", rec); err == nil {
		t.Fatalf("expected error for unknown domain")
	}
}

func TestPurgeExpiredTrimsOldFiles(t *testing.T) {
	base := t.TempDir()
	manifest, err := config.BuildManifestFromArgs(base, []config.Domain{
		// Tiny size limit so every few appends rotate; tiny retention so
		// everything already counts as expired.
		{BaseDN: "dc=example,dc=com", ChangelogDir: "example", SizeLimit: 128, Retention: "1ms"},
	})
	if err != nil {
		t.Fatalf("build manifest: %v", err)
	}
	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	manager, err := NewManager(store, manifest)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := manager.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer manager.Stop()

	appendTime := time.Now().Add(-time.Minute)
	for seq := uint32(0); seq < 10; seq++ {
		rec := record.Record[csn.CSN, []byte]{
			Key:   csn.New(appendTime, seq, 1),
			Value: []byte("expired change"),
		}
		if err := manager.Append("dc=example,dc=com", rec); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}

	before := manager.Status().Domains[0]
	if before.Files < 2 {
		t.Fatalf("expected rotations before purge, got %d files", before.Files)
	}

	time.Sleep(5 * time.Millisecond)
	manager.purgeExpired()

	after := manager.Status().Domains[0]
	if after.Files >= before.Files {
		t.Fatalf("expected purge to delete rotated files: before=%d after=%d", before.Files, after.Files)
	}
	if after.Watermark == "" {
		t.Fatalf("expected purge watermark to be recorded")
	}

	if _, ok, err := store.PurgeWatermark("dc=example,dc=com"); err != nil || !ok {
		t.Fatalf("expected persisted watermark (ok=%v, err=%v)", ok, err)
	}
}
