// Package server implements the dirsync background process: it owns one
// changelog per replication domain, runs the age-based retention loop that
// purges old changelog files, and reports status to CLI consumers.
//
// The central component is the Manager, which orchestrates the changelogs
// and the retention loop. It is supervised by a Supervisor that restarts it
// on failure.
package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"dirsync/internal/changelog"
	"dirsync/internal/csn"
	"dirsync/internal/logging"
	"dirsync/internal/record"
	"dirsync/internal/reporting"
	"dirsync/internal/state"
	"dirsync/pkg/config"
	"dirsync/pkg/telemetry"
)

// defaultPurgeInterval is how often the retention loop trims changelogs.
const defaultPurgeInterval = time.Hour

// domainLog pairs a configured domain with its open changelog.
type domainLog struct {
	domain    config.Domain
	retention time.Duration
	log       *changelog.Log[csn.CSN, []byte]
}

// Manager coordinates changelog lifecycles, state persistence, retention and
// logging for every configured replication domain. It is safe for concurrent
// use.
type Manager struct {
	store    *state.Store
	manifest *config.Manifest
	registry *changelog.Registry[csn.CSN, []byte]
	logger   *logging.Logger

	aggregator *reporting.Aggregator
	metrics    *telemetry.Collector
	tracer     *telemetry.Tracer
	supervisor *Supervisor

	purgeInterval time.Duration

	mux     sync.Mutex
	running bool
	logs    map[string]*domainLog
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewManager creates a Manager for the provided manifest and state store.
// Changelogs are opened on Start, not here.
func NewManager(store *state.Store, manifest *config.Manifest) (*Manager, error) {
	if store == nil {
		return nil, errors.New("server: state store is required")
	}
	if manifest == nil {
		return nil, errors.New("server: manifest is required")
	}

	logDir := filepath.Dir(store.Path())
	logName := "dirsync.log"
	if manifest.LogPath != "" {
		logDir = filepath.Dir(manifest.LogPath)
		logName = filepath.Base(manifest.LogPath)
	}
	rotator, err := logging.NewRotator(logDir, logName, 10*1024*1024, 5)
	if err != nil {
		return nil, err
	}
	logger := logging.New(rotator)

	m := &Manager{
		store:         store,
		manifest:      manifest,
		registry:      changelog.NewRegistry[csn.CSN, []byte](logger),
		logger:        logger,
		aggregator:    reporting.NewAggregator(),
		purgeInterval: defaultPurgeInterval,
		logs:          make(map[string]*domainLog),
	}
	m.supervisor = NewSupervisor(m, 5*time.Second)
	return m, nil
}

// SetTelemetry attaches metrics and tracing to the manager.
func (m *Manager) SetTelemetry(metrics *telemetry.Collector, tracer *telemetry.Tracer) {
	m.metrics = metrics
	m.tracer = tracer
}

// Start opens every domain's changelog, persists the domain set, and
// launches the retention loop and supervisor. Idempotent while running.
func (m *Manager) Start() error {
	m.mux.Lock()
	defer m.mux.Unlock()
	if m.running {
		return nil
	}

	for _, domain := range m.manifest.Domains {
		retention, err := domain.RetentionDuration()
		if err != nil {
			m.closeLogsLocked()
			return err
		}
		log, err := m.registry.Open(domain.ChangelogDir, csn.Parser{}, domain.SizeLimit)
		if err != nil {
			m.closeLogsLocked()
			return fmt.Errorf("server: open changelog for %q: %w", domain.BaseDN, err)
		}
		m.logs[domain.BaseDN] = &domainLog{domain: domain, retention: retention, log: log}

		if err := m.store.SaveDomain(state.DomainRecord{BaseDN: domain.BaseDN, ChangelogDir: domain.ChangelogDir}); err != nil {
			m.closeLogsLocked()
			return err
		}
	}

	m.stop = make(chan struct{})
	m.wg.Add(1)
	go m.retentionLoop(m.stop)

	if m.logger != nil {
		m.logger.Infof("server started with %d domains", len(m.manifest.Domains))
	}
	if m.supervisor != nil {
		m.supervisor.Start()
	}

	m.running = true
	return nil
}

// Stop halts the retention loop and supervisor and closes every changelog.
func (m *Manager) Stop() {
	m.mux.Lock()
	if !m.running {
		m.mux.Unlock()
		return
	}
	m.running = false
	stop := m.stop
	m.stop = nil
	m.mux.Unlock()

	// Stop the supervisor first so it cannot restart the manager while the
	// changelogs are being closed.
	if m.supervisor != nil {
		m.supervisor.Stop()
	}

	close(stop)
	m.wg.Wait()

	m.mux.Lock()
	m.closeLogsLocked()
	m.mux.Unlock()

	if m.logger != nil {
		m.logger.Info("server stopped")
	}
}

func (m *Manager) closeLogsLocked() {
	for baseDN, dl := range m.logs {
		dl.log.Close()
		delete(m.logs, baseDN)
	}
}

// Append writes a change into the named domain's changelog and records the
// activity. This is the entry point the replication dispatch layer hands
// decoded changes to.
func (m *Manager) Append(baseDN string, rec record.Record[csn.CSN, []byte]) error {
	m.mux.Lock()
	dl, ok := m.logs[baseDN]
	m.mux.Unlock()
	if !ok {
		return fmt.Errorf("server: unknown domain %q", baseDN)
	}

	start := time.Now()
	if err := dl.log.Append(rec); err != nil {
		if m.metrics != nil {
			m.metrics.IncError()
		}
		return err
	}
	if m.metrics != nil {
		m.metrics.IncAppend()
		m.metrics.ObserveAppendLatency(time.Since(start))
	}
	m.aggregator.Record(reporting.Event{
		Domain:    baseDN,
		Kind:      reporting.KindAppend,
		Key:       rec.Key.String(),
		Timestamp: time.Now(),
	})
	return nil
}

// Sync forces the named domain's changelog head to durable storage.
func (m *Manager) Sync(baseDN string) error {
	m.mux.Lock()
	dl, ok := m.logs[baseDN]
	m.mux.Unlock()
	if !ok {
		return fmt.Errorf("server: unknown domain %q", baseDN)
	}
	return dl.log.Sync()
}

// retentionLoop periodically converts each domain's retention window into a
// CSN boundary and purges changelog files that fell entirely below it.
func (m *Manager) retentionLoop(stop <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.purgeExpired()
		}
	}
}

func (m *Manager) purgeExpired() {
	m.mux.Lock()
	domains := make([]*domainLog, 0, len(m.logs))
	for _, dl := range m.logs {
		domains = append(domains, dl)
	}
	m.mux.Unlock()

	for _, dl := range domains {
		boundary := csn.New(time.Now().Add(-dl.retention), 0, 0)
		if _, err := dl.log.PurgeUpTo(boundary); err != nil {
			if m.logger != nil {
				m.logger.Error(err, "server: purge changelog")
			}
			if m.metrics != nil {
				m.metrics.IncError()
			}
			continue
		}
		if m.metrics != nil {
			m.metrics.IncPurge()
		}
		m.aggregator.Record(reporting.Event{
			Domain:    dl.domain.BaseDN,
			Kind:      reporting.KindPurge,
			Key:       boundary.String(),
			Timestamp: time.Now(),
		})
		if err := m.store.SetPurgeWatermark(dl.domain.BaseDN, boundary.String()); err != nil && m.logger != nil {
			m.logger.Error(err, "server: save purge watermark")
		}
	}
}

// DomainStatus describes one domain's changelog for status output.
type DomainStatus struct {
	BaseDN       string `json:"base_dn"`
	ChangelogDir string `json:"changelog_dir"`
	Files        int    `json:"files"`
	Bytes        int64  `json:"bytes"`
	Records      int    `json:"records,omitempty"`
	OldestKey    string `json:"oldest_key,omitempty"`
	NewestKey    string `json:"newest_key,omitempty"`
	Watermark    string `json:"purge_watermark,omitempty"`
}

// ManagerStatus summarizes the server's state for CLI commands.
type ManagerStatus struct {
	Running   bool           `json:"running"`
	StatePath string         `json:"state_path"`
	Domains   []DomainStatus `json:"domains"`
	Summary   reporting.Summary
	Heartbeat Heartbeat
}

// Status reports the current run state and per-domain changelog statistics.
func (m *Manager) Status() ManagerStatus {
	m.mux.Lock()
	defer m.mux.Unlock()

	status := ManagerStatus{
		Running:   m.running,
		StatePath: m.store.Path(),
		Summary:   reporting.BuildSummary(m.aggregator.Snapshot(), 5*time.Minute),
	}
	if m.supervisor != nil {
		status.Heartbeat = m.supervisor.Snapshot()
	}

	for _, domain := range m.manifest.Domains {
		ds := DomainStatus{BaseDN: domain.BaseDN, ChangelogDir: domain.ChangelogDir}
		ds.Files, ds.Bytes = inspectDir(domain.ChangelogDir)
		if dl, ok := m.logs[domain.BaseDN]; ok {
			ds.Records = dl.log.NumberOfRecords()
			if oldest := dl.log.OldestRecord(); oldest != nil {
				ds.OldestKey = oldest.Key.String()
			}
			if newest := dl.log.NewestRecord(); newest != nil {
				ds.NewestKey = newest.Key.String()
			}
		}
		if watermark, ok, err := m.store.PurgeWatermark(domain.BaseDN); err == nil && ok {
			ds.Watermark = watermark
		}
		status.Domains = append(status.Domains, ds)
	}
	return status
}

// Inspect builds a status snapshot from disk alone, without opening any
// changelog. CLI commands use it when no server is running in-process.
func Inspect(manifest *config.Manifest, store *state.Store) ManagerStatus {
	status := ManagerStatus{StatePath: store.Path()}
	for _, domain := range manifest.Domains {
		ds := DomainStatus{BaseDN: domain.BaseDN, ChangelogDir: domain.ChangelogDir}
		ds.Files, ds.Bytes = inspectDir(domain.ChangelogDir)
		if watermark, ok, err := store.PurgeWatermark(domain.BaseDN); err == nil && ok {
			ds.Watermark = watermark
		}
		status.Domains = append(status.Domains, ds)
	}
	return status
}

// inspectDir counts the changelog files in dir and their combined size.
func inspectDir(dir string) (int, int64) {
	listing, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0
	}
	files := 0
	var bytes int64
	for _, dirent := range listing {
		if dirent.IsDir() || !strings.HasSuffix(dirent.Name(), ".log") {
			continue
		}
		files++
		if info, err := dirent.Info(); err == nil {
			bytes += info.Size()
		}
	}
	return files, bytes
}
