// Package telemetry provides observability for the dirsync server:
// Prometheus-style metrics about changelog activity and a lightweight span
// tracer. Both are optional and enabled through configuration.
package telemetry

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Collector publishes counters and summaries for changelog activity over an
// HTTP /metrics endpoint. It is safe for concurrent use.
type Collector struct {
	appends uint64
	purges  uint64
	errors  uint64

	latencyMu    sync.Mutex
	latencySum   time.Duration
	latencyCount uint64

	server   *http.Server
	listener net.Listener
	startMu  sync.Mutex
}

// NewCollector constructs an idle collector; nothing is served until Start.
func NewCollector() *Collector {
	return &Collector{}
}

// Start begins serving metrics on addr (e.g. "127.0.0.1:9600") at /metrics.
// Starting an already started collector is an error.
func (c *Collector) Start(addr string) error {
	if addr == "" {
		return fmt.Errorf("telemetry: empty metrics address")
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.listener != nil {
		return fmt.Errorf("telemetry: metrics already started")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", c.handleMetrics)

	server := &http.Server{Handler: mux}
	c.server = server
	c.listener = listener

	go func() {
		_ = server.Serve(listener)
	}()
	return nil
}

// Stop gracefully shuts down the metrics endpoint.
func (c *Collector) Stop(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.server == nil {
		return nil
	}
	err := c.server.Shutdown(ctx)
	c.server = nil
	c.listener = nil
	return err
}

// IncAppend counts one record appended to a changelog.
func (c *Collector) IncAppend() {
	atomic.AddUint64(&c.appends, 1)
}

// IncPurge counts one purge pass over a changelog.
func (c *Collector) IncPurge() {
	atomic.AddUint64(&c.purges, 1)
}

// IncError counts an error encountered while operating a changelog.
func (c *Collector) IncError() {
	atomic.AddUint64(&c.errors, 1)
}

// ObserveAppendLatency records the duration of one append.
func (c *Collector) ObserveAppendLatency(d time.Duration) {
	c.latencyMu.Lock()
	defer c.latencyMu.Unlock()
	c.latencySum += d
	c.latencyCount++
}

func (c *Collector) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	appends := atomic.LoadUint64(&c.appends)
	purges := atomic.LoadUint64(&c.purges)
	errorCount := atomic.LoadUint64(&c.errors)

	avgLatency := 0.0
	c.latencyMu.Lock()
	if c.latencyCount > 0 {
		avgLatency = c.latencySum.Seconds() / float64(c.latencyCount)
	}
	samples := c.latencyCount
	c.latencyMu.Unlock()

	fmt.Fprintf(w, "# HELP dirsync_appends_total Total records appended to changelogs.\n")
	fmt.Fprintf(w, "# TYPE dirsync_appends_total counter\n")
	fmt.Fprintf(w, "dirsync_appends_total %d\n", appends)

	fmt.Fprintf(w, "# HELP dirsync_purges_total Total purge passes over changelogs.\n")
	fmt.Fprintf(w, "# TYPE dirsync_purges_total counter\n")
	fmt.Fprintf(w, "dirsync_purges_total %d\n", purges)

	fmt.Fprintf(w, "# HELP dirsync_errors_total Total changelog operation errors.\n")
	fmt.Fprintf(w, "# TYPE dirsync_errors_total counter\n")
	fmt.Fprintf(w, "dirsync_errors_total %d\n", errorCount)

	fmt.Fprintf(w, "# HELP dirsync_append_latency_seconds Average latency per append.\n")
	fmt.Fprintf(w, "# TYPE dirsync_append_latency_seconds gauge\n")
	fmt.Fprintf(w, "dirsync_append_latency_seconds %.6f\n", avgLatency)

	fmt.Fprintf(w, "# HELP dirsync_append_latency_samples Number of samples contributing to the latency metric.\n")
	fmt.Fprintf(w, "# TYPE dirsync_append_latency_samples counter\n")
	fmt.Fprintf(w, "dirsync_append_latency_samples %d\n", samples)
}
