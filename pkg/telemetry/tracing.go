// Package telemetry provides observability for the dirsync server:
// Prometheus-style metrics about changelog activity and a lightweight span
// tracer. Both are optional and enabled through configuration.
package telemetry

import (
	"context"
	"log"
	"sync"
	"time"
)

// SpanSnapshot captures a completed span for export.
type SpanSnapshot struct {
	Name       string
	StartTime  time.Time
	Duration   time.Duration
	Attributes map[string]string
	Error      string
}

// SpanExporter consumes completed spans.
type SpanExporter interface {
	ExportSpan(snapshot SpanSnapshot)
}

// TracerOptions configures a Tracer.
type TracerOptions struct {
	Enabled  bool
	Exporter SpanExporter
}

// Tracer creates spans measuring changelog operations. When disabled, spans
// are no-ops with negligible overhead.
type Tracer struct {
	enabled  bool
	exporter SpanExporter
}

// NewTracer constructs a tracer; with no exporter set, completed spans go to
// the standard logger.
func NewTracer(opts TracerOptions) *Tracer {
	tracer := &Tracer{enabled: opts.Enabled}
	if !opts.Enabled {
		return tracer
	}
	if opts.Exporter != nil {
		tracer.exporter = opts.Exporter
	} else {
		tracer.exporter = &loggingExporter{}
	}
	return tracer
}

// Enabled reports whether spans will be recorded and exported.
func (t *Tracer) Enabled() bool {
	return t != nil && t.enabled
}

// StartSpan opens a span and embeds it in the returned context.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	if t == nil || !t.enabled {
		return &Span{noop: true}, ctx
	}
	span := &Span{
		tracer: t,
		name:   name,
		start:  time.Now(),
		attrs:  make(map[string]string),
	}
	return span, context.WithValue(ctx, spanKey{}, span)
}

// Span is an in-flight measurement. End it exactly once.
type Span struct {
	noop   bool
	tracer *Tracer
	name   string
	start  time.Time
	attrs  map[string]string
	mu     sync.Mutex
}

// SetAttribute attaches a key-value pair to the span. Safe for concurrent use.
func (s *Span) SetAttribute(key, value string) {
	if s == nil || s.noop {
		return
	}
	s.mu.Lock()
	s.attrs[key] = value
	s.mu.Unlock()
}

// End completes the span and forwards it to the exporter, recording err when
// non-nil.
func (s *Span) End(err error) {
	if s == nil || s.noop || s.tracer == nil || !s.tracer.enabled {
		return
	}
	s.mu.Lock()
	attrs := make(map[string]string, len(s.attrs))
	for k, v := range s.attrs {
		attrs[k] = v
	}
	s.mu.Unlock()

	snapshot := SpanSnapshot{
		Name:       s.name,
		StartTime:  s.start,
		Duration:   time.Since(s.start),
		Attributes: attrs,
	}
	if err != nil {
		snapshot.Error = err.Error()
	}
	s.tracer.exporter.ExportSpan(snapshot)
}

// SpanFromContext extracts the current span from ctx, if any.
func SpanFromContext(ctx context.Context) (*Span, bool) {
	span, ok := ctx.Value(spanKey{}).(*Span)
	return span, ok
}

type spanKey struct{}

type loggingExporter struct{}

func (loggingExporter) ExportSpan(snapshot SpanSnapshot) {
	log.Printf("trace span=%s duration=%s attrs=%v err=%s", snapshot.Name, snapshot.Duration, snapshot.Attributes, snapshot.Error)
}
