// Package output provides formatted output for the dirsync command-line
// interface. A Renderer abstracts the output format so command results can
// be displayed as human-readable text or machine-parsable JSON.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"dirsync/internal/server"
)

// Renderer emits formatted output for CLI commands.
type Renderer interface {
	Status(status server.ManagerStatus) error
}

// NewRenderer returns a Renderer for the given format keyword: "plain" (or
// "text") for human-readable output, "json" for machine-readable output.
func NewRenderer(format string) (Renderer, error) {
	switch format {
	case "", "plain", "text":
		return &tableRenderer{writer: os.Stdout}, nil
	case "json":
		return &jsonRenderer{encoder: json.NewEncoder(os.Stdout)}, nil
	default:
		return nil, fmt.Errorf("output: unsupported format %q", format)
	}
}

// WithWriter returns a copy of r writing to w, for tests capturing output.
func WithWriter(r Renderer, w io.Writer) Renderer {
	switch r.(type) {
	case *tableRenderer:
		return &tableRenderer{writer: w}
	case *jsonRenderer:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return &jsonRenderer{encoder: enc}
	default:
		panic("output: unknown renderer implementation")
	}
}

type tableRenderer struct {
	writer io.Writer
}

func (t *tableRenderer) Status(status server.ManagerStatus) error {
	if t.writer == nil {
		return errors.New("output: table renderer missing writer")
	}

	fmt.Fprintf(t.writer, "server: running=%t\n", status.Running)
	fmt.Fprintf(t.writer, "state: %s\n", status.StatePath)
	fmt.Fprintf(t.writer, "domains (%d):\n", len(status.Domains))
	for _, domain := range status.Domains {
		fmt.Fprintf(t.writer, "  - %s\n", domain.BaseDN)
		fmt.Fprintf(t.writer, "    changelog: %s (%d files, %d bytes)\n", domain.ChangelogDir, domain.Files, domain.Bytes)
		if domain.Records > 0 {
			fmt.Fprintf(t.writer, "    records: %d [%s .. %s]\n", domain.Records, domain.OldestKey, domain.NewestKey)
		}
		if domain.Watermark != "" {
			fmt.Fprintf(t.writer, "    purged up to: %s\n", domain.Watermark)
		}
	}
	fmt.Fprintf(t.writer, "activity: total=%d window=%s\n", status.Summary.TotalEvents, status.Summary.Window)
	if status.Summary.LastEvent != nil {
		fmt.Fprintf(t.writer, "last event: %s %s key=%s at %s\n",
			status.Summary.LastEvent.Kind,
			status.Summary.LastEvent.Domain,
			status.Summary.LastEvent.Key,
			status.Summary.LastEvent.Timestamp.Format("2006-01-02 15:04:05"))
	}
	if !status.Heartbeat.LastCheck.IsZero() {
		fmt.Fprintf(t.writer, "heartbeat: running=%t restarts=%d last_error=%s\n",
			status.Heartbeat.Running,
			status.Heartbeat.Restarts,
			status.Heartbeat.LastError)
		if !status.Heartbeat.BackoffUntil.IsZero() {
			fmt.Fprintf(t.writer, "heartbeat backoff until: %s\n", status.Heartbeat.BackoffUntil.Format("2006-01-02 15:04:05"))
		}
	}
	return nil
}

type jsonRenderer struct {
	encoder *json.Encoder
}

func (j *jsonRenderer) Status(status server.ManagerStatus) error {
	if j.encoder == nil {
		return errors.New("output: json encoder missing")
	}
	j.encoder.SetIndent("", "  ")
	return j.encoder.Encode(status)
}
