// Package audit writes the per-run delivery record: one plain-text file per
// batch run, a header listing every target as PENDING, then one appended
// line per outcome. Files are never rewritten after creation, only appended.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const fileTimeLayout = "20060102_150405"
const rowTimeLayout = "2006-01-02 15:04:05"

// Outcome is one delivery result, produced exactly once per job.
type Outcome struct {
	Filename    string
	Recipients  []string
	Succeeded   bool
	ErrorDetail string
	Timestamp   time.Time
}

// Log is one run's audit file.
type Log struct {
	path string
}

// Create makes the audit file for a run, named by creation timestamp, and
// writes the header block with every filename marked PENDING.
func Create(dir, runID string, filenames []string) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	now := time.Now()
	path := filepath.Join(dir, fmt.Sprintf("audit_log_%s.txt", now.Format(fileTimeLayout)))

	var b strings.Builder
	fmt.Fprintf(&b, "Audit Log created at %s\n", now.Format(rowTimeLayout))
	fmt.Fprintf(&b, "Run ID: %s\n", runID)
	b.WriteString(strings.Repeat("-", 50) + "\n")
	b.WriteString("Initial File Status:\n")
	for _, name := range filenames {
		fmt.Fprintf(&b, "%s: PENDING\n", name)
	}
	b.WriteString(strings.Repeat("-", 50) + "\n")
	b.WriteString("Email Delivery Results:\n")
	fmt.Fprintf(&b, "%-20s | %-30s | %-30s | %-10s\n", "Timestamp", "Filename", "Email", "Status")
	b.WriteString(strings.Repeat("-", 100) + "\n")

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return nil, fmt.Errorf("creating audit log: %w", err)
	}
	return &Log{path: path}, nil
}

// Record appends one outcome line in completion order.
func (l *Log) Record(o Outcome) error {
	status := "FAILURE"
	if o.Succeeded {
		status = "SUCCESS"
	}
	line := fmt.Sprintf("%-20s | %-30s | %-30s | %-10s",
		o.Timestamp.Format(rowTimeLayout), o.Filename, strings.Join(o.Recipients, ", "), status)
	if o.ErrorDetail != "" {
		line += fmt.Sprintf(" | Error: %s", o.ErrorDetail)
	}
	line += "\n"

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("appending to audit log: %w", err)
	}
	return nil
}

// Path returns the audit file location.
func (l *Log) Path() string {
	return l.path
}
