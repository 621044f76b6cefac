// Package batch drives the dispatcher over an ordered file list on a
// dedicated goroutine, reporting progress, log, and status events on a
// channel and recording every outcome in the run's audit log.
package batch

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/batchsend/batchsend/internal/audit"
	"github.com/batchsend/batchsend/internal/config"
	"github.com/batchsend/batchsend/internal/logger"
	"github.com/batchsend/batchsend/internal/mail"
	"github.com/batchsend/batchsend/internal/util"
)

// State is the runner's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateReady
	StateRunning
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Runner owns one batch run. Jobs execute strictly in file-list order, one
// at a time; events for job i are emitted before any event for job i+1.
type Runner struct {
	cfg        config.Provider
	dispatcher mail.Dispatcher
	auditDir   string

	mu        sync.Mutex
	state     State
	files     []string
	auditLog  *audit.Log
	runID     string
	cancelRun context.CancelFunc

	cancelled atomic.Bool
}

func New(cfg config.Provider, dispatcher mail.Dispatcher, auditDir string) *Runner {
	return &Runner{
		cfg:        cfg,
		dispatcher: dispatcher,
		auditDir:   auditDir,
		state:      StateIdle,
	}
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// AuditLogPath returns the run's audit file location, or "" before Start.
func (r *Runner) AuditLogPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.auditLog == nil {
		return ""
	}
	return r.auditLog.Path()
}

// Scan enumerates the regular, non-hidden files in dir. The list is sorted
// lexically by name so runs over the same directory are reproducible. An
// empty result leaves the runner idle.
func (r *Runner) Scan(dir string) ([]string, error) {
	r.setState(StateScanning)

	entries, err := os.ReadDir(dir)
	if err != nil {
		r.setState(StateIdle)
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}

	// os.ReadDir returns entries sorted by filename.
	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if entry.Name()[0] == '.' {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	if len(files) == 0 {
		r.setState(StateIdle)
		return nil, fmt.Errorf("no files found in %s", dir)
	}

	r.mu.Lock()
	r.files = files
	r.state = StateReady
	r.mu.Unlock()
	return files, nil
}

// Start parses the recipient spec, creates the audit log with every target
// marked PENDING, and launches the run on its own goroutine. The returned
// channel delivers the run's events and is closed after the finished event.
func (r *Runner) Start(recipientSpec string) (<-chan Event, error) {
	recipients := mail.ParseRecipients(recipientSpec)
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients specified")
	}

	r.mu.Lock()
	if r.state != StateReady {
		state := r.state
		r.mu.Unlock()
		return nil, fmt.Errorf("cannot start run in state %q", state)
	}
	files := r.files
	r.mu.Unlock()

	filenames := make([]string, len(files))
	for i, path := range files {
		filenames[i] = filepath.Base(path)
	}

	runID := uuid.NewString()
	auditLog, err := audit.Create(r.auditDir, runID, filenames)
	if err != nil {
		return nil, fmt.Errorf("creating audit log: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.runID = runID
	r.auditLog = auditLog
	r.cancelRun = cancel
	r.state = StateRunning
	r.mu.Unlock()

	logger.Infof("run %s started: %d files to %v", runID, len(files), recipients)

	events := make(chan Event, 4)
	go r.run(ctx, events, files, recipients)
	return events, nil
}

// Cancel requests a cooperative stop. The flag is checked at job
// boundaries; cancelling the run context additionally wakes a dispatcher
// sitting in a retry delay or a dial, whose job then fails normally.
func (r *Runner) Cancel() {
	r.cancelled.Store(true)
	r.mu.Lock()
	cancel := r.cancelRun
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Runner) run(ctx context.Context, events chan<- Event, files []string, recipients []string) {
	defer close(events)
	total := len(files)
	completed := 0

	for _, path := range files {
		if r.cancelled.Load() {
			logger.Infof("run %s cancelled after %d/%d jobs", r.runID, completed, total)
			break
		}

		filename := filepath.Base(path)
		events <- Event{Kind: EventLog, Message: fmt.Sprintf("Processing %s...", filename)}

		err := r.dispatcher.Send(ctx, mail.Job{FilePath: path, Recipients: recipients})

		outcome := audit.Outcome{
			Filename:   filename,
			Recipients: recipients,
			Succeeded:  err == nil,
			Timestamp:  time.Now(),
		}
		if err != nil {
			outcome.ErrorDetail = err.Error()
		}
		if auditErr := r.auditLog.Record(outcome); auditErr != nil {
			logger.Errorf("run %s: audit record for %s not written: %v", r.runID, filename, auditErr)
			events <- Event{Kind: EventLog, Message: util.FormatError(util.AuditError, "recording outcome", auditErr)}
		}

		if err == nil {
			events <- Event{Kind: EventLog, Message: fmt.Sprintf("SUCCESS: Sent %s", filename)}
			events <- Event{Kind: EventStatus, Filename: filename, Status: StatusSent}
		} else {
			events <- Event{Kind: EventLog, Message: fmt.Sprintf("FAILURE: Could not send %s. Error: %v", filename, err)}
			events <- Event{Kind: EventStatus, Filename: filename, Status: StatusFailed}
		}

		completed++
		percent := int(math.Round(float64(completed) / float64(total) * 100))
		events <- Event{Kind: EventProgress, Percent: percent}
	}

	r.mu.Lock()
	cancel := r.cancelRun
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	// A cancellation that arrives while the final job is in flight changes
	// nothing: every job completed, so the run still counts as completed.
	if r.cancelled.Load() && completed < total {
		r.setState(StateCancelled)
	} else {
		r.setState(StateCompleted)
	}
	events <- Event{Kind: EventFinished}
}
