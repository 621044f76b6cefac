package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/batchsend/batchsend/internal/mail"
)

type fakeProfile struct{}

func (fakeProfile) GetServer() string         { return "smtp.example.com" }
func (fakeProfile) GetPort() int              { return 587 }
func (fakeProfile) GetEmail() string          { return "sender@example.com" }
func (fakeProfile) GetPasswordToken() string  { return "token" }
func (fakeProfile) GetUseTLS() bool           { return true }
func (fakeProfile) GetUseSSL() bool           { return false }
func (fakeProfile) DecryptedPassword() string { return "pw" }
func (fakeProfile) Reload() error             { return nil }

type fakeDispatcher struct {
	mu         sync.Mutex
	sent       []mail.Job
	fail       map[string]error
	onSend     func(job mail.Job)
	waitCancel bool          // block each send until the run context ends
	started    chan struct{} // signalled when a blocking send begins
}

func (f *fakeDispatcher) Send(ctx context.Context, job mail.Job) error {
	f.mu.Lock()
	f.sent = append(f.sent, job)
	f.mu.Unlock()
	if f.onSend != nil {
		f.onSend(job)
	}
	if f.waitCancel {
		select {
		case f.started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}
	if err, ok := f.fail[filepath.Base(job.FilePath)]; ok {
		return err
	}
	return nil
}

func (f *fakeDispatcher) Verify(context.Context) error { return nil }

func (f *fakeDispatcher) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func makeFiles(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("content"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var all []Event
	for ev := range events {
		all = append(all, ev)
	}
	return all
}

func filterKind(events []Event, kind EventKind) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestScanSortsAndFilters(t *testing.T) {
	dir := makeFiles(t, "b.txt", "a.txt", ".hidden")
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0755); err != nil {
		t.Fatal(err)
	}

	r := New(fakeProfile{}, &fakeDispatcher{}, t.TempDir())
	files, err := r.Scan(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{filepath.Join(dir, "a.txt"), filepath.Join(dir, "b.txt")}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("files: got %v, want %v", files, want)
	}
	if r.State() != StateReady {
		t.Errorf("state: got %v, want %v", r.State(), StateReady)
	}
}

func TestScanEmptyDirectory(t *testing.T) {
	r := New(fakeProfile{}, &fakeDispatcher{}, t.TempDir())
	if _, err := r.Scan(t.TempDir()); err == nil {
		t.Fatal("expected error for empty directory")
	}
	if r.State() != StateIdle {
		t.Errorf("state: got %v, want %v", r.State(), StateIdle)
	}
}

func TestStartRequiresScan(t *testing.T) {
	r := New(fakeProfile{}, &fakeDispatcher{}, t.TempDir())
	if _, err := r.Start("a@x.com"); err == nil {
		t.Fatal("expected error when starting before scan")
	}
}

func TestStartRequiresRecipients(t *testing.T) {
	r := New(fakeProfile{}, &fakeDispatcher{}, t.TempDir())
	if _, err := r.Scan(makeFiles(t, "a.txt")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Start(" , ,"); err == nil {
		t.Fatal("expected error for blank recipient spec")
	}
}

func TestRunAllSucceed(t *testing.T) {
	dir := makeFiles(t, "a.txt", "b.txt", "c.txt")
	d := &fakeDispatcher{}
	r := New(fakeProfile{}, d, t.TempDir())
	if _, err := r.Scan(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events, err := r.Start("a@x.com, b@x.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all := collect(t, events)

	statuses := filterKind(all, EventStatus)
	if len(statuses) != 3 {
		t.Fatalf("status events: got %d, want 3", len(statuses))
	}
	wantOrder := []string{"a.txt", "b.txt", "c.txt"}
	for i, ev := range statuses {
		if ev.Filename != wantOrder[i] || ev.Status != StatusSent {
			t.Errorf("status[%d]: got %s/%s, want %s/SENT", i, ev.Filename, ev.Status, wantOrder[i])
		}
	}

	finished := filterKind(all, EventFinished)
	if len(finished) != 1 {
		t.Errorf("finished events: got %d, want 1", len(finished))
	}
	if all[len(all)-1].Kind != EventFinished {
		t.Error("finished event is not last")
	}

	progress := filterKind(all, EventProgress)
	last := -1
	for _, ev := range progress {
		if ev.Percent < last {
			t.Errorf("progress decreased: %d after %d", ev.Percent, last)
		}
		last = ev.Percent
	}
	if last != 100 {
		t.Errorf("final progress: got %d, want 100", last)
	}

	if r.State() != StateCompleted {
		t.Errorf("state: got %v, want %v", r.State(), StateCompleted)
	}

	// Every job carries the parsed recipient set.
	wantRecipients := []string{"a@x.com", "b@x.com"}
	for _, job := range d.sent {
		if !reflect.DeepEqual(job.Recipients, wantRecipients) {
			t.Errorf("job recipients: got %v, want %v", job.Recipients, wantRecipients)
		}
	}

	data, err := os.ReadFile(r.AuditLogPath())
	if err != nil {
		t.Fatalf("reading audit log: %v", err)
	}
	content := string(data)
	if got := strings.Count(content, "PENDING"); got != 3 {
		t.Errorf("PENDING lines: got %d, want 3", got)
	}
	if got := strings.Count(content, "SUCCESS"); got != 3 {
		t.Errorf("SUCCESS lines: got %d, want 3", got)
	}
}

func TestRunFailureDoesNotAbortBatch(t *testing.T) {
	dir := makeFiles(t, "a.txt", "b.txt", "c.txt")
	d := &fakeDispatcher{fail: map[string]error{"b.txt": errors.New("relay timed out")}}
	r := New(fakeProfile{}, d, t.TempDir())
	if _, err := r.Scan(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events, err := r.Start("a@x.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all := collect(t, events)

	statuses := filterKind(all, EventStatus)
	if len(statuses) != 3 {
		t.Fatalf("status events: got %d, want 3", len(statuses))
	}
	if statuses[1].Filename != "b.txt" || statuses[1].Status != StatusFailed {
		t.Errorf("status[1]: got %s/%s, want b.txt/FAILED", statuses[1].Filename, statuses[1].Status)
	}
	if statuses[2].Status != StatusSent {
		t.Error("batch did not continue past the failed job")
	}
	if d.sentCount() != 3 {
		t.Errorf("dispatch attempts: got %d, want 3", d.sentCount())
	}

	data, err := os.ReadFile(r.AuditLogPath())
	if err != nil {
		t.Fatalf("reading audit log: %v", err)
	}
	if !strings.Contains(string(data), "FAILURE") || !strings.Contains(string(data), "relay timed out") {
		t.Errorf("audit log missing failure detail:\n%s", string(data))
	}
}

func TestCancelUnblocksInFlightSend(t *testing.T) {
	dir := makeFiles(t, "a.txt", "b.txt")
	d := &fakeDispatcher{waitCancel: true, started: make(chan struct{}, 1)}
	r := New(fakeProfile{}, d, t.TempDir())
	if _, err := r.Scan(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events, err := r.Start("a@x.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Cancel while the first send is blocked on the run context; the
	// dispatcher must be woken instead of waiting out its delay.
	go func() {
		<-d.started
		r.Cancel()
	}()
	all := collect(t, events)

	statuses := filterKind(all, EventStatus)
	if len(statuses) != 1 || statuses[0].Status != StatusFailed {
		t.Errorf("statuses: got %+v, want single a.txt/FAILED", statuses)
	}
	if d.sentCount() != 1 {
		t.Errorf("dispatch attempts: got %d, want 1", d.sentCount())
	}
	if got := len(filterKind(all, EventFinished)); got != 1 {
		t.Errorf("finished events: got %d, want 1", got)
	}
	if r.State() != StateCancelled {
		t.Errorf("state: got %v, want %v", r.State(), StateCancelled)
	}
}

func TestCancelDuringFinalJobCompletes(t *testing.T) {
	dir := makeFiles(t, "only.txt")
	d := &fakeDispatcher{}
	r := New(fakeProfile{}, d, t.TempDir())
	// Cancelling while the last job is in flight must not relabel a fully
	// delivered run as cancelled.
	d.onSend = func(mail.Job) { r.Cancel() }
	if _, err := r.Scan(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events, err := r.Start("a@x.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all := collect(t, events)

	statuses := filterKind(all, EventStatus)
	if len(statuses) != 1 || statuses[0].Status != StatusSent {
		t.Errorf("statuses: got %+v, want single only.txt/SENT", statuses)
	}
	if r.State() != StateCompleted {
		t.Errorf("state: got %v, want %v", r.State(), StateCompleted)
	}

	progress := filterKind(all, EventProgress)
	if len(progress) == 0 || progress[len(progress)-1].Percent != 100 {
		t.Errorf("final progress: got %+v, want 100", progress)
	}
}

func TestCancelStopsAtJobBoundary(t *testing.T) {
	dir := makeFiles(t, "a.txt", "b.txt", "c.txt")
	d := &fakeDispatcher{}
	r := New(fakeProfile{}, d, t.TempDir())
	// Cancel while the first send is in flight; it completes normally and
	// the remaining jobs are skipped.
	d.onSend = func(mail.Job) { r.Cancel() }
	if _, err := r.Scan(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events, err := r.Start("a@x.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all := collect(t, events)

	statuses := filterKind(all, EventStatus)
	if len(statuses) != 1 || statuses[0].Filename != "a.txt" || statuses[0].Status != StatusSent {
		t.Errorf("statuses: got %+v, want single a.txt/SENT", statuses)
	}
	if got := len(filterKind(all, EventFinished)); got != 1 {
		t.Errorf("finished events: got %d, want 1", got)
	}
	if d.sentCount() != 1 {
		t.Errorf("dispatch attempts: got %d, want 1", d.sentCount())
	}
	if r.State() != StateCancelled {
		t.Errorf("state: got %v, want %v", r.State(), StateCancelled)
	}
}
