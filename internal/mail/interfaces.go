package mail

import "context"

// Job is one file paired with its recipient set, delivered in a single
// send attempt (with retries). Immutable once constructed.
type Job struct {
	FilePath   string
	Recipients []string
}

// Dispatcher owns one SMTP session lifecycle per job.
type Dispatcher interface {
	Send(ctx context.Context, job Job) error
	Verify(ctx context.Context) error
}
