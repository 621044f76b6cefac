package batch

// EventKind discriminates the events a run pushes to its consumer.
type EventKind int

const (
	// EventProgress carries the overall percentage after each job.
	EventProgress EventKind = iota
	// EventLog carries a human-readable activity line.
	EventLog
	// EventStatus carries the final per-file delivery status.
	EventStatus
	// EventFinished is the terminal event, emitted exactly once per run.
	EventFinished
)

// Status is the per-file outcome reported to the consumer.
type Status string

const (
	StatusSent   Status = "SENT"
	StatusFailed Status = "FAILED"
)

// Event is one message on the run's channel. Which fields are meaningful
// depends on Kind.
type Event struct {
	Kind     EventKind
	Percent  int    // EventProgress
	Message  string // EventLog
	Filename string // EventStatus
	Status   Status // EventStatus
}
