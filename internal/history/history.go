package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/loykin/auditweb/internal/audit"
)

// EventType defines the kind of history event.
type EventType string

const (
	EventRunFinished    EventType = "run_finished"
	EventReportsCleared EventType = "reports_cleared"
)

// Record is the flattened payload stored by every sink.
// Run fields are empty for clear events; Deleted is zero for run events.
type Record struct {
	RunID      string    `json:"run_id,omitempty"`
	Script     string    `json:"script,omitempty"`
	LogPath    string    `json:"log_path,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	ExitCode   int       `json:"exit_code"`
	OK         bool      `json:"ok"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	DurationMS int64     `json:"duration_ms"`
	OutputSize int       `json:"output_bytes"`
	Error      string    `json:"error,omitempty"`
	Deleted    int       `json:"deleted"`
}

// Event represents one history entry exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Key identifies the event for partitioning and object naming.
func (e Event) Key() string {
	if e.Record.RunID != "" {
		return e.Record.RunID
	}
	return string(e.Type) + "-" + e.OccurredAt.UTC().Format("20060102T150405.000000000")
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// RunEvent converts an audit run outcome into an Event.
func RunEvent(res audit.Result, err error, at time.Time) Event {
	rec := Record{
		RunID:      res.ID,
		Script:     res.Script,
		LogPath:    res.LogPath,
		Outcome:    audit.Outcome(res, err),
		ExitCode:   res.ExitCode,
		OK:         err == nil && res.OK(),
		StartedAt:  res.StartedAt.UTC(),
		DurationMS: res.Duration.Milliseconds(),
		OutputSize: len(res.Output),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return Event{Type: EventRunFinished, OccurredAt: at.UTC(), Record: rec}
}

// ClearEvent records a clear request that removed deleted files.
func ClearEvent(deleted int, at time.Time) Event {
	return Event{
		Type:       EventReportsCleared,
		OccurredAt: at.UTC(),
		Record:     Record{OK: true, Deleted: deleted},
	}
}

// Recorder fans events out to every configured sink. Delivery is best effort:
// failures are logged and never reach the caller.
type Recorder struct {
	sinks   []Sink
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewRecorder builds a Recorder. timeout bounds each sink delivery (0 = 5s).
func NewRecorder(logger *slog.Logger, timeout time.Duration, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Recorder{
		sinks:   sinks,
		timeout: timeout,
		logger:  logger.With("component", "history"),
		now:     time.Now,
	}
}

// Len returns the number of sinks.
func (r *Recorder) Len() int { return len(r.sinks) }

// Send delivers e to every sink. The caller's cancellation does not abort delivery.
func (r *Recorder) Send(ctx context.Context, e Event) {
	base := context.WithoutCancel(ctx)
	for _, s := range r.sinks {
		sctx, cancel := context.WithTimeout(base, r.timeout)
		if err := s.Send(sctx, e); err != nil {
			r.logger.Warn("history sink delivery failed", "event", e.Type, "key", e.Key(), "error", err)
		}
		cancel()
	}
}

// RunHook is an audit.Hook that records every run attempt.
func (r *Recorder) RunHook(ctx context.Context, res audit.Result, err error) {
	r.Send(ctx, RunEvent(res, err, r.now()))
}

// RecordClear records a clear request.
func (r *Recorder) RecordClear(ctx context.Context, deleted int) {
	r.Send(ctx, ClearEvent(deleted, r.now()))
}

// Close closes every sink that implements io.Closer.
func (r *Recorder) Close() error {
	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
