package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/loykin/auditweb/internal/audit"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (m *memSink) Send(ctx context.Context, e Event) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("expected a delivery deadline")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func TestRunEvent(t *testing.T) {
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	res := audit.Result{
		ID:        "run-1",
		Script:    "/opt/scripts/debian_system_audit.sh",
		LogPath:   "/opt/reports/debian_system_audit_20240102_030405.log",
		ExitCode:  2,
		Output:    "hello",
		StartedAt: started,
		Duration:  1500 * time.Millisecond,
	}
	e := RunEvent(res, nil, started.Add(2*time.Second))
	if e.Type != EventRunFinished || e.Key() != "run-1" {
		t.Fatalf("unexpected event: %+v", e)
	}
	r := e.Record
	if r.OK || r.Outcome != audit.OutcomeNonZeroExit || r.ExitCode != 2 || r.DurationMS != 1500 || r.OutputSize != 5 {
		t.Fatalf("unexpected record: %+v", r)
	}

	e = RunEvent(audit.Result{ID: "run-2"}, fmt.Errorf("%w: /x", audit.ErrScriptNotFound), started)
	if e.Record.OK || e.Record.Outcome != audit.OutcomeNotFound || e.Record.Error == "" {
		t.Fatalf("unexpected record: %+v", e.Record)
	}
}

func TestClearEventKey(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 10, time.UTC)
	e := ClearEvent(4, at)
	if e.Record.Deleted != 4 || !e.Record.OK {
		t.Fatalf("unexpected record: %+v", e.Record)
	}
	if e.Key() != "reports_cleared-20240506T070809.000000010" {
		t.Fatalf("unexpected key %q", e.Key())
	}
}

func TestRecorderFanOutAndBestEffort(t *testing.T) {
	failing := &memSink{err: errors.New("down")}
	ok := &memSink{}
	rec := NewRecorder(nil, time.Second, failing, ok)
	if rec.Len() != 2 {
		t.Fatalf("Len = %d", rec.Len())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // delivery must survive a cancelled request context
	rec.RunHook(ctx, audit.Result{ID: "r"}, nil)
	rec.RecordClear(ctx, 3)

	if len(failing.events) != 2 || len(ok.events) != 2 {
		t.Fatalf("expected both sinks to receive 2 events, got %d and %d", len(failing.events), len(ok.events))
	}
	if ok.events[1].Type != EventReportsCleared || ok.events[1].Record.Deleted != 3 {
		t.Fatalf("unexpected clear event: %+v", ok.events[1])
	}

	if err := rec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !ok.closed || !failing.closed {
		t.Fatalf("sinks not closed")
	}
}
