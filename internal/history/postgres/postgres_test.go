package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/auditweb/internal/audit"
	"github.com/loykin/auditweb/internal/history"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("PostgreSQL container unavailable: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	since := time.Now().Add(-time.Minute)
	run := history.RunEvent(audit.Result{
		ID:        "run-pg",
		Script:    "/opt/scripts/debian_system_audit.sh",
		LogPath:   "/opt/reports/debian_system_audit_20240101_000000.log",
		StartedAt: time.Now().UTC(),
		Duration:  time.Second,
	}, nil, time.Now())
	if err := sink.Send(ctx, run); err != nil {
		t.Fatalf("Failed to send run event: %v", err)
	}
	if err := sink.Send(ctx, history.ClearEvent(2, time.Now())); err != nil {
		t.Fatalf("Failed to send clear event: %v", err)
	}

	n, err := sink.CountSince(ctx, history.EventRunFinished, since)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 run event, got %d", n)
	}

	// ensureSchema is idempotent
	if err := sink.ensureSchema(ctx); err != nil {
		t.Fatalf("ensureSchema second call: %v", err)
	}
}

func TestNew_EmptyDSN(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
